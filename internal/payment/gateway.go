package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// Status 网关侧扣款状态
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action" // 需要持卡人验证（3DS），客户端用 client_secret 完成
	StatusProcessing     Status = "processing"
	StatusFailed         Status = "failed"
)

// CaptureRequest 一次扣款尝试；IdempotencyKey 相同的请求网关只执行一次
type CaptureRequest struct {
	OrderID         string
	TenantID        string
	Amount          decimal.Decimal // 元，两位小数
	Currency        string
	PaymentMethodID string
	IdempotencyKey  string
	ReceiptEmail    string
	Description     string
}

// CaptureResult 网关返回
type CaptureResult struct {
	IntentID       string
	Status         Status
	ClientSecret   string
	Amount         decimal.Decimal
	Currency       string
	FailureMessage string
	CapturedAt     time.Time
}

// Receipt 成功扣款的收据
func (r *CaptureResult) Receipt() *domain.Receipt {
	at := r.CapturedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return &domain.Receipt{
		PaymentIntentID: r.IntentID,
		Amount:          r.Amount,
		Currency:        r.Currency,
		CapturedAt:      at,
	}
}

// Gateway 支付网关
//
// Capture 返回 *DeclineError 表示卡被拒（未扣款）；其他错误（超时、5xx、429、幂等键冲突、网络）结果不确定，
// 调用方不能认定未扣款。Lookup/Cancel 的错误一律视为结果不确定。
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
	Lookup(ctx context.Context, intentID string) (*CaptureResult, error)
	Cancel(ctx context.Context, intentID string) error
}

// DeclineError 网关明确拒绝
type DeclineError struct {
	Code     string
	Message  string
	IntentID string
}

func (e *DeclineError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// IsDecline 是否为明确拒绝
func IsDecline(err error) bool {
	var d *DeclineError
	return errors.As(err, &d)
}

// ToMinorUnits 元 -> 分
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// FromMinorUnits 分 -> 元
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
