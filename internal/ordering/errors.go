package ordering

import (
	"errors"
	"fmt"
	"time"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// ErrNotFound 订单/住户/菜品不存在
var ErrNotFound = domain.ErrNotFound

// ValidationError 输入不合法，需要用户修正（不自动重试）
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError 创建校验错误
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DeadlinePassedError 截止时间之后编辑/提交
type DeadlinePassedError struct {
	WeekStart time.Time
	Cutoff    time.Time
}

func (e *DeadlinePassedError) Error() string {
	return fmt.Sprintf("ordering deadline passed for week of %s (cutoff %s)",
		e.WeekStart.Format("2006-01-02"), e.Cutoff.Format(time.RFC3339))
}

// AuthorizationError 当前用户无权操作该住户/机构
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "permission denied: " + e.Reason
}

// PaymentError 网关拒绝或超时，订单保持可恢复、未扣款状态
type PaymentError struct {
	Message string
	Timeout bool
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Timeout {
		return "payment timed out: " + e.Message
	}
	return "payment failed: " + e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }

// ConflictError 并发提交时观察到订单已不是 draft
type ConflictError struct {
	OrderID string
	Status  domain.OrderStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s is %s", e.OrderID, e.Status)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsDeadlinePassed(err error) bool {
	var d *DeadlinePassedError
	return errors.As(err, &d)
}

func IsAuthorization(err error) bool {
	var a *AuthorizationError
	return errors.As(err, &a)
}

func IsPayment(err error) bool {
	var p *PaymentError
	return errors.As(err, &p)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
