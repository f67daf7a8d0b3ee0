package payment

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// stripeIntent PaymentIntent 响应（仅取用到的字段）
type stripeIntent struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	ClientSecret     string `json:"client_secret"`
	Amount           int64  `json:"amount"`
	AmountReceived   int64  `json:"amount_received"`
	Currency         string `json:"currency"`
	Created          int64  `json:"created"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeErrorBody struct {
	Error struct {
		Type          string        `json:"type"`
		Code          string        `json:"code"`
		DeclineCode   string        `json:"decline_code"`
		Message       string        `json:"message"`
		PaymentIntent *stripeIntent `json:"payment_intent"`
	} `json:"error"`
}

// StripeGateway Stripe PaymentIntents 客户端（confirm=true 一步完成授权+扣款）
type StripeGateway struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewStripeGateway 创建 Stripe 客户端；带 Idempotency-Key 的请求可以安全重试（5xx、429）
func NewStripeGateway(baseURL, secretKey string, timeout time.Duration, retryCount int, logger *zap.Logger) *StripeGateway {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetBasicAuth(secretKey, "").
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError ||
				r.StatusCode() == http.StatusTooManyRequests
		})

	return &StripeGateway{httpClient: client, logger: logger}
}

var _ Gateway = (*StripeGateway)(nil)

// Capture 创建并确认 PaymentIntent
func (g *StripeGateway) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	form := map[string]string{}
	form["amount"] = strconv.FormatInt(ToMinorUnits(req.Amount), 10)
	form["currency"] = strings.ToLower(req.Currency)
	form["payment_method"] = req.PaymentMethodID
	form["confirm"] = "true"
	form["automatic_payment_methods[enabled]"] = "true"
	form["automatic_payment_methods[allow_redirects]"] = "never"
	form["metadata[order_id]"] = req.OrderID
	form["metadata[tenant_id]"] = req.TenantID
	if req.ReceiptEmail != "" {
		form["receipt_email"] = req.ReceiptEmail
	}
	if req.Description != "" {
		form["description"] = req.Description
	}

	g.logger.Info("Calling Stripe API: create payment intent",
		zap.String("order_id", req.OrderID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("currency", req.Currency),
	)

	var intent stripeIntent
	var apiErr stripeErrorBody
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.IdempotencyKey).
		SetFormData(form).
		SetResult(&intent).
		SetError(&apiErr).
		Post("/v1/payment_intents")
	if err != nil {
		g.logger.Error("Stripe API call failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, fmt.Errorf("failed to call Stripe API: %w", err)
	}
	return g.intentResult(resp, &intent, &apiErr)
}

// Lookup 查询 PaymentIntent 当前状态
func (g *StripeGateway) Lookup(ctx context.Context, intentID string) (*CaptureResult, error) {
	var intent stripeIntent
	var apiErr stripeErrorBody
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", intentID).
		SetResult(&intent).
		SetError(&apiErr).
		Get("/v1/payment_intents/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to call Stripe API: %w", err)
	}
	return g.intentResult(resp, &intent, &apiErr)
}

// Cancel 取消未完成的 PaymentIntent
func (g *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	var apiErr stripeErrorBody
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", intentID).
		SetError(&apiErr).
		Post("/v1/payment_intents/{id}/cancel")
	if err != nil {
		return fmt.Errorf("failed to call Stripe API: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("Stripe API error: %s (status: %d)", apiErr.Error.Message, resp.StatusCode())
	}
	return nil
}

func (g *StripeGateway) intentResult(resp *resty.Response, intent *stripeIntent, apiErr *stripeErrorBody) (*CaptureResult, error) {
	if resp.IsError() {
		e := apiErr.Error
		g.logger.Warn("Stripe API returned error",
			zap.Int("status", resp.StatusCode()),
			zap.String("type", e.Type),
			zap.String("code", e.Code),
			zap.String("msg", e.Message),
		)
		// 只有 card_error 表示卡被拒、未扣款；idempotency_error、429、401 等不能说明扣款结果
		if isCardDecline(resp.StatusCode(), e.Type) {
			code := e.DeclineCode
			if code == "" {
				code = e.Code
			}
			d := &DeclineError{Code: code, Message: e.Message}
			if d.Message == "" {
				d.Message = fmt.Sprintf("payment rejected (status %d)", resp.StatusCode())
			}
			if e.PaymentIntent != nil {
				d.IntentID = e.PaymentIntent.ID
			}
			return nil, d
		}
		return nil, fmt.Errorf("Stripe API error: %s %s (status: %d)", e.Type, e.Message, resp.StatusCode())
	}
	return toCaptureResult(intent), nil
}

func isCardDecline(status int, errType string) bool {
	if errType != "" {
		return errType == "card_error"
	}
	return status == http.StatusPaymentRequired
}

func toCaptureResult(intent *stripeIntent) *CaptureResult {
	res := &CaptureResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       FromMinorUnits(intent.Amount),
		Currency:     intent.Currency,
	}
	switch intent.Status {
	case "succeeded":
		res.Status = StatusSucceeded
		if intent.AmountReceived > 0 {
			res.Amount = FromMinorUnits(intent.AmountReceived)
		}
		if intent.Created > 0 {
			res.CapturedAt = time.Unix(intent.Created, 0).UTC()
		}
	case "requires_action", "requires_confirmation":
		res.Status = StatusRequiresAction
	case "processing", "requires_capture":
		res.Status = StatusProcessing
	default: // requires_payment_method, canceled
		res.Status = StatusFailed
		if intent.LastPaymentError != nil {
			res.FailureMessage = intent.LastPaymentError.Message
		}
		if res.FailureMessage == "" {
			res.FailureMessage = "payment " + intent.Status
		}
	}
	return res
}
