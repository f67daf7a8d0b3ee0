package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 与 Stripe 测试卡同名的支付方式，用于本地联调
const (
	FakeMethodDeclined     = "pm_card_chargeDeclined"
	FakeMethodRequires3DS  = "pm_card_authenticationRequired"
	FakeMethodNeverReplies = "pm_card_timeout"
)

// FakeGateway 未配置 STRIPE_SECRET_KEY 时使用的内存网关
// 按幂等键记录结果：同一个键重复调用返回同一结果，不重复扣款
type FakeGateway struct {
	mu      sync.Mutex
	byKey   map[string]*CaptureResult
	intents map[string]*CaptureResult
	calls   int
	charges int

	// Hook 非 nil 时替代默认行为（测试用）
	Hook func(ctx context.Context, req CaptureRequest) (*CaptureResult, error)
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{byKey: map[string]*CaptureResult{}, intents: map[string]*CaptureResult{}}
}

var _ Gateway = (*FakeGateway)(nil)

func (g *FakeGateway) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	g.mu.Lock()
	g.calls++
	if prev, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		g.mu.Unlock()
		cp := *prev
		return &cp, nil
	}
	hook := g.Hook
	g.mu.Unlock()

	var res *CaptureResult
	var err error
	if hook != nil {
		res, err = hook(ctx, req)
	} else {
		res, err = g.defaultCapture(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if res.IntentID == "" {
		res.IntentID = "pi_fake_" + uuid.NewString()
	}
	if res.Status == StatusSucceeded {
		g.charges++
	}
	stored := *res
	g.byKey[req.IdempotencyKey] = &stored
	g.intents[res.IntentID] = &stored
	cp := stored
	return &cp, nil
}

func (g *FakeGateway) defaultCapture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	switch req.PaymentMethodID {
	case FakeMethodDeclined:
		return nil, &DeclineError{Code: "card_declined", Message: "Your card was declined."}
	case FakeMethodNeverReplies:
		<-ctx.Done()
		return nil, fmt.Errorf("fake gateway: %w", ctx.Err())
	case FakeMethodRequires3DS:
		id := "pi_fake_" + uuid.NewString()
		return &CaptureResult{IntentID: id, Status: StatusRequiresAction, ClientSecret: id + "_secret",
			Amount: req.Amount, Currency: req.Currency}, nil
	}
	return &CaptureResult{Status: StatusSucceeded, Amount: req.Amount, Currency: req.Currency, CapturedAt: time.Now().UTC()}, nil
}

func (g *FakeGateway) Lookup(_ context.Context, intentID string) (*CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", intentID)
	}
	cp := *res
	return &cp, nil
}

func (g *FakeGateway) Cancel(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	res, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("no such payment_intent: %s", intentID)
	}
	if res.Status == StatusSucceeded {
		return fmt.Errorf("payment_intent %s already succeeded", intentID)
	}
	res.Status = StatusFailed
	res.FailureMessage = "payment canceled"
	return nil
}

// CompleteAction 模拟持卡人完成验证
func (g *FakeGateway) CompleteAction(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if res, ok := g.intents[intentID]; ok && res.Status == StatusRequiresAction {
		res.Status = StatusSucceeded
		res.CapturedAt = time.Now().UTC()
		g.charges++
	}
}

// Calls Capture 调用次数
func (g *FakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Charges 实际成功扣款次数
func (g *FakeGateway) Charges() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}
