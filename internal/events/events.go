package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// EventType 订单事件类型
type EventType string

const (
	EventOrderPaid      EventType = "resident_order.paid"
	EventOrderCancelled EventType = "resident_order.cancelled"
	EventPaymentFailed  EventType = "resident_order.payment_failed"
)

// OrderEvent 订单状态变化事件（厨房/配送/账务订阅）
type OrderEvent struct {
	Type          EventType `json:"event"`
	OrderID       string    `json:"order_id"`
	TenantID      string    `json:"tenant_id"`
	ResidentID    string    `json:"resident_id"`
	WeekStartDate string    `json:"week_start_date"`
	Total         string    `json:"total"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// NewOrderEvent 从订单构建事件
func NewOrderEvent(t EventType, o *domain.ResidentOrder, reason string, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.OrderID,
		TenantID:      o.TenantID,
		ResidentID:    o.ResidentID,
		WeekStartDate: o.WeekStartDate.Format("2006-01-02"),
		Total:         o.Total.StringFixed(2),
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Reason:        reason,
		At:            at.UTC(),
	}
}

// Publisher 事件发布
type Publisher interface {
	Publish(ctx context.Context, evt OrderEvent) error
}

// MultiPublisher 依次发布到所有后端，汇总错误
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, evt OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher 未配置任何后端时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }

// LoggingPublisher 发布失败只记录日志，不影响调用方
type LoggingPublisher struct {
	Next   Publisher
	Logger *zap.Logger
}

func (l LoggingPublisher) Publish(ctx context.Context, evt OrderEvent) error {
	if err := l.Next.Publish(ctx, evt); err != nil {
		l.Logger.Warn("Failed to publish order event",
			zap.String("event", string(evt.Type)),
			zap.String("order_id", evt.OrderID),
			zap.String("tenant_id", evt.TenantID),
			zap.Error(err),
		)
	}
	return nil
}
