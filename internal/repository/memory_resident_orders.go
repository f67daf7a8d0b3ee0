package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// MemoryResidentOrdersRepo 内存订单仓库；条件更新在同一把锁内完成，语义与 Postgres 实现一致
type MemoryResidentOrdersRepo struct {
	mu     sync.RWMutex
	orders map[string]domain.ResidentOrder // orderID -> order

	// 按 AssignedStaffID 过滤时用于查询住户
	residents ResidentsRepository
}

func NewMemoryResidentOrdersRepo(residents ResidentsRepository) *MemoryResidentOrdersRepo {
	return &MemoryResidentOrdersRepo{orders: map[string]domain.ResidentOrder{}, residents: residents}
}

var _ ResidentOrdersRepository = (*MemoryResidentOrdersRepo)(nil)

func (r *MemoryResidentOrdersRepo) CreateOrder(_ context.Context, order *domain.ResidentOrder) (string, error) {
	if order == nil || order.TenantID == "" || order.ResidentID == "" {
		return "", fmt.Errorf("tenant_id and resident_id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := cloneOrder(*order)
	cp.OrderID = uuid.NewString()
	cp.Status = domain.OrderStatusDraft
	cp.PaymentStatus = domain.PaymentStatusPending
	cp.WeekStartDate = domain.DateOnly(cp.WeekStartDate)
	cp.WeekEndDate = domain.DateOnly(cp.WeekEndDate)
	for _, o := range r.orders {
		if o.TenantID == cp.TenantID && o.ResidentID == cp.ResidentID &&
			o.WeekStartDate.Equal(cp.WeekStartDate) && o.Status != domain.OrderStatusCancelled {
			return "", fmt.Errorf("resident order for week %s: %w", cp.WeekStartDate.Format("2006-01-02"), domain.ErrAlreadyExists)
		}
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	r.orders[cp.OrderID] = cp
	return cp.OrderID, nil
}

func (r *MemoryResidentOrdersRepo) GetOrder(_ context.Context, tenantID, orderID string) (*domain.ResidentOrder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, fmt.Errorf("resident order %s: %w", orderID, domain.ErrNotFound)
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (r *MemoryResidentOrdersRepo) ListOrders(ctx context.Context, tenantID string, filters OrderFilters, page, size int) ([]*domain.ResidentOrder, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	r.mu.RLock()
	matched := []domain.ResidentOrder{}
	for _, o := range r.orders {
		if o.TenantID != tenantID {
			continue
		}
		if filters.ResidentID != "" && o.ResidentID != filters.ResidentID {
			continue
		}
		if filters.WeekStartDate != nil && !o.WeekStartDate.Equal(domain.DateOnly(*filters.WeekStartDate)) {
			continue
		}
		if filters.Status != "" && o.Status != filters.Status {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	r.mu.RUnlock()

	if filters.AssignedStaffID != "" {
		kept := matched[:0]
		for _, o := range matched {
			if r.residents == nil {
				continue
			}
			res, err := r.residents.GetResident(ctx, tenantID, o.ResidentID)
			if err == nil && res.AssignedStaffID == filters.AssignedStaffID {
				kept = append(kept, o)
			}
		}
		matched = kept
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].WeekStartDate.Equal(matched[j].WeekStartDate) {
			return matched[i].WeekStartDate.After(matched[j].WeekStartDate)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	out := make([]*domain.ResidentOrder, 0, end-start)
	for i := start; i < end; i++ {
		o := matched[i]
		out = append(out, &o)
	}
	return out, total, nil
}

func (r *MemoryResidentOrdersRepo) SaveDraft(_ context.Context, order *domain.ResidentOrder) (bool, error) {
	return r.update(order.TenantID, order.OrderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusDraft {
			return false
		}
		src := cloneOrder(*order)
		o.Meals = src.Meals
		o.Subtotal, o.Tax, o.Total = src.Subtotal, src.Tax, src.Total
		o.BillingEmail, o.BillingName, o.DeliveryAddress = src.BillingEmail, src.BillingName, src.DeliveryAddress
		o.UpdatedAt = src.UpdatedAt
		return true
	})
}

func (r *MemoryResidentOrdersRepo) BeginSubmit(_ context.Context, tenantID, orderID, captureToken, paymentMethodID string, at time.Time) (bool, error) {
	return r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusDraft {
			return false
		}
		o.Status = domain.OrderStatusSubmitted
		o.PaymentStatus = domain.PaymentStatusPending
		o.CaptureToken = captureToken
		o.PaymentMethodID = paymentMethodID
		o.PaymentReference = ""
		o.PaymentError = ""
		t := at
		o.SubmittedAt = &t
		o.UpdatedAt = at
		return true
	})
}

func (r *MemoryResidentOrdersRepo) TakeoverSubmit(_ context.Context, tenantID, orderID string, prevSubmittedAt, at time.Time) (bool, error) {
	return r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusSubmitted || o.PaymentStatus != domain.PaymentStatusPending {
			return false
		}
		if o.SubmittedAt == nil || !o.SubmittedAt.Equal(prevSubmittedAt) {
			return false
		}
		t := at
		o.SubmittedAt = &t
		o.UpdatedAt = at
		return true
	})
}

func (r *MemoryResidentOrdersRepo) SetPaymentReference(_ context.Context, tenantID, orderID, captureToken, reference string) error {
	_, err := r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusSubmitted || o.CaptureToken != captureToken {
			return false
		}
		o.PaymentReference = reference
		return true
	})
	return err
}

func (r *MemoryResidentOrdersRepo) MarkPaid(_ context.Context, tenantID, orderID, captureToken string, receipt *domain.Receipt, at time.Time) (bool, error) {
	if receipt == nil {
		return false, fmt.Errorf("receipt is required")
	}
	return r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusSubmitted || o.CaptureToken != captureToken {
			return false
		}
		rc := *receipt
		o.Status = domain.OrderStatusPaid
		o.PaymentStatus = domain.PaymentStatusPaid
		o.PaymentReference = rc.PaymentIntentID
		o.PaymentError = ""
		o.Receipt = &rc
		o.UpdatedAt = at
		return true
	})
}

func (r *MemoryResidentOrdersRepo) MarkPaymentFailed(_ context.Context, tenantID, orderID, captureToken, reason string, at time.Time) (bool, error) {
	return r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != domain.OrderStatusSubmitted || o.CaptureToken != captureToken {
			return false
		}
		o.Status = domain.OrderStatusDraft
		o.PaymentStatus = domain.PaymentStatusFailed
		o.PaymentError = reason
		o.CaptureToken = ""
		o.PaymentReference = ""
		o.SubmittedAt = nil
		o.UpdatedAt = at
		return true
	})
}

func (r *MemoryResidentOrdersRepo) Cancel(_ context.Context, tenantID, orderID string, from domain.OrderStatus, at time.Time) (bool, error) {
	if from != domain.OrderStatusDraft && from != domain.OrderStatusSubmitted {
		return false, fmt.Errorf("cannot cancel from status %s", from)
	}
	return r.update(tenantID, orderID, func(o *domain.ResidentOrder) bool {
		if o.Status != from || o.PaymentStatus == domain.PaymentStatusPaid {
			return false
		}
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = at
		return true
	})
}

// update 在写锁内执行条件更新；订单不存在返回 (false, nil)，与 Postgres RowsAffected=0 一致
func (r *MemoryResidentOrdersRepo) update(tenantID, orderID string, apply func(o *domain.ResidentOrder) bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return false, nil
	}
	if !apply(&o) {
		return false, nil
	}
	r.orders[orderID] = o
	return true, nil
}

func cloneOrder(o domain.ResidentOrder) domain.ResidentOrder {
	cp := o
	if o.Meals != nil {
		cp.Meals = make([]domain.Meal, len(o.Meals))
		for i, m := range o.Meals {
			m.Items = append([]domain.ItemSnapshot(nil), m.Items...)
			cp.Meals[i] = m
		}
	}
	if o.SubmittedAt != nil {
		t := *o.SubmittedAt
		cp.SubmittedAt = &t
	}
	if o.Receipt != nil {
		rc := *o.Receipt
		cp.Receipt = &rc
	}
	return cp
}
