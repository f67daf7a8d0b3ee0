package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/events"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/menu"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/ordering"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/payment"
	"github.com/wglickman33/mykosherdelivery-sub002/internal/repository"
)

// ResidentOrderService 住户周订单服务（draft -> submitted -> paid / cancelled）
type ResidentOrderService interface {
	// 查询
	OrderingWindow(ctx context.Context, req OrderingWindowRequest) (*OrderingWindowResponse, error)
	GetOrder(ctx context.Context, req GetOrderRequest) (*ResidentOrderResponse, error)
	ListOrders(ctx context.Context, req ListOrdersRequest) (*ListOrdersResponse, error)

	// 草稿
	CreateDraft(ctx context.Context, req SaveDraftRequest) (*ResidentOrderResponse, error)
	UpdateDraft(ctx context.Context, req SaveDraftRequest) (*ResidentOrderResponse, error)

	// 提交支付（可重复调用，已支付订单不会重复扣款）
	SubmitAndPay(ctx context.Context, req SubmitAndPayRequest) (*SubmitAndPayResponse, error)

	// 取消
	Cancel(ctx context.Context, req CancelOrderRequest) (*ResidentOrderResponse, error)
}

// ResidentOrderServiceDeps 依赖
type ResidentOrderServiceDeps struct {
	Orders    repository.ResidentOrdersRepository
	Residents repository.ResidentsRepository
	Catalog   menu.Catalog
	Gateway   payment.Gateway
	Publisher events.Publisher

	Deadline *ordering.DeadlineCalculator
	Pricing  *ordering.PricingEngine

	Currency       string
	PaymentTimeout time.Duration // 单次扣款调用的超时
	StaleAfter     time.Duration // submitted 超过该时长且无结果，允许接管重试
	EventTimeout   time.Duration // 单个订单事件发布的上限

	Now    func() time.Time // nil 使用 time.Now
	Logger *zap.Logger
}

// residentOrderService 实现
type residentOrderService struct {
	orders    repository.ResidentOrdersRepository
	residents repository.ResidentsRepository
	catalog   menu.Catalog
	gateway   payment.Gateway
	publisher events.Publisher
	deadline  *ordering.DeadlineCalculator
	pricing   *ordering.PricingEngine
	auth      *authorizer

	currency       string
	paymentTimeout time.Duration
	staleAfter     time.Duration
	eventTimeout   time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

const defaultEventTimeout = 3 * time.Second

// NewResidentOrderService 创建 ResidentOrderService 实例
func NewResidentOrderService(deps ResidentOrderServiceDeps) ResidentOrderService {
	s := &residentOrderService{
		orders:         deps.Orders,
		residents:      deps.Residents,
		catalog:        deps.Catalog,
		gateway:        deps.Gateway,
		publisher:      deps.Publisher,
		deadline:       deps.Deadline,
		pricing:        deps.Pricing,
		currency:       deps.Currency,
		paymentTimeout: deps.PaymentTimeout,
		staleAfter:     deps.StaleAfter,
		eventTimeout:   deps.EventTimeout,
		now:            deps.Now,
		logger:         deps.Logger,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.currency == "" {
		s.currency = "usd"
	}
	if s.paymentTimeout <= 0 {
		s.paymentTimeout = 15 * time.Second
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 2 * time.Minute
	}
	if s.eventTimeout <= 0 {
		s.eventTimeout = defaultEventTimeout
	}
	s.auth = &authorizer{residents: deps.Residents, logger: s.logger}
	return s
}

// ============================================
// Request/Response DTOs
// ============================================

// MealInput 一个餐格的选择（只传菜品 id，名称/价格由服务端从菜单快照）
type MealInput struct {
	Day       string
	MealType  string
	ItemIDs   []string
	BagelType string
}

// SaveDraftRequest 创建/更新草稿
type SaveDraftRequest struct {
	Actor   Actor
	OrderID string // 仅更新

	ResidentID    string
	WeekStartDate time.Time // 创建时为空则使用下一个可下单周
	WeekEndDate   time.Time // 可选，必须等于 WeekStartDate + 6

	Meals []MealInput

	DeliveryAddress string
	BillingEmail    string
	BillingName     string
}

// ResidentOrderResponse 订单 + 截止时间
type ResidentOrderResponse struct {
	Order  *domain.ResidentOrder
	Cutoff time.Time
}

// GetOrderRequest 查询单个订单
type GetOrderRequest struct {
	Actor   Actor
	OrderID string
}

// ListOrdersRequest 查询订单列表
type ListOrdersRequest struct {
	Actor Actor

	ResidentID    string
	WeekStartDate *time.Time
	Status        string

	Page     int // 默认 1
	PageSize int // 默认 20
}

// ListOrdersResponse 订单列表
type ListOrdersResponse struct {
	Items []*domain.ResidentOrder
	Total int
}

// OrderingWindowRequest 查询当前可下单周
type OrderingWindowRequest struct {
	Actor Actor
}

// OrderingWindowResponse 可下单周
type OrderingWindowResponse struct {
	WeekStart time.Time
	WeekEnd   time.Time
	Cutoff    time.Time
	Timezone  string
}

// SubmitAndPayRequest 提交并支付
type SubmitAndPayRequest struct {
	Actor           Actor
	OrderID         string
	PaymentMethodID string
}

// SubmitAndPayResponse 提交结果
//
//	paid: Receipt 非空
//	需要持卡人验证: RequiresAction + ClientSecret
//	另一个请求正在扣款: InProgress
type SubmitAndPayResponse struct {
	Order           *domain.ResidentOrder
	Receipt         *domain.Receipt
	PaymentIntentID string
	ClientSecret    string
	RequiresAction  bool
	InProgress      bool
	AlreadyPaid     bool // 重复调用，返回原收据
}

// CancelOrderRequest 取消订单
type CancelOrderRequest struct {
	Actor   Actor
	OrderID string
	Reason  string
}

// ============================================
// 查询
// ============================================

func (s *residentOrderService) OrderingWindow(_ context.Context, _ OrderingWindowRequest) (*OrderingWindowResponse, error) {
	w := s.deadline.NextOrderingWindow(s.now())
	return &OrderingWindowResponse{
		WeekStart: w.WeekStart,
		WeekEnd:   w.WeekEnd,
		Cutoff:    w.Cutoff,
		Timezone:  s.deadline.Location().String(),
	}, nil
}

func (s *residentOrderService) GetOrder(ctx context.Context, req GetOrderRequest) (*ResidentOrderResponse, error) {
	order, err := s.loadForActor(ctx, req.Actor, req.OrderID, false)
	if err != nil {
		return nil, err
	}
	return s.orderResponse(order), nil
}

func (s *residentOrderService) ListOrders(ctx context.Context, req ListOrdersRequest) (*ListOrdersResponse, error) {
	filters := repository.OrderFilters{
		ResidentID:    req.ResidentID,
		WeekStartDate: req.WeekStartDate,
	}
	if req.Status != "" {
		st := domain.OrderStatus(strings.ToLower(req.Status))
		switch st {
		case domain.OrderStatusDraft, domain.OrderStatusSubmitted, domain.OrderStatusPaid, domain.OrderStatusCancelled:
			filters.Status = st
		default:
			return nil, ordering.NewValidationError("status", "invalid status %q", req.Status)
		}
	}

	filters, err := s.auth.scopeFilters(ctx, req.Actor, filters)
	if err != nil {
		return nil, err
	}

	page, size := req.Page, req.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	items, total, err := s.orders.ListOrders(ctx, req.Actor.TenantID, filters, page, size)
	if err != nil {
		s.logger.Error("Failed to list resident orders", zap.String("tenant_id", req.Actor.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list resident orders: %w", err)
	}
	return &ListOrdersResponse{Items: items, Total: total}, nil
}

// ============================================
// 草稿
// ============================================

func (s *residentOrderService) CreateDraft(ctx context.Context, req SaveDraftRequest) (*ResidentOrderResponse, error) {
	actor := req.Actor
	if actor.TenantID == "" || actor.UserID == "" {
		return nil, &ordering.AuthorizationError{Reason: "missing user identity"}
	}
	if req.ResidentID == "" {
		return nil, ordering.NewValidationError("resident_id", "is required")
	}

	res, err := s.residents.GetResident(ctx, actor.TenantID, req.ResidentID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.authorize(ctx, actor, res, true); err != nil {
		return nil, err
	}
	if !res.IsActive {
		return nil, ordering.NewValidationError("resident_id", "resident is not active")
	}

	now := s.now()
	var window ordering.OrderingWindow
	if req.WeekStartDate.IsZero() {
		window = s.deadline.NextOrderingWindow(now)
	} else {
		window, err = s.deadline.WindowFor(req.WeekStartDate)
		if err != nil {
			return nil, err
		}
	}
	if !req.WeekEndDate.IsZero() && !sameDate(req.WeekEndDate, window.WeekEnd) {
		return nil, ordering.NewValidationError("week_end_date", "must be week_start_date + 6 days")
	}
	if err := s.deadline.CheckEditable(window.WeekStart, now); err != nil {
		return nil, err
	}

	meals, err := s.composeMeals(ctx, actor.TenantID, req.Meals)
	if err != nil {
		return nil, err
	}

	order := &domain.ResidentOrder{
		TenantID:        actor.TenantID,
		ResidentID:      res.ResidentID,
		WeekStartDate:   domain.DateOnly(window.WeekStart),
		WeekEndDate:     domain.DateOnly(window.WeekEnd),
		Meals:           meals,
		Status:          domain.OrderStatusDraft,
		PaymentStatus:   domain.PaymentStatusPending,
		BillingEmail:    firstNonEmpty(req.BillingEmail, res.BillingEmail),
		BillingName:     firstNonEmpty(req.BillingName, res.BillingName, res.Name),
		DeliveryAddress: firstNonEmpty(req.DeliveryAddress, res.DeliveryAddress),
		CreatedBy:       actor.UserID,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	s.pricing.Price(meals).Apply(order)

	id, err := s.orders.CreateOrder(ctx, order)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, s.existingWeekConflict(ctx, order)
		}
		s.logger.Error("Failed to create resident order",
			zap.String("tenant_id", actor.TenantID),
			zap.String("resident_id", res.ResidentID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create resident order: %w", err)
	}

	created, err := s.orders.GetOrder(ctx, actor.TenantID, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Resident order draft created",
		zap.String("order_id", id),
		zap.String("tenant_id", actor.TenantID),
		zap.String("resident_id", res.ResidentID),
		zap.String("week_start_date", created.WeekStartDate.Format("2006-01-02")),
		zap.String("total", created.Total.StringFixed(2)),
	)
	return s.orderResponse(created), nil
}

func (s *residentOrderService) UpdateDraft(ctx context.Context, req SaveDraftRequest) (*ResidentOrderResponse, error) {
	order, err := s.loadForActor(ctx, req.Actor, req.OrderID, true)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusDraft {
		return nil, ordering.NewValidationError("status", "order is %s, only draft orders can be edited", order.Status)
	}
	if req.ResidentID != "" && req.ResidentID != order.ResidentID {
		return nil, ordering.NewValidationError("resident_id", "cannot be changed")
	}
	// 周一旦确定不可单独修改
	if !req.WeekStartDate.IsZero() && !sameDate(req.WeekStartDate, order.WeekStartDate) {
		return nil, ordering.NewValidationError("week_start_date", "cannot be changed")
	}
	if !req.WeekEndDate.IsZero() && !sameDate(req.WeekEndDate, order.WeekEndDate) {
		return nil, ordering.NewValidationError("week_end_date", "cannot be changed")
	}

	now := s.now()
	if err := s.deadline.CheckEditable(order.WeekStartDate, now); err != nil {
		return nil, err
	}

	meals, err := s.composeMeals(ctx, order.TenantID, req.Meals)
	if err != nil {
		return nil, err
	}
	order.Meals = meals
	s.pricing.Price(meals).Apply(order)
	if req.BillingEmail != "" {
		order.BillingEmail = req.BillingEmail
	}
	if req.BillingName != "" {
		order.BillingName = req.BillingName
	}
	if req.DeliveryAddress != "" {
		order.DeliveryAddress = req.DeliveryAddress
	}
	order.UpdatedAt = now.UTC()

	ok, err := s.orders.SaveDraft(ctx, order)
	if err != nil {
		s.logger.Error("Failed to save resident order draft",
			zap.String("order_id", order.OrderID),
			zap.String("tenant_id", order.TenantID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	if !ok {
		cur, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
		if err != nil {
			return nil, err
		}
		return nil, &ordering.ConflictError{OrderID: cur.OrderID, Status: cur.Status}
	}

	saved, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	return s.orderResponse(saved), nil
}

// composeMeals 按菜品 id 从菜单解析快照并组装餐格
func (s *residentOrderService) composeMeals(ctx context.Context, tenantID string, inputs []MealInput) ([]domain.Meal, error) {
	type cell struct {
		day      domain.Day
		mealType domain.MealType
		in       MealInput
	}

	cells := make([]cell, 0, len(inputs))
	seen := make(map[domain.MealKey]bool, len(inputs))
	var ids []string
	for _, in := range inputs {
		day, ok := domain.ParseDay(in.Day)
		if !ok {
			return nil, ordering.NewValidationError("day", "invalid day %q", in.Day)
		}
		mt, ok := domain.ParseMealType(in.MealType)
		if !ok {
			return nil, ordering.NewValidationError("meal_type", "invalid meal type %q", in.MealType)
		}
		key := domain.MealKey{Day: day, MealType: mt}
		if seen[key] {
			return nil, ordering.NewValidationError("meals", "duplicate meal for %s %s", day, mt)
		}
		seen[key] = true
		if len(in.ItemIDs) > domain.MaxItemsPerMeal {
			return nil, ordering.NewValidationError("items", "%s %s has %d items, max %d", day, mt, len(in.ItemIDs), domain.MaxItemsPerMeal)
		}
		cells = append(cells, cell{day: day, mealType: mt, in: in})
		ids = append(ids, in.ItemIDs...)
	}

	items := map[string]*domain.MenuItem{}
	if len(ids) > 0 {
		var err error
		items, err = s.catalog.GetMenuItems(ctx, tenantID, uniqueStrings(ids))
		if err != nil {
			return nil, fmt.Errorf("failed to load menu items: %w", err)
		}
	}

	draft := ordering.NewOrderDraft()
	for _, c := range cells {
		snaps := make([]domain.ItemSnapshot, 0, len(c.in.ItemIDs))
		for _, id := range c.in.ItemIDs {
			it, ok := items[id]
			if !ok || !it.IsActive {
				return nil, ordering.NewValidationError("items", "menu item %s is not available", id)
			}
			if it.MealType != c.mealType {
				return nil, ordering.NewValidationError("items", "%s is not a %s item", it.Name, c.mealType)
			}
			snaps = append(snaps, it.Snapshot())
		}
		if _, err := draft.SetMeal(c.day, c.mealType, snaps, c.in.BagelType); err != nil {
			return nil, err
		}
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft.Meals(), nil
}

// ============================================
// 提交支付
// ============================================

func (s *residentOrderService) SubmitAndPay(ctx context.Context, req SubmitAndPayRequest) (*SubmitAndPayResponse, error) {
	order, err := s.loadForActor(ctx, req.Actor, req.OrderID, true)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case domain.OrderStatusPaid:
		return paidResponse(order, true), nil
	case domain.OrderStatusCancelled:
		return nil, ordering.NewValidationError("status", "order is cancelled")
	case domain.OrderStatusSubmitted:
		return s.resumeSubmitted(ctx, order, req.PaymentMethodID)
	}
	return s.submitDraft(ctx, order, req.PaymentMethodID)
}

func (s *residentOrderService) submitDraft(ctx context.Context, order *domain.ResidentOrder, paymentMethodID string) (*SubmitAndPayResponse, error) {
	if strings.TrimSpace(paymentMethodID) == "" {
		return nil, ordering.NewValidationError("payment_method_id", "is required")
	}

	now := s.now()
	if err := s.deadline.CheckEditable(order.WeekStartDate, now); err != nil {
		return nil, err
	}
	draft, err := ordering.DraftFromMeals(order.Meals)
	if err != nil {
		return nil, err
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if err := s.recheckCatalog(ctx, order); err != nil {
		return nil, err
	}

	// 提交前重新计价，不使用草稿中保存的金额
	quote := s.pricing.Price(draft.Meals())
	if !quote.Subtotal.Equal(order.Subtotal) || !quote.Tax.Equal(order.Tax) || !quote.Total.Equal(order.Total) {
		order.Meals = draft.Meals()
		quote.Apply(order)
		order.UpdatedAt = now.UTC()
		ok, err := s.orders.SaveDraft(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("failed to reprice draft: %w", err)
		}
		if !ok {
			return s.afterLostRace(ctx, order.TenantID, order.OrderID)
		}
	}

	token := uuid.NewString()
	at := now.UTC().Truncate(time.Microsecond)
	ok, err := s.orders.BeginSubmit(ctx, order.TenantID, order.OrderID, token, strings.TrimSpace(paymentMethodID), at)
	if err != nil {
		s.logger.Error("Failed to submit resident order",
			zap.String("order_id", order.OrderID),
			zap.String("tenant_id", order.TenantID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to submit order: %w", err)
	}
	if !ok {
		return s.afterLostRace(ctx, order.TenantID, order.OrderID)
	}

	// submitted 之后订单不可再编辑，以持久化的金额扣款
	submitted, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	return s.capture(ctx, submitted, paymentMethodID)
}

// resumeSubmitted 已 submitted 的订单：查询网关结果，或在上次尝试超时后用同一个幂等键重试
func (s *residentOrderService) resumeSubmitted(ctx context.Context, order *domain.ResidentOrder, paymentMethodID string) (*SubmitAndPayResponse, error) {
	if order.PaymentReference != "" {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.paymentTimeout)
		defer cancel()
		res, err := s.gateway.Lookup(lctx, order.PaymentReference)
		if err != nil {
			s.logger.Warn("Payment lookup failed",
				zap.String("order_id", order.OrderID),
				zap.String("payment_intent_id", order.PaymentReference),
				zap.Error(err),
			)
			return nil, &ordering.PaymentError{Message: "payment status unavailable, retry later", Timeout: true, Err: err}
		}
		return s.applyResult(context.WithoutCancel(ctx), order, res)
	}

	now := s.now()
	if !s.isStale(order, now) {
		return &SubmitAndPayResponse{Order: order, InProgress: true}, nil
	}
	// 同一幂等键必须携带原始扣款参数，否则网关会拒绝或扣错卡
	method := firstNonEmpty(order.PaymentMethodID, paymentMethodID)
	if method == "" {
		return nil, ordering.NewValidationError("payment_method_id", "is required")
	}

	var prev time.Time
	if order.SubmittedAt != nil {
		prev = *order.SubmittedAt
	}
	at := now.UTC().Truncate(time.Microsecond)
	ok, err := s.orders.TakeoverSubmit(ctx, order.TenantID, order.OrderID, prev, at)
	if err != nil {
		return nil, fmt.Errorf("failed to resume payment: %w", err)
	}
	if !ok {
		return s.afterLostRace(ctx, order.TenantID, order.OrderID)
	}
	order.SubmittedAt = &at

	s.logger.Info("Retrying stale payment attempt",
		zap.String("order_id", order.OrderID),
		zap.String("tenant_id", order.TenantID),
		zap.Time("previous_submitted_at", prev),
	)
	return s.capture(ctx, order, method)
}

// capture 调用网关扣款；幂等键为本次尝试的 capture_token
func (s *residentOrderService) capture(ctx context.Context, order *domain.ResidentOrder, paymentMethodID string) (*SubmitAndPayResponse, error) {
	// 客户端断开不中断扣款和结果落库
	bg := context.WithoutCancel(ctx)
	cctx, cancel := context.WithTimeout(bg, s.paymentTimeout)
	defer cancel()

	res, err := s.gateway.Capture(cctx, payment.CaptureRequest{
		OrderID:         order.OrderID,
		TenantID:        order.TenantID,
		Amount:          order.Total,
		Currency:        s.currency,
		PaymentMethodID: paymentMethodID,
		IdempotencyKey:  order.CaptureToken,
		ReceiptEmail:    order.BillingEmail,
		Description:     fmt.Sprintf("Weekly meals %s", order.WeekStartDate.Format("2006-01-02")),
	})
	if err != nil {
		if payment.IsDecline(err) {
			return s.failPayment(bg, order, err.Error(), err)
		}
		// 结果不确定：保持 submitted/pending，由重试或对账解决
		s.logger.Error("Payment capture outcome unknown",
			zap.String("order_id", order.OrderID),
			zap.String("tenant_id", order.TenantID),
			zap.String("total", order.Total.StringFixed(2)),
			zap.Error(err),
		)
		return nil, &ordering.PaymentError{Message: "payment not confirmed, retry later", Timeout: true, Err: err}
	}
	return s.applyResult(bg, order, res)
}

func (s *residentOrderService) applyResult(ctx context.Context, order *domain.ResidentOrder, res *payment.CaptureResult) (*SubmitAndPayResponse, error) {
	switch res.Status {
	case payment.StatusSucceeded:
		receipt := res.Receipt()
		if receipt.Amount.IsZero() {
			receipt.Amount = order.Total
		}
		if receipt.Currency == "" {
			receipt.Currency = s.currency
		}
		ok, err := s.orders.MarkPaid(ctx, order.TenantID, order.OrderID, order.CaptureToken, receipt, s.now().UTC())
		if err != nil {
			// 已扣款但未落库：重试时同一幂等键会拿到同一结果
			s.logger.Error("Failed to record captured payment",
				zap.String("order_id", order.OrderID),
				zap.String("tenant_id", order.TenantID),
				zap.String("payment_intent_id", res.IntentID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to record payment: %w", err)
		}
		if !ok {
			return s.afterLostRace(ctx, order.TenantID, order.OrderID)
		}

		paid, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
		if err != nil {
			return nil, err
		}
		s.publish(ctx, events.EventOrderPaid, paid, "")
		s.logger.Info("Resident order paid",
			zap.String("order_id", paid.OrderID),
			zap.String("tenant_id", paid.TenantID),
			zap.String("payment_intent_id", res.IntentID),
			zap.String("total", paid.Total.StringFixed(2)),
		)
		return paidResponse(paid, false), nil

	case payment.StatusRequiresAction, payment.StatusProcessing:
		if err := s.orders.SetPaymentReference(ctx, order.TenantID, order.OrderID, order.CaptureToken, res.IntentID); err != nil {
			return nil, fmt.Errorf("failed to record payment reference: %w", err)
		}
		order.PaymentReference = res.IntentID
		return &SubmitAndPayResponse{
			Order:           order,
			PaymentIntentID: res.IntentID,
			ClientSecret:    res.ClientSecret,
			RequiresAction:  res.Status == payment.StatusRequiresAction,
			InProgress:      res.Status == payment.StatusProcessing,
		}, nil
	}

	reason := res.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	return s.failPayment(ctx, order, reason, nil)
}

// failPayment 网关明确拒绝：回到 draft/failed，餐格保留，可直接重新支付
func (s *residentOrderService) failPayment(ctx context.Context, order *domain.ResidentOrder, reason string, cause error) (*SubmitAndPayResponse, error) {
	ok, err := s.orders.MarkPaymentFailed(ctx, order.TenantID, order.OrderID, order.CaptureToken, reason, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}
	if !ok {
		return s.afterLostRace(ctx, order.TenantID, order.OrderID)
	}

	failed, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.EventPaymentFailed, failed, reason)
	s.logger.Warn("Payment declined",
		zap.String("order_id", order.OrderID),
		zap.String("tenant_id", order.TenantID),
		zap.String("reason", reason),
	)
	return nil, &ordering.PaymentError{Message: reason, Err: cause}
}

// afterLostRace 条件更新失败：另一个请求已推进订单状态，按当前状态返回
func (s *residentOrderService) afterLostRace(ctx context.Context, tenantID, orderID string) (*SubmitAndPayResponse, error) {
	cur, err := s.orders.GetOrder(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Concurrent submit observed",
		zap.String("order_id", orderID),
		zap.String("tenant_id", tenantID),
		zap.String("status", string(cur.Status)),
	)

	switch cur.Status {
	case domain.OrderStatusPaid:
		return paidResponse(cur, true), nil
	case domain.OrderStatusSubmitted:
		return &SubmitAndPayResponse{Order: cur, PaymentIntentID: cur.PaymentReference, InProgress: true}, nil
	case domain.OrderStatusCancelled:
		return nil, ordering.NewValidationError("status", "order is cancelled")
	}
	if cur.PaymentStatus == domain.PaymentStatusFailed {
		return nil, &ordering.PaymentError{Message: cur.PaymentError}
	}
	return nil, &ordering.ConflictError{OrderID: cur.OrderID, Status: cur.Status}
}

// recheckCatalog 提交时所有菜品必须仍存在且启用（价格仍用快照）
func (s *residentOrderService) recheckCatalog(ctx context.Context, order *domain.ResidentOrder) error {
	var ids []string
	for _, m := range order.Meals {
		for _, it := range m.Items {
			ids = append(ids, it.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	items, err := s.catalog.GetMenuItems(ctx, order.TenantID, uniqueStrings(ids))
	if err != nil {
		return fmt.Errorf("failed to load menu items: %w", err)
	}
	for _, m := range order.Meals {
		for _, it := range m.Items {
			if cur, ok := items[it.ID]; !ok || !cur.IsActive {
				return ordering.NewValidationError("items", "%s is no longer available (%s %s)", it.Name, m.Day, m.MealType)
			}
		}
	}
	return nil
}

// ============================================
// 取消
// ============================================

func (s *residentOrderService) Cancel(ctx context.Context, req CancelOrderRequest) (*ResidentOrderResponse, error) {
	order, err := s.loadForActor(ctx, req.Actor, req.OrderID, true)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		return s.orderResponse(order), nil
	case domain.OrderStatusPaid:
		return nil, ordering.NewValidationError("status", "paid orders cannot be cancelled")
	case domain.OrderStatusSubmitted:
		if order.PaymentReference == "" {
			// 扣款结果未知，不能取消
			return nil, &ordering.ConflictError{OrderID: order.OrderID, Status: order.Status}
		}
		if err := s.cancelIntent(ctx, order); err != nil {
			return nil, err
		}
	}

	ok, err := s.orders.Cancel(ctx, order.TenantID, order.OrderID, order.Status, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	cur, err := s.orders.GetOrder(ctx, order.TenantID, order.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		if cur.Status == domain.OrderStatusCancelled {
			return s.orderResponse(cur), nil
		}
		return nil, &ordering.ConflictError{OrderID: cur.OrderID, Status: cur.Status}
	}

	s.publish(ctx, events.EventOrderCancelled, cur, req.Reason)
	s.logger.Info("Resident order cancelled",
		zap.String("order_id", cur.OrderID),
		zap.String("tenant_id", cur.TenantID),
		zap.String("cancelled_by", req.Actor.UserID),
		zap.String("from_status", string(order.Status)),
	)
	return s.orderResponse(cur), nil
}

// cancelIntent 取消等待验证的网关 intent；已扣款则补记 paid 并拒绝取消
// 网关取消失败时订单保持 submitted，不能在扣款结果未知时标记 cancelled
func (s *residentOrderService) cancelIntent(ctx context.Context, order *domain.ResidentOrder) error {
	bg := context.WithoutCancel(ctx)
	lctx, cancel := context.WithTimeout(bg, s.paymentTimeout)
	defer cancel()

	res, err := s.gateway.Lookup(lctx, order.PaymentReference)
	if err != nil {
		return &ordering.PaymentError{Message: "payment status unavailable, retry later", Timeout: true, Err: err}
	}
	if res.Status == payment.StatusSucceeded {
		return s.rejectCancelPaid(bg, order, res)
	}

	cancelErr := s.gateway.Cancel(lctx, order.PaymentReference)
	if cancelErr == nil {
		return nil
	}
	s.logger.Warn("Failed to cancel payment intent",
		zap.String("order_id", order.OrderID),
		zap.String("payment_intent_id", order.PaymentReference),
		zap.Error(cancelErr),
	)

	// 持卡人可能在 Lookup 与 Cancel 之间完成了验证
	res, err = s.gateway.Lookup(lctx, order.PaymentReference)
	if err == nil && res.Status == payment.StatusSucceeded {
		return s.rejectCancelPaid(bg, order, res)
	}
	return &ordering.PaymentError{Message: "payment intent could not be cancelled, retry later", Timeout: true, Err: cancelErr}
}

func (s *residentOrderService) rejectCancelPaid(ctx context.Context, order *domain.ResidentOrder, res *payment.CaptureResult) error {
	if _, err := s.applyResult(ctx, order, res); err != nil {
		return err
	}
	return ordering.NewValidationError("status", "order has already been paid")
}

// ============================================
// helpers
// ============================================

// loadForActor 读取订单并校验 actor 对订单所属住户的权限
func (s *residentOrderService) loadForActor(ctx context.Context, actor Actor, orderID string, write bool) (*domain.ResidentOrder, error) {
	if actor.TenantID == "" || actor.UserID == "" {
		return nil, &ordering.AuthorizationError{Reason: "missing user identity"}
	}
	if orderID == "" {
		return nil, ordering.NewValidationError("id", "is required")
	}
	order, err := s.orders.GetOrder(ctx, actor.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	res, err := s.residents.GetResident(ctx, order.TenantID, order.ResidentID)
	if err != nil {
		return nil, err
	}
	if err := s.auth.authorize(ctx, actor, res, write); err != nil {
		return nil, err
	}
	return order, nil
}

// existingWeekConflict 同一住户同一周已有未取消订单
func (s *residentOrderService) existingWeekConflict(ctx context.Context, order *domain.ResidentOrder) error {
	week := order.WeekStartDate
	existing, _, err := s.orders.ListOrders(ctx, order.TenantID, repository.OrderFilters{
		ResidentID:    order.ResidentID,
		WeekStartDate: &week,
	}, 1, 10)
	if err == nil {
		for _, o := range existing {
			if o.Status != domain.OrderStatusCancelled {
				return &ordering.ConflictError{OrderID: o.OrderID, Status: o.Status}
			}
		}
	}
	return &ordering.ConflictError{Status: domain.OrderStatusDraft}
}

func (s *residentOrderService) isStale(order *domain.ResidentOrder, now time.Time) bool {
	return order.SubmittedAt == nil || now.Sub(*order.SubmittedAt) >= s.staleAfter
}

// publish 事件发布不影响订单结果；broker 断线时最多阻塞 eventTimeout
func (s *residentOrderService) publish(ctx context.Context, t events.EventType, order *domain.ResidentOrder, reason string) {
	evt := events.NewOrderEvent(t, order, reason, s.now())
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.eventTimeout)
	defer cancel()
	if err := s.publisher.Publish(pctx, evt); err != nil {
		s.logger.Warn("Failed to publish order event",
			zap.String("event", string(t)),
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
	}
}

func (s *residentOrderService) orderResponse(order *domain.ResidentOrder) *ResidentOrderResponse {
	return &ResidentOrderResponse{Order: order, Cutoff: s.deadline.CutoffFor(order.WeekStartDate)}
}

func paidResponse(order *domain.ResidentOrder, already bool) *SubmitAndPayResponse {
	return &SubmitAndPayResponse{
		Order:           order,
		Receipt:         order.Receipt,
		PaymentIntentID: order.PaymentReference,
		AlreadyPaid:     already,
	}
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
