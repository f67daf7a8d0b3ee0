package repository

import (
	"context"
	"time"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// MenuFilter 菜单查询过滤器
type MenuFilter struct {
	MealType   domain.MealType // 为空表示全部餐次
	ActiveOnly bool
}

// MenuRepository 菜单（权威价格来源）
type MenuRepository interface {
	ListMenuItems(ctx context.Context, tenantID string, filter MenuFilter) ([]*domain.MenuItem, error)
	// GetMenuItems 按 id 批量查询；不存在的 id 不返回（包括已停用的菜品）
	GetMenuItems(ctx context.Context, tenantID string, itemIDs []string) ([]*domain.MenuItem, error)
	UpsertMenuItem(ctx context.Context, tenantID string, item *domain.MenuItem) (string, error)
}

// ResidentsRepository 住户（下单只需读取）
type ResidentsRepository interface {
	GetResident(ctx context.Context, tenantID, residentID string) (*domain.Resident, error)
	// GetContactResidentID 家属账号（contact_id）对应的住户
	GetContactResidentID(ctx context.Context, tenantID, contactID string) (string, error)
}

// OrderFilters 订单查询过滤器
type OrderFilters struct {
	ResidentID    string
	WeekStartDate *time.Time
	Status        domain.OrderStatus

	// 权限过滤：仅查询分配给该护理人员的住户的订单
	AssignedStaffID string
}

// ResidentOrdersRepository 住户周订单
//
// 状态迁移全部使用条件更新（compare-and-swap）：返回 false 表示当前持久化状态已不满足条件，
// 调用方需重新读取订单决定下一步，不在进程内加锁。
type ResidentOrdersRepository interface {
	CreateOrder(ctx context.Context, order *domain.ResidentOrder) (string, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (*domain.ResidentOrder, error)
	ListOrders(ctx context.Context, tenantID string, filters OrderFilters, page, size int) ([]*domain.ResidentOrder, int, error)

	// SaveDraft 覆盖餐格/金额/账单信息，仅当 status='draft'
	SaveDraft(ctx context.Context, order *domain.ResidentOrder) (bool, error)

	// BeginSubmit draft -> submitted/pending，记录本次扣款尝试的幂等 token 和支付方式
	BeginSubmit(ctx context.Context, tenantID, orderID, captureToken, paymentMethodID string, at time.Time) (bool, error)
	// TakeoverSubmit 接管已中断的 submitted 尝试（submitted_at 仍为 prevSubmittedAt 时才成功）
	TakeoverSubmit(ctx context.Context, tenantID, orderID string, prevSubmittedAt, at time.Time) (bool, error)
	// SetPaymentReference 记录网关返回的 intent id（需进一步验证时）
	SetPaymentReference(ctx context.Context, tenantID, orderID, captureToken, reference string) error
	// MarkPaid submitted -> paid，仅当 capture_token 仍匹配
	MarkPaid(ctx context.Context, tenantID, orderID, captureToken string, receipt *domain.Receipt, at time.Time) (bool, error)
	// MarkPaymentFailed submitted -> draft/failed，清除本次尝试
	MarkPaymentFailed(ctx context.Context, tenantID, orderID, captureToken, reason string, at time.Time) (bool, error)
	// Cancel from -> cancelled
	Cancel(ctx context.Context, tenantID, orderID string, from domain.OrderStatus, at time.Time) (bool, error)
}
