package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxItemsPerMeal 单个餐格最多菜品数
	MaxItemsPerMeal = 10
	// MaxMealsPerOrder 3 餐次 x 7 天
	MaxMealsPerOrder = 21
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal paid/cancelled 之后不可再变更
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// Day 星期（规范化为小写英文）
type Day string

const (
	Monday    Day = "monday"
	Tuesday   Day = "tuesday"
	Wednesday Day = "wednesday"
	Thursday  Day = "thursday"
	Friday    Day = "friday"
	Saturday  Day = "saturday"
	Sunday    Day = "sunday"
)

// Days 周一到周日（订单周从周一开始）
var Days = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// ParseDay 解析星期（大小写不敏感）
func ParseDay(s string) (Day, bool) {
	d := Day(toLower(s))
	for _, v := range Days {
		if v == d {
			return v, true
		}
	}
	return "", false
}

// Offset 相对 weekStart（周一）的天数
func (d Day) Offset() int {
	for i, v := range Days {
		if v == d {
			return i
		}
	}
	return -1
}

// ItemSnapshot 订单内菜品快照（名称/分类/价格在选择时固定）
type ItemSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Category MenuCategory    `json:"category"`
	Price    decimal.Decimal `json:"price"`

	RequiresVariant bool     `json:"requires_variant,omitempty"`
	VariantOptions  []string `json:"variant_options,omitempty"`
}

// Meal 一个 (day, mealType) 餐格
type Meal struct {
	Day       Day            `json:"day"`
	MealType  MealType       `json:"meal_type"`
	Items     []ItemSnapshot `json:"items"`
	BagelType string         `json:"bagel_type,omitempty"`
}

// MealKey 餐格唯一键
type MealKey struct {
	Day      Day
	MealType MealType
}

// Key 返回餐格键
func (m Meal) Key() MealKey { return MealKey{Day: m.Day, MealType: m.MealType} }

// Receipt 支付网关返回的扣款凭证
type Receipt struct {
	PaymentIntentID string          `json:"payment_intent_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CapturedAt      time.Time       `json:"captured_at"`
}

// ResidentOrder 住户周订单（聚合根，对应 resident_orders 表）
type ResidentOrder struct {
	OrderID    string `db:"order_id" json:"id"`                 // UUID, PRIMARY KEY
	TenantID   string `db:"tenant_id" json:"facility_id"`       // UUID, NOT NULL（facility）
	ResidentID string `db:"resident_id" json:"resident_id"`     // UUID, NOT NULL

	WeekStartDate time.Time `db:"week_start_date" json:"week_start_date"` // DATE, 必须为周一
	WeekEndDate   time.Time `db:"week_end_date" json:"week_end_date"`     // DATE, weekStart + 6

	Meals []Meal `db:"meals" json:"meals"` // JSONB

	Subtotal decimal.Decimal `db:"subtotal" json:"subtotal"` // NUMERIC(12,2)
	Tax      decimal.Decimal `db:"tax" json:"tax"`           // NUMERIC(12,2)
	Total    decimal.Decimal `db:"total" json:"total"`       // NUMERIC(12,2)

	Status        OrderStatus   `db:"status" json:"status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`

	BillingEmail    string `db:"billing_email" json:"billing_email"`
	BillingName     string `db:"billing_name" json:"billing_name"`
	DeliveryAddress string `db:"delivery_address" json:"delivery_address"`

	// 支付尝试：capture_token 作为网关幂等键，同一次尝试重试时复用
	CaptureToken     string     `db:"capture_token" json:"-"`
	PaymentMethodID  string     `db:"payment_method_id" json:"-"` // 接管中断尝试时沿用，保证同一幂等键对应同一扣款请求
	PaymentReference string     `db:"payment_reference" json:"payment_intent_id,omitempty"`
	PaymentError     string     `db:"payment_error" json:"payment_error,omitempty"`
	SubmittedAt      *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	Receipt          *Receipt   `db:"receipt" json:"receipt,omitempty"` // JSONB, nullable

	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ItemCount 订单内菜品总数
func (o *ResidentOrder) ItemCount() int {
	n := 0
	for _, m := range o.Meals {
		n += len(m.Items)
	}
	return n
}

func toLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
