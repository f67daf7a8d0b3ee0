package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MealType 餐次
type MealType string

const (
	MealTypeBreakfast MealType = "breakfast"
	MealTypeLunch     MealType = "lunch"
	MealTypeDinner    MealType = "dinner"
)

// MealTypes 按展示顺序排列
var MealTypes = []MealType{MealTypeBreakfast, MealTypeLunch, MealTypeDinner}

// ParseMealType 解析餐次（大小写不敏感）
func ParseMealType(s string) (MealType, bool) {
	switch MealType(toLower(s)) {
	case MealTypeBreakfast:
		return MealTypeBreakfast, true
	case MealTypeLunch:
		return MealTypeLunch, true
	case MealTypeDinner:
		return MealTypeDinner, true
	}
	return "", false
}

// MenuCategory 菜品分类
type MenuCategory string

const (
	CategoryMain    MenuCategory = "main"
	CategorySide    MenuCategory = "side"
	CategoryEntree  MenuCategory = "entree"
	CategorySoup    MenuCategory = "soup"
	CategoryDessert MenuCategory = "dessert"
)

// ValidCategory 分类是否合法
func ValidCategory(c MenuCategory) bool {
	switch c {
	case CategoryMain, CategorySide, CategoryEntree, CategorySoup, CategoryDessert:
		return true
	}
	return false
}

// MenuItem 菜单项领域模型（对应 menu_items 表）
// 价格为权威价格，订单只保存选择时的快照
type MenuItem struct {
	ItemID      string          `db:"item_id" json:"id"`                   // UUID, PRIMARY KEY
	TenantID    string          `db:"tenant_id" json:"tenant_id"`          // UUID, NOT NULL
	Name        string          `db:"name" json:"name"`                    // VARCHAR(200), NOT NULL
	Description string          `db:"description" json:"description"`      // TEXT, nullable
	Category    MenuCategory    `db:"category" json:"category"`            // main/side/entree/soup/dessert
	MealType    MealType        `db:"meal_type" json:"meal_type"`          // breakfast/lunch/dinner
	Price       decimal.Decimal `db:"price" json:"price"`                  // NUMERIC(10,4), NOT NULL
	IsActive    bool            `db:"is_active" json:"is_active"`          // BOOLEAN, NOT NULL, DEFAULT TRUE

	// 需要额外选择规格（如 bagel 口味），替代按名称猜测
	RequiresVariant bool     `db:"requires_variant" json:"requires_variant"`
	VariantOptions  []string `db:"variant_options" json:"variant_options,omitempty"` // TEXT[]

	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Snapshot 生成订单中保存的菜品快照
func (m *MenuItem) Snapshot() ItemSnapshot {
	return ItemSnapshot{
		ID:              m.ItemID,
		Name:            m.Name,
		Category:        m.Category,
		Price:           m.Price,
		RequiresVariant: m.RequiresVariant,
		VariantOptions:  append([]string(nil), m.VariantOptions...),
	}
}
