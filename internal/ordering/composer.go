package ordering

import (
	"sort"
	"strings"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// OrderDraft 正在编辑的订单餐格集合（每个订单一个独立实例，不共享状态）
type OrderDraft struct {
	meals map[domain.MealKey]domain.Meal
}

// NewOrderDraft 创建空草稿
func NewOrderDraft() *OrderDraft {
	return &OrderDraft{meals: make(map[domain.MealKey]domain.Meal)}
}

// DraftFromMeals 用已有餐格构建草稿，逐个走 SetMeal 校验；重复餐格视为错误
func DraftFromMeals(meals []domain.Meal) (*OrderDraft, error) {
	d := NewOrderDraft()
	for _, m := range meals {
		if _, exists := d.meals[m.Key()]; exists {
			return nil, NewValidationError("meals", "duplicate meal for %s %s", m.Day, m.MealType)
		}
		if _, err := d.SetMeal(m.Day, m.MealType, m.Items, m.BagelType); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetMeal 整体替换 (day, mealType) 餐格（不合并）
func (d *OrderDraft) SetMeal(day domain.Day, mealType domain.MealType, items []domain.ItemSnapshot, bagelType string) (map[domain.MealKey]domain.Meal, error) {
	dd, ok := domain.ParseDay(string(day))
	if !ok {
		return nil, NewValidationError("day", "invalid day %q", day)
	}
	mt, ok := domain.ParseMealType(string(mealType))
	if !ok {
		return nil, NewValidationError("meal_type", "invalid meal type %q", mealType)
	}
	if len(items) == 0 {
		return nil, NewValidationError("items", "%s %s must have at least one item", dd, mt)
	}
	if len(items) > domain.MaxItemsPerMeal {
		return nil, NewValidationError("items", "%s %s has %d items, max %d", dd, mt, len(items), domain.MaxItemsPerMeal)
	}

	key := domain.MealKey{Day: dd, MealType: mt}
	d.meals[key] = domain.Meal{
		Day:       dd,
		MealType:  mt,
		Items:     append([]domain.ItemSnapshot(nil), items...),
		BagelType: strings.TrimSpace(bagelType),
	}
	return d.snapshot(), nil
}

// ClearMeal 删除餐格
func (d *OrderDraft) ClearMeal(day domain.Day, mealType domain.MealType) map[domain.MealKey]domain.Meal {
	delete(d.meals, domain.MealKey{Day: day, MealType: mealType})
	return d.snapshot()
}

// Len 非空餐格数量
func (d *OrderDraft) Len() int { return len(d.meals) }

// Meals 按 周一..周日、早/午/晚 排序
func (d *OrderDraft) Meals() []domain.Meal {
	out := make([]domain.Meal, 0, len(d.meals))
	for _, m := range d.meals {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day.Offset() < out[j].Day.Offset()
		}
		return mealTypeRank(out[i].MealType) < mealTypeRank(out[j].MealType)
	})
	return out
}

// Validate 持久化前的完整校验：至少一个餐格、数量上限、bagel 规格
func (d *OrderDraft) Validate() error {
	if len(d.meals) == 0 {
		return NewValidationError("", "at least one meal required")
	}
	if len(d.meals) > domain.MaxMealsPerOrder {
		return NewValidationError("meals", "at most %d meals per order", domain.MaxMealsPerOrder)
	}
	for _, m := range d.Meals() {
		if len(m.Items) == 0 || len(m.Items) > domain.MaxItemsPerMeal {
			return NewValidationError("items", "%s %s must have 1-%d items", m.Day, m.MealType, domain.MaxItemsPerMeal)
		}
		if err := validateBagelType(m); err != nil {
			return err
		}
	}
	return nil
}

// RequiresBagelType 餐格内是否有需要选择规格的菜品
// 优先使用菜品的 requires_variant；未标记时沿用按名称判断（含 bagel 且不含 type）
func RequiresBagelType(items []domain.ItemSnapshot) bool {
	for _, it := range items {
		if it.RequiresVariant {
			return true
		}
		name := strings.ToLower(it.Name)
		if strings.Contains(name, "bagel") && !strings.Contains(name, "type") {
			return true
		}
	}
	return false
}

func validateBagelType(m domain.Meal) error {
	if !RequiresBagelType(m.Items) {
		return nil
	}
	if m.BagelType == "" {
		return NewValidationError("bagel_type", "%s %s requires a bagel type", m.Day, m.MealType)
	}
	for _, it := range m.Items {
		if !it.RequiresVariant || len(it.VariantOptions) == 0 {
			continue
		}
		found := false
		for _, opt := range it.VariantOptions {
			if strings.EqualFold(opt, m.BagelType) {
				found = true
				break
			}
		}
		if !found {
			return NewValidationError("bagel_type", "%q is not an option for %s", m.BagelType, it.Name)
		}
	}
	return nil
}

func (d *OrderDraft) snapshot() map[domain.MealKey]domain.Meal {
	out := make(map[domain.MealKey]domain.Meal, len(d.meals))
	for k, v := range d.meals {
		out[k] = v
	}
	return out
}

func mealTypeRank(t domain.MealType) int {
	for i, v := range domain.MealTypes {
		if v == t {
			return i
		}
	}
	return len(domain.MealTypes)
}
