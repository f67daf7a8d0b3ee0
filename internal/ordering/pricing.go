package ordering

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wglickman33/mykosherdelivery-sub002/internal/domain"
)

// DefaultTaxRate 8.875%
var DefaultTaxRate = decimal.RequireFromString("0.08875")

// Quote 计价结果
type Quote struct {
	RawSubtotal decimal.Decimal // Σ item.price，未舍入
	Subtotal    decimal.Decimal // round2(RawSubtotal)
	// Tax 由 Total - Subtotal 倒推，保证 Total = Subtotal + Tax；
	// 可能与 round2(Subtotal * rate) 差一分（RawSubtotal 10.005 时为 0.88 而非 0.89）
	Tax         decimal.Decimal
	Total       decimal.Decimal // round2(RawSubtotal * (1 + rate))
}

// PricingEngine 每次都从当前餐格快照重新计价，不信任调用方给出的金额
type PricingEngine struct {
	taxRate decimal.Decimal
}

// NewPricingEngine 创建计价器
func NewPricingEngine(taxRate decimal.Decimal) (*PricingEngine, error) {
	if taxRate.IsNegative() {
		return nil, fmt.Errorf("tax rate must not be negative: %s", taxRate)
	}
	return &PricingEngine{taxRate: taxRate}, nil
}

// TaxRate 当前税率
func (p *PricingEngine) TaxRate() decimal.Decimal { return p.taxRate }

// Price 只在最后一步四舍五入到分
func (p *PricingEngine) Price(meals []domain.Meal) Quote {
	raw := decimal.Zero
	for _, m := range meals {
		for _, it := range m.Items {
			raw = raw.Add(it.Price)
		}
	}
	// 价格非负，Round 的 half-away-from-zero 等价于 half-up
	subtotal := raw.Round(2)
	total := raw.Add(raw.Mul(p.taxRate)).Round(2)
	return Quote{
		RawSubtotal: raw,
		Subtotal:    subtotal,
		Tax:         total.Sub(subtotal),
		Total:       total,
	}
}

// Apply 将计价结果写回订单
func (q Quote) Apply(o *domain.ResidentOrder) {
	o.Subtotal = q.Subtotal
	o.Tax = q.Tax
	o.Total = q.Total
}
