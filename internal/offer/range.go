package offer

import (
	"slices"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
)

// Range is a product membership predicate. Exclusions win over inclusions.
type Range struct {
	ID                  int64
	Name                string
	IncludesAllProducts bool
	IncludedProductIDs  []int64
	ExcludedProductIDs  []int64
}

func (r *Range) Contains(productID int64) bool {
	if r == nil {
		return false
	}
	if slices.Contains(r.ExcludedProductIDs, productID) {
		return false
	}
	return r.IncludesAllProducts || slices.Contains(r.IncludedProductIDs, productID)
}

func (r *Range) name() string {
	if r == nil || r.Name == "" {
		return "range"
	}
	return r.Name
}

// eligibleLines returns discountable, priced lines in rng that ref can still
// use, in basket order.
func eligibleLines(b *basket.Basket, rng *Range, ref *basket.OfferRef) []*basket.Line {
	var out []*basket.Line
	for _, l := range b.AllLines() {
		if !l.IsDiscountable || !rng.Contains(l.ProductID) {
			continue
		}
		if !l.UnitEffectivePrice().IsPositive() {
			continue
		}
		if l.QuantityWithoutOfferDiscount(ref) <= 0 {
			continue
		}
		out = append(out, l)
	}
	return out
}

// mostExpensiveFirst keeps basket order between equal prices.
func mostExpensiveFirst(lines []*basket.Line) []*basket.Line {
	slices.SortStableFunc(lines, func(a, b *basket.Line) int {
		return b.UnitEffectivePrice().Cmp(a.UnitEffectivePrice())
	})
	return lines
}

func cheapestFirst(lines []*basket.Line) []*basket.Line {
	slices.SortStableFunc(lines, func(a, b *basket.Line) int {
		return a.UnitEffectivePrice().Cmp(b.UnitEffectivePrice())
	})
	return lines
}
