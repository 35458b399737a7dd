package offer

import (
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/shopspring/decimal"
)

// Stored condition type names.
const (
	ConditionCount    = "Count"
	ConditionValue    = "Value"
	ConditionCoverage = "Coverage"
)

// AffectedLine is one line a benefit discounted during an application.
type AffectedLine struct {
	Line     *basket.Line
	Discount decimal.Decimal
	Quantity int
}

// Condition gates a benefit. Implementations only look at discountable lines
// in their range and only at quantity the offer has not consumed yet.
type Condition interface {
	Range() *Range
	IsSatisfied(b *basket.Basket, ref *basket.OfferRef) bool
	IsPartiallySatisfied(b *basket.Basket, ref *basket.OfferRef) bool
	// ConsumeItems marks whatever the condition needed beyond the units the
	// benefit already discounted.
	ConsumeItems(b *basket.Basket, ref *basket.OfferRef, affected []AffectedLine)
	UpsellMessage(b *basket.Basket, ref *basket.OfferRef) string

	condition()
}

// NewCondition maps a stored condition type onto its implementation.
func NewCondition(kind string, rng *Range, value decimal.Decimal) (Condition, error) {
	if rng == nil {
		return nil, fmt.Errorf("%s condition requires a range", kind)
	}
	if !value.IsPositive() {
		return nil, fmt.Errorf("%s condition value must be positive, got %s", kind, value)
	}
	switch kind {
	case ConditionCount:
		n, err := wholeNumber(value)
		if err != nil {
			return nil, err
		}
		return CountCondition{Rng: rng, Value: n}, nil
	case ConditionValue:
		return ValueCondition{Rng: rng, Value: value}, nil
	case ConditionCoverage:
		n, err := wholeNumber(value)
		if err != nil {
			return nil, err
		}
		return CoverageCondition{Rng: rng, Value: n}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", kind)
	}
}

func wholeNumber(v decimal.Decimal) (int, error) {
	if !v.Equal(v.Truncate(0)) {
		return 0, fmt.Errorf("condition value %s must be a whole number", v)
	}
	return int(v.IntPart()), nil
}

// CountCondition needs Value units from the range.
type CountCondition struct {
	Rng   *Range
	Value int
}

func (CountCondition) condition()      {}
func (c CountCondition) Range() *Range { return c.Rng }

func (c CountCondition) matches(b *basket.Basket, ref *basket.OfferRef) int {
	n := 0
	for _, l := range eligibleLines(b, c.Rng, ref) {
		n += l.QuantityWithoutOfferDiscount(ref)
	}
	return n
}

func (c CountCondition) IsSatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	return c.matches(b, ref) >= c.Value
}

func (c CountCondition) IsPartiallySatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	n := c.matches(b, ref)
	return n > 0 && n < c.Value
}

func (c CountCondition) UpsellMessage(b *basket.Basket, ref *basket.OfferRef) string {
	return fmt.Sprintf("Buy %d more product(s) from %s", c.Value-c.matches(b, ref), c.Rng.name())
}

func (c CountCondition) ConsumeItems(b *basket.Basket, ref *basket.OfferRef, affected []AffectedLine) {
	done := 0
	for _, a := range affected {
		done += a.Quantity
	}
	remaining := c.Value - done
	if remaining <= 0 {
		return
	}
	for _, l := range mostExpensiveFirst(eligibleLines(b, c.Rng, ref)) {
		qty := min(l.QuantityWithoutOfferDiscount(ref), remaining)
		l.Consume(qty, ref)
		remaining -= qty
		if remaining == 0 {
			return
		}
	}
}

// ValueCondition needs Value worth of goods from the range.
type ValueCondition struct {
	Rng   *Range
	Value decimal.Decimal
}

func (ValueCondition) condition()      {}
func (c ValueCondition) Range() *Range { return c.Rng }

func (c ValueCondition) matches(b *basket.Basket, ref *basket.OfferRef) decimal.Decimal {
	total := decimal.Zero
	for _, l := range eligibleLines(b, c.Rng, ref) {
		qty := decimal.NewFromInt(int64(l.QuantityWithoutOfferDiscount(ref)))
		total = total.Add(l.UnitEffectivePrice().Mul(qty))
	}
	return total
}

func (c ValueCondition) IsSatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	return c.matches(b, ref).GreaterThanOrEqual(c.Value)
}

func (c ValueCondition) IsPartiallySatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	v := c.matches(b, ref)
	return v.IsPositive() && v.LessThan(c.Value)
}

func (c ValueCondition) UpsellMessage(b *basket.Basket, ref *basket.OfferRef) string {
	return fmt.Sprintf("Spend %s more from %s", c.Value.Sub(c.matches(b, ref)).StringFixed(2), c.Rng.name())
}

// ConsumeItems takes whole units, most expensive first, until the value
// still owed is covered.
func (c ValueCondition) ConsumeItems(b *basket.Basket, ref *basket.OfferRef, affected []AffectedLine) {
	remaining := c.Value
	for _, a := range affected {
		remaining = remaining.Sub(a.Line.UnitEffectivePrice().Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	if !remaining.IsPositive() {
		return
	}
	for _, l := range mostExpensiveFirst(eligibleLines(b, c.Rng, ref)) {
		price := l.UnitEffectivePrice()
		needed := int(remaining.Div(price).Ceil().IntPart())
		qty := min(l.QuantityWithoutOfferDiscount(ref), needed)
		l.Consume(qty, ref)
		remaining = remaining.Sub(price.Mul(decimal.NewFromInt(int64(qty))))
		if !remaining.IsPositive() {
			return
		}
	}
}

// CoverageCondition needs Value distinct products from the range.
type CoverageCondition struct {
	Rng   *Range
	Value int
}

func (CoverageCondition) condition()      {}
func (c CoverageCondition) Range() *Range { return c.Rng }

func (c CoverageCondition) products(b *basket.Basket, ref *basket.OfferRef) int {
	seen := make(map[int64]struct{})
	for _, l := range eligibleLines(b, c.Rng, ref) {
		seen[l.ProductID] = struct{}{}
	}
	return len(seen)
}

func (c CoverageCondition) IsSatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	return c.products(b, ref) >= c.Value
}

func (c CoverageCondition) IsPartiallySatisfied(b *basket.Basket, ref *basket.OfferRef) bool {
	n := c.products(b, ref)
	return n > 0 && n < c.Value
}

func (c CoverageCondition) UpsellMessage(b *basket.Basket, ref *basket.OfferRef) string {
	return fmt.Sprintf("Buy %d more product(s) from %s", c.Value-c.products(b, ref), c.Rng.name())
}

// ConsumeItems takes one unit from each product not yet covered.
func (c CoverageCondition) ConsumeItems(b *basket.Basket, ref *basket.OfferRef, affected []AffectedLine) {
	covered := make(map[int64]struct{})
	for _, a := range affected {
		covered[a.Line.ProductID] = struct{}{}
	}
	for _, l := range eligibleLines(b, c.Rng, ref) {
		if len(covered) >= c.Value {
			return
		}
		if _, ok := covered[l.ProductID]; ok {
			continue
		}
		l.Consume(1, ref)
		covered[l.ProductID] = struct{}{}
	}
}
