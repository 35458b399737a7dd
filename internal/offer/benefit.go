package offer

import (
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/shopspring/decimal"
)

// Stored benefit type names.
const (
	BenefitPercentage         = "Percentage"
	BenefitAbsolute           = "Absolute"
	BenefitMultibuy           = "Multibuy"
	BenefitFixedPrice         = "Fixed price"
	BenefitShippingPercentage = "Shipping percentage"
	BenefitShippingAbsolute   = "Shipping absolute"
	BenefitShippingFixedPrice = "Shipping fixed price"
)

// unlimitedAffectedItems stands in for an unset max_affected_items.
const unlimitedAffectedItems = 10000

var hundred = decimal.NewFromInt(100)

// Benefit computes and applies a discount once its condition holds. Apply
// mutates line discount and consumption state on the basket.
type Benefit interface {
	Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result
	Description() string

	benefit()
}

// NewBenefit maps a stored benefit type onto its implementation.
func NewBenefit(kind string, rng *Range, value decimal.Decimal, maxAffectedItems int) (Benefit, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("%s benefit value must not be negative", kind)
	}
	if maxAffectedItems < 0 {
		return nil, fmt.Errorf("%s benefit max affected items must not be negative", kind)
	}
	needsRange := func() error {
		if rng == nil {
			return fmt.Errorf("%s benefit requires a range", kind)
		}
		return nil
	}

	switch kind {
	case BenefitPercentage:
		if err := needsRange(); err != nil {
			return nil, err
		}
		if value.GreaterThan(hundred) {
			return nil, fmt.Errorf("percentage discount cannot be greater than 100")
		}
		return PercentageBenefit{Rng: rng, Value: value, MaxAffectedItems: maxAffectedItems}, nil
	case BenefitAbsolute:
		if err := needsRange(); err != nil {
			return nil, err
		}
		return AbsoluteBenefit{Rng: rng, Value: value, MaxAffectedItems: maxAffectedItems}, nil
	case BenefitMultibuy:
		if err := needsRange(); err != nil {
			return nil, err
		}
		return MultibuyBenefit{Rng: rng}, nil
	case BenefitFixedPrice:
		return FixedPriceBenefit{Value: value}, nil
	case BenefitShippingPercentage:
		if value.GreaterThan(hundred) {
			return nil, fmt.Errorf("percentage discount cannot be greater than 100")
		}
		return ShippingPercentageBenefit{Value: value}, nil
	case BenefitShippingAbsolute:
		return ShippingAbsoluteBenefit{Value: value}, nil
	case BenefitShippingFixedPrice:
		return ShippingFixedPriceBenefit{Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown benefit type %q", kind)
	}
}

func effectiveMax(n int) int {
	if n <= 0 {
		return unlimitedAffectedItems
	}
	return n
}

func roundDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

func units(n int) decimal.Decimal { return decimal.NewFromInt(int64(n)) }

// PercentageBenefit takes Value percent off up to MaxAffectedItems units.
type PercentageBenefit struct {
	Rng              *Range
	Value            decimal.Decimal
	MaxAffectedItems int
}

func (PercentageBenefit) benefit() {}

func (p PercentageBenefit) Description() string {
	return fmt.Sprintf("%s%% discount on %s", p.Value, p.Rng.name())
}

func (p PercentageBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	rate := decimal.Min(p.Value, hundred).Div(hundred)
	limit := effectiveMax(p.MaxAffectedItems)

	var affected []AffectedLine
	total := decimal.Zero
	n := 0
	for _, l := range mostExpensiveFirst(eligibleLines(b, p.Rng, ref)) {
		if n >= limit {
			break
		}
		qty := min(l.QuantityWithoutOfferDiscount(ref), limit-n)
		amount := roundDown(rate.Mul(l.UnitEffectivePrice()).Mul(units(qty)))
		l.Discount(amount, qty, ref)
		affected = append(affected, AffectedLine{Line: l, Discount: amount, Quantity: qty})
		n += qty
		total = total.Add(amount)
	}
	if total.IsPositive() {
		cond.ConsumeItems(b, ref, affected)
	}
	return basketResult(total, p.Description())
}

// AbsoluteBenefit takes up to Value off per application, spread across the
// affected lines in proportion to their price.
type AbsoluteBenefit struct {
	Rng              *Range
	Value            decimal.Decimal
	MaxAffectedItems int
}

func (AbsoluteBenefit) benefit() {}

func (a AbsoluteBenefit) Description() string {
	return fmt.Sprintf("%s discount on %s", a.Value.StringFixed(2), a.Rng.name())
}

func (a AbsoluteBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	limit := effectiveMax(a.MaxAffectedItems)

	var picked []AffectedLine
	worth := decimal.Zero
	n := 0
	for _, l := range mostExpensiveFirst(eligibleLines(b, a.Rng, ref)) {
		if n >= limit {
			break
		}
		qty := min(l.QuantityWithoutOfferDiscount(ref), limit-n)
		picked = append(picked, AffectedLine{Line: l, Quantity: qty})
		n += qty
		worth = worth.Add(l.UnitEffectivePrice().Mul(units(qty)))
	}

	discount := decimal.Min(a.Value, worth)
	if !discount.IsPositive() {
		return Result{}
	}
	spread(picked, worth, discount, ref)
	cond.ConsumeItems(b, ref, picked)
	return basketResult(discount, a.Description())
}

// spread shares discount across lines by value; the last line takes the
// rounding remainder.
func spread(lines []AffectedLine, worth, discount decimal.Decimal, ref *basket.OfferRef) {
	applied := decimal.Zero
	for i := range lines {
		a := &lines[i]
		if i == len(lines)-1 {
			a.Discount = discount.Sub(applied)
		} else {
			share := a.Line.UnitEffectivePrice().Mul(units(a.Quantity)).Div(worth)
			a.Discount = roundDown(share.Mul(discount))
		}
		a.Line.Discount(a.Discount, a.Quantity, ref)
		applied = applied.Add(a.Discount)
	}
}

// MultibuyBenefit makes the cheapest eligible unit free.
type MultibuyBenefit struct {
	Rng *Range
}

func (MultibuyBenefit) benefit() {}

func (m MultibuyBenefit) Description() string {
	return fmt.Sprintf("Cheapest product from %s is free", m.Rng.name())
}

func (m MultibuyBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	lines := cheapestFirst(eligibleLines(b, m.Rng, ref))
	if len(lines) == 0 {
		return Result{}
	}
	l := lines[0]
	price := l.UnitEffectivePrice()
	l.Discount(price, 1, ref)
	cond.ConsumeItems(b, ref, []AffectedLine{{Line: l, Discount: price, Quantity: 1}})
	return basketResult(price, m.Description())
}

// FixedPriceBenefit sells the units covering the condition for Value in
// total. It works off the condition's range and has no meaning for value
// conditions.
type FixedPriceBenefit struct {
	Value decimal.Decimal
}

func (FixedPriceBenefit) benefit() {}

func (f FixedPriceBenefit) Description() string {
	return fmt.Sprintf("The products that meet the condition are sold for %s", f.Value.StringFixed(2))
}

func (f FixedPriceBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	var (
		permitted int
		perProduct bool
	)
	switch c := cond.(type) {
	case CountCondition:
		permitted = c.Value
	case CoverageCondition:
		permitted, perProduct = c.Value, true
	case ValueCondition:
		return Result{}
	}

	var covered []AffectedLine
	worth := decimal.Zero
	seen := make(map[int64]struct{})
	n := 0
	for _, l := range mostExpensiveFirst(eligibleLines(b, cond.Range(), ref)) {
		if n >= permitted {
			break
		}
		qty := min(l.QuantityWithoutOfferDiscount(ref), permitted-n)
		if perProduct {
			if _, ok := seen[l.ProductID]; ok {
				continue
			}
			seen[l.ProductID] = struct{}{}
			qty = 1
		}
		covered = append(covered, AffectedLine{Line: l, Quantity: qty})
		n += qty
		worth = worth.Add(l.UnitEffectivePrice().Mul(units(qty)))
	}

	discount := decimal.Max(worth.Sub(f.Value), decimal.Zero)
	if !discount.IsPositive() {
		return Result{}
	}
	spread(covered, worth, discount, ref)
	return basketResult(discount, f.Description())
}

// Shipping benefits leave lines undiscounted; the basket carries the offer
// to the shipping charge calculation instead.
func applyShipping(b *basket.Basket, cond Condition, ref *basket.OfferRef, desc string) Result {
	cond.ConsumeItems(b, ref, nil)
	return Result{Discount: decimal.Zero, Affects: AffectsShipping, Description: desc}
}

type ShippingPercentageBenefit struct {
	Value decimal.Decimal
}

func (ShippingPercentageBenefit) benefit() {}

func (s ShippingPercentageBenefit) Description() string {
	return fmt.Sprintf("%s%% off of shipping cost", s.Value)
}

func (s ShippingPercentageBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	return applyShipping(b, cond, ref, s.Description())
}

func (s ShippingPercentageBenefit) ShippingDiscount(charge decimal.Decimal) decimal.Decimal {
	return charge.Mul(s.Value).Div(hundred).Round(2)
}

type ShippingAbsoluteBenefit struct {
	Value decimal.Decimal
}

func (ShippingAbsoluteBenefit) benefit() {}

func (s ShippingAbsoluteBenefit) Description() string {
	return fmt.Sprintf("%s off shipping", s.Value.StringFixed(2))
}

func (s ShippingAbsoluteBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	return applyShipping(b, cond, ref, s.Description())
}

func (s ShippingAbsoluteBenefit) ShippingDiscount(charge decimal.Decimal) decimal.Decimal {
	return decimal.Min(charge, s.Value)
}

// ShippingFixedPriceBenefit caps the shipping charge at Value.
type ShippingFixedPriceBenefit struct {
	Value decimal.Decimal
}

func (ShippingFixedPriceBenefit) benefit() {}

func (s ShippingFixedPriceBenefit) Description() string {
	return fmt.Sprintf("Get shipping for %s", s.Value.StringFixed(2))
}

func (s ShippingFixedPriceBenefit) Apply(b *basket.Basket, cond Condition, ref *basket.OfferRef) Result {
	return applyShipping(b, cond, ref, s.Description())
}

func (s ShippingFixedPriceBenefit) ShippingDiscount(charge decimal.Decimal) decimal.Decimal {
	if charge.LessThan(s.Value) {
		return decimal.Zero
	}
	return charge.Sub(s.Value)
}

var (
	_ basket.ShippingDiscounter = ShippingPercentageBenefit{}
	_ basket.ShippingDiscounter = ShippingAbsoluteBenefit{}
	_ basket.ShippingDiscounter = ShippingFixedPriceBenefit{}
)
