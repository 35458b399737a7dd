package offer

import "github.com/shopspring/decimal"

type Affects int

const (
	AffectsBasket Affects = iota
	AffectsShipping
)

func (a Affects) String() string {
	if a == AffectsShipping {
		return "shipping"
	}
	return "basket"
}

// Result is the outcome of one benefit application.
type Result struct {
	Discount    decimal.Decimal
	Affects     Affects
	Description string
}

func basketResult(discount decimal.Decimal, desc string) Result {
	return Result{Discount: discount, Affects: AffectsBasket, Description: desc}
}

// IsSuccessful is true for any shipping result; basket results need a
// positive discount.
func (r Result) IsSuccessful() bool {
	if r.Affects == AffectsShipping {
		return true
	}
	return r.Discount.IsPositive()
}

func (r Result) AffectsShipping() bool { return r.Affects == AffectsShipping }

// IsFinal stops further applications of the same offer. A shipping benefit
// applies once per basket.
func (r Result) IsFinal() bool { return r.Affects == AffectsShipping }
