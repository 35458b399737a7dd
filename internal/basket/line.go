package basket

import (
	"github.com/shopspring/decimal"
)

type Line struct {
	ID               int64
	ProductID        int64
	StockRecordID    int64
	Quantity         int
	UnitPriceExclTax decimal.Decimal
	UnitPriceInclTax decimal.Decimal
	IsDiscountable   bool

	discount   decimal.Decimal
	discounted int
	consumer   *consumer
}

func NewLine(id, productID, stockRecordID int64, qty int, exclTax, inclTax decimal.Decimal, discountable bool) *Line {
	l := &Line{
		ID:               id,
		ProductID:        productID,
		StockRecordID:    stockRecordID,
		Quantity:         qty,
		UnitPriceExclTax: exclTax,
		UnitPriceInclTax: inclTax,
		IsDiscountable:   discountable,
	}
	l.reset()
	return l
}

func (l *Line) reset() {
	l.discount = decimal.Zero
	l.discounted = 0
	l.consumer = newConsumer(func() int { return l.Quantity })
}

// UnitEffectivePrice is the price offers reason about.
func (l *Line) UnitEffectivePrice() decimal.Decimal {
	return l.UnitPriceInclTax
}

func (l *Line) LinePriceInclTax() decimal.Decimal {
	return l.UnitPriceInclTax.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l *Line) LinePriceExclTax() decimal.Decimal {
	return l.UnitPriceExclTax.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinePriceInclTaxInclDiscounts never goes below zero.
func (l *Line) LinePriceInclTaxInclDiscounts() decimal.Decimal {
	return decimal.Max(l.LinePriceInclTax().Sub(l.discount), decimal.Zero)
}

// Discount records a benefit discount on qty units and consumes them for ref.
func (l *Line) Discount(amount decimal.Decimal, qty int, ref *OfferRef) {
	l.discount = l.discount.Add(amount)
	l.discounted = min(l.discounted+qty, l.Quantity)
	l.consumer.consume(qty, ref)
}

// Consume marks units as used by an offer's condition without discounting
// them.
func (l *Line) Consume(qty int, ref *OfferRef) {
	l.consumer.consume(qty, ref)
}

func (l *Line) DiscountValue() decimal.Decimal { return l.discount }

func (l *Line) HasDiscount() bool { return l.discounted > 0 }

// QuantityWithDiscount is the number of units a benefit discounted.
func (l *Line) QuantityWithDiscount() int { return l.discounted }

func (l *Line) QuantityWithoutDiscount() int { return l.Quantity - l.discounted }

// QuantityWithOfferDiscount is what ref has consumed on this line.
func (l *Line) QuantityWithOfferDiscount(ref *OfferRef) int {
	return l.consumer.consumed(ref)
}

// QuantityWithoutOfferDiscount is what ref may still consume.
func (l *Line) QuantityWithoutOfferDiscount(ref *OfferRef) int {
	return l.consumer.available(ref)
}

func (l *Line) IsAvailableForOfferDiscount(ref *OfferRef) bool {
	return l.consumer.available(ref) > 0
}

// QuantityAffected counts units touched by any offer.
func (l *Line) QuantityAffected() int {
	return l.consumer.consumed(nil)
}

func (l *Line) Consumers() []OfferRef {
	return l.consumer.consumers()
}
