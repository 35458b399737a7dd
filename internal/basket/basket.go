// Package basket holds the in-memory basket offers are evaluated against.
// Line discount and consumption state lives for one offer pass and is
// cleared by ResetOfferApplications.
package basket

import (
	"errors"
	"fmt"
	"slices"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/partner"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrPurchaseNotPermitted = errors.New("purchase not permitted")

// Pricer resolves prices and availability for stock records.
type Pricer interface {
	PurchaseInfo(rec *models.StockRecord) partner.PurchaseInfo
	IsPurchasePermitted(rec *models.StockRecord, qty int) (bool, string)
}

// ShippingDiscounter computes the discount a shipping offer grants on a
// shipping charge.
type ShippingDiscounter interface {
	ShippingDiscount(charge decimal.Decimal) decimal.Decimal
}

type Basket struct {
	ID       uuid.UUID
	OwnerID  *int64
	Currency string

	lines          []*Line
	nextLineID     int64
	shippingOffer  *OfferRef
	shippingPolicy ShippingDiscounter
}

func New(ownerID *int64, currency string) *Basket {
	return &Basket{ID: uuid.New(), OwnerID: ownerID, Currency: currency}
}

// AddLine appends a prebuilt line. A zero line ID is replaced with the next
// free one.
func (b *Basket) AddLine(l *Line) *Line {
	if l.ID == 0 {
		b.nextLineID++
		l.ID = b.nextLineID
	} else if l.ID > b.nextLineID {
		b.nextLineID = l.ID
	}
	if l.consumer == nil {
		l.reset()
	}
	b.lines = append(b.lines, l)
	return l
}

// AddProduct prices rec through p and adds qty units, merging with an
// existing line for the same stock record.
func (b *Basket) AddProduct(p Pricer, rec *models.StockRecord, qty int, discountable bool) (*Line, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %d", ErrPurchaseNotPermitted, qty)
	}
	existing := b.lineFor(rec.ID)
	total := qty
	if existing != nil {
		total += existing.Quantity
	}
	if ok, reason := p.IsPurchasePermitted(rec, total); !ok {
		return nil, fmt.Errorf("%w: %s", ErrPurchaseNotPermitted, reason)
	}
	if existing != nil {
		existing.Quantity = total
		return existing, nil
	}

	info := p.PurchaseInfo(rec)
	if b.Currency == "" {
		b.Currency = info.Price.Currency
	}
	if info.Price.Currency != b.Currency {
		return nil, fmt.Errorf("%w: currency %s differs from basket currency %s", ErrPurchaseNotPermitted, info.Price.Currency, b.Currency)
	}
	line := NewLine(0, rec.ProductID, rec.ID, qty, info.Price.ExclTax, info.Price.InclTax, discountable)
	return b.AddLine(line), nil
}

func (b *Basket) lineFor(stockRecordID int64) *Line {
	for _, l := range b.lines {
		if l.StockRecordID == stockRecordID {
			return l
		}
	}
	return nil
}

// AllLines returns the lines in insertion order.
func (b *Basket) AllLines() []*Line {
	return slices.Clone(b.lines)
}

func (b *Basket) IsEmpty() bool { return len(b.lines) == 0 }

func (b *Basket) NumItems() int {
	n := 0
	for _, l := range b.lines {
		n += l.Quantity
	}
	return n
}

// ResetOfferApplications clears every discount and consumption so offers can
// be applied from scratch.
func (b *Basket) ResetOfferApplications() {
	for _, l := range b.lines {
		l.reset()
	}
	b.shippingOffer = nil
	b.shippingPolicy = nil
}

func (b *Basket) TotalExclTax() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.LinePriceExclTax())
	}
	return total
}

// TotalInclTaxExclDiscounts is the basket total before any offer.
func (b *Basket) TotalInclTaxExclDiscounts() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.LinePriceInclTax())
	}
	return total
}

func (b *Basket) TotalInclTax() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.LinePriceInclTaxInclDiscounts())
	}
	return total
}

func (b *Basket) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.DiscountValue())
	}
	return total
}

// SetShippingOffer records the offer whose benefit applies to shipping.
// Only one shipping offer applies per basket; the last one set wins.
func (b *Basket) SetShippingOffer(ref OfferRef, policy ShippingDiscounter) {
	b.shippingOffer = &ref
	b.shippingPolicy = policy
}

func (b *Basket) ShippingOffer() (OfferRef, bool) {
	if b.shippingOffer == nil {
		return OfferRef{}, false
	}
	return *b.shippingOffer, true
}

// ShippingDiscount is what the shipping offer takes off charge, never more
// than the charge itself.
func (b *Basket) ShippingDiscount(charge decimal.Decimal) decimal.Decimal {
	if b.shippingPolicy == nil || !charge.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(b.shippingPolicy.ShippingDiscount(charge), charge)
}
