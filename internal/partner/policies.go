package partner

import (
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/stock"
	"github.com/shopspring/decimal"
)

// Price is a unit price for one stock record. When IsTaxKnown is false
// InclTax equals ExclTax and tax is settled later, at checkout.
type Price struct {
	Currency   string
	ExclTax    decimal.Decimal
	InclTax    decimal.Decimal
	Tax        decimal.Decimal
	IsTaxKnown bool
}

type PricingPolicy interface {
	Price(rec *models.StockRecord) Price
}

type NoTax struct{}

func (NoTax) Price(rec *models.StockRecord) Price {
	return Price{
		Currency:   rec.Currency,
		ExclTax:    rec.PriceExclTax,
		InclTax:    rec.PriceExclTax,
		Tax:        decimal.Zero,
		IsTaxKnown: true,
	}
}

// FixedRateTax charges Rate (0.20 for 20%) on top of the excl-tax price.
type FixedRateTax struct {
	Rate decimal.Decimal
}

func (p FixedRateTax) Price(rec *models.StockRecord) Price {
	tax := rec.PriceExclTax.Mul(p.Rate).Round(2)
	return Price{
		Currency:   rec.Currency,
		ExclTax:    rec.PriceExclTax,
		InclTax:    rec.PriceExclTax.Add(tax),
		Tax:        tax,
		IsTaxKnown: true,
	}
}

// DeferredTax leaves tax to be calculated once the shipping address is known.
type DeferredTax struct{}

func (DeferredTax) Price(rec *models.StockRecord) Price {
	return Price{
		Currency: rec.Currency,
		ExclTax:  rec.PriceExclTax,
		InclTax:  rec.PriceExclTax,
		Tax:      decimal.Zero,
	}
}

type Availability struct {
	IsAvailableToBuy bool
	NumAvailable     *int
	Message          string
}

type AvailabilityPolicy interface {
	Availability(rec *models.StockRecord) Availability
	IsPurchasePermitted(rec *models.StockRecord, qty int) (bool, string)
}

// StockRequired only sells what is physically available, unless the
// record does not track stock.
type StockRequired struct{}

func (StockRequired) Availability(rec *models.StockRecord) Availability {
	if !rec.TrackStock {
		return Availability{IsAvailableToBuy: true, Message: "Available"}
	}
	net := stock.NetStockLevel(rec)
	if net <= 0 {
		return Availability{NumAvailable: &net, Message: "Unavailable"}
	}
	return Availability{IsAvailableToBuy: true, NumAvailable: &net, Message: fmt.Sprintf("In stock (%d available)", net)}
}

func (StockRequired) IsPurchasePermitted(rec *models.StockRecord, qty int) (bool, string) {
	if !rec.TrackStock {
		return true, ""
	}
	net := stock.NetStockLevel(rec)
	if net <= 0 {
		return false, "no stock available"
	}
	if qty > net {
		return false, fmt.Sprintf("a maximum of %d can be bought", net)
	}
	return true, ""
}

type AlwaysAvailable struct{}

func (AlwaysAvailable) Availability(*models.StockRecord) Availability {
	return Availability{IsAvailableToBuy: true, Message: "Available"}
}

func (AlwaysAvailable) IsPurchasePermitted(*models.StockRecord, int) (bool, string) {
	return true, ""
}

type Unavailable struct{}

func (Unavailable) Availability(*models.StockRecord) Availability {
	return Availability{Message: "Unavailable"}
}

func (Unavailable) IsPurchasePermitted(*models.StockRecord, int) (bool, string) {
	return false, "unavailable"
}
