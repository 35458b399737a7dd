// Package partner resolves per-partner pricing and availability policies.
// The registry is built once from configuration and never mutated; a config
// reload builds a new one.
package partner

import (
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/config"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/shopspring/decimal"
)

type Strategy struct {
	Pricing      PricingPolicy
	Availability AvailabilityPolicy
}

// PurchaseInfo is what a basket needs to know before adding a stock record.
type PurchaseInfo struct {
	Price        Price
	Availability Availability
	StockRecord  *models.StockRecord
}

type Registry struct {
	strategies map[int64]Strategy
	fallback   Strategy
}

// DefaultStrategy applies to partners missing from the configuration.
func DefaultStrategy() Strategy {
	return Strategy{Pricing: NoTax{}, Availability: StockRequired{}}
}

func NewRegistry(partners []config.PartnerConfig) (*Registry, error) {
	r := &Registry{
		strategies: make(map[int64]Strategy, len(partners)),
		fallback:   DefaultStrategy(),
	}
	for _, p := range partners {
		if _, dup := r.strategies[p.ID]; dup {
			return nil, fmt.Errorf("duplicate partner id %d", p.ID)
		}
		s, err := strategyFor(p)
		if err != nil {
			return nil, fmt.Errorf("partner %d (%s): %w", p.ID, p.Name, err)
		}
		r.strategies[p.ID] = s
	}
	return r, nil
}

// Rebuild returns a fresh registry; the receiver stays valid for callers
// still holding it.
func (r *Registry) Rebuild(partners []config.PartnerConfig) (*Registry, error) {
	return NewRegistry(partners)
}

func (r *Registry) Strategy(partnerID int64) Strategy {
	if s, ok := r.strategies[partnerID]; ok {
		return s
	}
	return r.fallback
}

func (r *Registry) PurchaseInfo(rec *models.StockRecord) PurchaseInfo {
	s := r.Strategy(rec.PartnerID)
	return PurchaseInfo{
		Price:        s.Pricing.Price(rec),
		Availability: s.Availability.Availability(rec),
		StockRecord:  rec,
	}
}

func (r *Registry) IsPurchasePermitted(rec *models.StockRecord, qty int) (bool, string) {
	return r.Strategy(rec.PartnerID).Availability.IsPurchasePermitted(rec, qty)
}

func strategyFor(p config.PartnerConfig) (Strategy, error) {
	var s Strategy
	switch p.Pricing {
	case "", "no_tax":
		s.Pricing = NoTax{}
	case "fixed_rate":
		rate, err := decimal.NewFromString(p.TaxRate)
		if err != nil {
			return Strategy{}, fmt.Errorf("tax_rate %q: %w", p.TaxRate, err)
		}
		if rate.IsNegative() {
			return Strategy{}, fmt.Errorf("tax_rate %q is negative", p.TaxRate)
		}
		s.Pricing = FixedRateTax{Rate: rate}
	case "deferred_tax":
		s.Pricing = DeferredTax{}
	default:
		return Strategy{}, fmt.Errorf("unknown pricing policy %q", p.Pricing)
	}

	switch p.Availability {
	case "", "stock_required":
		s.Availability = StockRequired{}
	case "always":
		s.Availability = AlwaysAvailable{}
	case "unavailable":
		s.Availability = Unavailable{}
	default:
		return Strategy{}, fmt.Errorf("unknown availability policy %q", p.Availability)
	}
	return s, nil
}
