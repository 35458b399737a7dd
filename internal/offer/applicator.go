package offer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/metrics"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/shopspring/decimal"
)

// UsageCounter reports how often a user has already benefited from an
// offer in placed orders.
type UsageCounter interface {
	UserApplications(ctx context.Context, offerID, userID int64) (int, error)
}

type Applicator struct {
	usage   UsageCounter
	logg    *logger.Logger
	metrics *metrics.EventMetrics
	now     func() time.Time
}

// NewApplicator accepts a nil usage counter, in which case per-user limits
// see no prior applications.
func NewApplicator(usage UsageCounter, logg *logger.Logger, m *metrics.EventMetrics) *Applicator {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Applicator{usage: usage, logg: logg, metrics: m, now: time.Now}
}

// Apply resets the basket and applies offers by descending priority. Each
// offer is applied until its condition fails, its result is final or its
// application limit is reached.
func (a *Applicator) Apply(ctx context.Context, b *basket.Basket, offers []*Offer, userID *int64) (*Applications, error) {
	b.ResetOfferApplications()
	apps := newApplications()

	ordered := slices.Clone(offers)
	slices.SortStableFunc(ordered, func(x, y *Offer) int { return y.Priority - x.Priority })

	at := a.now()
	for _, o := range ordered {
		if !o.IsAvailable(at) {
			continue
		}
		limit, err := a.maxApplications(ctx, o, userID)
		if err != nil {
			return nil, err
		}
		for range limit {
			res := o.ApplyBenefit(b)
			if !res.IsSuccessful() {
				break
			}
			apps.add(o, res)
			if res.AffectsShipping() {
				if _, taken := b.ShippingOffer(); !taken {
					if sd, ok := o.Benefit.(basket.ShippingDiscounter); ok {
						b.SetShippingOffer(*o.Ref(), sd)
					}
				}
			}
			if res.IsFinal() {
				break
			}
		}
		if app := apps.get(o.ID); app != nil {
			a.metrics.OfferApplied(o.Name, app.Frequency, app.Discount)
			ctx := a.logg.WithFields(ctx, map[string]any{
				"offer_id":  o.ID,
				"frequency": app.Frequency,
				"discount":  app.Discount.StringFixed(2),
				"affects":   app.Affects.String(),
			})
			a.logg.Info(ctx, "offer applied")
		}
	}
	return apps, nil
}

func (a *Applicator) maxApplications(ctx context.Context, o *Offer, userID *int64) (int, error) {
	if userID == nil || o.MaxUserApplications == 0 || a.usage == nil {
		return o.MaxApplications(0, userID != nil), nil
	}
	used, err := a.usage.UserApplications(ctx, o.ID, *userID)
	if err != nil {
		return 0, fmt.Errorf("count applications of offer %d: %w", o.ID, err)
	}
	return o.MaxApplications(used, true), nil
}

// Application totals one offer's effect on a basket.
type Application struct {
	Offer       *Offer
	Frequency   int
	Discount    decimal.Decimal
	Affects     Affects
	Description string
}

// Applications keeps per-offer totals in the order offers first applied.
type Applications struct {
	items []*Application
}

func newApplications() *Applications { return &Applications{} }

func (a *Applications) get(offerID int64) *Application {
	for _, app := range a.items {
		if app.Offer.ID == offerID {
			return app
		}
	}
	return nil
}

func (a *Applications) add(o *Offer, r Result) {
	app := a.get(o.ID)
	if app == nil {
		app = &Application{Offer: o, Discount: decimal.Zero, Affects: r.Affects, Description: r.Description}
		a.items = append(a.items, app)
	}
	app.Frequency++
	app.Discount = app.Discount.Add(r.Discount)
}

func (a *Applications) All() []Application {
	out := make([]Application, len(a.items))
	for i, app := range a.items {
		out[i] = *app
	}
	return out
}

func (a *Applications) Len() int { return len(a.items) }

// BasketDiscount is the sum of discounts taken off basket lines.
func (a *Applications) BasketDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, app := range a.items {
		if app.Affects == AffectsBasket {
			total = total.Add(app.Discount)
		}
	}
	return total
}

// ApplyShippingCharge prices the basket's shipping offer against charge and
// records the amount on that offer's application.
func (a *Applications) ApplyShippingCharge(b *basket.Basket, charge decimal.Decimal) decimal.Decimal {
	ref, ok := b.ShippingOffer()
	if !ok {
		return decimal.Zero
	}
	discount := b.ShippingDiscount(charge)
	if app := a.get(ref.ID); app != nil {
		app.Discount = discount
	}
	return discount
}

// OrderDiscounts snapshots every application for orderID. Shipping
// applications that never produced a discount are left out.
func (a *Applications) OrderDiscounts(orderID int64) []models.OrderDiscount {
	var out []models.OrderDiscount
	for _, app := range a.items {
		category := models.DiscountCategoryBasket
		if app.Affects == AffectsShipping {
			if !app.Discount.IsPositive() {
				continue
			}
			category = models.DiscountCategoryShipping
		}
		offerID := app.Offer.ID
		d := models.OrderDiscount{
			OrderID: orderID,
			DiscountSource: models.DiscountSource{
				OfferID:   &offerID,
				OfferName: app.Offer.Name,
			},
			Category:  category,
			Frequency: app.Frequency,
			Amount:    app.Discount,
		}
		if v := app.Offer.Voucher; v != nil {
			voucherID := v.ID
			d.VoucherID = &voucherID
			d.VoucherCode = v.Code
		}
		out = append(out, d)
	}
	return out
}
