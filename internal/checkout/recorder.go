// Package checkout records what a placed order took from offers, vouchers
// and stock, in the same transaction.
package checkout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/django-oscar/django-oscar-sub003/internal/stock"
	"github.com/django-oscar/django-oscar-sub003/internal/voucher"
	"github.com/shopspring/decimal"
)

type Repository interface {
	WithTx(tx *sql.Tx) Repository

	CreateOrderDiscount(ctx context.Context, d *models.OrderDiscount) error
	// RecordOfferUsage adds to the offer's counters and returns its status
	// afterwards.
	RecordOfferUsage(ctx context.Context, offerID int64, freq int, discount decimal.Decimal) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Recorder struct {
	repo     Repository
	tx       txRunner
	vouchers *voucher.Tracker
	stock    *stock.Coordinator
	logg     *logger.Logger
}

// NewRecorder takes an optional stock coordinator; without one placement
// does not allocate stock.
func NewRecorder(repo Repository, tx txRunner, vouchers *voucher.Tracker, stk *stock.Coordinator, logg *logger.Logger) (*Recorder, error) {
	if repo == nil {
		return nil, fmt.Errorf("checkout repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if vouchers == nil {
		return nil, fmt.Errorf("voucher tracker required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Recorder{repo: repo, tx: tx, vouchers: vouchers, stock: stk, logg: logg}, nil
}

// RecordPlacement writes the order's discount snapshots, counts offer and
// voucher usage and allocates stock for lines. Offers in apps are updated in
// memory only after the transaction commits.
func (r *Recorder) RecordPlacement(ctx context.Context, order *models.Order, lines []models.OrderLine, apps *offer.Applications, userID *int64) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if apps == nil {
		apps = &offer.Applications{}
	}
	ctx = r.logg.WithOrderID(ctx, order.ID)
	all := apps.All()
	statuses := make([]string, len(all))

	err := r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := r.repo.WithTx(tx)

		for _, d := range apps.OrderDiscounts(order.ID) {
			if err := repo.CreateOrderDiscount(ctx, &d); err != nil {
				return fmt.Errorf("create order discount for offer %q: %w", d.OfferName, err)
			}
		}

		vouchers := r.vouchers.InTx(tx)
		used := make(map[int64]bool)
		for i, app := range all {
			status, err := repo.RecordOfferUsage(ctx, app.Offer.ID, app.Frequency, app.Discount)
			if err != nil {
				return fmt.Errorf("record usage of offer %d: %w", app.Offer.ID, err)
			}
			statuses[i] = status

			v := app.Offer.Voucher
			if v == nil {
				continue
			}
			if !used[v.ID] {
				if err := vouchers.RecordUsage(ctx, v.ID, order.ID, userID); err != nil {
					return err
				}
				used[v.ID] = true
			}
			if err := vouchers.RecordDiscount(ctx, v.ID, app.Discount); err != nil {
				return err
			}
		}

		if r.stock != nil && len(lines) > 0 {
			if err := r.stock.InTx(tx).AllocateLines(ctx, order, lines, nil); err != nil {
				return fmt.Errorf("allocate stock: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.logg.Error(ctx, "order placement not recorded", err)
		return err
	}

	for i, app := range all {
		app.Offer.RecordUsage(app.Frequency, app.Discount)
		app.Offer.Status = statuses[i]
	}
	r.logg.Info(r.logg.WithField(ctx, "offers", len(all)), "order placement recorded")
	return nil
}
