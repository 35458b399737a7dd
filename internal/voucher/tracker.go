package voucher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/shopspring/decimal"
)

// Repository persists vouchers and their applications. GetByCode returns
// database.ErrVoucherNotFound for unknown codes.
type Repository interface {
	WithTx(tx *sql.Tx) Repository

	GetByCode(ctx context.Context, code string) (*models.Voucher, error)
	CountApplications(ctx context.Context, voucherID int64) (int, error)
	CountUserApplications(ctx context.Context, voucherID, userID int64) (int, error)
	CreateApplication(ctx context.Context, app *models.VoucherApplication) error
	IncrementOrders(ctx context.Context, voucherID int64) error
	AddDiscount(ctx context.Context, voucherID int64, amount decimal.Decimal) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

type Tracker struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewTracker(repo Repository, tx txRunner, logg *logger.Logger) (*Tracker, error) {
	if repo == nil {
		return nil, fmt.Errorf("voucher repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Tracker{repo: repo, tx: tx, logg: logg, now: time.Now}, nil
}

// InTx returns a tracker whose writes join tx.
func (t *Tracker) InTx(tx *sql.Tx) *Tracker {
	cp := *t
	cp.repo = t.repo.WithTx(tx)
	cp.tx = database.BoundTo(tx)
	return &cp
}

func (t *Tracker) Get(ctx context.Context, code string) (*models.Voucher, error) {
	return t.repo.GetByCode(ctx, NormalizeCode(code))
}

// IsAvailableToUser applies the voucher's usage rule. userID is nil for
// anonymous customers. The message is empty when the voucher is available.
func (t *Tracker) IsAvailableToUser(ctx context.Context, v *models.Voucher, userID *int64) (bool, string, error) {
	switch v.Usage {
	case models.VoucherSingleUse:
		n, err := t.repo.CountApplications(ctx, v.ID)
		if err != nil {
			return false, "", fmt.Errorf("count applications of voucher %d: %w", v.ID, err)
		}
		if n > 0 {
			return false, msgAlreadyUsed, nil
		}
		return true, "", nil
	case models.VoucherMultiUse:
		return true, "", nil
	case models.VoucherOncePerCustomer:
		if userID == nil {
			return false, msgSignedInOnly, nil
		}
		n, err := t.repo.CountUserApplications(ctx, v.ID, *userID)
		if err != nil {
			return false, "", fmt.Errorf("count applications of voucher %d: %w", v.ID, err)
		}
		if n > 0 {
			return false, msgUsedByCustomer, nil
		}
		return true, "", nil
	default:
		return false, "", fmt.Errorf("voucher %d has unknown usage %q", v.ID, v.Usage)
	}
}

// IsAvailableForBasket also requires the voucher to be active and at least
// one of its offers to be satisfied, or partly satisfied, by the basket.
func (t *Tracker) IsAvailableForBasket(ctx context.Context, v *models.Voucher, offers []*offer.Offer, b *basket.Basket, userID *int64) (bool, string, error) {
	at := t.now()
	if IsExpired(v, at) {
		return false, fmt.Sprintf(msgExpiredFormat, v.Code), nil
	}
	if !IsActive(v, at) {
		return false, fmt.Sprintf(msgNotActiveFormat, v.Code), nil
	}
	ok, msg, err := t.IsAvailableToUser(ctx, v, userID)
	if err != nil || !ok {
		return ok, msg, err
	}
	for _, o := range offers {
		if o.IsConditionSatisfied(b) || o.IsConditionPartiallySatisfied(b) {
			return true, "", nil
		}
	}
	return false, msgNotForBasket, nil
}

// RecordUsage stores one application for a placed order and bumps the
// voucher's order count. userID is nil for anonymous customers.
func (t *Tracker) RecordUsage(ctx context.Context, voucherID, orderID int64, userID *int64) error {
	ctx = t.logg.WithFields(t.logg.WithOrderID(ctx, orderID), map[string]any{"voucher_id": voucherID})
	err := t.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := t.repo.WithTx(tx)
		app := &models.VoucherApplication{
			VoucherID: voucherID,
			OrderID:   orderID,
			UserID:    userID,
			CreatedAt: t.now(),
		}
		if err := repo.CreateApplication(ctx, app); err != nil {
			return fmt.Errorf("create voucher application: %w", err)
		}
		if err := repo.IncrementOrders(ctx, voucherID); err != nil {
			return fmt.Errorf("increment voucher orders: %w", err)
		}
		return nil
	})
	if err != nil {
		t.logg.Error(ctx, "voucher usage not recorded", err)
		return err
	}
	t.logg.Info(ctx, "voucher usage recorded")
	return nil
}

// RecordDiscount adds amount to the voucher's running discount total.
func (t *Tracker) RecordDiscount(ctx context.Context, voucherID int64, amount decimal.Decimal) error {
	return t.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if err := t.repo.WithTx(tx).AddDiscount(ctx, voucherID, amount); err != nil {
			return fmt.Errorf("add voucher discount: %w", err)
		}
		return nil
	})
}
