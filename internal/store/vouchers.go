package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
	"github.com/django-oscar/django-oscar-sub003/internal/voucher"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type VoucherRepository struct {
	q database.Querier
}

func NewVoucherRepository(db *sql.DB) *VoucherRepository {
	return &VoucherRepository{q: db}
}

func (r *VoucherRepository) WithTx(tx *sql.Tx) voucher.Repository {
	return &VoucherRepository{q: tx}
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*models.Voucher, error) {
	v := &models.Voucher{}
	var offerIDs pq.Int64Array

	query := `
		SELECT v.id, v.name, v.code, v.usage, v.start_at, v.end_at,
		       v.num_basket_additions, v.num_orders, v.total_discount, v.created_at,
		       COALESCE(array_agg(vo.offer_id ORDER BY vo.offer_id) FILTER (WHERE vo.offer_id IS NOT NULL), '{}')
		FROM vouchers v
		LEFT JOIN voucher_offers vo ON vo.voucher_id = v.id
		WHERE v.code = $1
		GROUP BY v.id`

	err := r.q.QueryRowContext(ctx, query, code).Scan(
		&v.ID,
		&v.Name,
		&v.Code,
		&v.Usage,
		&v.StartAt,
		&v.EndAt,
		&v.NumBasketAdditions,
		&v.NumOrders,
		&v.TotalDiscount,
		&v.CreatedAt,
		&offerIDs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrVoucherNotFound
		}
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	v.OfferIDs = offerIDs
	return v, nil
}

// CreateVoucher validates and normalizes v, then inserts it with its offer
// links.
func (r *VoucherRepository) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	if err := voucher.Validate(v); err != nil {
		return err
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO vouchers (name, code, usage, start_at, end_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		v.Name, v.Code, v.Usage, v.StartAt, v.EndAt,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return validation.FieldErrors{"code": "Voucher code is already in use"}
		}
		return fmt.Errorf("create voucher: %w", err)
	}
	for _, offerID := range v.OfferIDs {
		if _, err := r.q.ExecContext(ctx,
			`INSERT INTO voucher_offers (voucher_id, offer_id) VALUES ($1, $2)`, v.ID, offerID); err != nil {
			return fmt.Errorf("link voucher %d to offer %d: %w", v.ID, offerID, err)
		}
	}
	return nil
}

func (r *VoucherRepository) CountApplications(ctx context.Context, voucherID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM voucher_applications WHERE voucher_id = $1`, voucherID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count voucher applications: %w", err)
	}
	return n, nil
}

func (r *VoucherRepository) CountUserApplications(ctx context.Context, voucherID, userID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM voucher_applications WHERE voucher_id = $1 AND user_id = $2`,
		voucherID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count user voucher applications: %w", err)
	}
	return n, nil
}

func (r *VoucherRepository) CreateApplication(ctx context.Context, app *models.VoucherApplication) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO voucher_applications (voucher_id, order_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		app.VoucherID, app.OrderID, app.UserID, createdAt(app.CreatedAt),
	).Scan(&app.ID)
	if err != nil {
		return fmt.Errorf("create voucher application: %w", err)
	}
	return nil
}

func (r *VoucherRepository) IncrementOrders(ctx context.Context, voucherID int64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE vouchers SET num_orders = num_orders + 1 WHERE id = $1`, voucherID)
	if err != nil {
		return fmt.Errorf("increment voucher orders: %w", err)
	}
	return expectRow(res, database.ErrVoucherNotFound)
}

func (r *VoucherRepository) AddDiscount(ctx context.Context, voucherID int64, amount decimal.Decimal) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE vouchers SET total_discount = total_discount + $1 WHERE id = $2`, amount, voucherID)
	if err != nil {
		return fmt.Errorf("add voucher discount: %w", err)
	}
	return expectRow(res, database.ErrVoucherNotFound)
}

// IncrementBasketAdditions counts a voucher being entered into a basket.
func (r *VoucherRepository) IncrementBasketAdditions(ctx context.Context, voucherID int64) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE vouchers SET num_basket_additions = num_basket_additions + 1 WHERE id = $1`, voucherID)
	if err != nil {
		return fmt.Errorf("increment voucher basket additions: %w", err)
	}
	return expectRow(res, database.ErrVoucherNotFound)
}
