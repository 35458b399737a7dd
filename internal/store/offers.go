package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/checkout"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OfferDefinition is the stored shape of an offer. Zero limits are written
// as NULL, meaning unlimited.
type OfferDefinition struct {
	Name      string     `json:"name" validate:"required,max=128"`
	Type      string     `json:"offer_type" validate:"required,oneof=Site Voucher User Session"`
	Exclusive bool       `json:"exclusive"`
	Priority  int        `json:"priority"`
	StartAt   *time.Time `json:"start_at"`
	EndAt     *time.Time `json:"end_at"`

	MaxGlobalApplications int `json:"max_global_applications" validate:"gte=0"`
	MaxUserApplications   int `json:"max_user_applications" validate:"gte=0"`
	MaxBasketApplications int `json:"max_basket_applications" validate:"gte=0"`

	ConditionType    string          `json:"condition_type" validate:"required"`
	ConditionValue   decimal.Decimal `json:"condition_value"`
	ConditionRangeID int64           `json:"condition_range_id" validate:"required"`

	BenefitType             string          `json:"benefit_type" validate:"required"`
	BenefitValue            decimal.Decimal `json:"benefit_value"`
	BenefitMaxAffectedItems int             `json:"benefit_max_affected_items" validate:"gte=0"`
	BenefitRangeID          *int64          `json:"benefit_range_id"`
}

type OfferRepository struct {
	q database.Querier
}

func NewOfferRepository(db *sql.DB) *OfferRepository {
	return &OfferRepository{q: db}
}

func (r *OfferRepository) WithTx(tx *sql.Tx) *OfferRepository {
	return &OfferRepository{q: tx}
}

func (r *OfferRepository) CreateRange(ctx context.Context, rng *offer.Range) error {
	if rng.Name == "" {
		return validation.FieldErrors{"name": "is required"}
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO offer_ranges (name, includes_all_products, included_product_ids, excluded_product_ids)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		rng.Name, rng.IncludesAllProducts,
		pq.Array(nonNil(rng.IncludedProductIDs)), pq.Array(nonNil(rng.ExcludedProductIDs)),
	).Scan(&rng.ID)
	if err != nil {
		return fmt.Errorf("create range: %w", err)
	}
	return nil
}

// CreateOffer checks that the definition builds a valid condition and
// benefit before inserting it.
func (r *OfferRepository) CreateOffer(ctx context.Context, def OfferDefinition) (int64, error) {
	if err := validation.Struct(def, nil); err != nil {
		return 0, err
	}
	if def.StartAt != nil && def.EndAt != nil && def.EndAt.Before(*def.StartAt) {
		return 0, validation.FieldErrors{"end_at": "End date should be later than start date"}
	}
	ids := []int64{def.ConditionRangeID}
	if def.BenefitRangeID != nil {
		ids = append(ids, *def.BenefitRangeID)
	}
	ranges, err := r.loadRanges(ctx, ids)
	if err != nil {
		return 0, err
	}
	row := offerRow{
		conditionType: def.ConditionType, conditionValue: def.ConditionValue, conditionRangeID: def.ConditionRangeID,
		benefitType: def.BenefitType, benefitValue: def.BenefitValue, benefitRangeID: def.BenefitRangeID,
		benefitMaxAffected: def.BenefitMaxAffectedItems,
	}
	if _, err := row.build(ranges); err != nil {
		return 0, fmt.Errorf("%w: %v", validation.ErrInvalid, err)
	}

	var id int64
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO offers (name, offer_type, exclusive, priority, start_at, end_at,
			max_global_applications, max_user_applications, max_basket_applications,
			condition_type, condition_value, condition_range_id,
			benefit_type, benefit_value, benefit_max_affected_items, benefit_range_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		def.Name, def.Type, def.Exclusive, def.Priority, def.StartAt, def.EndAt,
		nullIfZero(def.MaxGlobalApplications), nullIfZero(def.MaxUserApplications), nullIfZero(def.MaxBasketApplications),
		def.ConditionType, def.ConditionValue, def.ConditionRangeID,
		def.BenefitType, def.BenefitValue, nullIfZero(def.BenefitMaxAffectedItems), def.BenefitRangeID,
	).Scan(&id)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, validation.FieldErrors{"name": "An offer with this name already exists"}
		}
		return 0, fmt.Errorf("create offer: %w", err)
	}
	return id, nil
}

func (r *OfferRepository) UpdateStatus(ctx context.Context, offerID int64, status string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE offers SET status = $1 WHERE id = $2`, status, offerID)
	if err != nil {
		return fmt.Errorf("update offer status: %w", err)
	}
	return expectRow(res, database.ErrOfferNotFound)
}

func (r *OfferRepository) Get(ctx context.Context, id int64) (*offer.Offer, error) {
	offers, err := r.list(ctx, `WHERE o.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		return nil, database.ErrOfferNotFound
	}
	return offers[0], nil
}

// ListActive returns open site, user and session offers whose date window
// contains at, highest priority first. Voucher offers are only reachable
// through ListForVoucher.
func (r *OfferRepository) ListActive(ctx context.Context, at time.Time) ([]*offer.Offer, error) {
	return r.list(ctx, `
		WHERE o.status = $1
		  AND o.offer_type <> $2
		  AND (o.start_at IS NULL OR o.start_at <= $3)
		  AND (o.end_at IS NULL OR o.end_at >= $3)`,
		offer.StatusOpen, offer.TypeVoucher, at)
}

// ListForVoucher returns the voucher's offers tagged with the voucher so
// their discounts snapshot its code.
func (r *OfferRepository) ListForVoucher(ctx context.Context, v *models.Voucher) ([]*offer.Offer, error) {
	offers, err := r.list(ctx, `JOIN voucher_offers vo ON vo.offer_id = o.id WHERE vo.voucher_id = $1`, v.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		o.Voucher = &offer.VoucherRef{ID: v.ID, Code: v.Code}
	}
	return offers, nil
}

// UserApplications sums the frequency of the offer's discounts on orders
// placed by userID.
func (r *OfferRepository) UserApplications(ctx context.Context, offerID, userID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(od.frequency), 0)
		FROM order_discounts od
		JOIN orders o ON o.id = od.order_id
		WHERE od.offer_id = $1 AND o.user_id = $2`, offerID, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum user offer applications: %w", err)
	}
	return n, nil
}

var _ offer.UsageCounter = (*OfferRepository)(nil)

type offerRow struct {
	o                  offer.Offer
	maxGlobal          sql.NullInt32
	maxUser            sql.NullInt32
	maxBasket          sql.NullInt32
	startAt, endAt     sql.NullTime
	conditionType      string
	conditionValue     decimal.Decimal
	conditionRangeID   int64
	benefitType        string
	benefitValue       decimal.Decimal
	benefitMaxAffected int
	benefitRangeID     *int64
}

func (row *offerRow) build(ranges map[int64]*offer.Range) (*offer.Offer, error) {
	o := row.o
	o.MaxGlobalApplications = int(row.maxGlobal.Int32)
	o.MaxUserApplications = int(row.maxUser.Int32)
	o.MaxBasketApplications = int(row.maxBasket.Int32)
	if row.startAt.Valid {
		o.StartAt = &row.startAt.Time
	}
	if row.endAt.Valid {
		o.EndAt = &row.endAt.Time
	}

	cond, err := offer.NewCondition(row.conditionType, ranges[row.conditionRangeID], row.conditionValue)
	if err != nil {
		return nil, err
	}
	var benefitRange *offer.Range
	if row.benefitRangeID != nil {
		benefitRange = ranges[*row.benefitRangeID]
	}
	ben, err := offer.NewBenefit(row.benefitType, benefitRange, row.benefitValue, row.benefitMaxAffected)
	if err != nil {
		return nil, err
	}
	o.Condition, o.Benefit = cond, ben
	return &o, nil
}

func (r *OfferRepository) list(ctx context.Context, where string, args ...any) ([]*offer.Offer, error) {
	query := `
		SELECT o.id, o.name, o.offer_type, o.exclusive, o.priority, o.status, o.start_at, o.end_at,
		       o.max_global_applications, o.max_user_applications, o.max_basket_applications,
		       o.num_applications, o.total_discount, o.num_orders,
		       o.condition_type, o.condition_value, o.condition_range_id,
		       o.benefit_type, o.benefit_value, COALESCE(o.benefit_max_affected_items, 0), o.benefit_range_id
		FROM offers o
		` + where + `
		ORDER BY o.priority DESC, o.id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var (
		loaded   []*offerRow
		rangeIDs []int64
	)
	for rows.Next() {
		row := &offerRow{}
		var benefitRange sql.NullInt64
		err := rows.Scan(
			&row.o.ID, &row.o.Name, &row.o.Type, &row.o.Exclusive, &row.o.Priority, &row.o.Status,
			&row.startAt, &row.endAt,
			&row.maxGlobal, &row.maxUser, &row.maxBasket,
			&row.o.NumApplications, &row.o.TotalDiscount, &row.o.NumOrders,
			&row.conditionType, &row.conditionValue, &row.conditionRangeID,
			&row.benefitType, &row.benefitValue, &row.benefitMaxAffected, &benefitRange,
		)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		row.benefitRangeID = nullInt64(benefitRange)
		loaded = append(loaded, row)
		rangeIDs = append(rangeIDs, row.conditionRangeID)
		if row.benefitRangeID != nil {
			rangeIDs = append(rangeIDs, *row.benefitRangeID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(loaded) == 0 {
		return nil, nil
	}

	ranges, err := r.loadRanges(ctx, rangeIDs)
	if err != nil {
		return nil, err
	}
	offers := make([]*offer.Offer, 0, len(loaded))
	for _, row := range loaded {
		o, err := row.build(ranges)
		if err != nil {
			return nil, fmt.Errorf("offer %d: %w", row.o.ID, err)
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func (r *OfferRepository) loadRanges(ctx context.Context, ids []int64) (map[int64]*offer.Range, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, includes_all_products, included_product_ids, excluded_product_ids
		FROM offer_ranges
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("load ranges: %w", err)
	}
	defer rows.Close()

	ranges := make(map[int64]*offer.Range, len(ids))
	for rows.Next() {
		var (
			rng                offer.Range
			included, excluded pq.Int64Array
		)
		if err := rows.Scan(&rng.ID, &rng.Name, &rng.IncludesAllProducts, &included, &excluded); err != nil {
			return nil, fmt.Errorf("scan range: %w", err)
		}
		rng.IncludedProductIDs, rng.ExcludedProductIDs = included, excluded
		ranges[rng.ID] = &rng
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ranges, nil
}

// CheckoutRepository writes what a placed order took from its offers.
type CheckoutRepository struct {
	q database.Querier
}

func NewCheckoutRepository(db *sql.DB) *CheckoutRepository {
	return &CheckoutRepository{q: db}
}

func (r *CheckoutRepository) WithTx(tx *sql.Tx) checkout.Repository {
	return &CheckoutRepository{q: tx}
}

func (r *CheckoutRepository) CreateOrderDiscount(ctx context.Context, d *models.OrderDiscount) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO order_discounts (order_id, category, offer_id, offer_name, voucher_id, voucher_code,
			frequency, amount, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		d.OrderID, d.Category, d.OfferID, d.OfferName, d.VoucherID, d.VoucherCode,
		d.Frequency, d.Amount, d.Message,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create order discount: %w", err)
	}
	return nil
}

// RecordOfferUsage bumps the offer's counters and flips it to Consumed when
// the global limit is reached, in one statement.
func (r *CheckoutRepository) RecordOfferUsage(ctx context.Context, offerID int64, freq int, discount decimal.Decimal) (string, error) {
	var status string
	err := r.q.QueryRowContext(ctx, `
		UPDATE offers
		SET num_applications = num_applications + $2,
		    total_discount = total_discount + $3,
		    num_orders = num_orders + 1,
		    status = CASE
		        WHEN COALESCE(max_global_applications, 0) > 0
		         AND num_applications + $2 >= max_global_applications THEN $4
		        ELSE status
		    END
		WHERE id = $1
		RETURNING status`,
		offerID, freq, discount, offer.StatusConsumed,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", database.ErrOfferNotFound
		}
		return "", fmt.Errorf("record offer usage: %w", err)
	}
	return status, nil
}

func (r *CheckoutRepository) ListOrderDiscounts(ctx context.Context, orderID int64) ([]models.OrderDiscount, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, category, offer_id, offer_name, voucher_id, voucher_code, frequency, amount, message
		FROM order_discounts
		WHERE order_id = $1
		ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order discounts: %w", err)
	}
	defer rows.Close()

	var out []models.OrderDiscount
	for rows.Next() {
		var (
			d                  models.OrderDiscount
			offerID, voucherID sql.NullInt64
		)
		err := rows.Scan(&d.ID, &d.OrderID, &d.Category, &offerID, &d.OfferName, &voucherID,
			&d.VoucherCode, &d.Frequency, &d.Amount, &d.Message)
		if err != nil {
			return nil, fmt.Errorf("scan order discount: %w", err)
		}
		d.OfferID, d.VoucherID = nullInt64(offerID), nullInt64(voucherID)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
