package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/stock"
)

const stockColumns = `id, product_id, partner_id, partner_sku, currency, price_excl_tax,
	num_in_stock, num_allocated, low_stock_threshold, track_stock, updated_at`

func scanStockRecord(s rowScanner) (*models.StockRecord, error) {
	rec := &models.StockRecord{}
	var inStock, allocated, threshold sql.NullInt32
	err := s.Scan(
		&rec.ID,
		&rec.ProductID,
		&rec.PartnerID,
		&rec.PartnerSKU,
		&rec.Currency,
		&rec.PriceExclTax,
		&inStock,
		&allocated,
		&threshold,
		&rec.TrackStock,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.NumInStock = nullInt(inStock)
	rec.NumAllocated = nullInt(allocated)
	rec.LowStockThreshold = nullInt(threshold)
	return rec, nil
}

type StockRepository struct {
	q database.Querier
}

func NewStockRepository(db *sql.DB) *StockRepository {
	return &StockRepository{q: db}
}

func (r *StockRepository) WithTx(tx *sql.Tx) stock.Repository {
	return &StockRepository{q: tx}
}

func (r *StockRepository) GetStockRecord(ctx context.Context, id int64) (*models.StockRecord, error) {
	return r.getStockRecord(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE id = $1`, id)
}

func (r *StockRepository) LockStockRecord(ctx context.Context, id int64) (*models.StockRecord, error) {
	return r.getStockRecord(ctx, `SELECT `+stockColumns+` FROM stock_records WHERE id = $1 FOR UPDATE`, id)
}

func (r *StockRepository) getStockRecord(ctx context.Context, query string, id int64) (*models.StockRecord, error) {
	rec, err := scanStockRecord(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrStockRecordNotFound
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return rec, nil
}

// ListProductStockRecords returns every partner's record for a product in id
// order, which is the order the default strategy picks from.
func (r *StockRepository) ListProductStockRecords(ctx context.Context, productID int64) ([]*models.StockRecord, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+stockColumns+` FROM stock_records WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock records: %w", err)
	}
	defer rows.Close()

	var recs []*models.StockRecord
	for rows.Next() {
		rec, err := scanStockRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return recs, nil
}

func (r *StockRepository) CreateStockRecord(ctx context.Context, rec *models.StockRecord) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO stock_records (product_id, partner_id, partner_sku, currency, price_excl_tax,
			num_in_stock, num_allocated, low_stock_threshold, track_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, updated_at`,
		rec.ProductID, rec.PartnerID, rec.PartnerSKU, rec.Currency, rec.PriceExclTax,
		rec.NumInStock, rec.NumAllocated, rec.LowStockThreshold, rec.TrackStock,
	).Scan(&rec.ID, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create stock record: %w", err)
	}
	return nil
}

func (r *StockRepository) SaveStockLevels(ctx context.Context, rec *models.StockRecord) error {
	err := r.q.QueryRowContext(ctx, `
		UPDATE stock_records
		SET num_in_stock = $1, num_allocated = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at`,
		rec.NumInStock, rec.NumAllocated, rec.ID,
	).Scan(&rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrStockRecordNotFound
		}
		return fmt.Errorf("save stock levels: %w", err)
	}
	return nil
}

func (r *StockRepository) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	return collectLines(rows)
}

func (r *StockRepository) UpdateLineAllocation(ctx context.Context, lineID int64, numAllocated *int) error {
	res, err := r.q.ExecContext(ctx, `UPDATE order_lines SET num_allocated = $1 WHERE id = $2`, numAllocated, lineID)
	if err != nil {
		return fmt.Errorf("update line allocation: %w", err)
	}
	return expectRow(res, database.ErrLineNotFound)
}

func (r *StockRepository) FindOpenAlert(ctx context.Context, stockRecordID int64) (*models.StockAlert, error) {
	a := &models.StockAlert{}
	var closedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT id, stock_record_id, threshold, status, created_at, closed_at
		FROM stock_alerts
		WHERE stock_record_id = $1 AND status = $2`,
		stockRecordID, models.StockAlertOpen,
	).Scan(&a.ID, &a.StockRecordID, &a.Threshold, &a.Status, &a.CreatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find open alert: %w", err)
	}
	if closedAt.Valid {
		a.ClosedAt = &closedAt.Time
	}
	return a, nil
}

func (r *StockRepository) CreateAlert(ctx context.Context, alert *models.StockAlert) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO stock_alerts (stock_record_id, threshold, status, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		alert.StockRecordID, alert.Threshold, alert.Status, createdAt(alert.CreatedAt),
	).Scan(&alert.ID)
	if err != nil {
		return fmt.Errorf("create stock alert: %w", err)
	}
	return nil
}

func (r *StockRepository) CloseAlert(ctx context.Context, alertID int64, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE stock_alerts SET status = $1, closed_at = $2 WHERE id = $3`,
		models.StockAlertClosed, at, alertID)
	if err != nil {
		return fmt.Errorf("close stock alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("stock alert %d not found", alertID)
	}
	return nil
}
