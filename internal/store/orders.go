// Package store implements the PostgreSQL repositories behind the order,
// stock, offer and voucher services.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/order"
	"github.com/lib/pq"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const lineColumns = `id, order_id, product_id, stock_record_id, partner_id, title, COALESCE(upc, ''),
	partner_sku, quantity, status, line_price_incl_tax, line_price_excl_tax,
	line_price_before_discounts_incl_tax, line_price_before_discounts_excl_tax, num_allocated`

func scanLine(s rowScanner) (models.OrderLine, error) {
	var (
		l                                     models.OrderLine
		productID, stockRecordID, partnerID   sql.NullInt64
		numAllocated                          sql.NullInt32
	)
	err := s.Scan(
		&l.ID,
		&l.OrderID,
		&productID,
		&stockRecordID,
		&partnerID,
		&l.Title,
		&l.UPC,
		&l.PartnerSKU,
		&l.Quantity,
		&l.Status,
		&l.LinePriceInclTax,
		&l.LinePriceExclTax,
		&l.LinePriceBeforeDiscountsInclTax,
		&l.LinePriceBeforeDiscountsExclTax,
		&numAllocated,
	)
	if err != nil {
		return l, err
	}
	l.ProductID = nullInt64(productID)
	l.StockRecordID = nullInt64(stockRecordID)
	l.PartnerID = nullInt64(partnerID)
	l.NumAllocated = nullInt(numAllocated)
	return l, nil
}

func collectLines(rows *sql.Rows) ([]models.OrderLine, error) {
	defer rows.Close()
	var lines []models.OrderLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return lines, nil
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullInt(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

// OrderRepository serves the event handler.
type OrderRepository struct {
	q database.Querier
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{q: db}
}

func (r *OrderRepository) WithTx(tx *sql.Tx) order.Repository {
	return &OrderRepository{q: tx}
}

func (r *OrderRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	o := &models.Order{}
	var userID sql.NullInt64

	query := `
		SELECT id, number, user_id, status, currency, total_incl_tax, total_excl_tax, placed_at
		FROM orders
		WHERE id = $1`

	err := r.q.QueryRowContext(ctx, query, id).Scan(
		&o.ID,
		&o.Number,
		&userID,
		&o.Status,
		&o.Currency,
		&o.TotalInclTax,
		&o.TotalExclTax,
		&o.PlacedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.UserID = nullInt64(userID)

	o.Lines, err = r.ListLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var id int64
	err := r.q.QueryRowContext(ctx, `SELECT id FROM orders WHERE number = $1`, number).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by number: %w", err)
	}
	return r.GetOrder(ctx, id)
}

func (r *OrderRepository) ListLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order lines: %w", err)
	}
	return collectLines(rows)
}

// LockLines takes row locks in id order so concurrent events on the same
// order queue up instead of deadlocking.
func (r *OrderRepository) LockLines(ctx context.Context, orderID int64, lineIDs []int64) ([]models.OrderLine, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+lineColumns+`
		 FROM order_lines
		 WHERE order_id = $1 AND id = ANY($2)
		 ORDER BY id
		 FOR UPDATE`,
		orderID, pq.Array(lineIDs))
	if err != nil {
		return nil, fmt.Errorf("lock order lines: %w", err)
	}
	return collectLines(rows)
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return expectRow(res, database.ErrOrderNotFound)
}

func (r *OrderRepository) UpdateLineStatus(ctx context.Context, lineID int64, status string) error {
	res, err := r.q.ExecContext(ctx, `UPDATE order_lines SET status = $1 WHERE id = $2`, status, lineID)
	if err != nil {
		return fmt.Errorf("update line status: %w", err)
	}
	return expectRow(res, database.ErrLineNotFound)
}

func (r *OrderRepository) CreateStatusChange(ctx context.Context, change *models.OrderStatusChange) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO order_status_changes (order_id, old_status, new_status, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		change.OrderID, change.OldStatus, change.NewStatus, createdAt(change.CreatedAt)).Scan(&change.ID)
	if err != nil {
		return fmt.Errorf("create status change: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreateNote(ctx context.Context, note *models.OrderNote) error {
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO order_notes (order_id, note_type, message, created_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		note.OrderID, note.NoteType, note.Message, createdAt(note.CreatedAt)).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("create order note: %w", err)
	}
	return nil
}

func (r *OrderRepository) ListLinePrices(ctx context.Context, lineID int64) ([]models.LinePrice, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, order_id, line_id, quantity, price_incl_tax, price_excl_tax
		 FROM line_prices
		 WHERE line_id = $1
		 ORDER BY id`, lineID)
	if err != nil {
		return nil, fmt.Errorf("list line prices: %w", err)
	}
	defer rows.Close()

	var prices []models.LinePrice
	for rows.Next() {
		var p models.LinePrice
		if err := rows.Scan(&p.ID, &p.OrderID, &p.LineID, &p.Quantity, &p.PriceInclTax, &p.PriceExclTax); err != nil {
			return nil, fmt.Errorf("scan line price: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return prices, nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
