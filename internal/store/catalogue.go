package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CatalogueRepository holds the customers, partners, products and placed
// orders the event pipeline works on.
type CatalogueRepository struct {
	q database.Querier
}

func NewCatalogueRepository(db *sql.DB) *CatalogueRepository {
	return &CatalogueRepository{q: db}
}

func (r *CatalogueRepository) WithTx(tx *sql.Tx) *CatalogueRepository {
	return &CatalogueRepository{q: tx}
}

func (r *CatalogueRepository) CreateUser(ctx context.Context, email, name string) (*models.User, error) {
	user := &models.User{}

	query := `
		INSERT INTO users (email, name)
		VALUES ($1, $2)
		RETURNING id, email, name, created_at`

	err := r.q.QueryRowContext(ctx, query, email, name).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *CatalogueRepository) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := r.q.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *CatalogueRepository) CreatePartner(ctx context.Context, p *models.Partner) error {
	if err := validation.Struct(p, nil); err != nil {
		return err
	}
	err := r.q.QueryRowContext(ctx,
		`INSERT INTO partners (name) VALUES ($1) RETURNING id`, p.Name).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("create partner: %w", err)
	}
	return nil
}

func (r *CatalogueRepository) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := validation.Struct(p, nil); err != nil {
		return err
	}
	var upc sql.NullString
	if p.UPC != "" {
		upc = sql.NullString{String: p.UPC, Valid: true}
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO products (title, upc, is_discountable)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		p.Title, upc, p.IsDiscountable,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (r *CatalogueRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	p := &models.Product{}
	err := r.q.QueryRowContext(ctx, `
		SELECT id, title, COALESCE(upc, ''), is_discountable, created_at
		FROM products
		WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &p.UPC, &p.IsDiscountable, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

// CreateOrder inserts a placed order with its lines and one price row per
// line. An empty number gets a generated one. Call it inside a transaction
// so a failed line leaves no partial order behind.
func (r *CatalogueRepository) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.Number == "" {
		o.Number = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = models.OrderStatusPending
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO orders (number, user_id, status, currency, total_incl_tax, total_excl_tax)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, placed_at`,
		o.Number, o.UserID, o.Status, o.Currency, o.TotalInclTax, o.TotalExclTax,
	).Scan(&o.ID, &o.PlacedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}

	for i := range o.Lines {
		l := &o.Lines[i]
		l.OrderID = o.ID
		if l.Status == "" {
			l.Status = models.LineStatusPending
		}
		var upc sql.NullString
		if l.UPC != "" {
			upc = sql.NullString{String: l.UPC, Valid: true}
		}
		err := r.q.QueryRowContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, stock_record_id, partner_id, title, upc,
				partner_sku, quantity, status, line_price_incl_tax, line_price_excl_tax,
				line_price_before_discounts_incl_tax, line_price_before_discounts_excl_tax, num_allocated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id`,
			l.OrderID, l.ProductID, l.StockRecordID, l.PartnerID, l.Title, upc,
			l.PartnerSKU, l.Quantity, l.Status, l.LinePriceInclTax, l.LinePriceExclTax,
			l.LinePriceBeforeDiscountsInclTax, l.LinePriceBeforeDiscountsExclTax, l.NumAllocated,
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("create order line %d: %w", i, err)
		}

		if _, err := r.q.ExecContext(ctx, `
			INSERT INTO line_prices (order_id, line_id, quantity, price_incl_tax, price_excl_tax)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, l.ID, l.Quantity,
			unitPrice(l.LinePriceInclTax, l.Quantity), unitPrice(l.LinePriceExclTax, l.Quantity),
		); err != nil {
			return fmt.Errorf("create line price for line %d: %w", l.ID, err)
		}
	}
	return nil
}

// ListOrders pages through orders newest first. An empty cursor starts at
// the newest order.
func (r *CatalogueRepository) ListOrders(ctx context.Context, cursor string, limit int) (*CursorPage[models.Order], error) {
	limit = pageLimit(limit)
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, number, user_id, status, currency, total_incl_tax, total_excl_tax, placed_at
		FROM orders
		WHERE (placed_at, id) < ($1, $2)
		ORDER BY placed_at DESC, id DESC
		LIMIT $3`

	rows, err := r.q.QueryContext(ctx, query, c.PlacedAt, c.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var (
			o      models.Order
			userID sql.NullInt64
		)
		err := rows.Scan(&o.ID, &o.Number, &userID, &o.Status, &o.Currency,
			&o.TotalInclTax, &o.TotalExclTax, &o.PlacedAt)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.UserID = nullInt64(userID)
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newPage(orders, limit, func(o models.Order) string {
		return EncodeCursor(OrderCursor{PlacedAt: o.PlacedAt, ID: o.ID})
	}), nil
}

func unitPrice(linePrice decimal.Decimal, qty int) decimal.Decimal {
	if qty <= 0 {
		return linePrice
	}
	return linePrice.Div(decimal.NewFromInt(int64(qty))).Round(2)
}
