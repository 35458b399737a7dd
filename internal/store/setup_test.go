package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/migrate"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a throwaway postgres and applies the migrations.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := postgres.Host(ctx)
	require.NoError(t, err)
	port, err := postgres.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, migrate.Up(ctx, db))
	return db
}

type seeded struct {
	user    *models.User
	partner *models.Partner
	product *models.Product
	record  *models.StockRecord
	order   *models.Order
}

func intp(n int) *int { return &n }

// seedOrder places an order for one product with a tracked stock record.
func seedOrder(t *testing.T, db *sql.DB, lineQtys ...int) seeded {
	t.Helper()
	ctx := context.Background()
	cat := NewCatalogueRepository(db)
	var s seeded
	var err error

	s.user, err = cat.CreateUser(ctx, fmt.Sprintf("user-%d@example.com", time.Now().UnixNano()), "Test User")
	require.NoError(t, err)

	s.partner = &models.Partner{Name: fmt.Sprintf("Partner %d", time.Now().UnixNano())}
	require.NoError(t, cat.CreatePartner(ctx, s.partner))

	s.product = &models.Product{Title: "Widget", UPC: "0001", IsDiscountable: true}
	require.NoError(t, cat.CreateProduct(ctx, s.product))

	s.record = &models.StockRecord{
		ProductID: s.product.ID, PartnerID: s.partner.ID, PartnerSKU: "W-1", Currency: "GBP",
		PriceExclTax: decimal.NewFromInt(10), NumInStock: intp(20), NumAllocated: intp(0),
		LowStockThreshold: intp(5), TrackStock: true,
	}
	require.NoError(t, NewStockRepository(db).CreateStockRecord(ctx, s.record))

	s.order = &models.Order{UserID: &s.user.ID, Currency: "GBP"}
	for _, q := range lineQtys {
		price := decimal.NewFromInt(int64(10 * q))
		s.order.Lines = append(s.order.Lines, models.OrderLine{
			ProductID: &s.product.ID, StockRecordID: &s.record.ID, PartnerID: &s.partner.ID,
			Title: s.product.Title, PartnerSKU: s.record.PartnerSKU, Quantity: q,
			LinePriceInclTax: price, LinePriceExclTax: price,
			LinePriceBeforeDiscountsInclTax: price, LinePriceBeforeDiscountsExclTax: price,
		})
		s.order.TotalInclTax = s.order.TotalInclTax.Add(price)
		s.order.TotalExclTax = s.order.TotalExclTax.Add(price)
	}
	err = database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return cat.WithTx(tx).CreateOrder(ctx, s.order)
	})
	require.NoError(t, err)
	return s
}

// placeOrderFor places another order against the seeded stock record.
func placeOrderFor(t *testing.T, db *sql.DB, s seeded, qty int) *models.Order {
	t.Helper()
	price := decimal.NewFromInt(int64(10 * qty))
	o := &models.Order{UserID: &s.user.ID, Currency: "GBP", TotalInclTax: price, TotalExclTax: price}
	o.Lines = []models.OrderLine{{
		ProductID: &s.product.ID, StockRecordID: &s.record.ID, PartnerID: &s.partner.ID,
		Title: s.product.Title, PartnerSKU: s.record.PartnerSKU, Quantity: qty,
		LinePriceInclTax: price, LinePriceExclTax: price,
		LinePriceBeforeDiscountsInclTax: price, LinePriceBeforeDiscountsExclTax: price,
	}}
	require.NoError(t, NewCatalogueRepository(db).CreateOrder(context.Background(), o))
	return o
}
