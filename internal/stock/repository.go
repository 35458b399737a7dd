package stock

import (
	"context"
	"database/sql"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

// Repository persists stock levels, line allocations and low-stock alerts.
// Get and Lock return database.ErrStockRecordNotFound for unknown ids.
type Repository interface {
	WithTx(tx *sql.Tx) Repository

	GetStockRecord(ctx context.Context, id int64) (*models.StockRecord, error)
	LockStockRecord(ctx context.Context, id int64) (*models.StockRecord, error)
	SaveStockLevels(ctx context.Context, rec *models.StockRecord) error

	ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	UpdateLineAllocation(ctx context.Context, lineID int64, numAllocated *int) error

	// FindOpenAlert returns nil when the record has no open alert.
	FindOpenAlert(ctx context.Context, stockRecordID int64) (*models.StockAlert, error)
	CreateAlert(ctx context.Context, alert *models.StockAlert) error
	CloseAlert(ctx context.Context, alertID int64, at time.Time) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}
