package order

import (
	"context"
	"database/sql"

	"github.com/django-oscar/django-oscar-sub003/internal/ledger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

// Repository is the order/line store the event handler works against.
// Implementations return database.ErrLineNotFound for unknown lines and
// ledger.ErrCapacityExceeded when a quantity row would overflow its line.
type Repository interface {
	WithTx(tx *sql.Tx) Repository
	ledger.Reader

	// LockLines loads the requested lines of an order with a row lock held
	// until the surrounding transaction ends.
	LockLines(ctx context.Context, orderID int64, lineIDs []int64) ([]models.OrderLine, error)
	ListLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	ListShippingEventTypes(ctx context.Context) ([]models.ShippingEventType, error)

	CreateShippingEvent(ctx context.Context, event *models.ShippingEvent) error
	AddShippingEventQuantity(ctx context.Context, line models.OrderLine, q *models.ShippingEventQuantity) error
	CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error
	AddPaymentEventQuantity(ctx context.Context, line models.OrderLine, q *models.PaymentEventQuantity) error

	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	UpdateLineStatus(ctx context.Context, lineID int64, status string) error
	CreateStatusChange(ctx context.Context, change *models.OrderStatusChange) error
	CreateNote(ctx context.Context, note *models.OrderNote) error

	// ListLinePrices returns the price history of a line in ascending id order.
	ListLinePrices(ctx context.Context, lineID int64) ([]models.LinePrice, error)
	ListLineEventQuantities(ctx context.Context, kind ledger.Kind, lineID int64) ([]models.LineEventQuantity, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// StockAllocator is the line-level stock coordinator.
type StockAllocator interface {
	AreAllocationsAvailable(ctx context.Context, lines []models.OrderLine, quantities []int) (bool, error)
	ConsumeAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error
	CancelAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error
}
