package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/ledger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
)

type ledgerTables struct {
	events     string
	quantities string
	types      string
}

func tablesFor(kind ledger.Kind) (ledgerTables, error) {
	switch kind {
	case ledger.Shipping:
		return ledgerTables{"shipping_events", "shipping_event_quantities", "shipping_event_types"}, nil
	case ledger.Payment:
		return ledgerTables{"payment_events", "payment_event_quantities", "payment_event_types"}, nil
	default:
		return ledgerTables{}, fmt.Errorf("unknown ledger kind %d", kind)
	}
}

func (r *OrderRepository) ConsumedQuantity(ctx context.Context, kind ledger.Kind, lineID, eventTypeID int64) (int, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	query := `
		SELECT COALESCE(SUM(q.quantity), 0)
		FROM ` + t.quantities + ` q
		JOIN ` + t.events + ` e ON e.id = q.event_id
		WHERE q.line_id = $1 AND e.event_type_id = $2`

	var n int
	if err := r.q.QueryRowContext(ctx, query, lineID, eventTypeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sum %s quantities: %w", kind, err)
	}
	return n, nil
}

func (r *OrderRepository) ListLineEventQuantities(ctx context.Context, kind ledger.Kind, lineID int64) ([]models.LineEventQuantity, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT e.id, e.event_type_id, et.name, q.quantity, e.created_at
		FROM ` + t.quantities + ` q
		JOIN ` + t.events + ` e ON e.id = q.event_id
		JOIN ` + t.types + ` et ON et.id = e.event_type_id
		WHERE q.line_id = $1
		ORDER BY e.created_at, e.id`

	rows, err := r.q.QueryContext(ctx, query, lineID)
	if err != nil {
		return nil, fmt.Errorf("list %s quantities: %w", kind, err)
	}
	defer rows.Close()

	var out []models.LineEventQuantity
	for rows.Next() {
		var e models.LineEventQuantity
		if err := rows.Scan(&e.EventID, &e.EventTypeID, &e.EventTypeName, &e.Quantity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s quantity: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *OrderRepository) ListShippingEventTypes(ctx context.Context) ([]models.ShippingEventType, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, code, sequence_number, is_required
		FROM shipping_event_types
		ORDER BY sequence_number, id`)
	if err != nil {
		return nil, fmt.Errorf("list shipping event types: %w", err)
	}
	defer rows.Close()

	var types []models.ShippingEventType
	for rows.Next() {
		var t models.ShippingEventType
		if err := rows.Scan(&t.ID, &t.Name, &t.Code, &t.SequenceNumber, &t.IsRequired); err != nil {
			return nil, fmt.Errorf("scan shipping event type: %w", err)
		}
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return types, nil
}

func (r *OrderRepository) GetShippingEventTypeByCode(ctx context.Context, code string) (*models.ShippingEventType, error) {
	t := &models.ShippingEventType{}
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, code, sequence_number, is_required
		FROM shipping_event_types
		WHERE code = $1`, code).Scan(&t.ID, &t.Name, &t.Code, &t.SequenceNumber, &t.IsRequired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("get shipping event type: %w", err)
	}
	return t, nil
}

func (r *OrderRepository) GetPaymentEventTypeByCode(ctx context.Context, code string) (*models.PaymentEventType, error) {
	t := &models.PaymentEventType{}
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, code, sequence_number
		FROM payment_event_types
		WHERE code = $1`, code).Scan(&t.ID, &t.Name, &t.Code, &t.SequenceNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrEventTypeNotFound
		}
		return nil, fmt.Errorf("get payment event type: %w", err)
	}
	return t, nil
}

// CreateShippingEventType validates the type before inserting it.
func (r *OrderRepository) CreateShippingEventType(ctx context.Context, t *models.ShippingEventType) error {
	if err := validation.Struct(t, nil); err != nil {
		return err
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO shipping_event_types (name, code, sequence_number, is_required)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, t.Name, t.Code, t.SequenceNumber, t.IsRequired).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create shipping event type: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreatePaymentEventType(ctx context.Context, t *models.PaymentEventType) error {
	if err := validation.Struct(t, nil); err != nil {
		return err
	}
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO payment_event_types (name, code, sequence_number)
		VALUES ($1, $2, $3)
		RETURNING id`, t.Name, t.Code, t.SequenceNumber).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create payment event type: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreateShippingEvent(ctx context.Context, event *models.ShippingEvent) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO shipping_events (order_id, event_type_id, notes, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		event.OrderID, event.EventTypeID, event.Notes, createdAt(event.CreatedAt),
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create shipping event: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreatePaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO payment_events (order_id, event_type_id, amount, reference, shipping_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		event.OrderID, event.EventTypeID, event.Amount, event.Reference, event.ShippingEventID, createdAt(event.CreatedAt),
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("create payment event: %w", err)
	}
	return nil
}

func (r *OrderRepository) AddShippingEventQuantity(ctx context.Context, line models.OrderLine, q *models.ShippingEventQuantity) error {
	id, err := r.addQuantity(ctx, ledger.Shipping, line, q.EventID, q.Quantity)
	if err != nil {
		return err
	}
	q.ID, q.LineID = id, line.ID
	return nil
}

func (r *OrderRepository) AddPaymentEventQuantity(ctx context.Context, line models.OrderLine, q *models.PaymentEventQuantity) error {
	id, err := r.addQuantity(ctx, ledger.Payment, line, q.EventID, q.Quantity)
	if err != nil {
		return err
	}
	q.ID, q.LineID = id, line.ID
	return nil
}

// addQuantity inserts a ledger row only if the line's running total for the
// event's type stays within the line quantity. The caller holds the line
// lock, so the sum cannot move between the check and the insert.
func (r *OrderRepository) addQuantity(ctx context.Context, kind ledger.Kind, line models.OrderLine, eventID int64, qty int) (int64, error) {
	t, err := tablesFor(kind)
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO ` + t.quantities + ` (event_id, line_id, quantity)
		SELECT $1::bigint, $2::bigint, $3::integer
		WHERE (
			SELECT COALESCE(SUM(q.quantity), 0)
			FROM ` + t.quantities + ` q
			JOIN ` + t.events + ` e ON e.id = q.event_id
			WHERE q.line_id = $2
			  AND e.event_type_id = (SELECT event_type_id FROM ` + t.events + ` WHERE id = $1)
		) + $3::integer <= $4::integer
		RETURNING id`

	var id int64
	err = r.q.QueryRowContext(ctx, query, eventID, line.ID, qty, line.Quantity).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("line %d %s event %d: %w", line.ID, kind, eventID, ledger.ErrCapacityExceeded)
		}
		return 0, fmt.Errorf("add %s quantity: %w", kind, err)
	}
	return id, nil
}
