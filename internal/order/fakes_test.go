package order

import (
	"context"
	"database/sql"
	"errors"
	"maps"
	"slices"

	"github.com/django-oscar/django-oscar-sub003/internal/config"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/ledger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

type fakeState struct {
	lines     map[int64]models.OrderLine
	orders    map[int64]string
	shipping  []fakeRow
	payment   []fakeRow
	changes   []models.OrderStatusChange
	notes     []models.OrderNote
	events    map[int64]int64
	nextID    int64
	shipCount int
	payCount  int
}

type fakeRow struct {
	eventID     int64
	eventTypeID int64
	lineID      int64
	quantity    int
}

type fakeRepository struct {
	state      fakeState
	types      []models.ShippingEventType
	typeNames  map[int64]string
	prices     map[int64][]models.LinePrice
	failInsert error
}

func newFakeRepository(lines ...models.OrderLine) *fakeRepository {
	r := &fakeRepository{
		state: fakeState{
			lines:  make(map[int64]models.OrderLine),
			orders: make(map[int64]string),
			events: make(map[int64]int64),
		},
		typeNames: make(map[int64]string),
		prices:    make(map[int64][]models.LinePrice),
	}
	for _, l := range lines {
		r.state.lines[l.ID] = l
	}
	return r
}

func (r *fakeRepository) addTypes(types ...models.ShippingEventType) {
	r.types = append(r.types, types...)
	for _, t := range types {
		r.typeNames[t.ID] = t.Name
	}
}

func (r *fakeRepository) snapshot() fakeState {
	s := r.state
	s.lines = maps.Clone(r.state.lines)
	s.orders = maps.Clone(r.state.orders)
	s.events = maps.Clone(r.state.events)
	s.shipping = slices.Clone(r.state.shipping)
	s.payment = slices.Clone(r.state.payment)
	s.changes = slices.Clone(r.state.changes)
	s.notes = slices.Clone(r.state.notes)
	return s
}

func (r *fakeRepository) WithTx(*sql.Tx) Repository { return r }

func (r *fakeRepository) ConsumedQuantity(_ context.Context, kind ledger.Kind, lineID, eventTypeID int64) (int, error) {
	rows := r.state.shipping
	if kind == ledger.Payment {
		rows = r.state.payment
	}
	total := 0
	for _, row := range rows {
		if row.lineID == lineID && row.eventTypeID == eventTypeID {
			total += row.quantity
		}
	}
	return total, nil
}

func (r *fakeRepository) LockLines(_ context.Context, orderID int64, lineIDs []int64) ([]models.OrderLine, error) {
	var out []models.OrderLine
	for _, id := range lineIDs {
		if l, ok := r.state.lines[id]; ok && l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeRepository) ListLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	var out []models.OrderLine
	for _, l := range r.state.lines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b models.OrderLine) int { return int(a.ID - b.ID) })
	return out, nil
}

func (r *fakeRepository) ListShippingEventTypes(context.Context) ([]models.ShippingEventType, error) {
	return r.types, nil
}

func (r *fakeRepository) id() int64 {
	r.state.nextID++
	return r.state.nextID
}

func (r *fakeRepository) CreateShippingEvent(_ context.Context, event *models.ShippingEvent) error {
	event.ID = r.id()
	r.state.events[event.ID] = event.EventTypeID
	r.state.shipCount++
	return nil
}

func (r *fakeRepository) AddShippingEventQuantity(ctx context.Context, line models.OrderLine, q *models.ShippingEventQuantity) error {
	if r.failInsert != nil {
		return r.failInsert
	}
	typeID := r.state.events[q.EventID]
	consumed, _ := r.ConsumedQuantity(ctx, ledger.Shipping, line.ID, typeID)
	if err := ledger.Fits(line, consumed, q.Quantity); err != nil {
		return err
	}
	q.ID = r.id()
	r.state.shipping = append(r.state.shipping, fakeRow{q.EventID, typeID, q.LineID, q.Quantity})
	return nil
}

func (r *fakeRepository) CreatePaymentEvent(_ context.Context, event *models.PaymentEvent) error {
	event.ID = r.id()
	r.state.events[event.ID] = event.EventTypeID
	r.state.payCount++
	return nil
}

func (r *fakeRepository) AddPaymentEventQuantity(ctx context.Context, line models.OrderLine, q *models.PaymentEventQuantity) error {
	typeID := r.state.events[q.EventID]
	consumed, _ := r.ConsumedQuantity(ctx, ledger.Payment, line.ID, typeID)
	if err := ledger.Fits(line, consumed, q.Quantity); err != nil {
		return err
	}
	q.ID = r.id()
	r.state.payment = append(r.state.payment, fakeRow{q.EventID, typeID, q.LineID, q.Quantity})
	return nil
}

func (r *fakeRepository) UpdateOrderStatus(_ context.Context, orderID int64, status string) error {
	r.state.orders[orderID] = status
	return nil
}

func (r *fakeRepository) UpdateLineStatus(_ context.Context, lineID int64, status string) error {
	l, ok := r.state.lines[lineID]
	if !ok {
		return database.ErrLineNotFound
	}
	l.Status = status
	r.state.lines[lineID] = l
	return nil
}

func (r *fakeRepository) CreateStatusChange(_ context.Context, change *models.OrderStatusChange) error {
	change.ID = r.id()
	r.state.changes = append(r.state.changes, *change)
	return nil
}

func (r *fakeRepository) CreateNote(_ context.Context, note *models.OrderNote) error {
	note.ID = r.id()
	r.state.notes = append(r.state.notes, *note)
	return nil
}

func (r *fakeRepository) ListLinePrices(_ context.Context, lineID int64) ([]models.LinePrice, error) {
	return r.prices[lineID], nil
}

func (r *fakeRepository) ListLineEventQuantities(_ context.Context, kind ledger.Kind, lineID int64) ([]models.LineEventQuantity, error) {
	rows := r.state.shipping
	if kind == ledger.Payment {
		rows = r.state.payment
	}
	var out []models.LineEventQuantity
	for _, row := range rows {
		if row.lineID == lineID {
			out = append(out, models.LineEventQuantity{
				EventID:       row.eventID,
				EventTypeID:   row.eventTypeID,
				EventTypeName: r.typeNames[row.eventTypeID],
				Quantity:      row.quantity,
			})
		}
	}
	return out, nil
}

// fakeTxRunner restores the repository when the callback fails, standing in
// for a rollback.
type fakeTxRunner struct {
	repo  *fakeRepository
	calls int
}

func (f *fakeTxRunner) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	f.calls++
	snap := f.repo.snapshot()
	if err := fn(nil); err != nil {
		f.repo.state = snap
		return err
	}
	return nil
}

func newTestHandler(repo *fakeRepository) (*EventHandler, *fakeTxRunner) {
	tx := &fakeTxRunner{repo: repo}
	h, err := NewEventHandler(repo, tx, NewPipeline(config.DefaultPipeline()), nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return h, tx
}

var errBoom = errors.New("boom")
