package stock

import (
	"bytes"
	"context"
	"database/sql"
	"maps"
	"testing"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository struct {
	records map[int64]models.StockRecord
	lines   map[int64]models.OrderLine
	alerts  []models.StockAlert
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		records: make(map[int64]models.StockRecord),
		lines:   make(map[int64]models.OrderLine),
	}
}

func (r *fakeRepository) WithTx(*sql.Tx) Repository { return r }

func (r *fakeRepository) GetStockRecord(_ context.Context, id int64) (*models.StockRecord, error) {
	rec, ok := r.records[id]
	if !ok {
		return nil, database.ErrStockRecordNotFound
	}
	return cloneRecord(rec), nil
}

func (r *fakeRepository) LockStockRecord(ctx context.Context, id int64) (*models.StockRecord, error) {
	return r.GetStockRecord(ctx, id)
}

func (r *fakeRepository) SaveStockLevels(_ context.Context, rec *models.StockRecord) error {
	r.records[rec.ID] = *cloneRecord(*rec)
	return nil
}

func (r *fakeRepository) ListOrderLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	var out []models.OrderLine
	for id := int64(1); id <= int64(len(r.lines)); id++ {
		if l, ok := r.lines[id]; ok && l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeRepository) UpdateLineAllocation(_ context.Context, lineID int64, numAllocated *int) error {
	l := r.lines[lineID]
	l.NumAllocated = numAllocated
	r.lines[lineID] = l
	return nil
}

func (r *fakeRepository) FindOpenAlert(_ context.Context, stockRecordID int64) (*models.StockAlert, error) {
	for i := range r.alerts {
		if r.alerts[i].StockRecordID == stockRecordID && r.alerts[i].Status == models.StockAlertOpen {
			a := r.alerts[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (r *fakeRepository) CreateAlert(_ context.Context, alert *models.StockAlert) error {
	alert.ID = int64(len(r.alerts) + 1)
	r.alerts = append(r.alerts, *alert)
	return nil
}

func (r *fakeRepository) CloseAlert(_ context.Context, alertID int64, at time.Time) error {
	for i := range r.alerts {
		if r.alerts[i].ID == alertID {
			r.alerts[i].Status = models.StockAlertClosed
			r.alerts[i].ClosedAt = &at
		}
	}
	return nil
}

func cloneRecord(rec models.StockRecord) *models.StockRecord {
	out := rec
	if rec.NumInStock != nil {
		out.NumInStock = intp(*rec.NumInStock)
	}
	if rec.NumAllocated != nil {
		out.NumAllocated = intp(*rec.NumAllocated)
	}
	return &out
}

type fakeTxRunner struct{ repo *fakeRepository }

func (f fakeTxRunner) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	records := maps.Clone(f.repo.records)
	lines := maps.Clone(f.repo.lines)
	alerts := append([]models.StockAlert(nil), f.repo.alerts...)
	if err := fn(nil); err != nil {
		f.repo.records, f.repo.lines, f.repo.alerts = records, lines, alerts
		return err
	}
	return nil
}

func recID(id int64) *int64 { return &id }

func setup(t *testing.T) (*Coordinator, *fakeRepository, *bytes.Buffer) {
	t.Helper()
	repo := newFakeRepository()
	repo.records[10] = models.StockRecord{ID: 10, TrackStock: true, NumInStock: intp(5), LowStockThreshold: intp(2)}
	repo.records[20] = models.StockRecord{ID: 20, TrackStock: false}
	repo.lines[1] = models.OrderLine{ID: 1, OrderID: 1, Quantity: 3, StockRecordID: recID(10)}
	repo.lines[2] = models.OrderLine{ID: 2, OrderID: 1, Quantity: 2, StockRecordID: recID(20)}

	var buf bytes.Buffer
	c, err := NewCoordinator(repo, fakeTxRunner{repo}, logger.New(logger.Options{Output: &buf}), nil)
	require.NoError(t, err)
	return c, repo, &buf
}

func TestCoordinatorAllocateAndConsumeWholeOrder(t *testing.T) {
	c, repo, _ := setup(t)
	ctx := context.Background()
	order := &models.Order{ID: 1}

	require.NoError(t, c.AllocateLines(ctx, order, nil, nil))
	assert.Equal(t, 3, *repo.records[10].NumAllocated)
	assert.Equal(t, 3, *repo.lines[1].NumAllocated)
	assert.Nil(t, repo.records[20].NumAllocated)

	lines, _ := repo.ListOrderLines(ctx, 1)
	ok, err := c.AreAllocationsAvailable(ctx, lines, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.ConsumeAllocations(ctx, order, nil, nil))
	assert.Equal(t, 0, *repo.records[10].NumAllocated)
	assert.Equal(t, 2, *repo.records[10].NumInStock)
	assert.Equal(t, 0, *repo.lines[1].NumAllocated)
}

func TestCoordinatorConsumeRejectsOverdraw(t *testing.T) {
	c, repo, _ := setup(t)
	ctx := context.Background()
	order := &models.Order{ID: 1}
	lines, _ := repo.ListOrderLines(ctx, 1)

	require.NoError(t, c.AllocateLines(ctx, order, lines[:1], []int{1}))
	assert.Equal(t, 1, *lines[0].NumAllocated)

	ok, err := c.AreAllocationsAvailable(ctx, lines[:1], []int{2})
	require.NoError(t, err)
	assert.False(t, ok)

	err = c.ConsumeAllocations(ctx, order, lines[:1], []int{2})
	require.ErrorIs(t, err, ErrInvalidStockAdjustment)
	assert.Equal(t, 1, *repo.records[10].NumAllocated)
	assert.Equal(t, 5, *repo.records[10].NumInStock)
	assert.Equal(t, 1, *lines[0].NumAllocated)
}

func TestCoordinatorAllocateRejectsNegativeQuantity(t *testing.T) {
	c, repo, _ := setup(t)
	ctx := context.Background()
	order := &models.Order{ID: 1}
	lines, _ := repo.ListOrderLines(ctx, 1)

	require.NoError(t, c.AllocateLines(ctx, order, lines[:1], []int{2}))
	err := c.AllocateLines(ctx, order, lines[:1], []int{-1})
	require.ErrorIs(t, err, ErrInvalidStockAdjustment)
	assert.Equal(t, 2, *repo.records[10].NumAllocated)
	assert.Equal(t, 2, *repo.lines[1].NumAllocated)
}

func TestCoordinatorAvailabilityWithoutStockRecord(t *testing.T) {
	c, _, _ := setup(t)
	ok, err := c.AreAllocationsAvailable(context.Background(), []models.OrderLine{{ID: 9, Quantity: 1}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.AreAllocationsAvailable(context.Background(), []models.OrderLine{{ID: 9, Quantity: 1, StockRecordID: recID(99)}}, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinatorCancelClampsAndWarns(t *testing.T) {
	c, repo, buf := setup(t)
	ctx := context.Background()
	order := &models.Order{ID: 1}

	require.NoError(t, c.AllocateLines(ctx, order, nil, []int{2, 2}))
	require.NoError(t, c.CancelAllocations(ctx, order, nil, []int{5, 5}))

	assert.Equal(t, 0, *repo.records[10].NumAllocated)
	assert.Equal(t, 0, *repo.lines[1].NumAllocated)
	assert.Contains(t, buf.String(), "allocation cancellation clamped")
}

func TestCoordinatorLowStockAlertLifecycle(t *testing.T) {
	c, repo, _ := setup(t)
	ctx := context.Background()
	order := &models.Order{ID: 1}

	require.NoError(t, c.AllocateLines(ctx, order, nil, nil))
	require.NoError(t, c.ConsumeAllocations(ctx, order, nil, nil))
	// 2 left in stock, threshold 2: not below yet
	assert.Empty(t, repo.alerts)

	require.NoError(t, c.AllocateLines(ctx, order, nil, []int{1, 0}))
	require.NoError(t, c.ConsumeAllocations(ctx, order, nil, []int{1, 0}))
	require.Len(t, repo.alerts, 1)
	assert.Equal(t, models.StockAlertOpen, repo.alerts[0].Status)
	assert.Equal(t, 2, repo.alerts[0].Threshold)

	rec, err := c.Restock(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, *rec.NumInStock)
	assert.Equal(t, models.StockAlertClosed, repo.alerts[0].Status)
	assert.NotNil(t, repo.alerts[0].ClosedAt)
}

func TestCoordinatorRestockRejectsNonPositive(t *testing.T) {
	c, _, _ := setup(t)
	_, err := c.Restock(context.Background(), 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStockAdjustment)
}
