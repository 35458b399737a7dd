package stock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/metrics"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

// Coordinator applies the allocation protocol to order lines, keeping each
// line's num_allocated in step with its stock record.
type Coordinator struct {
	repo    Repository
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.EventMetrics
	now     func() time.Time
}

func NewCoordinator(repo Repository, tx txRunner, logg *logger.Logger, m *metrics.EventMetrics) (*Coordinator, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Coordinator{repo: repo, tx: tx, logg: logg, metrics: m, now: time.Now}, nil
}

// InTx returns a coordinator whose adjustments join tx.
func (c *Coordinator) InTx(tx *sql.Tx) *Coordinator {
	cp := *c
	cp.repo = c.repo.WithTx(tx)
	cp.tx = database.BoundTo(tx)
	return &cp
}

// AreAllocationsAvailable is false as soon as a line has no stock record.
// Lines whose record does not track allocations always pass, matching
// ConsumeAllocations which skips them.
func (c *Coordinator) AreAllocationsAvailable(ctx context.Context, lines []models.OrderLine, quantities []int) (bool, error) {
	qtys, err := lineQuantities(lines, quantities)
	if err != nil {
		return false, err
	}
	for i, line := range lines {
		if line.StockRecordID == nil {
			return false, nil
		}
		rec, err := c.repo.GetStockRecord(ctx, *line.StockRecordID)
		if errors.Is(err, database.ErrStockRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("get stock record for line %d: %w", line.ID, err)
		}
		if !CanTrackAllocations(rec) {
			continue
		}
		if !IsAllocationConsumptionPossible(rec, qtys[i]) {
			return false, nil
		}
	}
	return true, nil
}

// AllocateLines reserves stock for the lines of a placed order.
func (c *Coordinator) AllocateLines(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error {
	return c.adjust(ctx, "allocate", order, lines, quantities, func(ctx context.Context, repo Repository, rec *models.StockRecord, line *models.OrderLine, qty int) error {
		if err := Allocate(rec, qty); err != nil {
			return fmt.Errorf("line #%d: %w", line.ID, err)
		}
		n := deref(line.NumAllocated) + qty
		line.NumAllocated = &n
		return nil
	})
}

// ConsumeAllocations turns reservations into shipped stock. nil lines means
// every line of the order; nil quantities means each line's full quantity.
func (c *Coordinator) ConsumeAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error {
	return c.adjust(ctx, "consume", order, lines, quantities, func(ctx context.Context, repo Repository, rec *models.StockRecord, line *models.OrderLine, qty int) error {
		if err := ConsumeAllocation(rec, qty); err != nil {
			return fmt.Errorf("line #%d: %w", line.ID, err)
		}
		n := max(deref(line.NumAllocated)-qty, 0)
		line.NumAllocated = &n
		return c.raiseAlert(ctx, repo, rec)
	})
}

// CancelAllocations releases reservations. Requests larger than what is
// held are clamped and logged.
func (c *Coordinator) CancelAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error {
	return c.adjust(ctx, "cancel", order, lines, quantities, func(ctx context.Context, repo Repository, rec *models.StockRecord, line *models.OrderLine, qty int) error {
		released := CancelAllocation(rec, qty)
		if released < qty {
			c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
				"line_id":         line.ID,
				"stock_record_id": rec.ID,
				"requested":       qty,
				"released":        released,
			}), "allocation cancellation clamped")
		}
		n := max(deref(line.NumAllocated)-released, 0)
		line.NumAllocated = &n
		return nil
	})
}

// Restock adds units to a record and closes its open low-stock alert once
// the record is back above threshold.
func (c *Coordinator) Restock(ctx context.Context, recordID int64, qty int) (*models.StockRecord, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: restock quantity %d", ErrInvalidStockAdjustment, qty)
	}
	var out *models.StockRecord
	err := c.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := c.repo.WithTx(tx)
		rec, err := repo.LockStockRecord(ctx, recordID)
		if err != nil {
			return fmt.Errorf("lock stock record %d: %w", recordID, err)
		}
		Restock(rec, qty)
		if err := repo.SaveStockLevels(ctx, rec); err != nil {
			return fmt.Errorf("save stock record %d: %w", recordID, err)
		}
		if IsBelowThreshold(rec) {
			out = rec
			return nil
		}
		alert, err := repo.FindOpenAlert(ctx, rec.ID)
		if err != nil {
			return fmt.Errorf("find open alert: %w", err)
		}
		if alert != nil {
			if err := repo.CloseAlert(ctx, alert.ID, c.now()); err != nil {
				return fmt.Errorf("close alert %d: %w", alert.ID, err)
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.metrics.StockOperation("restock")
	return out, nil
}

type lineAdjustment func(ctx context.Context, repo Repository, rec *models.StockRecord, line *models.OrderLine, qty int) error

// adjust locks each tracked stock record, applies fn and persists both the
// record and the line. Lines without a tracking record are skipped. The
// caller's lines only see the new allocations once the transaction commits.
func (c *Coordinator) adjust(ctx context.Context, op string, order *models.Order, lines []models.OrderLine, quantities []int, fn lineAdjustment) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	ctx = c.logg.WithFields(c.logg.WithOrderID(ctx, order.ID), map[string]any{"operation": op})

	var updated []models.OrderLine
	err := c.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := c.repo.WithTx(tx)

		work := slices.Clone(lines)
		if lines == nil {
			loaded, err := repo.ListOrderLines(ctx, order.ID)
			if err != nil {
				return fmt.Errorf("list order lines: %w", err)
			}
			work = loaded
		}
		qtys, err := lineQuantities(work, quantities)
		if err != nil {
			return err
		}

		for i := range work {
			line := &work[i]
			if line.StockRecordID == nil {
				continue
			}
			rec, err := repo.LockStockRecord(ctx, *line.StockRecordID)
			if err != nil {
				return fmt.Errorf("lock stock record for line %d: %w", line.ID, err)
			}
			if !CanTrackAllocations(rec) {
				continue
			}
			if err := fn(ctx, repo, rec, line, qtys[i]); err != nil {
				return err
			}
			if err := repo.SaveStockLevels(ctx, rec); err != nil {
				return fmt.Errorf("save stock record %d: %w", rec.ID, err)
			}
			if err := repo.UpdateLineAllocation(ctx, line.ID, line.NumAllocated); err != nil {
				return fmt.Errorf("update allocation of line %d: %w", line.ID, err)
			}
		}
		updated = work
		return nil
	})
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "reason", err.Error()), "stock adjustment failed")
		return err
	}
	copy(lines, updated)
	c.metrics.StockOperation(op)
	return nil
}

func (c *Coordinator) raiseAlert(ctx context.Context, repo Repository, rec *models.StockRecord) error {
	if !IsBelowThreshold(rec) {
		return nil
	}
	existing, err := repo.FindOpenAlert(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("find open alert: %w", err)
	}
	if existing != nil {
		return nil
	}
	alert := &models.StockAlert{
		StockRecordID: rec.ID,
		Threshold:     *rec.LowStockThreshold,
		Status:        models.StockAlertOpen,
		CreatedAt:     c.now(),
	}
	if err := repo.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("create stock alert: %w", err)
	}
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"stock_record_id": rec.ID,
		"net_stock":       NetStockLevel(rec),
	}), "low stock alert raised")
	return nil
}

func lineQuantities(lines []models.OrderLine, quantities []int) ([]int, error) {
	if quantities == nil {
		out := make([]int, len(lines))
		for i, l := range lines {
			out[i] = l.Quantity
		}
		return out, nil
	}
	if len(quantities) != len(lines) {
		return nil, fmt.Errorf("%d quantities given for %d lines", len(quantities), len(lines))
	}
	return quantities, nil
}
