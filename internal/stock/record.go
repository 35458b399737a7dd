// Package stock implements the two-phase allocate/consume protocol over stock
// records and the line-level coordinator that drives it for orders.
package stock

import (
	"errors"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

var ErrInvalidStockAdjustment = errors.New("Invalid stock consumption request")

// CanTrackAllocations is false for records whose partner does not track
// stock; every allocation call is a no-op for them.
func CanTrackAllocations(rec *models.StockRecord) bool {
	return rec != nil && rec.TrackStock
}

// Allocate reserves qty units. It never checks the physical count, so
// backorder partners may over-commit. A zero quantity is a no-op.
func Allocate(rec *models.StockRecord, qty int) error {
	if !CanTrackAllocations(rec) || qty == 0 {
		return nil
	}
	if qty < 0 {
		return ErrInvalidStockAdjustment
	}
	n := deref(rec.NumAllocated) + qty
	rec.NumAllocated = &n
	return nil
}

// IsAllocationConsumptionPossible reports qty <= min(allocated, in stock).
// A nil in-stock count is unlimited.
func IsAllocationConsumptionPossible(rec *models.StockRecord, qty int) bool {
	if qty > deref(rec.NumAllocated) {
		return false
	}
	return rec.NumInStock == nil || qty <= *rec.NumInStock
}

// ConsumeAllocation removes qty units from both the reservation and the
// physical count.
func ConsumeAllocation(rec *models.StockRecord, qty int) error {
	if !CanTrackAllocations(rec) {
		return nil
	}
	if qty < 0 || !IsAllocationConsumptionPossible(rec, qty) {
		return ErrInvalidStockAdjustment
	}
	allocated := deref(rec.NumAllocated) - qty
	rec.NumAllocated = &allocated
	if rec.NumInStock != nil {
		inStock := *rec.NumInStock - qty
		rec.NumInStock = &inStock
	}
	return nil
}

// CancelAllocation releases at most what is allocated and returns the amount
// actually released.
func CancelAllocation(rec *models.StockRecord, qty int) int {
	if !CanTrackAllocations(rec) || qty <= 0 {
		return 0
	}
	allocated := deref(rec.NumAllocated)
	released := min(allocated, qty)
	allocated -= released
	rec.NumAllocated = &allocated
	return released
}

// Restock adds qty units to the physical count.
func Restock(rec *models.StockRecord, qty int) {
	n := deref(rec.NumInStock) + qty
	rec.NumInStock = &n
}

func NetStockLevel(rec *models.StockRecord) int {
	if rec.NumInStock == nil {
		return 0
	}
	if rec.NumAllocated == nil {
		return *rec.NumInStock
	}
	return *rec.NumInStock - *rec.NumAllocated
}

func IsBelowThreshold(rec *models.StockRecord) bool {
	if rec.LowStockThreshold == nil {
		return false
	}
	return NetStockLevel(rec) < *rec.LowStockThreshold
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
