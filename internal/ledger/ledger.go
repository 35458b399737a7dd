// Package ledger answers how much of an order line has passed a shipping or
// payment event type. Nothing is cached: every answer is a sum over the
// quantity rows.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
)

type Kind int

const (
	Shipping Kind = iota + 1
	Payment
)

func (k Kind) String() string {
	switch k {
	case Shipping:
		return "shipping"
	case Payment:
		return "payment"
	default:
		return "unknown"
	}
}

var (
	ErrCapacityExceeded = errors.New("quantity exceeds line capacity")
	ErrInvalidQuantity  = errors.New("invalid quantity")
)

// Reader sums quantity rows for one line and event type.
type Reader interface {
	ConsumedQuantity(ctx context.Context, kind Kind, lineID, eventTypeID int64) (int, error)
}

type CapacityError struct {
	LineID    int64
	Consumed  int
	Requested int
	Capacity  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("line %d: %d already consumed, %d requested, capacity %d",
		e.LineID, e.Consumed, e.Requested, e.Capacity)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// ResolveQuantity applies the default-quantity policy: zero means the line's
// full quantity, not what is left of it.
func ResolveQuantity(line models.OrderLine, qty int) (int, error) {
	if qty < 0 {
		return 0, fmt.Errorf("%w: %d for line %d", ErrInvalidQuantity, qty, line.ID)
	}
	if qty == 0 {
		return line.Quantity, nil
	}
	return qty, nil
}

// Fits reports whether qty more units can be recorded on top of consumed.
func Fits(line models.OrderLine, consumed, qty int) error {
	if consumed+qty > line.Quantity {
		return &CapacityError{LineID: line.ID, Consumed: consumed, Requested: qty, Capacity: line.Quantity}
	}
	return nil
}

func CheckCapacity(ctx context.Context, r Reader, kind Kind, line models.OrderLine, eventTypeID int64, qty int) error {
	consumed, err := r.ConsumedQuantity(ctx, kind, line.ID, eventTypeID)
	if err != nil {
		return fmt.Errorf("consumed %s quantity for line %d: %w", kind, line.ID, err)
	}
	return Fits(line, consumed, qty)
}

// HasPassed reports whether at least qty units of the line went through the
// event type.
func HasPassed(ctx context.Context, r Reader, kind Kind, line models.OrderLine, eventTypeID int64, qty int) (bool, error) {
	consumed, err := r.ConsumedQuantity(ctx, kind, line.ID, eventTypeID)
	if err != nil {
		return false, fmt.Errorf("consumed %s quantity for line %d: %w", kind, line.ID, err)
	}
	return consumed >= qty, nil
}

type State int

const (
	NotStarted State = iota
	PartiallyPassed
	FullyPassed
)

func StateOf(consumed, quantity int) State {
	switch {
	case consumed <= 0:
		return NotStarted
	case consumed < quantity:
		return PartiallyPassed
	default:
		return FullyPassed
	}
}

// Summarise renders the per-type progress of a line, e.g.
// "Picked, Shipped (2/3 items)". Entries must be in creation order.
func Summarise(entries []models.LineEventQuantity, quantity int) string {
	if len(entries) == 0 {
		return ""
	}

	var order []string
	totals := make(map[string]int)
	for _, e := range entries {
		if _, ok := totals[e.EventTypeName]; !ok {
			order = append(order, e.EventTypeName)
		}
		totals[e.EventTypeName] += e.Quantity
	}

	statuses := make([]string, 0, len(order))
	for _, name := range order {
		if StateOf(totals[name], quantity) == FullyPassed {
			statuses = append(statuses, name)
			continue
		}
		statuses = append(statuses, fmt.Sprintf("%s (%d/%d items)", name, totals[name], quantity))
	}
	return strings.Join(statuses, ", ")
}
