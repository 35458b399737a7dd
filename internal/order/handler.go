package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/ledger"
	"github.com/django-oscar/django-oscar-sub003/internal/logger"
	"github.com/django-oscar/django-oscar-sub003/internal/metrics"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

var errStockNotConfigured = errors.New("stock allocator not configured")

// EventHandler records shipping and payment events against order lines and
// moves orders and lines through their status pipelines.
type EventHandler struct {
	repo     Repository
	tx       txRunner
	pipeline *Pipeline
	stock    StockAllocator
	logg     *logger.Logger
	metrics  *metrics.EventMetrics
	now      func() time.Time
}

// NewEventHandler wires the handler. stock, logg and m may be nil.
func NewEventHandler(repo Repository, tx txRunner, pipeline *Pipeline, stock StockAllocator, logg *logger.Logger, m *metrics.EventMetrics) (*EventHandler, error) {
	if repo == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("status pipeline required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &EventHandler{
		repo:     repo,
		tx:       tx,
		pipeline: pipeline,
		stock:    stock,
		logg:     logg,
		metrics:  m,
		now:      time.Now,
	}, nil
}

// PaymentDetails are the optional attributes of a payment event.
type PaymentDetails struct {
	Reference       string
	ShippingEventID *int64
}

// HandleShippingEvent validates and records a shipping event. A zero quantity
// stands for the full line quantity. Either every line is recorded or none.
func (h *EventHandler) HandleShippingEvent(ctx context.Context, order *models.Order, eventType models.ShippingEventType, lines []models.OrderLine, quantities []int, notes string) (*models.ShippingEvent, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	qtys, err := pairQuantities(lines, quantities)
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidShippingEvent, Reasons: []error{err}}
	}
	ctx = h.logg.WithFields(h.logg.WithOrderID(ctx, order.ID), map[string]any{
		"event_type": eventType.Name,
		"lines":      len(lines),
	})

	var event *models.ShippingEvent
	err = h.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := h.repo.WithTx(tx)

		locked, err := lockLines(ctx, repo, order.ID, lines)
		if err != nil {
			return err
		}
		resolved, err := h.validateShippingEvent(ctx, repo, eventType, locked, qtys)
		if err != nil {
			return err
		}

		ev := &models.ShippingEvent{
			OrderID:     order.ID,
			EventTypeID: eventType.ID,
			Notes:       notes,
			CreatedAt:   h.now(),
		}
		if err := repo.CreateShippingEvent(ctx, ev); err != nil {
			return fmt.Errorf("create shipping event: %w", err)
		}
		for i, line := range locked {
			q := models.ShippingEventQuantity{EventID: ev.ID, LineID: line.ID, Quantity: resolved[i]}
			if err := repo.AddShippingEventQuantity(ctx, line, &q); err != nil {
				if errors.Is(err, ledger.ErrCapacityExceeded) {
					return invalid(ErrInvalidShippingEvent, tooLarge(line.ID))
				}
				return fmt.Errorf("add shipping quantity for line %d: %w", line.ID, err)
			}
			ev.Quantities = append(ev.Quantities, q)
		}
		event = ev
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidShippingEvent) {
			h.metrics.ShippingRejected(eventType.Name)
			h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "shipping event rejected")
		}
		return nil, err
	}

	h.metrics.ShippingRecorded(eventType.Name)
	h.logg.Info(h.logg.WithField(ctx, "shipping_event_id", event.ID), "shipping event recorded")
	return event, nil
}

// IsShippingEventPermitted reports whether qty more units of line may pass
// eventType, checking prerequisites and capacity outside any transaction.
func (h *EventHandler) IsShippingEventPermitted(ctx context.Context, eventType models.ShippingEventType, line models.OrderLine, qty int) (bool, error) {
	types, err := h.repo.ListShippingEventTypes(ctx)
	if err != nil {
		return false, fmt.Errorf("list shipping event types: %w", err)
	}
	reason, err := shippingRejection(ctx, h.repo, eventType, prerequisites(types, eventType), line, qty)
	if err != nil {
		return false, err
	}
	return reason == nil, nil
}

func (h *EventHandler) validateShippingEvent(ctx context.Context, repo Repository, eventType models.ShippingEventType, lines []models.OrderLine, qtys []int) ([]int, error) {
	types, err := repo.ListShippingEventTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipping event types: %w", err)
	}
	required := prerequisites(types, eventType)

	resolved := make([]int, len(lines))
	var reasons error
	for i, line := range lines {
		qty, err := ledger.ResolveQuantity(line, qtys[i])
		if err != nil {
			reasons = multierr.Append(reasons, badQuantity(line.ID, qtys[i]))
			continue
		}
		resolved[i] = qty

		reason, err := shippingRejection(ctx, repo, eventType, required, line, qty)
		if err != nil {
			return nil, err
		}
		reasons = multierr.Append(reasons, reason)
	}
	if err := invalid(ErrInvalidShippingEvent, reasons); err != nil {
		return nil, err
	}
	return resolved, nil
}

// shippingRejection returns the reason a line may not pass eventType for qty
// units, or nil. The second result is reserved for store failures.
func shippingRejection(ctx context.Context, repo ledger.Reader, eventType models.ShippingEventType, required []models.ShippingEventType, line models.OrderLine, qty int) (error, error) {
	for _, p := range required {
		passed, err := ledger.HasPassed(ctx, repo, ledger.Shipping, line, p.ID, qty)
		if err != nil {
			return nil, err
		}
		if !passed {
			return prerequisiteMissing(line.ID, p.Name, qty), nil
		}
	}
	err := ledger.CheckCapacity(ctx, repo, ledger.Shipping, line, eventType.ID, qty)
	if errors.Is(err, ledger.ErrCapacityExceeded) {
		return tooLarge(line.ID), nil
	}
	return nil, err
}

// prerequisites lists the required types sequenced strictly before eventType.
func prerequisites(types []models.ShippingEventType, eventType models.ShippingEventType) []models.ShippingEventType {
	var out []models.ShippingEventType
	for _, t := range types {
		if t.IsRequired && t.ID != eventType.ID && t.SequenceNumber < eventType.SequenceNumber {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// HandlePaymentEvent records a payment event. Lines are optional; when given,
// only capacity is checked.
func (h *EventHandler) HandlePaymentEvent(ctx context.Context, order *models.Order, eventType models.PaymentEventType, amount decimal.Decimal, lines []models.OrderLine, quantities []int, details PaymentDetails) (*models.PaymentEvent, error) {
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	qtys, err := pairQuantities(lines, quantities)
	if err != nil {
		return nil, &ValidationError{Kind: ErrInvalidPaymentEvent, Reasons: []error{err}}
	}
	reference := details.Reference
	if reference == "" {
		reference = uuid.NewString()
	}
	ctx = h.logg.WithFields(h.logg.WithOrderID(ctx, order.ID), map[string]any{
		"event_type": eventType.Name,
		"reference":  reference,
	})

	var event *models.PaymentEvent
	err = h.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := h.repo.WithTx(tx)

		locked, err := lockLines(ctx, repo, order.ID, lines)
		if err != nil {
			return err
		}
		resolved, err := validatePaymentEvent(ctx, repo, eventType, locked, qtys)
		if err != nil {
			return err
		}

		ev := &models.PaymentEvent{
			OrderID:         order.ID,
			EventTypeID:     eventType.ID,
			Amount:          amount,
			Reference:       reference,
			ShippingEventID: details.ShippingEventID,
			CreatedAt:       h.now(),
		}
		if err := repo.CreatePaymentEvent(ctx, ev); err != nil {
			return fmt.Errorf("create payment event: %w", err)
		}
		for i, line := range locked {
			q := models.PaymentEventQuantity{EventID: ev.ID, LineID: line.ID, Quantity: resolved[i]}
			if err := repo.AddPaymentEventQuantity(ctx, line, &q); err != nil {
				if errors.Is(err, ledger.ErrCapacityExceeded) {
					return invalid(ErrInvalidPaymentEvent, tooLarge(line.ID))
				}
				return fmt.Errorf("add payment quantity for line %d: %w", line.ID, err)
			}
			ev.Quantities = append(ev.Quantities, q)
		}
		event = ev
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPaymentEvent) {
			h.metrics.PaymentRejected(eventType.Name)
			h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "payment event rejected")
		}
		return nil, err
	}

	h.metrics.PaymentRecorded(eventType.Name)
	h.logg.Info(h.logg.WithField(ctx, "payment_event_id", event.ID), "payment event recorded")
	return event, nil
}

func validatePaymentEvent(ctx context.Context, repo Repository, eventType models.PaymentEventType, lines []models.OrderLine, qtys []int) ([]int, error) {
	resolved := make([]int, len(lines))
	var reasons error
	for i, line := range lines {
		qty, err := ledger.ResolveQuantity(line, qtys[i])
		if err != nil {
			reasons = multierr.Append(reasons, badQuantity(line.ID, qtys[i]))
			continue
		}
		resolved[i] = qty

		err = ledger.CheckCapacity(ctx, repo, ledger.Payment, line, eventType.ID, qty)
		switch {
		case errors.Is(err, ledger.ErrCapacityExceeded):
			reasons = multierr.Append(reasons, tooLarge(line.ID))
		case err != nil:
			return nil, err
		}
	}
	if err := invalid(ErrInvalidPaymentEvent, reasons); err != nil {
		return nil, err
	}
	return resolved, nil
}

// CalculatePaymentEventSubtotal prices the next quantities of each line that
// have not yet passed eventType. Price history rows are walked in id order
// so units discounted differently are charged at their own price.
func (h *EventHandler) CalculatePaymentEventSubtotal(ctx context.Context, eventType models.PaymentEventType, lines []models.OrderLine, quantities []int) (decimal.Decimal, error) {
	if len(lines) != len(quantities) {
		return decimal.Zero, &ValidationError{Kind: ErrInvalidPaymentEvent, Reasons: []error{
			fmt.Errorf("%d quantities given for %d lines", len(quantities), len(lines)),
		}}
	}
	if err := uniqueLines(lines); err != nil {
		return decimal.Zero, &ValidationError{Kind: ErrInvalidPaymentEvent, Reasons: []error{err}}
	}

	total := decimal.Zero
	for i, line := range lines {
		toConsume := quantities[i]
		if toConsume < 0 {
			return decimal.Zero, invalid(ErrInvalidPaymentEvent, badQuantity(line.ID, toConsume))
		}
		toSkip, err := h.repo.ConsumedQuantity(ctx, ledger.Payment, line.ID, eventType.ID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("consumed payment quantity for line %d: %w", line.ID, err)
		}
		if toSkip+toConsume > line.Quantity {
			return decimal.Zero, invalid(ErrInvalidPaymentEvent, tooLarge(line.ID))
		}

		prices, err := h.repo.ListLinePrices(ctx, line.ID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("list prices for line %d: %w", line.ID, err)
		}
		consumed := 0
		for _, price := range prices {
			if consumed == toConsume {
				break
			}
			if toSkip >= price.Quantity {
				toSkip -= price.Quantity
				continue
			}
			available := price.Quantity - toSkip
			include := min(toConsume-consumed, available)
			total = total.Add(price.PriceInclTax.Mul(decimal.NewFromInt(int64(include))))
			consumed += include
			toSkip = 0
		}
	}
	return total, nil
}

// HaveLinesPassedShippingEvent reports whether every line has passed
// eventType for at least its paired quantity.
func (h *EventHandler) HaveLinesPassedShippingEvent(ctx context.Context, lines []models.OrderLine, quantities []int, eventType models.ShippingEventType) (bool, error) {
	qtys, err := pairQuantities(lines, quantities)
	if err != nil {
		return false, err
	}
	for i, line := range lines {
		qty, err := ledger.ResolveQuantity(line, qtys[i])
		if err != nil {
			return false, err
		}
		passed, err := ledger.HasPassed(ctx, h.repo, ledger.Shipping, line, eventType.ID, qty)
		if err != nil || !passed {
			return false, err
		}
	}
	return true, nil
}

// LineShippingStatus describes how far a line got through each shipping
// event type, e.g. "Picked, Shipped (1/2 items)".
func (h *EventHandler) LineShippingStatus(ctx context.Context, line models.OrderLine) (string, error) {
	entries, err := h.repo.ListLineEventQuantities(ctx, ledger.Shipping, line.ID)
	if err != nil {
		return "", fmt.Errorf("list shipping quantities for line %d: %w", line.ID, err)
	}
	return ledger.Summarise(entries, line.Quantity), nil
}

// HandleOrderStatusChange moves the order to newStatus, cascading to lines
// whose own pipeline permits the cascaded status, and optionally adds a note.
// Setting the current status again only adds the note.
func (h *EventHandler) HandleOrderStatusChange(ctx context.Context, order *models.Order, newStatus, noteMsg string) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	ctx = h.logg.WithOrderID(ctx, order.ID)

	oldStatus := order.Status
	changed := newStatus != oldStatus
	if changed && !h.pipeline.orderAllows(oldStatus, newStatus) {
		return &ValidationError{Kind: ErrInvalidOrderStatus, Reasons: []error{
			fmt.Errorf("'%s' is not a valid status for order %s (current status: '%s')", newStatus, order.Number, oldStatus),
		}}
	}

	cascaded := make(map[int64]string)
	err := h.tx.WithTx(ctx, func(tx *sql.Tx) error {
		repo := h.repo.WithTx(tx)
		if changed {
			if err := repo.UpdateOrderStatus(ctx, order.ID, newStatus); err != nil {
				return fmt.Errorf("update order status: %w", err)
			}
			if lineStatus, ok := h.pipeline.Cascade(newStatus); ok {
				lines, err := repo.ListLines(ctx, order.ID)
				if err != nil {
					return fmt.Errorf("list order lines: %w", err)
				}
				for _, line := range lines {
					if !h.pipeline.lineAllows(line.Status, lineStatus) {
						continue
					}
					if err := repo.UpdateLineStatus(ctx, line.ID, lineStatus); err != nil {
						return fmt.Errorf("cascade status to line %d: %w", line.ID, err)
					}
					cascaded[line.ID] = lineStatus
				}
			}
			change := &models.OrderStatusChange{
				OrderID:   order.ID,
				OldStatus: oldStatus,
				NewStatus: newStatus,
				CreatedAt: h.now(),
			}
			if err := repo.CreateStatusChange(ctx, change); err != nil {
				return fmt.Errorf("record status change: %w", err)
			}
		}
		if noteMsg != "" {
			note := &models.OrderNote{OrderID: order.ID, NoteType: models.NoteTypeSystem, Message: noteMsg, CreatedAt: h.now()}
			if err := repo.CreateNote(ctx, note); err != nil {
				return fmt.Errorf("create note: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	order.Status = newStatus
	for i := range order.Lines {
		if s, ok := cascaded[order.Lines[i].ID]; ok {
			order.Lines[i].Status = s
		}
	}
	if changed {
		h.logg.Info(h.logg.WithFields(ctx, map[string]any{
			"old_status":     oldStatus,
			"new_status":     newStatus,
			"lines_cascaded": len(cascaded),
		}), "order status changed")
	}
	return nil
}

// SetLineStatus moves a single line along the line pipeline.
func (h *EventHandler) SetLineStatus(ctx context.Context, line *models.OrderLine, newStatus string) error {
	if line == nil {
		return fmt.Errorf("line required")
	}
	if newStatus == line.Status {
		return nil
	}
	if !h.pipeline.lineAllows(line.Status, newStatus) {
		return &ValidationError{Kind: ErrInvalidLineStatus, Reasons: []error{
			fmt.Errorf("'%s' is not a valid status (current status: '%s')", newStatus, line.Status),
		}}
	}
	if err := h.repo.UpdateLineStatus(ctx, line.ID, newStatus); err != nil {
		return fmt.Errorf("update line status: %w", err)
	}
	line.Status = newStatus
	return nil
}

// CreateNote appends a note to the order; an empty noteType means System.
func (h *EventHandler) CreateNote(ctx context.Context, order *models.Order, message, noteType string) (*models.OrderNote, error) {
	if noteType == "" {
		noteType = models.NoteTypeSystem
	}
	note := &models.OrderNote{OrderID: order.ID, NoteType: noteType, Message: message, CreatedAt: h.now()}
	if err := h.repo.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return note, nil
}

func (h *EventHandler) AreStockAllocationsAvailable(ctx context.Context, lines []models.OrderLine, quantities []int) (bool, error) {
	if h.stock == nil {
		return false, errStockNotConfigured
	}
	return h.stock.AreAllocationsAvailable(ctx, lines, quantities)
}

func (h *EventHandler) ConsumeStockAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error {
	if h.stock == nil {
		return errStockNotConfigured
	}
	return h.stock.ConsumeAllocations(ctx, order, lines, quantities)
}

func (h *EventHandler) CancelStockAllocations(ctx context.Context, order *models.Order, lines []models.OrderLine, quantities []int) error {
	if h.stock == nil {
		return errStockNotConfigured
	}
	return h.stock.CancelAllocations(ctx, order, lines, quantities)
}

// pairQuantities returns one quantity per line; nil means zero for each,
// which the ledger reads as the full line quantity.
func pairQuantities(lines []models.OrderLine, quantities []int) ([]int, error) {
	if err := uniqueLines(lines); err != nil {
		return nil, err
	}
	if quantities == nil {
		return make([]int, len(lines)), nil
	}
	if len(quantities) != len(lines) {
		return nil, fmt.Errorf("%d quantities given for %d lines", len(quantities), len(lines))
	}
	return quantities, nil
}

// uniqueLines refuses a line listed twice in one request; each event holds
// one quantity row per line.
func uniqueLines(lines []models.OrderLine) error {
	seen := make(map[int64]bool, len(lines))
	for _, l := range lines {
		if seen[l.ID] {
			return duplicateLine(l.ID)
		}
		seen[l.ID] = true
	}
	return nil
}

// lockLines reloads lines under a row lock, keeping the caller's order.
func lockLines(ctx context.Context, repo Repository, orderID int64, lines []models.OrderLine) ([]models.OrderLine, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	locked, err := repo.LockLines(ctx, orderID, ids)
	if err != nil {
		return nil, fmt.Errorf("lock order lines: %w", err)
	}
	byID := make(map[int64]models.OrderLine, len(locked))
	for _, l := range locked {
		byID[l.ID] = l
	}
	out := make([]models.OrderLine, len(ids))
	for i, id := range ids {
		l, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("line %d of order %d: %w", id, orderID, database.ErrLineNotFound)
		}
		out[i] = l
	}
	return out, nil
}
