package order

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

var (
	ErrInvalidShippingEvent = errors.New("invalid shipping event")
	ErrInvalidPaymentEvent  = errors.New("invalid payment event")
	ErrInvalidOrderStatus   = errors.New("invalid order status")
	ErrInvalidLineStatus    = errors.New("invalid line status")
)

// ValidationError carries every reason a request was refused. Its message is
// meant to be shown to the operator as is; errors.Is matches Kind.
type ValidationError struct {
	Kind    error
	Reasons []error
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return e.Kind.Error()
	}
	msgs := make([]string, 0, len(e.Reasons))
	for _, err := range e.Reasons {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, ", ")
}

func (e *ValidationError) Unwrap() []error {
	return append([]error{e.Kind}, e.Reasons...)
}

// invalid combines accumulated reasons under kind. It returns nil when there
// is nothing to report.
func invalid(kind error, reasons error) error {
	if reasons == nil {
		return nil
	}
	return &ValidationError{Kind: kind, Reasons: multierr.Errors(reasons)}
}

func tooLarge(lineID int64) error {
	return fmt.Errorf("The selected quantity for line #%d is too large", lineID)
}

func badQuantity(lineID int64, qty int) error {
	return fmt.Errorf("The quantity %d for line #%d is not valid", qty, lineID)
}

func prerequisiteMissing(lineID int64, eventType string, qty int) error {
	return fmt.Errorf("Line #%d has not passed '%s' for %d item(s)", lineID, eventType, qty)
}

func duplicateLine(lineID int64) error {
	return fmt.Errorf("Line #%d is selected more than once", lineID)
}
