package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippingEventType is ordered by SequenceNumber. Required types with a lower
// sequence number are prerequisites of later types.
type ShippingEventType struct {
	ID             int64  `json:"id"`
	Name           string `json:"name" validate:"required,max=255"`
	Code           string `json:"code" validate:"required,max=128"`
	SequenceNumber int    `json:"sequence_number" validate:"gte=0"`
	IsRequired     bool   `json:"is_required"`
}

type PaymentEventType struct {
	ID             int64  `json:"id"`
	Name           string `json:"name" validate:"required,max=255"`
	Code           string `json:"code" validate:"required,max=128"`
	SequenceNumber int    `json:"sequence_number" validate:"gte=0"`
}

type ShippingEvent struct {
	ID          int64                   `json:"id"`
	OrderID     int64                   `json:"order_id"`
	EventTypeID int64                   `json:"event_type_id"`
	Notes       string                  `json:"notes,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	Quantities  []ShippingEventQuantity `json:"quantities,omitempty"`
}

type ShippingEventQuantity struct {
	ID       int64 `json:"id"`
	EventID  int64 `json:"event_id"`
	LineID   int64 `json:"line_id"`
	Quantity int   `json:"quantity"`
}

type PaymentEvent struct {
	ID              int64                  `json:"id"`
	OrderID         int64                  `json:"order_id"`
	EventTypeID     int64                  `json:"event_type_id"`
	Amount          decimal.Decimal        `json:"amount"`
	Reference       string                 `json:"reference"`
	ShippingEventID *int64                 `json:"shipping_event_id,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	Quantities      []PaymentEventQuantity `json:"quantities,omitempty"`
}

type PaymentEventQuantity struct {
	ID       int64 `json:"id"`
	EventID  int64 `json:"event_id"`
	LineID   int64 `json:"line_id"`
	Quantity int   `json:"quantity"`
}

// LineEventQuantity is one ledger row joined with its event type, in event
// creation order.
type LineEventQuantity struct {
	EventID       int64     `json:"event_id"`
	EventTypeID   int64     `json:"event_type_id"`
	EventTypeName string    `json:"event_type_name"`
	Quantity      int       `json:"quantity"`
	CreatedAt     time.Time `json:"created_at"`
}
