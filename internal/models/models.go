package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	UserID       *int64          `json:"user_id,omitempty"`
	Status       string          `json:"status"`
	Currency     string          `json:"currency"`
	TotalInclTax decimal.Decimal `json:"total_incl_tax"`
	TotalExclTax decimal.Decimal `json:"total_excl_tax"`
	PlacedAt     time.Time       `json:"placed_at"`
	Lines        []OrderLine     `json:"lines,omitempty"`
}

// OrderLine keeps a snapshot of the product so the line survives product deletion.
type OrderLine struct {
	ID            int64  `json:"id"`
	OrderID       int64  `json:"order_id"`
	ProductID     *int64 `json:"product_id,omitempty"`
	StockRecordID *int64 `json:"stock_record_id,omitempty"`
	PartnerID     *int64 `json:"partner_id,omitempty"`
	Title         string `json:"title"`
	UPC           string `json:"upc,omitempty"`
	PartnerSKU    string `json:"partner_sku"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`

	LinePriceInclTax                decimal.Decimal `json:"line_price_incl_tax"`
	LinePriceExclTax                decimal.Decimal `json:"line_price_excl_tax"`
	LinePriceBeforeDiscountsInclTax decimal.Decimal `json:"line_price_before_discounts_incl_tax"`
	LinePriceBeforeDiscountsExclTax decimal.Decimal `json:"line_price_before_discounts_excl_tax"`

	NumAllocated *int `json:"num_allocated,omitempty"`
}

// LinePrice is one row of a line's price history. A line carries several rows
// when offers priced part of its quantity differently.
type LinePrice struct {
	ID           int64           `json:"id"`
	OrderID      int64           `json:"order_id"`
	LineID       int64           `json:"line_id"`
	Quantity     int             `json:"quantity"`
	PriceInclTax decimal.Decimal `json:"price_incl_tax"`
	PriceExclTax decimal.Decimal `json:"price_excl_tax"`
}

type OrderStatusChange struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	CreatedAt time.Time `json:"created_at"`
}

type OrderNote struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	NoteType  string    `json:"note_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	OrderStatusPending        = "Pending"
	OrderStatusBeingProcessed = "Being processed"
	OrderStatusComplete       = "Complete"
	OrderStatusCancelled      = "Cancelled"

	LineStatusPending        = "Pending"
	LineStatusBeingProcessed = "Being processed"
	LineStatusShipped        = "Shipped"
	LineStatusCancelled      = "Cancelled"

	NoteTypeInfo   = "Info"
	NoteTypeSystem = "System"
)

type Partner struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required,max=128"`
}

type Product struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title" validate:"required,max=255"`
	UPC            string    `json:"upc,omitempty" validate:"max=64"`
	IsDiscountable bool      `json:"is_discountable"`
	CreatedAt      time.Time `json:"created_at"`
}
