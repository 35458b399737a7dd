package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockRecord belongs to a product and partner pair. A nil NumInStock means
// the partner does not track physical stock.
type StockRecord struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	PartnerID         int64           `json:"partner_id"`
	PartnerSKU        string          `json:"partner_sku"`
	Currency          string          `json:"currency"`
	PriceExclTax      decimal.Decimal `json:"price_excl_tax"`
	NumInStock        *int            `json:"num_in_stock,omitempty"`
	NumAllocated      *int            `json:"num_allocated,omitempty"`
	LowStockThreshold *int            `json:"low_stock_threshold,omitempty"`
	TrackStock        bool            `json:"track_stock"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type StockAlert struct {
	ID            int64      `json:"id"`
	StockRecordID int64      `json:"stock_record_id"`
	Threshold     int        `json:"threshold"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

const (
	StockAlertOpen   = "Open"
	StockAlertClosed = "Closed"
)
