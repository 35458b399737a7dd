package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	VoucherSingleUse       = "Single use"
	VoucherMultiUse        = "Multi-use"
	VoucherOncePerCustomer = "Once per customer"
)

type Voucher struct {
	ID                 int64           `json:"id"`
	Name               string          `json:"name" validate:"required,max=128"`
	Code               string          `json:"code" validate:"required,max=128,nospace"`
	Usage              string          `json:"usage" validate:"required,oneof='Single use' 'Multi-use' 'Once per customer'"`
	StartAt            time.Time       `json:"start_at" validate:"required"`
	EndAt              time.Time       `json:"end_at" validate:"required,gtefield=StartAt"`
	NumBasketAdditions int             `json:"num_basket_additions"`
	NumOrders          int             `json:"num_orders"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	OfferIDs           []int64         `json:"offer_ids,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

type VoucherApplication struct {
	ID        int64     `json:"id"`
	VoucherID int64     `json:"voucher_id"`
	OrderID   int64     `json:"order_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DiscountSource is the snapshot of the offer and voucher a discount came
// from. The ids become nil once the referenced rows are deleted; the names
// stay.
type DiscountSource struct {
	OfferID     *int64 `json:"offer_id,omitempty"`
	OfferName   string `json:"offer_name"`
	VoucherID   *int64 `json:"voucher_id,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
}

type OrderDiscount struct {
	ID      int64 `json:"id"`
	OrderID int64 `json:"order_id"`
	DiscountSource
	Category  string          `json:"category"`
	Frequency int             `json:"frequency"`
	Amount    decimal.Decimal `json:"amount"`
	Message   string          `json:"message,omitempty"`
}

const (
	DiscountCategoryBasket   = "Basket"
	DiscountCategoryShipping = "Shipping"
)

// Description prefers the voucher code, then the offer name.
func (d OrderDiscount) Description() string {
	if d.VoucherCode != "" {
		return d.VoucherCode
	}
	if d.OfferName != "" {
		return d.OfferName
	}
	return "Discount"
}
