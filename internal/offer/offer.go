// Package offer evaluates conditional offers against a basket. Conditions
// and benefits are closed sets of variants built from their stored type
// names by NewCondition and NewBenefit.
package offer

import (
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/shopspring/decimal"
)

const (
	TypeSite    = "Site"
	TypeVoucher = "Voucher"
	TypeUser    = "User"
	TypeSession = "Session"
)

const (
	StatusOpen      = "Open"
	StatusSuspended = "Suspended"
	StatusConsumed  = "Consumed"
)

// maxApplications bounds the apply loop when no limit is configured.
const maxApplications = 10000

// VoucherRef is the voucher an offer was reached through.
type VoucherRef struct {
	ID   int64
	Code string
}

// Offer pairs a condition with a benefit. Zero application limits mean
// unlimited.
type Offer struct {
	ID        int64
	Name      string
	Type      string
	Exclusive bool
	Priority  int
	Status    string
	StartAt   *time.Time
	EndAt     *time.Time

	MaxGlobalApplications int
	MaxUserApplications   int
	MaxBasketApplications int

	NumApplications int
	TotalDiscount   decimal.Decimal
	NumOrders       int

	Condition Condition
	Benefit   Benefit
	Voucher   *VoucherRef
}

func (o *Offer) Ref() *basket.OfferRef {
	return &basket.OfferRef{ID: o.ID, Exclusive: o.Exclusive}
}

// IsAvailable checks status, the date window and the global application
// limit.
func (o *Offer) IsAvailable(at time.Time) bool {
	if o.Status != StatusOpen {
		return false
	}
	if o.StartAt != nil && at.Before(*o.StartAt) {
		return false
	}
	if o.EndAt != nil && at.After(*o.EndAt) {
		return false
	}
	if o.MaxGlobalApplications > 0 && o.NumApplications >= o.MaxGlobalApplications {
		return false
	}
	if o.Type == TypeVoucher && o.Voucher == nil {
		return false
	}
	return true
}

// MaxApplications is the most times the offer may apply to one basket.
// userApplications only counts when signedIn.
func (o *Offer) MaxApplications(userApplications int, signedIn bool) int {
	limit := maxApplications
	if o.MaxUserApplications > 0 && signedIn {
		limit = min(limit, max(o.MaxUserApplications-userApplications, 0))
	}
	if o.MaxBasketApplications > 0 {
		limit = min(limit, o.MaxBasketApplications)
	}
	if o.MaxGlobalApplications > 0 {
		limit = min(limit, max(o.MaxGlobalApplications-o.NumApplications, 0))
	}
	return limit
}

func (o *Offer) IsConditionSatisfied(b *basket.Basket) bool {
	return o.Condition.IsSatisfied(b, o.Ref())
}

func (o *Offer) IsConditionPartiallySatisfied(b *basket.Basket) bool {
	return o.Condition.IsPartiallySatisfied(b, o.Ref())
}

func (o *Offer) UpsellMessage(b *basket.Basket) string {
	return o.Condition.UpsellMessage(b, o.Ref())
}

// ApplyBenefit applies the benefit once if the condition holds.
func (o *Offer) ApplyBenefit(b *basket.Basket) Result {
	ref := o.Ref()
	if !o.Condition.IsSatisfied(b, ref) {
		return Result{}
	}
	return o.Benefit.Apply(b, o.Condition, ref)
}

// RecordUsage accounts for one placed order that used the offer freq times.
// The offer is consumed once it reaches its global limit.
func (o *Offer) RecordUsage(freq int, discount decimal.Decimal) {
	o.NumApplications += freq
	o.TotalDiscount = o.TotalDiscount.Add(discount)
	o.NumOrders++
	if o.MaxGlobalApplications > 0 && o.NumApplications >= o.MaxGlobalApplications {
		o.Status = StatusConsumed
	}
}
