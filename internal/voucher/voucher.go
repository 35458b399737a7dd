// Package voucher decides who may use a voucher and records its usage.
package voucher

import (
	"strings"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
)

const (
	msgAlreadyUsed     = "This voucher has already been used"
	msgSignedInOnly    = "This voucher is only available to signed in users"
	msgUsedByCustomer  = "You have already used this voucher in a previous order"
	msgNotForBasket    = "This voucher is not available for this basket"
	msgEndBeforeStart  = "End date should be later than start date"
	msgExpiredFormat   = "The '%s' voucher has expired"
	msgNotActiveFormat = "The '%s' voucher is not active"
)

// NormalizeCode is applied to codes on save and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate normalizes the code and checks the voucher's fields.
func Validate(v *models.Voucher) error {
	v.Code = NormalizeCode(v.Code)
	return validation.Struct(v, validation.Messages{
		"end_at.gtefield": msgEndBeforeStart,
	})
}

// IsActive is true from StartAt to EndAt inclusive.
func IsActive(v *models.Voucher, at time.Time) bool {
	return !at.Before(v.StartAt) && !at.After(v.EndAt)
}

func IsExpired(v *models.Voucher, at time.Time) bool {
	return at.After(v.EndAt)
}
