package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/django-oscar/django-oscar-sub003/internal/checkout"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/django-oscar/django-oscar-sub003/internal/stock"
	"github.com/django-oscar/django-oscar-sub003/internal/validation"
	"github.com/django-oscar/django-oscar-sub003/internal/voucher"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createRange(t *testing.T, repo *OfferRepository) *offer.Range {
	t.Helper()
	rng := &offer.Range{Name: "Everything", IncludesAllProducts: true}
	require.NoError(t, repo.CreateRange(context.Background(), rng))
	return rng
}

func siteDefinition(rangeID int64) OfferDefinition {
	return OfferDefinition{
		Name: "Pound off", Type: offer.TypeSite,
		ConditionType: offer.ConditionCount, ConditionValue: decimal.NewFromInt(1), ConditionRangeID: rangeID,
		BenefitType: offer.BenefitAbsolute, BenefitValue: decimal.NewFromInt(1), BenefitMaxAffectedItems: 1,
		BenefitRangeID: &rangeID,
	}
}

func TestCreateOfferRejectsInvalidDefinitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewOfferRepository(db)
	rng := createRange(t, repo)

	def := siteDefinition(rng.ID)
	def.BenefitType = offer.BenefitPercentage
	def.BenefitValue = decimal.NewFromInt(150)
	_, err := repo.CreateOffer(ctx, def)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	def = siteDefinition(rng.ID)
	start := time.Now()
	end := start.Add(-time.Hour)
	def.StartAt, def.EndAt = &start, &end
	_, err = repo.CreateOffer(ctx, def)
	require.ErrorIs(t, err, validation.ErrInvalid)
	assert.Contains(t, err.Error(), "End date should be later than start date")

	def = siteDefinition(rng.ID)
	def.Type = "Sometimes"
	_, err = repo.CreateOffer(ctx, def)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	_, err = repo.CreateOffer(ctx, siteDefinition(rng.ID))
	require.NoError(t, err)
	_, err = repo.CreateOffer(ctx, siteDefinition(rng.ID))
	assert.ErrorIs(t, err, validation.ErrInvalid)
}

func TestListActiveFiltersStatusWindowAndType(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewOfferRepository(db)
	rng := createRange(t, repo)
	now := time.Now()

	open, err := repo.CreateOffer(ctx, siteDefinition(rng.ID))
	require.NoError(t, err)

	future := siteDefinition(rng.ID)
	future.Name = "Later"
	later := now.Add(24 * time.Hour)
	future.StartAt = &later
	_, err = repo.CreateOffer(ctx, future)
	require.NoError(t, err)

	viaVoucher := siteDefinition(rng.ID)
	viaVoucher.Name = "Voucher only"
	viaVoucher.Type = offer.TypeVoucher
	_, err = repo.CreateOffer(ctx, viaVoucher)
	require.NoError(t, err)

	suspended := siteDefinition(rng.ID)
	suspended.Name = "Suspended"
	suspendedID, err := repo.CreateOffer(ctx, suspended)
	require.NoError(t, err)
	require.NoError(t, repo.UpdateStatus(ctx, suspendedID, offer.StatusSuspended))

	active, err := repo.ListActive(ctx, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, open, active[0].ID)
	assert.IsType(t, offer.CountCondition{}, active[0].Condition)
	assert.IsType(t, offer.AbsoluteBenefit{}, active[0].Benefit)
	assert.True(t, active[0].Condition.Range().Contains(12345))
	assert.Zero(t, active[0].MaxGlobalApplications)

	_, err = repo.Get(ctx, 999999)
	assert.ErrorIs(t, err, database.ErrOfferNotFound)
}

type placement struct {
	offers   *OfferRepository
	vouchers *VoucherRepository
	checkout *CheckoutRepository
	stock    *StockRepository
	recorder *checkout.Recorder
}

func newPlacement(t *testing.T, db *sql.DB) placement {
	t.Helper()
	tx := database.NewTxRunner(db, database.DefaultTxOptions())
	p := placement{
		offers:   NewOfferRepository(db),
		vouchers: NewVoucherRepository(db),
		checkout: NewCheckoutRepository(db),
		stock:    NewStockRepository(db),
	}
	tracker, err := voucher.NewTracker(p.vouchers, tx, nil)
	require.NoError(t, err)
	coord, err := stock.NewCoordinator(p.stock, tx, nil, nil)
	require.NoError(t, err)
	p.recorder, err = checkout.NewRecorder(p.checkout, tx, tracker, coord, nil)
	require.NoError(t, err)
	return p
}

func TestRecordPlacementEndToEnd(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	s := seedOrder(t, db, 4)
	p := newPlacement(t, db)
	rng := createRange(t, p.offers)

	siteID, err := p.offers.CreateOffer(ctx, siteDefinition(rng.ID))
	require.NoError(t, err)

	vdef := siteDefinition(rng.ID)
	vdef.Name = "Ten percent"
	vdef.Type = offer.TypeVoucher
	vdef.BenefitType = offer.BenefitPercentage
	vdef.BenefitValue = decimal.NewFromInt(10)
	vdef.BenefitMaxAffectedItems = 0
	vdef.MaxBasketApplications = 1
	vdef.Priority = 10
	voucherOfferID, err := p.offers.CreateOffer(ctx, vdef)
	require.NoError(t, err)

	v := &models.Voucher{
		Name: "Spring", Code: " save10 ", Usage: models.VoucherOncePerCustomer,
		StartAt: time.Now().Add(-time.Hour), EndAt: time.Now().Add(time.Hour),
		OfferIDs: []int64{voucherOfferID},
	}
	require.NoError(t, p.vouchers.CreateVoucher(ctx, v))
	assert.Equal(t, "SAVE10", v.Code)

	dup := &models.Voucher{Name: "Copy", Code: "save10", Usage: models.VoucherMultiUse, StartAt: v.StartAt, EndAt: v.EndAt}
	assert.ErrorIs(t, p.vouchers.CreateVoucher(ctx, dup), validation.ErrInvalid)

	loaded, err := p.vouchers.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, []int64{voucherOfferID}, loaded.OfferIDs)

	active, err := p.offers.ListActive(ctx, time.Now())
	require.NoError(t, err)
	viaVoucher, err := p.offers.ListForVoucher(ctx, loaded)
	require.NoError(t, err)
	require.Len(t, viaVoucher, 1)
	assert.Equal(t, "SAVE10", viaVoucher[0].Voucher.Code)

	b := basket.New(s.order.UserID, "GBP")
	b.AddLine(basket.NewLine(0, s.product.ID, s.record.ID, 4, decimal.NewFromInt(10), decimal.NewFromInt(10), true))
	apps, err := offer.NewApplicator(p.offers, nil, nil).Apply(ctx, b, append(active, viaVoucher...), s.order.UserID)
	require.NoError(t, err)
	require.Equal(t, 2, apps.Len())

	require.NoError(t, p.recorder.RecordPlacement(ctx, s.order, s.order.Lines, apps, s.order.UserID))

	discounts, err := p.checkout.ListOrderDiscounts(ctx, s.order.ID)
	require.NoError(t, err)
	require.Len(t, discounts, 2)
	assert.Equal(t, "SAVE10", discounts[0].VoucherCode)
	assert.Equal(t, voucherOfferID, *discounts[0].OfferID)

	var siteApp offer.Application
	for _, a := range apps.All() {
		if a.Offer.ID == siteID {
			siteApp = a
		}
	}
	used, err := p.offers.UserApplications(ctx, siteID, *s.order.UserID)
	require.NoError(t, err)
	assert.Equal(t, siteApp.Frequency, used)

	site, err := p.offers.Get(ctx, siteID)
	require.NoError(t, err)
	assert.Equal(t, siteApp.Frequency, site.NumApplications)
	assert.Equal(t, 1, site.NumOrders)

	after, err := p.vouchers.GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, after.NumOrders)
	assert.True(t, after.TotalDiscount.IsPositive())

	n, err := p.vouchers.CountUserApplications(ctx, v.ID, *s.order.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := p.stock.GetStockRecord(ctx, s.record.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *rec.NumAllocated)
}

func TestRecordOfferUsageConsumesAtGlobalLimit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := newPlacement(t, db)
	rng := createRange(t, p.offers)

	def := siteDefinition(rng.ID)
	def.MaxGlobalApplications = 3
	id, err := p.offers.CreateOffer(ctx, def)
	require.NoError(t, err)

	status, err := p.checkout.RecordOfferUsage(ctx, id, 2, decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.Equal(t, offer.StatusOpen, status)

	status, err = p.checkout.RecordOfferUsage(ctx, id, 1, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, offer.StatusConsumed, status)

	o, err := p.offers.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, o.NumApplications)
	assert.Equal(t, "3.00", o.TotalDiscount.StringFixed(2))
	assert.Equal(t, 3, o.MaxGlobalApplications)

	active, err := p.offers.ListActive(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = p.checkout.RecordOfferUsage(ctx, 999999, 1, decimal.Zero)
	assert.ErrorIs(t, err, database.ErrOfferNotFound)
}
