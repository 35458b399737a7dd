package voucher

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/django-oscar/django-oscar-sub003/internal/basket"
	"github.com/django-oscar/django-oscar-sub003/internal/database"
	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/django-oscar/django-oscar-sub003/internal/offer"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeState struct {
	vouchers map[int64]models.Voucher
	apps     []models.VoucherApplication
}

type fakeRepository struct {
	state         fakeState
	failIncrement bool
}

func newFakeRepository(vs ...models.Voucher) *fakeRepository {
	r := &fakeRepository{state: fakeState{vouchers: map[int64]models.Voucher{}}}
	for _, v := range vs {
		r.state.vouchers[v.ID] = v
	}
	return r
}

func (r *fakeRepository) snapshot() fakeState {
	vs := make(map[int64]models.Voucher, len(r.state.vouchers))
	for k, v := range r.state.vouchers {
		vs[k] = v
	}
	return fakeState{vouchers: vs, apps: slices.Clone(r.state.apps)}
}

func (r *fakeRepository) WithTx(*sql.Tx) Repository { return r }

func (r *fakeRepository) GetByCode(_ context.Context, code string) (*models.Voucher, error) {
	for _, v := range r.state.vouchers {
		if v.Code == code {
			return &v, nil
		}
	}
	return nil, database.ErrVoucherNotFound
}

func (r *fakeRepository) CountApplications(_ context.Context, voucherID int64) (int, error) {
	n := 0
	for _, a := range r.state.apps {
		if a.VoucherID == voucherID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepository) CountUserApplications(_ context.Context, voucherID, userID int64) (int, error) {
	n := 0
	for _, a := range r.state.apps {
		if a.VoucherID == voucherID && a.UserID != nil && *a.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepository) CreateApplication(_ context.Context, app *models.VoucherApplication) error {
	app.ID = int64(len(r.state.apps) + 1)
	r.state.apps = append(r.state.apps, *app)
	return nil
}

func (r *fakeRepository) IncrementOrders(_ context.Context, voucherID int64) error {
	if r.failIncrement {
		return errBoom
	}
	v := r.state.vouchers[voucherID]
	v.NumOrders++
	r.state.vouchers[voucherID] = v
	return nil
}

func (r *fakeRepository) AddDiscount(_ context.Context, voucherID int64, amount decimal.Decimal) error {
	v := r.state.vouchers[voucherID]
	v.TotalDiscount = v.TotalDiscount.Add(amount)
	r.state.vouchers[voucherID] = v
	return nil
}

type fakeTxRunner struct {
	repo *fakeRepository
}

func (f *fakeTxRunner) WithTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	snap := f.repo.snapshot()
	if err := fn(nil); err != nil {
		f.repo.state = snap
		return err
	}
	return nil
}

func newTestTracker(t *testing.T, repo *fakeRepository) *Tracker {
	t.Helper()
	tr, err := NewTracker(repo, &fakeTxRunner{repo: repo}, nil)
	require.NoError(t, err)
	return tr
}

func voucherWith(id int64, usage string) models.Voucher {
	now := time.Now()
	return models.Voucher{
		ID: id, Name: "Voucher", Code: "SAVE", Usage: usage,
		StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour),
		TotalDiscount: decimal.Zero,
	}
}

func int64p(v int64) *int64 { return &v }

func TestOncePerCustomerFlipsAfterOneUse(t *testing.T) {
	v := voucherWith(1, models.VoucherOncePerCustomer)
	repo := newFakeRepository(v)
	tr := newTestTracker(t, repo)
	ctx := context.Background()
	alice, bob := int64p(10), int64p(11)

	ok, msg, err := tr.IsAvailableToUser(ctx, &v, alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, msg)

	require.NoError(t, tr.RecordUsage(ctx, v.ID, 100, alice))

	for range 2 {
		ok, msg, err = tr.IsAvailableToUser(ctx, &v, alice)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "You have already used this voucher in a previous order", msg)
	}

	ok, _, err = tr.IsAvailableToUser(ctx, &v, bob)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, msg, err = tr.IsAvailableToUser(ctx, &v, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "This voucher is only available to signed in users", msg)
}

func TestSingleUseIgnoresUser(t *testing.T) {
	v := voucherWith(1, models.VoucherSingleUse)
	repo := newFakeRepository(v)
	tr := newTestTracker(t, repo)
	ctx := context.Background()

	require.NoError(t, tr.RecordUsage(ctx, v.ID, 100, nil))

	ok, msg, err := tr.IsAvailableToUser(ctx, &v, int64p(5))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "This voucher has already been used", msg)
	assert.Nil(t, repo.state.apps[0].UserID)
}

func TestMultiUseAlwaysAvailable(t *testing.T) {
	v := voucherWith(1, models.VoucherMultiUse)
	repo := newFakeRepository(v)
	tr := newTestTracker(t, repo)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, tr.RecordUsage(ctx, v.ID, int64(i+1), int64p(1)))
	}
	ok, _, err := tr.IsAvailableToUser(ctx, &v, int64p(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, repo.state.vouchers[1].NumOrders)
}

func TestRecordUsageRollsBack(t *testing.T) {
	v := voucherWith(1, models.VoucherSingleUse)
	repo := newFakeRepository(v)
	repo.failIncrement = true
	tr := newTestTracker(t, repo)

	err := tr.RecordUsage(context.Background(), v.ID, 100, nil)
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, repo.state.apps)
	assert.Equal(t, 0, repo.state.vouchers[1].NumOrders)
}

func TestRecordDiscount(t *testing.T) {
	v := voucherWith(1, models.VoucherMultiUse)
	repo := newFakeRepository(v)
	tr := newTestTracker(t, repo)

	require.NoError(t, tr.RecordDiscount(context.Background(), v.ID, decimal.RequireFromString("2.50")))
	require.NoError(t, tr.RecordDiscount(context.Background(), v.ID, decimal.RequireFromString("1.25")))
	assert.Equal(t, "3.75", repo.state.vouchers[1].TotalDiscount.StringFixed(2))
}

func TestGetNormalizesCode(t *testing.T) {
	repo := newFakeRepository(voucherWith(1, models.VoucherMultiUse))
	tr := newTestTracker(t, repo)

	v, err := tr.Get(context.Background(), "  save ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.ID)

	_, err = tr.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, database.ErrVoucherNotFound)
}

func TestIsAvailableForBasket(t *testing.T) {
	v := voucherWith(1, models.VoucherMultiUse)
	tr := newTestTracker(t, newFakeRepository(v))
	ctx := context.Background()

	everything := &offer.Range{Name: "All", IncludesAllProducts: true}
	o := &offer.Offer{
		ID: 1, Type: offer.TypeVoucher, Status: offer.StatusOpen,
		Condition: offer.CountCondition{Rng: everything, Value: 2},
		Benefit:   offer.PercentageBenefit{Rng: everything, Value: decimal.NewFromInt(10)},
	}

	empty := basket.New(nil, "GBP")
	ok, msg, err := tr.IsAvailableForBasket(ctx, &v, []*offer.Offer{o}, empty, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "This voucher is not available for this basket", msg)

	b := basket.New(nil, "GBP")
	b.AddLine(basket.NewLine(0, 1, 1, 1, decimal.NewFromInt(5), decimal.NewFromInt(5), true))
	ok, _, err = tr.IsAvailableForBasket(ctx, &v, []*offer.Offer{o}, b, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	expired := v
	expired.EndAt = time.Now().Add(-time.Minute)
	expired.StartAt = expired.EndAt.Add(-time.Hour)
	ok, msg, err = tr.IsAvailableForBasket(ctx, &expired, []*offer.Offer{o}, b, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "The 'SAVE' voucher has expired", msg)
}

func TestValidate(t *testing.T) {
	v := voucherWith(1, models.VoucherSingleUse)
	v.Code = " summer10 "
	require.NoError(t, Validate(&v))
	assert.Equal(t, "SUMMER10", v.Code)

	short := voucherWith(2, models.VoucherMultiUse)
	short.Code = "x2"
	require.NoError(t, Validate(&short))

	spaced := voucherWith(3, models.VoucherMultiUse)
	spaced.Code = "has space"
	err := Validate(&spaced)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code: must not contain spaces")

	v.EndAt = v.StartAt.Add(-time.Second)
	err = Validate(&v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "End date should be later than start date")

	v.EndAt = v.StartAt
	v.Usage = "Sometimes"
	err = Validate(&v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage")
}

func TestIsActiveWindow(t *testing.T) {
	v := voucherWith(1, models.VoucherMultiUse)
	assert.True(t, IsActive(&v, v.StartAt))
	assert.True(t, IsActive(&v, v.EndAt))
	assert.False(t, IsActive(&v, v.EndAt.Add(time.Nanosecond)))
	assert.True(t, IsExpired(&v, v.EndAt.Add(time.Nanosecond)))
	assert.False(t, IsExpired(&v, v.StartAt.Add(-time.Hour)))
}
