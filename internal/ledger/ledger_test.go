package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/django-oscar/django-oscar-sub003/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type key struct {
	kind        Kind
	lineID      int64
	eventTypeID int64
}

type fakeReader struct {
	consumed map[key]int
	err      error
}

func (f fakeReader) ConsumedQuantity(_ context.Context, kind Kind, lineID, eventTypeID int64) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.consumed[key{kind, lineID, eventTypeID}], nil
}

func TestResolveQuantity(t *testing.T) {
	line := models.OrderLine{ID: 1, Quantity: 4}

	qty, err := ResolveQuantity(line, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, qty)

	qty, err = ResolveQuantity(line, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, qty)

	_, err = ResolveQuantity(line, -1)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCheckCapacity(t *testing.T) {
	line := models.OrderLine{ID: 7, Quantity: 4}
	r := fakeReader{consumed: map[key]int{{Shipping, 7, 1}: 3}}

	require.NoError(t, CheckCapacity(context.Background(), r, Shipping, line, 1, 1))

	err := CheckCapacity(context.Background(), r, Shipping, line, 1, 2)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	var capErr *CapacityError
	require.True(t, errors.As(err, &capErr))
	assert.Equal(t, 3, capErr.Consumed)
	assert.Equal(t, 2, capErr.Requested)

	// payment rows are a separate ledger
	require.NoError(t, CheckCapacity(context.Background(), r, Payment, line, 1, 4))
}

func TestCheckCapacityPropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	err := CheckCapacity(context.Background(), fakeReader{err: boom}, Shipping, models.OrderLine{ID: 1, Quantity: 1}, 1, 1)
	assert.ErrorIs(t, err, boom)
}

func TestHasPassed(t *testing.T) {
	line := models.OrderLine{ID: 2, Quantity: 5}
	r := fakeReader{consumed: map[key]int{{Shipping, 2, 9}: 2}}

	ok, err := HasPassed(context.Background(), r, Shipping, line, 9, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasPassed(context.Background(), r, Shipping, line, 9, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateOf(t *testing.T) {
	assert.Equal(t, NotStarted, StateOf(0, 3))
	assert.Equal(t, PartiallyPassed, StateOf(2, 3))
	assert.Equal(t, FullyPassed, StateOf(3, 3))
}

func TestSummarise(t *testing.T) {
	entries := []models.LineEventQuantity{
		{EventTypeName: "Picked", Quantity: 2},
		{EventTypeName: "Shipped", Quantity: 1},
		{EventTypeName: "Picked", Quantity: 1},
		{EventTypeName: "Shipped", Quantity: 1},
	}
	assert.Equal(t, "Picked, Shipped (2/3 items)", Summarise(entries, 3))
	assert.Equal(t, "", Summarise(nil, 3))
}
