package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripAndRejects(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	c, err := DecodeCursor(EncodeCursor(OrderCursor{PlacedAt: at, ID: 42}))
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.ID)
	assert.True(t, at.Equal(c.PlacedAt))

	start, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, start.PlacedAt.After(time.Now()))

	_, err = DecodeCursor("not base64!")
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = DecodeCursor(EncodeCursor(OrderCursor{ID: 7}))
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestNewPage(t *testing.T) {
	label := func(n int) string { return string(rune('a' + n)) }

	page := newPage([]int{1, 2, 3, 4}, 3, label)
	assert.Equal(t, []int{1, 2, 3}, page.Items)
	assert.True(t, page.HasMore)
	assert.Equal(t, "d", page.NextCursor)

	page = newPage([]int(nil), 3, label)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
	assert.False(t, page.HasMore)

	assert.Equal(t, defaultPageSize, pageLimit(0))
	assert.Equal(t, maxPageSize, pageLimit(10_000))
	assert.Equal(t, 7, pageLimit(7))
}
