package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

var ErrInvalidCursor = errors.New("invalid cursor")

type CursorPage[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// OrderCursor is the keyset position of the last order on a page.
type OrderCursor struct {
	PlacedAt time.Time `json:"placed_at"`
	ID       int64     `json:"id"`
}

// start is the position before the newest possible order.
func (OrderCursor) start() OrderCursor {
	return OrderCursor{PlacedAt: time.Now().Add(time.Hour), ID: math.MaxInt64}
}

func EncodeCursor(c OrderCursor) string {
	s, err := encodeCursor(c)
	if err != nil {
		return ""
	}
	return s
}

func DecodeCursor(encoded string) (OrderCursor, error) {
	if encoded == "" {
		return OrderCursor{}.start(), nil
	}
	c, err := decodeCursor[OrderCursor](encoded)
	if err != nil {
		return OrderCursor{}, err
	}
	if c.ID <= 0 || c.PlacedAt.IsZero() {
		return OrderCursor{}, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}
	return c, nil
}

func encodeCursor[C any](c C) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor[C any](encoded string) (C, error) {
	var c C
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return c, nil
}

// pageLimit clamps a requested page size.
func pageLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultPageSize
	case limit > maxPageSize:
		return maxPageSize
	}
	return limit
}

// newPage trims rows fetched with limit+1 to a page, setting the next
// cursor from the last kept item when more rows exist.
func newPage[T any](rows []T, limit int, cursorOf func(T) string) *CursorPage[T] {
	page := &CursorPage[T]{Items: rows}
	if len(rows) > limit {
		page.Items = rows[:limit]
		page.HasMore = true
		page.NextCursor = cursorOf(page.Items[limit-1])
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
