package party

import (
	"slices"
	"strconv"
)

// DefaultPageSize is the capacity of a finalized page.
const DefaultPageSize = 10

// Reserved durable cache keys.
const (
	InitialKey = "initial"
	CurrentKey = "current"
)

// Page is a batch of events sorted ascending by EventID.
type Page []Event

// First returns the lowest event id in the page, or 0 for an empty page.
func (p Page) First() uint64 {
	if len(p) == 0 {
		return 0
	}
	return p[0].EventID
}

// Last returns the highest event id in the page, or 0 for an empty page.
func (p Page) Last() uint64 {
	if len(p) == 0 {
		return 0
	}
	return p[len(p)-1].EventID
}

// Clone returns a copy that shares no backing array with p.
func (p Page) Clone() Page {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}

// SortEvents orders events ascending by EventID in place.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		switch {
		case a.EventID < b.EventID:
			return -1
		case a.EventID > b.EventID:
			return 1
		}
		return 0
	})
}

// CursorKey is the durable cache and request key for a cursor.
// A nil cursor is the cursor-less initial fetch.
func CursorKey(cursor *uint64) string {
	if cursor == nil {
		return InitialKey
	}
	return strconv.FormatUint(*cursor, 10)
}

// ParseCursorKey reverses CursorKey. ok is false for keys that are neither
// the initial key nor a decimal cursor.
func ParseCursorKey(key string) (cursor *uint64, ok bool) {
	if key == InitialKey {
		return nil, true
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return nil, false
	}
	return &n, true
}

// Cursor returns a pointer to n, for building optional cursors inline.
func Cursor(n uint64) *uint64 {
	return &n
}
