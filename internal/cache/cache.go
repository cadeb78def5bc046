// Package cache persists finalized and partial event pages per party so a
// restarted client can rebuild its state without refetching history.
package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
)

var (
	// ErrCorrupt marks an entry whose bytes no longer decode as a page.
	ErrCorrupt = errors.New("corrupt cache entry")
	// ErrInvalidKey is returned for keys outside the initial/current/cursor layout.
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrInvalidPartyID is returned for party ids that cannot name a cache entry.
	ErrInvalidPartyID = errors.New("invalid party id")
)

// PageCache is a durable key/value store of pages keyed by (party, cursor key).
// Writes are idempotent overwrites.
type PageCache interface {
	// Get returns the page stored under key. Corrupt entries are removed and
	// reported as a miss.
	Get(ctx context.Context, partyID, key string) (party.Page, bool, error)

	// Put stores a finalized page under key.
	Put(ctx context.Context, partyID, key string, page party.Page) error

	// PutCurrent stores the partial trailing page under the reserved current key.
	PutCurrent(ctx context.Context, partyID string, page party.Page) error

	// Clear removes every entry for a party.
	Clear(ctx context.Context, partyID string) error

	// LoadAll scans every persisted entry and groups them by party.
	// Corrupt entries are dropped from the store and skipped.
	LoadAll(ctx context.Context) (map[string][]Entry, error)

	Close() error
}

// Entry is one persisted page.
type Entry struct {
	PartyID string
	Key     string
	Page    party.Page
}

// StorageKey is the flat key an entry is known by: {party_id}_{key}.
func StorageKey(partyID, key string) string {
	return partyID + "_" + key
}

func validateKey(key string) error {
	if key == party.CurrentKey {
		return nil
	}
	if _, ok := party.ParseCursorKey(key); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// validatePartyID rejects ids that would resolve to the cache root or its
// parent once used as a path segment.
func validatePartyID(partyID string) error {
	switch partyID {
	case "", ".", "..":
		return fmt.Errorf("%w: %q", ErrInvalidPartyID, partyID)
	}
	return nil
}

// Nop discards writes and never hits.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (party.Page, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, string, party.Page) error         { return nil }
func (Nop) PutCurrent(context.Context, string, party.Page) error          { return nil }
func (Nop) Clear(context.Context, string) error                           { return nil }
func (Nop) LoadAll(context.Context) (map[string][]Entry, error)           { return map[string][]Entry{}, nil }
func (Nop) Close() error                                                  { return nil }

var _ PageCache = Nop{}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// Open builds the backend named by kind. For the file backend path is a
// directory; for sqlite it is the database file.
func Open(kind, path string, compress bool, logger *zap.Logger) (PageCache, error) {
	switch kind {
	case BackendFile:
		return NewFileCache(path, compress, logger)
	case BackendSQLite:
		return NewSQLiteCache(path, compress, logger)
	case BackendNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", kind)
	}
}
