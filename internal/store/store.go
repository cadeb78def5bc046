// Package store holds the authoritative in-memory event state for every party
// the process follows.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/cache"
	"github.com/coderaid/partysync/internal/party"
)

// Store owns per-party sync state. Every mutation takes the store lock, so
// all writes for a party are serialized.
type Store struct {
	mu       sync.Mutex
	parties  map[string]*partyState
	pageSize int

	// persistMu is taken before mu is released so durable writes land in
	// the same order as the state changes that produced them.
	persistMu sync.Mutex

	cache  cache.PageCache
	logger *zap.Logger
}

type partyState struct {
	pages       []party.Page
	current     party.Page
	seen        map[uint64]struct{}
	lastCursor  *uint64
	lastFetch   time.Time
	loading     bool
	rateLimited bool
	retryCount  int
	backoff     time.Duration
	active      map[string]struct{}

	initialCached bool
}

func newPartyState() *partyState {
	return &partyState{
		seen:   make(map[uint64]struct{}),
		active: make(map[string]struct{}),
	}
}

// New creates an empty store. A nil page cache disables persistence.
func New(pc cache.PageCache, pageSize int, logger *zap.Logger) *Store {
	if pc == nil {
		pc = cache.Nop{}
	}
	if pageSize <= 0 {
		pageSize = party.DefaultPageSize
	}
	return &Store{
		parties:  make(map[string]*partyState),
		pageSize: pageSize,
		cache:    pc,
		logger:   logger,
	}
}

// PageSize returns the capacity of a finalized page.
func (s *Store) PageSize() int {
	return s.pageSize
}

// state returns the party's state, creating it on first use. Caller holds mu.
func (s *Store) state(partyID string) *partyState {
	ps, ok := s.parties[partyID]
	if !ok {
		ps = newPartyState()
		s.parties[partyID] = ps
	}
	return ps
}

type pendingWrite struct {
	key     string
	page    party.Page
	initial bool
}

// Merge folds a fetch result into the party's state: unseen events go to the
// current page, full pages are finalized and persisted, and the cursor
// advances past each finalized page. It returns the number of new events.
// Persistence failures are logged and never fail the merge.
func (s *Store) Merge(ctx context.Context, partyID string, cursor *uint64, fetched []party.Event) int {
	s.mu.Lock()
	ps := s.state(partyID)
	novel, writes := s.apply(ps, fetched, true)

	if cursor == nil && len(ps.pages) == 0 && len(fetched) > 0 {
		raw := party.Page(slices.Clone(fetched))
		party.SortEvents(raw)
		writes = append(writes, pendingWrite{key: party.InitialKey, page: raw, initial: true})
	}
	if novel > 0 {
		writes = append(writes, pendingWrite{key: party.CurrentKey, page: ps.current.Clone()})
	}

	// persistMu is never held while taking mu.
	s.persistMu.Lock()
	s.mu.Unlock()

	initialStored := false
	for _, w := range writes {
		var err error
		if w.key == party.CurrentKey {
			err = s.cache.PutCurrent(ctx, partyID, w.page)
		} else {
			err = s.cache.Put(ctx, partyID, w.key, w.page)
		}
		if err != nil {
			s.logger.Warn("failed to persist page",
				zap.String("party_id", partyID),
				zap.String("key", w.key),
				zap.Error(err))
			continue
		}
		if w.key == party.InitialKey {
			initialStored = true
		}
	}
	s.persistMu.Unlock()

	if initialStored {
		s.markInitialCached(partyID, ps)
	}

	if novel > 0 {
		s.logger.Debug("merged events",
			zap.String("party_id", partyID),
			zap.String("cursor", party.CursorKey(cursor)),
			zap.Int("fetched", len(fetched)),
			zap.Int("new", novel))
	}
	return novel
}

// apply merges events into ps and returns the finalized pages that need
// persisting when persist is set. Caller holds mu.
func (s *Store) apply(ps *partyState, events []party.Event, persist bool) (int, []pendingWrite) {
	novel := 0
	for _, e := range events {
		if _, ok := ps.seen[e.EventID]; ok {
			continue
		}
		ps.seen[e.EventID] = struct{}{}
		ps.current = append(ps.current, e)
		novel++
	}
	if novel == 0 {
		return 0, nil
	}
	party.SortEvents(ps.current)

	var writes []pendingWrite
	for len(ps.current) >= s.pageSize {
		page := party.Page(slices.Clone(ps.current[:s.pageSize]))
		ps.current = slices.Clone(ps.current[s.pageSize:])

		key := party.InitialKey
		if len(ps.pages) > 0 {
			key = party.CursorKey(ps.lastCursor)
		}
		ps.pages = append(ps.pages, page)
		if last := page.Last(); ps.lastCursor == nil || last > *ps.lastCursor {
			ps.lastCursor = party.Cursor(last)
		}
		if persist {
			writes = append(writes, pendingWrite{key: key, page: page})
		}
	}
	return novel, writes
}

// markInitialCached flags ps unless the party was reset since ps was read.
func (s *Store) markInitialCached(partyID string, ps *partyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parties[partyID] == ps {
		ps.initialCached = true
	}
}

// Restore replays persisted entries into the party's state without writing
// anything back. Entries are applied initial first, then by ascending cursor,
// then the current page, which rebuilds the same pages they were cut from.
func (s *Store) Restore(partyID string, entries []cache.Entry) {
	ordered := slices.Clone(entries)
	slices.SortStableFunc(ordered, func(a, b cache.Entry) int {
		return compareKeys(a.Key, b.Key)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(partyID)
	for _, e := range ordered {
		s.apply(ps, e.Page, false)
		if e.Key == party.InitialKey {
			ps.initialCached = true
		}
	}
}

func keyRank(key string) (int, uint64) {
	switch key {
	case party.InitialKey:
		return 0, 0
	case party.CurrentKey:
		return 2, 0
	}
	if c, ok := party.ParseCursorKey(key); ok && c != nil {
		return 1, *c
	}
	return 3, 0
}

func compareKeys(a, b string) int {
	ra, ca := keyRank(a)
	rb, cb := keyRank(b)
	switch {
	case ra != rb:
		return ra - rb
	case ca < cb:
		return -1
	case ca > cb:
		return 1
	}
	return 0
}

// LoadFromCache rebuilds every persisted party. It returns the number of
// parties restored.
func (s *Store) LoadFromCache(ctx context.Context) (int, error) {
	all, err := s.cache.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading page cache: %w", err)
	}
	for partyID, entries := range all {
		s.Restore(partyID, entries)
		s.logger.Debug("restored party from cache",
			zap.String("party_id", partyID),
			zap.Int("entries", len(entries)))
	}
	return len(all), nil
}

// Events returns every event merged for the party, ascending by id.
// The result is a fresh slice; callers may keep it.
func (s *Store) Events(partyID string) []party.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok {
		return []party.Event{}
	}
	n := len(ps.current)
	for _, p := range ps.pages {
		n += len(p)
	}
	out := make([]party.Event, 0, n)
	for _, p := range ps.pages {
		out = append(out, p...)
	}
	out = append(out, ps.current...)
	party.SortEvents(out)
	return out
}

// Len returns how many distinct events the party holds.
func (s *Store) Len(partyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.parties[partyID]; ok {
		return len(ps.seen)
	}
	return 0
}

// HasNextPage reports whether the server may hold more events: nothing has
// been finalized yet, or the last finalized page is full.
func (s *Store) HasNextPage(partyID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok || len(ps.pages) == 0 {
		return true
	}
	return len(ps.pages[len(ps.pages)-1]) >= s.pageSize
}

// NextCursor returns the last id of the newest finalized page.
func (s *Store) NextCursor(partyID string) *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok || ps.lastCursor == nil {
		return nil
	}
	return party.Cursor(*ps.lastCursor)
}

// RefreshCursor returns where a refresh should resume so the still-open
// window is requested again. A short last page is re-requested from its
// start; a full one resumes at the last cursor. nil means fetch from the
// beginning (served from cache when the initial page is cached).
func (s *Store) RefreshCursor(partyID string) *uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok || len(ps.pages) == 0 {
		return nil
	}

	last := ps.pages[len(ps.pages)-1]
	if len(last) < s.pageSize {
		if len(ps.pages) >= 2 {
			return party.Cursor(ps.pages[len(ps.pages)-2].Last())
		}
		if first := last.First(); first > 0 {
			return party.Cursor(first - 1)
		}
		return nil
	}
	if ps.lastCursor == nil {
		return nil
	}
	return party.Cursor(*ps.lastCursor)
}

// Reset forgets the party in memory and clears its persisted entries.
func (s *Store) Reset(ctx context.Context, partyID string) error {
	s.mu.Lock()
	delete(s.parties, partyID)
	s.persistMu.Lock()
	s.mu.Unlock()
	defer s.persistMu.Unlock()

	if err := s.cache.Clear(ctx, partyID); err != nil {
		return fmt.Errorf("clearing cache for %s: %w", partyID, err)
	}
	s.logger.Debug("reset party", zap.String("party_id", partyID))
	return nil
}

// Parties lists the parties currently held in memory.
func (s *Store) Parties() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.parties))
	for id := range s.parties {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
