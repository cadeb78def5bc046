package store

import (
	"time"

	"github.com/coderaid/partysync/internal/party"
)

// FetchState is a snapshot of a party's request bookkeeping.
type FetchState struct {
	LastFetch     time.Time
	Loading       bool
	RateLimited   bool
	RetryCount    int
	Backoff       time.Duration
	Active        int
	InitialCached bool
	Events        int
}

// Delays are the minimum gaps between fetches for one party when it is not
// rate limited.
type Delays struct {
	Initial  time.Duration
	Standard time.Duration
}

// FetchState returns the party's current request bookkeeping.
func (s *Store) FetchState(partyID string) FetchState {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok {
		return FetchState{}
	}
	return FetchState{
		LastFetch:     ps.lastFetch,
		Loading:       ps.loading,
		RateLimited:   ps.rateLimited,
		RetryCount:    ps.retryCount,
		Backoff:       ps.backoff,
		Active:        len(ps.active),
		InitialCached: ps.initialCached,
		Events:        len(ps.seen),
	}
}

// Admit applies the throttle gate for a request and, when it passes, marks
// key active, stamps the fetch time and sets loading in one step.
// An active rate-limit backoff is honored even when bypass is set.
func (s *Store) Admit(partyID, key string, now time.Time, bypass bool, d Delays) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(partyID)
	elapsed := now.Sub(ps.lastFetch)

	switch {
	case ps.rateLimited:
		if elapsed < ps.backoff {
			return false
		}
	case !bypass:
		delay := d.Standard
		if key == party.InitialKey {
			delay = d.Initial
		}
		if !ps.lastFetch.IsZero() && elapsed < delay {
			return false
		}
	}

	ps.active[key] = struct{}{}
	ps.lastFetch = now
	ps.loading = true
	return true
}

// Finish removes key from the active set. It reports whether key was still
// active, which is false once the safety timeout has force-cleared it.
func (s *Store) Finish(partyID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.parties[partyID]
	if !ok {
		return false
	}
	_, was := ps.active[key]
	delete(ps.active, key)
	ps.loading = len(ps.active) > 0
	return was
}

// RecordSuccess clears rate-limit and backoff state.
func (s *Store) RecordSuccess(partyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(partyID)
	ps.rateLimited = false
	ps.retryCount = 0
	ps.backoff = 0
}

// RecordRateLimit bumps the retry count and stores the backoff computed for
// it. The new backoff is returned.
func (s *Store) RecordRateLimit(partyID string, backoff func(retryCount int) time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps := s.state(partyID)
	ps.retryCount++
	ps.rateLimited = true
	ps.backoff = backoff(ps.retryCount)
	return ps.backoff
}

// IsEmpty reports whether no events have been merged for the party.
func (s *Store) IsEmpty(partyID string) bool {
	return s.Len(partyID) == 0
}

// MarkInitialCached records that the cursor-less page is available from the
// durable cache.
func (s *Store) MarkInitialCached(partyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(partyID).initialCached = true
}
