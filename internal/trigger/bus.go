// Package trigger fans "party has new events" signals out to the
// subscriptions following that party.
package trigger

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Signal announces that a party changed. EventID is the newest known id, or
// zero when the publisher does not know it.
type Signal struct {
	PartyID string
	EventID uint64
}

// Bus manages per-party groups of subscribers.
type Bus struct {
	groups map[string]map[*Subscriber]struct{}
	mu     sync.RWMutex
	logger *zap.Logger
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		groups: make(map[string]map[*Subscriber]struct{}),
		logger: logger,
	}
}

// Subscriber receives signals for one party. Signals that arrive while one
// is already pending are coalesced into it.
type Subscriber struct {
	partyID string
	ch      chan Signal
	bus     *Bus
	closed  bool
}

// C returns the channel signals are delivered on. It is closed by Close.
func (s *Subscriber) C() <-chan Signal {
	return s.ch
}

// PartyID returns the party this subscriber follows.
func (s *Subscriber) PartyID() string {
	return s.partyID
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.bus.unsubscribe(s)
}

// Subscribe registers a new subscriber for partyID.
func (b *Bus) Subscribe(partyID string) *Subscriber {
	s := &Subscriber{
		partyID: partyID,
		ch:      make(chan Signal, 1),
		bus:     b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.groups[partyID] == nil {
		b.groups[partyID] = make(map[*Subscriber]struct{})
	}
	b.groups[partyID][s] = struct{}{}

	b.logger.Debug("subscriber joined",
		zap.String("party_id", partyID),
		zap.Int("subscribers", len(b.groups[partyID])),
	)
	return s
}

func (b *Bus) unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if subs, ok := b.groups[s.partyID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.groups, s.partyID)
		}
	}
	close(s.ch)

	b.logger.Debug("subscriber left", zap.String("party_id", s.partyID))
}

// Publish signals every subscriber of partyID and returns how many were
// signalled. It never blocks.
func (b *Bus) Publish(partyID string, eventID uint64) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sig := Signal{PartyID: partyID, EventID: eventID}
	n := 0
	for s := range b.groups[partyID] {
		select {
		case s.ch <- sig:
		default:
			// A signal is already pending; it covers this one.
		}
		n++
	}

	b.logger.Debug("published trigger",
		zap.String("party_id", partyID),
		zap.Uint64("event_id", eventID),
		zap.Int("subscribers", n),
	)
	return n
}

// Subscribers returns how many subscribers follow partyID.
func (b *Bus) Subscribers(partyID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[partyID])
}

// ActiveParties returns all parties with at least one subscriber.
func (b *Bus) ActiveParties() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	parties := make([]string, 0, len(b.groups))
	for p := range b.groups {
		parties = append(parties, p)
	}
	slices.Sort(parties)
	return parties
}
