// Package subscription keeps a consumer's filtered view of a party up to
// date: it loads what is cached, pages forward while the server has more,
// polls once caught up and refreshes when the trigger bus signals a change.
package subscription

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/store"
	"github.com/coderaid/partysync/internal/trigger"
)

// Fetcher loads events into the store. *fetch.Coordinator implements it.
type Fetcher interface {
	FetchEvents(ctx context.Context, partyID string, cursor *uint64, bypassThrottle bool) ([]party.Event, error)
}

// Predicate selects the events a consumer cares about. nil keeps everything.
type Predicate func(party.Event) bool

type Options struct {
	PollInterval  time.Duration
	PaginateDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval:  15 * time.Second,
		PaginateDelay: 250 * time.Millisecond,
	}
}

// State is what a consumer sees.
type State struct {
	PartyID     string
	Events      []party.Event
	IsLoading   bool
	Err         error
	HasNextPage bool
}

type cursorMode int

const (
	// cursorGiven uses request.cursor as is.
	cursorGiven cursorMode = iota
	// cursorRefresh resolves to the store's refresh cursor when the load starts.
	cursorRefresh
	// cursorNext resolves to the store's next cursor when the load starts.
	cursorNext
)

type request struct {
	mode   cursorMode
	cursor *uint64
	bypass bool
	reason string
}

type loadResult struct {
	gen    uint64
	before int
	err    error
}

// Subscription is one consumer's live view of a party. A single goroutine
// owns the load state machine: it is either idle, loading, or loading with
// one request queued behind the running load.
type Subscription struct {
	fetcher Fetcher
	store   *store.Store
	bus     *trigger.Bus
	filter  Predicate
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	state  State
	pushed bool

	updates  chan State
	requests chan request
	partyCh  chan string
	done     chan loadResult

	// Owned by the run goroutine.
	partyID string
	gen     uint64
	loading bool
	queued  *request

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New starts a subscription to partyID. It runs until Close is called or ctx
// is cancelled.
func New(ctx context.Context, partyID string, fetcher Fetcher, st *store.Store, bus *trigger.Bus, filter Predicate, opts Options, logger *zap.Logger) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		fetcher:  fetcher,
		store:    st,
		bus:      bus,
		filter:   filter,
		opts:     opts,
		logger:   logger,
		state:    State{PartyID: partyID, Events: []party.Event{}, HasNextPage: true},
		updates:  make(chan State, 1),
		requests: make(chan request, 8),
		partyCh:  make(chan string),
		done:     make(chan loadResult),
		partyID:  partyID,
		cancel:   cancel,
	}

	s.wg.Add(1)
	go s.run(ctx)
	return s
}

// Updates delivers the latest state each time the filtered events or the
// error change. Only the newest undelivered state is kept. The channel is
// closed after Close.
func (s *Subscription) Updates() <-chan State {
	return s.updates
}

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Events = append([]party.Event(nil), s.state.Events...)
	return st
}

// Refetch asks for a refresh from the resumption cursor, skipping the
// throttle but not an active backoff.
func (s *Subscription) Refetch() {
	select {
	case s.requests <- request{mode: cursorRefresh, bypass: true, reason: "refetch"}:
	default:
		// The backlog already holds refreshes; the queue keeps only one anyway.
	}
}

// SetParty switches the subscription to another party. The new party's
// state is reset so it is rebuilt from the server.
func (s *Subscription) SetParty(ctx context.Context, partyID string) error {
	select {
	case s.partyCh <- partyID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops polling, cancels pending timers, leaves the trigger bus and
// waits for the running load to return.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		close(s.updates)
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var (
		follow  *time.Timer
		followC <-chan time.Time
	)
	stopFollow := func() {
		if follow != nil {
			follow.Stop()
			follow, followC = nil, nil
		}
	}
	defer stopFollow()

	sub := s.bus.Subscribe(s.partyID)
	defer func() { sub.Close() }()

	s.start(ctx, request{mode: cursorGiven, reason: "initial"})

	for {
		select {
		case <-ctx.Done():
			return

		case req := <-s.requests:
			s.enqueue(ctx, req)

		case sig, ok := <-sub.C():
			if !ok {
				continue
			}
			s.logger.Debug("trigger received",
				zap.String("party_id", sig.PartyID),
				zap.Uint64("event_id", sig.EventID))
			s.enqueue(ctx, request{mode: cursorRefresh, bypass: true, reason: "trigger"})

		case <-ticker.C:
			if s.loading || s.store.FetchState(s.partyID).RateLimited {
				continue
			}
			s.enqueue(ctx, request{mode: cursorRefresh, reason: "poll"})

		case <-followC:
			follow, followC = nil, nil
			s.enqueue(ctx, request{mode: cursorNext, bypass: true, reason: "paginate"})

		case res := <-s.done:
			if res.gen != s.gen {
				continue
			}
			s.loading = false
			grew := s.settle(ctx, res)

			if s.queued != nil {
				next := *s.queued
				s.queued = nil
				s.start(ctx, next)
			} else if grew && s.store.HasNextPage(s.partyID) {
				stopFollow()
				follow = time.NewTimer(s.opts.PaginateDelay)
				followC = follow.C
			}

		case partyID := <-s.partyCh:
			if partyID == s.partyID {
				continue
			}
			s.gen++
			s.loading = false
			s.queued = nil
			stopFollow()

			sub.Close()
			sub = s.bus.Subscribe(partyID)

			if err := s.store.Reset(ctx, partyID); err != nil {
				s.logger.Warn("failed to reset party", zap.String("party_id", partyID), zap.Error(err))
			}

			s.partyID = partyID
			s.mu.Lock()
			s.state = State{PartyID: partyID, Events: []party.Event{}, HasNextPage: true}
			s.pushed = false
			s.mu.Unlock()

			ticker.Reset(s.opts.PollInterval)
			s.logger.Debug("subscription switched party", zap.String("party_id", partyID))
			s.start(ctx, request{mode: cursorGiven, reason: "initial"})
		}
	}
}

// enqueue runs req now when idle. While a load is running it replaces the
// queued request; bypass sticks if either asked for it.
func (s *Subscription) enqueue(ctx context.Context, req request) {
	if !s.loading {
		s.start(ctx, req)
		return
	}
	if s.queued != nil {
		req.bypass = req.bypass || s.queued.bypass
	}
	s.queued = &req
}

func (s *Subscription) start(ctx context.Context, req request) {
	partyID := s.partyID
	cursor := req.cursor
	switch req.mode {
	case cursorRefresh:
		cursor = s.store.RefreshCursor(partyID)
	case cursorNext:
		cursor = s.store.NextCursor(partyID)
	}

	s.loading = true
	s.mu.Lock()
	s.state.IsLoading = true
	s.mu.Unlock()

	gen := s.gen
	before := s.store.Len(partyID)

	s.logger.Debug("loading events",
		zap.String("party_id", partyID),
		zap.String("cursor", party.CursorKey(cursor)),
		zap.Bool("bypass", req.bypass),
		zap.String("reason", req.reason))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.fetcher.FetchEvents(ctx, partyID, cursor, req.bypass)
		select {
		case s.done <- loadResult{gen: gen, before: before, err: err}:
		case <-ctx.Done():
		}
	}()
}

// settle recomputes the filtered view after a load and pushes it when it
// changed. It reports whether the party gained events.
func (s *Subscription) settle(ctx context.Context, res loadResult) bool {
	all := s.store.Events(s.partyID)
	filtered := s.apply(all)
	hasNext := s.store.HasNextPage(s.partyID)

	err := res.err
	if ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		s.logger.Warn("load failed", zap.String("party_id", s.partyID), zap.Error(err))
	}

	s.mu.Lock()
	changed := !s.pushed || !party.EqualEvents(filtered, s.state.Events) || !sameError(err, s.state.Err)
	if changed {
		s.state.Events = filtered
	}
	s.state.IsLoading = false
	s.state.HasNextPage = hasNext
	s.state.Err = err
	s.pushed = true
	snapshot := s.state
	s.mu.Unlock()

	if changed {
		s.push(snapshot)
	}
	return len(all) > res.before
}

func (s *Subscription) apply(events []party.Event) []party.Event {
	if s.filter == nil {
		return events
	}
	out := make([]party.Event, 0, len(events))
	for _, e := range events {
		if s.filter(e) {
			out = append(out, e)
		}
	}
	return out
}

// push replaces any undelivered state with st. Only run sends on updates.
func (s *Subscription) push(st State) {
	st.Events = append([]party.Event(nil), st.Events...)
	select {
	case <-s.updates:
	default:
	}
	s.updates <- st
}

func sameError(a, b error) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Error() == b.Error()
}

// OfType keeps events whose payload has one of the given types.
func OfType(types ...string) Predicate {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e party.Event) bool {
		_, ok := set[e.Type()]
		return ok
	}
}
