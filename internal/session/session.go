// Package session wires one store, fetch coordinator, trigger bus and
// submission gateway together. Everything that shares party state goes
// through the same Session.
package session

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/api"
	"github.com/coderaid/partysync/internal/cache"
	"github.com/coderaid/partysync/internal/fetch"
	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/store"
	"github.com/coderaid/partysync/internal/submit"
	"github.com/coderaid/partysync/internal/subscription"
	"github.com/coderaid/partysync/internal/trigger"
)

type Options struct {
	PageSize     int
	Fetch        fetch.Options
	Subscription subscription.Options
	Submit       submit.Options
}

func DefaultOptions() Options {
	return Options{
		PageSize:     party.DefaultPageSize,
		Fetch:        fetch.DefaultOptions(),
		Subscription: subscription.DefaultOptions(),
		Submit:       submit.DefaultOptions(),
	}
}

type Session struct {
	store       *store.Store
	coordinator *fetch.Coordinator
	bus         *trigger.Bus
	gateway     *submit.Gateway
	fetcher     subscription.Fetcher
	opts        Options
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[*subscription.Subscription]struct{}
}

// New builds a session. The page cache stays owned by the caller.
func New(client api.Client, pc cache.PageCache, opts Options, logger *zap.Logger) *Session {
	if pc == nil {
		pc = cache.Nop{}
	}
	st := store.New(pc, opts.PageSize, logger.Named("store"))
	bus := trigger.New(logger.Named("trigger"))
	coord := fetch.New(client, st, pc, opts.Fetch, logger.Named("fetch"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		store:       st,
		coordinator: coord,
		bus:         bus,
		gateway:     submit.New(client, bus, opts.Submit, logger.Named("submit")),
		fetcher:     coord,
		opts:        opts,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[*subscription.Subscription]struct{}),
	}
}

// Load restores every party persisted in the page cache.
func (s *Session) Load(ctx context.Context) (int, error) {
	n, err := s.store.LoadFromCache(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Info("restored parties from cache", zap.Int("parties", n))
	return n, nil
}

// Subscribe starts a live view of partyID filtered by filter.
func (s *Session) Subscribe(partyID string, filter subscription.Predicate) *subscription.Subscription {
	sub := subscription.New(s.ctx, partyID, s.fetcher, s.store, s.bus, filter, s.opts.Subscription,
		s.logger.Named("subscription").With(zap.String("party_id", partyID)))

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Unsubscribe closes sub and forgets it.
func (s *Session) Unsubscribe(sub *subscription.Subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.Close()
}

// Submit sends a new event for partyID.
func (s *Session) Submit(ctx context.Context, partyID string, data party.EventData) (*party.Event, error) {
	return s.gateway.Submit(ctx, partyID, data)
}

// Fetch runs one coordinated fetch outside any subscription.
func (s *Session) Fetch(ctx context.Context, partyID string, cursor *uint64, bypassThrottle bool) ([]party.Event, error) {
	return s.coordinator.FetchEvents(ctx, partyID, cursor, bypassThrottle)
}

// Events returns every event held for partyID.
func (s *Session) Events(partyID string) []party.Event {
	return s.store.Events(partyID)
}

// Reset forgets partyID in memory and in the page cache.
func (s *Session) Reset(ctx context.Context, partyID string) error {
	return s.store.Reset(ctx, partyID)
}

func (s *Session) Store() *store.Store {
	return s.store
}

func (s *Session) Bus() *trigger.Bus {
	return s.bus
}

func (s *Session) Coordinator() *fetch.Coordinator {
	return s.coordinator
}

// Close ends every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	subs := make([]*subscription.Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[*subscription.Subscription]struct{})
	s.mu.Unlock()

	s.cancel()
	for _, sub := range subs {
		sub.Close()
	}
}
