// Package fetch issues event list requests for the store, collapsing
// duplicates and enforcing per-party throttling and rate-limit backoff.
package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/coderaid/partysync/internal/api"
	"github.com/coderaid/partysync/internal/cache"
	"github.com/coderaid/partysync/internal/party"
	"github.com/coderaid/partysync/internal/store"
)

// Options tune throttling and backoff.
type Options struct {
	// InitialDelay spaces out cursor-less fetches for one party.
	InitialDelay time.Duration
	// StandardDelay spaces out every other fetch for one party.
	StandardDelay time.Duration
	BaseDelay     time.Duration
	MaxBackoff    time.Duration
	// Jitter is the upper bound of the random delay added to each backoff.
	Jitter time.Duration
	// FetchTimeout bounds a network call; a request still marked active
	// after it is force-cleared.
	FetchTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialDelay:  2 * time.Second,
		StandardDelay: 500 * time.Millisecond,
		BaseDelay:     time.Second,
		MaxBackoff:    30 * time.Second,
		Jitter:        time.Second,
		FetchTimeout:  30 * time.Second,
	}
}

type Coordinator struct {
	client api.Client
	store  *store.Store
	cache  cache.PageCache
	opts   Options
	group  singleflight.Group
	logger *zap.Logger

	now    func() time.Time
	jitter func() time.Duration
}

func New(client api.Client, st *store.Store, pc cache.PageCache, opts Options, logger *zap.Logger) *Coordinator {
	if pc == nil {
		pc = cache.Nop{}
	}
	c := &Coordinator{
		client: client,
		store:  st,
		cache:  pc,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
	c.jitter = func() time.Duration {
		if c.opts.Jitter <= 0 {
			return 0
		}
		return rand.N(c.opts.Jitter)
	}
	return c
}

// Store returns the store results are merged into.
func (c *Coordinator) Store() *store.Store {
	return c.store
}

// FetchEvents returns the events following cursor for a party.
//
// A page already in the durable cache is served without a network call.
// Concurrent calls for the same party and cursor share one request. A call
// suppressed by the throttle or an active backoff returns an empty slice.
// Request failures are logged and reported as no new events; the returned
// error covers the caller's context and durable cache failures only.
func (c *Coordinator) FetchEvents(ctx context.Context, partyID string, cursor *uint64, bypassThrottle bool) ([]party.Event, error) {
	key := party.CursorKey(cursor)

	page, ok, err := c.cache.Get(ctx, partyID, key)
	if err != nil {
		return nil, fmt.Errorf("reading page cache: %w", err)
	}
	if ok && c.servable(partyID, key, page) {
		c.store.Restore(partyID, []cache.Entry{{PartyID: partyID, Key: key, Page: page}})
		c.logger.Debug("served page from cache",
			zap.String("party_id", partyID),
			zap.String("cursor", key),
			zap.Int("events", len(page)))
		return page, nil
	}

	flightKey := partyID + "/" + key
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.fetch(ctx, partyID, cursor, flightKey, bypassThrottle), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		events, _ := res.Val.([]party.Event)
		if res.Shared {
			c.logger.Debug("joined in-flight request", zap.String("key", flightKey))
		}
		return events, nil
	}
}

// servable reports whether a cached page can stand in for the network.
// Full pages are immutable. A partial initial page is only good for seeding
// a party that has nothing yet; afterwards the network has to be asked.
func (c *Coordinator) servable(partyID, key string, page party.Page) bool {
	if len(page) == 0 {
		return false
	}
	if len(page) >= c.store.PageSize() {
		return true
	}
	return key == party.InitialKey && c.store.IsEmpty(partyID)
}

func (c *Coordinator) fetch(parent context.Context, partyID string, cursor *uint64, flightKey string, bypass bool) []party.Event {
	key := party.CursorKey(cursor)
	logger := c.logger.With(zap.String("party_id", partyID), zap.String("cursor", key))

	delays := store.Delays{Initial: c.opts.InitialDelay, Standard: c.opts.StandardDelay}
	if !c.store.Admit(partyID, key, c.now(), bypass, delays) {
		logger.Debug("fetch throttled")
		return []party.Event{}
	}

	safety := time.AfterFunc(c.opts.FetchTimeout, func() {
		if c.store.Finish(partyID, key) {
			c.group.Forget(flightKey)
			logger.Warn("request stuck, clearing", zap.Duration("timeout", c.opts.FetchTimeout))
		}
	})

	// The request is shared by every joined caller, so it outlives the
	// caller that started it.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opts.FetchTimeout)
	defer cancel()

	events, err := c.client.ListEvents(reqCtx, partyID, cursor)
	safety.Stop()
	defer c.store.Finish(partyID, key)

	if err != nil {
		if api.IsRateLimited(err) {
			backoff := c.store.RecordRateLimit(partyID, c.Backoff)
			logger.Warn("rate limited, backing off", zap.Duration("backoff", backoff))
		} else {
			logger.Warn("fetch failed", zap.Error(err))
		}
		return []party.Event{}
	}

	c.store.RecordSuccess(partyID)
	novel := c.store.Merge(reqCtx, partyID, cursor, events)
	logger.Debug("fetched events", zap.Int("events", len(events)), zap.Int("new", novel))
	return events
}

// Backoff returns the delay after retryCount consecutive rate-limit
// responses: 2^retryCount * BaseDelay plus jitter, capped at MaxBackoff.
func (c *Coordinator) Backoff(retryCount int) time.Duration {
	if retryCount > 30 {
		return c.opts.MaxBackoff
	}
	d := time.Duration(1<<retryCount)*c.opts.BaseDelay + c.jitter()
	if d > c.opts.MaxBackoff || d < 0 {
		return c.opts.MaxBackoff
	}
	return d
}
