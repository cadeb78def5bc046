// Package submit sends new party events to the server and wakes up the
// subscriptions following that party once the server has stored them.
package submit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/api"
	"github.com/coderaid/partysync/internal/party"
)

// Publisher announces a party change. *trigger.Bus implements it.
type Publisher interface {
	Publish(partyID string, eventID uint64) int
}

type Options struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:   15,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 10 * time.Second,
	}
}

type Gateway struct {
	client api.Client
	bus    Publisher
	opts   Options
	logger *zap.Logger
	newKey func() string
}

func New(client api.Client, bus Publisher, opts Options, logger *zap.Logger) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Gateway{
		client: client,
		bus:    bus,
		opts:   opts,
		logger: logger,
		newKey: uuid.NewString,
	}
}

// Submit stores data as a new event of partyID and returns the stored event.
// Transient failures are retried with capped exponential backoff under a
// single idempotency key. On success every subscription of the party is
// signalled to refresh.
func (g *Gateway) Submit(ctx context.Context, partyID string, data party.EventData) (*party.Event, error) {
	key := g.newKey()
	logger := g.logger.With(
		zap.String("party_id", partyID),
		zap.String("type", data.Type()),
		zap.String("idempotency_key", key),
	)

	var lastErr error
	for attempt := 0; attempt < g.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.retryDelay(attempt)
			logger.Debug("retrying submit", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		event, err := g.client.SubmitEvent(ctx, partyID, data, key)
		if err == nil {
			n := g.bus.Publish(partyID, event.EventID)
			logger.Info("event submitted",
				zap.Uint64("event_id", event.EventID),
				zap.Int("attempts", attempt+1),
				zap.Int("subscribers", n))
			return event, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !api.IsTransient(err) {
			return nil, fmt.Errorf("submitting event: %w", err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max attempts exceeded: %w", lastErr)
}

func (g *Gateway) retryDelay(attempt int) time.Duration {
	if attempt > 30 {
		return g.opts.MaxRetryDelay
	}
	delay := g.opts.RetryDelay * time.Duration(1<<(attempt-1))
	if delay > g.opts.MaxRetryDelay || delay <= 0 {
		return g.opts.MaxRetryDelay
	}
	return delay
}
