package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coderaid/partysync/internal/party"
)

// IdempotencyHeader carries the key a submission keeps across retries.
const IdempotencyHeader = "Idempotency-Key"

// maxErrorBody bounds how much of an error response is kept for messages.
const maxErrorBody = 512

// Client interface for testability
type Client interface {
	// ListEvents returns the events strictly after cursor, ascending by id.
	// A nil cursor lists from the beginning.
	ListEvents(ctx context.Context, partyID string, cursor *uint64) ([]party.Event, error)

	// SubmitEvent appends an event and returns it as stored by the server.
	SubmitEvent(ctx context.Context, partyID string, data party.EventData, idempotencyKey string) (*party.Event, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client for baseURL. ratePerSec <= 0 disables the
// client-side limiter.
func NewClient(baseURL, token string, ratePerSec int, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2)
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: limiter,
		logger:  logger,
	}
}

func (c *HTTPClient) eventsURL(partyID string) string {
	return fmt.Sprintf("%s/party/%s/events", c.baseURL, url.PathEscape(partyID))
}

func (c *HTTPClient) ListEvents(ctx context.Context, partyID string, cursor *uint64) ([]party.Event, error) {
	u := c.eventsURL(partyID)
	if cursor != nil {
		u += "?cursor=" + party.CursorKey(cursor)
	}

	body, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}

	var events []party.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decoding events: %w", err)
	}
	party.SortEvents(events)
	return events, nil
}

func (c *HTTPClient) SubmitEvent(ctx context.Context, partyID string, data party.EventData, idempotencyKey string) (*party.Event, error) {
	payload, err := party.MarshalData(data)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if idempotencyKey != "" {
		headers[IdempotencyHeader] = idempotencyKey
	}

	body, err := c.do(ctx, http.MethodPost, c.eventsURL(partyID), payload, headers)
	if err != nil {
		return nil, err
	}

	var event party.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decoding stored event: %w", err)
	}
	return &event, nil
}

// do performs one request and maps the response status onto the package
// errors. Retrying is left to callers, which have different policies.
func (c *HTTPClient) do(ctx context.Context, method, u string, payload []byte, headers map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", u))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &transportError{err: err}
	}

	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &transportError{err: fmt.Errorf("reading body: %w", readErr)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(msg)}
	}

	return body, nil
}

var _ Client = (*HTTPClient)(nil)
