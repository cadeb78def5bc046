package server

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

type ctxKey int

const userKey ctxKey = iota

// userFromContext returns the caller's identity. The faker uses the bearer
// token itself as the user id.
func userFromContext(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

type authenticator struct {
	allowed func(token string) bool
}

func newAuthenticator(allowed func(token string) bool) *authenticator {
	return &authenticator{allowed: allowed}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !a.allowed(strings.TrimSpace(token)) {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, strings.TrimSpace(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientLimiter keeps one token bucket per caller and answers 429 once a
// caller's bucket is empty.
type clientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newClientLimiter(perSec float64, burst int) *clientLimiter {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *clientLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.get(userFromContext(r.Context())).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
