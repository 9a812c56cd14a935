package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterSweep   = 10 * time.Minute
	limiterMaxIdle = 30 * time.Minute
)

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiters hands out one token bucket per key and forgets idle keys.
type limiters[K comparable] struct {
	mu    sync.Mutex
	byKey map[K]*entry
	rps   rate.Limit
	burst int
}

func newLimiters[K comparable](ctx context.Context, requestsPerSecond float64, burst int) *limiters[K] {
	l := &limiters[K]{
		byKey: make(map[K]*entry),
		rps:   rate.Limit(requestsPerSecond),
		burst: burst,
	}

	go func() {
		ticker := time.NewTicker(limiterSweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep(time.Now().Add(-limiterMaxIdle))
			case <-ctx.Done():
				return
			}
		}
	}()
	return l
}

func (l *limiters[K]) allow(key K) bool {
	l.mu.Lock()
	e, ok := l.byKey[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.byKey[key] = e
	}
	e.lastAccess = time.Now()
	l.mu.Unlock()

	return e.limiter.Allow()
}

func (l *limiters[K]) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.byKey {
		if e.lastAccess.Before(cutoff) {
			delete(l.byKey, k)
		}
	}
}

func tooMany(w http.ResponseWriter) {
	http.Error(w, `{"title":"Too Many Requests","status":429,"detail":"rate limit exceeded"}`, http.StatusTooManyRequests)
}

// RateLimitByIP limits requests per client address. Mount it after chi's
// RealIP so r.RemoteAddr is the client.
func RateLimitByIP(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	l := newLimiters[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.allow(r.RemoteAddr) {
				tooMany(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitBySubject limits requests per token subject. Requests without
// claims are not limited here.
func RateLimitBySubject(ctx context.Context, requestsPerSecond float64, burst int) func(http.Handler) http.Handler {
	l := newLimiters[string](ctx, requestsPerSecond, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if ok && !l.allow(claims.Subject) {
				tooMany(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
