package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/controlled-anonymity/client-go/internal/audit"
)

const windowDuration = time.Minute

// RateLimiter is a sliding one-minute window per bucket.
type RateLimiter struct {
	mu      sync.Mutex
	now     func() time.Time
	buckets map[string][]time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

func (rl *RateLimiter) Check(bucket string, limit int) (allowed bool, remaining int, resetAt int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-windowDuration)

	hits := rl.buckets[bucket]
	filtered := hits[:0]
	for _, ts := range hits {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}

	if len(filtered) > 0 {
		resetAt = filtered[0].Add(windowDuration).Unix()
	} else {
		resetAt = now.Add(windowDuration).Unix()
	}

	if len(filtered) >= limit {
		rl.buckets[bucket] = filtered
		return false, 0, resetAt
	}

	rl.buckets[bucket] = append(filtered, now)
	return true, limit - len(filtered) - 1, resetAt
}

// RateLimitMiddleware throttles one route so a runaway UI cannot flood the
// chat partner. A limit of zero disables it.
type RateLimitMiddleware struct {
	limiter *RateLimiter
	bucket  string
	limit   int
}

func NewRateLimitMiddleware(bucket string, limit int) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: NewRateLimiter(),
		bucket:  bucket,
		limit:   limit,
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.Check(m.bucket, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			event := audit.FromRequest(r, audit.EventRateLimitExceed)
			event.Details = map[string]any{"bucket": m.bucket, "limit": m.limit}
			audit.Log(event)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
