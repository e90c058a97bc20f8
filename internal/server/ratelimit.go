package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// bucketIdle is how long an unused bucket is kept before pruning.
const bucketIdle = 10 * time.Minute

// rateLimiter is a per-key token bucket. Buckets refill continuously at
// perMinute tokens per minute up to burst.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	perMinute float64
	burst     float64
	lastPrune time.Time
	now       func() time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// newRateLimiter returns nil when perMinute is not positive, which disables limiting.
func newRateLimiter(perMinute, burst int) *rateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		buckets:   make(map[string]*tokenBucket),
		perMinute: float64(perMinute),
		burst:     float64(burst),
		now:       time.Now,
	}
}

// allow consumes a token for key. When none is left it reports how long until one is.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	if rl == nil {
		return true, 0
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, lastRefill: now}
		rl.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed > 0 {
		b.tokens = math.Min(rl.burst, b.tokens+elapsed.Minutes()*rl.perMinute)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.perMinute * float64(time.Minute))
	return false, wait
}

func (rl *rateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < time.Minute {
		return
	}
	rl.lastPrune = now
	for key, b := range rl.buckets {
		if now.Sub(b.lastRefill) > bucketIdle {
			delete(rl.buckets, key)
		}
	}
}

// rateLimitMiddleware limits the expensive endpoints that render text.
func rateLimitMiddleware(rl *rateLimiter, limited func(*http.Request) bool) middleware {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limited(r) {
				next.ServeHTTP(w, r)
				return
			}
			ok, wait := rl.allow(clientIP(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				if isAPIPath(r.URL.Path) {
					respondJSON(w, http.StatusTooManyRequests, errorResponse("Rate limit exceeded"))
					return
				}
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
