package middleware

import (
	"net/http"
	"sync"
	"time"
)

// rateLimitWindow is the fixed interval one request budget covers.
const rateLimitWindow = time.Minute

// RateLimiter is a fixed-window counter shared by every request on its
// route. The mutex keeps the count/window pair consistent under concurrent
// dispatch; losing an increment would overserve the window.
type RateLimiter struct {
	limit int

	mu          sync.Mutex
	count       int
	windowStart time.Time

	// now is replaceable in tests.
	now func() time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{limit: limit, now: time.Now}
}

// Allow consumes one slot from the current window. The window starts on its
// first request and resets once the interval has elapsed.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if rl.windowStart.IsZero() || now.Sub(rl.windowStart) >= rateLimitWindow {
		rl.windowStart = now
		rl.count = 0
	}
	if rl.count >= rl.limit {
		return false
	}
	rl.count++
	return true
}

// Wrap rejects over-budget requests with 429 before any inner middleware or
// the handler runs.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
