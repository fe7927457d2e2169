package gateway

import (
	"sort"
	"sync"
	"time"
)

// RateLimiter is a per-connection sliding-window limiter. Event times
// are kept in arrival order, so expired entries always form a prefix.
type RateLimiter struct {
	mu     sync.Mutex
	events []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a RateLimiter, substituting defaults for
// invalid inputs. The event slab preallocation is capped so a large
// configured limit does not reserve that much per connection up front.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}

	prealloc := limit
	if prealloc > rateLimitPrealloc {
		prealloc = rateLimitPrealloc
	}

	return &RateLimiter{
		events: make([]time.Time, 0, prealloc),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event at now should be permitted.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	stale := sort.Search(len(r.events), func(i int) bool {
		return r.events[i].After(cut)
	})
	if stale > 0 {
		n := copy(r.events, r.events[stale:])
		r.events = r.events[:n]
	}

	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}
