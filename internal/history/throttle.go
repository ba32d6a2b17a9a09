package history

import (
	"sync"
	"time"
)

// DefaultThrottleWindow is the minimum gap between two persisted crawls of the same query.
const DefaultThrottleWindow = 3598 * time.Second

// Throttle tracks, per query, when the last batch was persisted. A write
// must Reserve the query first; reservations are exclusive so two
// concurrent writers of the same query cannot both pass the check.
type Throttle struct {
	window time.Duration

	mu       sync.Mutex
	last     map[string]time.Time
	inflight map[string]struct{}

	nowFunc func() time.Time
}

// NewThrottle creates a throttle with the given window. A non-positive window uses the default.
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Throttle{
		window:   window,
		last:     make(map[string]time.Time),
		inflight: make(map[string]struct{}),
		nowFunc:  time.Now,
	}
}

// Reserve checks the marker for query and, if a write is allowed, holds the
// query until release is called. release(true) moves the marker to the time
// of the reservation; release(false) leaves it unchanged so a failed write
// can be retried by the next crawl.
func (t *Throttle) Reserve(query string) (release func(success bool), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, busy := t.inflight[query]; busy {
		return nil, false
	}
	now := t.nowFunc()
	if last, seen := t.last[query]; seen && now.Sub(last) < t.window {
		return nil, false
	}
	t.inflight[query] = struct{}{}

	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.inflight, query)
			if success {
				t.last[query] = now
			}
		})
	}, true
}

// Last returns the marker for query.
func (t *Throttle) Last(query string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[query]
	return ts, ok
}

// Window returns the configured minimum gap.
func (t *Throttle) Window() time.Duration { return t.window }
