package handlers

import (
	"sync"
	"time"
)

// startLimiter caps how many checkout attempts one shopper may open per window. Each
// attempt writes pending state and may call a gateway, so bursts are refused early.
type startLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]rateWindow
}

type rateWindow struct {
	count int
	reset time.Time
}

// newStartLimiter returns nil, meaning unlimited, when limit or window is not positive.
func newStartLimiter(limit int, window time.Duration, clock func() time.Time) *startLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &startLimiter{limit: limit, window: window, clock: clock, windows: make(map[string]rateWindow)}
}

// Allow records an attempt for scope. When refused it reports how long until the window resets.
func (l *startLimiter) Allow(scope string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[scope]
	if !ok || !now.Before(current.reset) {
		l.prune(now)
		l.windows[scope] = rateWindow{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if current.count >= l.limit {
		return false, current.reset.Sub(now)
	}
	current.count++
	l.windows[scope] = current
	return true, 0
}

func (l *startLimiter) prune(now time.Time) {
	for scope, w := range l.windows {
		if !now.Before(w.reset) {
			delete(l.windows, scope)
		}
	}
}
