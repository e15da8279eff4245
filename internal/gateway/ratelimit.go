package gateway

import (
	"sync"
	"time"
)

// RateLimiter caps requests per client over a fixed window. The counter for
// a client resets once the window that started at its first request has
// fully elapsed; until then every request past the limit is rejected.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientWindow

	// now is swappable for tests.
	now func() time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// NewRateLimiter builds a limiter allowing `limit` requests per `window`.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		clients: map[string]*clientWindow{},
		now:     time.Now,
	}
}

// Allow records one request for the client and reports whether it is within
// the limit.
func (l *RateLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.clients[clientID]
	if w == nil || now.Sub(w.start) > l.window {
		w = &clientWindow{start: now}
		l.clients[clientID] = w
	}

	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}
