// Package wrapper exposes the OpenAI-compatible application surface under
// /x-app/:appId. It relays chat calls to the provider, injecting retrieved
// file context when the caller asks for the file_search tool, and runs the
// rewrite/classify/answer hybrid workflow.
package wrapper

import (
	"sync"
	"time"
)

const (
	defaultRateLimit  = 60
	defaultRateWindow = time.Minute
)

type rateWindow struct {
	count   int
	resetAt time.Time
}

// rateLimiter is a fixed-window counter per key. Windows reset lazily on the
// first call after expiry; there is no background sweep.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	entries map[string]*rateWindow
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = defaultRateLimit
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return &rateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		entries: make(map[string]*rateWindow),
	}
}

// Allow counts one request against the key's current window and reports
// whether it stays within the limit.
func (l *rateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[key]
	if !ok || now.After(entry.resetAt) {
		entry = &rateWindow{resetAt: now.Add(l.window)}
		l.entries[key] = entry
	}
	entry.count++
	return entry.count <= l.limit
}
