// Package ratelimit tracks request budgets per peer address.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerPeer allows up to `events` requests per `window` for each peer, as a
// token bucket refilling at events/window with a full-window burst.
type PerPeer struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(events int, window time.Duration) *PerPeer {
	return &PerPeer{
		limit:    rate.Limit(float64(events) / window.Seconds()),
		burst:    events,
		limiters: map[string]*rate.Limiter{},
	}
}

// Allow reports whether peer has budget for one more request.
func (p *PerPeer) Allow(peer string) bool {
	p.mu.Lock()
	limiter, ok := p.limiters[peer]
	if !ok {
		// Loopback-only service: the peer set is tiny, no eviction needed.
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[peer] = limiter
	}
	p.mu.Unlock()
	return limiter.Allow()
}
