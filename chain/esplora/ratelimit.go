package esplora

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a simple token bucket: N tokens/second, burst = N. No
// token-bucket library (e.g. golang.org/x/time/rate) appears anywhere in
// the retrieved example pack, so this hand-rolled bucket matches the
// complexity level of the teacher's own timing/polling code rather than
// reaching for an unexampled dependency.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	max        float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newRateLimiter(perSecond int) *rateLimiter {
	if perSecond <= 0 {
		return &rateLimiter{max: -1}
	}
	return &rateLimiter{
		tokens:     float64(perSecond),
		max:        float64(perSecond),
		refillRate: float64(perSecond),
		last:       time.Now(),
	}
}

// take blocks (via cooperative sleep) until a token is available, or ctx
// is done. A disabled limiter (max < 0) always returns immediately.
func (r *rateLimiter) take(ctx context.Context) {
	if r.max < 0 {
		return
	}
	for {
		r.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(r.last).Seconds()
		r.tokens += elapsed * r.refillRate
		if r.tokens > r.max {
			r.tokens = r.max
		}
		r.last = now
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}
