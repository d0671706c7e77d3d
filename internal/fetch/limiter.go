package fetch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter enforces a minimum inter-request delay per source using a
// token bucket.
type sourceLimiter struct {
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	defaultRate rate.Limit
}

func newSourceLimiter(defaultRPS float64) *sourceLimiter {
	r := rate.Limit(defaultRPS)
	if defaultRPS <= 0 {
		r = rate.Inf
	}
	return &sourceLimiter{
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: r,
	}
}

// Wait blocks until a token is available for the source, respecting the
// context. A per-source rps overrides the default when positive.
func (l *sourceLimiter) Wait(ctx context.Context, source string, rps float64) error {
	l.mu.Lock()
	limiter, exists := l.limiters[source]
	if !exists {
		r := l.defaultRate
		if rps > 0 {
			r = rate.Limit(rps)
		}
		limiter = rate.NewLimiter(r, 1)
		l.limiters[source] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
