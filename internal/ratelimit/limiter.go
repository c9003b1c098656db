package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-key token bucket rate limiter. Callers key it by
// principal, or by client address for anonymous requests. Stale entries are
// removed in the background until the context passed to NewLimiter ends.
type Limiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter that allows rps requests per second with the
// given burst size per key. Keys not seen for 5 minutes are forgotten.
func NewLimiter(ctx context.Context, rps float64, burst int) *Limiter {
	l := &Limiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     5 * time.Minute,
	}
	go l.cleanup(ctx, 3*time.Minute)
	return l
}

// Allow reports whether a request for key should be permitted.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	v, exists := l.visitors[key]
	if !exists {
		v = &visitor{
			limiter: rate.NewLimiter(l.rps, l.burst),
		}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()

	return v.limiter.Allow()
}

func (l *Limiter) cleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(time.Now())
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.idle {
			delete(l.visitors, key)
		}
	}
}
