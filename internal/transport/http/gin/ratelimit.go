package httpgin

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter is a per-key token bucket used when no shared store is configured.
// Buckets that have refilled completely are dropped once per window.
type MemoryLimiter struct {
	mu        sync.Mutex
	every     rate.Limit
	burst     int
	window    time.Duration
	buckets   map[string]*rate.Limiter
	lastSweep time.Time
	now       func() time.Time
}

// NewMemoryLimiter allows limit requests per window for every key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}

	return &MemoryLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, int64, time.Duration, error) {
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	r := b.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, 0, nil
	}

	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, int64(l.burst), d, nil
	}

	return true, int64(l.burst - int(b.TokensAt(now))), 0, nil
}

// sweep drops full buckets. A dropped key starts over with a full bucket, so
// no caller gains or loses tokens. l.mu must be held.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now

	for key, b := range l.buckets {
		if b.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}
