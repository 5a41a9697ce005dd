package exec

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outbound venue calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// FixedLimiter enforces a minimum interval between calls.
type FixedLimiter struct {
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func NewFixedLimiter(interval time.Duration) *FixedLimiter {
	return &FixedLimiter{interval: interval}
}

func (l *FixedLimiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	next := l.last.Add(l.interval)
	if next.Before(now) {
		next = now
	}
	l.last = next
	l.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// NopLimiter never waits, used in backtests.
type NopLimiter struct{}

func (NopLimiter) Wait(context.Context) error { return nil }
