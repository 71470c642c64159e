// Package ratelimit enforces a minimum interval between outbound generator calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter grants at most one call per interval, measured grant-to-grant.
// It behaves as a token bucket of size one: a caller arriving after a long
// idle period proceeds immediately, later callers queue on the mutex.
type Limiter struct {
	interval  time.Duration
	mu        sync.Mutex
	lastGrant time.Time
	timeNow   func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a limiter from a requests-per-minute budget. rpm <= 0 disables limiting.
func New(rpm int) *Limiter {
	if rpm <= 0 {
		return NewWithInterval(0)
	}
	return NewWithInterval(time.Minute / time.Duration(rpm))
}

// NewWithInterval creates a limiter with an explicit grant interval.
func NewWithInterval(interval time.Duration) *Limiter {
	return NewWithClock(interval, time.Now, sleepContext)
}

// NewWithClock creates a limiter with injectable clock and sleep (for testing).
func NewWithClock(interval time.Duration, timeNow func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Limiter {
	return &Limiter{
		interval: interval,
		timeNow:  timeNow,
		sleep:    sleep,
	}
}

// Interval returns the minimum spacing between grants.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Acquire blocks until the next grant is allowed.
func (l *Limiter) Acquire(ctx context.Context) error {
	_, err := l.Wait(ctx)
	return err
}

// Wait blocks until the next grant is allowed and returns the grant time.
// The lock is held through the wait so no two callers can both observe the
// same previous grant and proceed together.
func (l *Limiter) Wait(ctx context.Context) (time.Time, error) {
	if l == nil || l.interval <= 0 {
		return time.Now(), ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	if !l.lastGrant.IsZero() {
		wait := l.lastGrant.Add(l.interval).Sub(l.timeNow())
		if wait > 0 {
			if err := l.sleep(ctx, wait); err != nil {
				return time.Time{}, err
			}
		}
	}

	l.lastGrant = l.timeNow()
	return l.lastGrant, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
