// Package ratelimit implements the two cooldown variants the uploader
// pool selects among: a token-bucket limiter for smooth per-credential
// request pacing, and a work cooldown with a concurrency cap for
// credentials whose backend reports "come back after N seconds" /
// "no more than N concurrent" directly. Both satisfy Cooldown so the pool
// can treat every worker uniformly.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Cooldown is the interface the uploader pool's worker selector uses:
// pick the worker with the lowest in-flight count, tie-broken by lowest
// remaining wait.
type Cooldown interface {
	// CanAcceptMore reports whether this worker has spare concurrency.
	CanAcceptMore() bool
	// StartWork marks one unit of work as begun.
	StartWork()
	// EndWork marks one unit of work as finished at the given wall-clock
	// time, which anchors subsequent RemainingWait calculations.
	EndWork(endedAt time.Time)
	// RemainingWait returns how long a caller must still wait before this
	// worker should be used again.
	RemainingWait() time.Duration
	// Wait blocks for RemainingWait.
	Wait()
	// InFlight returns the current number of units of work in progress,
	// used by the pool's selector. Cooldowns with no concurrency concept
	// of their own report 0.
	InFlight() int
}

// TokenBucketCooldown adapts golang.org/x/time/rate into a Cooldown: it
// has no concurrency cap of its own (CanAcceptMore is always true), since
// pacing is governed purely by token availability.
type TokenBucketCooldown struct {
	limiter *rate.Limiter
}

// NewTokenBucketCooldown grants tokensPerUnit tokens every unit, capped at
// one bucket-full.
func NewTokenBucketCooldown(tokensPerUnit int, unit time.Duration) *TokenBucketCooldown {
	r := rate.Limit(float64(tokensPerUnit) / unit.Seconds())
	return &TokenBucketCooldown{limiter: rate.NewLimiter(r, tokensPerUnit)}
}

// RemoveTokens attempts to remove n tokens, blocking the caller for the
// exact deficit duration if fewer than n are currently available, then
// re-entering. It returns an error only if ctx is cancelled first.
func (t *TokenBucketCooldown) RemoveTokens(ctx context.Context, n int) error {
	return t.limiter.WaitN(ctx, n)
}

// CanAcceptMore always returns true: a token bucket paces requests, it
// does not cap concurrency.
func (t *TokenBucketCooldown) CanAcceptMore() bool { return true }

// StartWork is a no-op for a token bucket.
func (t *TokenBucketCooldown) StartWork() {}

// EndWork is a no-op for a token bucket.
func (t *TokenBucketCooldown) EndWork(time.Time) {}

// InFlight always returns 0: a token bucket tracks no concurrency state.
func (t *TokenBucketCooldown) InFlight() int { return 0 }

// RemainingWait reports the delay a reservation for one token would incur
// right now, without consuming it.
func (t *TokenBucketCooldown) RemainingWait() time.Duration {
	r := t.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	return d
}

// Wait blocks until one token is available.
func (t *TokenBucketCooldown) Wait() {
	_ = t.limiter.Wait(context.Background())
}

// WorkCooldown is a cooldown with an explicit concurrency cap: at most
// MaxConcurrency units of work may be in flight, and after the last one
// ends, RemainingWait counts down Duration from EndWork's timestamp.
type WorkCooldown struct {
	mu             sync.Mutex
	endedAt        time.Time
	duration       time.Duration
	inFlight       int
	maxConcurrency int
}

// NewWorkCooldown returns a WorkCooldown with no cooldown duration yet and
// the given initial concurrency cap.
func NewWorkCooldown(maxConcurrency int) *WorkCooldown {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &WorkCooldown{maxConcurrency: maxConcurrency}
}

// CanAcceptMore reports whether in-flight work is below the concurrency
// cap.
func (w *WorkCooldown) CanAcceptMore() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight < w.maxConcurrency
}

// StartWork increments the in-flight count.
func (w *WorkCooldown) StartWork() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight++
}

// EndWork decrements the in-flight count and anchors the cooldown window
// at endedAt.
func (w *WorkCooldown) EndWork(endedAt time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--
	w.endedAt = endedAt
}

// RemainingWait returns max(0, duration - (now - ended_at)).
func (w *WorkCooldown) RemainingWait() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remainingWaitLocked(time.Now())
}

func (w *WorkCooldown) remainingWaitLocked(now time.Time) time.Duration {
	remaining := w.duration - now.Sub(w.endedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait sleeps for RemainingWait.
func (w *WorkCooldown) Wait() {
	time.Sleep(w.RemainingWait())
}

// InFlight returns the current in-flight count, used by the pool's
// selector.
func (w *WorkCooldown) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// Update applies a server-advertised cooldown hint and remaining budget,
// as reported after a completed request. maxConcurrency is floored at 1.
func (w *WorkCooldown) Update(duration time.Duration, maxConcurrency int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.duration = duration
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	w.maxConcurrency = maxConcurrency
}

// Select picks the index of the Cooldown with the lowest in-flight count
// among those reporting CanAcceptMore, tie-broken by lowest RemainingWait.
// Workers that cannot accept more work are skipped; Select returns -1 if
// none can.
func Select(cooldowns []Cooldown) int {
	best := -1
	var bestInFlight int
	var bestWait time.Duration

	for i, c := range cooldowns {
		if !c.CanAcceptMore() {
			continue
		}
		n := c.InFlight()
		wait := c.RemainingWait()

		if best == -1 || n < bestInFlight || (n == bestInFlight && wait < bestWait) {
			best = i
			bestInFlight = n
			bestWait = wait
		}
	}

	return best
}
