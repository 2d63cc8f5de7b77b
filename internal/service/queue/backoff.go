// Package queue runs the durable job queue: the worker pool that claims and
// invokes jobs, the backoff policy for requeued attempts, and the reaper
// that recovers jobs orphaned by a crashed worker.
package queue

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes the delay before a failed attempt becomes claimable
// again. Delays grow exponentially with the attempt number up to Max.
type Backoff struct {
	Base         time.Duration
	Max          time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0 to 1.0
}

// DefaultBackoff returns the policy used when configuration is silent.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:         5 * time.Second,
		Max:          5 * time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// NewBackoff builds a policy from configured base and cap, keeping the
// default growth curve.
func NewBackoff(base, max time.Duration) Backoff {
	b := DefaultBackoff()
	if base > 0 {
		b.Base = base
	}
	if max > 0 {
		b.Max = max
	}
	return b
}

// Delay returns the wait before the given attempt (1-based) may run again,
// with jitter applied.
func (b Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.DelayNoJitter(attempt))
	if b.JitterFactor > 0 {
		jitter := delay * b.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < 0 {
		delay = 0
	}
	// Jitter never pushes a delay past the configured cap.
	if max := float64(b.Max); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// DelayNoJitter returns the deterministic delay curve, monotonically
// non-decreasing in the attempt number.
func (b Backoff) DelayNoJitter(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	return time.Duration(delay)
}

// NextRunAfter returns the absolute time the given attempt becomes eligible.
func (b Backoff) NextRunAfter(now time.Time, attempt int) time.Time {
	return now.UTC().Add(b.Delay(attempt))
}
