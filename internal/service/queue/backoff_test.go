package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowsMonotonically(t *testing.T) {
	b := NewBackoff(5*time.Second, 5*time.Minute)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := b.DelayNoJitter(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		prev = d
	}
}

func TestBackoffCurve(t *testing.T) {
	b := NewBackoff(5*time.Second, 5*time.Minute)

	assert.Equal(t, 5*time.Second, b.DelayNoJitter(1))
	assert.Equal(t, 10*time.Second, b.DelayNoJitter(2))
	assert.Equal(t, 20*time.Second, b.DelayNoJitter(3))
	// Cap kicks in.
	assert.Equal(t, 5*time.Minute, b.DelayNoJitter(12))
}

func TestBackoffJitterStaysNearCurve(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute)

	for i := 0; i < 50; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 16*time.Second)
		assert.LessOrEqual(t, d, 24*time.Second)
	}
}

func TestBackoffJitterNeverExceedsCap(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute)

	// Attempt 20 saturates the curve at Max; jitter must not push past it.
	for i := 0; i < 1000; i++ {
		assert.LessOrEqual(t, b.Delay(20), b.Max)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, DefaultBackoff().Base, b.Base)
	assert.Equal(t, DefaultBackoff().Max, b.Max)

	// Attempt numbers below 1 clamp to the first delay.
	assert.Equal(t, b.DelayNoJitter(1), b.DelayNoJitter(0))
}
