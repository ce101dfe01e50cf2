package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *time.Time) {
	cb := NewCircuitBreaker("test", threshold, cooldown)
	now := time.Now()
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.True(t, cb.IsOpen())
}

func TestCircuitSuccessResets(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitHalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	assert.False(t, cb.Allow())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Exactly one probe admitted.
	assert.True(t, cb.Allow())
	assert.False(t, cb.Allow())

	// Successful probe closes.
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitFailedProbeReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute)

	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())
	assert.False(t, cb.Allow())
}

func TestHealthScore(t *testing.T) {
	cb, now := newTestBreaker(4, time.Minute)
	assert.Equal(t, 1.0, cb.HealthScore())

	cb.RecordFailure()
	score := cb.HealthScore()
	assert.Less(t, score, 1.0)
	assert.Greater(t, score, 0.0)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, 0.0, cb.HealthScore())

	*now = now.Add(2 * time.Minute)
	_ = cb.Allow() // transitions to half-open
	assert.Equal(t, 0.5, cb.HealthScore())
}
