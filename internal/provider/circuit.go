package provider

import (
	"sync"
	"time"

	"zora/pkg/logger"
)

// CircuitState is the breaker position.
type CircuitState string

// Breaker states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 30 * time.Second
)

// CircuitBreaker tracks consecutive failures for one provider. State is
// process-local and forgotten on restart. After the threshold-th
// consecutive failure the breaker opens; after the cooldown a single
// probe is admitted (half-open) and its outcome decides closed vs open.
type CircuitBreaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	cooldown  time.Duration

	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewCircuitBreaker builds a closed breaker. Zero threshold/cooldown use
// the defaults.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     CircuitClosed,
		now:       time.Now,
	}
}

// Allow reports whether a request may proceed. In the open state it admits
// exactly one probe per cooldown window, flipping to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitHalfOpen:
		// One probe in flight at a time.
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		logger.Info().Str("provider", cb.name).Msg("circuit half-open, probing")
		return true
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		logger.Info().Str("provider", cb.name).Msg("circuit closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
	cb.probing = false
}

// RecordFailure counts a failure; at the threshold (or on a failed probe)
// the breaker opens.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		if cb.state != CircuitOpen {
			logger.Warn().Str("provider", cb.name).
				Int("failures", cb.failures).Msg("circuit open")
		}
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		cb.probing = false
	}
}

// State returns the current position, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// IsOpen reports whether execute should short-circuit right now.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) < cb.cooldown
}

// Failures returns the consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// HealthScore maps breaker state to [0,1]: 1 closed with no recent
// failures, 0 open.
func (cb *CircuitBreaker) HealthScore() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		return 0
	case CircuitHalfOpen:
		return 0.5
	}
	if cb.failures == 0 {
		return 1
	}
	score := 1 - float64(cb.failures)/float64(cb.threshold)
	if score < 0.1 {
		score = 0.1
	}
	return score
}
