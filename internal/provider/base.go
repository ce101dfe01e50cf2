package provider

import (
	"context"
	"sync"
	"time"

	"zora/internal/task"
)

// Base carries the adapter state every backend shares: identity and
// ranking, the circuit breaker, usage accounting, the auth cache, quota
// cooldown, and the active-jobs map that backs Abort. Concrete adapters
// embed it and implement Execute plus the auth probe.
type Base struct {
	name         string
	enabled      bool
	rank         int
	capabilities []string
	costTier     task.CostTier

	Breaker *CircuitBreaker
	Tracker *UsageTracker

	mu           sync.Mutex
	cachedAuth   *AuthStatus
	authCachedAt time.Time

	quotaExhausted bool
	cooldownUntil  *time.Time

	activeJobs map[string]context.CancelFunc
}

// BaseConfig seeds a Base from provider configuration.
type BaseConfig struct {
	Name         string
	Enabled      bool
	Rank         int
	Capabilities []string
	CostTier     task.CostTier

	CircuitThreshold int
	CircuitCooldown  time.Duration
}

// NewBase builds shared adapter state with a fresh circuit breaker.
func NewBase(cfg BaseConfig) *Base {
	return &Base{
		name:         cfg.Name,
		enabled:      cfg.Enabled,
		rank:         cfg.Rank,
		capabilities: cfg.Capabilities,
		costTier:     cfg.CostTier,
		Breaker:      NewCircuitBreaker(cfg.Name, cfg.CircuitThreshold, cfg.CircuitCooldown),
		Tracker:      &UsageTracker{},
		activeJobs:   make(map[string]context.CancelFunc),
	}
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Enabled() bool           { return b.enabled }
func (b *Base) Rank() int               { return b.rank }
func (b *Base) Capabilities() []string  { return b.capabilities }
func (b *Base) CostTier() task.CostTier { return b.costTier }
func (b *Base) Usage() Usage            { return b.Tracker.Snapshot() }

// CachedAuth returns the cached auth status if it is fresher than
// AuthCacheTTL.
func (b *Base) CachedAuth() (AuthStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cachedAuth != nil && time.Since(b.authCachedAt) < AuthCacheTTL {
		return *b.cachedAuth, true
	}
	return AuthStatus{}, false
}

// StoreAuth caches a fresh auth probe result.
func (b *Base) StoreAuth(st AuthStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cachedAuth = &st
	b.authCachedAt = time.Now()
}

// PoisonAuth drops the cache and marks the credential as needing a
// re-check after an auth-classified failure.
func (b *Base) PoisonAuth() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cachedAuth = &AuthStatus{Valid: false, RequiresInteraction: true, Detail: "auth failure during execute"}
	b.authCachedAt = time.Now()
}

// LastAuthValid reports the most recent known auth verdict; an empty
// cache counts as valid so a provider is not excluded before its first
// probe.
func (b *Base) LastAuthValid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cachedAuth == nil || b.cachedAuth.Valid
}

// SetCooldown marks quota exhaustion until the given time.
func (b *Base) SetCooldown(until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotaExhausted = true
	b.cooldownUntil = &until
}

// QuotaStatus derives headroom from quota marks and the breaker.
func (b *Base) QuotaStatus() QuotaStatus {
	b.mu.Lock()
	exhausted := b.quotaExhausted
	var cooldown *time.Time
	if b.cooldownUntil != nil {
		t := *b.cooldownUntil
		cooldown = &t
		if time.Now().After(t) {
			exhausted = false
			b.quotaExhausted = false
			b.cooldownUntil = nil
			cooldown = nil
		}
	}
	b.mu.Unlock()

	return QuotaStatus{
		IsExhausted:   exhausted,
		CooldownUntil: cooldown,
		HealthScore:   b.Breaker.HealthScore(),
	}
}

// IsAvailable implements the standard availability check: enabled,
// breaker not open, last known auth valid, quota not exhausted.
func (b *Base) IsAvailable() bool {
	if !b.enabled {
		return false
	}
	if b.Breaker.IsOpen() {
		return false
	}
	if !b.LastAuthValid() {
		return false
	}
	return !b.QuotaStatus().IsExhausted
}

// RecordFailure feeds the circuit breaker after a failed execute.
func (b *Base) RecordFailure() { b.Breaker.RecordFailure() }

// RecordSuccess resets the breaker after a clean run.
func (b *Base) RecordSuccess() { b.Breaker.RecordSuccess() }

// RegisterJob records a running execute for abort support and returns a
// derived context cancelled by Abort.
func (b *Base) RegisterJob(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	jobCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.activeJobs[jobID] = cancel
	b.mu.Unlock()
	return jobCtx, func() {
		b.mu.Lock()
		delete(b.activeJobs, jobID)
		b.mu.Unlock()
		cancel()
	}
}

// Abort cancels a running job; unknown ids are a no-op.
func (b *Base) Abort(jobID string) {
	b.mu.Lock()
	cancel := b.activeJobs[jobID]
	delete(b.activeJobs, jobID)
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
