// Package provider defines the adapter contract for LLM backends and the
// shared machinery around it: circuit breaking, usage accounting, the
// provider registry, and periodic auth monitoring.
package provider

import (
	"context"
	"time"

	"zora/internal/event"
	"zora/internal/task"
)

// AuthCacheTTL bounds how long a CheckAuth result may be served from
// cache.
const AuthCacheTTL = 60 * time.Second

// AuthStatus reports a provider's credential state.
type AuthStatus struct {
	Valid               bool       `json:"valid"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	CanAutoRefresh      bool       `json:"can_auto_refresh"`
	RequiresInteraction bool       `json:"requires_interaction"`
	Detail              string     `json:"detail,omitempty"`
}

// QuotaStatus reports rate/quota headroom. HealthScore is derived from
// the circuit breaker: 1.0 closed, degrading with recent failures, 0 open.
type QuotaStatus struct {
	IsExhausted       bool       `json:"is_exhausted"`
	RemainingRequests *int       `json:"remaining_requests,omitempty"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	HealthScore       float64    `json:"health_score"`
}

// Usage accumulates per-provider consumption for the process lifetime.
type Usage struct {
	TotalCostUSD      float64    `json:"total_cost_usd"`
	TotalInputTokens  int64      `json:"total_input_tokens"`
	TotalOutputTokens int64      `json:"total_output_tokens"`
	RequestCount      int64      `json:"request_count"`
	LastRequestAt     *time.Time `json:"last_request_at,omitempty"`
}

// Provider is the adapter contract the core consumes. Execute returns a
// finite, single-use event stream and must emit a terminal done or error;
// it must honor the Authorize seam on the task context before any tool
// call it initiates, and must register the job for Abort support.
type Provider interface {
	Name() string

	// IsAvailable checks enabled, circuit-breaker not open, and last
	// known auth valid.
	IsAvailable() bool

	// CheckAuth probes credentials; results may be cached up to
	// AuthCacheTTL.
	CheckAuth(ctx context.Context) AuthStatus

	QuotaStatus() QuotaStatus
	Usage() Usage

	// Rank is the configured preference (lower = preferred).
	Rank() int
	Capabilities() []string
	CostTier() task.CostTier

	Execute(ctx context.Context, tc *task.Context) <-chan event.Event

	// Abort is idempotent; unknown job ids are a no-op.
	Abort(jobID string)
}
