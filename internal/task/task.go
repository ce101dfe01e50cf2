// Package task defines the unit of work flowing through the orchestration
// core, plus the execution context handed to providers.
package task

import (
	"time"

	"zora/internal/event"
)

// Complexity classifies how demanding a task is.
type Complexity string

// Complexity levels.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ResourceType is the axis of a task that drives capability requirements.
type ResourceType string

// Resource types.
const (
	ResourceReasoning ResourceType = "reasoning"
	ResourceCoding    ResourceType = "coding"
	ResourceData      ResourceType = "data"
	ResourceCreative  ResourceType = "creative"
	ResourceSearch    ResourceType = "search"
	ResourceMixed     ResourceType = "mixed"
)

// CostTier is a coarse expense classification: free < included < metered < premium.
type CostTier int

// Cost tiers, in ascending order of expense.
const (
	TierFree CostTier = iota
	TierIncluded
	TierMetered
	TierPremium
)

// String returns the tier name used in config files and API responses.
func (t CostTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierIncluded:
		return "included"
	case TierMetered:
		return "metered"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// ParseCostTier converts a tier name to a CostTier. Unknown names map to
// TierPremium so a typo never under-prices a ceiling.
func ParseCostTier(s string) CostTier {
	switch s {
	case "free":
		return TierFree
	case "included":
		return TierIncluded
	case "metered":
		return TierMetered
	default:
		return TierPremium
	}
}

// Classification is the routing decision input derived from the prompt.
type Classification struct {
	Complexity   Complexity   `json:"complexity"`
	ResourceType ResourceType `json:"resource_type"`
}

// Task is a unit of work submitted by a user or routine. It is created on
// submission, mutated only by the pipeline that owns it, and discarded on
// the terminal event.
type Task struct {
	JobID           string         `json:"job_id"`
	Prompt          string         `json:"prompt"` // post-sanitization text
	Classification  Classification `json:"classification"`
	ModelPreference string         `json:"model_preference,omitempty"`
	MaxCostTier     *CostTier      `json:"max_cost_tier,omitempty"`
	MaxTurns        int            `json:"max_turns,omitempty"`
	SubmittedAt     time.Time      `json:"submitted_at"`

	// History accumulates every event emitted so far; it drives failover
	// handoff bundles.
	History []event.Event `json:"history,omitempty"`
}
