package provider

import (
	"sync"
	"time"
)

// UsageTracker accumulates request and token counts for one provider.
// Safe for concurrent use; accounting is post-hoc from provider-reported
// totals on done events.
type UsageTracker struct {
	mu    sync.Mutex
	usage Usage
}

// Record adds one completed request's consumption.
func (u *UsageTracker) Record(costUSD float64, inputTokens, outputTokens int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.TotalCostUSD += costUSD
	u.usage.TotalInputTokens += inputTokens
	u.usage.TotalOutputTokens += outputTokens
	u.usage.RequestCount++
	now := time.Now().UTC()
	u.usage.LastRequestAt = &now
}

// Snapshot returns a copy of the accumulated usage.
func (u *UsageTracker) Snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.usage
	if u.usage.LastRequestAt != nil {
		t := *u.usage.LastRequestAt
		out.LastRequestAt = &t
	}
	return out
}
