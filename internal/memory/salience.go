package memory

import (
	"math"
	"time"
)

// RecencyHalfLife is the exponential-decay half-life applied to
// last_accessed when ranking recall results.
const RecencyHalfLife = 14 * 24 * time.Hour

// sourceTrust weights recall by provenance: what the user said outranks
// what the agent inferred, which outranks raw tool output.
func sourceTrust(sourceType string) float64 {
	switch sourceType {
	case SourceUserInstruction:
		return 1.0
	case SourceAgentAnalysis:
		return 0.8
	case SourceToolOutput:
		return 0.6
	default:
		return 0.5
	}
}

// recencyFactor decays from 1.0 with a 14-day half-life.
func recencyFactor(lastAccessed time.Time, now time.Time) float64 {
	age := now.Sub(lastAccessed)
	if age <= 0 {
		return 1.0
	}
	return math.Exp2(-age.Hours() / RecencyHalfLife.Hours())
}

// frequencyFactor rewards repeatedly-used items sublinearly.
func frequencyFactor(accessCount int) float64 {
	return 1 + math.Log2(1+float64(accessCount))*0.15
}

// salience combines the four recall factors.
func salience(relevance float64, it *Item, now time.Time) float64 {
	return relevance *
		recencyFactor(it.LastAccessed, now) *
		frequencyFactor(it.AccessCount) *
		sourceTrust(it.SourceType)
}
