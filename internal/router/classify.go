// Package router classifies prompts and selects a provider honoring the
// configured routing mode, capability requirements and cost ceilings.
package router

import (
	"strings"

	"zora/internal/task"
)

var resourceKeywords = map[task.ResourceType][]string{
	task.ResourceReasoning: {
		"analyze", "explain", "why", "reason", "think", "plan", "decide",
		"compare", "evaluate", "prove", "debug", "architect", "design",
	},
	task.ResourceCoding: {
		"code", "function", "implement", "refactor", "bug", "compile",
		"test", "script", "program", "class", "api", "library",
	},
	task.ResourceSearch: {
		"search", "find", "lookup", "research", "latest", "news",
		"current", "today", "recent",
	},
	task.ResourceData: {
		"csv", "json", "table", "parse", "extract", "transform",
		"database", "query", "spreadsheet", "schema",
	},
	task.ResourceCreative: {
		"write", "story", "poem", "draft", "creative", "brainstorm",
		"name", "slogan", "essay", "blog",
	},
}

// reasoningWeight biases classification toward reasoning: analytical
// prompts tend to under-signal relative to coding prompts.
const reasoningWeight = 2

var complexMarkers = []string{"refactor", "security", "architect"}

// Classify scores a prompt against the resource keyword sets and derives
// a complexity estimate.
func Classify(prompt string) task.Classification {
	lower := strings.ToLower(prompt)

	scores := make(map[task.ResourceType]int)
	for rt, words := range resourceKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				scores[rt]++
			}
		}
	}
	scores[task.ResourceReasoning] *= reasoningWeight

	best := task.ResourceReasoning
	bestScore := 0
	nonZero := 0
	for _, rt := range []task.ResourceType{
		task.ResourceReasoning, task.ResourceCoding, task.ResourceSearch,
		task.ResourceData, task.ResourceCreative,
	} {
		s := scores[rt]
		if s > 0 {
			nonZero++
		}
		if s > bestScore {
			best = rt
			bestScore = s
		}
	}
	if nonZero >= 3 {
		best = task.ResourceMixed
	}

	return task.Classification{
		ResourceType: best,
		Complexity:   classifyComplexity(lower, nonZero),
	}
}

func classifyComplexity(lower string, nonZeroTypes int) task.Complexity {
	for _, m := range complexMarkers {
		if strings.Contains(lower, m) {
			return task.ComplexityComplex
		}
	}
	if nonZeroTypes >= 3 {
		return task.ComplexityComplex
	}
	if len(lower) < 80 && !strings.Contains(lower, "research") {
		return task.ComplexitySimple
	}
	return task.ComplexityModerate
}

// requiredCapabilities maps a classification to the capability tags a
// provider must carry.
func requiredCapabilities(c task.Classification) []string {
	caps := map[task.ResourceType][]string{
		task.ResourceReasoning: {"reasoning"},
		task.ResourceCoding:    {"coding"},
		task.ResourceSearch:    {"search"},
		task.ResourceData:      {"structured-data"},
		task.ResourceCreative:  {"creative"},
		task.ResourceMixed:     {"reasoning"},
	}[c.ResourceType]

	if c.Complexity == task.ComplexityComplex && !contains(caps, "reasoning") {
		caps = append(caps, "reasoning")
	}
	return caps
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
