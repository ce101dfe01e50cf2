package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"zora/internal/task"
)

func TestClassifyResourceType(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		expected task.ResourceType
	}{
		{
			name:     "coding prompt",
			prompt:   "implement a function to sort the list and add a test",
			expected: task.ResourceCoding,
		},
		{
			name:     "search prompt",
			prompt:   "find the latest news on the framework release",
			expected: task.ResourceSearch,
		},
		{
			name:     "data prompt",
			prompt:   "parse this csv and extract the totals into json",
			expected: task.ResourceData,
		},
		{
			name:     "creative prompt",
			prompt:   "draft a short story about a lighthouse keeper, then brainstorm another poem",
			expected: task.ResourceCreative,
		},
		{
			name:     "no keywords defaults to reasoning",
			prompt:   "hello there",
			expected: task.ResourceReasoning,
		},
		{
			name:     "reasoning outweighs equal coding signal",
			prompt:   "analyze the bug and explain why it happens",
			expected: task.ResourceReasoning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.prompt)
			assert.Equal(t, tt.expected, c.ResourceType)
		})
	}
}

func TestClassifyComplexity(t *testing.T) {
	tests := []struct {
		name     string
		prompt   string
		expected task.Complexity
	}{
		{
			name:     "short prompt is simple",
			prompt:   "what time is it",
			expected: task.ComplexitySimple,
		},
		{
			name:     "refactor marker is complex",
			prompt:   "refactor the session layer",
			expected: task.ComplexityComplex,
		},
		{
			name:     "security marker is complex",
			prompt:   "review this for security issues",
			expected: task.ComplexityComplex,
		},
		{
			name:     "research is not simple even when short",
			prompt:   "research quantum computing",
			expected: task.ComplexityModerate,
		},
		{
			name:     "long prompt is moderate",
			prompt:   "summarize the following meeting transcript into action items grouped by owner and deadline please",
			expected: task.ComplexityModerate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.prompt)
			assert.Equal(t, tt.expected, c.Complexity)
		})
	}
}

func TestClassifyMixed(t *testing.T) {
	c := Classify("research the api, implement code to parse the csv data, and explain why")
	assert.Equal(t, task.ResourceMixed, c.ResourceType)
	assert.Equal(t, task.ComplexityComplex, c.Complexity)
}

func TestRequiredCapabilities(t *testing.T) {
	caps := requiredCapabilities(task.Classification{
		ResourceType: task.ResourceCoding,
		Complexity:   task.ComplexityComplex,
	})
	assert.ElementsMatch(t, []string{"coding", "reasoning"}, caps)

	caps = requiredCapabilities(task.Classification{
		ResourceType: task.ResourceReasoning,
		Complexity:   task.ComplexityComplex,
	})
	assert.Equal(t, []string{"reasoning"}, caps)
}
