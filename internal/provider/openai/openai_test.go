package openai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"zora/internal/task"
)

func TestClassifyByMessage(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		auth  bool
		quota bool
	}{
		{"auth", errors.New("401 incorrect API key provided"), true, false},
		{"quota", errors.New("429 you exceeded your current quota"), false, true},
		{"transient", errors.New("unexpected EOF"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := classify(tt.err)
			assert.Equal(t, tt.auth, data.IsAuthError)
			assert.Equal(t, tt.quota, data.IsQuotaError)
			assert.Contains(t, data.Message, "openai:")
		})
	}
}

func TestEncodeTools(t *testing.T) {
	defs := []task.ToolDef{
		{Name: "grep", Description: "search files", InputSchema: []byte(`{"type":"object"}`)},
	}
	out := encodeTools(defs)
	assert.Len(t, out, 1)
	assert.Equal(t, "grep", out[0].Function.Name)
}

func TestNewDisabledWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	p := New(Config{Enabled: true})
	assert.False(t, p.hasKey)
	assert.Equal(t, "openai", p.Name())
}

func TestTurnLimitPerTaskOverride(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	p := New(Config{Enabled: true, MaxTurns: 10})

	assert.Equal(t, 10, p.turnLimit(&task.Context{Task: &task.Task{}}))
	assert.Equal(t, 3, p.turnLimit(&task.Context{Task: &task.Task{MaxTurns: 3}}))
	assert.Equal(t, 10, p.turnLimit(&task.Context{}))
}
