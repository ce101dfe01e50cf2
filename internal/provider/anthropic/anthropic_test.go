package anthropic

import (
	"context"
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
		{"auth", errors.New("401 authentication_error: invalid x-api-key"), true, false},
		{"quota", errors.New("429 rate limit exceeded"), false, true},
		{"transient", errors.New("connection reset by peer"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := classify(tt.err)
			assert.Equal(t, tt.auth, data.IsAuthError)
			assert.Equal(t, tt.quota, data.IsQuotaError)
			assert.Contains(t, data.Message, "anthropic:")
		})
	}
}

func TestToolBufferFinalInput(t *testing.T) {
	tb := &toolBuffer{fragments: []string{`{"pa`, `th":"a.txt"}`}}
	assert.Equal(t, `{"path":"a.txt"}`, tb.finalInput())

	empty := &toolBuffer{}
	assert.Equal(t, "{}", empty.finalInput())
}

func TestHandoffPreamble(t *testing.T) {
	h := &task.HandoffBundle{
		Summary:  "halfway through sorting photos",
		Progress: []string{"called glob", "called read_file"},
	}
	got := handoffPreamble(h)
	assert.Contains(t, got, "halfway through sorting photos")
	assert.Contains(t, got, "- called glob")
	assert.Contains(t, got, "do not repeat completed work")
}

func TestEncodeTools(t *testing.T) {
	defs := []task.ToolDef{
		{Name: "read_file", Description: "read a file", InputSchema: []byte(`{"type":"object"}`)},
		{Name: "bare"},
	}
	out := encodeTools(defs)
	assert.Len(t, out, 2)
}

func TestTurnLimitPerTaskOverride(t *testing.T) {
	p := NewWithClient(nil, Config{Enabled: true, MaxTurns: 10})

	assert.Equal(t, 10, p.turnLimit(&task.Context{Task: &task.Task{}}))
	assert.Equal(t, 3, p.turnLimit(&task.Context{Task: &task.Task{MaxTurns: 3}}))
	assert.Equal(t, 10, p.turnLimit(&task.Context{}))
}

func TestCheckAuthWithoutKey(t *testing.T) {
	p := NewWithClient(nil, Config{Enabled: true})
	p.hasKey = false
	st := p.CheckAuth(context.Background())
	assert.False(t, st.Valid)
	assert.True(t, st.RequiresInteraction)
}
