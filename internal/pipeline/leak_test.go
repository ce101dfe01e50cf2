package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/audit"
	"zora/internal/event"
)

func TestLeakScannerAuditsMatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := audit.New(path)
	require.NoError(t, err)

	s := NewLeakScanner(auditor)
	s.ScanEvent("j1", event.NewToolResult("p", event.ToolResultData{
		Tool:    "bash",
		Content: "API_KEY=sk-abcdefghijklmnopqrstuv1234",
	}))
	auditor.Close()

	// Two patterns match: EnvSecret and OpenAIKey.
	events, err := readAuditActions(path)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(events), 2)
	for _, a := range events {
		assert.Equal(t, "leak_detected", a)
	}
	assert.NoError(t, audit.Verify(path))
}

func TestLeakScannerIgnoresCleanPayloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := audit.New(path)
	require.NoError(t, err)

	s := NewLeakScanner(auditor)
	s.ScanEvent("j1", event.NewToolResult("p", event.ToolResultData{
		Tool:    "read_file",
		Content: "package main\n\nfunc main() {}\n",
	}))
	auditor.Close()

	events, err := readAuditActions(path)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLeakScannerNeverMutates(t *testing.T) {
	s := NewLeakScanner(nil)
	e := event.NewToolResult("p", event.ToolResultData{
		Tool:    "bash",
		Content: "Bearer abcdefghijklmnopqrstuvwxyz123456",
	})
	before := e.ToolResult.Content
	s.ScanEvent("j1", e)
	assert.Equal(t, before, e.ToolResult.Content)
}

func readAuditActions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var actions []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, err
		}
		actions = append(actions, e.Action)
	}
	return actions, nil
}
