package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/memory"
)

func newMemoryManager(t *testing.T) *memory.Manager {
	t.Helper()
	m, err := memory.NewManager(t.TempDir(), memory.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemorySaveAndSearch(t *testing.T) {
	m := newMemoryManager(t)
	save := MemorySaveTool{Manager: m}
	search := MemorySearchTool{Manager: m}

	res, err := save.Execute(context.Background(), map[string]any{
		"summary": "user prefers dark roast coffee",
		"type":    memory.TypePreference,
		"tags":    []any{"coffee"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "Saved memory")

	res, err = search.Execute(context.Background(), map[string]any{"query": "coffee"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "dark roast coffee")
	assert.Contains(t, res.Content, "#coffee")
}

func TestMemorySaveReportsDuplicates(t *testing.T) {
	m := newMemoryManager(t)
	save := MemorySaveTool{Manager: m}

	args := map[string]any{
		"summary": "weekly report is due every friday afternoon",
		"type":    memory.TypeFact,
	}
	res, err := save.Execute(context.Background(), args)
	require.NoError(t, err)
	require.False(t, res.IsError)

	res, err = save.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "already exists")
}

func TestMemorySaveValidates(t *testing.T) {
	m := newMemoryManager(t)
	save := MemorySaveTool{Manager: m}

	res, err := save.Execute(context.Background(), map[string]any{
		"summary": "something",
		"type":    "gossip",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMemorySearchRequiresQuery(t *testing.T) {
	m := newMemoryManager(t)
	search := MemorySearchTool{Manager: m}

	res, err := search.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRecallContextIncludesLongTerm(t *testing.T) {
	m := newMemoryManager(t)
	require.NoError(t, m.AppendLongTerm("- The user's name is Sam."))

	recall := RecallContextTool{Manager: m}
	res, err := recall.Execute(context.Background(), map[string]any{"days": float64(3)})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, res.Content, "Sam")
}
