package tools

import (
	"context"
	"fmt"
	"strings"

	"zora/internal/memory"
)

// DefaultRecallLimit bounds memory_search results when the model omits a
// limit.
const DefaultRecallLimit = 10

// MemorySearchTool searches the structured memory index on demand. The
// progressive context index tells the model this tool exists instead of
// inlining every memory into the system prompt.
type MemorySearchTool struct {
	Manager *memory.Manager
	Limit   int
}

func (MemorySearchTool) Name() string { return "memory_search" }
func (MemorySearchTool) Description() string {
	return "Search stored memories by keyword. Returns the most salient matching items."
}
func (MemorySearchTool) Parameters() map[string]any {
	return objectSchema([]string{"query"}, map[string]any{
		"query": map[string]any{"type": "string", "description": "Keywords to search for"},
		"limit": map[string]any{"type": "integer", "description": "Maximum results to return"},
	})
}

func (t MemorySearchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	query := stringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return Errorf("query is required"), nil
	}
	limit := intArg(args, "limit")
	if limit <= 0 {
		limit = t.Limit
	}
	if limit <= 0 {
		limit = DefaultRecallLimit
	}

	results, err := t.Manager.Recall(query, limit)
	if err != nil {
		return Errorf("memory search: %v", err), nil
	}
	if len(results) == 0 {
		return Result{Content: "No matching memories."}, nil
	}

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "[%.2f] %s (%s): %s", r.Score, r.Item.ID, r.Item.Type, r.Item.Summary)
		if len(r.Item.Tags) > 0 {
			fmt.Fprintf(&b, " #%s", strings.Join(r.Item.Tags, " #"))
		}
		b.WriteByte('\n')
	}
	return Result{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// RecallContextTool dumps the full memory context for batch reasoning:
// category summaries plus the top salience-ranked items.
type RecallContextTool struct {
	Manager *memory.Manager
}

func (RecallContextTool) Name() string { return "recall_context" }
func (RecallContextTool) Description() string {
	return "Load the full memory context: long-term notes, recent daily activity, category summaries and top items."
}
func (RecallContextTool) Parameters() map[string]any {
	return objectSchema(nil, map[string]any{
		"days": map[string]any{"type": "integer", "description": "How many days of daily notes to include (default 7)"},
	})
}

func (t RecallContextTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	days := intArg(args, "days")
	if days <= 0 {
		days = 7
	}
	return Result{Content: t.Manager.LoadFullContext(days)}, nil
}

// MemorySaveTool persists a structured memory item. Near-duplicates of
// existing items are reported, not saved.
type MemorySaveTool struct {
	Manager *memory.Manager
}

func (MemorySaveTool) Name() string { return "memory_save" }
func (MemorySaveTool) Description() string {
	return "Save a fact, preference, decision or pattern to persistent memory."
}
func (MemorySaveTool) Parameters() map[string]any {
	return objectSchema([]string{"summary", "type"}, map[string]any{
		"summary": map[string]any{"type": "string", "description": "One-sentence statement of the memory"},
		"type": map[string]any{
			"type":        "string",
			"description": "Kind of memory",
			"enum":        []string{memory.TypeKnowledge, memory.TypePreference, memory.TypeTask, memory.TypeFact},
		},
		"tags":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"category": map[string]any{"type": "string", "description": "Optional category slug"},
	})
}

func (t MemorySaveTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	it := &memory.Item{
		Summary:    stringArg(args, "summary"),
		Type:       stringArg(args, "type"),
		Category:   stringArg(args, "category"),
		SourceType: memory.SourceAgentAnalysis,
	}
	if raw, ok := args["tags"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				it.Tags = append(it.Tags, s)
			}
		}
	}

	created, err := t.Manager.CreateItem(it)
	if err != nil {
		return Errorf("memory save: %v", err), nil
	}
	if !created {
		return Result{Content: "A near-identical memory already exists; nothing saved."}, nil
	}
	return Result{Content: "Saved memory " + it.ID}, nil
}
