// Package tools defines the tool surface advertised to providers and the
// registry that executes authorized tool calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"zora/internal/task"
)

// Result is the outcome of a tool execution. IsError marks tool-level
// failures the model should see and recover from; transport errors are
// returned as Go errors instead.
type Result struct {
	Content string
	IsError bool
}

// Errorf builds an error result for the model.
func Errorf(format string, args ...any) Result {
	return Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Tool is one capability the agent can invoke.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema of the input object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Registry holds the registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool; duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// MustRegister panics on registration failure; for built-ins at boot.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Defs renders the registry as the tool definitions advertised to
// providers, in registration order.
func (r *Registry) Defs() []task.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]task.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		schema, _ := json.Marshal(t.Parameters())
		defs = append(defs, task.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schema,
		})
	}
	return defs
}

// Executor adapts the registry to the task.ToolExecutor seam consumed by
// providers. Unknown tools are a model-visible error, not a crash.
func (r *Registry) Executor() task.ToolExecutor {
	return func(ctx context.Context, name string, input map[string]any) (string, bool, error) {
		t, ok := r.Get(name)
		if !ok {
			return fmt.Sprintf("unknown tool: %s", name), true, nil
		}
		res, err := t.Execute(ctx, input)
		if err != nil {
			return err.Error(), true, nil
		}
		return res.Content, res.IsError, nil
	}
}

// stringArg extracts a string parameter.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg extracts an integer parameter, tolerating JSON's float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
