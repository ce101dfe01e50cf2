package task

import (
	"context"
	"encoding/json"
	"time"
)

// AuthDecision is the verdict of a pre-tool-call authorization check.
type AuthDecision struct {
	Allow bool
	// Reason explains a deny; surfaced to the provider as a tool_result
	// error payload.
	Reason string
	// UpdatedInput optionally replaces the tool input (e.g. normalized
	// paths). Nil means use the original.
	UpdatedInput map[string]any
}

// Authorizer is the policy seam: providers invoke it before every tool
// call they initiate. Passing it explicitly on the task context makes the
// check a first-class, testable dependency.
type Authorizer interface {
	Authorize(ctx context.Context, tool string, input map[string]any) AuthDecision
}

// ToolDef describes a tool advertised to the provider.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolExecutor runs a tool after authorization has passed. Content is the
// result payload shown to the model; isError marks tool-level failures.
type ToolExecutor func(ctx context.Context, tool string, input map[string]any) (content string, isError bool, err error)

// HandoffBundle is the compressed state payload that lets a substitute
// provider continue a task mid-flight.
type HandoffBundle struct {
	JobID        string    `json:"job_id"`
	FromProvider string    `json:"from_provider"`
	ToProvider   string    `json:"to_provider"`
	CreatedAt    time.Time `json:"created_at"`

	// Summary is the compressed context, sized to the configured handoff
	// token budget.
	Summary string `json:"summary"`
	// Progress lists markers of completed work (tool invocations, files
	// touched).
	Progress []string `json:"progress,omitempty"`
	// ToolHistory is the complete tool-invocation history so far.
	ToolHistory []ToolInvocation `json:"tool_history,omitempty"`
}

// ToolInvocation is one completed tool call recorded for handoff.
type ToolInvocation struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// Context is the execution context handed to Provider.Execute. It carries
// the task, the policy seam, and the tool surface.
type Context struct {
	Task *Task

	// SystemPrompt is the assembled identity + policy notice + memory
	// context.
	SystemPrompt string

	// Authorize must be honored before any tool call the provider
	// initiates.
	Authorize Authorizer

	// ExecTool runs an authorized tool call.
	ExecTool ToolExecutor

	// Tools is the advertised tool surface.
	Tools []ToolDef

	// Handoff is set when this execution continues a task that failed
	// over from another provider.
	Handoff *HandoffBundle

	// FailoverDepth counts completed failovers for this task; bounded by
	// the pipeline.
	FailoverDepth int
}
