// Package event defines the streamed event model shared by providers,
// the execution pipeline, the session log and the gateway.
package event

import (
	"encoding/json"
	"time"
)

// Kind identifies the variant of an Event.
type Kind string

// Event kinds.
const (
	KindThinking   Kind = "thinking"
	KindText       Kind = "text"
	KindToolCall   Kind = "tool_call"
	KindToolResult Kind = "tool_result"
	KindError      Kind = "error"
	KindDone       Kind = "done"
	KindSteering   Kind = "steering"
)

// Event is the unit of streamed output from a provider. Events for a job
// form a totally ordered append-only sequence; the session log is the
// source of truth for the task.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Source tags the emitting provider (or "pipeline", "steering").
	Source string `json:"source,omitempty"`

	Text       string          `json:"text,omitempty"`
	Thinking   string          `json:"thinking,omitempty"`
	ToolCall   *ToolCallData   `json:"tool_call,omitempty"`
	ToolResult *ToolResultData `json:"tool_result,omitempty"`
	Error      *ErrorData      `json:"error,omitempty"`
	Done       *DoneData       `json:"done,omitempty"`
	Steering   *SteeringData   `json:"steering,omitempty"`
}

// ToolCallData carries a tool invocation request from the provider.
type ToolCallData struct {
	ToolCallID string          `json:"tool_call_id"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultData carries the outcome of a tool invocation.
type ToolResultData struct {
	ToolCallID string `json:"tool_call_id"`
	Tool       string `json:"tool"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// ErrorData carries a provider or pipeline failure.
type ErrorData struct {
	Message       string `json:"message"`
	IsAuthError   bool   `json:"is_auth_error,omitempty"`
	IsQuotaError  bool   `json:"is_quota_error,omitempty"`
	IsCircuitOpen bool   `json:"is_circuit_open,omitempty"`
}

// DoneData terminates a task's event stream.
type DoneData struct {
	Text         string  `json:"text,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
}

// SteeringData is a mid-flight human message injected into the stream.
type SteeringData struct {
	Message string `json:"message"`
	Author  string `json:"author,omitempty"`
	Origin  string `json:"origin,omitempty"` // dashboard, cli, api
}

// NewText builds a text event from the given source.
func NewText(source, text string) Event {
	return Event{Kind: KindText, Timestamp: time.Now(), Source: source, Text: text}
}

// NewThinking builds a thinking event.
func NewThinking(source, thinking string) Event {
	return Event{Kind: KindThinking, Timestamp: time.Now(), Source: source, Thinking: thinking}
}

// NewToolCall builds a tool_call event.
func NewToolCall(source, id, tool string, args json.RawMessage) Event {
	return Event{
		Kind:      KindToolCall,
		Timestamp: time.Now(),
		Source:    source,
		ToolCall:  &ToolCallData{ToolCallID: id, Tool: tool, Arguments: args},
	}
}

// NewToolResult builds a tool_result event.
func NewToolResult(source string, data ToolResultData) Event {
	return Event{Kind: KindToolResult, Timestamp: time.Now(), Source: source, ToolResult: &data}
}

// NewError builds an error event.
func NewError(source string, data ErrorData) Event {
	return Event{Kind: KindError, Timestamp: time.Now(), Source: source, Error: &data}
}

// NewDone builds a done event.
func NewDone(source string, data DoneData) Event {
	return Event{Kind: KindDone, Timestamp: time.Now(), Source: source, Done: &data}
}

// NewSteering builds a steering event.
func NewSteering(data SteeringData) Event {
	return Event{Kind: KindSteering, Timestamp: time.Now(), Source: "steering", Steering: &data}
}

// IsTerminal reports whether the event ends a task's stream.
func (e Event) IsTerminal() bool {
	return e.Kind == KindDone || e.Kind == KindError
}
