// Package anthropic adapts the Claude Messages API to the provider
// contract: streamed events, an agentic tool loop gated by the policy
// authorizer, and circuit/usage bookkeeping.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"zora/internal/event"
	"zora/internal/provider"
	"zora/internal/task"
	"zora/pkg/logger"
)

// Defaults.
const (
	DefaultModel     = string(sdk.ModelClaudeSonnet4_5_20250929)
	DefaultMaxTokens = 8192
	DefaultMaxTurns  = 25
)

// MessagesClient is the slice of the SDK the adapter needs; satisfied by
// *sdk.MessageService and by test fakes.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Config seeds the adapter.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
	MaxTurns  int

	Enabled      bool
	Rank         int
	Capabilities []string
	CostTier     task.CostTier
}

// Provider is the Claude-backed adapter.
type Provider struct {
	*provider.Base

	msg       MessagesClient
	model     string
	maxTokens int
	maxTurns  int
	hasKey    bool
}

// New builds the adapter. An empty APIKey falls back to the
// ANTHROPIC_API_KEY environment variable.
func New(cfg Config) *Provider {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	client := sdk.NewClient(option.WithAPIKey(key))
	p := NewWithClient(&client.Messages, cfg)
	p.hasKey = key != ""
	return p
}

// NewWithClient builds the adapter around an injected messages client.
func NewWithClient(msg MessagesClient, cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Provider{
		Base: provider.NewBase(provider.BaseConfig{
			Name:         "anthropic",
			Enabled:      cfg.Enabled,
			Rank:         cfg.Rank,
			Capabilities: cfg.Capabilities,
			CostTier:     cfg.CostTier,
		}),
		msg:       msg,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxTurns:  cfg.MaxTurns,
		hasKey:    true,
	}
}

// CheckAuth reports credential state; cached up to the shared TTL. A
// full probe would cost a request, so this validates presence and trusts
// execute-time classification for revocation.
func (p *Provider) CheckAuth(ctx context.Context) provider.AuthStatus {
	if st, ok := p.CachedAuth(); ok {
		return st
	}
	st := provider.AuthStatus{Valid: p.hasKey, CanAutoRefresh: false}
	if !p.hasKey {
		st.RequiresInteraction = true
		st.Detail = "ANTHROPIC_API_KEY not configured"
	}
	p.StoreAuth(st)
	return st
}

// Execute streams one agentic conversation. Tool calls are authorized
// through the task context before execution; denials become error tool
// results the model can react to.
func (p *Provider) Execute(ctx context.Context, tc *task.Context) <-chan event.Event {
	out := make(chan event.Event, 16)
	jobCtx, done := p.RegisterJob(ctx, tc.Task.JobID)

	go func() {
		defer close(out)
		defer done()
		p.converse(jobCtx, tc, out)
	}()
	return out
}

// turnLimit honors a per-task turn budget when the task carries one.
func (p *Provider) turnLimit(tc *task.Context) int {
	if tc.Task != nil && tc.Task.MaxTurns > 0 {
		return tc.Task.MaxTurns
	}
	return p.maxTurns
}

func (p *Provider) converse(ctx context.Context, tc *task.Context, out chan<- event.Event) {
	if !p.Breaker.Allow() {
		p.emit(ctx, out, event.NewError(p.Name(), event.ErrorData{
			Message:       "anthropic: circuit open",
			IsCircuitOpen: true,
		}))
		return
	}

	messages := p.initialMessages(tc)
	tools := encodeTools(tc.Tools)

	var (
		finalText strings.Builder
		totalIn   int64
		totalOut  int64
		turns     int
	)
	limit := p.turnLimit(tc)

	for turns = 0; turns < limit; turns++ {
		params := sdk.MessageNewParams{
			Model:     sdk.Model(p.model),
			MaxTokens: int64(p.maxTokens),
			Messages:  messages,
		}
		if tc.SystemPrompt != "" {
			params.System = []sdk.TextBlockParam{{Text: tc.SystemPrompt}}
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		turn, err := p.streamTurn(ctx, params, out)
		if err != nil {
			p.emit(ctx, out, event.NewError(p.Name(), classify(err)))
			return
		}
		totalIn += turn.inputTokens
		totalOut += turn.outputTokens
		if turn.text != "" {
			finalText.WriteString(turn.text)
		}

		if turn.stopReason != "tool_use" || len(turn.toolCalls) == 0 {
			break
		}

		// Tool turn: run each call through the authorizer, then feed the
		// results back as the next user message.
		assistantBlocks := turn.assistantBlocks()
		var resultBlocks []sdk.ContentBlockParamUnion
		for _, call := range turn.toolCalls {
			result := p.runTool(ctx, tc, call, out)
			resultBlocks = append(resultBlocks,
				sdk.NewToolResultBlock(call.id, result.Content, result.IsError))
		}
		messages = append(messages,
			sdk.NewAssistantMessage(assistantBlocks...),
			sdk.NewUserMessage(resultBlocks...),
		)
	}

	if turns >= limit {
		logger.Warn().Str("job_id", tc.Task.JobID).Int("max_turns", limit).
			Msg("turn limit reached")
	}

	p.Tracker.Record(0, totalIn, totalOut)
	p.emit(ctx, out, event.NewDone(p.Name(), event.DoneData{
		Text:         finalText.String(),
		NumTurns:     turns + 1,
		InputTokens:  totalIn,
		OutputTokens: totalOut,
	}))
}

// toolCall is one finalized tool_use block from a streamed turn.
type toolCall struct {
	id    string
	name  string
	input string
}

// turnResult accumulates one streamed assistant turn.
type turnResult struct {
	text         string
	toolCalls    []toolCall
	stopReason   string
	inputTokens  int64
	outputTokens int64
}

// assistantBlocks re-encodes the turn for the conversation history.
func (t *turnResult) assistantBlocks() []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	if t.text != "" {
		blocks = append(blocks, sdk.NewTextBlock(t.text))
	}
	for _, call := range t.toolCalls {
		var input any
		if err := json.Unmarshal([]byte(call.input), &input); err != nil {
			input = map[string]any{}
		}
		blocks = append(blocks, sdk.NewToolUseBlock(call.id, input, call.name))
	}
	return blocks
}

// streamTurn consumes one Messages stream, emitting text and thinking
// deltas as they arrive and buffering tool-call JSON fragments until the
// block closes.
func (p *Provider) streamTurn(ctx context.Context, params sdk.MessageNewParams, out chan<- event.Event) (*turnResult, error) {
	stream := p.msg.NewStreaming(ctx, params)
	defer stream.Close()

	turn := &turnResult{}
	buffers := make(map[int]*toolBuffer)
	var text strings.Builder

	for stream.Next() {
		switch ev := stream.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				buffers[int(ev.Index)] = &toolBuffer{id: tu.ID, name: tu.Name}
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				p.emit(ctx, out, event.NewText(p.Name(), delta.Text))
			case sdk.ThinkingDelta:
				if delta.Thinking != "" {
					p.emit(ctx, out, event.NewThinking(p.Name(), delta.Thinking))
				}
			case sdk.InputJSONDelta:
				if tb := buffers[int(ev.Index)]; tb != nil {
					tb.fragments = append(tb.fragments, delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			if tb := buffers[int(ev.Index)]; tb != nil {
				delete(buffers, int(ev.Index))
				turn.toolCalls = append(turn.toolCalls, toolCall{
					id:    tb.id,
					name:  tb.name,
					input: tb.finalInput(),
				})
			}
		case sdk.MessageDeltaEvent:
			turn.stopReason = string(ev.Delta.StopReason)
			turn.inputTokens += ev.Usage.InputTokens
			turn.outputTokens += ev.Usage.OutputTokens
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn.text = text.String()
	return turn, nil
}

// runTool authorizes and executes one tool call, emitting the
// tool_call/tool_result pair.
func (p *Provider) runTool(ctx context.Context, tc *task.Context, call toolCall, out chan<- event.Event) event.ToolResultData {
	p.emit(ctx, out, event.NewToolCall(p.Name(), call.id, call.name, json.RawMessage(call.input)))

	result := event.ToolResultData{ToolCallID: call.id, Tool: call.name}
	var input map[string]any
	if err := json.Unmarshal([]byte(call.input), &input); err != nil {
		result.Content = "invalid tool arguments: " + err.Error()
		result.IsError = true
		p.emit(ctx, out, event.NewToolResult(p.Name(), result))
		return result
	}

	if tc.Authorize != nil {
		d := tc.Authorize.Authorize(ctx, call.name, input)
		if !d.Allow {
			result.Content = d.Reason
			result.IsError = true
			p.emit(ctx, out, event.NewToolResult(p.Name(), result))
			return result
		}
		if d.UpdatedInput != nil {
			input = d.UpdatedInput
		}
	}

	if tc.ExecTool == nil {
		result.Content = "no tool executor configured"
		result.IsError = true
	} else {
		content, isErr, err := tc.ExecTool(ctx, call.name, input)
		result.Content = content
		result.IsError = isErr
		if err != nil {
			result.Content = err.Error()
			result.IsError = true
		}
	}
	p.emit(ctx, out, event.NewToolResult(p.Name(), result))
	return result
}

func (p *Provider) initialMessages(tc *task.Context) []sdk.MessageParam {
	var msgs []sdk.MessageParam
	if h := tc.Handoff; h != nil {
		msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(handoffPreamble(h))))
	}
	msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(tc.Task.Prompt)))
	return msgs
}

func handoffPreamble(h *task.HandoffBundle) string {
	var b strings.Builder
	b.WriteString("You are taking over a task another assistant started. Progress so far:\n\n")
	b.WriteString(h.Summary)
	if len(h.Progress) > 0 {
		b.WriteString("\n\nCompleted steps:\n")
		for _, step := range h.Progress {
			b.WriteString("- " + step + "\n")
		}
	}
	b.WriteString("\nContinue from here; do not repeat completed work.")
	return b.String()
}

func encodeTools(defs []task.ToolDef) []sdk.ToolUnionParam {
	var out []sdk.ToolUnionParam
	for _, def := range defs {
		var schema map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				logger.Warn().Str("tool", def.Name).Err(err).Msg("bad tool schema, advertising without one")
				schema = nil
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schema}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

// classify maps SDK failures to the error taxonomy the failover
// controller keys on.
func classify(err error) event.ErrorData {
	data := event.ErrorData{Message: "anthropic: " + err.Error()}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			data.IsAuthError = true
		case 429:
			data.IsQuotaError = true
		}
		return data
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "authentication"):
		data.IsAuthError = true
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		data.IsQuotaError = true
	}
	return data
}

func (p *Provider) emit(ctx context.Context, out chan<- event.Event, e event.Event) {
	select {
	case out <- e:
	case <-ctx.Done():
	}
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func (tb *toolBuffer) finalInput() string {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return "{}"
	}
	return joined
}
