// Package openai adapts the OpenAI Chat Completions API to the provider
// contract, mirroring the anthropic adapter's agentic tool loop.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"zora/internal/event"
	"zora/internal/provider"
	"zora/internal/task"
	"zora/pkg/logger"
)

// Defaults.
const (
	DefaultModel    = sdk.ChatModelGPT4o
	DefaultMaxTurns = 25
)

// Config seeds the adapter.
type Config struct {
	APIKey   string
	Model    string
	MaxTurns int

	Enabled      bool
	Rank         int
	Capabilities []string
	CostTier     task.CostTier
}

// Provider is the OpenAI-backed adapter.
type Provider struct {
	*provider.Base

	client   sdk.Client
	model    string
	maxTurns int
	hasKey   bool
}

// New builds the adapter. An empty APIKey falls back to OPENAI_API_KEY.
func New(cfg Config) *Provider {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	return &Provider{
		Base: provider.NewBase(provider.BaseConfig{
			Name:         "openai",
			Enabled:      cfg.Enabled,
			Rank:         cfg.Rank,
			Capabilities: cfg.Capabilities,
			CostTier:     cfg.CostTier,
		}),
		client:   sdk.NewClient(option.WithAPIKey(key)),
		model:    cfg.Model,
		maxTurns: cfg.MaxTurns,
		hasKey:   key != "",
	}
}

// CheckAuth validates key presence; revocation surfaces through
// execute-time error classification.
func (p *Provider) CheckAuth(ctx context.Context) provider.AuthStatus {
	if st, ok := p.CachedAuth(); ok {
		return st
	}
	st := provider.AuthStatus{Valid: p.hasKey}
	if !p.hasKey {
		st.RequiresInteraction = true
		st.Detail = "OPENAI_API_KEY not configured"
	}
	p.StoreAuth(st)
	return st
}

// Execute streams one agentic conversation through Chat Completions.
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
			Message:       "openai: circuit open",
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
		params := sdk.ChatCompletionNewParams{
			Model:    p.model,
			Messages: messages,
		}
		if len(tools) > 0 {
			params.Tools = tools
		}

		acc, err := p.streamTurn(ctx, params, out)
		if err != nil {
			p.emit(ctx, out, event.NewError(p.Name(), classify(err)))
			return
		}
		totalIn += acc.Usage.PromptTokens
		totalOut += acc.Usage.CompletionTokens

		if len(acc.Choices) == 0 {
			break
		}
		choice := acc.Choices[0]
		if choice.Message.Content != "" {
			finalText.WriteString(choice.Message.Content)
		}
		if choice.FinishReason != "tool_calls" || len(choice.Message.ToolCalls) == 0 {
			break
		}

		messages = append(messages, choice.Message.ToParam())
		for _, call := range choice.Message.ToolCalls {
			result := p.runTool(ctx, tc, call.ID, call.Function.Name, call.Function.Arguments, out)
			messages = append(messages, sdk.ToolMessage(result.Content, call.ID))
		}
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

// streamTurn consumes one completion stream, emitting text deltas and
// returning the accumulated message.
func (p *Provider) streamTurn(ctx context.Context, params sdk.ChatCompletionNewParams, out chan<- event.Event) (*sdk.ChatCompletionAccumulator, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := &sdk.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				p.emit(ctx, out, event.NewText(p.Name(), delta))
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return acc, nil
}

// runTool authorizes and executes one tool call, emitting the
// tool_call/tool_result pair.
func (p *Provider) runTool(ctx context.Context, tc *task.Context, id, name, arguments string, out chan<- event.Event) event.ToolResultData {
	p.emit(ctx, out, event.NewToolCall(p.Name(), id, name, json.RawMessage(arguments)))

	result := event.ToolResultData{ToolCallID: id, Tool: name}
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		result.Content = "invalid tool arguments: " + err.Error()
		result.IsError = true
		p.emit(ctx, out, event.NewToolResult(p.Name(), result))
		return result
	}

	if tc.Authorize != nil {
		d := tc.Authorize.Authorize(ctx, name, input)
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
		content, isErr, err := tc.ExecTool(ctx, name, input)
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

func (p *Provider) initialMessages(tc *task.Context) []sdk.ChatCompletionMessageParamUnion {
	var msgs []sdk.ChatCompletionMessageParamUnion
	if tc.SystemPrompt != "" {
		msgs = append(msgs, sdk.SystemMessage(tc.SystemPrompt))
	}
	if h := tc.Handoff; h != nil {
		msgs = append(msgs, sdk.UserMessage(handoffPreamble(h)))
	}
	msgs = append(msgs, sdk.UserMessage(tc.Task.Prompt))
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

func encodeTools(defs []task.ToolDef) []sdk.ChatCompletionToolParam {
	var out []sdk.ChatCompletionToolParam
	for _, def := range defs {
		var params map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				logger.Warn().Str("tool", def.Name).Err(err).Msg("bad tool schema, advertising without one")
				params = nil
			}
		}
		fn := sdk.FunctionDefinitionParam{Name: def.Name}
		if def.Description != "" {
			fn.Description = sdk.String(def.Description)
		}
		if params != nil {
			fn.Parameters = sdk.FunctionParameters(params)
		}
		out = append(out, sdk.ChatCompletionToolParam{Function: fn})
	}
	return out
}

// classify maps SDK failures to the error taxonomy the failover
// controller keys on.
func classify(err error) event.ErrorData {
	data := event.ErrorData{Message: "openai: " + err.Error()}
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
