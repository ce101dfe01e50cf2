package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"zora/internal/event"
	"zora/internal/provider"
	"zora/internal/router"
	"zora/internal/task"
	"zora/pkg/logger"
)

// MaxFailoverDepth bounds recursion when providers fail in sequence.
const MaxFailoverDepth = 3

// DefaultHandoffTokens sizes the compressed context carried to the
// substitute provider.
const DefaultHandoffTokens = 2000

// failureMarker is the optional surface an adapter exposes for breaker
// bookkeeping; *provider.Base satisfies it.
type failureMarker interface {
	RecordFailure()
}

type authPoisoner interface {
	PoisonAuth()
}

type quotaCooler interface {
	SetCooldown(until time.Time)
}

// FailoverController finds a substitute provider after an execute
// failure and packages the task's progress for the handoff.
type FailoverController struct {
	router        *router.Router
	handoffTokens int
	quotaCooldown time.Duration
}

// NewFailoverController builds a controller. handoffTokens <= 0 uses the
// default; quotaCooldown is how long a quota-failed provider sits out.
func NewFailoverController(r *router.Router, handoffTokens int, quotaCooldown time.Duration) *FailoverController {
	if handoffTokens <= 0 {
		handoffTokens = DefaultHandoffTokens
	}
	if quotaCooldown <= 0 {
		quotaCooldown = 30 * time.Minute
	}
	return &FailoverController{router: r, handoffTokens: handoffTokens, quotaCooldown: quotaCooldown}
}

// Attempt marks the failed provider and asks the router for an
// alternative, excluding every provider the task has already burned.
// Returns nil when no substitute exists; the caller enqueues for retry.
func (f *FailoverController) Attempt(t *task.Task, failed provider.Provider, errData *event.ErrorData, exclude []string) (provider.Provider, *task.HandoffBundle) {
	if m, ok := failed.(failureMarker); ok {
		m.RecordFailure()
	}
	if errData != nil {
		if errData.IsAuthError {
			if p, ok := failed.(authPoisoner); ok {
				p.PoisonAuth()
			}
		}
		if errData.IsQuotaError {
			if c, ok := failed.(quotaCooler); ok {
				c.SetCooldown(time.Now().Add(f.quotaCooldown))
			}
		}
	}

	next, err := f.router.Select(t, append(exclude, failed.Name())...)
	if err != nil {
		logger.Warn().Str("job_id", t.JobID).Str("failed", failed.Name()).
			Msg("no failover candidate")
		return nil, nil
	}

	bundle := f.buildBundle(t, failed.Name(), next.Name())
	logger.Info().Str("job_id", t.JobID).
		Str("from", failed.Name()).Str("to", next.Name()).
		Msg("failing over")
	return next, bundle
}

// buildBundle compresses the task's event history into a handoff payload
// sized to the token budget (approximated at four characters per token).
func (f *FailoverController) buildBundle(t *task.Task, from, to string) *task.HandoffBundle {
	b := &task.HandoffBundle{
		JobID:        t.JobID,
		FromProvider: from,
		ToProvider:   to,
		CreatedAt:    time.Now().UTC(),
	}

	var textParts []string
	for _, e := range t.History {
		switch e.Kind {
		case event.KindText:
			textParts = append(textParts, e.Text)
		case event.KindToolCall:
			if e.ToolCall != nil {
				b.Progress = append(b.Progress,
					fmt.Sprintf("called %s", e.ToolCall.Tool))
				b.ToolHistory = append(b.ToolHistory, task.ToolInvocation{
					Tool:      e.ToolCall.Tool,
					Arguments: compactJSON(e.ToolCall.Arguments),
				})
			}
		case event.KindToolResult:
			if e.ToolResult != nil && len(b.ToolHistory) > 0 {
				last := &b.ToolHistory[len(b.ToolHistory)-1]
				if last.Tool == e.ToolResult.Tool && last.Result == "" {
					last.Result = truncate(e.ToolResult.Content, 500)
					last.IsError = e.ToolResult.IsError
				}
			}
		}
	}

	b.Summary = truncate(strings.Join(textParts, "\n"), f.handoffTokens*4)
	return b
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// truncate cuts s to at most max bytes without splitting a multi-byte
// rune at the boundary.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[truncated]"
}
