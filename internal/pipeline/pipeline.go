// Package pipeline drives a task from submission to its terminal event:
// sanitization, routing, provider streaming, steering injection, leak
// scanning, failover and retry hand-off.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"zora/internal/audit"
	"zora/internal/event"
	"zora/internal/identity"
	"zora/internal/memory"
	"zora/internal/policy"
	"zora/internal/provider"
	"zora/internal/retryqueue"
	"zora/internal/router"
	"zora/internal/session"
	"zora/internal/steering"
	"zora/internal/task"
	"zora/pkg/logger"
)

// State of a task in the pipeline.
type State string

// Pipeline states.
const (
	StateNew           State = "NEW"
	StateRouting       State = "ROUTING"
	StateExecuting     State = "EXECUTING"
	StateSteeringCheck State = "STEERING_CHECK"
	StateFailingOver   State = "FAILING_OVER"
	StateRetrying      State = "RETRYING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// FlushInterval is the session log buffering window.
const FlushInterval = 500 * time.Millisecond

// DefaultIntentTTL bounds how long an intent capsule stays verifiable.
const DefaultIntentTTL = 24 * time.Hour

const policyNotice = `You operate under a policy file that restricts which paths and
commands you may touch. Denied tool calls return an error result; adjust
your approach rather than retrying the same call.`

// Result is the terminal outcome of a pipeline run.
type Result struct {
	JobID    string `json:"job_id"`
	State    State  `json:"state"`
	Provider string `json:"provider,omitempty"`
	Text     string `json:"text,omitempty"`
	Err      error  `json:"-"`
}

// TaskEndHook runs after a task reaches a terminal state. A non-nil
// return value is submitted as a follow-up task.
type TaskEndHook func(t *task.Task, res *Result) *task.Task

// Config wires a Pipeline.
type Config struct {
	Router   *router.Router
	Failover *FailoverController
	Policy   *policy.Engine
	Sessions *session.Store
	Inbox    *steering.Inbox
	Retry    *retryqueue.Queue
	Memory   *memory.Manager
	Identity *identity.Identity
	Leaks    *LeakScanner
	Audit    *audit.Logger

	Tools    []task.ToolDef
	ExecTool task.ToolExecutor

	// Extract enables post-task memory extraction when non-nil.
	Extract memory.ExtractFunc

	IntentTTL time.Duration

	// MaxFailoverDepth defaults to the package constant when <= 0.
	MaxFailoverDepth int

	// OnEvent receives every event in persisted order; used by the
	// gateway broadcaster and tests.
	OnEvent func(jobID string, e event.Event)

	// OnTaskEnd hooks run after finalization; follow-ups go through
	// Submit.
	OnTaskEnd []TaskEndHook

	// Submit re-enters a follow-up task into the orchestrator.
	Submit func(t *task.Task)
}

// Pipeline executes tasks. Safe for concurrent use; each Run owns its
// task exclusively.
type Pipeline struct {
	cfg Config

	mu     sync.Mutex
	states map[string]State
}

// New builds a pipeline.
func New(cfg Config) *Pipeline {
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = DefaultIntentTTL
	}
	if cfg.MaxFailoverDepth <= 0 {
		cfg.MaxFailoverDepth = MaxFailoverDepth
	}
	return &Pipeline{cfg: cfg, states: make(map[string]State)}
}

// NewTask builds a task from a raw prompt.
func NewTask(prompt string) *task.Task {
	return &task.Task{
		JobID:       uuid.NewString(),
		Prompt:      prompt,
		SubmittedAt: time.Now().UTC(),
	}
}

// States snapshots the live job-state map for the jobs API.
func (p *Pipeline) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

func (p *Pipeline) setState(jobID string, s State) {
	p.mu.Lock()
	p.states[jobID] = s
	p.mu.Unlock()
}

func (p *Pipeline) clearState(jobID string) {
	p.mu.Lock()
	delete(p.states, jobID)
	p.mu.Unlock()
}

// Run drives a task to a terminal state. The returned Result is never
// nil; Err is set when the state is FAILED.
func (p *Pipeline) Run(ctx context.Context, t *task.Task) *Result {
	p.setState(t.JobID, StateNew)
	res := p.run(ctx, t, nil, nil, 0, nil)
	p.finalize(ctx, t, res)
	p.clearState(t.JobID)
	return res
}

// run executes one provider attempt. On failover it recurses with the
// substitute; each level owns its session writer.
func (p *Pipeline) run(ctx context.Context, t *task.Task, prov provider.Provider, handoff *task.HandoffBundle, depth int, burned []string) *Result {
	if prov == nil {
		p.setState(t.JobID, StateRouting)

		sanitized, _ := SanitizePrompt(t.Prompt)
		t.Prompt = sanitized
		if t.Classification == (task.Classification{}) {
			t.Classification = router.Classify(t.Prompt)
		}
		if p.cfg.Policy != nil {
			p.cfg.Policy.BindIntent(t.JobID, t.Prompt, nil, p.cfg.IntentTTL)
		}

		selected, err := p.cfg.Router.Select(t, burned...)
		if err != nil {
			return &Result{JobID: t.JobID, State: StateFailed, Err: fmt.Errorf("no provider available")}
		}
		prov = selected
	}

	writer, err := p.cfg.Sessions.Writer(t.JobID, FlushInterval)
	if err != nil {
		return &Result{JobID: t.JobID, State: StateFailed, Provider: prov.Name(), Err: err}
	}
	defer writer.Close()

	if p.cfg.Policy != nil {
		p.cfg.Policy.StartSession(t.JobID)
	}
	p.setState(t.JobID, StateExecuting)

	tc := &task.Context{
		Task:          t,
		SystemPrompt:  p.systemPrompt(),
		ExecTool:      p.cfg.ExecTool,
		Tools:         p.cfg.Tools,
		Handoff:       handoff,
		FailoverDepth: depth,
	}
	if p.cfg.Policy != nil {
		tc.Authorize = p.cfg.Policy.Authorizer(t.JobID)
	}

	var (
		doneText string
		doneSeen bool
	)

	for e := range prov.Execute(ctx, tc) {
		p.record(t, writer, e)

		switch e.Kind {
		case event.KindText, event.KindToolResult:
			p.setState(t.JobID, StateSteeringCheck)
			p.injectSteering(t, writer)
			p.setState(t.JobID, StateExecuting)
		case event.KindDone:
			doneSeen = true
			if e.Done != nil {
				doneText = e.Done.Text
				if p.cfg.Policy != nil {
					p.cfg.Policy.RecordTokenUsage(t.JobID, e.Done.InputTokens+e.Done.OutputTokens)
				}
			}
		case event.KindError:
			return p.handleError(ctx, t, prov, writer, e, depth, burned)
		}
	}

	if ctx.Err() != nil {
		// Cancellation is not a failure to retry; partial events stand.
		return &Result{JobID: t.JobID, State: StateFailed, Provider: prov.Name(), Err: ctx.Err()}
	}

	if !doneSeen {
		done := event.NewDone(prov.Name(), event.DoneData{Text: "task ended without an explicit result"})
		p.record(t, writer, done)
		doneText = done.Done.Text
	}

	if m, ok := prov.(interface{ RecordSuccess() }); ok {
		m.RecordSuccess()
	}
	return &Result{JobID: t.JobID, State: StateDone, Provider: prov.Name(), Text: doneText}
}

// record persists, leak-scans, emits and accumulates one event; emitted
// order always equals persisted order.
func (p *Pipeline) record(t *task.Task, writer *session.BufferedWriter, e event.Event) {
	if err := writer.Append(e); err != nil {
		logger.Error().Err(err).Str("job_id", t.JobID).Msg("session append failed")
	}
	if p.cfg.Leaks != nil {
		p.cfg.Leaks.ScanEvent(t.JobID, e)
	}
	if p.cfg.Audit != nil {
		switch e.Kind {
		case event.KindToolCall:
			p.cfg.Audit.AppendDetail("tool_call", t.JobID, e.ToolCall.Tool, "", nil)
		case event.KindToolResult:
			p.cfg.Audit.AppendDetail("tool_result", t.JobID, e.ToolResult.Tool, "", map[string]any{
				"is_error": e.ToolResult.IsError,
			})
		}
	}
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(t.JobID, e)
	}
	t.History = append(t.History, e)
}

// injectSteering drains any pending inbox messages into the stream.
func (p *Pipeline) injectSteering(t *task.Task, writer *session.BufferedWriter) {
	if p.cfg.Inbox == nil {
		return
	}
	msgs, err := p.cfg.Inbox.Poll(t.JobID)
	if err != nil {
		logger.Warn().Err(err).Str("job_id", t.JobID).Msg("steering poll failed")
		return
	}
	for _, m := range msgs {
		se := event.NewSteering(event.SteeringData{
			Message: m.Message,
			Author:  m.Author,
			Origin:  m.Origin,
		})
		p.record(t, writer, se)
	}
}

func (p *Pipeline) handleError(ctx context.Context, t *task.Task, prov provider.Provider, writer *session.BufferedWriter, e event.Event, depth int, burned []string) *Result {
	errMsg := "provider error"
	if e.Error != nil {
		errMsg = e.Error.Message
	}

	if depth < p.cfg.MaxFailoverDepth && p.cfg.Failover != nil && ctx.Err() == nil {
		p.setState(t.JobID, StateFailingOver)
		next, bundle := p.cfg.Failover.Attempt(t, prov, e.Error, burned)
		if next != nil {
			// The substitute opens its own writer; close ours first so
			// the log stays ordered.
			writer.Close()
			return p.run(ctx, t, next, bundle, depth+1, append(burned, prov.Name()))
		}
	} else if m, ok := prov.(failureMarker); ok {
		m.RecordFailure()
	}

	if ctx.Err() == nil && p.cfg.Retry != nil {
		p.setState(t.JobID, StateRetrying)
		if err := p.cfg.Retry.Enqueue(*t, errMsg); err != nil {
			logger.Error().Err(err).Str("job_id", t.JobID).Msg("retry enqueue failed")
		}
	}
	return &Result{JobID: t.JobID, State: StateFailed, Provider: prov.Name(), Err: fmt.Errorf("%s", errMsg)}
}

// finalize runs once per task regardless of how many failover levels
// executed.
func (p *Pipeline) finalize(ctx context.Context, t *task.Task, res *Result) {
	if p.cfg.Policy != nil {
		p.cfg.Policy.EndSession(t.JobID)
	}
	p.setState(t.JobID, res.State)

	if res.State == StateDone && p.cfg.Memory != nil {
		line := fmt.Sprintf("completed task %s via %s", t.JobID, res.Provider)
		if err := p.cfg.Memory.Daily.Append(line); err != nil {
			logger.Warn().Err(err).Msg("daily note append failed")
		}
		if p.cfg.Extract != nil {
			history := append([]event.Event(nil), t.History...)
			go p.cfg.Memory.ExtractFromTask(context.WithoutCancel(ctx), t.JobID, history, p.cfg.Extract)
		}
	}

	if p.cfg.Inbox != nil {
		if err := p.cfg.Inbox.Cleanup(t.JobID); err != nil {
			logger.Debug().Err(err).Str("job_id", t.JobID).Msg("steering cleanup failed")
		}
	}

	for _, hook := range p.cfg.OnTaskEnd {
		if follow := hook(t, res); follow != nil && p.cfg.Submit != nil {
			p.cfg.Submit(follow)
		}
	}
}

func (p *Pipeline) systemPrompt() string {
	var parts []string
	if p.cfg.Identity != nil {
		parts = append(parts, p.cfg.Identity.SystemPrompt())
	}
	parts = append(parts, policyNotice)
	if p.cfg.Memory != nil {
		parts = append(parts, p.cfg.Memory.LoadContext())
	}
	out := ""
	for i, s := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += s
	}
	return out
}
