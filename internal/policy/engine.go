package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"zora/internal/audit"
	"zora/internal/task"
	"zora/pkg/logger"
)

// WriteTools are intercepted by dry-run mode when dry_run.tools is empty.
var WriteTools = []string{"write_file", "edit_file", "bash"}

// DefaultDriftThreshold is the minimum Jaccard overlap between mandate
// keywords and action-detail keywords before a drift flag is raised.
const DefaultDriftThreshold = 0.30

type sessionBudget struct {
	totalActions   int
	actionsPerType map[string]int
	tokensUsed     int64
}

// Options configures an Engine beyond the policy itself.
type Options struct {
	// PolicyPath is where expandPolicy persists granted paths/commands.
	PolicyPath string
	// Auditor receives a record of every deny and dry-run. Optional.
	Auditor *audit.Logger
	// Flag asks a human for approval. Nil means flag steps are parsed but
	// not enforced.
	Flag FlagFunc
	// DriftThreshold overrides DefaultDriftThreshold when > 0.
	DriftThreshold float64
}

// Engine is the synchronous capability check consulted before every tool
// call. One engine serves all sessions; budgets and capsules are keyed by
// job id.
type Engine struct {
	mu             sync.Mutex
	policy         *Policy
	policyPath     string
	auditor        *audit.Logger
	flag           FlagFunc
	signer         *CapsuleSigner
	driftThreshold float64

	sessions map[string]*sessionBudget
	capsules map[string]*IntentCapsule
	dryRuns  []DryRunResult
}

// New builds an Engine with a fresh per-process capsule signer.
func New(p *Policy, opts Options) (*Engine, error) {
	signer, err := NewSigner()
	if err != nil {
		return nil, fmt.Errorf("policy signer: %w", err)
	}
	threshold := opts.DriftThreshold
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return &Engine{
		policy:         p,
		policyPath:     opts.PolicyPath,
		auditor:        opts.Auditor,
		flag:           opts.Flag,
		signer:         signer,
		driftThreshold: threshold,
		sessions:       make(map[string]*sessionBudget),
		capsules:       make(map[string]*IntentCapsule),
	}, nil
}

// StartSession resets the budget counters for a job. Called by the
// pipeline when a task enters EXECUTING.
func (e *Engine) StartSession(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[jobID] = &sessionBudget{actionsPerType: make(map[string]int)}
}

// EndSession drops budget counters and the intent capsule for a job.
func (e *Engine) EndSession(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, jobID)
	delete(e.capsules, jobID)
}

// BindIntent creates and signs an intent capsule for a submitted task. A
// zero ttl means the capsule never expires.
func (e *Engine) BindIntent(jobID, mandate string, allowedCategories []string, ttl time.Duration) *IntentCapsule {
	c := e.signer.Create(mandate, allowedCategories, ttl)
	e.mu.Lock()
	e.capsules[jobID] = c
	e.mu.Unlock()
	return c
}

// RecordTokenUsage adds provider-reported token consumption to a session's
// budget. Fed post-hoc from done events.
func (e *Engine) RecordTokenUsage(jobID string, tokens int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[jobID]
	if s == nil {
		return
	}
	s.tokensUsed += tokens
	if e.policy.Budget.TokenBudget > 0 && s.tokensUsed > e.policy.Budget.TokenBudget {
		logger.Warn().Str("job_id", jobID).
			Int64("used", s.tokensUsed).
			Int64("budget", e.policy.Budget.TokenBudget).
			Msg("session token budget exceeded")
	}
}

// GetBudgetStatus snapshots a session's consumption.
func (e *Engine) GetBudgetStatus(jobID string) BudgetStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := BudgetStatus{
		SessionID:      jobID,
		MaxActions:     e.policy.Budget.MaxActionsPerSession,
		TokenBudget:    e.policy.Budget.TokenBudget,
		ActionsPerType: make(map[string]int),
	}
	if s := e.sessions[jobID]; s != nil {
		st.TotalActions = s.totalActions
		st.TokensUsed = s.tokensUsed
		for k, v := range s.actionsPerType {
			st.ActionsPerType[k] = v
		}
	}
	return st
}

// CheckAccess validates a batch of paths and commands without consuming
// budget; used by the gateway and by pre-flight checks.
func (e *Engine) CheckAccess(paths, commands []string) []AccessResult {
	results := make([]AccessResult, 0, len(paths)+len(commands))
	for _, p := range paths {
		r := AccessResult{Item: p, Allowed: true}
		if err := e.ValidatePath(p); err != nil {
			r.Allowed = false
			r.Reason = err.Error()
		}
		results = append(results, r)
	}
	for _, c := range commands {
		r := AccessResult{Item: c, Allowed: true}
		if err := e.ValidateCommand(c); err != nil {
			r.Allowed = false
			r.Reason = err.Error()
		}
		results = append(results, r)
	}
	return results
}

// DryRuns returns the intercepted writes recorded so far.
func (e *Engine) DryRuns() []DryRunResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]DryRunResult, len(e.dryRuns))
	copy(out, e.dryRuns)
	return out
}

// Authorizer returns the policy seam bound to one job, suitable for
// placing on a task context.
func (e *Engine) Authorizer(jobID string) task.Authorizer {
	return &boundAuthorizer{engine: e, jobID: jobID}
}

type boundAuthorizer struct {
	engine *Engine
	jobID  string
}

func (b *boundAuthorizer) Authorize(ctx context.Context, tool string, input map[string]any) task.AuthDecision {
	return b.engine.authorize(ctx, b.jobID, tool, input)
}

// authorize runs the ordered checks, short-circuiting on the first deny.
// Denials are never fatal to the task; the provider sees them as tool
// errors and may recover.
func (e *Engine) authorize(ctx context.Context, jobID, tool string, input map[string]any) task.AuthDecision {
	if err := e.toolPrecondition(tool, input); err != nil {
		return e.deny(jobID, tool, err)
	}
	if err := e.chargeBudget(ctx, jobID, tool, input); err != nil {
		return e.deny(jobID, tool, err)
	}
	category, detail := classifyAction(tool, input)
	if err := e.checkAlwaysFlag(ctx, jobID, tool, category, detail); err != nil {
		return e.deny(jobID, tool, err)
	}
	if err := e.checkDrift(ctx, jobID, tool, category, detail); err != nil {
		return e.deny(jobID, tool, err)
	}
	if err := e.interceptDryRun(jobID, tool, input); err != nil {
		return e.deny(jobID, tool, err)
	}
	return task.AuthDecision{Allow: true}
}

// Step 1: tool-specific precondition.
func (e *Engine) toolPrecondition(tool string, input map[string]any) error {
	switch tool {
	case "bash":
		cmd := stringArg(input, "command")
		if cmd == "" {
			return &DenyError{Kind: DenyArgument, Reason: "bash requires a command argument"}
		}
		return e.ValidateCommand(cmd)
	case "read_file", "write_file", "edit_file", "glob", "grep":
		key := "path"
		path := stringArg(input, key)
		if path == "" {
			return &DenyError{Kind: DenyArgument, Reason: fmt.Sprintf("%s requires a path argument", tool)}
		}
		return e.ValidatePath(path)
	}
	return nil
}

// Step 2: budget. Counters are incremented before the check so the deny
// reason reports the attempted count.
func (e *Engine) chargeBudget(ctx context.Context, jobID, tool string, input map[string]any) error {
	e.mu.Lock()
	s := e.sessions[jobID]
	if s == nil {
		s = &sessionBudget{actionsPerType: make(map[string]int)}
		e.sessions[jobID] = s
	}
	s.totalActions++
	s.actionsPerType[tool]++

	budget := e.policy.Budget
	total := s.totalActions
	perType := s.actionsPerType[tool]
	e.mu.Unlock()

	var reason string
	if budget.MaxActionsPerSession > 0 && total > budget.MaxActionsPerSession {
		reason = fmt.Sprintf("Session action budget exceeded: %d/%d", total, budget.MaxActionsPerSession)
	} else if max, ok := budget.MaxActionsPerType[tool]; ok && max > 0 && perType > max {
		reason = fmt.Sprintf("Action budget for %s exceeded: %d/%d", tool, perType, max)
	}
	if reason == "" {
		return nil
	}

	if budget.OnExceed == OnExceedFlag && e.flag != nil {
		approved := e.flag(ctx, FlagRequest{
			JobID:  jobID,
			Tool:   tool,
			Reason: reason,
		})
		if approved {
			return nil
		}
	}
	return &DenyError{Kind: DenyBudget, Reason: reason}
}

// Step 3: always_flag categories. Absent callback means parsed but not
// enforced.
func (e *Engine) checkAlwaysFlag(ctx context.Context, jobID, tool, category, detail string) error {
	e.mu.Lock()
	flagged := containsName(e.policy.Actions.AlwaysFlag, category) ||
		containsName(e.policy.Actions.AlwaysFlag, "*")
	e.mu.Unlock()
	if !flagged {
		return nil
	}
	if e.flag == nil {
		return nil
	}
	approved := e.flag(ctx, FlagRequest{
		JobID:    jobID,
		Tool:     tool,
		Category: category,
		Reason:   fmt.Sprintf("action category %q requires approval", category),
		Detail:   detail,
	})
	if !approved {
		return &DenyError{Kind: DenyFlag, Reason: fmt.Sprintf("action category %q was not approved", category)}
	}
	return nil
}

// Step 4: intent drift against the signed capsule.
func (e *Engine) checkDrift(ctx context.Context, jobID, tool, category, detail string) error {
	e.mu.Lock()
	capsule := e.capsules[jobID]
	threshold := e.driftThreshold
	e.mu.Unlock()

	if capsule == nil || capsule.Expired(time.Now()) {
		return nil
	}
	if !e.signer.Verify(capsule) {
		return &DenyError{Kind: DenyDrift, Reason: "intent capsule signature verification failed"}
	}

	drifted := false
	reason := ""
	if len(capsule.AllowedActionCategories) > 0 && !containsName(capsule.AllowedActionCategories, category) {
		drifted = true
		reason = fmt.Sprintf("action category %q is outside the task mandate", category)
	} else if kw := ExtractKeywords(detail); len(kw) > 0 {
		if overlap := JaccardOverlap(capsule.MandateKeywords, kw); overlap < threshold {
			drifted = true
			reason = fmt.Sprintf("action detail diverges from the task mandate (overlap %.2f < %.2f)", overlap, threshold)
		}
	}
	if !drifted {
		return nil
	}

	if e.flag == nil {
		logger.Warn().Str("job_id", jobID).Str("tool", tool).
			Str("category", category).Msg("intent drift detected, no approval callback, allowing")
		return nil
	}
	approved := e.flag(ctx, FlagRequest{
		JobID:    jobID,
		Tool:     tool,
		Category: category,
		Reason:   reason,
		Detail:   detail,
	})
	if !approved {
		return &DenyError{Kind: DenyDrift, Reason: reason}
	}
	return nil
}

// Step 5: dry-run interception of write tools.
func (e *Engine) interceptDryRun(jobID, tool string, input map[string]any) error {
	e.mu.Lock()
	dr := e.policy.DryRun
	e.mu.Unlock()

	if !dr.Enabled {
		return nil
	}
	targets := dr.Tools
	if len(targets) == 0 {
		targets = WriteTools
	}
	if !containsName(targets, tool) {
		return nil
	}
	if tool == "bash" && isReadOnlyCommand(stringArg(input, "command")) {
		return nil
	}

	desc := describeDryRun(tool, input)
	e.mu.Lock()
	e.dryRuns = append(e.dryRuns, DryRunResult{Tool: tool, Description: desc, JobID: jobID})
	e.mu.Unlock()

	if dr.AuditDryRuns && e.auditor != nil {
		e.auditor.AppendDetail("dry_run", jobID, tool, desc, nil)
	}
	return &DenyError{Kind: DenyDryRun, Reason: fmt.Sprintf("dry-run mode: %s", desc)}
}

func (e *Engine) deny(jobID, tool string, err error) task.AuthDecision {
	de, ok := err.(*DenyError)
	if !ok {
		de = &DenyError{Kind: DenyArgument, Reason: err.Error()}
	}
	if e.auditor != nil && de.Kind != DenyDryRun {
		e.auditor.AppendDetail("policy_deny", jobID, tool, de.Reason, map[string]any{
			"kind": string(de.Kind),
		})
	}
	logger.Debug().Str("job_id", jobID).Str("tool", tool).
		Str("kind", string(de.Kind)).Str("reason", de.Reason).Msg("policy deny")
	return task.AuthDecision{Allow: false, Reason: de.Reason}
}
