// Package policy provides the synchronous capability check invoked before
// every tool call: path/command validation, action budgeting, dry-run
// interception, and signed intent-capsule drift detection.
package policy

import (
	"context"
	"fmt"
)

// Policy holds the static-at-load rules read from policy.toml.
type Policy struct {
	Filesystem FilesystemPolicy `mapstructure:"filesystem"`
	Shell      ShellPolicy      `mapstructure:"shell"`
	Actions    ActionsPolicy    `mapstructure:"actions"`
	Network    NetworkPolicy    `mapstructure:"network"`
	Budget     BudgetPolicy     `mapstructure:"budget"`
	DryRun     DryRunPolicy     `mapstructure:"dry_run"`
}

// FilesystemPolicy controls path access. DeniedPaths is the permanent
// deny-list: runtime expansion cannot override it.
type FilesystemPolicy struct {
	AllowedPaths   []string `mapstructure:"allowed_paths"`
	DeniedPaths    []string `mapstructure:"denied_paths"`
	FollowSymlinks bool     `mapstructure:"follow_symlinks"`
}

// Shell validation modes.
const (
	ShellModeAllowlist = "allowlist"
	ShellModeDenylist  = "denylist"
	ShellModeDenyAll   = "deny_all"
)

// ShellPolicy controls command execution. DeniedCommands is permanent.
type ShellPolicy struct {
	Mode                 string   `mapstructure:"mode"`
	AllowedCommands      []string `mapstructure:"allowed_commands"`
	DeniedCommands       []string `mapstructure:"denied_commands"`
	SplitChainedCommands bool     `mapstructure:"split_chained_commands"`
}

// ActionsPolicy lists action categories that always require approval and
// those considered irreversible.
type ActionsPolicy struct {
	AlwaysFlag   []string `mapstructure:"always_flag"`
	Irreversible []string `mapstructure:"irreversible"`
}

// NetworkPolicy restricts outbound hosts for network-capable tools.
type NetworkPolicy struct {
	AllowedHosts []string `mapstructure:"allowed_hosts"`
}

// Budget on_exceed behaviors.
const (
	OnExceedBlock = "block"
	OnExceedFlag  = "flag"
)

// BudgetPolicy bounds per-session action and token consumption.
type BudgetPolicy struct {
	MaxActionsPerSession int            `mapstructure:"max_actions_per_session"`
	MaxActionsPerType    map[string]int `mapstructure:"max_actions_per_type"`
	TokenBudget          int64          `mapstructure:"token_budget"`
	OnExceed             string         `mapstructure:"on_exceed"`
}

// DryRunPolicy intercepts write tools and records what would have run.
type DryRunPolicy struct {
	Enabled      bool     `mapstructure:"enabled"`
	Tools        []string `mapstructure:"tools"`
	AuditDryRuns bool     `mapstructure:"audit_dry_runs"`
}

// DenyKind classifies a policy denial.
type DenyKind string

// Denial kinds.
const (
	DenyPath      DenyKind = "path"
	DenyCommand   DenyKind = "command"
	DenyArgument  DenyKind = "argument"
	DenyBudget    DenyKind = "budget"
	DenyFlag      DenyKind = "flag"
	DenyDrift     DenyKind = "drift"
	DenyDryRun    DenyKind = "dry_run"
	DenyPermanent DenyKind = "permanent"
)

// DenyError is a machine-checkable policy denial. It is recovered locally:
// the pipeline converts it into a tool_result error payload, never a task
// failure.
type DenyError struct {
	Kind   DenyKind
	Reason string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("policy deny (%s): %s", e.Kind, e.Reason)
}

// FlagRequest describes an action awaiting human approval.
type FlagRequest struct {
	JobID    string
	Tool     string
	Category string
	Reason   string
	Detail   string
}

// FlagFunc asks for human approval; it may block until the user responds
// and must honor ctx cancellation. A nil FlagFunc on the engine means
// flag steps are parsed but not enforced.
type FlagFunc func(ctx context.Context, req FlagRequest) bool

// DryRunResult records an intercepted write during dry-run mode.
type DryRunResult struct {
	Tool        string `json:"tool"`
	Description string `json:"description"`
	JobID       string `json:"job_id,omitempty"`
}

// BudgetStatus is a point-in-time snapshot of a session's consumption.
type BudgetStatus struct {
	SessionID      string         `json:"session_id"`
	TotalActions   int            `json:"total_actions"`
	MaxActions     int            `json:"max_actions"`
	ActionsPerType map[string]int `json:"actions_per_type"`
	TokensUsed     int64          `json:"tokens_used"`
	TokenBudget    int64          `json:"token_budget"`
}

// AccessResult is the per-item verdict from CheckAccess.
type AccessResult struct {
	Item    string `json:"item"`
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
