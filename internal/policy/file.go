package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Default builds the policy used when no policy.toml exists: agent home
// plus working directory allowed, system paths denied, shell denylisted
// with the destructive classics blocked.
func Default(baseDir string) *Policy {
	return &Policy{
		Filesystem: FilesystemPolicy{
			AllowedPaths: []string{baseDir, "~", "/tmp"},
			DeniedPaths: []string{
				"~/.ssh", "~/.gnupg", "~/.aws", "~/.config/gcloud",
				"/etc", "/usr", "/bin", "/sbin", "/boot",
			},
		},
		Shell: ShellPolicy{
			Mode: ShellModeDenylist,
			DeniedCommands: []string{
				"sudo", "su", "mkfs", "dd", "shutdown", "reboot",
			},
			SplitChainedCommands: true,
		},
		Actions: ActionsPolicy{
			AlwaysFlag:   []string{CategoryGitPush},
			Irreversible: []string{CategoryGitPush, CategoryShellExecDestructive},
		},
		Budget: BudgetPolicy{
			MaxActionsPerSession: 200,
			TokenBudget:          0,
			OnExceed:             OnExceedBlock,
		},
	}
}

// Load reads policy.toml. A missing file yields Default(baseDir) without
// error; a malformed file is an error, never a silent fallback.
func Load(path, baseDir string) (*Policy, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(baseDir), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	p := Default(baseDir)
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	if err := validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validate(p *Policy) error {
	switch p.Shell.Mode {
	case ShellModeAllowlist, ShellModeDenylist, ShellModeDenyAll:
	default:
		return fmt.Errorf("policy: unknown shell mode %q", p.Shell.Mode)
	}
	switch p.Budget.OnExceed {
	case "", OnExceedBlock, OnExceedFlag:
	default:
		return fmt.Errorf("policy: unknown budget on_exceed %q", p.Budget.OnExceed)
	}
	return nil
}

// Save rewrites policy.toml atomically (temp file + rename) in the
// hand-editable section layout.
func Save(path string, p *Policy) error {
	var b strings.Builder

	b.WriteString("[filesystem]\n")
	writeList(&b, "allowed_paths", p.Filesystem.AllowedPaths)
	writeList(&b, "denied_paths", p.Filesystem.DeniedPaths)
	fmt.Fprintf(&b, "follow_symlinks = %t\n\n", p.Filesystem.FollowSymlinks)

	b.WriteString("[shell]\n")
	fmt.Fprintf(&b, "mode = %q\n", p.Shell.Mode)
	writeList(&b, "allowed_commands", p.Shell.AllowedCommands)
	writeList(&b, "denied_commands", p.Shell.DeniedCommands)
	fmt.Fprintf(&b, "split_chained_commands = %t\n\n", p.Shell.SplitChainedCommands)

	b.WriteString("[actions]\n")
	writeList(&b, "always_flag", p.Actions.AlwaysFlag)
	writeList(&b, "irreversible", p.Actions.Irreversible)
	b.WriteString("\n")

	b.WriteString("[network]\n")
	writeList(&b, "allowed_hosts", p.Network.AllowedHosts)
	b.WriteString("\n")

	b.WriteString("[budget]\n")
	fmt.Fprintf(&b, "max_actions_per_session = %d\n", p.Budget.MaxActionsPerSession)
	fmt.Fprintf(&b, "token_budget = %d\n", p.Budget.TokenBudget)
	onExceed := p.Budget.OnExceed
	if onExceed == "" {
		onExceed = OnExceedBlock
	}
	fmt.Fprintf(&b, "on_exceed = %q\n", onExceed)
	if len(p.Budget.MaxActionsPerType) > 0 {
		b.WriteString("\n[budget.max_actions_per_type]\n")
		keys := make([]string, 0, len(p.Budget.MaxActionsPerType))
		for k := range p.Budget.MaxActionsPerType {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s = %d\n", k, p.Budget.MaxActionsPerType[k])
		}
	}
	b.WriteString("\n[dry_run]\n")
	fmt.Fprintf(&b, "enabled = %t\n", p.DryRun.Enabled)
	writeList(&b, "tools", p.DryRun.Tools)
	fmt.Fprintf(&b, "audit_dry_runs = %t\n", p.DryRun.AuditDryRuns)

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeList(b *strings.Builder, key string, items []string) {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	fmt.Fprintf(b, "%s = [%s]\n", key, strings.Join(quoted, ", "))
}
