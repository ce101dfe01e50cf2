package policy

import (
	"fmt"

	"zora/pkg/logger"
)

// ExpandRequest asks the engine to grant additional paths or commands at
// runtime, typically after a human approves a flagged action.
type ExpandRequest struct {
	Paths    []string `json:"paths,omitempty"`
	Commands []string `json:"commands,omitempty"`
}

// ExpandPolicy grants new allowed paths and commands. Entries already in
// the corresponding permanent deny-list are refused, as are paths whose
// absolute resolution falls inside denied_paths. When any path was
// registered the policy file is rewritten.
func (e *Engine) ExpandPolicy(req ExpandRequest) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	changed := false
	pathAdded := false

	for _, p := range req.Paths {
		abs, err := resolvePath(p)
		if err != nil {
			return &DenyError{Kind: DenyPath, Reason: fmt.Sprintf("cannot resolve %q: %v", p, err)}
		}
		for _, denied := range e.policy.Filesystem.DeniedPaths {
			dAbs, err := resolvePath(denied)
			if err != nil {
				continue
			}
			if pathWithin(abs, dAbs) {
				return &DenyError{Kind: DenyPermanent, Reason: fmt.Sprintf("cannot grant %q: inside denied path %q", p, denied)}
			}
		}
		if containsName(e.policy.Filesystem.AllowedPaths, p) {
			continue
		}
		e.policy.Filesystem.AllowedPaths = append(e.policy.Filesystem.AllowedPaths, p)
		changed = true
		pathAdded = true
	}

	for _, c := range req.Commands {
		if containsName(e.policy.Shell.DeniedCommands, c) {
			return &DenyError{Kind: DenyPermanent, Reason: fmt.Sprintf("cannot grant %q: permanently denied command", c)}
		}
		if containsName(e.policy.Shell.AllowedCommands, c) {
			continue
		}
		e.policy.Shell.AllowedCommands = append(e.policy.Shell.AllowedCommands, c)
		changed = true
		// The first command grant on a deny_all policy switches it to an
		// allowlist so the grant is actually usable.
		if e.policy.Shell.Mode == ShellModeDenyAll {
			e.policy.Shell.Mode = ShellModeAllowlist
		}
	}

	if !changed {
		return nil
	}
	if e.auditor != nil {
		e.auditor.Append("policy_expand", map[string]any{
			"paths":    req.Paths,
			"commands": req.Commands,
		})
	}
	if pathAdded && e.policyPath != "" {
		if err := Save(e.policyPath, e.policy); err != nil {
			logger.Error().Err(err).Str("path", e.policyPath).Msg("persist expanded policy failed")
			return fmt.Errorf("persist policy: %w", err)
		}
	}
	return nil
}
