package policy

import (
	"fmt"
	"path/filepath"
	"strings"
)

// tokenize splits a shell command into tokens, respecting double-quote
// escape sequences (\" \\ \$ \`), single-quote literals, and backslash
// escapes outside quotes. Quotes are stripped from the returned tokens.
func tokenize(cmd string) []string {
	var tokens []string
	var cur strings.Builder
	var inSingle, inDouble, hasToken bool

	flush := func() {
		if hasToken {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasToken = false
		}
	}

	runes := []rune(cmd)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			if c == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(c)
			}
		case inDouble:
			if c == '\\' && i+1 < len(runes) {
				switch runes[i+1] {
				case '"', '\\', '$', '`':
					cur.WriteRune(runes[i+1])
					i++
					continue
				}
				cur.WriteRune(c)
			} else if c == '"' {
				inDouble = false
			} else {
				cur.WriteRune(c)
			}
		case c == '\'':
			inSingle = true
			hasToken = true
		case c == '"':
			inDouble = true
			hasToken = true
		case c == '\\' && i+1 < len(runes):
			cur.WriteRune(runes[i+1])
			hasToken = true
			i++
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			cur.WriteRune(c)
			hasToken = true
		}
	}
	flush()
	return tokens
}

// splitChained splits a command line on ;, &&, || and | that occur outside
// quotes and outside $(...) or backtick substitutions.
func splitChained(cmd string) []string {
	var parts []string
	var cur strings.Builder
	var inSingle, inDouble bool
	parenDepth := 0
	inBacktick := false

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	runes := []rune(cmd)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inSingle:
			cur.WriteRune(c)
			if c == '\'' {
				inSingle = false
			}
		case inDouble:
			if c == '\\' && i+1 < len(runes) {
				cur.WriteRune(c)
				cur.WriteRune(runes[i+1])
				i++
				continue
			}
			cur.WriteRune(c)
			if c == '"' {
				inDouble = false
			}
		case c == '\'':
			inSingle = true
			cur.WriteRune(c)
		case c == '"':
			inDouble = true
			cur.WriteRune(c)
		case c == '\\' && i+1 < len(runes):
			cur.WriteRune(c)
			cur.WriteRune(runes[i+1])
			i++
		case c == '`':
			inBacktick = !inBacktick
			cur.WriteRune(c)
		case c == '$' && i+1 < len(runes) && runes[i+1] == '(':
			parenDepth++
			cur.WriteRune(c)
			cur.WriteRune('(')
			i++
		case c == ')' && parenDepth > 0:
			parenDepth--
			cur.WriteRune(c)
		case parenDepth > 0 || inBacktick:
			cur.WriteRune(c)
		case c == ';':
			flush()
		case c == '&' && i+1 < len(runes) && runes[i+1] == '&':
			flush()
			i++
		case c == '|':
			if i+1 < len(runes) && runes[i+1] == '|' {
				i++
			}
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return parts
}

// isAssignment reports whether a token is a FOO=bar variable-assignment
// prefix rather than a command word.
func isAssignment(tok string) bool {
	idx := strings.Index(tok, "=")
	if idx <= 0 {
		return false
	}
	for i, c := range tok[:idx] {
		if c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
			continue
		}
		if i > 0 && c >= '0' && c <= '9' {
			continue
		}
		return false
	}
	return true
}

// baseCommand returns the basename of the first non-assignment token.
func baseCommand(tokens []string) string {
	for _, tok := range tokens {
		if isAssignment(tok) {
			continue
		}
		return filepath.Base(tok)
	}
	return ""
}

// looksLikePath reports whether a command argument should be validated as
// a filesystem path.
func looksLikePath(arg string) bool {
	return strings.HasPrefix(arg, "/") ||
		strings.HasPrefix(arg, "~") ||
		strings.HasPrefix(arg, "./") ||
		strings.HasPrefix(arg, "../")
}

// ValidateCommand validates a shell command line against the shell policy.
// When split_chained_commands is set, each chained sub-command is validated
// independently; one denied sub-command denies the whole line. Path-like
// arguments are additionally screened against denied_paths.
func (e *Engine) ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return &DenyError{Kind: DenyCommand, Reason: "empty command"}
	}

	e.mu.Lock()
	shell := e.policy.Shell
	e.mu.Unlock()

	subs := []string{cmd}
	if shell.SplitChainedCommands {
		subs = splitChained(cmd)
	}

	for _, sub := range subs {
		tokens := tokenize(sub)
		base := baseCommand(tokens)
		if base == "" {
			return &DenyError{Kind: DenyCommand, Reason: fmt.Sprintf("no command word in %q", sub)}
		}

		// Deny beats allow in every mode.
		if containsName(shell.DeniedCommands, base) {
			return &DenyError{Kind: DenyPermanent, Reason: fmt.Sprintf("command %q is permanently denied", base)}
		}
		switch shell.Mode {
		case ShellModeDenyAll:
			return &DenyError{Kind: DenyCommand, Reason: "shell execution is disabled (deny_all)"}
		case ShellModeAllowlist:
			if !containsName(shell.AllowedCommands, base) {
				return &DenyError{Kind: DenyCommand, Reason: fmt.Sprintf("command %q is not in the allowlist", base)}
			}
		case ShellModeDenylist:
			// Already screened above.
		default:
			return &DenyError{Kind: DenyCommand, Reason: fmt.Sprintf("unknown shell mode %q", shell.Mode)}
		}

		// Screen path-like arguments against the permanent deny-list.
		for _, tok := range tokens[1:] {
			if !looksLikePath(tok) {
				continue
			}
			if err := e.deniedPathCheck(tok); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsName(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
