package policy

import (
	"fmt"
	"strings"
)

// Action categories used for always_flag matching and drift checks.
const (
	CategoryWriteFile            = "write_file"
	CategoryEditFile             = "edit_file"
	CategoryShellExec            = "shell_exec"
	CategoryShellExecDestructive = "shell_exec_destructive"
	CategoryGitPush              = "git_push"
	CategoryRead                 = "read"
	CategoryMemoryWrite          = "memory_write"
)

var destructiveCommands = map[string]struct{}{
	"rm": {}, "rmdir": {}, "dd": {}, "mkfs": {}, "shred": {},
	"truncate": {}, "chown": {}, "chmod": {}, "kill": {}, "pkill": {},
}

// readOnlyBash lists commands exempt from dry-run interception. For git,
// only the inspection subcommands qualify.
var readOnlyBash = map[string]struct{}{
	"ls": {}, "cat": {}, "pwd": {}, "echo": {}, "head": {}, "tail": {},
	"grep": {}, "find": {}, "which": {}, "wc": {}, "file": {}, "stat": {},
	"env": {}, "date": {}, "whoami": {},
}

var readOnlyGitSubcommands = map[string]struct{}{
	"status": {}, "log": {}, "diff": {}, "show": {},
	"branch": {}, "remote": {}, "tag": {},
}

// classifyAction maps a tool call to an action category and a detail string
// used for drift-keyword comparison.
func classifyAction(tool string, input map[string]any) (category, detail string) {
	switch tool {
	case "write_file":
		return CategoryWriteFile, stringArg(input, "path")
	case "edit_file":
		return CategoryEditFile, stringArg(input, "path")
	case "memory_save":
		return CategoryMemoryWrite, stringArg(input, "summary")
	case "read_file", "glob", "grep", "memory_search", "recall_context":
		return CategoryRead, stringArg(input, "path") + " " + stringArg(input, "pattern") + " " + stringArg(input, "query")
	case "bash":
		cmd := stringArg(input, "command")
		tokens := tokenize(cmd)
		base := baseCommand(tokens)
		switch {
		case base == "git" && hasGitSubcommand(tokens, "push"):
			return CategoryGitPush, cmd
		case isDestructive(base):
			return CategoryShellExecDestructive, cmd
		default:
			return CategoryShellExec, cmd
		}
	default:
		return tool, fmt.Sprint(input)
	}
}

func isDestructive(base string) bool {
	_, ok := destructiveCommands[base]
	return ok
}

// isReadOnlyCommand reports whether a full command line consists solely of
// read-only sub-commands.
func isReadOnlyCommand(cmd string) bool {
	for _, sub := range splitChained(cmd) {
		tokens := tokenize(sub)
		base := baseCommand(tokens)
		if base == "git" {
			if !isReadOnlyGit(tokens) {
				return false
			}
			continue
		}
		if _, ok := readOnlyBash[base]; !ok {
			return false
		}
	}
	return true
}

func isReadOnlyGit(tokens []string) bool {
	seenGit := false
	for _, tok := range tokens {
		if isAssignment(tok) {
			continue
		}
		if !seenGit {
			seenGit = true
			continue
		}
		if strings.HasPrefix(tok, "-") {
			continue
		}
		_, ok := readOnlyGitSubcommands[tok]
		return ok
	}
	return false
}

func hasGitSubcommand(tokens []string, sub string) bool {
	seenGit := false
	for _, tok := range tokens {
		if isAssignment(tok) {
			continue
		}
		if !seenGit {
			seenGit = true
			continue
		}
		if strings.HasPrefix(tok, "-") {
			continue
		}
		return tok == sub
	}
	return false
}

func stringArg(input map[string]any, key string) string {
	if input == nil {
		return ""
	}
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// describeDryRun renders the human-readable "would execute" line recorded
// for an intercepted write.
func describeDryRun(tool string, input map[string]any) string {
	switch tool {
	case "write_file":
		return fmt.Sprintf("would write file %s", stringArg(input, "path"))
	case "edit_file":
		return fmt.Sprintf("would edit file %s", stringArg(input, "path"))
	case "bash":
		return fmt.Sprintf("would execute command: %s", stringArg(input, "command"))
	default:
		return fmt.Sprintf("would run tool %s", tool)
	}
}
