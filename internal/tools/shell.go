package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellOutput      = 1024 * 1024
)

// BashTool executes a shell command. Policy validation happens in the
// authorize step before this runs; the tool itself only bounds time and
// output size.
type BashTool struct {
	WorkDir string
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command and return its combined output. Commands are validated against the shell policy."
}
func (t *BashTool) Parameters() map[string]any {
	return objectSchema([]string{"command"}, map[string]any{
		"command": map[string]any{"type": "string", "description": "The command line to run"},
		"timeout": map[string]any{"type": "integer", "description": "Timeout in seconds (default 30)"},
	})
}

func (t *BashTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	command := stringArg(args, "command")
	if command == "" {
		return Errorf("command is required"), nil
	}
	timeout := defaultShellTimeout
	if s := intArg(args, "timeout"); s > 0 {
		timeout = time.Duration(s) * time.Second
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	if t.WorkDir != "" {
		cmd.Dir = t.WorkDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	var b strings.Builder
	if stdout.Len() > 0 {
		b.Write(truncate(stdout.Bytes()))
	}
	if stderr.Len() > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr:\n")
		b.Write(truncate(stderr.Bytes()))
	}

	if execCtx.Err() == context.DeadlineExceeded {
		return Errorf("command timed out after %s\n%s", timeout, b.String()), nil
	}
	if runErr != nil {
		return Errorf("command failed: %v\n%s", runErr, b.String()), nil
	}
	if b.Len() == 0 {
		return Result{Content: "(no output)"}, nil
	}
	return Result{Content: b.String()}, nil
}

func truncate(out []byte) []byte {
	if len(out) <= maxShellOutput {
		return out
	}
	return append(out[:maxShellOutput], []byte(fmt.Sprintf("\n... (truncated %d bytes)", len(out)-maxShellOutput))...)
}
