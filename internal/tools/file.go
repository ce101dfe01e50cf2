package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxFileBytes = 10 * 1024 * 1024

func pathParam(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ReadFileTool reads a file, optionally a line range.
type ReadFileTool struct{}

func (ReadFileTool) Name() string { return "read_file" }
func (ReadFileTool) Description() string {
	return "Read the contents of a file. Supports optional 1-based start_line/end_line for large files."
}
func (ReadFileTool) Parameters() map[string]any {
	return objectSchema([]string{"path"}, map[string]any{
		"path":       pathParam("Absolute or ~-relative file path to read"),
		"start_line": map[string]any{"type": "integer", "description": "First line to include (1-based)"},
		"end_line":   map[string]any{"type": "integer", "description": "Last line to include (inclusive)"},
	})
}

func (ReadFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path := stringArg(args, "path")
	if path == "" {
		return Errorf("path is required"), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Errorf("file not found: %s", path), nil
		}
		return Errorf("stat %s: %v", path, err), nil
	}
	if info.IsDir() {
		return Errorf("path is a directory: %s", path), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", path, err), nil
	}
	content := string(data)
	if len(content) > maxFileBytes {
		content = content[:maxFileBytes] + "\n... (content truncated)"
	}

	start, end := intArg(args, "start_line"), intArg(args, "end_line")
	if start > 0 || end > 0 {
		lines := strings.Split(content, "\n")
		if start < 1 {
			start = 1
		}
		if end < 1 || end > len(lines) {
			end = len(lines)
		}
		if start > len(lines) {
			return Errorf("start_line %d past end of file (%d lines)", start, len(lines)), nil
		}
		content = strings.Join(lines[start-1:end], "\n")
	}
	return Result{Content: content}, nil
}

// WriteFileTool writes (or overwrites) a file, creating parent
// directories as needed.
type WriteFileTool struct{}

func (WriteFileTool) Name() string { return "write_file" }
func (WriteFileTool) Description() string {
	return "Write content to a file, creating it (and parent directories) if needed. Overwrites existing content."
}
func (WriteFileTool) Parameters() map[string]any {
	return objectSchema([]string{"path", "content"}, map[string]any{
		"path":    pathParam("File path to write"),
		"content": map[string]any{"type": "string", "description": "Full content to write"},
	})
}

func (WriteFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path := stringArg(args, "path")
	if path == "" {
		return Errorf("path is required"), nil
	}
	content, ok := args["content"].(string)
	if !ok {
		return Errorf("content is required"), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Errorf("create parent dirs: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Errorf("write %s: %v", path, err), nil
	}
	return Result{Content: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}, nil
}

// EditFileTool replaces an exact substring once.
type EditFileTool struct{}

func (EditFileTool) Name() string { return "edit_file" }
func (EditFileTool) Description() string {
	return "Replace an exact text fragment in a file. The fragment must occur exactly once."
}
func (EditFileTool) Parameters() map[string]any {
	return objectSchema([]string{"path", "old_text", "new_text"}, map[string]any{
		"path":     pathParam("File path to edit"),
		"old_text": map[string]any{"type": "string", "description": "Exact text to replace"},
		"new_text": map[string]any{"type": "string", "description": "Replacement text"},
	})
}

func (EditFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path := stringArg(args, "path")
	oldText := stringArg(args, "old_text")
	newText, hasNew := args["new_text"].(string)
	if path == "" || oldText == "" || !hasNew {
		return Errorf("path, old_text and new_text are required"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Errorf("read %s: %v", path, err), nil
	}
	content := string(data)
	switch n := strings.Count(content, oldText); {
	case n == 0:
		return Errorf("old_text not found in %s", path), nil
	case n > 1:
		return Errorf("old_text occurs %d times in %s; provide a unique fragment", n, path), nil
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return Errorf("write %s: %v", path, err), nil
	}
	return Result{Content: fmt.Sprintf("edited %s", path)}, nil
}

// GlobTool lists files matching a shell glob under a directory.
type GlobTool struct{}

func (GlobTool) Name() string { return "glob" }
func (GlobTool) Description() string {
	return "List files matching a glob pattern under a directory, recursively."
}
func (GlobTool) Parameters() map[string]any {
	return objectSchema([]string{"path", "pattern"}, map[string]any{
		"path":    pathParam("Directory to search"),
		"pattern": map[string]any{"type": "string", "description": "Glob pattern matched against the base name, e.g. *.go"},
	})
}

func (GlobTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	root := stringArg(args, "path")
	pattern := stringArg(args, "pattern")
	if root == "" || pattern == "" {
		return Errorf("path and pattern are required"), nil
	}
	var matches []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return Errorf("glob: %v", err), nil
	}
	if len(matches) == 0 {
		return Result{Content: "no matches"}, nil
	}
	return Result{Content: strings.Join(matches, "\n")}, nil
}
