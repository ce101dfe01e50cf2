package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteEditRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes", "a.txt")

	res, err := WriteFileTool{}.Execute(ctx, map[string]any{
		"path": path, "content": "hello world\nsecond line\n",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = ReadFileTool{}.Execute(ctx, map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line\n", res.Content)

	res, err = EditFileTool{}.Execute(ctx, map[string]any{
		"path": path, "old_text": "hello world", "new_text": "goodbye",
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "goodbye\nsecond line\n", string(data))
}

func TestReadFileLineRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour"), 0644))

	res, err := ReadFileTool{}.Execute(context.Background(), map[string]any{
		"path": path, "start_line": float64(2), "end_line": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", res.Content)
}

func TestReadFileMissing(t *testing.T) {
	res, err := ReadFileTool{}.Execute(context.Background(), map[string]any{
		"path": filepath.Join(t.TempDir(), "nope.txt"),
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "not found")
}

func TestEditFileRequiresUniqueFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("dup dup"), 0644))

	res, err := EditFileTool{}.Execute(context.Background(), map[string]any{
		"path": path, "old_text": "dup", "new_text": "x",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "2 times")
}

func TestBashTool(t *testing.T) {
	bash := &BashTool{}

	res, err := bash.Execute(context.Background(), map[string]any{"command": "echo hi"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, res.Content, "hi")

	res, err = bash.Execute(context.Background(), map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = bash.Execute(context.Background(), map[string]any{
		"command": "sleep 5", "timeout": float64(1),
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "timed out")
}

func TestGlobTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.go"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.txt"), []byte("x"), 0644))

	res, err := GlobTool{}.Execute(context.Background(), map[string]any{
		"path": dir, "pattern": "*.go",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "a.go")
	assert.Contains(t, res.Content, "b.go")
	assert.NotContains(t, res.Content, "c.txt")
}

func TestGrepTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"),
		[]byte("alpha\nneedle here\nomega"), 0644))

	res, err := GrepTool{}.Execute(context.Background(), map[string]any{
		"path": dir, "pattern": "needle",
	})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "a.txt:2:needle here")

	res, err = GrepTool{}.Execute(context.Background(), map[string]any{
		"path": dir, "pattern": "absent",
	})
	require.NoError(t, err)
	assert.Equal(t, "no matches", res.Content)
}

func TestRegistryExecutor(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(ReadFileTool{})
	r.MustRegister(WriteFileTool{})

	defs := r.Defs()
	require.Len(t, defs, 2)
	assert.Equal(t, "read_file", defs[0].Name)
	assert.NotEmpty(t, defs[0].InputSchema)

	exec := r.Executor()
	content, isErr, err := exec(context.Background(), "unknown_tool", nil)
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Contains(t, content, "unknown tool")

	path := filepath.Join(t.TempDir(), "f.txt")
	_, isErr, err = exec(context.Background(), "write_file", map[string]any{
		"path": path, "content": "via executor",
	})
	require.NoError(t, err)
	assert.False(t, isErr)

	content, isErr, err = exec(context.Background(), "read_file", map[string]any{"path": path})
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "via executor", content)
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ReadFileTool{}))
	assert.Error(t, r.Register(ReadFileTool{}))
}
