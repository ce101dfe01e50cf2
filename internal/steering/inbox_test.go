package steering

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostAndPoll(t *testing.T) {
	in, err := NewInbox(t.TempDir(), time.Millisecond)
	require.NoError(t, err)

	_, err = in.Post("job-1", "focus on the tests", "user", "cli")
	require.NoError(t, err)
	_, err = in.Post("job-1", "skip the docs", "user", "cli")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	msgs, err := in.Poll("job-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "focus on the tests", msgs[0].Message)
	assert.Equal(t, "skip the docs", msgs[1].Message)

	// Consumed messages are committed to archive and not re-delivered.
	time.Sleep(5 * time.Millisecond)
	msgs, err = in.Poll("job-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPollDebounce(t *testing.T) {
	in, err := NewInbox(t.TempDir(), time.Hour)
	require.NoError(t, err)

	// First poll consumes the debounce slot.
	msgs, err := in.Poll("job-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = in.Post("job-1", "hello", "user", "api")
	require.NoError(t, err)

	// Inside the window the filesystem is not consulted.
	msgs, err = in.Poll("job-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Drain bypasses the debounce.
	msgs, err = in.Drain("job-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Message)
}

func TestPollArchivesMalformed(t *testing.T) {
	base := t.TempDir()
	in, err := NewInbox(base, time.Millisecond)
	require.NoError(t, err)

	dir := filepath.Join(base, "job-1")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0-bad.json"), []byte("{not json"), 0600))

	msgs, err := in.Drain("job-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = os.Stat(filepath.Join(dir, "archive", "0-bad.json"))
	assert.NoError(t, err)
}

func TestPostRejectsEmpty(t *testing.T) {
	in, err := NewInbox(t.TempDir(), 0)
	require.NoError(t, err)
	_, err = in.Post("job-1", "   ", "user", "cli")
	assert.Error(t, err)
}

func TestCleanupPreservesArchive(t *testing.T) {
	base := t.TempDir()
	in, err := NewInbox(base, time.Millisecond)
	require.NoError(t, err)

	_, err = in.Post("job-1", "consumed before cleanup", "user", "cli")
	require.NoError(t, err)
	msgs, err := in.Drain("job-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = in.Post("job-1", "still pending", "user", "cli")
	require.NoError(t, err)

	require.NoError(t, in.Cleanup("job-1"))

	// Pending files are gone, the archived history is not.
	pending, err := in.Drain("job-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries, err := os.ReadDir(filepath.Join(base, "job-1", "archive"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanupMissingJobIsNoop(t *testing.T) {
	in, err := NewInbox(t.TempDir(), time.Millisecond)
	require.NoError(t, err)
	assert.NoError(t, in.Cleanup("never-seen"))
}

func TestWatchSignalsWake(t *testing.T) {
	in, err := NewInbox(t.TempDir(), time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, in.Watch())
	defer in.Close()

	// First post creates the job directory; give the watcher a moment to
	// pick it up before the message we expect a signal for.
	_, err = in.Post("job-1", "warmup", "user", "api")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	_, err = in.Post("job-1", "nudge", "user", "api")
	require.NoError(t, err)

	select {
	case <-in.Wake():
	case <-time.After(2 * time.Second):
		t.Fatal("no wake signal from watcher")
	}
}
