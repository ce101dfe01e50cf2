package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zora/internal/retryqueue"
	"zora/internal/task"
)

func newTask(prompt string) *task.Task {
	return &task.Task{JobID: "t-" + prompt, Prompt: prompt, SubmittedAt: time.Now()}
}

type submitRecorder struct {
	mu    sync.Mutex
	tasks []*task.Task
	err   error
}

func (r *submitRecorder) submit(t *task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	return nil
}

func (r *submitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func TestLoadRoutines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brief.toml"), []byte(`
name = "morning-brief"
schedule = "0 8 * * *"
prompt = "summarize overnight activity"
model_preference = "anthropic"
max_cost_tier = "metered"
`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.toml"), []byte(`
schedule = "* * * * *"
`), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600))

	routines, errs := LoadRoutines(dir)
	require.Len(t, routines, 1)
	assert.Len(t, errs, 1) // broken.toml has no prompt

	r := routines[0]
	assert.Equal(t, "morning-brief", r.Name)
	assert.True(t, r.Enabled)

	built := r.Task(newTask)
	assert.Equal(t, "summarize overnight activity", built.Prompt)
	assert.Equal(t, "anthropic", built.ModelPreference)
	require.NotNil(t, built.MaxCostTier)
	assert.Equal(t, task.TierMetered, *built.MaxCostTier)
}

func TestLoadRoutinesMissingDir(t *testing.T) {
	routines, errs := LoadRoutines(filepath.Join(t.TempDir(), "nope"))
	assert.Nil(t, routines)
	assert.Nil(t, errs)
}

func TestRoutineNameDefaultsToFilename(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cleanup.toml"), []byte(`
schedule = "@daily"
prompt = "tidy the downloads folder"
`), 0600))

	routines, errs := LoadRoutines(dir)
	require.Empty(t, errs)
	require.Len(t, routines, 1)
	assert.Equal(t, "cleanup", routines[0].Name)
}

func TestSweepRetryResubmitsReadyEntries(t *testing.T) {
	q, err := retryqueue.New(filepath.Join(t.TempDir(), "retry.json"), retryqueue.Config{
		BaseDelay: time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(task.Task{JobID: "j1", Prompt: "try again"}, "boom"))
	time.Sleep(5 * time.Millisecond)

	rec := &submitRecorder{}
	s := New(Config{Submit: rec.submit, NewTask: newTask, Retry: q})
	s.sweepRetry()

	assert.Equal(t, 1, rec.count())
	// The entry stays queued until the run settles it; the sweep only
	// defers the next attempt so the job is not picked twice.
	assert.Equal(t, 1, q.Len())
	assert.Empty(t, q.Ready())
}

func TestConfigDefaults(t *testing.T) {
	s := New(Config{Submit: (&submitRecorder{}).submit, NewTask: newTask})
	assert.Equal(t, RetryPollInterval, s.cfg.RetryPollInterval)
	assert.Equal(t, ConsolidationInterval, s.cfg.ConsolidateInterval)
	assert.Equal(t, heartbeatPrompt, s.cfg.HeartbeatPrompt)

	s = New(Config{
		Submit:              (&submitRecorder{}).submit,
		NewTask:             newTask,
		RetryPollInterval:   time.Second,
		ConsolidateInterval: time.Hour,
		HeartbeatPrompt:     "ping",
	})
	assert.Equal(t, time.Second, s.cfg.RetryPollInterval)
	assert.Equal(t, time.Hour, s.cfg.ConsolidateInterval)
	assert.Equal(t, "ping", s.cfg.HeartbeatPrompt)
}

func TestHeartbeatUsesConfiguredPrompt(t *testing.T) {
	rec := &submitRecorder{}
	s := New(Config{Submit: rec.submit, NewTask: newTask, HeartbeatPrompt: "check the mail"})
	s.heartbeat()
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "check the mail", rec.tasks[0].Prompt)
}

func TestSweepRetryKeepsEntryOnFailedSubmission(t *testing.T) {
	q, err := retryqueue.New(filepath.Join(t.TempDir(), "retry.json"), retryqueue.Config{
		BaseDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(task.Task{JobID: "j1", Prompt: "try again"}, "boom"))

	rec := &submitRecorder{err: fmt.Errorf("shutting down")}
	s := New(Config{Submit: rec.submit, NewTask: newTask, Retry: q})
	time.Sleep(20 * time.Millisecond)
	s.sweepRetry()

	assert.Zero(t, rec.count())
	assert.Equal(t, 1, q.Len())
	// Backoff advanced: no longer immediately ready.
	assert.Empty(t, q.Ready())
}

func TestHeartbeatSubmits(t *testing.T) {
	rec := &submitRecorder{}
	s := New(Config{Submit: rec.submit, NewTask: newTask})
	s.heartbeat()
	require.Equal(t, 1, rec.count())
	assert.Contains(t, rec.tasks[0].Prompt, "self-check")
}

func TestStartStopIdempotent(t *testing.T) {
	rec := &submitRecorder{}
	s := New(Config{Submit: rec.submit, NewTask: newTask})
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}
