// Package retryqueue persists failed tasks for later resubmission with
// exponential backoff. The queue file survives restarts; exhausted
// entries move to a dead-letter section instead of vanishing.
package retryqueue

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zora/internal/task"
	"zora/pkg/logger"
)

// Defaults mirror the config package's retry section.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxDelay    = 30 * time.Minute
)

// Entry is one queued retry.
type Entry struct {
	JobID         string    `json:"job_id"`
	Task          task.Task `json:"task"`
	AttemptCount  int       `json:"attempt_count"`
	MaxAttempts   int       `json:"max_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}

type fileState struct {
	Entries    []Entry `json:"entries"`
	DeadLetter []Entry `json:"dead_letter,omitempty"`
}

// Config bounds the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Queue is the durable retry queue. All mutations rewrite the backing
// file atomically (temp file + rename).
type Queue struct {
	path string
	cfg  Config

	mu    sync.Mutex
	state fileState

	now    func() time.Time
	jitter func(time.Duration) time.Duration
}

// New loads (or initializes) the queue at path.
func New(path string, cfg Config) (*Queue, error) {
	q := &Queue{
		path: path,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
		jitter: func(base time.Duration) time.Duration {
			// up to 25% of the computed delay
			return time.Duration(rand.Int63n(int64(base)/4 + 1))
		},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read retry queue: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &q.state); err != nil {
		// A corrupt queue should not block boot; preserve it for
		// inspection and start fresh.
		backup := q.path + ".corrupt"
		logger.Error().Err(err).Str("backup", backup).Msg("retry queue unreadable, starting empty")
		_ = os.Rename(q.path, backup)
		q.state = fileState{}
	}
	return nil
}

func (q *Queue) persist() error {
	data, err := json.MarshalIndent(q.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal retry queue: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

// Enqueue records a failed task. A job that is already queued counts
// this as another failed attempt: the attempt count advances, the next
// attempt is rescheduled with backoff, and exhaustion dead-letters the
// entry. The count therefore survives the resubmit/fail cycle instead
// of resetting with each fresh failure.
func (q *Queue) Enqueue(t task.Task, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.state.Entries {
		e := &q.state.Entries[i]
		if e.JobID != t.JobID {
			continue
		}
		e.AttemptCount++
		e.LastError = lastError
		if e.AttemptCount >= e.MaxAttempts {
			dead := *e
			q.state.Entries = append(q.state.Entries[:i], q.state.Entries[i+1:]...)
			q.state.DeadLetter = append(q.state.DeadLetter, dead)
			logger.Warn().Str("job_id", t.JobID).Int("attempts", dead.AttemptCount).
				Msg("retry attempts exhausted, dead-lettered")
			return q.persist()
		}
		e.NextAttemptAt = q.now().Add(q.delay(e.AttemptCount))
		return q.persist()
	}

	e := Entry{
		JobID:         t.JobID,
		Task:          t,
		AttemptCount:  0,
		MaxAttempts:   q.cfg.MaxAttempts,
		NextAttemptAt: q.now().Add(q.delay(0)),
		LastError:     lastError,
	}
	q.state.Entries = append(q.state.Entries, e)
	logger.Info().Str("job_id", t.JobID).Time("next_attempt", e.NextAttemptAt).
		Msg("task queued for retry")
	return q.persist()
}

// delay computes min(base × 2^attempt + jitter, cap).
func (q *Queue) delay(attempt int) time.Duration {
	d := q.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= q.cfg.MaxDelay {
			d = q.cfg.MaxDelay
			break
		}
	}
	d += q.jitter(d)
	if d > q.cfg.MaxDelay {
		d = q.cfg.MaxDelay
	}
	return d
}

// Ready returns entries whose next attempt is due.
func (q *Queue) Ready() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var out []Entry
	for _, e := range q.state.Entries {
		if !e.NextAttemptAt.After(now) {
			out = append(out, e)
		}
	}
	return out
}

// MarkSubmitted defers an entry's next attempt while a resubmission is
// running, so a sweep cannot resubmit a job that is still in flight.
// The run's outcome settles the entry: Remove on success, Enqueue on
// failure.
func (q *Queue) MarkSubmitted(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.state.Entries {
		e := &q.state.Entries[i]
		if e.JobID != jobID {
			continue
		}
		e.NextAttemptAt = q.now().Add(q.delay(e.AttemptCount + 1))
		return q.persist()
	}
	return nil
}

// Remove drops an entry after its task completed.
func (q *Queue) Remove(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.state.Entries {
		if e.JobID == jobID {
			q.state.Entries = append(q.state.Entries[:i], q.state.Entries[i+1:]...)
			return q.persist()
		}
	}
	return nil
}

// RecordFailure bumps an entry's attempt count and reschedules it. When
// attempts are exhausted the entry moves to the dead-letter section and
// exhausted=true is returned.
func (q *Queue) RecordFailure(jobID, lastError string) (exhausted bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.state.Entries {
		e := &q.state.Entries[i]
		if e.JobID != jobID {
			continue
		}
		e.AttemptCount++
		e.LastError = lastError
		if e.AttemptCount >= e.MaxAttempts {
			dead := *e
			q.state.Entries = append(q.state.Entries[:i], q.state.Entries[i+1:]...)
			q.state.DeadLetter = append(q.state.DeadLetter, dead)
			logger.Warn().Str("job_id", jobID).Int("attempts", dead.AttemptCount).
				Msg("retry attempts exhausted, dead-lettered")
			return true, q.persist()
		}
		e.NextAttemptAt = q.now().Add(q.delay(e.AttemptCount))
		return false, q.persist()
	}
	return false, nil
}

// Len reports the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.state.Entries)
}

// DeadLetter returns exhausted entries for dashboard display.
func (q *Queue) DeadLetter() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.state.DeadLetter))
	copy(out, q.state.DeadLetter)
	return out
}

// Pending returns every queued entry, soonest first.
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.state.Entries))
	copy(out, q.state.Entries)
	return out
}
