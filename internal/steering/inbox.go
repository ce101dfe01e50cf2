// Package steering implements the durable queue of mid-flight human
// messages. Producers (gateway, CLI) write one JSON file per message into
// a per-job directory; the pipeline drains them between events. Renaming
// a consumed file into archive/ is the commit.
package steering

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"zora/pkg/logger"
)

// DefaultDebounce is the minimum interval between filesystem polls for a
// single job; within the window the cached (empty) result is returned.
const DefaultDebounce = 2 * time.Second

// Message is a single steering instruction for a running task.
type Message struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Message   string    `json:"message"`
	Author    string    `json:"author,omitempty"`
	Origin    string    `json:"origin,omitempty"` // dashboard, cli, api
	Timestamp time.Time `json:"timestamp"`
}

// Inbox manages steering message directories under a base dir, one
// subdirectory per job id.
type Inbox struct {
	base     string
	debounce time.Duration

	mu       sync.Mutex
	lastPoll map[string]time.Time

	watcher *fsnotify.Watcher
	// wake is signaled (non-blocking) when the watcher sees a new file;
	// pollers may select on it to cut latency below the debounce window.
	wake chan struct{}
}

// NewInbox creates the steering base directory. Debounce <= 0 uses
// DefaultDebounce.
func NewInbox(base string, debounce time.Duration) (*Inbox, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("create steering dir: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Inbox{
		base:     base,
		debounce: debounce,
		lastPoll: make(map[string]time.Time),
		wake:     make(chan struct{}, 1),
	}, nil
}

func (in *Inbox) jobDir(jobID string) string {
	return filepath.Join(in.base, jobID)
}

// Post writes a steering message for a job. The file is written to a temp
// name and renamed in, so consumers never see a partial message.
func (in *Inbox) Post(jobID, text, author, origin string) (*Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty steering message")
	}
	msg := &Message{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Message:   text,
		Author:    author,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
	dir := in.jobDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create job steering dir: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	// Sortable filename keeps drain order stable across filesystems.
	name := fmt.Sprintf("%d-%s.json", msg.Timestamp.UnixNano(), msg.ID)
	tmp := filepath.Join(dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return nil, err
	}
	return msg, nil
}

// Poll drains pending messages for a job in arrival order. Calls within
// the debounce window return nil without touching the filesystem. Each
// returned message has been committed to archive/ already.
func (in *Inbox) Poll(jobID string) ([]Message, error) {
	in.mu.Lock()
	if last, ok := in.lastPoll[jobID]; ok && time.Since(last) < in.debounce {
		in.mu.Unlock()
		return nil, nil
	}
	in.lastPoll[jobID] = time.Now()
	in.mu.Unlock()

	return in.drain(jobID)
}

// Drain reads and commits all pending messages, ignoring the debounce.
// Used on task end to not lose late messages.
func (in *Inbox) Drain(jobID string) ([]Message, error) {
	return in.drain(jobID)
}

func (in *Inbox) drain(jobID string) ([]Message, error) {
	dir := in.jobDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	archive := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archive, 0755); err != nil {
		return nil, fmt.Errorf("create steering archive: %w", err)
	}

	var msgs []Message
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("unreadable steering message")
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("malformed steering message, archiving")
			_ = os.Rename(path, filepath.Join(archive, name))
			continue
		}
		// The rename is the commit; a message that cannot be archived is
		// left in place and will be re-delivered.
		if err := os.Rename(path, filepath.Join(archive, name)); err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("steering archive rename failed")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Watch starts an fsnotify watcher on the base directory tree and signals
// the wake channel when message files appear. Best-effort: polling alone
// is sufficient for correctness.
func (in *Inbox) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("steering watcher: %w", err)
	}
	if err := w.Add(in.base); err != nil {
		w.Close()
		return fmt.Errorf("watch steering dir: %w", err)
	}
	in.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) {
					// New job directories need their own watch.
					if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
						_ = w.Add(ev.Name)
						continue
					}
					select {
					case in.wake <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("steering watcher error")
			}
		}
	}()
	return nil
}

// Wake exposes the watcher signal channel.
func (in *Inbox) Wake() <-chan struct{} {
	return in.wake
}

// Close stops the watcher if running.
func (in *Inbox) Close() {
	if in.watcher != nil {
		in.watcher.Close()
	}
}

// Cleanup removes a job's live inbox files after the task reaches a
// terminal state. The archive/ subdirectory is the audit trail of
// consumed messages and stays on disk.
func (in *Inbox) Cleanup(jobID string) error {
	in.mu.Lock()
	delete(in.lastPoll, jobID)
	in.mu.Unlock()

	dir := in.jobDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
