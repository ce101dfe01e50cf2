// Package session persists per-job event logs as append-only jsonl files.
// The log is the source of truth for a task: an event lands here before
// any other observable side-effect.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"zora/internal/event"
)

// DefaultFlushInterval is how long appended events may sit in the write
// buffer before hitting disk.
const DefaultFlushInterval = 500 * time.Millisecond

// Store manages the sessions directory, one <jobID>.jsonl per task.
type Store struct {
	dir string
}

// NewStore creates the sessions directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(jobID string) string {
	return filepath.Join(s.dir, jobID+".jsonl")
}

// Writer opens a buffered appender for a job's log. Interval <= 0 uses
// DefaultFlushInterval.
func (s *Store) Writer(jobID string, interval time.Duration) (*BufferedWriter, error) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return newBufferedWriter(s.path(jobID), interval)
}

// Read returns every complete event in a job's log in append order. A
// trailing incomplete line (torn by a crash mid-write) is skipped, as are
// lines that no longer parse.
func (s *Store) Read(jobID string) ([]event.Event, error) {
	f, err := os.Open(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e event.Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, scanner.Err()
}

// Info summarizes one persisted session log.
type Info struct {
	JobID     string    `json:"job_id"`
	UpdatedAt time.Time `json:"updated_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// List enumerates persisted session logs, most recently updated first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			JobID:     strings.TrimSuffix(e.Name(), ".jsonl"),
			UpdatedAt: fi.ModTime(),
			SizeBytes: fi.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}
