// Package audit provides the append-only hash-chained audit log.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"zora/pkg/logger"
)

// GenesisHash is the previous-hash value of the first chain entry.
const GenesisHash = "genesis"

// Entry is a single audit record. Hash covers the canonical JSON of the
// entry with Hash itself blanked, concatenated after PreviousHash.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"` // tool_invocation, tool_result, policy_deny, dry_run, ...
	JobID        string         `json:"job_id,omitempty"`
	Tool         string         `json:"tool,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
	PreviousHash string         `json:"previous_hash"`
	Hash         string         `json:"hash"`
}

// Logger appends entries to audit.jsonl through a single-writer queue so
// the hash chain is never torn.
type Logger struct {
	path string

	queue  chan Entry
	done   chan struct{}
	closed sync.Once

	mu       sync.Mutex
	lastHash string
}

// New opens (or creates) the audit log at path and resumes the chain from
// the last persisted entry.
func New(path string) (*Logger, error) {
	l := &Logger{
		path:     path,
		queue:    make(chan Entry, 256),
		done:     make(chan struct{}),
		lastHash: GenesisHash,
	}
	if last, err := lastEntryHash(path); err != nil {
		return nil, err
	} else if last != "" {
		l.lastHash = last
	}
	go l.writeLoop()
	return l, nil
}

// Append queues an audit entry. The write happens on the single writer
// goroutine; ordering follows call order for a single caller.
func (l *Logger) Append(action string, fields map[string]any) {
	l.AppendDetail(action, "", "", "", fields)
}

// AppendDetail queues an audit entry with job/tool context.
func (l *Logger) AppendDetail(action, jobID, tool, detail string, fields map[string]any) {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		JobID:     jobID,
		Tool:      tool,
		Detail:    detail,
		Fields:    fields,
	}
	select {
	case l.queue <- e:
	case <-l.done:
	}
}

// Close drains the queue and stops the writer.
func (l *Logger) Close() {
	l.closed.Do(func() {
		close(l.queue)
		<-l.done
	})
}

func (l *Logger) writeLoop() {
	defer close(l.done)
	for e := range l.queue {
		if err := l.writeEntry(e); err != nil {
			logger.Error().Err(err).Str("action", e.Action).Msg("audit append failed")
		}
	}
}

func (l *Logger) writeEntry(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.PreviousHash = l.lastHash
	e.Hash = chainHash(e)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	l.lastHash = e.Hash
	return nil
}

// chainHash computes SHA-256(previousHash || canonical-json-without-hash).
func chainHash(e Entry) string {
	clone := e
	clone.Hash = ""
	data, _ := json.Marshal(clone)
	sum := sha256.Sum256(append([]byte(e.PreviousHash), data...))
	return hex.EncodeToString(sum[:])
}

// Verify walks the chain on disk and reports the first break, if any.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	prev := GenesisHash
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("audit line %d: %w", line, err)
		}
		if e.PreviousHash != prev {
			return fmt.Errorf("audit line %d: chain break: previous_hash %q, want %q", line, e.PreviousHash, prev)
		}
		if got := chainHash(e); got != e.Hash {
			return fmt.Errorf("audit line %d: hash mismatch", line)
		}
		prev = e.Hash
	}
	return scanner.Err()
}

// lastEntryHash returns the hash of the final entry, or "" for an empty or
// missing log. A trailing incomplete line is tolerated.
func lastEntryHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var last string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Hash != "" {
			last = e.Hash
		}
	}
	return last, scanner.Err()
}
