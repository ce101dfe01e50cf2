package session

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"zora/internal/event"
	"zora/pkg/logger"
)

// BufferedWriter batches event appends and flushes them on a timer.
// Append order equals on-disk order; Close flushes whatever remains.
type BufferedWriter struct {
	path     string
	interval time.Duration

	mu  sync.Mutex
	buf []byte

	stop   chan struct{}
	done   chan struct{}
	closed sync.Once
}

func newBufferedWriter(path string, interval time.Duration) (*BufferedWriter, error) {
	// Fail fast if the log is not writable rather than on the first flush.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	f.Close()

	w := &BufferedWriter{
		path:     path,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// Append serializes the event into the buffer. Marshal errors surface here
// so a bad event never silently vanishes from the log.
func (w *BufferedWriter) Append(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w.mu.Lock()
	w.buf = append(w.buf, data...)
	w.buf = append(w.buf, '\n')
	w.mu.Unlock()
	return nil
}

// Flush forces buffered events to disk immediately. Used for terminal
// events where the 500 ms window is too lazy.
func (w *BufferedWriter) Flush() error {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return nil
	}
	pending := w.buf
	w.buf = nil
	w.mu.Unlock()

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(pending); err != nil {
		return fmt.Errorf("write session log: %w", err)
	}
	return nil
}

// Close stops the flush loop and drains the buffer.
func (w *BufferedWriter) Close() error {
	var err error
	w.closed.Do(func() {
		close(w.stop)
		<-w.done
		err = w.Flush()
	})
	return err
}

func (w *BufferedWriter) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				logger.Error().Err(err).Str("path", w.path).Msg("session flush failed")
			}
		case <-w.stop:
			return
		}
	}
}
