package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zora/internal/event"
	"zora/pkg/logger"
)

// ExtractFunc asks a model to distill a task transcript into candidate
// memory items, returned as a JSON array. Injected so tests and the
// extraction-disabled path need no model.
type ExtractFunc func(ctx context.Context, transcript string) (string, error)

// ExtractFromTask runs post-task extraction: collect the text and done
// payloads from the task's events, call the extractor, validate and
// dedupe each candidate, persist the survivors, and note the outcome in
// today's daily note. Failures are logged, never fatal; this runs
// fire-and-forget after task completion.
func (m *Manager) ExtractFromTask(ctx context.Context, jobID string, events []event.Event, extract ExtractFunc) int {
	if extract == nil {
		return 0
	}
	transcript := transcriptOf(events)
	if strings.TrimSpace(transcript) == "" {
		return 0
	}

	raw, err := extract(ctx, transcript)
	if err != nil {
		logger.Warn().Err(err).Str("job_id", jobID).Msg("memory extraction failed")
		return 0
	}

	candidates, err := parseCandidates(raw)
	if err != nil {
		logger.Warn().Err(err).Str("job_id", jobID).Msg("memory extraction returned invalid JSON")
		return 0
	}

	created := 0
	for i := range candidates {
		ok, err := m.CreateItem(&candidates[i])
		if err != nil {
			logger.Debug().Err(err).Msg("extracted candidate rejected")
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		line := fmt.Sprintf("extracted %d memory item(s) from task %s", created, jobID)
		if err := m.Daily.Append(line); err != nil {
			logger.Warn().Err(err).Msg("daily note append failed")
		}
	}
	return created
}

func transcriptOf(events []event.Event) string {
	var b strings.Builder
	for _, e := range events {
		switch e.Kind {
		case event.KindText:
			b.WriteString(e.Text)
			b.WriteString("\n")
		case event.KindDone:
			if e.Done != nil && e.Done.Text != "" {
				b.WriteString(e.Done.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// parseCandidates accepts a bare JSON array, tolerating surrounding
// prose or a fenced code block around it.
func parseCandidates(raw string) ([]Item, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found")
	}
	var items []Item
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil, err
	}
	return items, nil
}
