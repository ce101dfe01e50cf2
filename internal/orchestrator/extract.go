package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zora/internal/event"
	"zora/internal/pipeline"
	"zora/internal/task"
)

// extractTimeout bounds the post-task extraction call; it runs
// fire-and-forget and must never hold resources indefinitely.
const extractTimeout = 2 * time.Minute

const extractionPrompt = `Review the following task transcript and extract durable memories:
facts about the user, stated preferences, decisions made, and recurring patterns.

Respond with ONLY a JSON array. Each element:
{"summary": "<one sentence>", "type": "knowledge|preference|task|fact",
 "source_type": "agent_analysis", "tags": ["..."], "category": "<optional slug>"}

Return [] if nothing is worth remembering. Do not extract transient details.

Transcript:
`

// extractTranscript asks the cheapest available provider to distill a
// finished task into memory item candidates. The call bypasses the
// pipeline so extraction can never trigger further extraction.
func (o *Orchestrator) extractTranscript(ctx context.Context, transcript string) (string, error) {
	t := pipeline.NewTask(extractionPrompt + transcript)
	prov, err := o.router.Select(t)
	if err != nil {
		return "", fmt.Errorf("extraction: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	// No tools and no system prompt: a single plain completion.
	tc := &task.Context{Task: t}
	var text strings.Builder
	for e := range prov.Execute(ctx, tc) {
		switch e.Kind {
		case event.KindDone:
			if e.Done != nil && e.Done.Text != "" {
				return e.Done.Text, nil
			}
			return text.String(), nil
		case event.KindError:
			msg := "provider error"
			if e.Error != nil {
				msg = e.Error.Message
			}
			return "", fmt.Errorf("extraction: %s", msg)
		case event.KindText:
			text.WriteString(e.Text)
		}
	}
	return text.String(), nil
}
