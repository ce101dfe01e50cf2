package event

import (
	"encoding/json"
	"time"
)

// Envelope is the wire format broadcast to dashboard clients over SSE and
// WebSocket: {"type", "timestamp", "source", "data"}.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// WrapEvent converts a job event into a broadcast envelope. The jobId is
// folded into the data object so subscribers can demultiplex streams.
func WrapEvent(jobID string, e Event) (Envelope, error) {
	payload := struct {
		JobID string `json:"job_id"`
		Event Event  `json:"event"`
	}{JobID: jobID, Event: e}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Type:      string(e.Kind),
		Timestamp: e.Timestamp,
		Source:    e.Source,
		Data:      data,
	}, nil
}

// NewEnvelope builds an envelope for a non-event broadcast (notifications,
// system status).
func NewEnvelope(typ, source string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Timestamp: time.Now(), Source: source, Data: raw}, nil
}
