package domain

import "time"

type EventKind string

const (
	EventProgress EventKind = "progress"
	EventLog      EventKind = "log"
	EventError    EventKind = "error"
)

// Event is a best-effort status message for subscribers. Events are never
// persisted.
type Event struct {
	TargetKey string    `json:"target_key"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	JobID     string    `json:"job_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEvent(key string, kind EventKind, jobID, message string) Event {
	return Event{
		TargetKey: key,
		Kind:      kind,
		Message:   message,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
}
