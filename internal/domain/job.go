package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

func (s JobState) Finished() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Actor identifies who asked for a piece of work. It travels with every job
// so processors and log lines never depend on ambient request state.
type Actor struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SystemActor is used for scheduler-driven work.
func SystemActor(tenantID string) Actor {
	return Actor{TenantID: tenantID, UserID: "system"}
}

type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Actor      Actor           `json:"actor"`
	Attempts   int             `json:"attempts"`
	State      JobState        `json:"state"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  ErrorKind       `json:"error_kind,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s: empty payload", j.ID)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("job %s: decode payload: %w", j.ID, err)
	}
	return nil
}

// JobSpec is what a caller hands to the queue; the registry fills in the rest.
type JobSpec struct {
	Type    string
	Payload json.RawMessage
	Actor   Actor
}

func NewJobSpec(jobType string, actor Actor, payload interface{}) (JobSpec, error) {
	spec := JobSpec{Type: jobType, Actor: actor}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return JobSpec{}, fmt.Errorf("encode %s payload: %w", jobType, err)
		}
		spec.Payload = raw
	}
	return spec, nil
}

type JobEventKind int

const (
	JobQueued JobEventKind = iota
	JobActive
	JobCompleted
	JobFailed
)

func (k JobEventKind) String() string {
	switch k {
	case JobQueued:
		return "queued"
	case JobActive:
		return "active"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	}
	return "unknown"
}

// JobEvent carries a snapshot of the job at the moment of the transition.
type JobEvent struct {
	Kind JobEventKind
	Job  Job
}
