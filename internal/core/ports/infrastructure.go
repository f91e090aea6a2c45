package ports

import (
	"context"
	"io"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Gateway opens sessions to remote hosts.
type Gateway interface {
	// Probe checks reachability without attempting authentication.
	Probe(ctx context.Context, endpoint domain.Endpoint) error
	Open(ctx context.Context, endpoint domain.Endpoint) (Session, error)
}

// Session is one authenticated connection to a host. It is never shared
// between jobs.
type Session interface {
	Exec(ctx context.Context, cmd string) (domain.ExecResult, error)
	Download(ctx context.Context, path string) (RemoteFile, error)
	Close() error
}

type RemoteFile interface {
	io.ReadSeekCloser
	Size() int64
}

// SkipFlagStore provides an atomic set-if-absent with expiry.
type SkipFlagStore interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// EventPublisher delivers best-effort events to subscribers of a key.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event domain.Event)
}

// JobNotifier receives every job lifecycle transition.
type JobNotifier interface {
	Notify(ctx context.Context, event domain.JobEvent)
}

// Processor runs one job. The job passed in is a snapshot; the queue owns
// the state transitions.
type Processor func(ctx context.Context, job *domain.Job) error

// HandlerRegistry binds job types to processors.
type HandlerRegistry interface {
	Handle(jobType string, p Processor)
}

type JobScheduler interface {
	Enqueue(ctx context.Context, key string, spec domain.JobSpec) (*domain.Job, error)
}

type JobLookup interface {
	Job(id string) (domain.Job, bool)
}

// CloudProvider creates machines and reports on their orders.
type CloudProvider interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (string, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderStatusReport, error)
}

// BackupUploader stores a backup artifact and returns its location.
type BackupUploader interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, size int64) (string, error)
}
