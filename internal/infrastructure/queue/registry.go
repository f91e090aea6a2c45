// Package queue runs jobs serially per key. Each key gets one FIFO queue
// and one worker goroutine; distinct keys run in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/metrics"
	"github.com/google/uuid"
)

var (
	ErrRegistryClosed = errors.New("queue: registry closed")
	ErrUnknownJobType = errors.New("queue: unknown job type")
	ErrJobPanicked    = errors.New("queue: job panicked")
)

type RegistryConfig struct {
	Logger   *logger.Logger
	Notifier ports.JobNotifier
	// Retention is how long finished jobs stay visible through Job.
	Retention time.Duration
	// Processor handles jobs of keys created implicitly by Enqueue.
	Processor ports.Processor
	Now       func() time.Time
}

type Registry struct {
	log       *logger.Logger
	notifier  ports.JobNotifier
	retention time.Duration
	processor ports.Processor
	now       func() time.Time

	mu      sync.Mutex
	queues  map[string]*Queue
	workers map[string]*Worker
	jobs    map[string]*domain.Job
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Retention == 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		log:       cfg.Logger,
		notifier:  cfg.Notifier,
		retention: cfg.Retention,
		processor: cfg.Processor,
		now:       cfg.Now,
		queues:    make(map[string]*Queue),
		workers:   make(map[string]*Worker),
		jobs:      make(map[string]*domain.Job),
		ctx:       ctx,
		cancel:    cancel,
	}
}

var (
	_ ports.JobScheduler = (*Registry)(nil)
	_ ports.JobLookup    = (*Registry)(nil)
)

// Queue returns the queue for key, creating it on first use.
func (r *Registry) Queue(key string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queueLocked(key)
}

func (r *Registry) queueLocked(key string) *Queue {
	q, ok := r.queues[key]
	if !ok {
		q = newQueue(key)
		r.queues[key] = q
	}
	return q
}

// Worker returns the worker for key, starting it with p on first use. Later
// calls return the same worker regardless of p. Returns nil once the
// registry is shut down and no worker exists for key.
func (r *Registry) Worker(key string, p ports.Processor) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerLocked(key, p)
}

func (r *Registry) workerLocked(key string, p ports.Processor) *Worker {
	if w, ok := r.workers[key]; ok {
		return w
	}
	if r.closed {
		return nil
	}
	w := &Worker{
		key:     key,
		queue:   r.queueLocked(key),
		process: p,
		reg:     r,
		done:    make(chan struct{}),
	}
	r.workers[key] = w
	r.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue appends a job to key's queue using the registry's processor.
func (r *Registry) Enqueue(ctx context.Context, key string, spec domain.JobSpec) (*domain.Job, error) {
	return r.EnqueueWith(ctx, key, spec, r.processor)
}

// EnqueueWith appends a job to key's queue, starting the worker with p if
// the key has none yet.
func (r *Registry) EnqueueWith(ctx context.Context, key string, spec domain.JobSpec, p ports.Processor) (*domain.Job, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	job := &domain.Job{
		ID:        uuid.New().String(),
		Queue:     key,
		Type:      spec.Type,
		Payload:   spec.Payload,
		Actor:     spec.Actor,
		State:     domain.JobStateQueued,
		CreatedAt: r.now(),
	}
	r.jobs[job.ID] = job
	q := r.queueLocked(key)
	r.workerLocked(key, p)
	snapshot := *job
	r.mu.Unlock()

	r.notify(ctx, domain.JobQueued, snapshot)
	if err := q.push(job); err != nil {
		r.finish(job.ID, err)
		return nil, err
	}
	metrics.JobQueued(domain.KeyKind(key))
	r.log.Debugw("job_queued", "queue", key, "job_id", job.ID, "job_type", job.Type,
		"tenant_id", job.Actor.TenantID, "request_id", job.Actor.RequestID)
	return &snapshot, nil
}

// Job returns a snapshot of a live or recently finished job.
func (r *Registry) Job(id string) (domain.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *j, true
}

// Jobs returns snapshots of the known jobs of key, oldest first.
func (r *Registry) Jobs(key string) []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Job
	for _, j := range r.jobs {
		if j.Queue == key {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

func (r *Registry) execute(w *Worker, job *domain.Job) {
	now := r.now()
	snapshot := r.update(job.ID, func(j *domain.Job) {
		j.State = domain.JobStateActive
		j.Attempts++
		j.StartedAt = &now
	})
	metrics.JobStarted(domain.KeyKind(job.Queue))
	r.notify(r.ctx, domain.JobActive, snapshot)

	log := r.log.With("queue", job.Queue, "job_id", job.ID, "job_type", job.Type,
		"tenant_id", job.Actor.TenantID, "request_id", job.Actor.RequestID)
	log.Infow("job_started")

	start := time.Now()
	input := snapshot
	err := safeProcess(r.ctx, w.process, &input)
	elapsed := time.Since(start)

	final := r.finish(job.ID, err)
	result := string(domain.JobStateCompleted)
	if err != nil {
		result = string(domain.JobStateFailed)
		log.Warnw("job_failed", "error", err, "error_kind", final.ErrorKind, "duration", elapsed)
	} else {
		log.Infow("job_completed", "duration", elapsed)
	}
	metrics.RecordJob(domain.KeyKind(job.Queue), job.Type, result, elapsed.Seconds())
	r.prune()
}

// finish moves a job to its terminal state and emits the matching event.
func (r *Registry) finish(id string, err error) domain.Job {
	now := r.now()
	snapshot := r.update(id, func(j *domain.Job) {
		j.FinishedAt = &now
		if err != nil {
			j.State = domain.JobStateFailed
			j.Error = err.Error()
			j.ErrorKind = domain.KindOf(err)
			return
		}
		j.State = domain.JobStateCompleted
	})
	kind := domain.JobCompleted
	if err != nil {
		kind = domain.JobFailed
	}
	r.notify(r.ctx, kind, snapshot)
	return snapshot
}

func (r *Registry) update(id string, fn func(*domain.Job)) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	fn(j)
	return *j
}

func (r *Registry) prune() {
	cutoff := r.now().Add(-r.retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, j := range r.jobs {
		if j.State.Finished() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}

func (r *Registry) notify(ctx context.Context, kind domain.JobEventKind, job domain.Job) {
	if r.notifier == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("job_notifier_panicked", "job_id", job.ID, "panic", rec)
		}
	}()
	r.notifier.Notify(ctx, domain.JobEvent{Kind: kind, Job: job})
}

func safeProcess(ctx context.Context, p ports.Processor, job *domain.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, rec)
		}
	}()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	return p(ctx, job)
}

// Shutdown stops accepting jobs and waits for every queued job to finish.
// When ctx ends first, running processors are cancelled and ctx's error is
// returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	queues := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		queues = append(queues, q)
	}
	r.mu.Unlock()

	for _, q := range queues {
		q.close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.log.Infow("job_registry_drained")
		return nil
	case <-ctx.Done():
		r.cancel()
		r.log.Warnw("job_registry_shutdown_forced", "error", ctx.Err())
		return ctx.Err()
	}
}
