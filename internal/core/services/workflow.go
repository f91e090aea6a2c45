package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/remote"
)

// BackupSettings is the object storage target for database backups.
type BackupSettings struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	StagingDir string
}

type WorkflowConfig struct {
	Servers     ports.ServerRepository
	Services    ports.ServiceRepository
	Gateway     ports.Gateway
	Credentials *CredentialResolver
	Events      ports.EventPublisher
	Logger      *logger.Logger

	// LongCommandTimeout bounds plugin installs, database creation and
	// backups. Zero keeps the gateway default.
	LongCommandTimeout time.Duration
	Backup             BackupSettings
	Uploader           ports.BackupUploader
	Now                func() time.Time
}

// Workflows holds the job processors that converge remote hosts onto the
// desired state stored by the request services.
type Workflows struct {
	cfg WorkflowConfig
	log *logger.Logger
}

func NewWorkflows(cfg WorkflowConfig) *Workflows {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backup.StagingDir == "" {
		cfg.Backup.StagingDir = "/tmp"
	}
	return &Workflows{cfg: cfg, log: cfg.Logger.Named("workflows")}
}

func (w *Workflows) Register(h ports.HandlerRegistry) {
	h.Handle(JobPluginsApply, w.processPlugins)
	h.Handle(JobPluginsSync, w.processPluginSync)
	h.Handle(JobServiceLifecycle, w.processLifecycle)
	h.Handle(JobServiceDomains, w.processDomains)
	h.Handle(JobServiceCert, w.processCertificate)
	h.Handle(JobServiceVolumes, w.processVolumes)
	h.Handle(JobServicePorts, w.processPorts)
	h.Handle(JobServiceEnv, w.processEnv)
	h.Handle(JobServiceScale, w.processScale)
	h.Handle(JobServiceLinks, w.processLinks)
	h.Handle(JobServiceRestart, w.processRestart)
	h.Handle(JobServiceBackup, w.processBackup)
}

func (w *Workflows) longCommands(ctx context.Context) context.Context {
	if w.cfg.LongCommandTimeout <= 0 {
		return ctx
	}
	return remote.WithCommandTimeout(ctx, w.cfg.LongCommandTimeout)
}

// withServer runs fn in one session against server.
func (w *Workflows) withServer(ctx context.Context, server *domain.Server, fn func(ports.Session) error) error {
	ep, err := w.cfg.Credentials.Endpoint(server)
	if err != nil {
		return err
	}
	return remote.WithSession(ctx, w.cfg.Gateway, ep, fn)
}

// fail publishes err on the job's keys and returns it so the job fails.
func (w *Workflows) fail(ctx context.Context, job *domain.Job, label string, err error) error {
	var cmdErr *domain.RemoteCommandError
	if errors.As(err, &cmdErr) {
		publish(ctx, w.cfg.Events, job, domain.EventError, "%s: command %q exited %d: %s", label, cmdErr.Command, cmdErr.ExitCode, cmdErr.Stderr)
	} else {
		publish(ctx, w.cfg.Events, job, domain.EventError, "%s: %v", label, err)
	}
	w.log.Warnw("workflow_failed", "job_id", job.ID, "type", job.Type, "kind", domain.KindOf(err), "error", err)
	return fmt.Errorf("%s: %w", label, err)
}

// featureOps are the remote operations for one feature list. A nil change
// folds changed items into the add batch. With each set, add and remove
// run per item so every confirmed item is recorded before the next one.
// list, when set, reads the live list so the diff runs against the host.
type featureOps[T domain.Feature[T]] struct {
	list   func(ctx context.Context, s ports.Session) ([]T, error)
	add    func(ctx context.Context, s ports.Session, items []T) error
	change func(ctx context.Context, s ports.Session, changes []domain.Change[T]) error
	remove func(ctx context.Context, s ports.Session, items []T) error
	each   bool
	mark   func(T) T
}

// partialApply reports an add that reached an intermediate state before
// failing. The intermediate state is recorded as observed.
type partialApply[T any] struct {
	applied T
	err     error
}

func (e *partialApply[T]) Error() string { return e.err.Error() }
func (e *partialApply[T]) Unwrap() error { return e.err }

// refreshObserved replaces the stored observed list with the live entries
// the record manages, that is every identity present in desired or in the
// stored observed list. Entries created outside the record stay untouched.
func refreshObserved[T domain.Feature[T]](rec domain.FeatureRecord[T], live []T, mark func(T) T) domain.FeatureRecord[T] {
	managed := make(map[string]struct{}, len(rec.Desired)+len(rec.Observed))
	for _, d := range rec.Desired {
		managed[d.Identity()] = struct{}{}
	}
	for _, o := range rec.Observed {
		managed[o.Identity()] = struct{}{}
	}
	observed := domain.List[T]{}
	for _, item := range live {
		if _, ok := managed[item.Identity()]; !ok {
			continue
		}
		if mark != nil {
			item = mark(item)
		}
		observed = domain.Upsert(observed, item)
	}
	rec.Observed = observed
	return rec
}

// reconcileFeature applies removes, then changes, then adds. It returns the
// observed list reflecting every operation confirmed so far, also on error.
func reconcileFeature[T domain.Feature[T]](ctx context.Context, s ports.Session, rec domain.FeatureRecord[T], ops featureOps[T], progress func(string)) (domain.List[T], error) {
	observed := append(domain.List[T](nil), rec.Observed...)
	diff := rec.Diff()
	mark := ops.mark
	if mark == nil {
		mark = func(v T) T { return v }
	}

	batches := func(items []T) [][]T {
		if !ops.each {
			return [][]T{items}
		}
		out := make([][]T, len(items))
		for i := range items {
			out[i] = items[i : i+1]
		}
		return out
	}

	if len(diff.Remove) > 0 {
		for _, batch := range batches(diff.Remove) {
			if err := ops.remove(ctx, s, batch); err != nil {
				return observed, err
			}
			for _, item := range batch {
				observed = domain.Without(observed, item.Identity())
				progress("removed " + item.Identity())
			}
		}
	}

	adds := diff.Add
	if len(diff.Change) > 0 {
		if ops.change == nil {
			for _, c := range diff.Change {
				adds = append(adds, c.To)
			}
		} else {
			if err := ops.change(ctx, s, diff.Change); err != nil {
				return observed, err
			}
			for _, c := range diff.Change {
				observed = domain.Upsert(observed, mark(c.To))
				progress("changed " + c.To.Identity())
			}
		}
	}

	if len(adds) > 0 {
		for _, batch := range batches(adds) {
			if err := ops.add(ctx, s, batch); err != nil {
				var partial *partialApply[T]
				if errors.As(err, &partial) {
					observed = domain.Upsert(observed, mark(partial.applied))
				}
				return observed, err
			}
			for _, item := range batch {
				observed = domain.Upsert(observed, mark(item))
				progress("applied " + item.Identity())
			}
		}
	}
	return observed, nil
}

// runFeature converges one feature list on server. A settled record opens
// no session. Inside the session the observed list is refreshed from the
// host before diffing, so drift made outside a job converges too. The
// observed list is saved whenever a session ran, so partial progress
// survives a failed command.
func runFeature[T domain.Feature[T]](ctx context.Context, w *Workflows, job *domain.Job, server *domain.Server, label string,
	rec domain.FeatureRecord[T], ops featureOps[T], save func(domain.List[T]) error) error {
	if rec.Settled() {
		publish(ctx, w.cfg.Events, job, domain.EventLog, "%s already in sync", label)
		return nil
	}

	var (
		observed domain.List[T]
		ran      bool
	)
	err := w.withServer(ctx, server, func(s ports.Session) error {
		ran = true
		observed = rec.Observed
		if ops.list != nil {
			live, err := ops.list(ctx, s)
			if err != nil {
				return err
			}
			rec = refreshObserved(rec, live, ops.mark)
			observed = rec.Observed
		}
		var applyErr error
		observed, applyErr = reconcileFeature(ctx, s, rec, ops, func(msg string) {
			publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s: %s", label, msg)
		})
		return applyErr
	})
	if ran {
		if saveErr := save(observed); saveErr != nil {
			w.log.Errorw("workflow_persist_failed", "job_id", job.ID, "type", job.Type, "error", saveErr)
			err = errors.Join(err, saveErr)
		}
	}
	if err != nil {
		return w.fail(ctx, job, label, err)
	}
	publish(ctx, w.cfg.Events, job, domain.EventProgress, "%s in sync", label)
	return nil
}

// loadService returns the service of a feature job together with its
// server. Feature jobs need the service to exist on the host.
func (w *Workflows) loadService(ctx context.Context, job *domain.Job) (*domain.Service, *domain.Server, error) {
	var p servicePayload
	if err := job.Decode(&p); err != nil {
		return nil, nil, err
	}
	svc, err := w.cfg.Services.GetByID(ctx, p.ServiceID)
	if err != nil {
		return nil, nil, err
	}
	server, err := w.cfg.Servers.GetByID(ctx, svc.ServerID)
	if err != nil {
		return nil, nil, err
	}
	return svc, server, nil
}

func (w *Workflows) loadLiveService(ctx context.Context, job *domain.Job) (*domain.Service, *domain.Server, error) {
	svc, server, err := w.loadService(ctx, job)
	if err != nil {
		return nil, nil, err
	}
	if svc.Lifecycle == domain.LifecycleAbsent {
		return nil, nil, fmt.Errorf("service %s: %w", svc.Name, ErrServiceDestroyed)
	}
	if !svc.Created {
		return nil, nil, fmt.Errorf("service %s: %w", svc.Name, ErrServiceNotCreated)
	}
	return svc, server, nil
}

func (w *Workflows) saveService(ctx context.Context, id string, patch domain.ServicePatch) error {
	return w.cfg.Services.Update(ctx, id, patch)
}
