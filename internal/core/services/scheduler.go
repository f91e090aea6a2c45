package services

import (
	"context"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
)

// Scheduler enqueues a reconcile scan for every tenant on a fixed interval.
type Scheduler struct {
	servers  ports.ServerRepository
	jobs     ports.JobScheduler
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(servers ports.ServerRepository, jobs ports.JobScheduler, interval time.Duration, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{servers: servers, jobs: jobs, interval: interval, log: log.Named("scheduler")}
}

// Start runs the ticker until Stop or ctx is done. A second Start is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Infow("scheduler_started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Tick(ctx); err != nil {
					s.log.Errorw("scheduler_tick_failed", "error", err)
				}
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.log.Infow("scheduler_stopped")
}

// Tick enqueues one scan per tenant and returns the jobs it created. A
// tenant whose enqueue fails is logged and skipped.
func (s *Scheduler) Tick(ctx context.Context) ([]*domain.Job, error) {
	tenants, err := s.servers.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.Job, 0, len(tenants))
	for _, tenant := range tenants {
		job, err := enqueue(ctx, s.jobs, domain.ReconcileKey(tenant), JobReconcileScan, domain.SystemActor(tenant), scanPayload{TenantID: tenant})
		if err != nil {
			s.log.Warnw("scheduler_enqueue_failed", "tenant_id", tenant, "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type reconcileService struct {
	jobs ports.JobScheduler
}

func NewReconcileService(jobs ports.JobScheduler) ports.ReconcileService {
	return &reconcileService{jobs: jobs}
}

// Trigger enqueues an on-demand scan. The skip flag still applies, so a
// trigger right after a scheduled run completes as skipped.
func (s *reconcileService) Trigger(ctx context.Context, actor domain.Actor, tenantID string) (*domain.Job, error) {
	if tenantID == "" {
		tenantID = actor.TenantID
	}
	if err := sameTenant(actor, tenantID, "tenant", tenantID); err != nil {
		return nil, err
	}
	return enqueue(ctx, s.jobs, domain.ReconcileKey(tenantID), JobReconcileScan, actor, scanPayload{TenantID: tenantID})
}
