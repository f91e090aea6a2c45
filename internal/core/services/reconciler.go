package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/dokku"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/metrics"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/remote"
	"github.com/dflow-sh/dflow-sub003/internal/util/retry"
)

type ReconcilerConfig struct {
	Servers     ports.ServerRepository
	Gateway     ports.Gateway
	Credentials *CredentialResolver
	Flags       ports.SkipFlagStore
	Events      ports.EventPublisher
	Logger      *logger.Logger

	SkipFlagTTL     time.Duration
	CollectFacts    bool
	ConfirmAttempts int
	ConfirmDelay    time.Duration
	Now             func() time.Time
}

// Reconciler probes every server of a tenant and writes back only the
// connection and host fields that changed.
type Reconciler struct {
	cfg ReconcilerConfig
	log *logger.Logger
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.SkipFlagTTL == 0 {
		cfg.SkipFlagTTL = 2 * time.Minute
	}
	if cfg.ConfirmAttempts == 0 {
		cfg.ConfirmAttempts = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{cfg: cfg, log: cfg.Logger.Named("reconciler")}
}

type ScanResult struct {
	TenantID string         `json:"tenant_id"`
	Skipped  bool           `json:"skipped"`
	Targets  []TargetResult `json:"targets,omitempty"`
}

type TargetResult struct {
	ServerID string                  `json:"server_id"`
	Previous domain.ConnectionStatus `json:"previous"`
	Status   domain.ConnectionStatus `json:"status"`
	Changed  []string                `json:"changed,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Err      error                   `json:"-"`
}

// Register binds the scan and confirmation job types.
func (r *Reconciler) Register(h ports.HandlerRegistry) {
	h.Handle(JobReconcileScan, r.processScan)
	h.Handle(JobServerConfirm, r.processConfirm)
}

func (r *Reconciler) processScan(ctx context.Context, job *domain.Job) error {
	var p scanPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	res, err := r.Run(ctx, job.Actor, p.TenantID)
	if err != nil {
		return err
	}
	if res.Skipped {
		publish(ctx, r.cfg.Events, job, domain.EventLog, "reconcile of %s skipped: already ran recently", p.TenantID)
		return nil
	}
	failed := 0
	for _, t := range res.Targets {
		if t.Status != domain.ConnectionSuccess {
			failed++
		}
	}
	publish(ctx, r.cfg.Events, job, domain.EventProgress, "reconciled %d servers, %d not reachable", len(res.Targets), failed)
	return nil
}

func (r *Reconciler) processConfirm(ctx context.Context, job *domain.Job) error {
	var p serverPayload
	if err := job.Decode(&p); err != nil {
		return err
	}
	res, err := r.ConfirmConnection(ctx, job.Actor, p.ServerID)
	if err != nil {
		publish(ctx, r.cfg.Events, job, domain.EventError, "server %s not reachable: %v", p.ServerID, err)
		return err
	}
	publish(ctx, r.cfg.Events, job, domain.EventProgress, "server %s connection %s", p.ServerID, res.Status)
	return nil
}

// Run scans one tenant. A second call inside the skip-flag window returns
// Skipped without touching any server.
func (r *Reconciler) Run(ctx context.Context, actor domain.Actor, tenantID string) (ScanResult, error) {
	result := ScanResult{TenantID: tenantID}
	log := r.log.With("tenant_id", tenantID, "request_id", actor.RequestID)

	acquired, err := r.cfg.Flags.SetIfAbsent(ctx, domain.ReconcileKey(tenantID), r.cfg.SkipFlagTTL)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: skip flag: %w", tenantID, err)
	}
	if !acquired {
		metrics.RecordScan("skipped")
		log.Infow("reconcile_skipped")
		result.Skipped = true
		return result, nil
	}
	metrics.RecordScan("ran")

	servers, err := r.cfg.Servers.ListByTenant(ctx, tenantID)
	if err != nil {
		return result, fmt.Errorf("reconcile %s: list servers: %w", tenantID, err)
	}

	result.Targets = make([]TargetResult, len(servers))
	var wg sync.WaitGroup
	for i := range servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					log.Errorw("reconcile_target_panic", "server_id", servers[i].ID, "panic", p)
					result.Targets[i] = TargetResult{
						ServerID: servers[i].ID,
						Previous: servers[i].ConnectionStatus,
						Status:   servers[i].ConnectionStatus,
						Error:    fmt.Sprint(p),
						Err:      fmt.Errorf("panic: %v", p),
					}
				}
			}()
			result.Targets[i] = r.reconcileTarget(ctx, servers[i], log)
		}(i)
	}
	wg.Wait()

	log.Infow("reconcile_completed", "targets", len(servers))
	return result, nil
}

// ConfirmConnection probes one server with bounded retries, stopping at the
// first success. Used after provisioning and onboarding.
func (r *Reconciler) ConfirmConnection(ctx context.Context, actor domain.Actor, serverID string) (TargetResult, error) {
	log := r.log.With("server_id", serverID, "request_id", actor.RequestID)
	var last TargetResult
	err := retry.Do(ctx, func(ctx context.Context) error {
		server, err := r.cfg.Servers.GetByID(ctx, serverID)
		if err != nil {
			return retry.Fatal(err)
		}
		last = r.reconcileTarget(ctx, *server, log)
		if last.Status == domain.ConnectionSuccess {
			return nil
		}
		if last.Err != nil {
			return last.Err
		}
		return fmt.Errorf("%w: server %s", domain.ErrUnreachable, serverID)
	},
		retry.Attempts(r.cfg.ConfirmAttempts),
		retry.Delay(r.cfg.ConfirmDelay),
		retry.Factor(2),
		retry.OnRetry(func(attempt int, err error) {
			log.Infow("confirm_retry", "attempt", attempt, "error", err)
		}),
	)
	return last, err
}

func (r *Reconciler) reconcileTarget(ctx context.Context, server domain.Server, log *logger.Logger) TargetResult {
	res := TargetResult{ServerID: server.ID, Previous: server.ConnectionStatus}

	facts, err := r.observe(ctx, server)
	ok := err == nil
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		log.Warnw("reconcile_target_failed", "server_id", server.ID, "kind", domain.KindOf(err), "error", err)
	}

	res.Status = domain.NextConnectionStatus(server.ConnectionStatus, ok)
	patch := r.delta(server, res.Status, facts)
	metrics.RecordTarget(string(res.Status))
	if patch.IsEmpty() {
		return res
	}
	patch.ConnectionCheckedAt = domain.Ptr(r.cfg.Now().UTC())
	for col := range patch.Columns() {
		if col != "connection_checked_at" {
			res.Changed = append(res.Changed, col)
		}
	}
	if err := r.cfg.Servers.Update(ctx, server.ID, patch); err != nil {
		log.Errorw("reconcile_target_persist_failed", "server_id", server.ID, "error", err)
		res.Err = errors.Join(res.Err, err)
		res.Error = res.Err.Error()
	}
	return res
}

type hostFacts struct {
	PublicIP        *string
	PrivateIP       *string
	OS              *string
	OSVersion       *string
	DokkuVersion    *string
	CloudInitStatus *string
}

// observe opens a session and confirms the shell answers. Panics
// from the transport surface as errors so the target counts as a failed
// probe.
func (r *Reconciler) observe(ctx context.Context, server domain.Server) (facts hostFacts, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: probe panicked: %v", domain.ErrConnectionLost, p)
		}
	}()

	ep, err := r.cfg.Credentials.Endpoint(&server)
	if err != nil {
		return facts, err
	}
	// Open checks reachability before authenticating.
	err = remote.WithSession(ctx, r.cfg.Gateway, ep, func(s ports.Session) error {
		if err := dokku.Ping(ctx, s); err != nil {
			return err
		}
		if r.cfg.CollectFacts {
			facts = r.collectFacts(ctx, s)
		}
		return nil
	})
	return facts, err
}

// collectFacts is best effort; a fact that cannot be read is left unset.
func (r *Reconciler) collectFacts(ctx context.Context, s ports.Session) hostFacts {
	var f hostFacts
	if v, err := dokku.DokkuVersion(ctx, s); err == nil && v != "" {
		f.DokkuVersion = &v
	}
	if v, err := dokku.CloudInitStatus(ctx, s); err == nil && v != "" {
		f.CloudInitStatus = &v
	}
	if rel, err := dokku.ReadOSRelease(ctx, s); err == nil && rel.ID != "" {
		f.OS = domain.Ptr(rel.ID)
		f.OSVersion = domain.Ptr(rel.Version)
	}
	if ips, err := dokku.PrivateIPs(ctx, s); err == nil && len(ips) > 0 {
		f.PrivateIP = domain.Ptr(ips[0])
	}
	if v, err := dokku.PublicIP(ctx, s); err == nil && v != "" {
		f.PublicIP = &v
	}
	return f
}

func (r *Reconciler) delta(server domain.Server, status domain.ConnectionStatus, f hostFacts) domain.ServerPatch {
	var p domain.ServerPatch
	if status != server.ConnectionStatus {
		p.ConnectionStatus = &status
	}
	p.PublicIP = changed(server.PublicIP, f.PublicIP)
	p.PrivateIP = changed(server.PrivateIP, f.PrivateIP)
	p.OS = changed(server.OS, f.OS)
	p.OSVersion = changed(server.OSVersion, f.OSVersion)
	p.DokkuVersion = changed(server.DokkuVersion, f.DokkuVersion)
	p.CloudInitStatus = changed(server.CloudInitStatus, f.CloudInitStatus)
	return p
}

func changed(current string, observed *string) *string {
	if observed == nil || *observed == current {
		return nil
	}
	return observed
}
