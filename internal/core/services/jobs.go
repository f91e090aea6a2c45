package services

import (
	"context"
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Job types handled by the processors in this package.
const (
	JobReconcileScan    = "reconcile.scan"
	JobServerConfirm    = "server.confirm"
	JobProvisionPoll    = "provision.poll"
	JobPluginsApply     = "plugins.apply"
	JobPluginsSync      = "plugins.sync"
	JobServiceLifecycle = "service.lifecycle"
	JobServiceDomains   = "service.domains"
	JobServiceCert      = "service.certificate"
	JobServiceVolumes   = "service.volumes"
	JobServicePorts     = "service.ports"
	JobServiceEnv       = "service.env"
	JobServiceScale     = "service.scale"
	JobServiceLinks     = "service.links"
	JobServiceRestart   = "service.restart"
	JobServiceBackup    = "service.backup"
)

type scanPayload struct {
	TenantID string `json:"tenant_id"`
}

type serverPayload struct {
	ServerID string `json:"server_id"`
}

type servicePayload struct {
	ServiceID string `json:"service_id"`
}

type backupPayload struct {
	ServiceID string           `json:"service_id"`
	Mode      ports.BackupMode `json:"mode"`
}

type orderPayload struct {
	OrderID string `json:"order_id"`
}

func enqueue(ctx context.Context, jobs ports.JobScheduler, key, jobType string, actor domain.Actor, payload interface{}) (*domain.Job, error) {
	spec, err := domain.NewJobSpec(jobType, actor, payload)
	if err != nil {
		return nil, err
	}
	job, err := jobs.Enqueue(ctx, key, spec)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s on %s: %w", jobType, key, err)
	}
	return job, nil
}

// publish sends ev to the job's own key and to its tenant key.
func publish(ctx context.Context, pub ports.EventPublisher, job *domain.Job, kind domain.EventKind, format string, args ...interface{}) {
	if pub == nil {
		return
	}
	ev := domain.NewEvent(job.Queue, kind, job.ID, fmt.Sprintf(format, args...))
	pub.Publish(ctx, job.Queue, ev)
	if job.Actor.TenantID != "" {
		pub.Publish(ctx, domain.TenantKey(job.Actor.TenantID), ev)
	}
}

// sameTenant hides records of other tenants behind ErrNotFound.
func sameTenant(actor domain.Actor, tenantID, what, id string) error {
	if actor.TenantID != "" && actor.TenantID != tenantID {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return nil
}
