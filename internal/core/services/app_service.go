package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/dokku"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/google/uuid"
)

type appService struct {
	servers  ports.ServerRepository
	services ports.ServiceRepository
	jobs     ports.JobScheduler
	locks    *keyLocks
	logger   *logger.Logger
}

type AppServiceConfig struct {
	Servers  ports.ServerRepository
	Services ports.ServiceRepository
	Jobs     ports.JobScheduler
	Logger   *logger.Logger
}

func NewAppService(cfg AppServiceConfig) ports.AppService {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &appService{
		servers:  cfg.Servers,
		services: cfg.Services,
		jobs:     cfg.Jobs,
		locks:    newKeyLocks(),
		logger:   cfg.Logger.Named("services"),
	}
}

func (s *appService) CreateService(ctx context.Context, actor domain.Actor, input ports.CreateServiceInput) (*domain.Service, *domain.Job, error) {
	if !dokku.ValidName(input.Name) {
		return nil, nil, fmt.Errorf("%w: name %q", ErrServiceInvalidInput, input.Name)
	}
	switch input.Type {
	case domain.ServiceTypeApp:
		input.DatabaseType = ""
	case domain.ServiceTypeDatabase:
		if !input.DatabaseType.Valid() {
			return nil, nil, fmt.Errorf("%w: database type %q", ErrServiceInvalidInput, input.DatabaseType)
		}
	default:
		return nil, nil, fmt.Errorf("%w: type %q", ErrServiceInvalidInput, input.Type)
	}

	server, err := s.servers.GetByID(ctx, input.ServerID)
	if err != nil {
		return nil, nil, err
	}
	if err := sameTenant(actor, server.TenantID, "server", input.ServerID); err != nil {
		return nil, nil, err
	}

	svc := &domain.Service{
		ID:           uuid.NewString(),
		ServerID:     server.ID,
		TenantID:     server.TenantID,
		Name:         input.Name,
		Type:         input.Type,
		DatabaseType: input.DatabaseType,
		Lifecycle:    domain.LifecyclePresent,
	}
	if err := s.services.Create(ctx, svc); err != nil {
		return nil, nil, err
	}
	s.logger.Infow("service created", "id", svc.ID, "server_id", server.ID, "name", svc.Name, "type", svc.Type)

	job, err := s.enqueue(ctx, actor, svc, JobServiceLifecycle)
	if err != nil {
		return svc, nil, err
	}
	return svc, job, nil
}

func (s *appService) GetService(ctx context.Context, actor domain.Actor, id string) (*domain.Service, error) {
	svc, err := s.services.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, svc.TenantID, "service", id); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *appService) ListServices(ctx context.Context, actor domain.Actor, serverID string) ([]domain.Service, error) {
	server, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, server.TenantID, "server", serverID); err != nil {
		return nil, err
	}
	return s.services.ListByServer(ctx, serverID)
}

func (s *appService) DestroyService(ctx context.Context, actor domain.Actor, id string) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceLifecycle, anyType, func(*domain.Service) (domain.ServicePatch, error) {
		return domain.ServicePatch{Lifecycle: domain.Ptr(domain.LifecycleAbsent)}, nil
	})
}

func (s *appService) SetDomains(ctx context.Context, actor domain.Actor, id string, domains []domain.Domain) (*domain.Job, error) {
	for _, d := range domains {
		if !dokku.ValidHostname(d.Hostname) {
			return nil, fmt.Errorf("%w: hostname %q", ErrServiceInvalidInput, d.Hostname)
		}
	}
	return s.mutate(ctx, actor, id, JobServiceDomains, appOnly, func(*domain.Service) (domain.ServicePatch, error) {
		desired := domain.List[domain.Domain](append([]domain.Domain{}, domains...))
		return domain.ServicePatch{DomainsDesired: &desired}, nil
	})
}

func (s *appService) AddDomain(ctx context.Context, actor domain.Actor, id, hostname string) (*domain.Job, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if !dokku.ValidHostname(hostname) {
		return nil, fmt.Errorf("%w: hostname %q", ErrServiceInvalidInput, hostname)
	}
	return s.mutate(ctx, actor, id, JobServiceDomains, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Upsert(svc.DomainsDesired, domain.Domain{Hostname: hostname})
		return domain.ServicePatch{DomainsDesired: &desired}, nil
	})
}

func (s *appService) RemoveDomain(ctx context.Context, actor domain.Actor, id, hostname string) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceDomains, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Without(svc.DomainsDesired, strings.ToLower(strings.TrimSpace(hostname)))
		return domain.ServicePatch{DomainsDesired: &desired}, nil
	})
}

func (s *appService) EnableCertificate(ctx context.Context, actor domain.Actor, id, email string) (*domain.Job, error) {
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email %q", ErrServiceInvalidInput, email)
	}
	return s.mutate(ctx, actor, id, JobServiceCert, appOnly, func(*domain.Service) (domain.ServicePatch, error) {
		return domain.ServicePatch{CertificateEmail: &email, CertificateDesired: domain.Ptr(true)}, nil
	})
}

func (s *appService) SetVolumes(ctx context.Context, actor domain.Actor, id string, volumes []domain.Volume) (*domain.Job, error) {
	desired := domain.List[domain.Volume]{}
	for _, v := range volumes {
		if !dokku.ValidVolume(v) {
			return nil, fmt.Errorf("%w: volume %q", ErrServiceInvalidInput, v.Identity())
		}
		v.Created = false
		desired = domain.Upsert(desired, v)
	}
	return s.mutate(ctx, actor, id, JobServiceVolumes, appOnly, func(*domain.Service) (domain.ServicePatch, error) {
		return domain.ServicePatch{VolumesDesired: &desired}, nil
	})
}

func (s *appService) AddVolume(ctx context.Context, actor domain.Actor, id string, volume domain.Volume) (*domain.Job, error) {
	if !dokku.ValidVolume(volume) {
		return nil, fmt.Errorf("%w: volume %q", ErrServiceInvalidInput, volume.Identity())
	}
	volume.Created = false
	return s.mutate(ctx, actor, id, JobServiceVolumes, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Upsert(svc.VolumesDesired, volume)
		return domain.ServicePatch{VolumesDesired: &desired}, nil
	})
}

func (s *appService) RemoveVolume(ctx context.Context, actor domain.Actor, id string, volume domain.Volume) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceVolumes, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Without(svc.VolumesDesired, volume.Identity())
		return domain.ServicePatch{VolumesDesired: &desired}, nil
	})
}

func (s *appService) SetPorts(ctx context.Context, actor domain.Actor, id string, mappings []domain.PortMapping) (*domain.Job, error) {
	desired := domain.List[domain.PortMapping]{}
	for _, m := range mappings {
		if m.Scheme == "" || m.HostPort <= 0 || m.HostPort > 65535 || m.ContainerPort <= 0 || m.ContainerPort > 65535 {
			return nil, fmt.Errorf("%w: port mapping %q", ErrServiceInvalidInput, m.Identity())
		}
		desired = domain.Upsert(desired, m)
	}
	return s.mutate(ctx, actor, id, JobServicePorts, appOnly, func(*domain.Service) (domain.ServicePatch, error) {
		return domain.ServicePatch{PortsDesired: &desired}, nil
	})
}

func (s *appService) SetEnv(ctx context.Context, actor domain.Actor, id string, vars []domain.EnvVar) (*domain.Job, error) {
	for _, v := range vars {
		if !dokku.ValidEnvKey(v.Key) {
			return nil, fmt.Errorf("%w: env key %q", ErrServiceInvalidInput, v.Key)
		}
	}
	return s.mutate(ctx, actor, id, JobServiceEnv, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := svc.EnvDesired
		for _, v := range vars {
			desired = domain.Upsert(desired, v)
		}
		return domain.ServicePatch{EnvDesired: &desired}, nil
	})
}

func (s *appService) UnsetEnv(ctx context.Context, actor domain.Actor, id string, keys []string) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceEnv, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := append(domain.List[domain.EnvVar]{}, svc.EnvDesired...)
		for _, k := range keys {
			desired = domain.Without(desired, k)
		}
		return domain.ServicePatch{EnvDesired: &desired}, nil
	})
}

func (s *appService) SetScale(ctx context.Context, actor domain.Actor, id string, scale []domain.ProcessScale) (*domain.Job, error) {
	for _, p := range scale {
		if !dokku.ValidName(p.Type) || p.Quantity < 0 {
			return nil, fmt.Errorf("%w: scale %s=%d", ErrServiceInvalidInput, p.Type, p.Quantity)
		}
	}
	return s.mutate(ctx, actor, id, JobServiceScale, appOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := svc.ScaleDesired
		for _, p := range scale {
			desired = domain.Upsert(desired, p)
		}
		return domain.ServicePatch{ScaleDesired: &desired}, nil
	})
}

func (s *appService) LinkDatabase(ctx context.Context, actor domain.Actor, id, app string) (*domain.Job, error) {
	if !dokku.ValidName(app) {
		return nil, fmt.Errorf("%w: app %q", ErrServiceInvalidInput, app)
	}
	return s.mutate(ctx, actor, id, JobServiceLinks, databaseOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Upsert(svc.LinksDesired, domain.Link{App: app})
		return domain.ServicePatch{LinksDesired: &desired}, nil
	})
}

func (s *appService) UnlinkDatabase(ctx context.Context, actor domain.Actor, id, app string) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceLinks, databaseOnly, func(svc *domain.Service) (domain.ServicePatch, error) {
		desired := domain.Without(svc.LinksDesired, app)
		return domain.ServicePatch{LinksDesired: &desired}, nil
	})
}

func (s *appService) Restart(ctx context.Context, actor domain.Actor, id string) (*domain.Job, error) {
	return s.mutate(ctx, actor, id, JobServiceRestart, appOnly, func(*domain.Service) (domain.ServicePatch, error) {
		return domain.ServicePatch{}, nil
	})
}

type typeCheck func(*domain.Service) error

func anyType(*domain.Service) error { return nil }

func appOnly(svc *domain.Service) error {
	if svc.Type != domain.ServiceTypeApp {
		return fmt.Errorf("%w: %s is a %s", ErrServiceWrongType, svc.Name, svc.Type)
	}
	return nil
}

func databaseOnly(svc *domain.Service) error {
	if svc.Type != domain.ServiceTypeDatabase {
		return fmt.Errorf("%w: %s is a %s", ErrServiceWrongType, svc.Name, svc.Type)
	}
	return nil
}

// mutate writes desired state under the service lock, then queues jobType on
// the server key so it runs after every earlier change to that server.
func (s *appService) mutate(ctx context.Context, actor domain.Actor, id, jobType string, check typeCheck,
	edit func(*domain.Service) (domain.ServicePatch, error)) (*domain.Job, error) {
	unlock := s.locks.lockKeys("service:" + id)
	defer unlock()

	svc, err := s.GetService(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if err := check(svc); err != nil {
		return nil, err
	}
	if svc.Lifecycle == domain.LifecycleAbsent {
		return nil, fmt.Errorf("service %s: %w", svc.Name, ErrServiceDestroyed)
	}
	patch, err := edit(svc)
	if err != nil {
		return nil, err
	}
	if !patch.IsEmpty() {
		if err := s.services.Update(ctx, svc.ID, patch); err != nil {
			return nil, err
		}
	}
	return s.enqueue(ctx, actor, svc, jobType)
}

func (s *appService) enqueue(ctx context.Context, actor domain.Actor, svc *domain.Service, jobType string) (*domain.Job, error) {
	return enqueue(ctx, s.jobs, domain.ServerKey(svc.ServerID), jobType, actor, servicePayload{ServiceID: svc.ID})
}
