package services

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/google/uuid"
)

type serverService struct {
	repo        ports.ServerRepository
	jobs        ports.JobScheduler
	credentials *CredentialResolver
	keys        *KeyManager
	logger      *logger.Logger
	locks       *keyLocks
}

type ServerServiceConfig struct {
	Repository  ports.ServerRepository
	Jobs        ports.JobScheduler
	Credentials *CredentialResolver
	Keys        *KeyManager
	Logger      *logger.Logger
}

func NewServerService(cfg ServerServiceConfig) ports.ServerService {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &serverService{
		repo:        cfg.Repository,
		jobs:        cfg.Jobs,
		credentials: cfg.Credentials,
		keys:        cfg.Keys,
		logger:      cfg.Logger.Named("servers"),
		locks:       newKeyLocks(),
	}
}

// CreateServer stores the server as not-checked-yet and queues a connection
// confirmation on its key.
func (s *serverService) CreateServer(ctx context.Context, actor domain.Actor, input ports.CreateServerInput) (*domain.Server, *domain.Job, error) {
	if err := s.validateInput(input); err != nil {
		return nil, nil, err
	}
	unlock := s.locks.lockKeys("serverip:" + actor.TenantID + ":" + input.IP)
	defer unlock()

	encrypted, err := s.credentials.Encrypt(strings.TrimSpace(input.PrivateKey))
	if err != nil {
		s.logger.Errorw("failed to encrypt server key", "error", err)
		return nil, nil, err
	}

	server := &domain.Server{
		ID:               uuid.NewString(),
		TenantID:         actor.TenantID,
		Name:             input.Name,
		IP:               input.IP,
		Port:             input.Port,
		Username:         input.Username,
		PrivateKey:       encrypted,
		Transport:        input.Transport,
		Hostname:         input.Hostname,
		ConnectionStatus: domain.ConnectionNotCheckedYet,
	}
	if server.Port == 0 {
		server.Port = 22
	}
	if server.Username == "" {
		server.Username = "root"
	}
	if server.Transport == "" {
		server.Transport = domain.TransportSSH
	}

	if err := s.repo.Create(ctx, server); err != nil {
		s.logger.Errorw("failed to create server", "error", err, "request_id", actor.RequestID)
		return nil, nil, err
	}
	s.logger.Infow("server created", "id", server.ID, "ip", server.IP, "tenant_id", server.TenantID)

	job, err := enqueue(ctx, s.jobs, domain.ServerKey(server.ID), JobServerConfirm, actor, serverPayload{ServerID: server.ID})
	if err != nil {
		return server, nil, err
	}
	return server, job, nil
}

func (s *serverService) GetServer(ctx context.Context, actor domain.Actor, id string) (*domain.Server, error) {
	server, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, server.TenantID, "server", id); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *serverService) ListServers(ctx context.Context, actor domain.Actor) ([]domain.Server, error) {
	return s.repo.ListByTenant(ctx, actor.TenantID)
}

func (s *serverService) validateInput(input ports.CreateServerInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrServerInvalidInput)
	}
	switch input.Transport {
	case "", domain.TransportSSH:
		if net.ParseIP(input.IP) == nil {
			return fmt.Errorf("%w: %q", ErrServerInvalidIP, input.IP)
		}
	case domain.TransportTailscale:
		if input.Hostname == "" {
			return fmt.Errorf("%w: tailscale servers need a hostname", ErrServerInvalidInput)
		}
		if input.IP != "" && net.ParseIP(input.IP) == nil {
			return fmt.Errorf("%w: %q", ErrServerInvalidIP, input.IP)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrServerInvalidInput, input.Transport)
	}
	if input.Port < 0 || input.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrServerInvalidInput, input.Port)
	}
	if strings.TrimSpace(input.PrivateKey) == "" && (s.keys == nil || s.keys.GetPrivateKey() == "") {
		return ErrServerNoKey
	}
	return nil
}
