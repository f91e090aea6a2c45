package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/metrics"
	"github.com/google/uuid"
)

type PollerConfig struct {
	Orders   ports.OrderRepository
	Servers  ports.ServerRepository
	Provider ports.CloudProvider
	Jobs     ports.JobScheduler
	Events   ports.EventPublisher
	Logger   *logger.Logger

	Interval    time.Duration
	MaxAttempts int
}

// Poller drives a provisioning order from pending to ready or failed, one
// provider status call per attempt.
type Poller struct {
	cfg PollerConfig
	log *logger.Logger
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 40
	}
	return &Poller{cfg: cfg, log: cfg.Logger.Named("poller")}
}

func (p *Poller) Register(h ports.HandlerRegistry) {
	h.Handle(JobProvisionPoll, p.processPoll)
}

var exhaustedReason = domain.ErrAttemptsExhausted.Error()

func (p *Poller) processPoll(ctx context.Context, job *domain.Job) error {
	var payload orderPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	for {
		order, err := p.Advance(ctx, payload.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case domain.OrderReady:
			return nil
		case domain.OrderFailed:
			if order.FailureReason == exhaustedReason {
				return fmt.Errorf("order %s after %d attempts: %w", order.ID, order.Attempts, domain.ErrAttemptsExhausted)
			}
			return fmt.Errorf("order %s: %w: %s", order.ID, domain.ErrUpstreamProvider, order.FailureReason)
		}

		timer := time.NewTimer(p.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Advance performs one polling attempt. A terminal order is returned as is
// without calling the provider. Provider errors count as an attempt and
// are not returned.
func (p *Poller) Advance(ctx context.Context, orderID string) (*domain.ProvisioningOrder, error) {
	order, err := p.cfg.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return order, nil
	}
	log := p.log.With("order_id", order.ID, "upstream_id", order.OrderID, "tenant_id", order.TenantID)

	maxAttempts := order.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.cfg.MaxAttempts
	}

	previous := order.Status
	patch := domain.OrderPatch{Attempts: domain.Ptr(order.Attempts + 1)}

	report, err := p.cfg.Provider.GetOrder(ctx, order.OrderID)
	if err != nil {
		log.Warnw("poll_failed", "attempt", *patch.Attempts, "error", err)
	} else {
		next := mapUpstreamStatus(report)
		patch.Status = &next
		switch next {
		case domain.OrderRunning:
			patch.PublicIP = domain.Ptr(report.InstanceIP)
			patch.Hostname = domain.Ptr(report.InstanceHostname)
			if err := p.handOff(ctx, order, report); err != nil {
				log.Warnw("handoff_failed", "error", err)
			} else {
				patch.Status = domain.Ptr(domain.OrderReady)
			}
		case domain.OrderFailed:
			patch.FailureReason = domain.Ptr("upstream status " + report.Status)
		}
	}

	status := order.Status
	if patch.Status != nil {
		status = *patch.Status
	}
	if !status.Terminal() && *patch.Attempts >= maxAttempts {
		patch.Status = domain.Ptr(domain.OrderFailed)
		patch.FailureReason = domain.Ptr(exhaustedReason)
		status = domain.OrderFailed
	}

	if err := p.cfg.Orders.Update(ctx, order.ID, patch); err != nil {
		return nil, fmt.Errorf("order %s: persist: %w", order.ID, err)
	}
	patch.Apply(order)
	metrics.RecordPollerTransition(string(status))

	if status != previous {
		log.Infow("order_transition", "from", previous, "to", status, "attempt", order.Attempts)
	}
	p.publish(ctx, order)
	return order, nil
}

// handOff writes the instance address onto the server and queues its first
// connection check.
func (p *Poller) handOff(ctx context.Context, order *domain.ProvisioningOrder, report domain.OrderStatusReport) error {
	if order.ServerID == "" {
		return nil
	}
	patch := domain.ServerPatch{
		IP:       domain.Ptr(report.InstanceIP),
		PublicIP: domain.Ptr(report.InstanceIP),
		Hostname: domain.Ptr(report.InstanceHostname),
	}
	if err := p.cfg.Servers.Update(ctx, order.ServerID, patch); err != nil {
		return err
	}
	_, err := enqueue(ctx, p.cfg.Jobs, domain.ServerKey(order.ServerID), JobServerConfirm,
		domain.SystemActor(order.TenantID), serverPayload{ServerID: order.ServerID})
	return err
}

func (p *Poller) publish(ctx context.Context, order *domain.ProvisioningOrder) {
	if p.cfg.Events == nil {
		return
	}
	kind := domain.EventProgress
	msg := fmt.Sprintf("order %s %s (attempt %d)", order.ID, order.Status, order.Attempts)
	if order.Status == domain.OrderFailed {
		kind = domain.EventError
		msg = fmt.Sprintf("order %s failed: %s", order.ID, order.FailureReason)
	}
	ev := domain.NewEvent(domain.ProvisionKey(order.ID), kind, "", msg)
	p.cfg.Events.Publish(ctx, domain.ProvisionKey(order.ID), ev)
	p.cfg.Events.Publish(ctx, domain.TenantKey(order.TenantID), ev)
}

// mapUpstreamStatus normalizes a provider report. Running without both an
// address and a hostname is still provisioning.
func mapUpstreamStatus(r domain.OrderStatusReport) domain.OrderStatus {
	switch strings.ToLower(r.Status) {
	case domain.UpstreamProvisioning, domain.UpstreamStarting, domain.UpstreamInitializing:
		return domain.OrderProvisioning
	case domain.UpstreamRunning:
		if r.InstanceIP != "" && r.InstanceHostname != "" {
			return domain.OrderRunning
		}
		return domain.OrderProvisioning
	case domain.UpstreamFailed, domain.UpstreamError:
		return domain.OrderFailed
	}
	return domain.OrderPending
}

type provisioningService struct {
	orders      ports.OrderRepository
	servers     ports.ServerRepository
	provider    ports.CloudProvider
	jobs        ports.JobScheduler
	credentials *CredentialResolver
	maxAttempts int
	logger      *logger.Logger
}

type ProvisioningServiceConfig struct {
	Orders      ports.OrderRepository
	Servers     ports.ServerRepository
	Provider    ports.CloudProvider
	Jobs        ports.JobScheduler
	Credentials *CredentialResolver
	MaxAttempts int
	Logger      *logger.Logger
}

func NewProvisioningService(cfg ProvisioningServiceConfig) ports.ProvisioningService {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 40
	}
	return &provisioningService{
		orders:      cfg.Orders,
		servers:     cfg.Servers,
		provider:    cfg.Provider,
		jobs:        cfg.Jobs,
		credentials: cfg.Credentials,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger.Named("provisioning"),
	}
}

// CreateOrder asks the provider for a machine with a fresh key pair, records
// the server it will become, and queues the poll job.
func (s *provisioningService) CreateOrder(ctx context.Context, actor domain.Actor, input ports.CreateOrderInput) (*domain.ProvisioningOrder, *domain.Job, error) {
	if s.provider == nil {
		return nil, nil, ErrNoCloudProvider
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, nil, fmt.Errorf("%w: name is required", ErrOrderInvalidInput)
	}

	privPEM, pubKey, err := GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	encrypted, err := s.credentials.Encrypt(privPEM)
	if err != nil {
		return nil, nil, err
	}

	upstreamID, err := s.provider.CreateOrder(ctx, domain.OrderRequest{
		Name:       input.Name,
		ServerType: input.ServerType,
		Image:      input.Image,
		Location:   input.Location,
		PublicKey:  pubKey,
	})
	if err != nil {
		s.logger.Errorw("provider rejected order", "name", input.Name, "error", err, "request_id", actor.RequestID)
		return nil, nil, err
	}

	orderID := uuid.NewString()
	server := &domain.Server{
		ID:                  uuid.NewString(),
		TenantID:            actor.TenantID,
		Name:                input.Name,
		Port:                22,
		Username:            "root",
		PrivateKey:          encrypted,
		Transport:           domain.TransportSSH,
		ConnectionStatus:    domain.ConnectionNotCheckedYet,
		ProvisioningOrderID: orderID,
	}
	if err := s.servers.Create(ctx, server); err != nil {
		return nil, nil, err
	}

	order := &domain.ProvisioningOrder{
		ID:          orderID,
		OrderID:     upstreamID,
		TenantID:    actor.TenantID,
		ServerID:    server.ID,
		Name:        input.Name,
		Status:      domain.OrderPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, nil, err
	}
	s.logger.Infow("order created", "id", order.ID, "upstream_id", upstreamID, "server_id", server.ID)

	job, err := enqueue(ctx, s.jobs, domain.ProvisionKey(order.ID), JobProvisionPoll, actor, orderPayload{OrderID: order.ID})
	if err != nil {
		return order, nil, err
	}
	return order, job, nil
}

func (s *provisioningService) GetOrder(ctx context.Context, actor domain.Actor, id string) (*domain.ProvisioningOrder, error) {
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := sameTenant(actor, order.TenantID, "order", id); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *provisioningService) ListOrders(ctx context.Context, actor domain.Actor) ([]domain.ProvisioningOrder, error) {
	return s.orders.ListByTenant(ctx, actor.TenantID)
}
