package handlers

import (
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

// ServiceHandler serves apps and database services. Every mutation only
// records the desired state and answers 202 with the queued job.
type ServiceHandler struct {
	service ports.AppService
	backups ports.BackupService
	logger  *logger.Logger
}

func NewServiceHandler(service ports.AppService, backups ports.BackupService, logger *logger.Logger) *ServiceHandler {
	return &ServiceHandler{service: service, backups: backups, logger: logger}
}

func (h *ServiceHandler) CreateService(c *fiber.Ctx) error {
	var req dto.CreateServiceRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("service_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	serverID := c.Params("id")
	h.logger.Infow("service_create_request", "server_id", serverID, "name", req.Name, "type", req.Type)
	svc, job, err := h.service.CreateService(c.UserContext(), middleware.ActorFrom(c), req.Input(serverID))
	if err != nil {
		return respondError(c, h.logger, "service_create_failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.CreateServiceResponse{
		Service: dto.ServiceToResponse(svc),
		Job:     dto.JobToResponse(job),
	})
}

func (h *ServiceHandler) GetServices(c *fiber.Ctx) error {
	services, err := h.service.ListServices(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "services_list_failed", err)
	}
	return c.JSON(dto.ServicesToResponse(services))
}

func (h *ServiceHandler) GetService(c *fiber.Ctx) error {
	svc, err := h.service.GetService(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "service_get_failed", err)
	}
	return c.JSON(dto.ServiceToResponse(svc))
}

func (h *ServiceHandler) DestroyService(c *fiber.Ctx) error {
	id := c.Params("id")
	h.logger.Infow("service_destroy_request", "id", id)
	job, err := h.service.DestroyService(c.UserContext(), middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, h.logger, "service_destroy_failed", err)
	}
	return accepted(c, "service destruction queued", job)
}

func (h *ServiceHandler) SetDomains(c *fiber.Ctx) error {
	var req dto.DomainsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_domains_failed", "domain update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.SetDomains(c.UserContext(), actor, id, req.Items())
	})
}

func (h *ServiceHandler) AddDomain(c *fiber.Ctx) error {
	var req dto.DomainRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_domain_add_failed", "domain update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.AddDomain(c.UserContext(), actor, id, req.Hostname)
	})
}

func (h *ServiceHandler) RemoveDomain(c *fiber.Ctx) error {
	hostname := c.Params("hostname")
	return h.queued(c, "service_domain_remove_failed", "domain update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.RemoveDomain(c.UserContext(), actor, id, hostname)
	})
}

func (h *ServiceHandler) EnableCertificate(c *fiber.Ctx) error {
	var req dto.CertificateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_certificate_failed", "certificate issuance queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.EnableCertificate(c.UserContext(), actor, id, req.Email)
	})
}

func (h *ServiceHandler) SetVolumes(c *fiber.Ctx) error {
	var req dto.VolumesRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_volumes_failed", "volume update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.SetVolumes(c.UserContext(), actor, id, req.Items())
	})
}

func (h *ServiceHandler) AddVolume(c *fiber.Ctx) error {
	var req dto.VolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_volume_add_failed", "volume update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.AddVolume(c.UserContext(), actor, id, req.Item())
	})
}

func (h *ServiceHandler) RemoveVolume(c *fiber.Ctx) error {
	var req dto.VolumeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_volume_remove_failed", "volume update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.RemoveVolume(c.UserContext(), actor, id, req.Item())
	})
}

func (h *ServiceHandler) SetPorts(c *fiber.Ctx) error {
	var req dto.PortsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_ports_failed", "port update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.SetPorts(c.UserContext(), actor, id, req.Ports)
	})
}

func (h *ServiceHandler) SetEnv(c *fiber.Ctx) error {
	var req dto.EnvRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Env) == 0 {
		return badRequest(c, "env is required")
	}
	return h.queued(c, "service_env_failed", "environment update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.SetEnv(c.UserContext(), actor, id, req.Items())
	})
}

func (h *ServiceHandler) UnsetEnv(c *fiber.Ctx) error {
	var req dto.UnsetEnvRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if len(req.Keys) == 0 {
		return badRequest(c, "keys is required")
	}
	return h.queued(c, "service_env_unset_failed", "environment update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.UnsetEnv(c.UserContext(), actor, id, req.Keys)
	})
}

func (h *ServiceHandler) SetScale(c *fiber.Ctx) error {
	var req dto.ScaleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_scale_failed", "scale update queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.SetScale(c.UserContext(), actor, id, req.Items())
	})
}

func (h *ServiceHandler) Link(c *fiber.Ctx) error {
	var req dto.LinkRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	return h.queued(c, "service_link_failed", "link queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.LinkDatabase(c.UserContext(), actor, id, req.App)
	})
}

func (h *ServiceHandler) Unlink(c *fiber.Ctx) error {
	app := c.Params("app")
	return h.queued(c, "service_unlink_failed", "unlink queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.UnlinkDatabase(c.UserContext(), actor, id, app)
	})
}

func (h *ServiceHandler) Restart(c *fiber.Ctx) error {
	return h.queued(c, "service_restart_failed", "restart queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.service.Restart(c.UserContext(), actor, id)
	})
}

func (h *ServiceHandler) Backup(c *fiber.Ctx) error {
	var req dto.BackupRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}
	return h.queued(c, "service_backup_failed", "backup queued", func(actor domain.Actor, id string) (*domain.Job, error) {
		return h.backups.BackupDatabase(c.UserContext(), actor, id, ports.BackupMode(req.Mode))
	})
}

func (h *ServiceHandler) queued(c *fiber.Ctx, event, msg string, call func(actor domain.Actor, id string) (*domain.Job, error)) error {
	id := c.Params("id")
	job, err := call(middleware.ActorFrom(c), id)
	if err != nil {
		return respondError(c, h.logger, event, err)
	}
	h.logger.Infow("service_job_queued", "service_id", id, "job_id", job.ID, "type", job.Type)
	return accepted(c, msg, job)
}
