package handlers

import (
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type ServerHandler struct {
	service   ports.ServerService
	reconcile ports.ReconcileService
	logger    *logger.Logger
}

func NewServerHandler(service ports.ServerService, reconcile ports.ReconcileService, logger *logger.Logger) *ServerHandler {
	return &ServerHandler{service: service, reconcile: reconcile, logger: logger}
}

func (h *ServerHandler) CreateServer(c *fiber.Ctx) error {
	var req dto.CreateServerRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnw("server_create_body_parse_failed", "error", err)
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		h.logger.Warnw("server_create_validation_failed", "details", errors)
		return badRequest(c, "validation failed", errors...)
	}

	actor := middleware.ActorFrom(c)
	h.logger.Infow("server_create_request", "tenant_id", actor.TenantID, "name", req.Name, "ip", req.IP)
	server, job, err := h.service.CreateServer(c.UserContext(), actor, req.Input())
	if err != nil {
		return respondError(c, h.logger, "server_create_failed", err)
	}

	h.logger.Infow("server_create_success", "id", server.ID, "job_id", job.ID)
	return c.Status(fiber.StatusCreated).JSON(dto.CreateServerResponse{
		Server: dto.ServerToResponse(server),
		Job:    dto.JobToResponse(job),
	})
}

func (h *ServerHandler) GetServers(c *fiber.Ctx) error {
	servers, err := h.service.ListServers(c.UserContext(), middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, h.logger, "servers_list_failed", err)
	}
	return c.JSON(dto.ServersToResponse(servers))
}

func (h *ServerHandler) GetServer(c *fiber.Ctx) error {
	server, err := h.service.GetServer(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "server_get_failed", err)
	}
	return c.JSON(dto.ServerToResponse(server))
}

// TriggerReconcile queues an on-demand scan of one tenant. A scan that
// finds the skip flag set completes without probing.
func (h *ServerHandler) TriggerReconcile(c *fiber.Ctx) error {
	actor := middleware.ActorFrom(c)
	tenant := c.Params("tenant")
	h.logger.Infow("reconcile_trigger_request", "tenant_id", tenant, "actor", actor.UserID)
	job, err := h.reconcile.Trigger(c.UserContext(), actor, tenant)
	if err != nil {
		return respondError(c, h.logger, "reconcile_trigger_failed", err)
	}
	return accepted(c, "reconciliation queued", job)
}
