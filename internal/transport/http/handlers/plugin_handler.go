package handlers

import (
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type PluginHandler struct {
	service ports.PluginService
	logger  *logger.Logger
}

func NewPluginHandler(service ports.PluginService, logger *logger.Logger) *PluginHandler {
	return &PluginHandler{service: service, logger: logger}
}

func (h *PluginHandler) Install(c *fiber.Ctx) error {
	var req dto.InstallPluginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	serverID := c.Params("id")
	h.logger.Infow("plugin_install_request", "server_id", serverID, "plugin", req.Name, "url", req.URL)
	job, err := h.service.InstallPlugin(c.UserContext(), middleware.ActorFrom(c), serverID, req.Spec())
	if err != nil {
		return respondError(c, h.logger, "plugin_install_failed", err)
	}
	return accepted(c, "plugin installation queued", job)
}

func (h *PluginHandler) Enable(c *fiber.Ctx) error {
	return h.toggle(c, true)
}

func (h *PluginHandler) Disable(c *fiber.Ctx) error {
	return h.toggle(c, false)
}

func (h *PluginHandler) toggle(c *fiber.Ctx, enabled bool) error {
	serverID, name := c.Params("id"), c.Params("name")
	job, err := h.service.SetPluginEnabled(c.UserContext(), middleware.ActorFrom(c), serverID, name, enabled)
	if err != nil {
		return respondError(c, h.logger, "plugin_toggle_failed", err)
	}
	h.logger.Infow("plugin_toggle_queued", "server_id", serverID, "plugin", name, "enabled", enabled)
	return accepted(c, "plugin update queued", job)
}

func (h *PluginHandler) Uninstall(c *fiber.Ctx) error {
	serverID, name := c.Params("id"), c.Params("name")
	job, err := h.service.UninstallPlugin(c.UserContext(), middleware.ActorFrom(c), serverID, name)
	if err != nil {
		return respondError(c, h.logger, "plugin_uninstall_failed", err)
	}
	return accepted(c, "plugin removal queued", job)
}

// Sync re-reads the plugin list on the server into the observed state.
func (h *PluginHandler) Sync(c *fiber.Ctx) error {
	job, err := h.service.SyncPlugins(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "plugin_sync_failed", err)
	}
	return accepted(c, "plugin sync queued", job)
}
