package handlers

import (
	"errors"

	"github.com/dflow-sh/dflow-sub003/internal/core/services"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/queue"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

var statusByError = []struct {
	err    error
	status int
}{
	{services.ErrServerInvalidInput, fiber.StatusBadRequest},
	{services.ErrServerInvalidIP, fiber.StatusBadRequest},
	{services.ErrServiceInvalidInput, fiber.StatusBadRequest},
	{services.ErrPluginInvalidInput, fiber.StatusBadRequest},
	{services.ErrOrderInvalidInput, fiber.StatusBadRequest},
	{services.ErrBackupInvalidMode, fiber.StatusBadRequest},
	{domain.ErrNotFound, fiber.StatusNotFound},
	{services.ErrPluginNotManaged, fiber.StatusNotFound},
	{domain.ErrAlreadyExists, fiber.StatusConflict},
	{services.ErrServiceDestroyed, fiber.StatusConflict},
	{services.ErrServiceWrongType, fiber.StatusUnprocessableEntity},
	{services.ErrServerNoKey, fiber.StatusUnprocessableEntity},
	{services.ErrNoCloudProvider, fiber.StatusNotImplemented},
	{services.ErrBackupNotConfigured, fiber.StatusNotImplemented},
	{domain.ErrUpstreamProvider, fiber.StatusBadGateway},
	{queue.ErrRegistryClosed, fiber.StatusServiceUnavailable},
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return fiber.StatusInternalServerError
}

// respondError writes err with its mapped status. Server-side failures log
// at error level, caller mistakes at warn.
func respondError(c *fiber.Ctx, log *logger.Logger, event string, err error) error {
	status := StatusFor(err)
	kv := []interface{}{"error", err, "status", status, "request_id", middleware.RequestIDFrom(c)}
	if status >= fiber.StatusInternalServerError {
		log.Errorw(event, kv...)
	} else {
		log.Warnw(event, kv...)
	}
	resp := dto.ErrorResponse{Error: err.Error()}
	if kind := domain.KindOf(err); kind != domain.KindInternal {
		resp.Kind = string(kind)
	}
	return c.Status(status).JSON(resp)
}

func badRequest(c *fiber.Ctx, msg string, details ...string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: msg, Details: details})
}

func accepted(c *fiber.Ctx, msg string, job *domain.Job) error {
	return c.Status(fiber.StatusAccepted).JSON(dto.AcceptedResponse{Message: msg, Job: dto.JobToResponse(job)})
}
