package handlers

import (
	"fmt"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type JobHandler struct {
	jobs   ports.JobLookup
	logger *logger.Logger
}

func NewJobHandler(jobs ports.JobLookup, logger *logger.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, logger: logger}
}

// GetJob reports a job until its retention runs out. Jobs of other tenants
// look the same as unknown ones.
func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	id := c.Params("id")
	job, ok := h.jobs.Job(id)
	if !ok || job.Actor.TenantID != middleware.ActorFrom(c).TenantID {
		return respondError(c, h.logger, "job_get_failed", fmt.Errorf("job %s: %w", id, domain.ErrNotFound))
	}
	return c.JSON(dto.JobToResponse(&job))
}
