package middleware

import (
	"strings"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"

	localRequestID = "request_id"
	localActor     = "actor"
)

// RequestID reuses the caller's request id or mints one, and echoes it back.
func RequestID(header string) fiber.Handler {
	if header == "" {
		header = "X-Request-ID"
	}
	return func(c *fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(header))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(localRequestID, reqID)
		c.Set(header, reqID)
		return c.Next()
	}
}

func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}

// Actor builds the acting identity from the tenant and user headers. The
// tenant is mandatory; an empty one would match every record.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenant := strings.TrimSpace(c.Get(HeaderTenantID))
		if tenant == "" && strings.HasPrefix(c.Path(), "/ws/") {
			tenant = strings.TrimSpace(c.Query("tenant"))
		}
		if tenant == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing " + HeaderTenantID + " header"})
		}
		c.Locals(localActor, domain.Actor{
			TenantID:  tenant,
			UserID:    strings.TrimSpace(c.Get(HeaderUserID)),
			RequestID: RequestIDFrom(c),
		})
		return c.Next()
	}
}

// ActorFrom returns the actor stored by Actor.
func ActorFrom(c *fiber.Ctx) domain.Actor {
	actor, _ := c.Locals(localActor).(domain.Actor)
	return actor
}

func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"tenant_id", c.Get(HeaderTenantID),
			"request_id", RequestIDFrom(c),
		)
		return err
	}
}
