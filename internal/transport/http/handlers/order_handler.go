package handlers

import (
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/dto"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type OrderHandler struct {
	service ports.ProvisioningService
	logger  *logger.Logger
}

func NewOrderHandler(service ports.ProvisioningService, logger *logger.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	var req dto.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if errors := req.Validate(); len(errors) > 0 {
		return badRequest(c, "validation failed", errors...)
	}

	h.logger.Infow("order_create_request", "name", req.Name, "server_type", req.ServerType, "location", req.Location)
	order, job, err := h.service.CreateOrder(c.UserContext(), middleware.ActorFrom(c), req.Input())
	if err != nil {
		return respondError(c, h.logger, "order_create_failed", err)
	}
	h.logger.Infow("order_create_success", "id", order.ID, "upstream_id", order.OrderID)
	return c.Status(fiber.StatusCreated).JSON(dto.CreateOrderResponse{Order: order, Job: dto.JobToResponse(job)})
}

func (h *OrderHandler) GetOrders(c *fiber.Ctx) error {
	orders, err := h.service.ListOrders(c.UserContext(), middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, h.logger, "orders_list_failed", err)
	}
	return c.JSON(orders)
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.service.GetOrder(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "order_get_failed", err)
	}
	return c.JSON(order)
}
