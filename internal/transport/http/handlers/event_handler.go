package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/events"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const localEventKey = "event_key"

type EventHandlerConfig struct {
	Events    *events.Broadcaster
	Servers   ports.ServerService
	Orders    ports.ProvisioningService
	Logger    *logger.Logger
	Heartbeat time.Duration
}

// EventHandler streams live events of one target key over SSE or a
// websocket. Nothing is replayed: a subscriber sees only what is published
// after it connects.
type EventHandler struct {
	events    *events.Broadcaster
	servers   ports.ServerService
	orders    ports.ProvisioningService
	logger    *logger.Logger
	heartbeat time.Duration
}

func NewEventHandler(cfg EventHandlerConfig) *EventHandler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	return &EventHandler{
		events:    cfg.Events,
		servers:   cfg.Servers,
		orders:    cfg.Orders,
		logger:    cfg.Logger,
		heartbeat: cfg.Heartbeat,
	}
}

// Authorize resolves :kind/:id into a target key the actor may watch and
// stores it for the streaming handler.
func (h *EventHandler) Authorize(c *fiber.Ctx) error {
	key, err := h.resolveKey(c.UserContext(), middleware.ActorFrom(c), c.Params("kind"), c.Params("id"))
	if err != nil {
		return respondError(c, h.logger, "events_authorize_failed", err)
	}
	c.Locals(localEventKey, key)
	return c.Next()
}

func (h *EventHandler) resolveKey(ctx context.Context, actor domain.Actor, kind, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("event target: %w", domain.ErrNotFound)
	}
	switch kind {
	case "tenant", "reconcile":
		if id != actor.TenantID {
			return "", fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
		}
		if kind == "tenant" {
			return domain.TenantKey(id), nil
		}
		return domain.ReconcileKey(id), nil
	case "server":
		if _, err := h.servers.GetServer(ctx, actor, id); err != nil {
			return "", err
		}
		return domain.ServerKey(id), nil
	case "provision":
		if _, err := h.orders.GetOrder(ctx, actor, id); err != nil {
			return "", err
		}
		return domain.ProvisionKey(id), nil
	}
	return "", fmt.Errorf("event target kind %q: %w", kind, domain.ErrNotFound)
}

// Stream serves Server-Sent Events until the client goes away or the
// broadcaster shuts down.
func (h *EventHandler) Stream(c *fiber.Ctx) error {
	key, _ := c.Locals(localEventKey).(string)
	reqID := middleware.RequestIDFrom(c)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.events.Subscribe(key, events.WithSubscriptionName("sse:"+reqID))
	h.logger.Infow("events_sse_subscribed", "key", key, "request_id", reqID)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		fmt.Fprintf(w, ": subscribed %s\n\n", key)
		if err := w.Flush(); err != nil {
			return
		}
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := writeSSE(w, ev); err != nil {
					h.logger.Debugw("events_sse_write_failed", "key", key, "error", err)
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				h.logger.Infow("events_sse_closed", "key", key, "dropped", sub.Dropped())
				return
			}
		}
	})
	return nil
}

func writeSSE(w *bufio.Writer, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}

// Socket is the websocket variant of Stream. Incoming messages are
// ignored; reading only detects the close.
func (h *EventHandler) Socket(conn *websocket.Conn) {
	key, _ := conn.Locals(localEventKey).(string)
	sub := h.events.Subscribe(key, events.WithSubscriptionName("ws:"+conn.RemoteAddr().String()))
	defer sub.Close()
	h.logger.Infow("events_ws_subscribed", "key", key, "remote", conn.RemoteAddr().String())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debugw("events_ws_write_failed", "key", key, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-closed:
			h.logger.Infow("events_ws_closed", "key", key, "dropped", sub.Dropped())
			return
		}
	}
}
