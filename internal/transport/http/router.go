package http

import (
	"github.com/dflow-sh/dflow-sub003/internal/config"
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/events"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/metrics"
	"github.com/dflow-sh/dflow-sub003/internal/transport/http/handlers"
	httpmw "github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

type RouterConfig struct {
	Config *config.Config
	Logger *logger.Logger

	Servers      ports.ServerService
	Reconcile    ports.ReconcileService
	Plugins      ports.PluginService
	Apps         ports.AppService
	Backups      ports.BackupService
	Provisioning ports.ProvisioningService
	Jobs         ports.JobLookup
	Events       *events.Broadcaster
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	serverHandler := handlers.NewServerHandler(cfg.Servers, cfg.Reconcile, cfg.Logger)
	pluginHandler := handlers.NewPluginHandler(cfg.Plugins, cfg.Logger)
	serviceHandler := handlers.NewServiceHandler(cfg.Apps, cfg.Backups, cfg.Logger)
	orderHandler := handlers.NewOrderHandler(cfg.Provisioning, cfg.Logger)
	jobHandler := handlers.NewJobHandler(cfg.Jobs, cfg.Logger)
	eventHandler := handlers.NewEventHandler(handlers.EventHandlerConfig{
		Events:  cfg.Events,
		Servers: cfg.Servers,
		Orders:  cfg.Provisioning,
		Logger:  cfg.Logger,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Config.Metrics.Enabled {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	}

	// Event websocket: /ws/events/:kind/:id?tenant=...&token=...
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws/events/:kind/:id",
		httpmw.AdminAuth(cfg.Config),
		httpmw.Actor(),
		eventHandler.Authorize,
		websocket.New(eventHandler.Socket),
	)

	// API v1 routes
	api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config), httpmw.Actor())

	// Server routes
	servers := api.Group("/servers")
	servers.Post("/", serverHandler.CreateServer)
	servers.Get("/", serverHandler.GetServers)
	servers.Get("/:id", serverHandler.GetServer)

	servers.Post("/:id/plugins", pluginHandler.Install)
	servers.Post("/:id/plugins/sync", pluginHandler.Sync)
	servers.Post("/:id/plugins/:name/enable", pluginHandler.Enable)
	servers.Post("/:id/plugins/:name/disable", pluginHandler.Disable)
	servers.Delete("/:id/plugins/:name", pluginHandler.Uninstall)

	servers.Post("/:id/services", serviceHandler.CreateService)
	servers.Get("/:id/services", serviceHandler.GetServices)

	// Tenant routes
	api.Post("/tenants/:tenant/reconcile", serverHandler.TriggerReconcile)

	// Service routes
	svc := api.Group("/services")
	svc.Get("/:id", serviceHandler.GetService)
	svc.Delete("/:id", serviceHandler.DestroyService)
	svc.Put("/:id/domains", serviceHandler.SetDomains)
	svc.Post("/:id/domains", serviceHandler.AddDomain)
	svc.Delete("/:id/domains/:hostname", serviceHandler.RemoveDomain)
	svc.Post("/:id/certificate", serviceHandler.EnableCertificate)
	svc.Put("/:id/volumes", serviceHandler.SetVolumes)
	svc.Post("/:id/volumes", serviceHandler.AddVolume)
	svc.Delete("/:id/volumes", serviceHandler.RemoveVolume)
	svc.Put("/:id/ports", serviceHandler.SetPorts)
	svc.Put("/:id/env", serviceHandler.SetEnv)
	svc.Delete("/:id/env", serviceHandler.UnsetEnv)
	svc.Put("/:id/scale", serviceHandler.SetScale)
	svc.Post("/:id/links", serviceHandler.Link)
	svc.Delete("/:id/links/:app", serviceHandler.Unlink)
	svc.Post("/:id/restart", serviceHandler.Restart)
	svc.Post("/:id/backups", serviceHandler.Backup)

	// Provisioning routes
	orders := api.Group("/orders")
	orders.Post("/", orderHandler.CreateOrder)
	orders.Get("/", orderHandler.GetOrders)
	orders.Get("/:id", orderHandler.GetOrder)

	// Job routes
	api.Get("/jobs/:id", jobHandler.GetJob)

	// Event stream (SSE)
	api.Get("/events/:kind/:id", eventHandler.Authorize, eventHandler.Stream)
}
