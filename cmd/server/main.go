package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/config"
	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/core/services"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/backup"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/cloud"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/db"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/events"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/memstore"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/queue"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/remote"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/skipflag"
	transporthttp "github.com/dflow-sh/dflow-sub003/internal/transport/http"
	httpmw "github.com/dflow-sh/dflow-sub003/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"
)

type repositories struct {
	servers  ports.ServerRepository
	services ports.ServiceRepository
	orders   ports.OrderRepository
	settings ports.SystemSettingRepository
	database *gorm.DB
}

func main() {
	configPath := os.Getenv("DFLOW_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "../config/config.yaml"
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(cfg, log)
	if err != nil {
		log.Fatalf("failed to open resource store: %v", err)
	}

	settingService := services.NewSystemSettingService(repos.settings, log)
	keyManager := services.NewKeyManager(settingService, log)
	if err := keyManager.Initialize(ctx); err != nil {
		log.Fatalf("failed to initialize key manager: %v", err)
	}
	credentials := services.NewCredentialResolver(cfg.Security.EncryptionKey, keyManager)

	// Events
	broadcaster := events.NewBroadcaster(
		events.WithLogger(log.Named("events")),
		events.WithBuffer(cfg.Events.SubscriberBuffer),
	)
	var publisher ports.EventPublisher = broadcaster
	var relay *events.NATSRelay
	if cfg.Events.Backend == "nats" {
		relay, err = events.NewNATSRelay(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, broadcaster, log.Named("events"))
		if err != nil {
			log.Fatalf("failed to start event relay: %v", err)
		}
		publisher = relay
	}

	// Jobs
	mux := queue.NewMux()
	registry := queue.NewRegistry(queue.RegistryConfig{
		Logger:    log.Named("queue"),
		Notifier:  events.NewJobNotifier(publisher),
		Retention: cfg.Orchestrator.JobRetention,
		Processor: mux.Process,
	})

	gateway := remote.NewSSHGateway(remote.GatewayConfig{
		ProbeTimeout:   cfg.Orchestrator.ProbeTimeout,
		ConnectTimeout: cfg.Orchestrator.ConnectTimeout,
		CommandTimeout: cfg.Orchestrator.CommandTimeout,
		Logger:         log.Named("remote"),
	})

	flags, closeFlags, err := openSkipFlags(cfg)
	if err != nil {
		log.Fatalf("failed to open skip flag store: %v", err)
	}

	reconciler := services.NewReconciler(services.ReconcilerConfig{
		Servers:         repos.servers,
		Gateway:         gateway,
		Credentials:     credentials,
		Flags:           flags,
		Events:          publisher,
		Logger:          log,
		SkipFlagTTL:     cfg.Orchestrator.SkipFlagTTL,
		CollectFacts:    cfg.Orchestrator.CollectHostFacts,
		ConfirmAttempts: cfg.Orchestrator.ConfirmAttempts,
		ConfirmDelay:    cfg.Orchestrator.ConfirmDelay,
	})
	reconciler.Register(mux)

	provider := openCloudProvider(cfg, log)
	poller := services.NewPoller(services.PollerConfig{
		Orders:      repos.orders,
		Servers:     repos.servers,
		Provider:    provider,
		Jobs:        registry,
		Events:      publisher,
		Logger:      log,
		Interval:    cfg.Orchestrator.PollInterval,
		MaxAttempts: cfg.Orchestrator.PollMaxAttempts,
	})
	poller.Register(mux)

	backupSettings := services.BackupSettings{
		Bucket:     cfg.Backup.Bucket,
		Region:     cfg.Backup.Region,
		Endpoint:   cfg.Backup.Endpoint,
		AccessKey:  cfg.Backup.AccessKey,
		SecretKey:  cfg.Backup.SecretKey,
		StagingDir: cfg.Backup.StagingDir,
	}
	var uploader ports.BackupUploader
	if cfg.Backup.Bucket != "" {
		s3Uploader, err := backup.NewS3Uploader(ctx, backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
			PathStyle: cfg.Backup.Endpoint != "",
		})
		if err != nil {
			log.Warnw("backup_uploader_disabled", "error", err)
		} else {
			uploader = s3Uploader
		}
	}

	workflows := services.NewWorkflows(services.WorkflowConfig{
		Servers:            repos.servers,
		Services:           repos.services,
		Gateway:            gateway,
		Credentials:        credentials,
		Events:             publisher,
		Logger:             log,
		LongCommandTimeout: cfg.Orchestrator.LongCommandTimeout,
		Backup:             backupSettings,
		Uploader:           uploader,
	})
	workflows.Register(mux)

	scheduler := services.NewScheduler(repos.servers, registry, cfg.Orchestrator.ReconcileInterval, log)
	scheduler.Start(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token, " +
			httpmw.HeaderTenantID + ", " + httpmw.HeaderUserID + ", " + cfg.Features.RequestIDHeader,
		AllowMethods: "GET, POST, HEAD, PUT, DELETE, PATCH",
	}))
	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log))
	}

	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Config:       cfg,
		Logger:       log,
		Servers:      services.NewServerService(services.ServerServiceConfig{Repository: repos.servers, Jobs: registry, Credentials: credentials, Keys: keyManager, Logger: log}),
		Reconcile:    services.NewReconcileService(registry),
		Plugins:      services.NewPluginService(repos.servers, registry, log),
		Apps:         services.NewAppService(services.AppServiceConfig{Servers: repos.servers, Services: repos.services, Jobs: registry, Logger: log}),
		Backups:      services.NewBackupService(repos.services, registry, backupSettings, uploader),
		Provisioning: services.NewProvisioningService(services.ProvisioningServiceConfig{Orders: repos.orders, Servers: repos.servers, Provider: provider, Jobs: registry, Credentials: credentials, MaxAttempts: cfg.Orchestrator.PollMaxAttempts, Logger: log}),
		Jobs:         registry,
		Events:       broadcaster,
	})

	go func() {
		if err := app.Listen(cfg.Server.Address()); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("server started on %s", cfg.Server.Address())

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scheduler.Stop()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Errorf("job registry did not drain: %v", err)
	}
	broadcaster.Shutdown()
	if relay != nil {
		relay.Close()
	}
	closeFlags()
	if repos.database != nil {
		if err := db.Close(repos.database); err != nil {
			log.Errorf("failed to close database connection: %v", err)
		}
	}

	log.Info("server exited gracefully")
}

func openRepositories(cfg *config.Config, log *logger.Logger) (repositories, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory resource store; state is lost on restart")
		return repositories{
			servers:  memstore.NewServerStore(),
			services: memstore.NewServiceStore(),
			orders:   memstore.NewOrderStore(),
			settings: memstore.NewSettingStore(),
		}, nil
	}

	database, err := db.NewPostgresConnection(cfg.Database)
	if err != nil {
		return repositories{}, err
	}
	log.Info("database connection established")

	if err := db.RunMigrations(database); err != nil {
		return repositories{}, err
	}
	log.Info("database migrations completed")

	return repositories{
		servers:  db.NewServerRepository(database, log),
		services: db.NewServiceRepository(database, log),
		orders:   db.NewOrderRepository(database, log),
		settings: db.NewSystemSettingRepository(database, log),
		database: database,
	}, nil
}

func openSkipFlags(cfg *config.Config) (ports.SkipFlagStore, func(), error) {
	switch cfg.SkipFlag.Backend {
	case "badger":
		store, err := skipflag.NewBadgerStore(cfg.SkipFlag.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "nats":
		store, err := skipflag.NewNATSStore(cfg.SkipFlag.NATSURL, cfg.SkipFlag.Bucket, cfg.Orchestrator.SkipFlagTTL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "", "memory":
		return skipflag.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, errors.New("unknown skipflag backend " + cfg.SkipFlag.Backend)
}

// openCloudProvider returns nil when no provider is configured; order
// creation then fails with ErrNoCloudProvider.
func openCloudProvider(cfg *config.Config, log *logger.Logger) ports.CloudProvider {
	switch cfg.Cloud.Provider {
	case "hetzner":
		if cfg.Cloud.Token == "" {
			log.Warn("hetzner token not set; provisioning disabled")
			return nil
		}
		return cloud.NewHetznerProvider(cfg.Cloud.Token, cloud.WithDefaults(domain.OrderRequest{
			ServerType: cfg.Cloud.ServerType,
			Image:      cfg.Cloud.Image,
			Location:   cfg.Cloud.Location,
		}))
	case "http":
		if cfg.Cloud.BaseURL == "" {
			log.Warn("cloud base_url not set; provisioning disabled")
			return nil
		}
		return cloud.NewHTTPProvider(cfg.Cloud.BaseURL, cfg.Cloud.Token, nil)
	}
	return nil
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		// Reduce log level for expected errors (408 Timeout, 404 Not Found, etc.)
		if code == fiber.StatusRequestTimeout || code == fiber.StatusNotFound {
			log.Warnw("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.RequestIDFrom(c),
			)
		} else {
			log.Errorw("request error",
				"method", c.Method(),
				"path", c.Path(),
				"status", code,
				"error", err.Error(),
				"request_id", httpmw.RequestIDFrom(c),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
