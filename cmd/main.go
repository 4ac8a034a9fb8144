package main

import (
	"context"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"tenant-service/internal/handler"
	"tenant-service/internal/isolation"
	"tenant-service/internal/lifecycle"
	"tenant-service/internal/middleware"
	"tenant-service/internal/model"
	"tenant-service/internal/provision"
	"tenant-service/internal/registry"
	"tenant-service/internal/tenantctx"
	"tenant-service/pkg/blobstore"
	"tenant-service/pkg/client"
	"tenant-service/pkg/config"
	"tenant-service/pkg/database"
	"tenant-service/pkg/jwtutil"
	"tenant-service/pkg/logger"
	"tenant-service/prometheus"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger with config
	if err := logger.InitLogger(cfg); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	log.Info("Starting tenant service...", cfg.LogFields()...)

	// Initialize database connection
	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}

	// Migrate control-plane tables; tenant partitions are created on demand
	// by the provisioner, never by AutoMigrate.
	if err := database.MigrateModels(
		&model.User{},
		&model.Tenant{},
		&model.Membership{},
		&model.LifecycleJob{},
		&model.DeletionAuditRecord{},
	); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database connection established and migrations completed")

	// Initialize JWT utilities with configuration
	jwtutil.Initialize(&cfg.JWT)

	// Schema DDL runs as the schema-owning role on its own connection; the
	// request path keeps the unprivileged runtime role.
	ddlDB, err := database.InitDDLDB(cfg)
	if err != nil {
		log.Fatal("Failed to initialize DDL database connection", zap.Error(err))
	}
	if cfg.DB.DDLUser == "" {
		log.Warn("No DDL role configured; the runtime role owns tenant schemas and FORCE ROW LEVEL SECURITY is the only isolation barrier")
	}

	// Core components
	reg := registry.New(db)
	exec := isolation.NewExecutor(ddlDB)
	resolver := tenantctx.NewResolver(reg)
	prov := provision.New(reg, exec, cfg.Provision, log)

	store, err := blobstore.NewS3(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	notifier := client.NewNotifier(cfg.Collaborator.NotifierURL)
	sessions := client.NewSessions(cfg.Collaborator.SessionsURL)
	orch := lifecycle.New(reg, exec, lifecycle.NewDumper(db), store, notifier, sessions, cfg.Lifecycle, log)

	handler.Init(reg, prov, orch)

	// Initialize Echo framework
	e := echo.New()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(prometheus.GetPrometheusHandler()))
	e.POST("/auth/register", handler.Register)
	e.POST("/auth/login", handler.Login)

	// Protected routes - require a valid access token
	api := e.Group("/api")
	api.Use(middleware.AuthMiddleware)

	api.POST("/auth/reauth", handler.Reauth)

	tenants := api.Group("/tenants")
	tenants.POST("", handler.CreateTenant)
	tenants.GET("", handler.ListUserTenants)
	tenants.GET("/:id/status", handler.GetTenantStatus)
	tenants.PATCH("/:id/settings", handler.UpdateTenantSettings, middleware.RequireTenantContext(resolver))
	tenants.POST("/:id/members", handler.AddMember, middleware.RequireTenantContext(resolver))
	tenants.DELETE("/:id/members/:user_id", handler.RemoveMember, middleware.RequireTenantContext(resolver))
	tenants.POST("/:id/default", handler.SetDefaultTenant)
	tenants.POST("/:id/export", handler.RequestExport)
	tenants.POST("/:id/delete", handler.RequestDeletion)

	api.GET("/jobs/:id", handler.GetJob)

	// Start server
	port := cfg.Server.Port
	log.Info("Starting server", zap.String("port", port))
	if err := e.Start(":" + port); err != nil {
		log.Fatal("Failed to start server", zap.Error(err))
	}
}
