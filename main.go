package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/flurs/keyserver/src/assembler"
	"github.com/flurs/keyserver/src/config"
	"github.com/flurs/keyserver/src/database"
	"github.com/flurs/keyserver/src/handlers"
	"github.com/flurs/keyserver/src/logging"
	"github.com/flurs/keyserver/src/middleware"
	"github.com/flurs/keyserver/src/ratelimit"
	"github.com/flurs/keyserver/src/repositories"
	"github.com/flurs/keyserver/src/repositories/postgres"
	"github.com/flurs/keyserver/src/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize structured logging
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	log.Info().
		Int("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Msg("starting server")

	// The operator credential guards every mutating surface; refusing to
	// boot without it beats running an unprotectable instance.
	if cfg.AdminPassword == "" {
		log.Fatal().Msg("ADMIN_PASSWORD is required")
	}

	// Initialize database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := database.New(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	log.Info().Msg("database connected")

	// Initialize JWT secret in middleware
	if err := middleware.SetJWTSecret(cfg.JWTSecret); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize JWT secret")
	}

	// Loader branding
	loaderCfg, err := assembler.LoadConfig(cfg.LoaderConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load loader config")
	}
	asm := assembler.New(loaderCfg, cfg.ExternalHost)

	// Repositories
	pool := db.GetPool()
	keyRepo := postgres.NewKeyRepository(pool)
	payloadRepo := postgres.NewPayloadRepository(pool)
	execLogRepo := postgres.NewExecutionLogRepository(pool)

	// Services
	secLog := services.NewSecurityLogService()
	validationService := services.NewValidationService(keyRepo, payloadRepo, execLogRepo, secLog, logging.NewLogger("validation"))
	keyService := services.NewKeyService(keyRepo, logging.NewLogger("keys"))
	payloadService := services.NewPayloadService(payloadRepo, logging.NewLogger("payloads"))
	adminService := services.NewAdminService(pool, logging.NewLogger("admin"))
	deliveryService := services.NewDeliveryService(asm, validationService, payloadService, logging.NewLogger("delivery"))

	// Auto-seed admin user on first run
	if err := adminService.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin user")
	}

	// Rate limit stores
	validateLimiter := ratelimit.NewMemoryStore(cfg.ValidateLimit, cfg.ValidateWindow)
	defer validateLimiter.Stop()
	loaderLimiter := ratelimit.NewMemoryStore(cfg.LoaderLimit, cfg.LoaderWindow)
	defer loaderLimiter.Stop()
	loginLimiter := middleware.NewLoginRateLimiter(cfg.LoginPerMinute, cfg.LoginBurst)
	defer loginLimiter.Stop()

	// Create Gin router
	router := gin.New()

	// Add middleware
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(gin.Recovery())

	// CORS: the admin panel is the only browser consumer; executors never
	// send an Origin header.
	corsConfig := cors.Config{
		AllowOriginFunc: func(origin string) bool {
			if origin == "http://localhost" || origin == "http://localhost:8080" || origin == "http://localhost:8081" {
				return true
			}
			return cfg.AllowedOrigin != "" && origin == cfg.AllowedOrigin
		},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Setup routes
	setupRoutes(router, db, routeDeps{
		validation: validationService,
		delivery:   deliveryService,
		keys:       keyService,
		payloads:   payloadService,
		admins:     adminService,
		execLogs:   execLogRepo,
		secLog:     secLog,

		validateLimiter: validateLimiter,
		loaderLimiter:   loaderLimiter,
		loginLimiter:    loginLimiter,
	})

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:              ":" + formatPort(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Int("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server shut down successfully")
}

type routeDeps struct {
	validation *services.ValidationService
	delivery   *services.DeliveryService
	keys       *services.KeyService
	payloads   *services.PayloadService
	admins     *services.AdminService
	execLogs   repositories.ExecutionLogRepository
	secLog     *services.SecurityLogService

	validateLimiter ratelimit.Store
	loaderLimiter   ratelimit.Store
	loginLimiter    *middleware.LoginRateLimiter
}

func setupRoutes(router *gin.Engine, db *database.Database, deps routeDeps) {
	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db)
	validateHandler := handlers.NewValidateHandler(deps.validation)
	loaderHandler := handlers.NewLoaderHandler(deps.delivery)
	adminHandler := handlers.NewAdminHandler(deps.keys, deps.payloads, deps.admins, deps.execLogs, deps.secLog)

	// Health check endpoints
	router.GET("/health", healthHandler.HandleHealth)
	router.GET("/ready", healthHandler.HandleReady)
	router.GET("/info", healthHandler.HandleInfo)

	rejected := func(kind string) middleware.RejectFunc {
		return func(clientIP string) {
			deps.secLog.Record(services.SecurityEvent{
				At:         time.Now(),
				Kind:       kind,
				SourceAddr: clientIP,
			})
		}
	}

	// Executor-facing validation endpoint
	api := router.Group("/api", middleware.FixedWindowJSON(deps.validateLimiter, rejected("validate_rate_limited")))
	{
		api.GET("/validate", validateHandler.HandleValidate)
		api.POST("/validate", validateHandler.HandleValidate)
	}

	// Loader artifacts: browser-gated, separately rate limited, Lua
	// responses even on rejection
	router.GET("/loader/:file",
		middleware.ExecutorOnly(),
		middleware.FixedWindowLua(deps.loaderLimiter, rejected("loader_rate_limited")),
		loaderHandler.HandleLoader)

	// Admin authentication endpoints
	router.POST("/admin/login", deps.loginLimiter.Middleware(), adminHandler.HandleLogin)

	// Admin endpoints (all require authentication)
	admin := router.Group("/admin", middleware.AdminAuthMiddleware())
	{
		admin.POST("/logout", adminHandler.HandleLogout)
		admin.GET("/status", adminHandler.HandleStatus)

		admin.POST("/keys", adminHandler.HandleCreateKey)
		admin.GET("/keys", adminHandler.HandleListKeys)
		admin.GET("/keys/:id", adminHandler.HandleGetKey)
		admin.PATCH("/keys/:id", adminHandler.HandleUpdateKey)
		admin.DELETE("/keys/:id", adminHandler.HandleDeleteKey)
		admin.POST("/keys/:id/clear-log", adminHandler.HandleClearKeyLog)

		admin.POST("/payloads", adminHandler.HandleSavePayload)
		admin.GET("/payloads", adminHandler.HandleListPayloads)
		admin.GET("/payloads/:hash", adminHandler.HandleGetPayload)
		admin.DELETE("/payloads/:hash", adminHandler.HandleDeletePayload)
		admin.POST("/payloads/:hash/clear-log", adminHandler.HandleClearPayloadLog)

		admin.GET("/executions", adminHandler.HandleListExecutions)
		admin.GET("/executions/stats", adminHandler.HandleExecutionStats)
		admin.DELETE("/executions", adminHandler.HandleClearExecutions)

		admin.GET("/security-events", adminHandler.HandleListSecurityEvents)
		admin.DELETE("/security-events", adminHandler.HandleClearSecurityEvents)
	}
}

func formatPort(port int) string {
	return fmt.Sprintf("%d", port)
}
