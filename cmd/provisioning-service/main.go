// Package main is the entry point for the provisioning service: the SCIM
// 2.0 surface identity providers sync users and role groups through.
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ngc-shj/passwd-sso-sub002/internal/audit"
	"github.com/ngc-shj/passwd-sso-sub002/internal/auth"
	"github.com/ngc-shj/passwd-sso-sub002/internal/common/config"
	"github.com/ngc-shj/passwd-sso-sub002/internal/common/database"
	"github.com/ngc-shj/passwd-sso-sub002/internal/common/logger"
	"github.com/ngc-shj/passwd-sso-sub002/internal/common/tracing"
	"github.com/ngc-shj/passwd-sso-sub002/internal/directory"
	"github.com/ngc-shj/passwd-sso-sub002/internal/health"
	"github.com/ngc-shj/passwd-sso-sub002/internal/metrics"
	"github.com/ngc-shj/passwd-sso-sub002/internal/middleware"
	"github.com/ngc-shj/passwd-sso-sub002/internal/ratelimit"
	"github.com/ngc-shj/passwd-sso-sub002/internal/scim"
	"github.com/ngc-shj/passwd-sso-sub002/internal/server"
)

const serviceName = "provisioning-service"

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log := logger.New()
	defer log.Sync()
	log = logger.WithService(log, serviceName)

	log.Info("Starting provisioning service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	tracingCfg := tracing.ConfigFromEnv(serviceName, cfg.Environment)
	shutdownTracer, err := tracing.Init(context.Background(), tracingCfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	store := directory.NewPostgresStore(db.Pool)
	recorder := audit.NewPostgresRecorder(db.Pool, log)
	resolver := auth.NewPostgresResolver(db.Pool)

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.EnableRateLimit {
		limiter = ratelimit.NewSlidingWindow(
			redis.Client,
			cfg.RateLimitRequests,
			time.Duration(cfg.RateLimitWindow)*time.Second,
			log,
		)
	}

	service := scim.NewService(store, recorder, log, cfg.SCIMBaseURL)
	handler := scim.NewHandler(service, resolver, limiter, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery(log))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(logger.GinMiddleware(log))
	router.Use(metrics.Middleware(serviceName))

	router.GET("/metrics", metrics.Handler())

	handler.RegisterRoutes(router)

	healthService := health.NewHealthService(log)
	healthService.SetVersion(Version)
	healthService.RegisterCheck(health.NewPostgresChecker(db))
	healthService.RegisterCheck(health.NewRedisChecker(redis))
	healthService.RegisterStandardRoutes(router, "")
	router.GET("/ready", healthService.ReadyHandler())

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdownables := []server.Shutdownable{
		server.CloseDB(db),
		server.CloseRedis(redis),
	}
	if shutdownTracer != nil {
		shutdownables = append(shutdownables, server.CloseTracer(shutdownTracer))
	}

	graceful := server.New(server.Config{
		Server:          httpServer,
		Logger:          log,
		Shutdownables:   shutdownables,
		ShutdownTimeout: 30 * time.Second,
	})

	if err := graceful.ListenAndServe(); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}

	log.Info("Server exited")
}
