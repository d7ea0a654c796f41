package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noteforge/noteforge/api/swagger"
	"github.com/noteforge/noteforge/internal/authclient"
	"github.com/noteforge/noteforge/internal/handler"
	"github.com/noteforge/noteforge/internal/middleware"
	"github.com/noteforge/noteforge/internal/repository"
	"github.com/noteforge/noteforge/internal/service"
	"github.com/noteforge/noteforge/internal/token"
	"github.com/noteforge/noteforge/pkg/cache"
	"github.com/noteforge/noteforge/pkg/config"
	"github.com/noteforge/noteforge/pkg/database"
	"github.com/noteforge/noteforge/pkg/logger"
	corsmiddleware "github.com/noteforge/noteforge/pkg/middleware/cors"
	reqidmiddleware "github.com/noteforge/noteforge/pkg/middleware/requestid"
)

// @title NoteForge Auth Service
// @version 0.1.0
// @description Authentication authority for the NoteForge platform
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var cacheRepo *repository.CacheRepository
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// The store stays authoritative without Redis; only status reads slow down.
		logr.Sugar().Warnw("redis unavailable, revocation cache disabled", "error", err)
		cacheRepo = repository.NewCacheRepository(nil, logr)
	} else {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close()
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	codec := token.NewCodec(cfg.Auth)
	metrics := service.NewMetricsService()
	authService := service.NewAuthService(userRepo, tokenRepo, cacheRepo, codec, validator.New(), logr, metrics, service.AuthServiceConfig{
		BcryptCost:         cfg.Auth.BcryptCost,
		RevocationCacheTTL: cfg.Auth.RevocationCacheTTL,
	})

	auditService := service.NewAuditService(tokenRepo, logr)
	auditService.Start(context.Background())
	defer auditService.Stop()
	authService.SetAuditRecorder(auditService)

	authHandler := handler.NewAuthHandler(authService)
	revocationHandler := handler.NewRevocationHandler(authService)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	authenticate := middleware.Auth(authclient.NewLocalValidator(cfg.Auth))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	auth := r.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", authenticate, authHandler.Me)
		auth.GET("/sessions", authenticate, authHandler.ListSessions)
		auth.DELETE("/sessions/:id", authenticate, authHandler.RevokeSession)
		auth.GET("/users/:id/sessions", authenticate, middleware.RBAC("ADMIN", "SELF"), authHandler.ListUserSessions)
	}

	// Internal surface, reachable only inside the service network.
	r.GET("/internal/revocation/:id", revocationHandler.Status)

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("auth service starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("auth service failed", "error", err)
	}
}
