package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noteforge/noteforge/internal/authclient"
	"github.com/noteforge/noteforge/internal/gateway"
	"github.com/noteforge/noteforge/pkg/config"
	"github.com/noteforge/noteforge/pkg/logger"
	corsmiddleware "github.com/noteforge/noteforge/pkg/middleware/cors"
	reqidmiddleware "github.com/noteforge/noteforge/pkg/middleware/requestid"
)

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

	proxy, err := gateway.New(cfg.Gateway, authclient.NewLocalValidator(cfg.Auth), logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to build gateway route table", "error", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Everything else belongs to the route table.
	r.NoRoute(proxy.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("gateway starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("gateway failed", "error", err)
	}
}
