package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/affsync/api/handler"
	"github.com/use-agent/affsync/api/middleware"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health is outside auth so monitoring probes always work. ctx bounds runs
// started over the API and the rate limiter's cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, runner handler.RunStarter, runs *cache.Runs, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	schedule := ""
	if cfg.Schedule.Enabled {
		schedule = cfg.Schedule.Cron
	}
	v1.GET("/health", handler.Health(runner, runs, schedule, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	protected.POST("/runs", handler.PostRun(ctx, runner))
	protected.GET("/runs/:id", handler.GetRun(runs))

	return r
}
