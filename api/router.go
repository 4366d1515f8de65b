package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/skim/api/handler"
	"github.com/use-agent/skim/api/middleware"
	"github.com/use-agent/skim/config"
)

// Service is what the HTTP layer needs from the scrape engine.
type Service interface {
	handler.Scraper
	handler.CacheReporter
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(svc Service, pool handler.PoolReporter, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/v1")

	v1.GET("/health", handler.Health(pool, svc, startTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/scrape", handler.Scrape(svc))

	return r
}
