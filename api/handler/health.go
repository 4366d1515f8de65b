package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/skim/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// PoolReporter exposes browser pool utilisation.
type PoolReporter interface {
	Stats() models.PoolStats
}

// CacheReporter exposes freshness cache counters.
type CacheReporter interface {
	CacheStats(ctx context.Context) models.CacheStats
}

// Health returns a handler for GET /v1/health.
//
// Status degrades when more than 80% of browser sessions are busy.
func Health(pool PoolReporter, cr CacheReporter, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := pool.Stats()

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			PoolStats:  stats,
			CacheStats: cr.CacheStats(c.Request.Context()),
			Version:    Version,
		})
	}
}
