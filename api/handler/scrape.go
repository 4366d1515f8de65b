package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/skim/models"
)

// Scraper runs a single scrape end to end.
type Scraper interface {
	Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error)
}

// Scrape returns a handler for POST /v1/scrape.
//
// Defaults, validation, caching and billing all live behind sc; the handler
// only decodes the body and maps errors onto status codes.
func Scrape(sc Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, models.NewScrapeError(models.KindInvalidRequest, err.Error(), err))
			return
		}

		result, err := sc.Scrape(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// respondError writes the failure envelope with the status matching the
// error kind.
func respondError(c *gin.Context, err error) {
	se := models.AsScrapeError(err)
	if se.Kind == models.KindInternalFailure {
		slog.Error("scrape failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(se.HTTPStatus(), models.ScrapeResult{
		Success: false,
		Error:   se.ToDetail(),
	})
}
