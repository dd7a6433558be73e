package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/models"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Status is "busy" while a run is in flight. The last run is included so a
// probe can alert on failed syncs without an API key.
func Health(runner RunStarter, runs *cache.Runs, schedule string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthResponse{
			Status:   "healthy",
			Uptime:   time.Since(startTime).Round(time.Second).String(),
			Running:  runner.Running(),
			Schedule: schedule,
			Version:  Version,
		}
		if resp.Running {
			resp.Status = "busy"
		}
		if last, ok := runs.Latest(); ok {
			last.Result = nil
			resp.LastRun = last
		}
		c.JSON(http.StatusOK, resp)
	}
}
