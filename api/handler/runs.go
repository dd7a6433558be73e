package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/affsync/api/middleware"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/workflow"
)

// RunStarter starts background runs.
type RunStarter interface {
	Start(ctx context.Context, req models.RunRequest, trigger string) (*models.RunResponse, error)
	Running() bool
}

// PostRun returns a handler for POST /api/v1/runs. The run is bound to ctx,
// not to the request, so it outlives the 202 response.
func PostRun(ctx context.Context, runner RunStarter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			middleware.Abort(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "invalid request body: "+err.Error())
			return
		}

		run, err := runner.Start(ctx, req, workflow.TriggerAPI)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusInternalServerError {
				slog.Error("failed to start run", "error", err)
			}
			var se *models.SyncError
			if errors.As(err, &se) {
				middleware.Abort(c, status, se.Code, se.Message)
				return
			}
			middleware.Abort(c, status, models.ErrCodeInternal, err.Error())
			return
		}

		c.Header("Location", "/api/v1/runs/"+run.ID)
		c.JSON(http.StatusAccepted, run)
	}
}

// GetRun returns a handler for GET /api/v1/runs/:id. The id "latest" names
// the most recently started run.
func GetRun(runs *cache.Runs) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var (
			run *models.RunResponse
			ok  bool
		)
		if id == "latest" {
			run, ok = runs.Latest()
		} else {
			run, ok = runs.Get(id)
		}
		if !ok {
			middleware.Abort(c, http.StatusNotFound, models.ErrCodeNotFound, "run not found or expired")
			return
		}
		c.JSON(http.StatusOK, run)
	}
}

func statusFor(err error) int {
	switch models.CodeOf(err) {
	case models.ErrCodeRunInProgress:
		return http.StatusConflict
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
