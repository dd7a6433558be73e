package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/workflow"
)

type fakeRunner struct {
	running bool
	err     error
	got     []models.RunRequest
	runs    *cache.Runs
}

func (f *fakeRunner) Start(_ context.Context, req models.RunRequest, trigger string) (*models.RunResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.got = append(f.got, req)
	run := &models.RunResponse{
		ID:        "run-" + trigger,
		Status:    models.RunStatusRunning,
		Trigger:   trigger,
		Request:   req,
		StartedAt: time.Now(),
	}
	f.runs.Put(run)
	return run, nil
}

func (f *fakeRunner) Running() bool { return f.running }

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: "test"},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"k1"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Schedule:  config.ScheduleConfig{Enabled: true, Cron: "0 6 * * *"},
	}
}

func setup(t *testing.T, cfg *config.Config) (http.Handler, *fakeRunner, *cache.Runs) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	runs := cache.New(10, time.Hour)
	t.Cleanup(runs.Stop)
	runner := &fakeRunner{runs: runs}
	return NewRouter(ctx, cfg, runner, runs, time.Now()), runner, runs
}

func do(h http.Handler, method, path, body, key string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *models.ErrorDetail {
	t.Helper()
	var body models.APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestHealthNeedsNoKey(t *testing.T) {
	h, runner, runs := setup(t, testConfig())
	runs.Put(&models.RunResponse{ID: "r1", Status: models.RunStatusFailed, StartedAt: time.Now(),
		Result: &models.RunResult{Count: 3}})
	runner.running = true

	w := do(h, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "busy", resp.Status)
	assert.True(t, resp.Running)
	assert.Equal(t, "0 6 * * *", resp.Schedule)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "r1", resp.LastRun.ID)
	assert.Nil(t, resp.LastRun.Result)
}

func TestAuth(t *testing.T) {
	h, _, _ := setup(t, testConfig())

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"ok", "k1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(h, http.MethodGet, "/api/v1/runs/unknown", "", tt.key)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, models.ErrCodeUnauthorized, decodeError(t, w).Code)
			}
		})
	}
}

func TestAuthXAPIKeyHeader(t *testing.T) {
	h, _, _ := setup(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/latest", nil)
	req.Header.Set("X-API-Key", "k1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = false
	h, _, _ := setup(t, cfg)
	w := do(h, http.MethodPost, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestPostRunAccepted(t *testing.T) {
	h, runner, _ := setup(t, testConfig())

	w := do(h, http.MethodPost, "/api/v1/runs", `{"date":"2025-03-14","store_id":"a-20","dry_run":true}`, "k1")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/api/v1/runs/run-api", w.Header().Get("Location"))

	var run models.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Equal(t, workflow.TriggerAPI, run.Trigger)

	require.Len(t, runner.got, 1)
	assert.Equal(t, models.RunRequest{Date: "2025-03-14", StoreID: "a-20", DryRun: true}, runner.got[0])

	w = do(h, http.MethodGet, "/api/v1/runs/run-api", "", "k1")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(h, http.MethodGet, "/api/v1/runs/latest", "", "k1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "run-api", run.ID)
}

func TestPostRunEmptyBody(t *testing.T) {
	h, runner, _ := setup(t, testConfig())
	w := do(h, http.MethodPost, "/api/v1/runs", "", "k1")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, models.RunRequest{}, runner.got[0])
}

func TestPostRunErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"busy", "", workflow.ErrRunInProgress, http.StatusConflict, models.ErrCodeRunInProgress},
		{"bad input", "", models.NewSyncError(models.ErrCodeInvalidInput, "unknown store", nil), http.StatusBadRequest, models.ErrCodeInvalidInput},
		{"bad json", `{"date":`, nil, http.StatusBadRequest, models.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, runner, _ := setup(t, testConfig())
			runner.err = tt.err
			w := do(h, http.MethodPost, "/api/v1/runs", tt.body, "k1")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w).Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}
	h, _, _ := setup(t, cfg)

	for i := 0; i < 2; i++ {
		w := do(h, http.MethodGet, "/api/v1/runs/latest", "", "k1")
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
	w := do(h, http.MethodGet, "/api/v1/runs/latest", "", "k1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, models.ErrCodeRateLimited, decodeError(t, w).Code)

	// Health is not rate limited.
	w = do(h, http.MethodGet, "/api/v1/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
