package models

import "time"

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WriteSummary reports the outcome of the spreadsheet stage.
type WriteSummary struct {
	Saved    int  `json:"saved"`
	Updated  int  `json:"updated"`
	Appended int  `json:"appended"`
	Skipped  bool `json:"skipped,omitempty"`

	// DryRun marks counts produced against an in-memory sheet.
	DryRun bool     `json:"dry_run,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// RunResponse is the state of one run as exposed by the API.
type RunResponse struct {
	ID         string        `json:"id"`
	Status     string        `json:"status"`
	Trigger    string        `json:"trigger"`
	Request    RunRequest    `json:"request"`
	ReportDate string        `json:"report_date"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Result     *RunResult    `json:"result,omitempty"`
	Write      *WriteSummary `json:"write,omitempty"`
	Error      *ErrorDetail  `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status   string       `json:"status"` // "healthy" or "busy"
	Uptime   string       `json:"uptime"`
	Running  bool         `json:"running"`
	LastRun  *RunResponse `json:"last_run,omitempty"`
	Schedule string       `json:"schedule,omitempty"`
	Version  string       `json:"version"`
}

// APIError is the body of every non-2xx API response.
type APIError struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
