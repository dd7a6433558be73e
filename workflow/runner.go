// Package workflow runs the scrape, write and notify stages as one unit and
// makes sure only one run is in flight at a time.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/notify"
	"github.com/use-agent/affsync/parser"
	"github.com/use-agent/affsync/sheets"
)

// Run triggers.
const (
	TriggerCLI      = "cli"
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still going.
var ErrRunInProgress = models.NewSyncError(models.ErrCodeRunInProgress, "a run is already in progress", nil)

// notifyTimeout bounds the notification stage. Notifications still go out
// when the run context has been cancelled.
const notifyTimeout = 2 * time.Minute

// Scraper produces the rows for one report date.
type Scraper interface {
	Run(ctx context.Context, accounts []models.AccountConfig, reportDate string) (*models.RunResult, error)
}

// Writer stores rows in the spreadsheet.
type Writer interface {
	WriteAll(ctx context.Context, results []models.ScrapeResult) models.WriteSummary
}

// Options configures a Runner.
type Options struct {
	Scraper   Scraper
	Writer    Writer
	Notifiers []notify.Notifier
	Accounts  []models.AccountConfig

	// Runs records run state for the API. Optional.
	Runs *cache.Runs

	// RunTimeout bounds the scrape stage. Zero means no limit.
	RunTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner executes runs one at a time.
type Runner struct {
	scraper   Scraper
	writer    Writer
	notifiers []notify.Notifier
	accounts  []models.AccountConfig
	runs      *cache.Runs
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	running atomic.Bool
}

// New creates a Runner.
func New(opts Options) *Runner {
	r := &Runner{
		scraper:   opts.Scraper,
		writer:    opts.Writer,
		notifiers: opts.Notifiers,
		accounts:  opts.Accounts,
		runs:      opts.Runs,
		timeout:   opts.RunTimeout,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Start validates req and launches the run in the background. ctx bounds the
// run, not the call. The returned response is the run's initial state.
func (r *Runner) Start(ctx context.Context, req models.RunRequest, trigger string) (*models.RunResponse, error) {
	run, accounts, err := r.prepare(req, trigger)
	if err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	r.record(run)

	initial := *run
	go func() {
		defer r.running.Store(false)
		r.execute(ctx, run, accounts)
	}()
	return &initial, nil
}

// Run executes a run and waits for it. The response is returned even when
// the run failed; err is then the run-level error.
func (r *Runner) Run(ctx context.Context, req models.RunRequest, trigger string) (*models.RunResponse, error) {
	run, accounts, err := r.prepare(req, trigger)
	if err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)
	r.record(run)

	return run, r.execute(ctx, run, accounts)
}

// Scrape runs only the scrape stage.
func (r *Runner) Scrape(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	run, accounts, err := r.prepare(req, TriggerCLI)
	if err != nil {
		return nil, err
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer r.running.Store(false)

	return r.scrape(ctx, run.ID, accounts, run.ReportDate)
}

// Write runs only the write stage. With dryRun the rows go to an in-memory
// sheet and the summary reports what would have been written.
func (r *Runner) Write(ctx context.Context, results []models.ScrapeResult, dryRun bool) models.WriteSummary {
	if len(results) == 0 {
		return models.WriteSummary{Skipped: true}
	}
	if dryRun {
		sum := sheets.NewWriter(sheets.NewMemoryStore(), r.logger).WriteAll(ctx, results)
		sum.DryRun = true
		return sum
	}
	if r.writer == nil {
		return models.WriteSummary{
			Skipped: true,
			Errors:  []string{"no spreadsheet configured"},
		}
	}
	return r.writer.WriteAll(ctx, results)
}

func (r *Runner) prepare(req models.RunRequest, trigger string) (*models.RunResponse, []models.AccountConfig, error) {
	req.Defaults()
	date, err := parser.ResolveReportDate(req.Date, r.now())
	if err != nil {
		return nil, nil, err
	}
	accounts, err := config.SelectAccounts(r.accounts, req.StoreID)
	if err != nil {
		return nil, nil, err
	}
	run := &models.RunResponse{
		ID:         uuid.NewString(),
		Status:     models.RunStatusRunning,
		Trigger:    trigger,
		Request:    req,
		ReportDate: date,
		StartedAt:  r.now(),
	}
	return run, accounts, nil
}

func (r *Runner) scrape(ctx context.Context, runID string, accounts []models.AccountConfig, date string) (*models.RunResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.scraper.Run(ctx, accounts, date)
	if res != nil {
		res.RunID = runID
		res.ReportDate = date
	}
	return res, err
}

// execute runs the three stages and records the final state in run.
func (r *Runner) execute(ctx context.Context, run *models.RunResponse, accounts []models.AccountConfig) error {
	log := r.logger.With("run_id", run.ID, "trigger", run.Trigger)
	log.Info("run started",
		"report_date", run.ReportDate,
		"accounts", len(accounts),
		"dry_run", run.Request.DryRun,
	)

	res, err := r.scrape(ctx, run.ID, accounts, run.ReportDate)
	if err != nil {
		run.Status = models.RunStatusFailed
		run.Error = errorDetail(err)
		log.Error("run failed", "error", err)
	} else {
		run.Result = res
		sum := r.Write(context.WithoutCancel(ctx), res.Results, run.Request.DryRun)
		run.Write = &sum

		run.Status = models.RunStatusCompleted
		if res.Error != "" {
			run.Status = models.RunStatusFailed
			run.Error = &models.ErrorDetail{Code: models.ErrCodeTimeout, Message: res.Error}
		}
		log.Info("run finished",
			"status", run.Status,
			"rows", res.Count,
			"failures", len(res.Failures),
			"warnings", len(res.Warnings),
			"saved", sum.Saved,
			"write_errors", len(sum.Errors),
		)
	}

	finished := r.now()
	run.FinishedAt = &finished
	r.record(run)
	r.notify(ctx, run, err)
	return err
}

func (r *Runner) notify(ctx context.Context, run *models.RunResponse, runErr error) {
	if len(r.notifiers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	report := notify.Report{
		RunID:      run.ID,
		Trigger:    run.Trigger,
		Status:     run.Status,
		ReportDate: run.ReportDate,
		StartedAt:  run.StartedAt,
		FinishedAt: *run.FinishedAt,
		Result:     run.Result,
		Write:      run.Write,
		Err:        runErr,
	}
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, report); err != nil {
			r.logger.Warn("notification failed", "run_id", run.ID, "notifier", n.Name(), "error", err)
		}
	}
}

func (r *Runner) record(run *models.RunResponse) {
	if r.runs != nil {
		r.runs.Put(run)
	}
}

func errorDetail(err error) *models.ErrorDetail {
	var se *models.SyncError
	if errors.As(err, &se) {
		return se.ToDetail()
	}
	return &models.ErrorDetail{Code: models.ErrCodeInternal, Message: err.Error()}
}
