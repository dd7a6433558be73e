// Package scrape runs one pass over every configured account and tracking
// ID and collects a metrics row for each.
//
// Failures are isolated: an error while processing one tracking ID skips
// that tracking ID, an error at account level skips the account and drops
// the session so the next account starts from a fresh connection. Only a
// failure to connect or log in before the loop aborts the run. A store or
// tracking ID the dashboard would not confirm is scraped anyway and listed
// in RunResult.Warnings.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/navigator"
)

// Session is the session manager surface the orchestrator drives.
type Session interface {
	Connect(ctx context.Context) error
	EnsureLoggedIn(ctx context.Context, creds config.Credentials) error
	HealthCheck(ctx context.Context) error
	Disconnect()
	Cleanup(ctx context.Context)
	Page() browser.Page
}

// Navigator moves the dashboard to the unit being scraped.
type Navigator interface {
	CurrentAccount(ctx context.Context) (string, error)
	SwitchAccount(ctx context.Context, storeID string) (navigator.Outcome, error)
	SwitchTrackingID(ctx context.Context, trackingID, storeID string) (navigator.Outcome, error)
	GoToReport(ctx context.Context) error
	WaitForDashboard(ctx context.Context) (bool, error)
	SelectReportDate(ctx context.Context, date string) (navigator.Outcome, error)
}

// Extractor reads the report metrics from a page.
type Extractor interface {
	Extract(ctx context.Context, page browser.Page) (models.RawMetrics, error)
}

// Options configures an Orchestrator.
type Options struct {
	Session     Session
	Navigator   Navigator
	Extractor   Extractor
	Credentials config.Credentials
	Scrape      config.ScrapeConfig
	Logger      *slog.Logger

	// Now stamps LastUpdated and Timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs scrape passes. It is not safe for concurrent Runs;
// callers serialise them (see workflow.Runner).
type Orchestrator struct {
	sess   Session
	nav    Navigator
	ext    Extractor
	creds  config.Credentials
	cfg    config.ScrapeConfig
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		sess:   opts.Session,
		nav:    opts.Navigator,
		ext:    opts.Extractor,
		creds:  opts.Credentials,
		cfg:    opts.Scrape,
		logger: opts.Logger,
		now:    opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.cfg.ExtractAttempts <= 0 {
		o.cfg.ExtractAttempts = 3
	}
	return o
}

// Run scrapes every tracking ID of every account for reportDate
// (YYYY-MM-DD). It returns an error only when the session could not be
// established; everything later is recorded in the result.
func (o *Orchestrator) Run(ctx context.Context, accounts []models.AccountConfig, reportDate string) (*models.RunResult, error) {
	if len(accounts) == 0 {
		o.logger.Warn("no accounts to scrape")
		return &models.RunResult{ReportDate: reportDate, Results: []models.ScrapeResult{}, Timestamp: o.now()}, nil
	}
	defer o.sess.Cleanup(ctx)

	if err := o.establish(ctx); err != nil {
		o.logger.Error("session setup failed, aborting run", "error", err)
		return nil, err
	}

	if o.cfg.ReorderToCurrent {
		if label, err := o.nav.CurrentAccount(ctx); err == nil && label != "" {
			accounts = reorder(accounts, label)
			o.logger.Debug("starting with current account", "label", label, "first", accounts[0].StoreID)
		}
	}

	res := &models.RunResult{ReportDate: reportDate, Results: []models.ScrapeResult{}}

	for i, account := range accounts {
		if err := ctx.Err(); err != nil {
			o.abort(res, err)
			break
		}

		if err := o.scrapeAccount(ctx, account, reportDate, res); err != nil {
			if ctx.Err() != nil {
				o.abort(res, ctx.Err())
				break
			}
			o.logger.Error("account failed, skipping", "store_id", account.StoreID, "error", err)
			res.Failures = append(res.Failures, models.Failure{
				Scope:   models.ScopeAccount,
				StoreID: account.StoreID,
				Code:    models.CodeOf(err),
				Message: err.Error(),
			})
			o.sess.Disconnect()
		}

		if i < len(accounts)-1 {
			if err := browser.Sleep(ctx, o.cfg.AccountDelay); err != nil {
				o.abort(res, err)
				break
			}
		}
	}

	res.Count = len(res.Results)
	res.Timestamp = o.now()
	if empty := res.EmptyRows(); empty > 0 {
		o.logger.Warn("run produced rows without data; they were written as zeros", "rows", empty)
	}
	o.logger.Info("scrape finished",
		"results", res.Count,
		"failures", len(res.Failures),
		"partial", res.Partial,
	)
	return res, nil
}

// abort records a run-level interruption.
func (o *Orchestrator) abort(res *models.RunResult, err error) {
	res.Error = models.NewSyncError(models.ErrCodeTimeout, "run interrupted", err).Error()
	res.Partial = len(res.Results) > 0
	o.logger.Error("run interrupted", "error", err, "results", len(res.Results))
}

func (o *Orchestrator) establish(ctx context.Context) error {
	if err := o.sess.Connect(ctx); err != nil {
		return err
	}
	return o.sess.EnsureLoggedIn(ctx, o.creds)
}

func (o *Orchestrator) scrapeAccount(ctx context.Context, account models.AccountConfig, date string, res *models.RunResult) error {
	log := o.logger.With("store_id", account.StoreID)
	log.Info("processing account", "tracking_ids", len(account.TrackingIDs))

	var switched navigator.Outcome
	err := o.withSessionRecovery(ctx, "", func(ctx context.Context) error {
		out, err := o.nav.SwitchAccount(ctx, account.StoreID)
		if err != nil {
			return err
		}
		switched = out
		return o.nav.GoToReport(ctx)
	})
	if err != nil {
		return err
	}
	if !switched.Verified {
		// Keep going on whatever store is showing; the rows are flagged.
		log.Warn("account not confirmed, scraping the active context", "found", switched.Found, "current", switched.Current)
		res.Warnings = append(res.Warnings, models.Failure{
			Scope:   models.ScopeAccount,
			StoreID: account.StoreID,
			Code:    models.ErrCodeMismatch,
			Message: fmt.Sprintf("dashboard shows %q", switched.Current),
		})
	}

	for i, trackingID := range account.TrackingIDs {
		row, filter, err := o.scrapeTracking(ctx, account, trackingID, date)
		if err == nil && !filter.Verified {
			log.Warn("tracking ID not confirmed, row may belong to another tracking ID",
				"tracking_id", trackingID, "current", filter.Current)
			res.Warnings = append(res.Warnings, models.Failure{
				Scope:      models.ScopeTracking,
				StoreID:    account.StoreID,
				TrackingID: trackingID,
				Code:       models.ErrCodeMismatch,
				Message:    fmt.Sprintf("tracking filter shows %q", filter.Current),
			})
		}
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("tracking ID failed, skipping", "tracking_id", trackingID, "error", err)
			res.Failures = append(res.Failures, models.Failure{
				Scope:      models.ScopeTracking,
				StoreID:    account.StoreID,
				TrackingID: trackingID,
				Code:       models.CodeOf(err),
				Message:    err.Error(),
			})
		case row.Empty && o.cfg.DropEmptyRows:
			log.Warn("no data after all attempts, dropping row", "tracking_id", trackingID)
			res.Failures = append(res.Failures, models.Failure{
				Scope:      models.ScopeTracking,
				StoreID:    account.StoreID,
				TrackingID: trackingID,
				Code:       models.ErrCodeExtraction,
				Message:    fmt.Sprintf("no data after %d attempts", o.cfg.ExtractAttempts),
			})
		default:
			if row.Empty {
				log.Warn("no data after all attempts, emitting zero row", "tracking_id", trackingID)
			}
			res.Results = append(res.Results, row)
		}

		if i < len(account.TrackingIDs)-1 {
			if err := browser.Sleep(ctx, o.cfg.TrackingDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// scrapeTracking returns the row and the state of the tracking filter it
// was read under.
func (o *Orchestrator) scrapeTracking(ctx context.Context, account models.AccountConfig, trackingID, date string) (models.ScrapeResult, navigator.Outcome, error) {
	var (
		row    models.ScrapeResult
		filter navigator.Outcome
	)
	err := o.withSessionRecovery(ctx, account.StoreID, func(ctx context.Context) error {
		raw, out, err := o.extractWithRetry(ctx, account, trackingID, date)
		if err != nil {
			return err
		}
		row = BuildResult(raw, account.StoreID, trackingID, date, o.now())
		filter = out
		return nil
	})
	return row, filter, err
}

// prepareReport applies the date and tracking filters and waits for the
// summary to render.
func (o *Orchestrator) prepareReport(ctx context.Context, account models.AccountConfig, trackingID, date string) (navigator.Outcome, error) {
	if o.cfg.SelectDate {
		if _, err := o.nav.SelectReportDate(ctx, date); err != nil {
			return navigator.Outcome{}, err
		}
	}
	filter := navigator.Outcome{Found: true, Verified: true, Current: trackingID}
	if navigator.NeedsTrackingSwitch(account, trackingID) {
		out, err := o.nav.SwitchTrackingID(ctx, trackingID, account.StoreID)
		if err != nil {
			return navigator.Outcome{}, err
		}
		filter = out
	}
	_, err := o.nav.WaitForDashboard(ctx)
	return filter, err
}

// extractWithRetry extracts until the headline metrics show up, reloading
// the report between attempts. When every attempt comes back blank or with an
// extraction error, blank metrics are returned without error.
func (o *Orchestrator) extractWithRetry(ctx context.Context, account models.AccountConfig, trackingID, date string) (models.RawMetrics, navigator.Outcome, error) {
	log := o.logger.With("store_id", account.StoreID, "tracking_id", trackingID)

	var (
		raw     models.RawMetrics
		filter  navigator.Outcome
		lastErr error
	)
	for attempt := 1; attempt <= o.cfg.ExtractAttempts; attempt++ {
		if attempt > 1 {
			if err := o.nav.GoToReport(ctx); err != nil {
				return models.RawMetrics{}, filter, err
			}
		}
		out, err := o.prepareReport(ctx, account, trackingID, date)
		if err != nil {
			return models.RawMetrics{}, filter, err
		}
		filter = out

		page := o.sess.Page()
		if page == nil {
			return models.RawMetrics{}, filter, models.NewSyncError(models.ErrCodeSessionClosed, "no working page", nil)
		}

		raw, err = o.ext.Extract(ctx, page)
		if err != nil {
			if sessionClosed(err) || ctx.Err() != nil {
				return models.RawMetrics{}, filter, err
			}
			lastErr = err
			log.Warn("extraction failed", "attempt", attempt, "error", err)
			continue
		}
		if raw.HasData() {
			log.Info("metrics extracted", "attempt", attempt, "revenue", raw.Revenue, "clicks", raw.Clicks)
			return raw, filter, nil
		}
		lastErr = nil
		log.Warn("metrics blank", "attempt", attempt)
	}
	if lastErr != nil {
		log.Warn("extraction failed on the last attempt, using blank metrics", "error", lastErr)
	}
	return models.RawMetrics{}, filter, nil
}

// withSessionRecovery runs op after making sure the session is alive. If op
// fails because the session died, the session is rebuilt (reconnect, login,
// and, when storeID is set, re-selecting the store and reloading the
// report) and op runs once more.
func (o *Orchestrator) withSessionRecovery(ctx context.Context, storeID string, op func(context.Context) error) error {
	if err := o.sess.HealthCheck(ctx); err != nil {
		o.logger.Warn("session unhealthy, reconnecting", "store_id", storeID, "error", err)
		if err := o.rebuild(ctx, storeID); err != nil {
			return err
		}
	}

	err := op(ctx)
	if err == nil || !sessionClosed(err) || ctx.Err() != nil {
		return err
	}

	o.logger.Warn("session dropped mid-operation, reconnecting", "store_id", storeID, "error", err)
	if err := o.rebuild(ctx, storeID); err != nil {
		return err
	}
	return op(ctx)
}

func (o *Orchestrator) rebuild(ctx context.Context, storeID string) error {
	o.sess.Disconnect()
	if err := o.establish(ctx); err != nil {
		return err
	}
	if storeID == "" {
		return nil
	}
	out, err := o.nav.SwitchAccount(ctx, storeID)
	if err != nil {
		return err
	}
	if !out.Verified {
		o.logger.Warn("account not confirmed after reconnect", "store_id", storeID, "current", out.Current)
	}
	return o.nav.GoToReport(ctx)
}

func sessionClosed(err error) bool {
	return models.HasCode(err, models.ErrCodeSessionClosed) ||
		(!errors.Is(err, context.Canceled) && browser.IsSessionClosed(err))
}
