// Package navigator moves the dashboard between stores, tracking IDs and
// report dates. Control misses (option not listed, selection did not
// stick) are soft failures: they are logged and reported in Outcome, and
// only transport errors are returned.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/extract"
	"github.com/use-agent/affsync/models"
)

var (
	// pickerSettle is the pause after opening a picker before reading it.
	pickerSettle = time.Second
	// trackingSettle is the pause for the report to re-filter.
	trackingSettle = 2500 * time.Millisecond
	// navBackoff is multiplied by the attempt number between report reloads.
	navBackoff = 2 * time.Second
)

// Session is the part of the session manager the navigator needs.
type Session interface {
	Page() browser.Page
	RefreshPage(ctx context.Context) (browser.Page, error)
	SetCurrentStore(storeID string)
	SaveDebugScreenshot(ctx context.Context, name string)
}

// Outcome describes how a switch went.
type Outcome struct {
	// Found is false when the target was not offered by the control.
	Found bool
	// Changed is true when a click was needed.
	Changed bool
	// Verified is true when the control shows the target afterwards.
	Verified bool
	// Current is what the control showed last.
	Current string
}

// Options configures a Navigator.
type Options struct {
	Session           Session
	Dashboard         config.DashboardConfig
	DashboardAttempts int
	NavAttempts       int
	Selectors         *Selectors
	Logger            *slog.Logger
}

// Navigator drives the store picker, tracking ID dropdown and report page.
type Navigator struct {
	sess              Session
	dash              config.DashboardConfig
	sel               Selectors
	dashboardAttempts int
	navAttempts       int
	logger            *slog.Logger
}

// New creates a Navigator.
func New(opts Options) *Navigator {
	n := &Navigator{
		sess:              opts.Session,
		dash:              opts.Dashboard,
		sel:               DefaultSelectors(),
		dashboardAttempts: opts.DashboardAttempts,
		navAttempts:       opts.NavAttempts,
		logger:            opts.Logger,
	}
	if opts.Selectors != nil {
		n.sel = *opts.Selectors
	}
	if n.dashboardAttempts <= 0 {
		n.dashboardAttempts = 3
	}
	if n.navAttempts <= 0 {
		n.navAttempts = 3
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

func (n *Navigator) page() (browser.Page, error) {
	p := n.sess.Page()
	if p == nil {
		return nil, models.NewSyncError(models.ErrCodeSessionClosed, "no working page", nil)
	}
	return p, nil
}

// CurrentAccount returns the store label the dashboard shows, or "" when
// the label did not render in time.
func (n *Navigator) CurrentAccount(ctx context.Context) (string, error) {
	page, err := n.page()
	if err != nil {
		return "", err
	}
	if _, err := browser.WaitForAny(ctx, page, n.dash.ElementTimeout, browser.SelectorPresent(n.sel.AccountLabel)); err != nil {
		if errors.Is(err, browser.ErrWaitTimeout) {
			return "", nil
		}
		return "", transportErr(err, "waiting for account label")
	}
	text, err := page.Text(ctx, n.sel.AccountLabel)
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return "", nil
		}
		return "", transportErr(err, "reading account label")
	}
	return text, nil
}

// SwitchAccount selects storeID in the store picker. It is a no-op when the
// dashboard already shows storeID.
func (n *Navigator) SwitchAccount(ctx context.Context, storeID string) (Outcome, error) {
	log := n.logger.With("store_id", storeID)

	current, err := n.CurrentAccount(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if current != "" && strings.Contains(current, storeID) {
		n.sess.SetCurrentStore(storeID)
		log.Debug("already on account", "current", current)
		return Outcome{Found: true, Verified: true, Current: current}, nil
	}

	page, err := n.page()
	if err != nil {
		return Outcome{}, err
	}
	log.Info("switching account", "from", current)

	if err := page.Click(ctx, n.sel.AccountTrigger); err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			log.Warn("store picker not found, staying on current account", "current", current)
			n.sess.SaveDebugScreenshot(ctx, "picker-missing-"+storeID)
			return Outcome{Current: current}, nil
		}
		return Outcome{}, transportErr(err, "opening store picker")
	}
	if err := browser.Sleep(ctx, pickerSettle); err != nil {
		return Outcome{}, err
	}

	option := ""
	for i := 1; i <= n.sel.StoreOptionCount; i++ {
		sel := fmt.Sprintf(n.sel.StoreOption, i)
		text, err := page.Text(ctx, sel)
		if err != nil {
			if errors.Is(err, browser.ErrNotFound) {
				continue
			}
			return Outcome{}, transportErr(err, "reading store picker")
		}
		if strings.Contains(text, storeID) {
			option = sel
			break
		}
	}
	if option == "" {
		log.Warn("store not offered by picker, staying on current account", "current", current)
		n.sess.SaveDebugScreenshot(ctx, "store-not-found-"+storeID)
		// Close the picker so it does not cover the report.
		_ = page.Click(ctx, n.sel.AccountTrigger)
		return Outcome{Current: current}, nil
	}

	before, _ := page.URL(ctx)
	if err := page.Click(ctx, option); err != nil {
		return Outcome{}, transportErr(err, "selecting store")
	}

	// The picker reloads the report; it may or may not navigate.
	hit, err := browser.WaitForAny(ctx, page, n.dash.SettleDelay, browser.URLChangedFrom(before))
	if err != nil && !errors.Is(err, browser.ErrWaitTimeout) {
		return Outcome{}, transportErr(err, "waiting for account reload")
	}
	if hit != "" {
		if _, err := browser.WaitForAny(ctx, page, n.dash.SwitchTimeout, browser.SelectorPresent(n.sel.AccountLabel)); err != nil &&
			!errors.Is(err, browser.ErrWaitTimeout) {
			return Outcome{}, transportErr(err, "waiting for reloaded dashboard")
		}
	}

	if _, err := n.sess.RefreshPage(ctx); err != nil {
		return Outcome{}, transportErr(err, "re-acquiring page after account switch")
	}

	after, err := n.CurrentAccount(ctx)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Found: true, Changed: true, Current: after}
	if strings.Contains(after, storeID) {
		out.Verified = true
		n.sess.SetCurrentStore(storeID)
		log.Info("account switched", "current", after)
	} else {
		n.sess.SetCurrentStore("")
		log.Warn("account switch not confirmed by label", "current", after)
	}
	return out, nil
}

// NeedsTrackingSwitch reports whether trackingID has to be picked
// explicitly: the store has several tracking IDs, or its only one differs
// from the store ID.
func NeedsTrackingSwitch(account models.AccountConfig, trackingID string) bool {
	return len(account.TrackingIDs) > 1 || trackingID != account.StoreID
}

// SwitchTrackingID filters the report to trackingID.
func (n *Navigator) SwitchTrackingID(ctx context.Context, trackingID, storeID string) (Outcome, error) {
	log := n.logger.With("store_id", storeID, "tracking_id", trackingID)

	page, err := n.page()
	if err != nil {
		return Outcome{}, err
	}

	current, err := n.readTracking(ctx, page)
	if err != nil {
		return Outcome{}, err
	}
	if current == trackingID {
		return Outcome{Found: true, Verified: true, Current: current}, nil
	}

	opened := false
	for _, trigger := range n.sel.TrackingTriggers {
		err := page.Click(ctx, trigger)
		if err == nil {
			opened = true
			break
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return Outcome{}, transportErr(err, "opening tracking ID dropdown")
		}
	}
	if !opened {
		log.Warn("tracking ID dropdown not found, report stays on current selection", "current", current)
		return Outcome{Current: current}, nil
	}

	if _, err := browser.WaitForAny(ctx, page, n.dash.ElementTimeout, browser.SelectorPresent(n.sel.TrackingPopover)); err != nil {
		if errors.Is(err, browser.ErrWaitTimeout) {
			log.Warn("tracking ID dropdown did not open", "current", current)
			return Outcome{Current: current}, nil
		}
		return Outcome{}, transportErr(err, "waiting for tracking ID dropdown")
	}

	clicked, err := extract.ClickOptionByText(ctx, page, n.sel.TrackingOptions, trackingID)
	if err != nil {
		return Outcome{}, transportErr(err, "selecting tracking ID")
	}
	if !clicked {
		log.Warn("tracking ID not offered by dropdown", "current", current)
		n.sess.SaveDebugScreenshot(ctx, "tracking-not-found-"+trackingID)
		return Outcome{Current: current}, nil
	}
	if err := browser.Sleep(ctx, trackingSettle); err != nil {
		return Outcome{}, err
	}

	after, err := n.readTracking(ctx, page)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Found: true, Changed: true, Current: after}
	if strings.Contains(after, trackingID) {
		out.Verified = true
		log.Info("tracking ID selected")
	} else {
		log.Warn("tracking ID selection not confirmed", "current", after)
	}
	return out, nil
}

func (n *Navigator) readTracking(ctx context.Context, page browser.Page) (string, error) {
	text, err := page.Text(ctx, n.sel.TrackingCurrent)
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			return "", nil
		}
		return "", transportErr(err, "reading tracking ID selection")
	}
	return text, nil
}

// GoToReport (re)loads the report page, retrying with a growing pause.
// A dead session is returned immediately as SESSION_CLOSED.
func (n *Navigator) GoToReport(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= n.navAttempts; attempt++ {
		page, err := n.page()
		if err != nil {
			return err
		}
		navCtx, cancel := context.WithTimeout(ctx, n.dash.NavigationTimeout)
		err = page.Navigate(navCtx, n.dash.ReportURL)
		cancel()
		if err == nil {
			return nil
		}
		if browser.IsSessionClosed(err) {
			return models.NewSyncError(models.ErrCodeSessionClosed, "report navigation failed", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		n.logger.Warn("report navigation failed", "attempt", attempt, "error", err)
		if attempt < n.navAttempts {
			if err := browser.Sleep(ctx, time.Duration(attempt)*navBackoff); err != nil {
				return err
			}
		}
	}
	return models.NewSyncError(models.ErrCodeNavigation, "report page did not load", lastErr)
}

// WaitForDashboard waits for the report summary to render. It returns
// false, nil when it never did; extraction may still find partial data.
func (n *Navigator) WaitForDashboard(ctx context.Context) (bool, error) {
	page, err := n.page()
	if err != nil {
		return false, err
	}
	for attempt := 1; attempt <= n.dashboardAttempts; attempt++ {
		_, err := browser.WaitForAny(ctx, page, n.dash.ElementTimeout, browser.SelectorPresent(n.sel.DashboardMarker))
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, browser.ErrWaitTimeout) {
			return false, transportErr(err, "waiting for dashboard")
		}
		n.logger.Debug("dashboard not rendered yet", "attempt", attempt)
	}
	n.logger.Warn("dashboard marker never appeared", "attempts", n.dashboardAttempts)
	return false, nil
}

// SelectReportDate types date (YYYY-MM-DD) into the report's date field and
// applies it. When no date control is found the report keeps its default
// range and Outcome.Found is false.
func (n *Navigator) SelectReportDate(ctx context.Context, date string) (Outcome, error) {
	page, err := n.page()
	if err != nil {
		return Outcome{}, err
	}
	log := n.logger.With("report_date", date)

	input := ""
	for _, sel := range n.sel.DateInputs {
		has, err := page.Has(ctx, sel)
		if err != nil {
			return Outcome{}, transportErr(err, "looking for date field")
		}
		if has {
			input = sel
			break
		}
	}
	if input == "" {
		log.Warn("date field not found, report keeps its default range; rows are still stamped with the report date")
		return Outcome{}, nil
	}

	if err := page.Type(ctx, input, date, n.dash.TypingDelay); err != nil {
		if browser.IsSessionClosed(err) {
			return Outcome{}, transportErr(err, "typing report date")
		}
		log.Warn("could not type report date", "error", err)
		return Outcome{}, nil
	}

	for _, sel := range n.sel.DateApply {
		err := page.Click(ctx, sel)
		if err == nil {
			if err := browser.Sleep(ctx, n.dash.SettleDelay); err != nil {
				return Outcome{}, err
			}
			log.Info("report date applied")
			return Outcome{Found: true, Changed: true, Verified: true, Current: date}, nil
		}
		if !errors.Is(err, browser.ErrNotFound) {
			return Outcome{}, transportErr(err, "applying report date")
		}
	}
	log.Warn("date apply button not found, report keeps its default range")
	return Outcome{Found: true, Current: date}, nil
}

// transportErr classifies an unexpected browser error.
func transportErr(err error, action string) error {
	var se *models.SyncError
	if errors.As(err, &se) {
		return err
	}
	switch {
	case browser.IsSessionClosed(err):
		return models.NewSyncError(models.ErrCodeSessionClosed, action, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return models.NewSyncError(models.ErrCodeTimeout, action, err)
	default:
		return models.NewSyncError(models.ErrCodeNavigation, action, err)
	}
}
