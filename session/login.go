package session

import (
	"context"
	"errors"
	"strings"

	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
)

// LoginSelectors locate the sign-in form and the logged-in dashboard.
type LoginSelectors struct {
	Email    string
	Continue string
	Password string
	Submit   string

	// Dashboard matches something only a logged-in report page renders.
	Dashboard string

	// AuthURLFragments identify sign-in and verification pages.
	AuthURLFragments []string
}

// DefaultLoginSelectors targets the Amazon sign-in flow.
func DefaultLoginSelectors() LoginSelectors {
	return LoginSelectors{
		Email:            "#ap_email",
		Continue:         "#continue",
		Password:         "#ap_password",
		Submit:           "#signInSubmit",
		Dashboard:        "#a-autoid-0-announce, #ac-report-commission-commision-total",
		AuthURLFragments: []string{"signin", "ap/signin", "ap/mfa", "ap/cvf"},
	}
}

func (s LoginSelectors) onAuthPage(u string) bool {
	for _, f := range s.AuthURLFragments {
		if strings.Contains(u, f) {
			return true
		}
	}
	return false
}

// EnsureLoggedIn opens the report page and signs in if the dashboard
// redirects to the auth page. Any failure is LOGIN_FAILED except a dead
// session, which is SESSION_CLOSED.
func (m *Manager) EnsureLoggedIn(ctx context.Context, creds config.Credentials) error {
	page := m.Page()
	if page == nil {
		return models.NewSyncError(models.ErrCodeSessionClosed, "not connected", nil)
	}
	log := m.logger.With("step", "login")

	navCtx, cancel := context.WithTimeout(ctx, m.dash.NavigationTimeout)
	err := page.Navigate(navCtx, m.dash.ReportURL)
	cancel()
	if err != nil {
		// A timed-out load still leaves a usable DOM; only a dead session
		// or an outer cancel is final here.
		if browser.IsSessionClosed(err) {
			return m.loginErr(models.ErrCodeSessionClosed, "report page navigation failed", err)
		}
		if ctx.Err() != nil {
			return m.loginErr(models.ErrCodeLogin, "login canceled", ctx.Err())
		}
		log.Warn("report page load incomplete, inspecting page anyway", "error", err)
	}

	u, err := page.URL(ctx)
	if err != nil {
		return m.loginErr(codeFor(err, models.ErrCodeLogin), "failed to read page URL", err)
	}

	if !m.sel.onAuthPage(u) {
		hit, err := browser.WaitForAny(ctx, page, m.dash.ElementTimeout,
			browser.SelectorPresent(m.sel.Dashboard),
			browser.URLContains(m.sel.AuthURLFragments...),
		)
		switch {
		case err == nil && hit == "selector "+m.sel.Dashboard:
			m.markLoggedIn()
			log.Info("already logged in")
			return nil
		case err != nil && !errors.Is(err, browser.ErrWaitTimeout):
			return m.loginErr(codeFor(err, models.ErrCodeLogin), "waiting for dashboard failed", err)
		case errors.Is(err, browser.ErrWaitTimeout):
			formShown, _ := page.Has(ctx, m.sel.Email+", "+m.sel.Password)
			if !formShown {
				log.Warn("dashboard marker not found and no login form shown, assuming logged in")
				m.markLoggedIn()
				return nil
			}
		}
	}

	log.Info("sign-in required")
	if err := m.signIn(ctx, page, creds); err != nil {
		m.SaveDebugScreenshot(ctx, "login-failed")
		return err
	}
	m.markLoggedIn()
	log.Info("login successful")
	return nil
}

// signIn runs the identifier → continue → password → submit sequence and
// waits for the browser to leave the auth pages.
func (m *Manager) signIn(ctx context.Context, page browser.Page, creds config.Credentials) error {
	if creds.Email == "" || creds.Password == "" {
		return m.loginErr(models.ErrCodeLogin, "dashboard credentials are not configured", nil)
	}

	hit, err := browser.WaitForAny(ctx, page, m.dash.ElementTimeout,
		browser.SelectorPresent(m.sel.Email),
		browser.SelectorPresent(m.sel.Password),
	)
	if err != nil {
		return m.loginErr(codeFor(err, models.ErrCodeLogin), "sign-in form not found", err)
	}

	// Remembered devices skip straight to the password step.
	if hit == "selector "+m.sel.Email {
		if err := page.Type(ctx, m.sel.Email, creds.Email, m.dash.TypingDelay); err != nil {
			return m.loginErr(codeFor(err, models.ErrCodeLogin), "failed to enter email", err)
		}
		before, _ := page.URL(ctx)
		if has, _ := page.Has(ctx, m.sel.Continue); has {
			if err := page.Click(ctx, m.sel.Continue); err != nil {
				return m.loginErr(codeFor(err, models.ErrCodeLogin), "failed to submit email", err)
			}
		}
		if _, err := browser.WaitForAny(ctx, page, m.dash.SwitchTimeout,
			browser.SelectorPresent(m.sel.Password),
			browser.URLChangedFrom(before),
		); err != nil && !errors.Is(err, browser.ErrWaitTimeout) {
			return m.loginErr(codeFor(err, models.ErrCodeLogin), "waiting for password step failed", err)
		}
	}

	if err := page.Type(ctx, m.sel.Password, creds.Password, m.dash.TypingDelay); err != nil {
		return m.loginErr(codeFor(err, models.ErrCodeLogin), "password field not available", err)
	}
	if err := page.Click(ctx, m.sel.Submit); err != nil {
		return m.loginErr(codeFor(err, models.ErrCodeLogin), "failed to submit sign-in form", err)
	}

	if _, err := browser.WaitForAny(ctx, page, m.dash.LoginTimeout,
		browser.URLExcludes(m.sel.AuthURLFragments...),
		browser.SelectorPresent(m.sel.Dashboard),
	); err != nil {
		u, _ := page.URL(ctx)
		return m.loginErr(codeFor(err, models.ErrCodeLogin), "still on sign-in page after submit ("+u+")", err)
	}
	return nil
}

func (m *Manager) markLoggedIn() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		m.state = LoggedIn
	}
}

// loginErr demotes the session to Connected (or Disconnected for a dead
// session) and wraps err.
func (m *Manager) loginErr(code, msg string, err error) error {
	if code == models.ErrCodeSessionClosed {
		m.setState(Disconnected)
	} else {
		m.mu.Lock()
		if m.state == LoggedIn {
			m.state = Connected
		}
		m.mu.Unlock()
	}
	return models.NewSyncError(code, msg, err)
}

// codeFor classifies err as SESSION_CLOSED when the session died, else fallback.
func codeFor(err error, fallback string) string {
	if browser.IsSessionClosed(err) {
		return models.ErrCodeSessionClosed
	}
	return fallback
}
