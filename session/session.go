// Package session owns the remote browser connection, the single working
// page, and the dashboard login.
//
// State machine:
//
//	Disconnected → Connecting → Connected → LoggedIn
//	     ↑______________________________________|  (any error edge)
//
// Nothing reconnects in the background; callers detect a dead session via
// HealthCheck and call Connect again.
package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	LoggedIn
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case LoggedIn:
		return "logged_in"
	default:
		return "disconnected"
	}
}

// Snapshot is a read-only view of the session.
type Snapshot struct {
	State          State  `json:"-"`
	StateName      string `json:"state"`
	Connected      bool   `json:"connected"`
	LoggedIn       bool   `json:"logged_in"`
	CurrentStoreID string `json:"current_store_id,omitempty"`
	Endpoint       string `json:"-"`
}

// healthTimeout bounds HealthCheck.
const healthTimeout = 5 * time.Second

// Manager is the session manager. All methods are safe for concurrent use,
// but a run drives it from a single goroutine.
type Manager struct {
	dialer    browser.Dialer
	endpoints []string
	memory    *EndpointMemory
	dash      config.DashboardConfig
	sel       LoginSelectors
	logger    *slog.Logger

	mu           sync.Mutex
	state        State
	browser      browser.Browser
	page         browser.Page
	endpoint     string
	currentStore string
}

// Options configures a Manager.
type Options struct {
	Dialer    browser.Dialer
	Endpoints []string
	Memory    *EndpointMemory
	Dashboard config.DashboardConfig
	Selectors *LoginSelectors
	Logger    *slog.Logger
}

// NewManager creates a disconnected Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		dialer:    opts.Dialer,
		endpoints: opts.Endpoints,
		memory:    opts.Memory,
		dash:      opts.Dashboard,
		sel:       DefaultLoginSelectors(),
		logger:    opts.Logger,
	}
	if opts.Selectors != nil {
		m.sel = *opts.Selectors
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Connect tears down any existing connection, then dials the endpoints in
// order until one yields a working page. All endpoints failing is a
// CONNECTION_FAILED error.
func (m *Manager) Connect(ctx context.Context) error {
	m.Disconnect()

	m.mu.Lock()
	m.state = Connecting
	m.mu.Unlock()

	order := m.endpoints
	if m.memory != nil {
		order = m.memory.Order(order)
	}
	if len(order) == 0 {
		m.setState(Disconnected)
		return models.NewSyncError(models.ErrCodeConnection, "no browser endpoints configured", nil)
	}

	var lastErr error
	for i, ep := range order {
		if err := ctx.Err(); err != nil {
			m.setState(Disconnected)
			return models.NewSyncError(models.ErrCodeConnection, "connect canceled", err)
		}

		b, err := m.dialer.Dial(ctx, ep)
		if err != nil {
			lastErr = err
			m.logger.Warn("browser endpoint failed", "attempt", i+1, "of", len(order), "error", err)
			if m.memory != nil {
				m.memory.Forget(ep)
			}
			continue
		}

		page, err := b.NewPage(ctx)
		if err != nil {
			lastErr = err
			m.logger.Warn("browser endpoint connected but page creation failed", "attempt", i+1, "error", err)
			_ = b.Close()
			continue
		}

		m.mu.Lock()
		m.browser = b
		m.page = page
		m.endpoint = ep
		m.state = Connected
		m.mu.Unlock()

		if m.memory != nil {
			m.memory.Remember(ep)
		}
		m.logger.Info("browser connected", "attempt", i+1)
		return nil
	}

	m.setState(Disconnected)
	return models.NewSyncError(models.ErrCodeConnection, "all browser endpoints failed", lastErr)
}

// HealthCheck verifies the browser still answers and the working page is
// alive. A dead session is reported as SESSION_CLOSED; other errors are
// returned as-is.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	b, page := m.browser, m.page
	m.mu.Unlock()

	if b == nil || page == nil {
		return models.NewSyncError(models.ErrCodeSessionClosed, "not connected", nil)
	}

	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	pages, err := b.Pages(hctx)
	if err == nil && len(pages) == 0 {
		err = errors.New("browser has no open pages: target closed")
	}
	if err == nil {
		_, err = page.URL(hctx)
	}
	if err == nil {
		return nil
	}
	if browser.IsSessionClosed(err) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		m.setState(Disconnected)
		return models.NewSyncError(models.ErrCodeSessionClosed, "browser session is gone", err)
	}
	return err
}

// RefreshPage makes sure the working page is still usable. Account switches
// can reload into a new target and leave the old handle stale; only then is
// another open page adopted, preferring the last one that is not blank.
func (m *Manager) RefreshPage(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	b := m.browser
	current := m.page
	m.mu.Unlock()
	if b == nil {
		return nil, models.NewSyncError(models.ErrCodeSessionClosed, "not connected", nil)
	}

	if current != nil {
		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		_, err := current.URL(hctx)
		cancel()
		if err == nil {
			return current, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Debug("working page unusable, looking for another", "error", err)
	}

	pages, err := b.Pages(ctx)
	if err != nil {
		if browser.IsSessionClosed(err) {
			return nil, models.NewSyncError(models.ErrCodeSessionClosed, "failed to list pages", err)
		}
		return nil, err
	}
	page := pickPage(ctx, pages)
	if page == nil {
		return nil, models.NewSyncError(models.ErrCodeSessionClosed, "browser has no open pages", nil)
	}

	m.mu.Lock()
	m.page = page
	m.mu.Unlock()
	return page, nil
}

// pickPage returns the last page that answers and is not about:blank,
// falling back to the last page that answers.
func pickPage(ctx context.Context, pages []browser.Page) browser.Page {
	var fallback browser.Page
	for i := len(pages) - 1; i >= 0; i-- {
		u, err := pages[i].URL(ctx)
		if err != nil {
			continue
		}
		if u != "about:blank" {
			return pages[i]
		}
		if fallback == nil {
			fallback = pages[i]
		}
	}
	return fallback
}

// Page returns the working page, or nil when disconnected.
func (m *Manager) Page() browser.Page {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// SetCurrentStore records the store the dashboard currently shows.
func (m *Manager) SetCurrentStore(storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentStore = storeID
}

// CurrentStore returns the store the dashboard was last seen showing.
func (m *Manager) CurrentStore() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentStore
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:          m.state,
		StateName:      m.state.String(),
		Connected:      m.state == Connected || m.state == LoggedIn,
		LoggedIn:       m.state == LoggedIn,
		CurrentStoreID: m.currentStore,
		Endpoint:       m.endpoint,
	}
}

// Disconnect drops the connection and resets the session state. The remote
// browser itself is left running.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	b := m.browser
	m.browser = nil
	m.page = nil
	m.endpoint = ""
	m.currentStore = ""
	m.state = Disconnected
	m.mu.Unlock()

	if b != nil {
		if err := b.Close(); err != nil {
			m.logger.Debug("browser close failed", "error", err)
		}
	}
}

// Cleanup closes every open page, then disconnects. Errors are logged only.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	b := m.browser
	m.mu.Unlock()

	if b != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthTimeout)
		pages, err := b.Pages(cctx)
		cancel()
		if err == nil {
			for _, p := range pages {
				if err := p.Close(); err != nil {
					m.logger.Debug("page close failed", "error", err)
				}
			}
		}
	}
	m.Disconnect()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

// SaveDebugScreenshot writes the working page to DebugDir when configured.
func (m *Manager) SaveDebugScreenshot(ctx context.Context, name string) {
	if m.dash.DebugDir == "" {
		return
	}
	page := m.Page()
	if page == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthTimeout)
	defer cancel()

	png, err := page.Screenshot(sctx)
	if err != nil {
		m.logger.Debug("debug screenshot failed", "name", name, "error", err)
		return
	}
	path := filepath.Join(m.dash.DebugDir, time.Now().Format("20060102-150405")+"-"+name+".png")
	if err := os.MkdirAll(m.dash.DebugDir, 0o755); err != nil {
		m.logger.Debug("debug dir unavailable", "error", err)
		return
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		m.logger.Debug("debug screenshot write failed", "path", path, "error", err)
		return
	}
	m.logger.Info("debug screenshot saved", "path", path)
}
