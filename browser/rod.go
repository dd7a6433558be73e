package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/ysmood/gson"
)

// LocalEndpoint makes RodDialer launch a local Chromium instead of
// connecting to a remote service.
const LocalEndpoint = "local"

// RodDialer dials CDP endpoints with go-rod.
type RodDialer struct {
	cfg config.BrowserConfig
}

// NewRodDialer creates a dialer using cfg for page setup.
func NewRodDialer(cfg config.BrowserConfig) *RodDialer {
	return &RodDialer{cfg: cfg}
}

// Dial connects to endpoint. The returned Browser is bound to ctx, so
// cancelling ctx tears the connection down.
func (d *RodDialer) Dial(ctx context.Context, endpoint string) (Browser, error) {
	controlURL := endpoint
	if endpoint == LocalEndpoint {
		u, err := d.launch()
		if err != nil {
			return nil, models.NewSyncError(models.ErrCodeConnection, "failed to launch local browser", err)
		}
		controlURL = u
	}

	// Held so Close can drop a remote connection on its own.
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		return nil, models.NewSyncError(models.ErrCodeConnection, "failed to connect to "+redact(endpoint), err)
	}
	b := rod.New().Client(cdp.New().Start(ws)).Context(ctx)
	if err := b.Connect(); err != nil {
		_ = ws.Close()
		return nil, models.NewSyncError(models.ErrCodeConnection, "failed to connect to "+redact(endpoint), err)
	}
	return &rodBrowser{b: b, conn: ws, local: endpoint == LocalEndpoint, cfg: d.cfg}, nil
}

// launch starts a local Chromium with the automation markers removed.
func (d *RodDialer) launch() (string, error) {
	l := launcher.New().Headless(true)
	if d.cfg.BrowserBin != "" {
		l = l.Bin(d.cfg.BrowserBin)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	u, err := l.Launch()
	if err != nil {
		return "", err
	}
	slog.Info("local browser launched", "controlURL", u)
	return u, nil
}

// redact hides the token query parameter of an endpoint in logs and errors.
func redact(endpoint string) string {
	if i := strings.Index(endpoint, "token="); i >= 0 {
		return endpoint[:i] + "token=***"
	}
	return endpoint
}

type rodBrowser struct {
	b     *rod.Browser
	conn  io.Closer
	local bool
	cfg   config.BrowserConfig
}

func (rb *rodBrowser) Pages(ctx context.Context) ([]Page, error) {
	pages, err := rb.b.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		out = append(out, &rodPage{page: p})
	}
	return out, nil
}

// NewPage opens a tab with stealth evasions, viewport and resource
// blocking installed before the first navigation.
func (rb *rodBrowser) NewPage(ctx context.Context) (Page, error) {
	page, err := rb.b.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}

	if rb.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	if rb.cfg.ViewportWidth > 0 && rb.cfg.ViewportHeight > 0 {
		if vpErr := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             rb.cfg.ViewportWidth,
			Height:            rb.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		}); vpErr != nil {
			slog.Warn("failed to set viewport", "error", vpErr)
		}
	}

	rp := &rodPage{page: page}
	rp.router = setupHijack(page, rb.cfg.BlockedResourceTypes)
	return rp, nil
}

// Close shuts down a browser this process launched. For remote endpoints it
// only drops the websocket and the service keeps running.
func (rb *rodBrowser) Close() error {
	if !rb.local {
		return rb.conn.Close()
	}
	err := rb.b.Close()
	_ = rb.conn.Close()
	return err
}

type rodPage struct {
	page *rod.Page

	mu     sync.Mutex
	router *rod.HijackRouter
}

func (rp *rodPage) Navigate(ctx context.Context, url string) error {
	p := rp.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (rp *rodPage) URL(ctx context.Context) (string, error) {
	info, err := rp.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (rp *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := rp.page.Context(ctx).Has(selector)
	return has, err
}

func (rp *rodPage) first(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := rp.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, selector)
	}
	return el, nil
}

func (rp *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := rp.first(ctx, selector)
	if err != nil {
		return "", err
	}
	txt, err := el.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(txt), nil
}

func (rp *rodPage) Texts(ctx context.Context, selector string) ([]string, error) {
	els, err := rp.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		txt, err := el.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(txt))
	}
	return out, nil
}

func (rp *rodPage) Click(ctx context.Context, selector string) error {
	el, err := rp.first(ctx, selector)
	if err != nil {
		return err
	}
	return clickElement(ctx, el)
}

func (rp *rodPage) ClickNth(ctx context.Context, selector string, n int) error {
	els, err := rp.page.Context(ctx).Elements(selector)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(els) {
		return fmt.Errorf("%w: %s[%d]", ErrNotFound, selector, n)
	}
	return clickElement(ctx, els[n])
}

// clickElement performs a real mouse click and falls back to a DOM click
// for elements rod considers not interactable (hidden popover anchors).
func clickElement(ctx context.Context, el *rod.Element) error {
	err := el.Click(proto.InputMouseButtonLeft, 1)
	if err == nil || ctx.Err() != nil || IsSessionClosed(err) {
		return err
	}
	if _, evalErr := el.Eval(`() => this.click()`); evalErr != nil {
		return fmt.Errorf("click: %w (dom click: %v)", err, evalErr)
	}
	return nil
}

func (rp *rodPage) Type(ctx context.Context, selector, text string, perChar time.Duration) error {
	el, err := rp.page.Context(ctx).Element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return err
		}
		if err := Sleep(ctx, perChar); err != nil {
			return err
		}
	}
	return nil
}

func (rp *rodPage) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	res, err := rp.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

func (rp *rodPage) HTML(ctx context.Context) (string, error) {
	return rp.page.Context(ctx).HTML()
}

func (rp *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return rp.page.Context(ctx).Screenshot(true, nil)
}

func (rp *rodPage) Close() error {
	rp.mu.Lock()
	if rp.router != nil {
		_ = rp.router.Stop()
		rp.router = nil
	}
	rp.mu.Unlock()
	return rp.page.Close()
}
