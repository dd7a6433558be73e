// Package browsertest provides in-memory fakes of the browser interfaces.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/affsync/browser"
	"github.com/ysmood/gson"
)

// ErrClosed mimics the error a dropped CDP session produces.
var ErrClosed = errors.New("websocket: close 1006 (abnormal closure): target closed")

// Page is a scriptable fake browser.Page. Elements are modelled as a
// selector -> texts table; hooks let tests react to navigation and clicks.
type Page struct {
	mu sync.Mutex

	url      string
	elements map[string][]string
	html     string
	closed   bool

	// Err, when set, is returned from every call.
	Err error

	// OnNavigate runs after the URL changes.
	OnNavigate func(p *Page, url string)
	// OnClick runs when selector (or selector#n for ClickNth) is clicked.
	OnClick map[string]func(p *Page)
	// EvalFunc answers Eval calls. Nil returns an error.
	EvalFunc func(js string, args ...any) (gson.JSON, error)

	Typed       map[string]string
	Clicks      []string
	Navigated   []string
	Screenshots int
}

// NewPage returns an empty page at url.
func NewPage(url string) *Page {
	return &Page{
		url:      url,
		elements: make(map[string][]string),
		OnClick:  make(map[string]func(p *Page)),
		Typed:    make(map[string]string),
	}
}

// Set replaces the elements matching selector. No texts removes them.
func (p *Page) Set(selector string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(selector, texts...)
}

func (p *Page) setLocked(selector string, texts ...string) {
	if len(texts) == 0 {
		delete(p.elements, selector)
		return
	}
	p.elements[selector] = texts
}

// SetURL moves the page without firing OnNavigate.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// SetHTML sets what HTML returns.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// Fail makes every subsequent call return err (nil restores the page).
func (p *Page) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.Err != nil {
		return p.Err
	}
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	p.url = url
	p.Navigated = append(p.Navigated, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p, url)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.url, nil
}

// lookup resolves a selector group ("a, b") to the texts of the first
// member that has elements.
func (p *Page) lookup(selector string) []string {
	if texts, ok := p.elements[selector]; ok {
		return texts
	}
	for _, part := range strings.Split(selector, ",") {
		if texts, ok := p.elements[strings.TrimSpace(part)]; ok {
			return texts
		}
	}
	return nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return false, err
	}
	return len(p.lookup(selector)) > 0, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	texts := p.lookup(selector)
	if len(texts) == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return strings.TrimSpace(texts[0]), nil
}

func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	texts := p.lookup(selector)
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = strings.TrimSpace(t)
	}
	return out, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.click(ctx, selector, selector, 0)
}

func (p *Page) ClickNth(ctx context.Context, selector string, n int) error {
	return p.click(ctx, selector, fmt.Sprintf("%s#%d", selector, n), n)
}

func (p *Page) click(ctx context.Context, selector, key string, n int) error {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return err
	}
	if texts := p.lookup(selector); n >= len(texts) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrNotFound, key)
	}
	p.Clicks = append(p.Clicks, key)
	hook := p.OnClick[key]
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return err
	}
	if len(p.lookup(selector)) == 0 {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.Typed[selector] = text
	return nil
}

func (p *Page) Eval(ctx context.Context, js string, args ...any) (gson.JSON, error) {
	p.mu.Lock()
	if err := p.check(ctx); err != nil {
		p.mu.Unlock()
		return gson.JSON{}, err
	}
	fn := p.EvalFunc
	p.mu.Unlock()

	if fn == nil {
		return gson.JSON{}, errors.New("eval not supported")
	}
	return fn(js, args...)
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return "", err
	}
	return p.html, nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.Screenshots++
	return []byte("png"), nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Browser is a fake browser.Browser holding a list of pages.
type Browser struct {
	mu     sync.Mutex
	pages  []*Page
	closed bool

	// NewPageFunc builds pages for NewPage. Nil creates about:blank pages.
	NewPageFunc func() *Page
	// PagesErr, when set, is returned from Pages.
	PagesErr error
}

// AddPage appends an already-open tab.
func (b *Browser) AddPage(p *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages = append(b.pages, p)
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Pages(ctx context.Context) ([]browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.PagesErr != nil {
		return nil, b.PagesErr
	}
	if b.closed {
		return nil, ErrClosed
	}
	out := make([]browser.Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.Closed() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	var p *Page
	if b.NewPageFunc != nil {
		p = b.NewPageFunc()
	} else {
		p = NewPage("about:blank")
	}
	b.pages = append(b.pages, p)
	return p, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Dialer is a fake browser.Dialer. Endpoints listed in Fail are refused.
type Dialer struct {
	mu sync.Mutex

	Fail map[string]error
	// NewBrowser builds the browser for each successful dial.
	NewBrowser func(endpoint string) *Browser

	Dials []string
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (browser.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Dials = append(d.Dials, endpoint)
	if err, ok := d.Fail[endpoint]; ok {
		return nil, err
	}
	if d.NewBrowser != nil {
		return d.NewBrowser(endpoint), nil
	}
	return &Browser{}, nil
}

// DialCount returns how many dials were attempted.
func (d *Dialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Dials)
}
