// Package browser is the control surface the rest of affsync drives a remote
// browser through. The production implementation speaks CDP via go-rod; tests
// use browsertest.
package browser

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/ysmood/gson"
)

// ErrNotFound is returned when a selector matches no element.
var ErrNotFound = errors.New("browser: element not found")

// Page is one browser tab. Every call is bounded by ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)

	// Has reports whether selector currently matches an element. It does not wait.
	Has(ctx context.Context, selector string) (bool, error)

	// Text returns the trimmed rendered text of the first match, or ErrNotFound.
	Text(ctx context.Context, selector string) (string, error)

	// Texts returns the trimmed rendered text of every match in document order.
	Texts(ctx context.Context, selector string) ([]string, error)

	Click(ctx context.Context, selector string) error

	// ClickNth clicks the n-th (0-based) match of selector.
	ClickNth(ctx context.Context, selector string, n int) error

	// Type waits for selector, replaces its value and types text one
	// character at a time with perChar between characters.
	Type(ctx context.Context, selector, text string, perChar time.Duration) error

	Eval(ctx context.Context, js string, args ...any) (gson.JSON, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Browser is a connection to one browser instance.
type Browser interface {
	// Pages lists the open tabs in the order the browser reports them.
	Pages(ctx context.Context) ([]Page, error)
	NewPage(ctx context.Context) (Page, error)

	// Close ends the session. A locally launched browser is shut down; for a
	// remote endpoint only the connection is dropped.
	Close() error
}

// Dialer opens a Browser on an endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Browser, error)
}

// closedMarkers are error fragments emitted when the remote side of the
// session is gone: the browser service dropped the websocket, the tab was
// closed, or a frame was detached mid-call.
var closedMarkers = []string{
	"session closed",
	"target closed",
	"connection closed",
	"detached",
	"websocket: close",
	"use of closed network connection",
	"broken pipe",
	"no such target",
	"frame not found",
}

// IsSessionClosed reports whether err means the browser session is unusable
// and must be re-established.
func IsSessionClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range closedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
