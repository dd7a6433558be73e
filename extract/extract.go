// Package extract reads the dashboard's summary metrics out of a page.
package extract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/models"
	"github.com/ysmood/gson"
	"golang.org/x/net/html"
)

// metricsJS resolves every locator list in one round trip.
const metricsJS = `(locators) => {
	const out = {};
	for (const [key, sels] of Object.entries(locators)) {
		out[key] = '';
		for (const sel of sels) {
			try {
				const el = document.querySelector(sel);
				const text = el ? (el.textContent || '').trim() : '';
				if (text) { out[key] = text; break; }
			} catch (e) {}
		}
	}
	return out;
}`

// Extractor pulls RawMetrics from the report page.
type Extractor struct {
	locators Locators
	compiled map[string][]cascadia.Sel
	logger   *slog.Logger
}

// New validates locators and returns an Extractor.
func New(locators Locators, logger *slog.Logger) (*Extractor, error) {
	compiled, err := locators.compile()
	if err != nil {
		return nil, models.NewSyncError(models.ErrCodeInvalidInput, "invalid metric locators", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{locators: locators, compiled: compiled, logger: logger}, nil
}

// Extract reads the six metrics. Missing fields are "". An error is
// returned only when neither the in-page evaluation nor the HTML snapshot
// could be read.
func (e *Extractor) Extract(ctx context.Context, page browser.Page) (models.RawMetrics, error) {
	raw, evalErr := e.fromEval(ctx, page)
	if evalErr == nil && !raw.Empty() {
		return raw, nil
	}
	if evalErr != nil {
		if browser.IsSessionClosed(evalErr) || ctx.Err() != nil {
			return models.RawMetrics{}, evalErr
		}
		e.logger.Debug("metric evaluation failed, falling back to HTML", "error", evalErr)
	}

	fallback, htmlErr := e.fromHTML(ctx, page)
	if htmlErr != nil {
		if evalErr != nil {
			return models.RawMetrics{}, models.NewSyncError(models.ErrCodeExtraction, "page could not be read", evalErr)
		}
		e.logger.Debug("HTML fallback failed", "error", htmlErr)
		return raw, nil
	}
	return fallback, nil
}

func (e *Extractor) fromEval(ctx context.Context, page browser.Page) (models.RawMetrics, error) {
	res, err := page.Eval(ctx, metricsJS, e.locators.asMap())
	if err != nil {
		return models.RawMetrics{}, err
	}
	return metricsFromJSON(res), nil
}

func metricsFromJSON(j gson.JSON) models.RawMetrics {
	get := func(key string) string {
		v, ok := j.Gets(key)
		if !ok || v.Nil() {
			return ""
		}
		return strings.TrimSpace(v.Str())
	}
	return models.RawMetrics{
		Clicks:         get("clicks"),
		Ordered:        get("ordered"),
		Shipped:        get("shipped"),
		ConversionRate: get("conversionRate"),
		Revenue:        get("revenue"),
		Earnings:       get("earnings"),
	}
}

func (e *Extractor) fromHTML(ctx context.Context, page browser.Page) (models.RawMetrics, error) {
	src, err := page.HTML(ctx)
	if err != nil {
		return models.RawMetrics{}, err
	}
	return e.parseHTML(src)
}

// parseHTML resolves the locator lists against an HTML snapshot.
func (e *Extractor) parseHTML(src string) (models.RawMetrics, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return models.RawMetrics{}, err
	}

	first := func(key string) string {
		for _, sel := range e.compiled[key] {
			n := cascadia.Query(root, sel)
			if n == nil {
				continue
			}
			if text := strings.TrimSpace(goquery.NewDocumentFromNode(n).Text()); text != "" {
				return text
			}
		}
		return ""
	}
	return models.RawMetrics{
		Clicks:         first("clicks"),
		Ordered:        first("ordered"),
		Shipped:        first("shipped"),
		ConversionRate: first("conversionRate"),
		Revenue:        first("revenue"),
		Earnings:       first("earnings"),
	}, nil
}
