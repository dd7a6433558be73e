package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/parser"
)

// Header is the first row of every tab.
var Header = []any{
	"Date", "Store ID", "Tracking ID", "Revenue", "Earnings", "Clicks", "Orders",
	"Conversion Rate", "Items Ordered", "Items Shipped", "Revenue Per Click",
	"Scraped Date", "Last Updated",
}

// Column positions of the upsert key.
const (
	colDate       = 0
	colTrackingID = 2
)

// Action is what Upsert did.
type Action string

const (
	Updated  Action = "updated"
	Appended Action = "appended"
)

// Writer upserts results into a Store.
type Writer struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	known map[string]bool
}

// NewWriter creates a Writer over store.
func NewWriter(store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, logger: logger, now: time.Now, known: make(map[string]bool)}
}

// TabFor returns the tab a result is written to.
func TabFor(r models.ScrapeResult) string {
	return r.TrackingID
}

// Row renders r in column order. Scraped Date and Last Updated reflect the
// time of writing.
func Row(r models.ScrapeResult, now time.Time) []any {
	return []any{
		r.Date,
		r.StoreID,
		r.TrackingID,
		r.Revenue,
		r.Earnings,
		r.Clicks,
		r.Orders,
		r.ConversionRate,
		r.ItemsOrdered,
		r.ItemsShipped,
		r.RevenuePerClick,
		now.Format(parser.DateLayout),
		now.UTC().Format(time.RFC3339Nano),
	}
}

// Upsert writes r to its tab, replacing the row with the same date and
// tracking ID if one exists.
func (w *Writer) Upsert(ctx context.Context, r models.ScrapeResult) (Action, error) {
	tab := TabFor(r)
	log := w.logger.With("tab", tab, "date", r.Date)

	w.ensureTab(ctx, tab)

	rows, err := w.store.GetValues(ctx, columnsRange(tab))
	if err != nil {
		return "", models.NewSyncError(models.ErrCodeSheetWrite, "read "+tab, err)
	}

	if len(rows) == 0 || blank(rows[0]) {
		if err := w.store.UpdateValues(ctx, rowRange(tab, 1), [][]any{Header}); err != nil {
			return "", models.NewSyncError(models.ErrCodeSheetWrite, "write header to "+tab, err)
		}
		if len(rows) == 0 {
			rows = [][]string{render(Header)}
		}
	}

	row := Row(r, w.now())
	if n := findRow(rows, r.Date, r.TrackingID); n > 0 {
		if err := w.store.UpdateValues(ctx, rowRange(tab, n), [][]any{row}); err != nil {
			return "", models.NewSyncError(models.ErrCodeSheetWrite, fmt.Sprintf("update %s row %d", tab, n), err)
		}
		log.Info("row updated", "row", n)
		return Updated, nil
	}

	if err := w.store.AppendValues(ctx, columnsRange(tab), [][]any{row}); err != nil {
		return "", models.NewSyncError(models.ErrCodeSheetWrite, "append to "+tab, err)
	}
	log.Info("row appended")
	return Appended, nil
}

// WriteAll upserts every result. A failing result is recorded and the rest
// are still written.
func (w *Writer) WriteAll(ctx context.Context, results []models.ScrapeResult) models.WriteSummary {
	var sum models.WriteSummary
	for _, r := range results {
		if err := ctx.Err(); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: %v", r.TrackingID, r.Date, err))
			continue
		}
		action, err := w.Upsert(ctx, r)
		if err != nil {
			w.logger.Error("sheet write failed", "tracking_id", r.TrackingID, "date", r.Date, "error", err)
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s %s: %v", r.TrackingID, r.Date, err))
			continue
		}
		sum.Saved++
		switch action {
		case Updated:
			sum.Updated++
		case Appended:
			sum.Appended++
		}
	}
	w.logger.Info("sheet write finished",
		"saved", sum.Saved,
		"updated", sum.Updated,
		"appended", sum.Appended,
		"errors", len(sum.Errors),
	)
	return sum
}

// ensureTab creates tab with its header when the spreadsheet lacks it. A
// failed lookup is logged and the write goes ahead; the write reports the
// real error.
func (w *Writer) ensureTab(ctx context.Context, tab string) {
	w.mu.Lock()
	seen := w.known[tab]
	w.mu.Unlock()
	if seen {
		return
	}

	names, err := w.store.TabNames(ctx)
	if err != nil {
		w.logger.Warn("could not list tabs, writing anyway", "tab", tab, "error", err)
		return
	}
	for _, n := range names {
		if n == tab {
			w.remember(tab)
			return
		}
	}

	if err := w.store.CreateTab(ctx, tab); err != nil {
		w.logger.Warn("could not create tab, writing anyway", "tab", tab, "error", err)
		return
	}
	if err := w.store.UpdateValues(ctx, rowRange(tab, 1), [][]any{Header}); err != nil {
		w.logger.Warn("could not write header", "tab", tab, "error", err)
	}
	w.logger.Info("tab created", "tab", tab)
	w.remember(tab)
}

func (w *Writer) remember(tab string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.known[tab] = true
}

// findRow returns the 1-based sheet row holding (date, trackingID), or 0.
// Row 1 is the header and never matches.
func findRow(rows [][]string, date, trackingID string) int {
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if len(row) <= colTrackingID {
			continue
		}
		if sameDate(row[colDate], date) && strings.TrimSpace(row[colTrackingID]) == trackingID {
			return i + 1
		}
	}
	return 0
}

// cellDateLayouts are the renderings a USER_ENTERED date may come back as.
var cellDateLayouts = []string{parser.DateLayout, "1/2/2006", "01/02/2006", "2006/01/02"}

// sameDate compares a sheet cell with a YYYY-MM-DD date, accepting the
// locale renderings a sheet applies to typed dates.
func sameDate(cell, date string) bool {
	cell = strings.TrimSpace(cell)
	if cell == date {
		return true
	}
	want, err := time.Parse(parser.DateLayout, date)
	if err != nil {
		return false
	}
	for _, layout := range cellDateLayouts {
		if got, err := time.Parse(layout, cell); err == nil {
			return got.Equal(want)
		}
	}
	return false
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
