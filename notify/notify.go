// Package notify reports finished runs by email and webhook.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/affsync/models"
)

// Report is everything a notifier may say about a run.
type Report struct {
	RunID      string
	Trigger    string
	Status     string
	ReportDate string
	StartedAt  time.Time
	FinishedAt time.Time

	Result *models.RunResult
	Write  *models.WriteSummary

	// Err is the run-level error when the run failed outright.
	Err error
}

// Notifier delivers a Report.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, r Report) error
}

// NeedsAttention reports whether r should reach a human: the run failed,
// skipped units, emitted zero rows, or could not write them.
func (r Report) NeedsAttention() bool {
	if r.Err != nil || r.Result == nil {
		return true
	}
	if !r.Result.Clean() {
		return true
	}
	return r.Write != nil && len(r.Write.Errors) > 0
}

// Subject is the one-line summary used as the email subject.
func (r Report) Subject() string {
	tag := "[OK]"
	if r.NeedsAttention() {
		tag = "[ERROR]"
	}
	return fmt.Sprintf("%s Affiliate earnings sync %s", tag, r.ReportDate)
}

// Body renders a plain-text summary of r.
func (r Report) Body() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Affiliate earnings sync: %s\n\n", r.Status)
	fmt.Fprintf(&b, "Run:         %s (%s)\n", r.RunID, r.Trigger)
	fmt.Fprintf(&b, "Report date: %s\n", r.ReportDate)
	fmt.Fprintf(&b, "Timestamp:   %s\n", r.FinishedAt.UTC().Format(time.RFC3339))
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "Duration:    %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}

	if r.Err != nil {
		fmt.Fprintf(&b, "\nRun failed: %v\n", r.Err)
	}

	if res := r.Result; res != nil {
		processed, failed := accountCounts(res)
		b.WriteString("\nSummary:\n")
		fmt.Fprintf(&b, "- Accounts processed: %d\n", processed)
		fmt.Fprintf(&b, "- Accounts failed: %d\n", failed)
		fmt.Fprintf(&b, "- Rows scraped: %d\n", res.Count)
		if n := res.EmptyRows(); n > 0 {
			fmt.Fprintf(&b, "- Rows without data (written as zeros): %d\n", n)
		}
		if res.Partial {
			b.WriteString("- Run was interrupted; results are partial\n")
		}
		if res.Error != "" {
			fmt.Fprintf(&b, "- Error: %s\n", res.Error)
		}

		if len(res.Failures) > 0 {
			b.WriteString("\nScraping errors:\n")
			for _, f := range res.Failures {
				fmt.Fprintf(&b, "- %s: %s\n", unitName(f), f.Message)
			}
		}
		if len(res.Warnings) > 0 {
			b.WriteString("\nUnconfirmed context (check these rows):\n")
			for _, f := range res.Warnings {
				fmt.Fprintf(&b, "- %s: %s\n", unitName(f), f.Message)
			}
		}
	}

	if w := r.Write; w != nil {
		b.WriteString("\nSheet updates:\n")
		switch {
		case w.Skipped:
			b.WriteString("- skipped\n")
		case w.DryRun:
			fmt.Fprintf(&b, "- Dry run, not written: %d rows\n", w.Saved)
		default:
			fmt.Fprintf(&b, "- Saved: %d (%d updated, %d appended)\n", w.Saved, w.Updated, w.Appended)
		}
		for _, e := range w.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// accountCounts returns how many distinct stores produced rows and how many
// failed at account level.
func accountCounts(res *models.RunResult) (processed, failed int) {
	seen := make(map[string]bool)
	for _, row := range res.Results {
		if !seen[row.StoreID] {
			seen[row.StoreID] = true
			processed++
		}
	}
	for _, f := range res.Failures {
		if f.Scope == models.ScopeAccount {
			failed++
		}
	}
	return processed, failed
}

func unitName(f models.Failure) string {
	if f.TrackingID != "" {
		return f.StoreID + "/" + f.TrackingID
	}
	return f.StoreID
}
