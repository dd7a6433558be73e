package parser

import (
	"fmt"
	"strings"
	"time"

	"github.com/use-agent/affsync/models"
)

// DateLayout is the format of every report date.
const DateLayout = "2006-01-02"

// Report date selectors.
const (
	Yesterday = "yesterday"
	Today     = "today"
)

// ResolveReportDate turns "yesterday" (also the default for ""), "today" or
// an explicit YYYY-MM-DD into a report date relative to now.
func ResolveReportDate(selector string, now time.Time) (string, error) {
	switch sel := strings.ToLower(strings.TrimSpace(selector)); sel {
	case "", Yesterday:
		return now.AddDate(0, 0, -1).Format(DateLayout), nil
	case Today:
		return now.Format(DateLayout), nil
	default:
		d, err := time.ParseInLocation(DateLayout, sel, now.Location())
		if err != nil {
			return "", models.NewSyncError(models.ErrCodeInvalidInput,
				fmt.Sprintf("invalid date %q: use 'yesterday', 'today' or YYYY-MM-DD", selector), err)
		}
		return d.Format(DateLayout), nil
	}
}
