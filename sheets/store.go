// Package sheets writes scrape results into a spreadsheet, one tab per
// tracking ID, keeping at most one row per (date, tracking ID).
package sheets

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Store is the spreadsheet surface the writer needs. Ranges use A1 notation
// with a quoted tab name ("'tab'!A:M").
type Store interface {
	TabNames(ctx context.Context) ([]string, error)
	CreateTab(ctx context.Context, name string) error
	// GetValues returns the rendered cell values in rng, row-major.
	GetValues(ctx context.Context, rng string) ([][]string, error)
	UpdateValues(ctx context.Context, rng string, rows [][]any) error
	AppendValues(ctx context.Context, rng string, rows [][]any) error
}

// lastColumn is the final column of the 13-column layout.
const lastColumn = "M"

// quoteTab quotes a tab name for A1 notation.
func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}

// columnsRange is the whole-table range of tab.
func columnsRange(tab string) string {
	return quoteTab(tab) + "!A:" + lastColumn
}

// rowRange is the range of a single 1-based row of tab.
func rowRange(tab string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", quoteTab(tab), row, lastColumn, row)
}

// parseRange splits an A1 range into its tab name and starting row. Row is
// 0 when the range spans whole columns.
func parseRange(rng string) (tab string, row int, err error) {
	i := strings.LastIndex(rng, "!")
	if i < 0 {
		return "", 0, fmt.Errorf("range %q has no tab", rng)
	}
	tab = rng[:i]
	if len(tab) >= 2 && tab[0] == '\'' && tab[len(tab)-1] == '\'' {
		tab = strings.ReplaceAll(tab[1:len(tab)-1], "''", "'")
	}

	cells := rng[i+1:]
	if j := strings.Index(cells, ":"); j >= 0 {
		cells = cells[:j]
	}
	digits := strings.TrimLeft(cells, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	if digits == "" {
		return tab, 0, nil
	}
	row, err = strconv.Atoi(digits)
	if err != nil || row < 1 {
		return "", 0, fmt.Errorf("range %q has an invalid row", rng)
	}
	return tab, row, nil
}
