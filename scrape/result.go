package scrape

import (
	"strings"
	"time"

	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/parser"
)

// BuildResult normalises raw dashboard text into a result row. The
// dashboard's "ordered" figure feeds both Orders and ItemsOrdered.
func BuildResult(raw models.RawMetrics, storeID, trackingID, date string, now time.Time) models.ScrapeResult {
	revenue := parser.ParseCurrency(raw.Revenue)
	clicks := parser.ParseInteger(raw.Clicks)
	ordered := parser.ParseInteger(raw.Ordered)

	return models.ScrapeResult{
		Date:            date,
		StoreID:         storeID,
		TrackingID:      trackingID,
		Revenue:         revenue,
		Earnings:        parser.ParseCurrency(raw.Earnings),
		Clicks:          clicks,
		Orders:          ordered,
		ConversionRate:  parser.ParsePercentage(raw.ConversionRate),
		ItemsOrdered:    ordered,
		ItemsShipped:    parser.ParseInteger(raw.Shipped),
		RevenuePerClick: parser.RevenuePerClick(revenue, clicks),
		LastUpdated:     now,
		Empty:           !raw.HasData(),
	}
}

// reorder moves the account whose store ID appears in label to the front,
// keeping the others in order. accounts is not modified.
func reorder(accounts []models.AccountConfig, label string) []models.AccountConfig {
	if label == "" {
		return accounts
	}
	idx := -1
	for i, a := range accounts {
		if strings.Contains(label, a.StoreID) {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return accounts
	}
	out := make([]models.AccountConfig, 0, len(accounts))
	out = append(out, accounts[idx])
	out = append(out, accounts[:idx]...)
	out = append(out, accounts[idx+1:]...)
	return out
}
