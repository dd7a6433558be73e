package models

import "time"

// AccountConfig is one store account and the tracking IDs to report for it,
// in processing order.
type AccountConfig struct {
	StoreID     string   `json:"storeId" yaml:"store_id"`
	TrackingIDs []string `json:"trackingIds" yaml:"tracking_ids"`
}

// RawMetrics is the unparsed text of the six dashboard summary fields.
// A field the page did not render is "".
type RawMetrics struct {
	Clicks         string `json:"clicks"`
	Ordered        string `json:"ordered"`
	Shipped        string `json:"shipped"`
	ConversionRate string `json:"conversionRate"`
	Revenue        string `json:"revenue"`
	Earnings       string `json:"earnings"`
}

// Empty reports whether no field was extracted at all.
func (m RawMetrics) Empty() bool {
	return m.Clicks == "" && m.Ordered == "" && m.Shipped == "" &&
		m.ConversionRate == "" && m.Revenue == "" && m.Earnings == ""
}

// HasData reports whether any of the headline fields was extracted.
// Conversion rate and shipped count alone are not treated as a loaded report.
func (m RawMetrics) HasData() bool {
	return m.Revenue != "" || m.Earnings != "" || m.Clicks != "" || m.Ordered != ""
}

// ScrapeResult is one normalised metrics row for (date, store, tracking ID).
type ScrapeResult struct {
	Date            string    `json:"date"`
	StoreID         string    `json:"storeId"`
	TrackingID      string    `json:"trackingId"`
	Revenue         float64   `json:"revenue"`
	Earnings        float64   `json:"earnings"`
	Clicks          int       `json:"clicks"`
	Orders          int       `json:"orders"`
	ConversionRate  float64   `json:"conversionRate"`
	ItemsOrdered    int       `json:"itemsOrdered"`
	ItemsShipped    int       `json:"itemsShipped"`
	RevenuePerClick float64   `json:"revenuePerClick"`
	LastUpdated     time.Time `json:"lastUpdated"`

	// Empty marks a row emitted after every extraction attempt came back blank.
	Empty bool `json:"empty,omitempty"`
}

// Failure scopes.
const (
	ScopeAccount  = "account"
	ScopeTracking = "tracking"
)

// Failure records an error that was isolated to one account or tracking ID.
type Failure struct {
	Scope      string `json:"scope"`
	StoreID    string `json:"storeId"`
	TrackingID string `json:"trackingId,omitempty"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// RunResult is the output of one scrape run.
type RunResult struct {
	RunID      string         `json:"runId,omitempty"`
	ReportDate string         `json:"reportDate,omitempty"`
	Results    []ScrapeResult `json:"results"`
	Count      int            `json:"count"`
	Timestamp  time.Time      `json:"timestamp"`

	// Partial is set when a fatal error interrupted a run that had already
	// produced results.
	Partial  bool      `json:"partial,omitempty"`
	Error    string    `json:"error,omitempty"`
	Failures []Failure `json:"failures,omitempty"`

	// Warnings lists units scraped while the dashboard could not be
	// confirmed to show them; their rows may belong to another context.
	Warnings []Failure `json:"warnings,omitempty"`
}

// EmptyRows counts rows emitted without data.
func (r *RunResult) EmptyRows() int {
	n := 0
	for _, res := range r.Results {
		if res.Empty {
			n++
		}
	}
	return n
}

// Clean reports whether the run produced confirmed data for every unit
// without errors.
func (r *RunResult) Clean() bool {
	return r.Error == "" && len(r.Failures) == 0 && len(r.Warnings) == 0 && r.EmptyRows() == 0
}
