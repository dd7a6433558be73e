package scrape

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/browser/browsertest"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/navigator"
)

var fixedNow = time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)

type fakeSession struct {
	connects, logins, disconnects, cleanups int

	connectErr error
	loginErr   error
	// health is consumed one entry per HealthCheck; nil entries and an
	// exhausted queue report a healthy session.
	health []error

	page *browsertest.Page
}

func (s *fakeSession) Connect(context.Context) error {
	s.connects++
	return s.connectErr
}

func (s *fakeSession) EnsureLoggedIn(context.Context, config.Credentials) error {
	s.logins++
	return s.loginErr
}

func (s *fakeSession) HealthCheck(context.Context) error {
	if len(s.health) == 0 {
		return nil
	}
	err := s.health[0]
	s.health = s.health[1:]
	return err
}

func (s *fakeSession) Disconnect()             { s.disconnects++ }
func (s *fakeSession) Cleanup(context.Context) { s.cleanups++ }

func (s *fakeSession) Page() browser.Page {
	if s.page == nil {
		s.page = browsertest.NewPage("https://affiliate.test/report")
	}
	return s.page
}

type fakeNav struct {
	label string
	calls []string

	// store is the account the dashboard shows; tracking the filter.
	store, tracking string

	switchErr       map[string]error
	trackingErr     map[string]error
	notOffered      map[string]bool
	trackingMissing map[string]bool
}

func (n *fakeNav) CurrentAccount(context.Context) (string, error) { return n.label, nil }

func (n *fakeNav) SwitchAccount(_ context.Context, storeID string) (navigator.Outcome, error) {
	n.calls = append(n.calls, "account:"+storeID)
	if err := n.switchErr[storeID]; err != nil {
		return navigator.Outcome{}, err
	}
	if n.notOffered[storeID] {
		return navigator.Outcome{}, nil
	}
	n.store = storeID
	return navigator.Outcome{Found: true, Verified: true, Current: storeID}, nil
}

func (n *fakeNav) SwitchTrackingID(_ context.Context, trackingID, _ string) (navigator.Outcome, error) {
	n.calls = append(n.calls, "tracking:"+trackingID)
	if err := n.trackingErr[trackingID]; err != nil {
		return navigator.Outcome{}, err
	}
	if n.trackingMissing[trackingID] {
		return navigator.Outcome{}, nil
	}
	n.tracking = trackingID
	return navigator.Outcome{Found: true, Changed: true, Verified: true, Current: trackingID}, nil
}

func (n *fakeNav) GoToReport(context.Context) error {
	n.calls = append(n.calls, "report")
	return nil
}

func (n *fakeNav) WaitForDashboard(context.Context) (bool, error) { return true, nil }

func (n *fakeNav) SelectReportDate(_ context.Context, date string) (navigator.Outcome, error) {
	n.calls = append(n.calls, "date:"+date)
	return navigator.Outcome{Found: true, Verified: true, Current: date}, nil
}

type extractorFunc func(ctx context.Context, page browser.Page) (models.RawMetrics, error)

func (f extractorFunc) Extract(ctx context.Context, page browser.Page) (models.RawMetrics, error) {
	return f(ctx, page)
}

var sampleRaw = models.RawMetrics{
	Revenue:        "$100.00",
	Earnings:       "$50.00",
	Clicks:         "10",
	Ordered:        "2",
	Shipped:        "2",
	ConversionRate: "20%",
}

func constExtractor(raw models.RawMetrics) Extractor {
	return extractorFunc(func(context.Context, browser.Page) (models.RawMetrics, error) { return raw, nil })
}

func newOrchestrator(sess *fakeSession, nav *fakeNav, ext Extractor, mutate ...func(*config.ScrapeConfig)) *Orchestrator {
	cfg := config.ScrapeConfig{ExtractAttempts: 3}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(Options{
		Session:   sess,
		Navigator: nav,
		Extractor: ext,
		Scrape:    cfg,
		Now:       func() time.Time { return fixedNow },
	})
}

func single(id string) models.AccountConfig {
	return models.AccountConfig{StoreID: id, TrackingIDs: []string{id}}
}

func TestRunEndToEnd(t *testing.T) {
	sess := &fakeSession{}
	nav := &fakeNav{}
	o := newOrchestrator(sess, nav, constExtractor(sampleRaw))

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	assert.Equal(t, models.ScrapeResult{
		Date:            "2025-03-14",
		StoreID:         "A",
		TrackingID:      "A",
		Revenue:         100,
		Earnings:        50,
		Clicks:          10,
		Orders:          2,
		ConversionRate:  20,
		ItemsOrdered:    2,
		ItemsShipped:    2,
		RevenuePerClick: 10,
		LastUpdated:     fixedNow,
	}, res.Results[0])
	assert.Equal(t, 1, res.Count)
	assert.False(t, res.Partial)
	assert.True(t, res.Clean())
	assert.Equal(t, 1, sess.cleanups)
	// A single tracking ID equal to the store ID needs no dropdown.
	assert.Equal(t, []string{"account:A", "report"}, nav.calls)
}

func TestRunRetriesBlankExtraction(t *testing.T) {
	calls := 0
	ext := extractorFunc(func(context.Context, browser.Page) (models.RawMetrics, error) {
		calls++
		if calls < 3 {
			return models.RawMetrics{}, nil
		}
		return sampleRaw, nil
	})
	nav := &fakeNav{}
	o := newOrchestrator(&fakeSession{}, nav, ext)

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 100.0, res.Results[0].Revenue)
	assert.False(t, res.Results[0].Empty)
	// One load for the account plus a reload before each retry.
	assert.Equal(t, []string{"account:A", "report", "report", "report"}, nav.calls)
}

func TestRunEmitsZeroRowAfterBlankRetries(t *testing.T) {
	o := newOrchestrator(&fakeSession{}, &fakeNav{}, constExtractor(models.RawMetrics{}))

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Empty)
	assert.Zero(t, res.Results[0].Revenue)
	assert.Equal(t, 1, res.EmptyRows())
	assert.False(t, res.Clean())
}

func TestRunDropsEmptyRowsWhenConfigured(t *testing.T) {
	o := newOrchestrator(&fakeSession{}, &fakeNav{}, constExtractor(models.RawMetrics{}),
		func(c *config.ScrapeConfig) { c.DropEmptyRows = true })

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeExtraction, res.Failures[0].Code)
}

func TestRunFatalSetupError(t *testing.T) {
	tests := []struct {
		name string
		sess *fakeSession
		code string
	}{
		{"connect", &fakeSession{connectErr: models.NewSyncError(models.ErrCodeConnection, "down", nil)}, models.ErrCodeConnection},
		{"login", &fakeSession{loginErr: models.NewSyncError(models.ErrCodeLogin, "bad password", nil)}, models.ErrCodeLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOrchestrator(tt.sess, &fakeNav{}, constExtractor(sampleRaw))
			res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.code, models.CodeOf(err))
			assert.Equal(t, 1, tt.sess.cleanups)
		})
	}
}

func TestRunIsolatesFailedAccount(t *testing.T) {
	sess := &fakeSession{}
	nav := &fakeNav{switchErr: map[string]error{
		"B": models.NewSyncError(models.ErrCodeSessionClosed, "target closed", browsertest.ErrClosed),
	}}
	o := newOrchestrator(sess, nav, constExtractor(sampleRaw))

	accounts := []models.AccountConfig{single("A"), single("B"), single("C"), single("D")}
	res, err := o.Run(context.Background(), accounts, "2025-03-14")
	require.NoError(t, err)

	var stores []string
	for _, r := range res.Results {
		stores = append(stores, r.StoreID)
	}
	assert.Equal(t, []string{"A", "C", "D"}, stores)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Error)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.Failure{
		Scope:   models.ScopeAccount,
		StoreID: "B",
		Code:    models.ErrCodeSessionClosed,
		Message: res.Failures[0].Message,
	}, res.Failures[0])
	// The dropped session was rebuilt once for the retry.
	assert.Equal(t, 2, sess.connects)
}

func TestRunStoreNotOfferedIsWarning(t *testing.T) {
	nav := &fakeNav{notOffered: map[string]bool{"B": true}}
	o := newOrchestrator(&fakeSession{}, nav, constExtractor(sampleRaw))

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A"), single("B")}, "2025-03-14")
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, models.ScopeAccount, res.Warnings[0].Scope)
	assert.Equal(t, "B", res.Warnings[0].StoreID)
	assert.Equal(t, models.ErrCodeMismatch, res.Warnings[0].Code)
	assert.False(t, res.Clean())
}

func TestRunReconnectsBetweenTrackingIDs(t *testing.T) {
	sess := &fakeSession{health: []error{
		nil, // account switch
		nil, // first tracking ID
		models.NewSyncError(models.ErrCodeSessionClosed, "target closed", nil),
	}}
	nav := &fakeNav{}
	o := newOrchestrator(sess, nav, constExtractor(sampleRaw))

	account := models.AccountConfig{StoreID: "A", TrackingIDs: []string{"A-1", "A-2"}}
	res, err := o.Run(context.Background(), []models.AccountConfig{account}, "2025-03-14")
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "A-2", res.Results[1].TrackingID)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 2, sess.connects)
	assert.Equal(t, 2, sess.logins)
	assert.Equal(t, []string{
		"account:A", "report",
		"tracking:A-1",
		"account:A", "report",
		"tracking:A-2",
	}, nav.calls)
}

func TestRunRetriesOperationOnceAfterSessionDrop(t *testing.T) {
	sess := &fakeSession{}
	calls := 0
	ext := extractorFunc(func(context.Context, browser.Page) (models.RawMetrics, error) {
		calls++
		if calls == 1 {
			return models.RawMetrics{}, browsertest.ErrClosed
		}
		return sampleRaw, nil
	})
	o := newOrchestrator(sess, &fakeNav{}, ext)

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 2, sess.connects)
}

func TestRunTrackingFailureIsIsolated(t *testing.T) {
	nav := &fakeNav{trackingErr: map[string]error{
		"A-1": models.NewSyncError(models.ErrCodeNavigation, "tracking dropdown did not open", nil),
	}}
	o := newOrchestrator(&fakeSession{}, nav, constExtractor(sampleRaw))

	account := models.AccountConfig{StoreID: "A", TrackingIDs: []string{"A-1", "A-2"}}
	res, err := o.Run(context.Background(), []models.AccountConfig{account}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "A-2", res.Results[0].TrackingID)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ScopeTracking, res.Failures[0].Scope)
	assert.Equal(t, "A-1", res.Failures[0].TrackingID)
	assert.False(t, res.Partial)
}

func TestRunTrackingNotOfferedIsWarning(t *testing.T) {
	nav := &fakeNav{trackingMissing: map[string]bool{"A-1": true}}
	o := newOrchestrator(&fakeSession{}, nav, constExtractor(sampleRaw))

	account := models.AccountConfig{StoreID: "A", TrackingIDs: []string{"A-1", "A-2"}}
	res, err := o.Run(context.Background(), []models.AccountConfig{account}, "2025-03-14")
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "A-1", res.Warnings[0].TrackingID)
}

func TestRunSelectsReportDate(t *testing.T) {
	nav := &fakeNav{}
	o := newOrchestrator(&fakeSession{}, nav, constExtractor(sampleRaw),
		func(c *config.ScrapeConfig) { c.SelectDate = true })

	_, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, []string{"account:A", "report", "date:2025-03-14"}, nav.calls)
}

func TestRunStartsWithCurrentAccount(t *testing.T) {
	nav := &fakeNav{label: "Store: C (en_US)"}
	o := newOrchestrator(&fakeSession{}, nav, constExtractor(sampleRaw),
		func(c *config.ScrapeConfig) { c.ReorderToCurrent = true })

	res, err := o.Run(context.Background(), []models.AccountConfig{single("A"), single("B"), single("C")}, "2025-03-14")
	require.NoError(t, err)
	require.Len(t, res.Results, 3)
	assert.Equal(t, "C", res.Results[0].StoreID)
	assert.Equal(t, "A", res.Results[1].StoreID)
}

func TestRunInterruptedIsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ext := extractorFunc(func(context.Context, browser.Page) (models.RawMetrics, error) {
		cancel()
		return sampleRaw, nil
	})
	o := newOrchestrator(&fakeSession{}, &fakeNav{}, ext)

	res, err := o.Run(ctx, []models.AccountConfig{single("A"), single("B")}, "2025-03-14")
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.True(t, res.Partial)
	assert.NotEmpty(t, res.Error)
}

func TestRunExtractionErrorsExhausted(t *testing.T) {
	readErr := models.NewSyncError(models.ErrCodeExtraction, "page could not be read", errors.New("eval failed"))
	tests := []struct {
		name     string
		attempts []error
	}{
		{"all errors", []error{readErr, readErr, readErr}},
		{"error then blank", []error{readErr, nil, nil}},
		{"blank then error", []error{nil, nil, readErr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			ext := extractorFunc(func(context.Context, browser.Page) (models.RawMetrics, error) {
				err := tt.attempts[calls]
				calls++
				return models.RawMetrics{}, err
			})
			o := newOrchestrator(&fakeSession{}, &fakeNav{}, ext)

			res, err := o.Run(context.Background(), []models.AccountConfig{single("A")}, "2025-03-14")
			require.NoError(t, err)
			assert.Equal(t, 3, calls)
			assert.Empty(t, res.Failures)
			require.Len(t, res.Results, 1)
			row := res.Results[0]
			assert.True(t, row.Empty)
			assert.Equal(t, "A", row.TrackingID)
			assert.Zero(t, row.Revenue)
			assert.Zero(t, row.Clicks)
		})
	}
}

func TestRunNoAccounts(t *testing.T) {
	sess := &fakeSession{}
	o := newOrchestrator(sess, &fakeNav{label: "Store A"}, constExtractor(sampleRaw),
		func(c *config.ScrapeConfig) { c.ReorderToCurrent = true })

	res, err := o.Run(context.Background(), nil, "2025-03-14")
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.Count)
	assert.Equal(t, "2025-03-14", res.ReportDate)
	assert.Zero(t, sess.connects)
}

func TestBuildResultRevenuePerClick(t *testing.T) {
	tests := []struct {
		name string
		raw  models.RawMetrics
		want float64
	}{
		{"no clicks", models.RawMetrics{Revenue: "$12.00", Clicks: "0"}, 0},
		{"blank clicks", models.RawMetrics{Revenue: "$12.00"}, 0},
		{"divides", models.RawMetrics{Revenue: "$1,234.50", Clicks: "1,000"}, 1.2345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := BuildResult(tt.raw, "s", "t", "2025-03-14", fixedNow)
			assert.InDelta(t, tt.want, r.RevenuePerClick, 1e-9)
		})
	}
}

func TestReorder(t *testing.T) {
	accounts := []models.AccountConfig{single("A"), single("B"), single("C")}
	ids := func(in []models.AccountConfig) []string {
		out := make([]string, len(in))
		for i, a := range in {
			out[i] = a.StoreID
		}
		return out
	}

	assert.Equal(t, []string{"A", "B", "C"}, ids(reorder(accounts, "")))
	assert.Equal(t, []string{"A", "B", "C"}, ids(reorder(accounts, "Store A")))
	assert.Equal(t, []string{"B", "A", "C"}, ids(reorder(accounts, "Store B")))
	assert.Equal(t, []string{"A", "B", "C"}, ids(reorder(accounts, "Store Z")))
	assert.Equal(t, []string{"A", "B", "C"}, ids(accounts))
}
