package navigator

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/browser/browsertest"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
)

func TestMain(m *testing.M) {
	pickerSettle = time.Millisecond
	trackingSettle = time.Millisecond
	navBackoff = time.Millisecond
	os.Exit(m.Run())
}

type fakeSession struct {
	page        *browsertest.Page
	store       string
	refreshes   int
	screenshots []string
}

func (s *fakeSession) Page() browser.Page {
	if s.page == nil {
		return nil
	}
	return s.page
}

func (s *fakeSession) RefreshPage(context.Context) (browser.Page, error) {
	s.refreshes++
	return s.page, nil
}

func (s *fakeSession) SetCurrentStore(id string) { s.store = id }

func (s *fakeSession) SaveDebugScreenshot(_ context.Context, name string) {
	s.screenshots = append(s.screenshots, name)
}

func newNav(sess *fakeSession, sel *Selectors) *Navigator {
	return New(Options{
		Session: sess,
		Dashboard: config.DashboardConfig{
			ReportURL:         "https://affiliate.test/report",
			NavigationTimeout: time.Second,
			ElementTimeout:    300 * time.Millisecond,
			SwitchTimeout:     300 * time.Millisecond,
			SettleDelay:       50 * time.Millisecond,
		},
		Selectors: sel,
	})
}

func storePage(current string, options ...string) *browsertest.Page {
	sel := DefaultSelectors()
	p := browsertest.NewPage("https://affiliate.test/report")
	p.Set(sel.AccountLabel, current)
	p.Set(sel.AccountTrigger, current)
	for i, o := range options {
		p.Set("#menu-tab-store-id-picker_"+string(rune('1'+i)), o)
	}
	return p
}

func TestSwitchAccountAlreadySelected(t *testing.T) {
	page := storePage("mula09a-20")
	sess := &fakeSession{page: page}

	out, err := newNav(sess, nil).SwitchAccount(context.Background(), "mula09a-20")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Found: true, Verified: true, Current: "mula09a-20"}, out)
	assert.Empty(t, page.Clicks)
	assert.Equal(t, "mula09a-20", sess.store)
}

func TestSwitchAccount(t *testing.T) {
	sel := DefaultSelectors()
	page := storePage("mula09a-20", "mula09a-20", "mula0f-20")
	page.OnClick["#menu-tab-store-id-picker_2"] = func(p *browsertest.Page) {
		p.Set(sel.AccountLabel, "mula0f-20")
	}
	sess := &fakeSession{page: page}

	out, err := newNav(sess, nil).SwitchAccount(context.Background(), "mula0f-20")
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.True(t, out.Changed)
	assert.True(t, out.Verified)
	assert.Equal(t, "mula0f-20", sess.store)
	assert.Equal(t, 1, sess.refreshes)
	assert.Equal(t, []string{sel.AccountTrigger, "#menu-tab-store-id-picker_2"}, page.Clicks)
}

func TestSwitchAccountNotConfirmed(t *testing.T) {
	page := storePage("mula09a-20", "mula0f-20")
	sess := &fakeSession{page: page, store: "mula09a-20"}

	out, err := newNav(sess, nil).SwitchAccount(context.Background(), "mula0f-20")
	require.NoError(t, err)
	assert.True(t, out.Found)
	assert.False(t, out.Verified)
	assert.Equal(t, "mula09a-20", out.Current)
	assert.Empty(t, sess.store)
}

func TestSwitchAccountStoreNotOffered(t *testing.T) {
	sel := DefaultSelectors()
	page := storePage("mula09a-20", "mula09a-20")
	sess := &fakeSession{page: page}

	out, err := newNav(sess, nil).SwitchAccount(context.Background(), "unknown-20")
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Equal(t, "mula09a-20", out.Current)
	assert.Equal(t, []string{sel.AccountTrigger, sel.AccountTrigger}, page.Clicks)
	assert.Equal(t, []string{"store-not-found-unknown-20"}, sess.screenshots)
}

func TestSwitchAccountSessionClosed(t *testing.T) {
	page := storePage("mula09a-20", "mula0f-20")
	page.Fail(browsertest.ErrClosed)

	_, err := newNav(&fakeSession{page: page}, nil).SwitchAccount(context.Background(), "mula0f-20")
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeSessionClosed, models.CodeOf(err))
}

func TestNoPage(t *testing.T) {
	nav := newNav(&fakeSession{}, nil)

	_, err := nav.SwitchAccount(context.Background(), "x")
	assert.Equal(t, models.ErrCodeSessionClosed, models.CodeOf(err))
	err = nav.GoToReport(context.Background())
	assert.Equal(t, models.ErrCodeSessionClosed, models.CodeOf(err))
}

func TestNeedsTrackingSwitch(t *testing.T) {
	tests := []struct {
		name     string
		account  models.AccountConfig
		tracking string
		want     bool
	}{
		{"single matching id", models.AccountConfig{StoreID: "a-20", TrackingIDs: []string{"a-20"}}, "a-20", false},
		{"single different id", models.AccountConfig{StoreID: "a-20", TrackingIDs: []string{"b-20"}}, "b-20", true},
		{"several ids", models.AccountConfig{StoreID: "a-20", TrackingIDs: []string{"a-20", "b-20"}}, "a-20", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsTrackingSwitch(tt.account, tt.tracking))
		})
	}
}

func trackingSelectors() *Selectors {
	sel := DefaultSelectors()
	sel.TrackingTriggers = []string{"#missing-trigger", "#trigger"}
	sel.TrackingOptions = ".opt"
	return &sel
}

func TestSwitchTrackingID(t *testing.T) {
	sel := trackingSelectors()
	page := browsertest.NewPage("https://affiliate.test/report")
	page.Set(sel.TrackingCurrent, "mula09a-20")
	page.Set("#trigger", "mula09a-20")
	page.OnClick["#trigger"] = func(p *browsertest.Page) {
		p.Set(sel.TrackingPopover, "")
		p.Set(".opt", "mula09a-20", "mula09a-21")
	}
	page.OnClick[".opt#1"] = func(p *browsertest.Page) {
		p.Set(sel.TrackingCurrent, "mula09a-21")
	}

	out, err := newNav(&fakeSession{page: page}, sel).SwitchTrackingID(context.Background(), "mula09a-21", "mula09a-20")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Found: true, Changed: true, Verified: true, Current: "mula09a-21"}, out)
	assert.Equal(t, []string{"#trigger", ".opt#1"}, page.Clicks)
}

func TestSwitchTrackingIDAlreadySelected(t *testing.T) {
	sel := trackingSelectors()
	page := browsertest.NewPage("https://affiliate.test/report")
	page.Set(sel.TrackingCurrent, "mula09a-21")

	out, err := newNav(&fakeSession{page: page}, sel).SwitchTrackingID(context.Background(), "mula09a-21", "mula09a-20")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.False(t, out.Changed)
	assert.Empty(t, page.Clicks)
}

func TestSwitchTrackingIDNotOffered(t *testing.T) {
	sel := trackingSelectors()
	page := browsertest.NewPage("https://affiliate.test/report")
	page.Set(sel.TrackingCurrent, "mula09a-20")
	page.Set("#trigger", "")
	page.OnClick["#trigger"] = func(p *browsertest.Page) {
		p.Set(sel.TrackingPopover, "")
		p.Set(".opt", "mula09a-20")
	}
	sess := &fakeSession{page: page}

	out, err := newNav(sess, sel).SwitchTrackingID(context.Background(), "other-20", "mula09a-20")
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Equal(t, []string{"tracking-not-found-other-20"}, sess.screenshots)
}

func TestSwitchTrackingIDNoDropdown(t *testing.T) {
	sel := trackingSelectors()
	page := browsertest.NewPage("https://affiliate.test/report")

	out, err := newNav(&fakeSession{page: page}, sel).SwitchTrackingID(context.Background(), "other-20", "mula09a-20")
	require.NoError(t, err)
	assert.False(t, out.Found)
}

func TestGoToReport(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	require.NoError(t, newNav(&fakeSession{page: page}, nil).GoToReport(context.Background()))
	assert.Equal(t, []string{"https://affiliate.test/report"}, page.Navigated)
}

func TestGoToReportExhausted(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	page.Fail(errors.New("net::ERR_NAME_NOT_RESOLVED"))

	err := newNav(&fakeSession{page: page}, nil).GoToReport(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
}

func TestGoToReportSessionClosed(t *testing.T) {
	page := browsertest.NewPage("about:blank")
	page.Fail(browsertest.ErrClosed)

	err := newNav(&fakeSession{page: page}, nil).GoToReport(context.Background())
	assert.Equal(t, models.ErrCodeSessionClosed, models.CodeOf(err))
}

func TestWaitForDashboard(t *testing.T) {
	page := browsertest.NewPage("https://affiliate.test/report")
	nav := newNav(&fakeSession{page: page}, nil)
	nav.dashboardAttempts = 1

	ok, err := nav.WaitForDashboard(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	page.Set(DefaultSelectors().DashboardMarker, "$12.00")
	ok, err = nav.WaitForDashboard(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSelectReportDate(t *testing.T) {
	sel := DefaultSelectors()
	page := browsertest.NewPage("https://affiliate.test/report")
	page.Set(sel.DateInputs[1], "")
	page.Set(sel.DateApply[0], "Apply")

	out, err := newNav(&fakeSession{page: page}, nil).SelectReportDate(context.Background(), "2025-03-14")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "2025-03-14", page.Typed[sel.DateInputs[1]])
	assert.Equal(t, []string{sel.DateApply[0]}, page.Clicks)
}

func TestSelectReportDateNoControl(t *testing.T) {
	page := browsertest.NewPage("https://affiliate.test/report")

	out, err := newNav(&fakeSession{page: page}, nil).SelectReportDate(context.Background(), "2025-03-14")
	require.NoError(t, err)
	assert.False(t, out.Found)
	assert.Empty(t, page.Typed)
}
