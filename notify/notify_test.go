package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
)

var (
	started  = time.Date(2025, 3, 15, 6, 0, 0, 0, time.UTC)
	finished = started.Add(4 * time.Minute)
)

func cleanReport() Report {
	return Report{
		RunID:      "run-1",
		Trigger:    "schedule",
		Status:     models.RunStatusCompleted,
		ReportDate: "2025-03-14",
		StartedAt:  started,
		FinishedAt: finished,
		Result: &models.RunResult{
			Results: []models.ScrapeResult{{StoreID: "a-20", TrackingID: "a-20"}, {StoreID: "a-20", TrackingID: "a-21"}},
			Count:   2,
		},
		Write: &models.WriteSummary{Saved: 2, Appended: 2},
	}
}

func failedReport() Report {
	r := cleanReport()
	r.Status = models.RunStatusFailed
	r.Result.Failures = []models.Failure{
		{Scope: models.ScopeAccount, StoreID: "b-20", Code: models.ErrCodeSessionClosed, Message: "target closed"},
		{Scope: models.ScopeTracking, StoreID: "a-20", TrackingID: "a-22", Code: models.ErrCodeExtraction, Message: "page could not be read"},
	}
	r.Write.Errors = []string{"a-21 2025-03-14: quota exceeded"}
	return r
}

func TestNeedsAttention(t *testing.T) {
	tests := []struct {
		name string
		r    Report
		want bool
	}{
		{"clean", cleanReport(), false},
		{"failures", failedReport(), true},
		{"run error", Report{Err: errors.New("login failed")}, true},
		{"no result", Report{}, true},
		{"write errors", func() Report {
			r := cleanReport()
			r.Write.Errors = []string{"x"}
			return r
		}(), true},
		{"empty rows", func() Report {
			r := cleanReport()
			r.Result.Results[0].Empty = true
			return r
		}(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.NeedsAttention())
		})
	}
}

func TestBody(t *testing.T) {
	r := failedReport()
	body := r.Body()

	assert.Contains(t, body, "Report date: 2025-03-14")
	assert.Contains(t, body, "Duration:    4m0s")
	assert.Contains(t, body, "- Accounts processed: 1")
	assert.Contains(t, body, "- Accounts failed: 1")
	assert.Contains(t, body, "- b-20: target closed")
	assert.Contains(t, body, "- a-20/a-22: page could not be read")
	assert.Contains(t, body, "- a-21 2025-03-14: quota exceeded")
	assert.Equal(t, "[ERROR] Affiliate earnings sync 2025-03-14", r.Subject())
	assert.Equal(t, "[OK] Affiliate earnings sync 2025-03-14", cleanReport().Subject())
}

type sent struct {
	mail *email.Email
	addr string
	auth smtp.Auth
}

func testEmail(cfg config.NotifyConfig, errs ...error) (*Email, *[]sent) {
	var calls []sent
	n := NewEmail(cfg, nil)
	n.send = func(e *email.Email, addr string, a smtp.Auth) error {
		calls = append(calls, sent{e, addr, a})
		if len(errs) > 0 {
			err := errs[0]
			errs = errs[1:]
			return err
		}
		return nil
	}
	return n, &calls
}

var smtpCfg = config.NotifyConfig{
	SMTPHost:     "smtp.test",
	SMTPPort:     587,
	SMTPUser:     "bot@example.test",
	SMTPPassword: "secret",
	To:           []string{"ops@example.test"},
}

func TestNewEmailUnconfigured(t *testing.T) {
	assert.Nil(t, NewEmail(config.NotifyConfig{}, nil))
	assert.Nil(t, NewEmail(config.NotifyConfig{SMTPHost: "smtp.test"}, nil))
}

func TestEmailSkipsCleanRun(t *testing.T) {
	n, calls := testEmail(smtpCfg)
	require.NoError(t, n.Notify(context.Background(), cleanReport()))
	assert.Empty(t, *calls)
}

func TestEmailAlwaysSendsWhenConfigured(t *testing.T) {
	cfg := smtpCfg
	cfg.Always = true
	n, calls := testEmail(cfg)
	require.NoError(t, n.Notify(context.Background(), cleanReport()))
	assert.Len(t, *calls, 1)
}

func TestEmailSendsFailureSummary(t *testing.T) {
	n, calls := testEmail(smtpCfg)
	require.NoError(t, n.Notify(context.Background(), failedReport()))

	require.Len(t, *calls, 1)
	c := (*calls)[0]
	assert.Equal(t, "smtp.test:587", c.addr)
	assert.NotNil(t, c.auth)
	assert.Equal(t, "affsync <bot@example.test>", c.mail.From)
	assert.Equal(t, []string{"ops@example.test"}, c.mail.To)
	assert.Contains(t, c.mail.Subject, "[ERROR]")
	assert.Contains(t, string(c.mail.Text), "target closed")
}

func TestEmailRetriesWithoutAuth(t *testing.T) {
	n, calls := testEmail(smtpCfg, errors.New("smtp: server doesn't support AUTH"))
	require.NoError(t, n.Notify(context.Background(), failedReport()))
	require.Len(t, *calls, 2)
	assert.Nil(t, (*calls)[1].auth)
}

func TestEmailSendError(t *testing.T) {
	n, _ := testEmail(smtpCfg, errors.New("connection refused"))
	err := n.Notify(context.Background(), failedReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWebhookSignsAndDelivers(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, "s3cret", nil)
	require.NoError(t, n.Notify(context.Background(), failedReport()))

	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	var ev Event
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, EventRunCompleted, ev.Type)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 2, ev.Data.Failures)
	assert.Equal(t, 1, ev.Data.WriteErrors)
	assert.Equal(t, finished.Unix(), ev.Timestamp)
}

func TestWebhookRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, "", nil)
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	require.NoError(t, n.Notify(context.Background(), cleanReport()))
	assert.Equal(t, int32(3), hits.Load())
}

func TestWebhookExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL, "", nil)
	n.delays = []time.Duration{0, time.Millisecond}
	err := n.Notify(context.Background(), cleanReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewEventFailedRun(t *testing.T) {
	ev := NewEvent(Report{RunID: "r", Status: models.RunStatusFailed, Err: errors.New("all browser endpoints failed")})
	assert.Equal(t, EventRunFailed, ev.Type)
	assert.Equal(t, "all browser endpoints failed", ev.Data.Error)
	assert.NotZero(t, ev.Timestamp)
}
