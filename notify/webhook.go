package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Webhook event types.
const (
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"
)

// SignatureHeader carries the HMAC-SHA256 of the body as "sha256=<hex>".
const SignatureHeader = "X-Affsync-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	Timestamp int64     `json:"timestamp"`
	Data      EventData `json:"data"`
}

// EventData summarises the run.
type EventData struct {
	Status      string `json:"status"`
	Trigger     string `json:"trigger"`
	ReportDate  string `json:"report_date"`
	Count       int    `json:"count"`
	Failures    int    `json:"failures"`
	Warnings    int    `json:"warnings"`
	EmptyRows   int    `json:"empty_rows"`
	Partial     bool   `json:"partial,omitempty"`
	Saved       int    `json:"saved"`
	WriteErrors int    `json:"write_errors"`
	Error       string `json:"error,omitempty"`
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends event once. The body is signed when secret is non-empty.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Affsync-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Webhook posts a signed event for every finished run.
type Webhook struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration
	logger *slog.Logger
}

// NewWebhook returns a Webhook notifier, or nil when no URL is configured.
func NewWebhook(url, secret string, logger *slog.Logger) *Webhook {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
		logger: logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Notify delivers the run event, retrying with the configured delays.
func (w *Webhook) Notify(ctx context.Context, r Report) error {
	event := NewEvent(r)

	var lastErr error
	for attempt, delay := range w.delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := Deliver(dctx, w.client, w.url, w.secret, event)
		cancel()
		if err == nil {
			w.logger.Info("webhook delivered",
				"event", event.Type,
				"run_id", event.RunID,
				"attempt", attempt+1,
			)
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook delivery failed",
			"event", event.Type,
			"run_id", event.RunID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	w.logger.Error("webhook delivery exhausted all retries", "event", event.Type, "run_id", event.RunID)
	return lastErr
}

// NewEvent builds the webhook payload for r.
func NewEvent(r Report) *Event {
	typ := EventRunCompleted
	if r.Err != nil || r.Result == nil {
		typ = EventRunFailed
	}
	data := EventData{
		Status:     r.Status,
		Trigger:    r.Trigger,
		ReportDate: r.ReportDate,
	}
	if r.Err != nil {
		data.Error = r.Err.Error()
	}
	if res := r.Result; res != nil {
		data.Count = res.Count
		data.Failures = len(res.Failures)
		data.Warnings = len(res.Warnings)
		data.EmptyRows = res.EmptyRows()
		data.Partial = res.Partial
		if data.Error == "" {
			data.Error = res.Error
		}
	}
	if wr := r.Write; wr != nil {
		data.Saved = wr.Saved
		data.WriteErrors = len(wr.Errors)
	}
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{Type: typ, RunID: r.RunID, Timestamp: ts.Unix(), Data: data}
}
