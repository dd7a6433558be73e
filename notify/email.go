package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/use-agent/affsync/config"
)

// sendFunc matches (*email.Email).Send.
type sendFunc func(e *email.Email, addr string, a smtp.Auth) error

// Email sends run summaries over SMTP.
type Email struct {
	cfg    config.NotifyConfig
	send   sendFunc
	logger *slog.Logger
}

// NewEmail returns an Email notifier, or nil when SMTP is not configured.
func NewEmail(cfg config.NotifyConfig, logger *slog.Logger) *Email {
	if cfg.SMTPHost == "" || len(cfg.To) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Email{
		cfg:    cfg,
		send:   func(e *email.Email, addr string, a smtp.Auth) error { return e.Send(addr, a) },
		logger: logger,
	}
}

func (n *Email) Name() string { return "email" }

// Notify mails r when it needs attention, or always when configured so.
func (n *Email) Notify(ctx context.Context, r Report) error {
	if !n.cfg.Always && !r.NeedsAttention() {
		n.logger.Debug("run clean, skipping email", "run_id", r.RunID)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := n.cfg.From
	if from == "" {
		from = n.cfg.SMTPUser
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("affsync <%s>", from)
	mail.To = n.cfg.To
	mail.Subject = r.Subject()
	mail.Text = []byte(r.Body())

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)
	var auth smtp.Auth
	if n.cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUser, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}

	err := n.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = n.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	n.logger.Info("run summary emailed", "run_id", r.RunID, "to", len(n.cfg.To))
	return nil
}
