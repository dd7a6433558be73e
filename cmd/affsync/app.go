package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/use-agent/affsync/browser"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/extract"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/navigator"
	"github.com/use-agent/affsync/notify"
	"github.com/use-agent/affsync/scrape"
	"github.com/use-agent/affsync/session"
	"github.com/use-agent/affsync/sheets"
	"github.com/use-agent/affsync/workflow"
)

// endpointTTL is how long a working browser endpoint stays preferred.
const endpointTTL = 24 * time.Hour

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	accounts []models.AccountConfig
	memory   *session.EndpointMemory
	runner   *workflow.Runner
}

// stages selects which parts of the pipeline a command needs.
type stages struct {
	scrape bool
	write  bool
	notify bool
	runs   *cache.Runs
}

func newApp(ctx context.Context, cfg *config.Config, st stages) (*app, error) {
	accounts, err := config.LoadAccounts(cfg.AccountsFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, accounts: accounts}

	opts := workflow.Options{
		Accounts:   accounts,
		Runs:       st.runs,
		RunTimeout: cfg.Scrape.RunTimeout,
	}

	if st.scrape {
		orch, err := a.orchestrator()
		if err != nil {
			return nil, err
		}
		opts.Scraper = orch
	}

	if st.write && cfg.Sheets.SpreadsheetID != "" {
		store, err := sheets.NewGoogleStore(ctx, sheets.GoogleOptions{
			SpreadsheetID:   cfg.Sheets.SpreadsheetID,
			CredentialsFile: cfg.Sheets.CredentialsFile,
			WritesPerMinute: cfg.Sheets.WritesPerMinute,
			Logger:          slog.Default(),
		})
		if err != nil {
			return nil, err
		}
		opts.Writer = sheets.NewWriter(store, slog.Default())
	}

	if st.notify {
		if e := notify.NewEmail(cfg.Notify, slog.Default()); e != nil {
			opts.Notifiers = append(opts.Notifiers, e)
		}
		if w := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret, slog.Default()); w != nil {
			opts.Notifiers = append(opts.Notifiers, w)
		}
	}

	a.runner = workflow.New(opts)
	return a, nil
}

// orchestrator wires the browser session, navigator and extractor.
func (a *app) orchestrator() (*scrape.Orchestrator, error) {
	cfg := a.cfg
	endpoints := cfg.Browser.ResolvedEndpoints()
	if cfg.Browser.Launch {
		endpoints = []string{browser.LocalEndpoint}
	}

	a.memory = session.NewEndpointMemory(endpointTTL)
	sess := session.NewManager(session.Options{
		Dialer:    browser.NewRodDialer(cfg.Browser),
		Endpoints: endpoints,
		Memory:    a.memory,
		Dashboard: cfg.Dashboard,
		Logger:    slog.Default(),
	})

	nav := navigator.New(navigator.Options{
		Session:           sess,
		Dashboard:         cfg.Dashboard,
		DashboardAttempts: cfg.Scrape.DashboardAttempts,
		Logger:            slog.Default(),
	})

	ext, err := extract.New(extract.DefaultLocators(), slog.Default())
	if err != nil {
		return nil, err
	}

	return scrape.New(scrape.Options{
		Session:     sess,
		Navigator:   nav,
		Extractor:   ext,
		Credentials: cfg.Credentials,
		Scrape:      cfg.Scrape,
		Logger:      slog.Default(),
	}), nil
}

func (a *app) close() {
	if a.memory != nil {
		a.memory.Stop()
	}
}
