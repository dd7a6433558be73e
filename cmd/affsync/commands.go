package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/affsync/api"
	"github.com/use-agent/affsync/cache"
	"github.com/use-agent/affsync/config"
	"github.com/use-agent/affsync/models"
	"github.com/use-agent/affsync/scheduler"
	"github.com/use-agent/affsync/workflow"
	"gopkg.in/yaml.v3"
)

// runFlags are shared by run and scrape.
type runFlags struct {
	store  string
	date   string
	dryRun bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.store, "store", "", "process only this store ID")
	cmd.Flags().StringVar(&f.date, "date", "yesterday", "report date: yesterday, today or YYYY-MM-DD")
}

func (f *runFlags) request() models.RunRequest {
	return models.RunRequest{Date: f.date, StoreID: f.store, DryRun: f.dryRun}
}

func newRootCmd() *cobra.Command {
	var accountsFile string

	root := &cobra.Command{
		Use:           "affsync",
		Short:         "affsync copies affiliate dashboard earnings into Google Sheets.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&accountsFile, "accounts", "", "YAML accounts file (overrides AFFSYNC_ACCOUNTS_FILE)")

	load := func(logTo io.Writer) *config.Config {
		cfg := config.Load()
		if accountsFile != "" {
			cfg.AccountsFile = accountsFile
		}
		initLogger(cfg.Log, logTo)
		return cfg
	}

	root.AddCommand(
		newRunCmd(load),
		newScrapeCmd(load),
		newWriteCmd(load),
		newServeCmd(load),
		newAccountsCmd(load),
	)
	return root
}

type loader func(logTo io.Writer) *config.Config

// fail logs err and returns it so cobra exits non-zero.
func fail(msg string, err error) error {
	slog.Error(msg, "error", err, "code", models.CodeOf(err))
	return err
}

func newRunCmd(load loader) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every account, write the rows and send notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load(os.Stderr)
			a, err := newApp(cmd.Context(), cfg, stages{scrape: true, write: !f.dryRun, notify: true})
			if err != nil {
				return fail("setup failed", err)
			}
			defer a.close()

			run, err := a.runner.Run(cmd.Context(), f.request(), workflow.TriggerCLI)
			if run != nil {
				if werr := writeJSON(cmd.OutOrStdout(), run); werr != nil {
					return werr
				}
			}
			if err != nil {
				return fail("run failed", err)
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "scrape but do not write to the spreadsheet")
	return cmd
}

func newScrapeCmd(load loader) *cobra.Command {
	var (
		f   runFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape every account and print the result JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load(os.Stderr)
			a, err := newApp(cmd.Context(), cfg, stages{scrape: true})
			if err != nil {
				return fail("setup failed", err)
			}
			defer a.close()

			res, err := a.runner.Scrape(cmd.Context(), f.request())
			if err != nil {
				return fail("scrape failed", err)
			}

			w := cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return fail("cannot create output file", err)
				}
				defer file.Close()
				w = file
			}
			return writeJSON(w, res)
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result JSON to this file")
	return cmd
}

func newWriteCmd(load loader) *cobra.Command {
	var (
		in     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Upsert the rows of a scrape result file into the spreadsheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load(os.Stderr)
			res, err := readResult(in)
			if err != nil {
				return fail("cannot read result", err)
			}

			a, err := newApp(cmd.Context(), cfg, stages{write: !dryRun})
			if err != nil {
				return fail("setup failed", err)
			}
			defer a.close()

			sum := a.runner.Write(cmd.Context(), res.Results, dryRun)
			if err := writeJSON(cmd.OutOrStdout(), sum); err != nil {
				return err
			}
			if len(sum.Errors) > 0 {
				return fail("some rows were not written",
					models.NewSyncError(models.ErrCodeSheetWrite, fmt.Sprintf("%d write errors", len(sum.Errors)), nil))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "-", "result JSON file, - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "upsert into an in-memory sheet instead")
	return cmd
}

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the daily schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			// ── 1. Load configuration and logging ───────────────────────
			cfg := load(os.Stdout)
			slog.Info("affsync starting",
				"host", cfg.Server.Host,
				"port", cfg.Server.Port,
				"mode", cfg.Server.Mode,
				"schedule", cfg.Schedule.Enabled,
			)

			// ── 2. Run store and pipeline ───────────────────────────────
			runs := cache.New(cfg.Runs.MaxEntries, cfg.Runs.TTL)
			defer runs.Stop()

			a, err := newApp(ctx, cfg, stages{scrape: true, write: true, notify: true, runs: runs})
			if err != nil {
				return fail("setup failed", err)
			}
			defer a.close()

			// ── 3. Scheduler ────────────────────────────────────────────
			sched := scheduler.New(cfg.Schedule, a.runner, slog.Default())
			if err := sched.Start(ctx); err != nil {
				return fail("scheduler failed", err)
			}
			defer sched.Stop()

			// ── 4. HTTP server ──────────────────────────────────────────
			router := api.NewRouter(ctx, cfg, a.runner, runs, time.Now())
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			srv := &http.Server{Addr: addr, Handler: router}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("HTTP server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			// ── 5. Graceful shutdown ────────────────────────────────────
			select {
			case err := <-errCh:
				return fail("HTTP server error", err)
			case <-ctx.Done():
				slog.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server forced shutdown", "error", err)
			} else {
				slog.Info("HTTP server drained gracefully")
			}

			slog.Info("affsync stopped")
			return nil
		},
	}
}

func newAccountsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Print the effective accounts table as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load(os.Stderr)
			accounts, err := config.LoadAccounts(cfg.AccountsFile)
			if err != nil {
				return fail("cannot load accounts", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(config.AccountsFile{Accounts: accounts})
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readResult(path string) (*models.RunResult, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var res models.RunResult
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, models.NewSyncError(models.ErrCodeInvalidInput, "result file is not valid JSON", err)
	}
	return &res, nil
}
