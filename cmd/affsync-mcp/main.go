package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/affsync/models"
)

// pollInterval is how often trigger_run checks a run it waits for.
var pollInterval = 5 * time.Second

func main() {
	apiURL := os.Getenv("AFFSYNC_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("AFFSYNC_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "AFFSYNC_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"affsync",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	c := &client{
		baseURL: strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	triggerRunTool := mcp.NewTool("trigger_run",
		mcp.WithDescription("Start an affiliate earnings sync: scrape every configured store and upsert the metrics into the spreadsheet. Returns the run ID, or the finished run when wait is true."),
		mcp.WithString("date",
			mcp.Description("Report date: 'yesterday' (default), 'today' or YYYY-MM-DD"),
		),
		mcp.WithString("store_id",
			mcp.Description("Restrict the run to one configured store ID"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Scrape but do not write to the spreadsheet"),
		),
		mcp.WithBoolean("wait",
			mcp.Description("Wait for the run to finish (can take several minutes)"),
		),
	)
	s.AddTool(triggerRunTool, handleTriggerRun(c))

	getRunTool := mcp.NewTool("get_run",
		mcp.WithDescription("Get the status and results of a sync run."),
		mcp.WithString("id",
			mcp.Description("Run ID returned by trigger_run; defaults to the latest run"),
		),
	)
	s.AddTool(getRunTool, handleGetRun(c))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// client calls the affsync HTTP API.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// do sends a request and decodes the body into out on 2xx, or returns the
// API error otherwise.
func (c *client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr models.APIError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != nil {
			return fmt.Errorf("[%s] %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func (c *client) getRun(ctx context.Context, id string) (*models.RunResponse, error) {
	var run models.RunResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+id, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// waitForRun polls until the run leaves the running state or ctx ends.
func (c *client) waitForRun(ctx context.Context, id string) (*models.RunResponse, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			run, err := c.getRun(ctx, id)
			if err != nil {
				return nil, err
			}
			if run.Status != models.RunStatusRunning {
				return run, nil
			}
		}
	}
}

func handleTriggerRun(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req := models.RunRequest{
			Date:    request.GetString("date", ""),
			StoreID: request.GetString("store_id", ""),
			DryRun:  request.GetBool("dry_run", false),
		}

		var run models.RunResponse
		if err := c.do(ctx, http.MethodPost, "/api/v1/runs", req, &run); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to start run: %v", err)), nil
		}

		if !request.GetBool("wait", false) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"Run %s started for %s. Use get_run with this id to follow it.", run.ID, run.ReportDate)), nil
		}

		done, err := c.waitForRun(ctx, run.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run %s: %v", run.ID, err)), nil
		}
		return mcp.NewToolResultText(formatRun(done)), nil
	}
}

func handleGetRun(c *client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("id", "latest")
		run, err := c.getRun(ctx, id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get run: %v", err)), nil
		}
		return mcp.NewToolResultText(formatRun(run)), nil
	}
}

// formatRun renders a run as a short summary followed by its rows.
func formatRun(run *models.RunResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s, trigger %s)\nReport date: %s\n", run.ID, run.Status, run.Trigger, run.ReportDate)
	if run.Error != nil {
		fmt.Fprintf(&b, "Error: [%s] %s\n", run.Error.Code, run.Error.Message)
	}
	if res := run.Result; res != nil {
		fmt.Fprintf(&b, "Rows: %d, failures: %d, warnings: %d\n", res.Count, len(res.Failures), len(res.Warnings))
		for _, r := range res.Results {
			fmt.Fprintf(&b, "- %s/%s: revenue %.2f, earnings %.2f, clicks %d, orders %d",
				r.StoreID, r.TrackingID, r.Revenue, r.Earnings, r.Clicks, r.Orders)
			if r.Empty {
				b.WriteString(" (no data)")
			}
			b.WriteString("\n")
		}
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "! %s %s %s: %s\n", f.StoreID, f.TrackingID, f.Code, f.Message)
		}
	}
	if w := run.Write; w != nil {
		fmt.Fprintf(&b, "Sheet: saved %d (%d updated, %d appended)", w.Saved, w.Updated, w.Appended)
		if w.DryRun {
			b.WriteString(" [dry run]")
		}
		b.WriteString("\n")
		for _, e := range w.Errors {
			fmt.Fprintf(&b, "! %s\n", e)
		}
	}
	return b.String()
}
