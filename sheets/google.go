package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	valueInputOption = "USER_ENTERED"
	insertDataOption = "INSERT_ROWS"
)

// retryDelays are the pauses before retrying a quota or server error.
var retryDelays = []time.Duration{time.Second, 5 * time.Second}

// GoogleStore is a Store backed by the Sheets v4 API.
type GoogleStore struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// GoogleOptions configures NewGoogleStore.
type GoogleOptions struct {
	SpreadsheetID string

	// CredentialsFile is a service-account JSON key. Empty uses Application
	// Default Credentials.
	CredentialsFile string

	// WritesPerMinute paces every API call. Zero disables pacing.
	WritesPerMinute int

	Logger *slog.Logger
}

// NewGoogleStore connects to the Sheets API.
func NewGoogleStore(ctx context.Context, opts GoogleOptions) (*GoogleStore, error) {
	if opts.SpreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet ID is required")
	}

	clientOpts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.WritesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(opts.WritesPerMinute)/60), 1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GoogleStore{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		limiter:       limiter,
		logger:        logger,
	}, nil
}

func (g *GoogleStore) TabNames(ctx context.Context) ([]string, error) {
	var names []string
	err := g.call(ctx, "get spreadsheet", func() error {
		ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
			Fields("sheets.properties.title").
			Context(ctx).Do()
		if err != nil {
			return err
		}
		names = names[:0]
		for _, sh := range ss.Sheets {
			if sh.Properties != nil {
				names = append(names, sh.Properties.Title)
			}
		}
		return nil
	})
	return names, err
}

func (g *GoogleStore) CreateTab(ctx context.Context, name string) error {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: name},
			},
		}},
	}
	return g.call(ctx, "add sheet", func() error {
		_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

func (g *GoogleStore) GetValues(ctx context.Context, rng string) ([][]string, error) {
	var rows [][]string
	err := g.call(ctx, "get values", func() error {
		vr, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, rng).Context(ctx).Do()
		if err != nil {
			return err
		}
		rows = make([][]string, len(vr.Values))
		for i, row := range vr.Values {
			cells := make([]string, len(row))
			for j, v := range row {
				cells[j] = fmt.Sprint(v)
			}
			rows[i] = cells
		}
		return nil
	})
	return rows, err
}

func (g *GoogleStore) UpdateValues(ctx context.Context, rng string, rows [][]any) error {
	return g.call(ctx, "update values", func() error {
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, rng, &sheetsapi.ValueRange{Values: rows}).
			ValueInputOption(valueInputOption).
			Context(ctx).Do()
		return err
	})
}

func (g *GoogleStore) AppendValues(ctx context.Context, rng string, rows [][]any) error {
	return g.call(ctx, "append values", func() error {
		_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, rng, &sheetsapi.ValueRange{Values: rows}).
			ValueInputOption(valueInputOption).
			InsertDataOption(insertDataOption).
			Context(ctx).Do()
		return err
	})
}

// call paces fn through the limiter and retries quota and server errors.
func (g *GoogleStore) call(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if werr := g.limiter.Wait(ctx); werr != nil {
			return fmt.Errorf("sheets: %s: %w", op, werr)
		}
		err = fn()
		if err == nil || !retryable(err) || attempt >= len(retryDelays) {
			break
		}
		g.logger.Warn("sheets call throttled, retrying", "op", op, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("sheets: %s: %w", op, ctx.Err())
		case <-time.After(retryDelays[attempt]):
		}
	}
	if err != nil {
		return fmt.Errorf("sheets: %s: %w", op, err)
	}
	return nil
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
}
