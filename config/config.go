package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Browser     BrowserConfig
	Dashboard   DashboardConfig
	Credentials Credentials
	Scrape      ScrapeConfig
	Sheets      SheetsConfig
	Notify      NotifyConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Runs        RunsConfig
	Schedule    ScheduleConfig
	Log         LogConfig

	// AccountsFile is an optional YAML file mapping store IDs to tracking IDs.
	AccountsFile string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the connection to the remote browser service.
type BrowserConfig struct {
	// Endpoints are CDP websocket URLs tried in order. "{token}" is replaced
	// with Token.
	Endpoints []string

	// Token authenticates against the browser service.
	Token string

	// Launch starts a local Chromium when no endpoint is configured.
	Launch bool // default: false

	// BrowserBin overrides the Chromium binary path for Launch.
	BrowserBin string

	// Stealth injects the stealth.js evasions into every page.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string

	ViewportWidth  int // default: 1920
	ViewportHeight int // default: 1080
}

// DashboardConfig holds the affiliate dashboard URLs and timing.
type DashboardConfig struct {
	ReportURL string

	NavigationTimeout time.Duration // default: 20s
	ElementTimeout    time.Duration // default: 8s
	LoginTimeout      time.Duration // default: 20s
	SwitchTimeout     time.Duration // default: 10s

	// TypingDelay is the pause between typed characters.
	TypingDelay time.Duration // default: 20ms

	// SettleDelay is the pause after a click that re-renders the page.
	SettleDelay time.Duration // default: 3s

	// DebugDir receives screenshots when login or switching fails. Empty disables.
	DebugDir string
}

// Credentials for the dashboard login.
type Credentials struct {
	Email    string
	Password string
}

// ScrapeConfig controls the orchestrator loop.
type ScrapeConfig struct {
	TrackingDelay time.Duration // default: 2s
	AccountDelay  time.Duration // default: 3s

	ExtractAttempts   int // default: 3
	DashboardAttempts int // default: 3

	// ReorderToCurrent processes the already-selected store first.
	ReorderToCurrent bool // default: true

	// DropEmptyRows skips rows whose metrics stayed blank after all retries.
	DropEmptyRows bool // default: false

	// SelectDate types the report date into the dashboard date picker.
	SelectDate bool // default: true

	// RunTimeout bounds a whole run.
	RunTimeout time.Duration // default: 30m
}

// SheetsConfig controls the Google Sheets destination.
type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsFile string

	// WritesPerMinute paces API calls below the per-user quota.
	WritesPerMinute int // default: 50
}

// NotifyConfig controls run notifications.
type NotifyConfig struct {
	SMTPHost     string
	SMTPPort     int // default: 587
	SMTPUser     string
	SMTPPassword string
	From         string
	To           []string

	// Always sends the summary email even for clean runs.
	Always bool // default: false

	WebhookURL    string
	WebhookSecret string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 1

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// RunsConfig controls the in-memory run history.
type RunsConfig struct {
	MaxEntries int           // default: 100
	TTL        time.Duration // default: 24h
}

// ScheduleConfig controls the daily scheduled run.
type ScheduleConfig struct {
	Enabled bool   // default: false
	Cron    string // default: "0 6 * * *"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DefaultEndpoints are the browserless regions tried when none are configured.
var DefaultEndpoints = []string{
	"wss://production-sfo.browserless.io?token={token}",
	"wss://production-lon.browserless.io?token={token}",
	"wss://chrome.browserless.io?token={token}",
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first when present; values
// already set in the environment win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host: envOr("AFFSYNC_HOST", "0.0.0.0"),
			Port: envIntOr("AFFSYNC_PORT", 8080),
			Mode: envOr("AFFSYNC_MODE", "release"),
		},
		Browser: BrowserConfig{
			Endpoints:  envSliceOr("AFFSYNC_BROWSER_ENDPOINTS", DefaultEndpoints),
			Token:      os.Getenv("AFFSYNC_BROWSER_TOKEN"),
			Launch:     envBoolOr("AFFSYNC_BROWSER_LAUNCH", false),
			BrowserBin: os.Getenv("AFFSYNC_BROWSER_BIN"),
			Stealth:    envBoolOr("AFFSYNC_STEALTH", true),
			BlockedResourceTypes: envSliceOr("AFFSYNC_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
			ViewportWidth:  envIntOr("AFFSYNC_VIEWPORT_WIDTH", 1920),
			ViewportHeight: envIntOr("AFFSYNC_VIEWPORT_HEIGHT", 1080),
		},
		Dashboard: DashboardConfig{
			ReportURL:         envOr("AFFSYNC_REPORT_URL", "https://affiliate-program.amazon.com/p/reporting/earnings"),
			NavigationTimeout: envDurationOr("AFFSYNC_NAV_TIMEOUT", 20*time.Second),
			ElementTimeout:    envDurationOr("AFFSYNC_ELEMENT_TIMEOUT", 8*time.Second),
			LoginTimeout:      envDurationOr("AFFSYNC_LOGIN_TIMEOUT", 20*time.Second),
			SwitchTimeout:     envDurationOr("AFFSYNC_SWITCH_TIMEOUT", 10*time.Second),
			TypingDelay:       envDurationOr("AFFSYNC_TYPING_DELAY", 20*time.Millisecond),
			SettleDelay:       envDurationOr("AFFSYNC_SETTLE_DELAY", 3*time.Second),
			DebugDir:          os.Getenv("AFFSYNC_DEBUG_DIR"),
		},
		Credentials: Credentials{
			Email:    os.Getenv("AFFSYNC_EMAIL"),
			Password: os.Getenv("AFFSYNC_PASSWORD"),
		},
		Scrape: ScrapeConfig{
			TrackingDelay:     envDurationOr("AFFSYNC_TRACKING_DELAY", 2*time.Second),
			AccountDelay:      envDurationOr("AFFSYNC_ACCOUNT_DELAY", 3*time.Second),
			ExtractAttempts:   envIntOr("AFFSYNC_EXTRACT_ATTEMPTS", 3),
			DashboardAttempts: envIntOr("AFFSYNC_DASHBOARD_ATTEMPTS", 3),
			ReorderToCurrent:  envBoolOr("AFFSYNC_REORDER_TO_CURRENT", true),
			DropEmptyRows:     envBoolOr("AFFSYNC_DROP_EMPTY_ROWS", false),
			SelectDate:        envBoolOr("AFFSYNC_SELECT_DATE", true),
			RunTimeout:        envDurationOr("AFFSYNC_RUN_TIMEOUT", 30*time.Minute),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   envOr("AFFSYNC_SPREADSHEET_ID", "1fDdgQNV_YT5Zvksv4JVI45kv2DFtSOvikScZq9HAsiM"),
			CredentialsFile: os.Getenv("AFFSYNC_SHEETS_CREDENTIALS"),
			WritesPerMinute: envIntOr("AFFSYNC_SHEETS_WRITES_PER_MINUTE", 50),
		},
		Notify: NotifyConfig{
			SMTPHost:      os.Getenv("AFFSYNC_SMTP_HOST"),
			SMTPPort:      envIntOr("AFFSYNC_SMTP_PORT", 587),
			SMTPUser:      os.Getenv("AFFSYNC_SMTP_USER"),
			SMTPPassword:  os.Getenv("AFFSYNC_SMTP_PASSWORD"),
			From:          os.Getenv("AFFSYNC_NOTIFY_EMAIL_FROM"),
			To:            envSliceOr("AFFSYNC_NOTIFY_EMAIL_TO", nil),
			Always:        envBoolOr("AFFSYNC_NOTIFY_ALWAYS", false),
			WebhookURL:    os.Getenv("AFFSYNC_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("AFFSYNC_WEBHOOK_SECRET"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("AFFSYNC_AUTH_ENABLED", true),
			APIKeys: envSliceOr("AFFSYNC_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("AFFSYNC_RATE_RPS", 1.0),
			Burst:             envIntOr("AFFSYNC_RATE_BURST", 5),
		},
		Runs: RunsConfig{
			MaxEntries: envIntOr("AFFSYNC_RUNS_MAX_ENTRIES", 100),
			TTL:        envDurationOr("AFFSYNC_RUNS_TTL", 24*time.Hour),
		},
		Schedule: ScheduleConfig{
			Enabled: envBoolOr("AFFSYNC_SCHEDULE_ENABLED", false),
			Cron:    envOr("AFFSYNC_SCHEDULE_CRON", "0 6 * * *"),
		},
		Log: LogConfig{
			Level:  envOr("AFFSYNC_LOG_LEVEL", "info"),
			Format: envOr("AFFSYNC_LOG_FORMAT", "json"),
		},
		AccountsFile: os.Getenv("AFFSYNC_ACCOUNTS_FILE"),
	}
}

// ResolvedEndpoints returns the endpoint list with the token substituted.
func (b BrowserConfig) ResolvedEndpoints() []string {
	out := make([]string, 0, len(b.Endpoints))
	for _, e := range b.Endpoints {
		out = append(out, strings.ReplaceAll(e, "{token}", b.Token))
	}
	return out
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
