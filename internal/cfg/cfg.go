package cfg

import (
	"errors"
	"flag"
	"fmt"

	"github.com/linnemanlabs/downtime/internal/incident"
)

// State backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	StateBackend        string
	StatePath           string
	DatabaseURL         string
	BadgerDir           string
	FlushTimeoutSeconds int

	RosterPath      string
	RosterEnvPrefix string

	SlackBotToken      string
	SlackChannelID     string
	SlackSigningSecret string

	PagerDutyRoutingKey    string
	EscalationSource       string
	OutboundTimeoutSeconds int

	AdminToken            string
	ReporterToken         string
	CreateMinTier         string
	MessageRefreshSeconds int
	ReportRatePerMinute   float64
	ReportBurst           int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.StateBackend, "state-backend", BackendFile, "where the active incident is saved: file, postgres or badger")
	fs.StringVar(&c.StatePath, "state-path", "downtime-state.json", "saved state file (state-backend=file)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (state-backend=postgres)")
	fs.StringVar(&c.BadgerDir, "badger-dir", "", "BadgerDB directory (state-backend=badger)")
	fs.IntVar(&c.FlushTimeoutSeconds, "flush-timeout-seconds", 10, "timeout for a single saved state write (1..120)")

	fs.StringVar(&c.RosterPath, "roster-path", "", "reporter tier roster YAML file (empty = everyone is plain)")
	fs.StringVar(&c.RosterEnvPrefix, "roster-env-prefix", "DOWNTIME_ROSTER_", "env prefix for comma-separated roster lists (empty = off)")

	fs.StringVar(&c.SlackBotToken, "slack-bot-token", "", "Slack bot token (empty = in-memory notifier)")
	fs.StringVar(&c.SlackChannelID, "slack-channel-id", "", "Slack channel incident messages are posted to")
	fs.StringVar(&c.SlackSigningSecret, "slack-signing-secret", "", "Slack app signing secret for button clicks and slash commands (empty = disabled)")

	fs.StringVar(&c.PagerDutyRoutingKey, "pagerduty-routing-key", "", "PagerDuty Events v2 routing key (empty = no paging)")
	fs.StringVar(&c.EscalationSource, "escalation-source", "downtime", "source label on paging events")
	fs.IntVar(&c.OutboundTimeoutSeconds, "outbound-timeout-seconds", 30, "timeout for chat and paging calls made after a state change (1..300)")

	fs.StringVar(&c.AdminToken, "admin-token", "", "bearer token for the admin resolve endpoint (empty = disabled)")
	fs.StringVar(&c.ReporterToken, "reporter-token", "", "bearer token the chat adapter uses for reports and votes (empty = disabled)")
	fs.StringVar(&c.CreateMinTier, "create-min-tier", string(incident.TierPlain), "least trusted tier allowed to open an incident")
	fs.IntVar(&c.MessageRefreshSeconds, "message-refresh-seconds", 5, "minimum seconds between incident message edits (0 = never edit)")
	fs.Float64Var(&c.ReportRatePerMinute, "report-rate-per-minute", 6, "sustained reports per minute per reporter (0 = unlimited)")
	fs.IntVar(&c.ReportBurst, "report-burst", 3, "reports a reporter may send at once")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Each backend needs its own location
	switch c.StateBackend {
	case BackendFile:
		if c.StatePath == "" {
			errs = append(errs, errors.New("STATE_PATH is required for the file backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendBadger:
		if c.BadgerDir == "" {
			errs = append(errs, errors.New("BADGER_DIR is required for the badger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STATE_BACKEND %q (must be file, postgres or badger)", c.StateBackend))
	}

	if c.FlushTimeoutSeconds <= 0 || c.FlushTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid FLUSH_TIMEOUT_SECONDS %d (must be 1..120)", c.FlushTimeoutSeconds))
	}

	// A bot token without a channel cannot post anywhere
	if c.SlackBotToken != "" && c.SlackChannelID == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL_ID is required when SLACK_BOT_TOKEN is set"))
	}

	if c.PagerDutyRoutingKey != "" && c.EscalationSource == "" {
		errs = append(errs, errors.New("ESCALATION_SOURCE is required when PAGERDUTY_ROUTING_KEY is set"))
	}

	if c.OutboundTimeoutSeconds <= 0 || c.OutboundTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid OUTBOUND_TIMEOUT_SECONDS %d (must be 1..300)", c.OutboundTimeoutSeconds))
	}

	// The adapter token must not also unlock the admin endpoint
	if c.ReporterToken != "" && c.ReporterToken == c.AdminToken {
		errs = append(errs, errors.New("REPORTER_TOKEN must differ from ADMIN_TOKEN"))
	}

	if _, err := incident.ParseTier(c.CreateMinTier); err != nil || c.CreateMinTier == string(incident.TierBlocked) {
		errs = append(errs, fmt.Errorf("invalid CREATE_MIN_TIER %q (must be plain, linked, patron or trusted)", c.CreateMinTier))
	}

	if c.MessageRefreshSeconds < 0 || c.MessageRefreshSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid MESSAGE_REFRESH_SECONDS %d (must be 0..3600)", c.MessageRefreshSeconds))
	}

	if c.ReportRatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("invalid REPORT_RATE_PER_MINUTE %v (must be >= 0)", c.ReportRatePerMinute))
	}
	if c.ReportBurst < 1 || c.ReportBurst > 1000 {
		errs = append(errs, fmt.Errorf("invalid REPORT_BURST %d (must be 1..1000)", c.ReportBurst))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
