package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// LLM provider names accepted by -llm-provider.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	LLMProvider       string
	LLMTimeoutSeconds int
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	ClaudeAPIKey      string
	ClaudeModel       string

	SQLitePath  string
	DatabaseURL string
	FixturesDir string

	SlackWebhookURL string
	RetainedRuns    int

	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ApprovalQueueCapacity int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")

	fs.StringVar(&c.LLMProvider, "llm-provider", ProviderOpenAI, "reasoning model transport (openai|claude)")
	fs.IntVar(&c.LLMTimeoutSeconds, "llm-timeout-seconds", 20, "hard timeout for a single model call (1..300)")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key (empty = orchestrator reports not configured)")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4o-mini", "OpenAI model to use")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.SQLitePath, "sqlite-path", "responder.db", "SQLite database file for the knowledge base (and incidents when no database-url)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for incidents (empty = SQLite store)")
	fs.StringVar(&c.FixturesDir, "fixtures-dir", "", "directory of evidence fixtures (empty = embedded fixtures)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.IntVar(&c.RetainedRuns, "retained-runs", 1000, "finished runs kept in memory for GET /api/v1/runs/{id}, oldest evicted first (1..1000000)")

	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the approval queue (empty = in-memory queue)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis logical database")
	fs.IntVar(&c.ApprovalQueueCapacity, "approval-queue-capacity", 128, "maximum pending approvals (1..100000)")
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
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		// an empty key is allowed, runs then fall back to the fixture runner
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required"))
		}
		if u, err := url.Parse(c.OpenAIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid OPENAI_BASE_URL %q", c.OpenAIBaseURL))
		}
	case ProviderClaude:
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be %s or %s)", c.LLMProvider, ProviderOpenAI, ProviderClaude))
	}

	if c.LLMTimeoutSeconds <= 0 || c.LLMTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS %d (must be 1..300)", c.LLMTimeoutSeconds))
	}

	if c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required"))
	}

	if c.RetainedRuns <= 0 || c.RetainedRuns > 1000000 {
		errs = append(errs, fmt.Errorf("invalid RETAINED_RUNS %d (must be 1..1000000)", c.RetainedRuns))
	}

	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}
	if c.ApprovalQueueCapacity <= 0 || c.ApprovalQueueCapacity > 100000 {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_QUEUE_CAPACITY %d (must be 1..100000)", c.ApprovalQueueCapacity))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
