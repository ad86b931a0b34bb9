package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		DrainSeconds:          60,
		ShutdownBudgetSeconds: 90,
		APIPort:               8080,
		LLMProvider:           ProviderOpenAI,
		LLMTimeoutSeconds:     20,
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIModel:           "gpt-4o-mini",
		ClaudeModel:           "claude-sonnet-4-20250514",
		SQLitePath:            "responder.db",
		RetainedRuns:          1000,
		ApprovalQueueCapacity: 128,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	if c.DrainSeconds != 60 {
		t.Errorf("DrainSeconds = %d, want 60", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 90 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 90", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 8080 {
		t.Errorf("APIPort = %d, want 8080", c.APIPort)
	}
	if c.LLMProvider != ProviderOpenAI {
		t.Errorf("LLMProvider = %q, want %q", c.LLMProvider, ProviderOpenAI)
	}
	if c.LLMTimeoutSeconds != 20 {
		t.Errorf("LLMTimeoutSeconds = %d, want 20", c.LLMTimeoutSeconds)
	}
	if c.OpenAIAPIKey != "" {
		t.Errorf("OpenAIAPIKey = %q, want empty", c.OpenAIAPIKey)
	}
	if c.SQLitePath != "responder.db" {
		t.Errorf("SQLitePath = %q, want %q", c.SQLitePath, "responder.db")
	}
	if c.ApprovalQueueCapacity != 128 {
		t.Errorf("ApprovalQueueCapacity = %d, want 128", c.ApprovalQueueCapacity)
	}
	if c.RetainedRuns != 1000 {
		t.Errorf("RetainedRuns = %d, want 1000", c.RetainedRuns)
	}

	// defaults alone must be a runnable configuration
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() on defaults: %v", err)
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-drain-seconds", "30",
		"-shutdown-budget-seconds", "120",
		"-http-port", "9090",
		"-llm-provider", "claude",
		"-claude-api-key", "sk-override",
		"-claude-model", "claude-opus-4-20250514",
		"-sqlite-path", "/var/lib/responder/kb.db",
		"-redis-addr", "redis:6379",
		"-approval-queue-capacity", "16",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.DrainSeconds != 30 {
		t.Errorf("DrainSeconds = %d, want 30", c.DrainSeconds)
	}
	if c.ShutdownBudgetSeconds != 120 {
		t.Errorf("ShutdownBudgetSeconds = %d, want 120", c.ShutdownBudgetSeconds)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
	if c.LLMProvider != ProviderClaude {
		t.Errorf("LLMProvider = %q, want %q", c.LLMProvider, ProviderClaude)
	}
	if c.ClaudeAPIKey != "sk-override" {
		t.Errorf("ClaudeAPIKey = %q, want %q", c.ClaudeAPIKey, "sk-override")
	}
	if c.ClaudeModel != "claude-opus-4-20250514" {
		t.Errorf("ClaudeModel = %q, want %q", c.ClaudeModel, "claude-opus-4-20250514")
	}
	if c.SQLitePath != "/var/lib/responder/kb.db" {
		t.Errorf("SQLitePath = %q", c.SQLitePath)
	}
	if c.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q, want %q", c.RedisAddr, "redis:6379")
	}
	if c.ApprovalQueueCapacity != 16 {
		t.Errorf("ApprovalQueueCapacity = %d, want 16", c.ApprovalQueueCapacity)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	with := func(mut func(*Config)) Config {
		c := validBase()
		mut(&c)
		return c
	}

	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{
			name:    "defaults are valid",
			cfg:     validBase(),
			wantErr: false,
		},
		{
			name: "minimum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 1, 2, 1
				c.LLMTimeoutSeconds, c.ApprovalQueueCapacity = 1, 1
			}),
			wantErr: false,
		},
		{
			name: "maximum valid values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = 299, 300, 65535
				c.LLMTimeoutSeconds, c.ApprovalQueueCapacity = 300, 100000
			}),
			wantErr: false,
		},
		{
			name:    "empty openai key is allowed",
			cfg:     with(func(c *Config) { c.OpenAIAPIKey = "" }),
			wantErr: false,
		},
		{
			name:    "claude provider without openai settings",
			cfg:     with(func(c *Config) { c.LLMProvider = ProviderClaude; c.OpenAIModel = ""; c.OpenAIBaseURL = "" }),
			wantErr: false,
		},
		// DrainSeconds boundaries
		{
			name:      "drain zero",
			cfg:       with(func(c *Config) { c.DrainSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:      "drain above max",
			cfg:       with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 301, 302 }),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS"},
		},
		{
			name:    "drain at upper bound",
			cfg:     with(func(c *Config) { c.DrainSeconds, c.ShutdownBudgetSeconds = 300, 300 }),
			wantErr: true, // budget must be greater than drain
		},
		// ShutdownBudgetSeconds boundaries
		{
			name:      "budget zero",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget above max",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 301 }),
			wantErr:   true,
			errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"},
		},
		{
			name:      "budget equals drain",
			cfg:       with(func(c *Config) { c.ShutdownBudgetSeconds = 60 }),
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// APIPort boundaries
		{
			name:      "port zero",
			cfg:       with(func(c *Config) { c.APIPort = 0 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		{
			name:      "port above max",
			cfg:       with(func(c *Config) { c.APIPort = 65536 }),
			wantErr:   true,
			errSubstr: []string{"HTTP_PORT"},
		},
		// Model transport
		{
			name:      "unknown provider",
			cfg:       with(func(c *Config) { c.LLMProvider = "gemini" }),
			wantErr:   true,
			errSubstr: []string{"LLM_PROVIDER"},
		},
		{
			name:      "empty openai model",
			cfg:       with(func(c *Config) { c.OpenAIModel = "" }),
			wantErr:   true,
			errSubstr: []string{"OPENAI_MODEL"},
		},
		{
			name:      "relative openai base url",
			cfg:       with(func(c *Config) { c.OpenAIBaseURL = "/v1" }),
			wantErr:   true,
			errSubstr: []string{"OPENAI_BASE_URL"},
		},
		{
			name:      "empty claude model",
			cfg:       with(func(c *Config) { c.LLMProvider = ProviderClaude; c.ClaudeModel = "" }),
			wantErr:   true,
			errSubstr: []string{"CLAUDE_MODEL"},
		},
		{
			name:      "llm timeout zero",
			cfg:       with(func(c *Config) { c.LLMTimeoutSeconds = 0 }),
			wantErr:   true,
			errSubstr: []string{"LLM_TIMEOUT_SECONDS"},
		},
		// Storage and queue
		{
			name:      "empty sqlite path",
			cfg:       with(func(c *Config) { c.SQLitePath = "" }),
			wantErr:   true,
			errSubstr: []string{"SQLITE_PATH"},
		},
		{
			name:      "negative redis db",
			cfg:       with(func(c *Config) { c.RedisDB = -1 }),
			wantErr:   true,
			errSubstr: []string{"REDIS_DB"},
		},
		{
			name:      "retained runs zero",
			cfg:       with(func(c *Config) { c.RetainedRuns = 0 }),
			wantErr:   true,
			errSubstr: []string{"RETAINED_RUNS"},
		},
		{
			name:      "retained runs too large",
			cfg:       with(func(c *Config) { c.RetainedRuns = 1000001 }),
			wantErr:   true,
			errSubstr: []string{"RETAINED_RUNS"},
		},
		{
			name:      "queue capacity zero",
			cfg:       with(func(c *Config) { c.ApprovalQueueCapacity = 0 }),
			wantErr:   true,
			errSubstr: []string{"APPROVAL_QUEUE_CAPACITY"},
		},
		// Error accumulation: all fields invalid
		{
			name:    "all fields invalid",
			cfg:     Config{},
			wantErr: true,
			errSubstr: []string{
				"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT", "LLM_PROVIDER",
				"LLM_TIMEOUT_SECONDS", "SQLITE_PATH", "RETAINED_RUNS", "APPROVAL_QUEUE_CAPACITY",
			},
		},
		{
			name: "extreme negative values",
			cfg: with(func(c *Config) {
				c.DrainSeconds, c.ShutdownBudgetSeconds, c.APIPort = math.MinInt32, math.MinInt32, math.MinInt32
			}),
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "HTTP_PORT"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func FuzzValidate(f *testing.F) {
	seeds := []struct {
		drain, budget, port, timeout, capacity int
		provider, sqlitePath                   string
	}{
		{60, 90, 8080, 20, 128, "openai", "responder.db"},
		{1, 2, 1, 1, 1, "claude", "x"},
		{299, 300, 65535, 300, 100000, "openai", "x"},
		{0, 0, 0, 0, 0, "", ""},
		{-1, -1, -1, -1, -1, "gemini", ""},
		{300, 300, 65535, 20, 128, "openai", "x"},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, "", ""},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, "", ""},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.timeout, s.capacity, s.provider, s.sqlitePath)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, timeout, capacity int, provider, sqlitePath string) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.LLMTimeoutSeconds = timeout
		c.ApprovalQueueCapacity = capacity
		c.LLMProvider = provider
		c.SQLitePath = sqlitePath
		err := c.Validate()

		allValid := drain >= 1 && drain <= 300 &&
			budget >= 1 && budget <= 300 &&
			budget > drain &&
			port >= 1 && port <= 65535 &&
			timeout >= 1 && timeout <= 300 &&
			capacity >= 1 && capacity <= 100000 &&
			(provider == ProviderOpenAI || provider == ProviderClaude) &&
			sqlitePath != ""

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
