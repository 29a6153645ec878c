// ABOUTME: Configuration loading and parsing for claude-telegram-bot.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bot configuration.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Claude     ClaudeConfig     `yaml:"claude"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Threads    ThreadsConfig    `yaml:"threads"`
	WakeUp     WakeUpConfig     `yaml:"wake_up"`
	Limits     LimitsConfig     `yaml:"limits"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// TelegramConfig holds Telegram Bot API configuration.
type TelegramConfig struct {
	Token         string  `yaml:"token"`
	AllowedUsers  []int64 `yaml:"allowed_users"`
	PrimaryChatID int64   `yaml:"primary_chat_id"`
}

// ClaudeConfig holds Claude CLI invocation configuration.
type ClaudeConfig struct {
	Binary       string   `yaml:"binary"`
	Model        string   `yaml:"model"`
	AllowedTools []string `yaml:"allowed_tools"`
	MaxTurns     int      `yaml:"max_turns"`
	WorkingDir   string   `yaml:"working_dir"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// HeartbeatConfig holds the idle heartbeat scheduler configuration.
type HeartbeatConfig struct {
	Enabled bool   `yaml:"enabled"`
	Message string `yaml:"message"`

	Threshold    time.Duration `yaml:"-"`
	ThresholdRaw string        `yaml:"threshold"`
}

// ThreadsConfig holds the message threading aggregator configuration.
type ThreadsConfig struct {
	ReminderDelay    time.Duration `yaml:"-"`
	ReminderDelayRaw string        `yaml:"reminder_delay"`
}

// WakeUpConfig holds the boot-time wake-up prompt configuration.
type WakeUpConfig struct {
	Enabled bool   `yaml:"enabled"`
	Prompt  string `yaml:"prompt"`
}

// LimitsConfig holds per-user rate limiting configuration.
type LimitsConfig struct {
	RateRequests int `yaml:"rate_requests"`

	RateWindow    time.Duration `yaml:"-"`
	RateWindowRaw string        `yaml:"rate_window"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SupervisorConfig holds restart backoff and crash-loop guard configuration.
type SupervisorConfig struct {
	CrashThreshold int `yaml:"crash_threshold"`

	Backoff        time.Duration `yaml:"-"`
	BackoffRaw     string        `yaml:"backoff"`
	CrashWindow    time.Duration `yaml:"-"`
	CrashWindowRaw string        `yaml:"crash_window"`
}

// Defaults applied by Load when fields are absent.
const (
	DefaultClaudeBinary   = "claude"
	DefaultClaudeModel    = "sonnet"
	DefaultClaudeTimeout  = 15 * time.Minute
	DefaultHeartbeat      = 5 * time.Minute
	DefaultReminderDelay  = 20 * time.Second
	DefaultRateRequests   = 10
	DefaultRateWindow     = time.Minute
	DefaultBackoff        = 2 * time.Second
	DefaultCrashWindow    = time.Minute
	DefaultCrashThreshold = 5
)

// DefaultHeartbeatMessage is the prompt sent after a stretch of silence.
const DefaultHeartbeatMessage = "Hi, this is your internal monologue. Nothing has happened recently. " +
	"You can choose not to do anything, but you have agency and may act independently if you want to."

// DefaultWakeUpPrompt greets the agent once per boot.
const DefaultWakeUpPrompt = "You wake up from a restful sleep."

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(c.Telegram.AllowedUsers) == 0 {
		return fmt.Errorf("telegram.allowed_users must list at least one user id")
	}
	if c.Claude.WorkingDir == "" {
		return fmt.Errorf("claude.working_dir is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Heartbeat.Enabled && c.Heartbeat.Threshold <= 0 {
		return fmt.Errorf("heartbeat.threshold must be positive when heartbeat is enabled")
	}
	return nil
}

// applyDefaults fills in zero-valued optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Claude.Binary == "" {
		cfg.Claude.Binary = DefaultClaudeBinary
	}
	if cfg.Claude.Model == "" {
		cfg.Claude.Model = DefaultClaudeModel
	}
	if cfg.Claude.Timeout == 0 {
		cfg.Claude.Timeout = DefaultClaudeTimeout
	}
	if cfg.Heartbeat.Threshold == 0 {
		cfg.Heartbeat.Threshold = DefaultHeartbeat
	}
	if cfg.Heartbeat.Message == "" {
		cfg.Heartbeat.Message = DefaultHeartbeatMessage
	}
	if cfg.Threads.ReminderDelay == 0 {
		cfg.Threads.ReminderDelay = DefaultReminderDelay
	}
	if cfg.WakeUp.Prompt == "" {
		cfg.WakeUp.Prompt = DefaultWakeUpPrompt
	}
	if cfg.Limits.RateRequests == 0 {
		cfg.Limits.RateRequests = DefaultRateRequests
	}
	if cfg.Limits.RateWindow == 0 {
		cfg.Limits.RateWindow = DefaultRateWindow
	}
	if cfg.Supervisor.Backoff == 0 {
		cfg.Supervisor.Backoff = DefaultBackoff
	}
	if cfg.Supervisor.CrashWindow == 0 {
		cfg.Supervisor.CrashWindow = DefaultCrashWindow
	}
	if cfg.Supervisor.CrashThreshold == 0 {
		cfg.Supervisor.CrashThreshold = DefaultCrashThreshold
	}
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	entries := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Claude.TimeoutRaw, &cfg.Claude.Timeout, "claude.timeout"},
		{cfg.Heartbeat.ThresholdRaw, &cfg.Heartbeat.Threshold, "heartbeat.threshold"},
		{cfg.Threads.ReminderDelayRaw, &cfg.Threads.ReminderDelay, "threads.reminder_delay"},
		{cfg.Limits.RateWindowRaw, &cfg.Limits.RateWindow, "limits.rate_window"},
		{cfg.Supervisor.BackoffRaw, &cfg.Supervisor.Backoff, "supervisor.backoff"},
		{cfg.Supervisor.CrashWindowRaw, &cfg.Supervisor.CrashWindow, "supervisor.crash_window"},
	}

	for _, e := range entries {
		if e.raw == "" {
			continue
		}
		d, err := time.ParseDuration(e.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", e.name, e.raw, err)
		}
		*e.dst = d
	}
	return nil
}
