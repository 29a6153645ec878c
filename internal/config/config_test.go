// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

const validConfig = `
telegram:
  token: "123456:test-token"
  allowed_users:
    - 1000
    - 2000
  primary_chat_id: 1000

claude:
  model: "opus"
  working_dir: "/srv/agent"
  timeout: "10m"
  allowed_tools:
    - "Read"
    - "Bash"

heartbeat:
  enabled: true
  threshold: "300s"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Telegram.Token != "123456:test-token" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowedUsers) != 2 || cfg.Telegram.AllowedUsers[0] != 1000 {
		t.Errorf("allowed_users = %v", cfg.Telegram.AllowedUsers)
	}
	if cfg.Claude.Model != "opus" {
		t.Errorf("model = %q", cfg.Claude.Model)
	}
	if cfg.Claude.Timeout != 10*time.Minute {
		t.Errorf("timeout = %v", cfg.Claude.Timeout)
	}
	if cfg.Heartbeat.Threshold != 300*time.Second {
		t.Errorf("heartbeat threshold = %v", cfg.Heartbeat.Threshold)
	}
	if len(cfg.Claude.AllowedTools) != 2 {
		t.Errorf("allowed_tools = %v", cfg.Claude.AllowedTools)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
telegram:
  token: "t"
  allowed_users: [1]
claude:
  working_dir: "/srv/agent"
database:
  path: "./test.db"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Claude.Binary != DefaultClaudeBinary {
		t.Errorf("binary = %q", cfg.Claude.Binary)
	}
	if cfg.Claude.Timeout != DefaultClaudeTimeout {
		t.Errorf("timeout = %v", cfg.Claude.Timeout)
	}
	if cfg.Threads.ReminderDelay != DefaultReminderDelay {
		t.Errorf("reminder_delay = %v", cfg.Threads.ReminderDelay)
	}
	if cfg.Supervisor.Backoff != DefaultBackoff {
		t.Errorf("backoff = %v", cfg.Supervisor.Backoff)
	}
	if cfg.Supervisor.CrashThreshold != DefaultCrashThreshold {
		t.Errorf("crash_threshold = %d", cfg.Supervisor.CrashThreshold)
	}
	if cfg.Heartbeat.Message != DefaultHeartbeatMessage {
		t.Errorf("heartbeat message = %q", cfg.Heartbeat.Message)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_BOT_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, `
telegram:
  token: "${TEST_BOT_TOKEN}"
  allowed_users: [1]
claude:
  working_dir: "/srv/agent"
database:
  path: "./test.db"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Telegram.Token)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	_, err := Load(writeConfig(t, `
telegram:
  allowed_users: [1]
claude:
  working_dir: "/srv/agent"
database:
  path: "./test.db"
`))
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Errorf("expected telegram.token error, got %v", err)
	}
}

func TestLoad_MissingAllowedUsers(t *testing.T) {
	_, err := Load(writeConfig(t, `
telegram:
  token: "t"
claude:
  working_dir: "/srv/agent"
database:
  path: "./test.db"
`))
	if err == nil || !strings.Contains(err.Error(), "allowed_users") {
		t.Errorf("expected allowed_users error, got %v", err)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
telegram:
  token: "t"
  allowed_users: [1]
claude:
  working_dir: "/srv/agent"
  timeout: "not-a-duration"
database:
  path: "./test.db"
`))
	if err == nil || !strings.Contains(err.Error(), "claude.timeout") {
		t.Errorf("expected duration parse error, got %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for missing file")
	}
}
