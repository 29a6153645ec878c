// ABOUTME: Entry point for the claude-telegram-bot daemon
// ABOUTME: Bridges Telegram chats to a local Claude CLI agent

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/nashef/claude-telegram-bot/internal/app"
	"github.com/nashef/claude-telegram-bot/internal/config"
	"github.com/nashef/claude-telegram-bot/internal/supervisor"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _                 _            _       _
  ___| | __ _ _   _  __| | ___      | |_ ___| | ___  __ _ _ __ __ _ _ __ ___
 / __| |/ _' | | | |/ _' |/ _ \_____| __/ _ \ |/ _ \/ _' | '__/ _' | '_ ' _ \
| (__| | (_| | |_| | (_| |  __/_____| ||  __/ |  __/ (_| | | | (_| | | | | | |
 \___|_|\__,_|\__,_|\__,_|\___|      \__\___|_|\___|\__, |_|  \__,_|_| |_| |_|
                                                    |___/
`

// getConfigPath returns the path to the bot config file.
// Priority: CLAUDE_BOT_CONFIG env var > XDG_CONFIG_HOME/claude-telegram-bot/bot.yaml > ~/.config/claude-telegram-bot/bot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CLAUDE_BOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "claude-telegram-bot", "bot.yaml")
}

// getDataPath returns the path to the bot data directory.
// Priority: XDG_DATA_HOME/claude-telegram-bot > ~/.local/share/claude-telegram-bot
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "claude-telegram-bot")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: claude-telegram-bot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the bot")
		fmt.Println("  init     Create a new config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logLevel := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Claude:     %s (%s)\n", cfg.Claude.Binary, cfg.Claude.Model)
	green.Print("    ▶ ")
	fmt.Printf("Workdir:    %s\n", cfg.Claude.WorkingDir)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	if cfg.Heartbeat.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Heartbeat:  every %s of silence\n", cfg.Heartbeat.Threshold)
	}
	fmt.Println()

	logger.Info("starting claude-telegram-bot",
		"config", configPath,
		"allowed_users", len(cfg.Telegram.AllowedUsers),
		"working_dir", cfg.Claude.WorkingDir,
	)

	a := app.New(cfg, logger, logLevel)
	sup := supervisor.New(supervisor.Config{
		Backoff:        cfg.Supervisor.Backoff,
		CrashWindow:    cfg.Supervisor.CrashWindow,
		CrashThreshold: cfg.Supervisor.CrashThreshold,
	}, a.Run, a.Notify, logger)

	return sup.Run(ctx)
}

// setupLogger builds the root logger around a shared LevelVar so the /debug
// command can raise and lower verbosity at runtime.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	switch cfg.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler), level
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("claude-telegram-bot configuration setup")
	fmt.Println("=======================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "bot.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Telegram Configuration ---")
	token := prompt(reader, "Bot token (or ${TELEGRAM_BOT_TOKEN})", "${TELEGRAM_BOT_TOKEN}")
	userID := prompt(reader, "Your Telegram user id", "")
	chatID := prompt(reader, "Primary chat id (usually the same)", userID)

	fmt.Println("\n--- Claude Configuration ---")
	binary := prompt(reader, "Claude CLI binary", "claude")
	model := prompt(reader, "Model", "sonnet")
	workingDir := prompt(reader, "Working directory for the agent", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Heartbeat Configuration ---")
	hbEnabled := prompt(reader, "Enable idle heartbeats?", "yes")
	heartbeatEnabled := strings.ToLower(hbEnabled) == "yes" || strings.ToLower(hbEnabled) == "y"
	hbThreshold := "5m"
	if heartbeatEnabled {
		hbThreshold = prompt(reader, "Heartbeat after how much silence", "5m")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# claude-telegram-bot configuration\n")
	cfg.WriteString("# Generated by claude-telegram-bot init\n\n")

	cfg.WriteString("telegram:\n")
	cfg.WriteString(fmt.Sprintf("  token: \"%s\"\n", token))
	cfg.WriteString("  allowed_users:\n")
	if userID != "" {
		cfg.WriteString(fmt.Sprintf("    - %s\n", userID))
	}
	if chatID != "" {
		cfg.WriteString(fmt.Sprintf("  primary_chat_id: %s\n", chatID))
	}
	cfg.WriteString("\n")

	cfg.WriteString("claude:\n")
	cfg.WriteString(fmt.Sprintf("  binary: \"%s\"\n", binary))
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
	cfg.WriteString(fmt.Sprintf("  working_dir: \"%s\"\n", workingDir))
	cfg.WriteString("  timeout: \"15m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("heartbeat:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", heartbeatEnabled))
	cfg.WriteString(fmt.Sprintf("  threshold: \"%s\"\n", hbThreshold))
	cfg.WriteString("\n")

	cfg.WriteString("wake_up:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the bot:")
	fmt.Printf("  claude-telegram-bot serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
