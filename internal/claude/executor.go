// ABOUTME: Runs the Claude CLI in print mode and streams its JSON output.
// ABOUTME: Handles session resumption, timeouts and escalating termination.

package claude

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nashef/claude-telegram-bot/internal/classify"
)

const (
	// terminateGrace is how long a process gets between SIGTERM and SIGKILL.
	terminateGrace = 5 * time.Second

	// maxLineSize bounds a single stream-json line. Tool results can be large.
	maxLineSize = 10 * 1024 * 1024
)

// Config holds the CLI invocation settings.
type Config struct {
	Binary       string
	Model        string
	AllowedTools []string
	MaxTurns     int
	Timeout      time.Duration
}

// Request describes one prompt to run.
type Request struct {
	Prompt     string
	WorkingDir string
	SessionID  string // resume this session when non-empty
	ProcessID  string // tracker handle to attach the process to
	OnEvent    func(Event)
}

// Invoker runs prompts against the agent. Satisfied by Executor; the
// worker depends on this interface so tests can substitute a fake.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// Executor invokes the Claude CLI as a subprocess.
type Executor struct {
	cfg     Config
	tracker *Tracker
	logger  *slog.Logger
	maxLine int
}

// NewExecutor creates an executor that attaches spawned processes to the
// given tracker.
func NewExecutor(cfg Config, tracker *Tracker, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		tracker: tracker,
		logger:  logger.With("component", "executor"),
		maxLine: maxLineSize,
	}
}

// CommandLine returns the argv the executor would run for a request,
// for tracking and display.
func (e *Executor) CommandLine(req *Request) string {
	return e.cfg.Binary + " " + strings.Join(e.buildArgs(req), " ")
}

func (e *Executor) buildArgs(req *Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	if len(e.cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(e.cfg.AllowedTools, ","))
	}
	if e.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(e.cfg.MaxTurns))
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	return args
}

// Invoke runs the CLI to completion, emitting streaming events along the
// way, and returns the final result. The invocation is bounded by the
// configured timeout; on expiry the process is terminated and the error
// classifies as a timeout.
func (e *Executor) Invoke(ctx context.Context, req *Request) (*Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.Command(e.cfg.Binary, e.buildArgs(req)...)
	cmd.Dir = req.WorkingDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}
	e.logger.Debug("agent started", "pid", cmd.Process.Pid, "resume", req.SessionID != "")

	if e.tracker != nil && req.ProcessID != "" {
		e.tracker.Attach(req.ProcessID, cmd.Process)
	}

	// Kill the process when the deadline or caller cancellation fires.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-runCtx.Done():
			if e.tracker != nil && req.ProcessID != "" {
				_ = e.tracker.Terminate(context.Background(), req.ProcessID, terminateGrace)
			} else {
				_ = cmd.Process.Kill()
			}
		case <-watchDone:
		}
	}()

	var result *Result
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), e.maxLine)
	for scanner.Scan() {
		events, res := parseLine(scanner.Bytes())
		if res != nil {
			result = res
		}
		if req.OnEvent != nil {
			for _, ev := range events {
				req.OnEvent(ev)
			}
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// The scan aborted mid-stream. Keep draining so the process can
		// finish writing and exit instead of blocking on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	close(watchDone)
	if e.tracker != nil && req.ProcessID != "" {
		e.tracker.MarkDone(req.ProcessID, StatusCompleted)
	}

	if err := runCtx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("agent timed out after %s: %w", e.cfg.Timeout, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			tail := stderrTail(stderr.String())
			return nil, &classify.ExitError{
				Code: exitErr.ExitCode(),
				Err:  fmt.Errorf("%s", tail),
			}
		}
		return nil, fmt.Errorf("wait: %w", waitErr)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read agent output: %w", scanErr)
	}
	if result == nil {
		return nil, errors.New("agent produced no result")
	}

	e.logger.Info("agent finished",
		"session_id", result.SessionID,
		"duration", result.Duration,
		"turns", result.NumTurns,
		"is_error", result.IsError)
	return result, nil
}

// stderrTail keeps the last few lines of stderr for error messages.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "no stderr output"
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, "\n")
}
