// ABOUTME: Minimal Telegram Bot API client over net/http.
// ABOUTME: Long-polls updates, sends and edits messages, and downloads files.

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nashef/claude-telegram-bot/internal/classify"
)

// MaxMessageLen is Telegram's per-message character limit.
const MaxMessageLen = 4096

const defaultBaseURL = "https://api.telegram.org"

// ActionTyping is the chat action shown while the agent works.
const ActionTyping = "typing"

// Client talks to the Telegram Bot API for a single bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Bot API client.
func NewClient(token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     logger.With("component", "telegram"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call posts a JSON payload to a Bot API method and decodes the envelope.
func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var env apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !env.OK {
		if env.ErrorCode == http.StatusTooManyRequests {
			retry := 0
			if env.Parameters != nil {
				retry = env.Parameters.RetryAfter
			}
			return &classify.RateLimitError{
				RetryAfterSeconds: retry,
				Err:               fmt.Errorf("telegram %s: %s", method, env.Description),
			}
		}
		return fmt.Errorf("telegram %s: %s (code %d)", method, env.Description, env.ErrorCode)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetUpdates long-polls for new updates after the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends HTML-formatted text, falling back to plain text when
// Telegram rejects the markup. Returns the sent message's ID.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var msg Message
	err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}, &msg)
	if err != nil && isParseError(err) {
		c.logger.Warn("message rejected as HTML, retrying plain", "chat_id", chatID)
		err = c.call(ctx, "sendMessage", map[string]any{
			"chat_id": chatID,
			"text":    text,
		}, &msg)
	}
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPlainMessage sends text without any parse mode.
func (c *Client) SendPlainMessage(ctx context.Context, chatID int64, text string) (int64, error) {
	var msg Message
	if err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces a previously sent message's text.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	err := c.call(ctx, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	}, nil)
	if err != nil && isParseError(err) {
		err = c.call(ctx, "editMessageText", map[string]any{
			"chat_id":    chatID,
			"message_id": messageID,
			"text":       text,
		}, nil)
	}
	return err
}

// SendChatAction shows an activity indicator such as "typing".
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  action,
	}, nil)
}

// GetFile resolves a file_id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	var f File
	err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f)
	return f, err
}

// DownloadFile streams a file's contents to dst using the path from GetFile.
func (c *Client) DownloadFile(ctx context.Context, filePath string, dst io.Writer) error {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	return nil
}

// isParseError reports whether an API error came from bad formatting rather
// than anything actionable.
func isParseError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") ||
		strings.Contains(msg, "unsupported start tag") ||
		strings.Contains(msg, "can't find end of the entity")
}

// SplitMessage breaks text into chunks that fit Telegram's message limit,
// preferring to cut at line boundaries.
func SplitMessage(text string) []string {
	return SplitMessageAt(text, MaxMessageLen)
}

// SplitMessageAt is SplitMessage with a caller-chosen chunk size. Callers
// that post-process chunks (HTML rendering grows text through escaping)
// use a smaller limit and re-split anything that still comes out too big.
func SplitMessageAt(text string, limit int) []string {
	if limit < 1 {
		limit = 1
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	runes := []rune(text)
	for len(runes) > 0 {
		if len(runes) <= limit {
			chunks = append(chunks, string(runes))
			break
		}
		cut := limit
		// Look back a reasonable distance for a newline to cut at.
		lookback := limit - 500
		if lookback < limit/2 {
			lookback = limit / 2
		}
		for i := limit - 1; i > lookback && i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}
