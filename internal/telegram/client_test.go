// ABOUTME: Tests for the Bot API client against an httptest server.
// ABOUTME: Covers updates, send/edit with HTML fallback, rate limits, and files.

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nashef/claude-telegram-bot/internal/classify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("TESTTOKEN", discardLogger(), WithBaseURL(srv.URL))
}

func writeOK(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":` + result + `}`))
}

func TestGetUpdates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTESTTOKEN/getUpdates", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.EqualValues(t, 42, payload["offset"])
		assert.EqualValues(t, 30, payload["timeout"])

		writeOK(w, `[{"update_id":43,"message":{"message_id":7,
			"from":{"id":100,"username":"alice"},
			"chat":{"id":100},"text":"hello"}}]`)
	})

	updates, err := c.GetUpdates(context.Background(), 42, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(43), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "hello", updates[0].Message.Text)
	assert.Equal(t, int64(100), updates[0].Message.From.ID)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "HTML", payload["parse_mode"])
		writeOK(w, `{"message_id":55,"chat":{"id":100}}`)
	})

	id, err := c.SendMessage(context.Background(), 100, "<b>hi</b>")
	require.NoError(t, err)
	assert.Equal(t, int64(55), id)
}

func TestSendMessageFallsBackToPlain(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		if _, hasMode := payload["parse_mode"]; hasMode {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,
				"description":"Bad Request: can't parse entities"}`))
			return
		}
		writeOK(w, `{"message_id":56,"chat":{"id":100}}`)
	})

	id, err := c.SendMessage(context.Background(), 100, "broken <markup")
	require.NoError(t, err)
	assert.Equal(t, int64(56), id)
	assert.Equal(t, 2, calls)
}

func TestRateLimitSurfacesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,
			"description":"Too Many Requests","parameters":{"retry_after":17}}`))
	})

	_, err := c.SendMessage(context.Background(), 100, "hi")
	var rateErr *classify.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, 17, rateErr.RetryAfterSeconds)
}

func TestEditMessageText(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTESTTOKEN/editMessageText", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.EqualValues(t, 55, payload["message_id"])
		writeOK(w, `true`)
	})

	require.NoError(t, c.EditMessageText(context.Background(), 100, 55, "updated"))
}

func TestSendChatAction(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "typing", payload["action"])
		writeOK(w, `true`)
	})

	require.NoError(t, c.SendChatAction(context.Background(), 100, ActionTyping))
}

func TestGetFileAndDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getFile"):
			writeOK(w, `{"file_id":"f1","file_path":"documents/report.txt","file_size":11}`)
		case r.URL.Path == "/file/botTESTTOKEN/documents/report.txt":
			_, _ = w.Write([]byte("hello world"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	f, err := c.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "documents/report.txt", f.FilePath)

	var buf bytes.Buffer
	require.NoError(t, c.DownloadFile(context.Background(), f.FilePath, &buf))
	assert.Equal(t, "hello world", buf.String())
}

func TestAPIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked"}`))
	})

	_, err := c.SendMessage(context.Background(), 100, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Forbidden")
	assert.Contains(t, err.Error(), "403")
}

func TestSplitMessage(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitMessage("short"))

	// Long text with a newline near the limit cuts at the line boundary.
	long := strings.Repeat("a", 4000) + "\n" + strings.Repeat("b", 500)
	chunks := SplitMessage(long)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 4000)+"\n", chunks[0])
	assert.Equal(t, strings.Repeat("b", 500), chunks[1])

	// No newline at all still chunks at the hard limit.
	solid := strings.Repeat("x", MaxMessageLen+10)
	chunks = SplitMessage(solid)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], MaxMessageLen)
	assert.Len(t, chunks[1], 10)

	// Every chunk respects the limit.
	for _, chunk := range SplitMessage(strings.Repeat("line\n", 3000)) {
		assert.LessOrEqual(t, len([]rune(chunk)), MaxMessageLen)
	}
}

func TestSplitMessageAt(t *testing.T) {
	text := strings.Repeat("word ", 100) // 500 runes

	chunks := SplitMessageAt(text, 128)
	require.Greater(t, len(chunks), 1)
	var rebuilt strings.Builder
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 128)
		rebuilt.WriteString(chunk)
	}
	assert.Equal(t, text, rebuilt.String(), "splitting loses nothing")

	// A newline inside the lookback window wins over the hard cut.
	withBreak := strings.Repeat("a", 100) + "\n" + strings.Repeat("b", 100)
	chunks = SplitMessageAt(withBreak, 128)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 100)+"\n", chunks[0])

	// A degenerate limit still terminates.
	assert.Len(t, SplitMessageAt("abc", 0), 3)
}
