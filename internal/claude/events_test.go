// ABOUTME: Tests for stream-json line parsing.
// ABOUTME: Covers init, assistant, tool, and result lines plus malformed input.

package claude

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLineInit(t *testing.T) {
	line := []byte(`{"type":"system","subtype":"init","session_id":"abc-123","tools":["Bash","Read"]}`)

	events, result := parseLine(line)
	require.Nil(t, result)
	require.Len(t, events, 1)
	assert.Equal(t, EventInit, events[0].Type)
	assert.Equal(t, "abc-123", events[0].SessionID)
}

func TestParseLineAssistantTextAndToolUse(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Let me check that file."},` +
		`{"type":"tool_use","name":"Read","input":{"file_path":"/tmp/x"}}]}}`)

	events, result := parseLine(line)
	require.Nil(t, result)
	require.Len(t, events, 2)

	assert.Equal(t, EventAssistant, events[0].Type)
	assert.Equal(t, "Let me check that file.", events[0].Content)

	assert.Equal(t, EventToolUse, events[1].Type)
	assert.Equal(t, "Read", events[1].ToolName)
	assert.Contains(t, events[1].ToolInput, "/tmp/x")
}

func TestParseLineToolResult(t *testing.T) {
	line := []byte(`{"type":"user","message":{"content":[` +
		`{"type":"tool_result","content":"file contents here","is_error":false}]}}`)

	events, result := parseLine(line)
	require.Nil(t, result)
	require.Len(t, events, 1)
	assert.Equal(t, EventToolResult, events[0].Type)
	assert.Equal(t, "file contents here", events[0].Content)
	assert.False(t, events[0].IsError)
}

func TestParseLineToolResultBlockList(t *testing.T) {
	line := []byte(`{"type":"user","message":{"content":[` +
		`{"type":"tool_result","content":[{"type":"text","text":"block text"}]}]}}`)

	events, _ := parseLine(line)
	require.Len(t, events, 1)
	assert.Equal(t, "block text", events[0].Content)
}

func TestParseLineResult(t *testing.T) {
	line := []byte(`{"type":"result","subtype":"success","result":"All done.",` +
		`"session_id":"abc-123","is_error":false,"duration_ms":2500,` +
		`"total_cost_usd":0.042,"num_turns":3}`)

	events, result := parseLine(line)
	require.NotNil(t, result)
	assert.Equal(t, "All done.", result.Content)
	assert.Equal(t, "abc-123", result.SessionID)
	assert.False(t, result.IsError)
	assert.Equal(t, 2500*time.Millisecond, result.Duration)
	assert.InDelta(t, 0.0042, result.CostUSD, 0.0001)
	assert.Equal(t, 3, result.NumTurns)

	require.Len(t, events, 1)
	assert.Equal(t, EventResult, events[0].Type)
	assert.Equal(t, "All done.", events[0].Content)
}

func TestParseLineIgnoresNoise(t *testing.T) {
	for _, line := range []string{
		`not json at all`,
		`{"type":"something_new","payload":1}`,
		``,
	} {
		events, result := parseLine([]byte(line))
		assert.Empty(t, events, "line %q", line)
		assert.Nil(t, result, "line %q", line)
	}
}
