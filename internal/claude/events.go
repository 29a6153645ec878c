// ABOUTME: Typed streaming events and final results from a Claude CLI invocation.
// ABOUTME: Parses the CLI's stream-json output lines into Event and Result values.

package claude

import (
	"time"

	"github.com/tidwall/gjson"
)

// EventType indicates the type of streaming event.
type EventType int

const (
	EventInit       EventType = iota // session established, SessionID set
	EventAssistant                   // partial assistant text
	EventToolUse                     // tool invocation
	EventToolResult                  // tool output returned to the agent
	EventResult                      // final result line
)

// String returns the event type name used in logs.
func (t EventType) String() string {
	switch t {
	case EventInit:
		return "init"
	case EventAssistant:
		return "assistant"
	case EventToolUse:
		return "tool_use"
	case EventToolResult:
		return "tool_result"
	case EventResult:
		return "result"
	default:
		return "unknown"
	}
}

// Event is one streaming progress event from a running invocation.
type Event struct {
	Type      EventType
	Content   string
	ToolName  string
	ToolInput string // raw JSON of the tool call input
	SessionID string // for EventInit
	IsError   bool
}

// Result is the final outcome of one invocation.
type Result struct {
	Content   string
	SessionID string
	IsError   bool
	Duration  time.Duration
	CostUSD   float64
	NumTurns  int
}

// parseLine decodes one stream-json line into zero or more events and,
// for the terminal line, a Result. Unrecognized lines yield nothing.
func parseLine(line []byte) (events []Event, result *Result) {
	if !gjson.ValidBytes(line) {
		return nil, nil
	}

	switch gjson.GetBytes(line, "type").String() {
	case "system":
		if gjson.GetBytes(line, "subtype").String() == "init" {
			events = append(events, Event{
				Type:      EventInit,
				SessionID: gjson.GetBytes(line, "session_id").String(),
			})
		}

	case "assistant":
		for _, part := range gjson.GetBytes(line, "message.content").Array() {
			switch part.Get("type").String() {
			case "text":
				if text := part.Get("text").String(); text != "" {
					events = append(events, Event{Type: EventAssistant, Content: text})
				}
			case "tool_use":
				events = append(events, Event{
					Type:      EventToolUse,
					ToolName:  part.Get("name").String(),
					ToolInput: part.Get("input").Raw,
				})
			}
		}

	case "user":
		for _, part := range gjson.GetBytes(line, "message.content").Array() {
			if part.Get("type").String() == "tool_result" {
				content := part.Get("content").String()
				if content == "" {
					// Content may be a list of text blocks rather than a string
					content = part.Get("content.0.text").String()
				}
				events = append(events, Event{
					Type:    EventToolResult,
					Content: content,
					IsError: part.Get("is_error").Bool(),
				})
			}
		}

	case "result":
		result = &Result{
			Content:   gjson.GetBytes(line, "result").String(),
			SessionID: gjson.GetBytes(line, "session_id").String(),
			IsError:   gjson.GetBytes(line, "is_error").Bool(),
			Duration:  time.Duration(gjson.GetBytes(line, "duration_ms").Int()) * time.Millisecond,
			CostUSD:   gjson.GetBytes(line, "total_cost_usd").Float(),
			NumTurns:  int(gjson.GetBytes(line, "num_turns").Int()),
		}
		events = append(events, Event{Type: EventResult, Content: result.Content, IsError: result.IsError})
	}

	return events, result
}
