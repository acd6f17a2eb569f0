package agent

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event types emitted during a run.
const (
	EventStatus        = "status"
	EventThinking      = "thinking"
	EventContentStart  = "content_start"
	EventContentDelta  = "content_delta"
	EventContentDone   = "content_done"
	EventToolCall      = "tool_call"
	EventToolExecuting = "tool_executing"
	EventToolResult    = "tool_result"
	EventIterationInfo = "iteration_info"
	EventRetry         = "retry"
	EventError         = "error"
	EventDone          = "done"
)

// Retry reasons.
const (
	RetryMultipleTools     = "multiple_tools_called"
	RetryTextualToolCall   = "textual_tool_call"
	RetryEmptyContent      = "empty_content"
	RetryEmptyFinishReason = "empty_finish_reason"
)

// Fatal error codes.
const (
	ErrCodeMultipleToolsMaxRetries   = "MULTIPLE_TOOLS_MAX_RETRIES"
	ErrCodeTextualToolCallMaxRetries = "TEXTUAL_TOOL_CALL_MAX_RETRIES"
	ErrCodeEmptyResponseMaxRetries   = "EMPTY_RESPONSE_MAX_RETRIES"
	ErrCodeUnexpectedFinishReason    = "UNEXPECTED_FINISH_REASON"
	ErrCodeMaxIterationsReached      = "MAX_ITERATIONS_REACHED"
	ErrCodeInternal                  = "INTERNAL_ERROR"
)

// Event is one unit of the run's output stream. Fields are populated
// per type; booleans and counters that must serialize even when zero
// are pointers.
type Event struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`

	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`

	Delta   string `json:"delta,omitempty"`
	Guarded *bool  `json:"guarded,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput map[string]any `json:"tool_output,omitempty"`
	Success    *bool          `json:"success,omitempty"`

	CurrentIteration int `json:"current_iteration,omitempty"`
	MaxIterations    int `json:"max_iterations,omitempty"`

	Reason     string `json:"reason,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Details      string `json:"details,omitempty"`

	MessageID       int64  `json:"message_id,omitempty"`
	SessionID       int64  `json:"session_id,omitempty"`
	TotalIterations *int   `json:"total_iterations,omitempty"`
	TotalTimeMs     *int64 `json:"total_time_ms,omitempty"`
}

// Encode serializes the event for the SSE frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func newEvent(eventType string) Event {
	return Event{Type: eventType, Timestamp: time.Now().Unix()}
}

func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
