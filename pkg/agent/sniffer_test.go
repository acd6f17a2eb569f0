package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnifferPassesPlainTextThrough(t *testing.T) {
	s := newSniffer()

	var segments []string
	segments = append(segments, s.Push("Hello, ")...)
	segments = append(segments, s.Push("world!\nSecond line")...)
	segments = append(segments, s.Flush()...)

	assert.Equal(t, []string{"Hello, ", "world!\n", "Second line"}, segments)
	assert.Empty(t, s.Calls())
}

func TestSnifferHoldsBackPartialJSON(t *testing.T) {
	s := newSniffer()

	// An in-progress JSON object must not leak to the client.
	segments := s.Push(`{"name": "get_current_time",`)
	assert.Empty(t, segments)

	segments = append(segments, s.Push(` "arguments": {"timezone": "UTC"}}`)...)
	segments = append(segments, s.Flush()...)
	assert.Empty(t, segments)

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_current_time", calls[0].Name)
	assert.JSONEq(t, `{"timezone": "UTC"}`, calls[0].Arguments)
}

func TestSnifferDetectsJSONArrayOfCalls(t *testing.T) {
	s := newSniffer()

	s.Push(`[{"name": "ddgs_search", "arguments": {"query": "weather"}}, ` +
		`{"name": "get_current_time", "arguments": {"timezone": "Asia/Taipei"}}]`)
	s.Flush()

	calls := s.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "ddgs_search", calls[0].Name)
	assert.Equal(t, "get_current_time", calls[1].Name)
}

func TestSnifferUnwrapsQuotedPayload(t *testing.T) {
	s := newSniffer()

	s.Push(`'{"name": "fetch_url", "arguments": {"url": "https://example.com"}}'` + "\n")
	s.Flush()

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "fetch_url", calls[0].Name)
}

func TestSnifferInfersNameFromArgumentKeys(t *testing.T) {
	cases := []struct {
		payload string
		tool    string
	}{
		{`{"thinking_focus": "task_planning", "specific_question": "next?", "ready_to_reply": false}`, "reasoning"},
		{`{"query": "golang releases"}`, "ddgs_search"},
		{`{"queries": ["a", "b"]}`, "ddgs_search"},
		{`{"timezone": "UTC"}`, "get_current_time"},
		{`{"url": "https://example.com/a.png"}`, "fetch_url"},
	}

	for _, tc := range cases {
		s := newSniffer()
		s.Push(tc.payload + "\n")
		s.Flush()

		calls := s.Calls()
		require.Len(t, calls, 1, "payload %s", tc.payload)
		assert.Equal(t, tc.tool, calls[0].Name, "payload %s", tc.payload)
	}
}

func TestSnifferKeepsUnidentifiableJSONAsText(t *testing.T) {
	s := newSniffer()

	segments := s.Push(`{"foo": "bar"}` + "\n")
	segments = append(segments, s.Flush()...)

	// JSON that does not normalize into a tool call stays visible text.
	assert.Equal(t, []string{`{"foo": "bar"}` + "\n"}, segments)
	assert.Empty(t, s.Calls())
}

func TestSnifferHandlesNestedFunctionShape(t *testing.T) {
	s := newSniffer()

	s.Push(`{"type": "function", "function": {"name": "ddgs_search", "arguments": {"query": "news"}}}` + "\n")
	s.Flush()

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ddgs_search", calls[0].Name)
	assert.JSONEq(t, `{"query": "news"}`, calls[0].Arguments)
}

func TestSnifferKeepsScalarJSONAsText(t *testing.T) {
	s := newSniffer()

	segments := s.Push("42\n")
	segments = append(segments, s.Flush()...)

	assert.Equal(t, []string{"42\n"}, segments)
	assert.Empty(t, s.Calls())
}

func TestSnifferHandlesPerLineCalls(t *testing.T) {
	s := newSniffer()

	s.Push(`{"name": "get_current_time", "arguments": {"timezone": "UTC"}},` + "\n")
	s.Flush()

	calls := s.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_current_time", calls[0].Name)
}
