package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/chat"
	"aegis/pkg/config"
	"aegis/pkg/llm"
	"aegis/pkg/tools"
)

// scriptedLLM replays one fixed delta sequence per StreamChat call and
// records what the engine sent.
type scriptedLLM struct {
	model  string
	rounds [][]llm.StreamDelta
	calls  []capturedCall
}

type capturedCall struct {
	messages []llm.WireMessage
	tools    []llm.ToolSchema
	opts     llm.StreamOptions
}

func (s *scriptedLLM) Model() string { return s.model }

func (s *scriptedLLM) IsTransientError(err error) bool { return false }

func (s *scriptedLLM) StreamChat(ctx context.Context, messages []llm.WireMessage, schemas []llm.ToolSchema, opts llm.StreamOptions) (<-chan llm.StreamDelta, error) {
	s.calls = append(s.calls, capturedCall{
		messages: append([]llm.WireMessage(nil), messages...),
		tools:    schemas,
		opts:     opts,
	})
	if len(s.rounds) == 0 {
		return nil, fmt.Errorf("scripted client exhausted after %d calls", len(s.calls)-1)
	}
	round := s.rounds[0]
	s.rounds = s.rounds[1:]

	ch := make(chan llm.StreamDelta, len(round))
	for _, d := range round {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// memHistory is an in-memory HistoryStore with dense sequences.
type memHistory struct {
	messages []chat.Message
	seq      int64
}

func (m *memHistory) add(sessionID int64, role, content, toolCallID, toolName, modelID string) chat.Message {
	m.seq++
	msg := chat.Message{
		ID:         m.seq,
		SessionID:  sessionID,
		Sequence:   m.seq,
		Role:       role,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		ModelID:    modelID,
		CreatedAt:  time.Now(),
	}
	m.messages = append(m.messages, msg)
	return msg
}

func (m *memHistory) Messages(ctx context.Context, sessionID int64) ([]chat.Message, error) {
	return append([]chat.Message(nil), m.messages...), nil
}

func (m *memHistory) AppendUser(ctx context.Context, sessionID int64, blocks []llm.ContentBlock) (chat.Message, error) {
	content, err := chat.EncodeBlocks(blocks)
	if err != nil {
		return chat.Message{}, err
	}
	return m.add(sessionID, chat.RoleUser, content, "", "", ""), nil
}

func (m *memHistory) AppendToolExchange(ctx context.Context, sessionID int64, rec chat.ToolCallRecord) (chat.Message, chat.Message, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return chat.Message{}, chat.Message{}, err
	}
	outRaw, err := json.Marshal(rec.Output)
	if err != nil {
		return chat.Message{}, chat.Message{}, err
	}
	assistant := m.add(sessionID, chat.RoleAssistant, string(raw), rec.ID, rec.Name, "")
	tool := m.add(sessionID, chat.RoleTool, string(outRaw), rec.ID, "", "")
	return assistant, tool, nil
}

func (m *memHistory) AppendArtifact(ctx context.Context, sessionID int64, toolCallID string, blocks []llm.ContentBlock) (chat.Message, error) {
	content, err := chat.EncodeBlocks(blocks)
	if err != nil {
		return chat.Message{}, err
	}
	return m.add(sessionID, chat.RoleAssistant, content, toolCallID, chat.ArtifactToolName, ""), nil
}

func (m *memHistory) AppendFinal(ctx context.Context, sessionID int64, modelID, final string, progress []string) (chat.Message, error) {
	raw, err := json.Marshal(chat.AssistantFinal{
		Type:     chat.AssistantFinalType,
		Final:    final,
		Progress: progress,
	})
	if err != nil {
		return chat.Message{}, err
	}
	return m.add(sessionID, chat.RoleAssistant, string(raw), "", "", modelID), nil
}

// memFiles is an in-memory FileStore.
type memFiles struct {
	files map[int64]*chat.FileRecord
	pages map[int64][]chat.FilePage
}

func (m *memFiles) File(ctx context.Context, id int64) (*chat.FileRecord, []chat.FilePage, error) {
	if m.files == nil {
		return nil, nil, nil
	}
	rec, ok := m.files[id]
	if !ok {
		return nil, nil, nil
	}
	return rec, m.pages[id], nil
}

// stubTool returns a canned output.
type stubTool struct {
	name    string
	ioHeavy bool
	output  map[string]any
}

func (s *stubTool) Name() string  { return s.name }
func (s *stubTool) IOHeavy() bool { return s.ioHeavy }
func (s *stubTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionSpec{
			Name:       s.name,
			Parameters: map[string]any{"type": "object"},
		},
	}
}

func (s *stubTool) Execute(ctx context.Context, input map[string]any, tc tools.Context) (map[string]any, error) {
	return s.output, nil
}

type engineFixture struct {
	llm     *scriptedLLM
	history *memHistory
	files   *memFiles
	engine  *Engine
}

func newFixture(t *testing.T, rounds [][]llm.StreamDelta, extraTools ...tools.Tool) *engineFixture {
	t.Helper()

	client := &scriptedLLM{model: "test-model", rounds: rounds}
	router, err := llm.NewRouter([]llm.Client{client}, 1, 0)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	timeTool := tools.NewTimeTool("UTC")
	timeTool.Now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	registry.Register(timeTool)
	registry.Register(tools.NewReasoningTool())
	for _, tool := range extraTools {
		registry.Register(tool)
	}

	history := &memHistory{}
	files := &memFiles{}

	core := config.CoreConfig{
		MaxIterations:           5,
		MaxRetryOnMultipleTools: 2,
		SystemPrompt:            "You are a helpful assistant.",
		MultipleToolsWarning:    config.DefaultMultipleToolsWarning,
		SelfCheckReminder:       "Before replying, re-check the evidence.",
		ReadyToReplyReminder:    config.DefaultReadyToReplyReminder,
	}

	engine := NewEngine(router, history, files, registry, tools.NewPool(2), config.DefaultSystemConfig(), core)
	return &engineFixture{llm: client, history: history, files: files, engine: engine}
}

func (f *engineFixture) run(t *testing.T, req Request) []Event {
	t.Helper()
	var events []Event
	for ev := range f.engine.Run(context.Background(), req) {
		events = append(events, ev)
	}
	return events
}

func eventsOfType(events []Event, eventType string) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func lastEvent(t *testing.T, events []Event) Event {
	t.Helper()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func toolCallRound(id, name, arguments string) []llm.StreamDelta {
	return []llm.StreamDelta{
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: id, Name: name, Arguments: arguments}}},
		{FinishReason: llm.FinishReasonToolCalls},
	}
}

func TestRunSimpleFinalAnswer(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		{
			{Content: "Hello, "},
			{Content: "world!"},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "hi"})

	deltas := eventsOfType(events, EventContentDelta)
	require.NotEmpty(t, deltas)
	var text strings.Builder
	for _, d := range deltas {
		require.NotNil(t, d.Guarded)
		assert.False(t, *d.Guarded)
		text.WriteString(d.Delta)
	}
	assert.Equal(t, "Hello, world!", text.String())

	done := lastEvent(t, events)
	require.Equal(t, EventDone, done.Type)
	assert.Equal(t, int64(1), done.SessionID)
	require.NotNil(t, done.TotalIterations)
	assert.Equal(t, 0, *done.TotalIterations)

	// System prompt is prepended to the wire history.
	require.Len(t, f.llm.calls, 1)
	first := f.llm.calls[0].messages[0]
	assert.Equal(t, llm.RoleSystem, first.Role)
	assert.Equal(t, "You are a helpful assistant.", first.Content)

	// Persisted: user message plus final answer.
	require.Len(t, f.history.messages, 2)
	var final chat.AssistantFinal
	require.NoError(t, json.Unmarshal([]byte(f.history.messages[1].Content), &final))
	assert.Equal(t, "Hello, world!", final.Final)
	assert.Equal(t, "test-model", f.history.messages[1].ModelID)
}

func TestRunToolCallThenFinal(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "get_current_time", `{"timezone":"UTC"}`),
		{
			{Content: "It is noon."},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "what time is it?"})

	iterations := eventsOfType(events, EventIterationInfo)
	require.Len(t, iterations, 1)
	assert.Equal(t, 1, iterations[0].CurrentIteration)

	toolCalls := eventsOfType(events, EventToolCall)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "get_current_time", toolCalls[0].ToolName)
	assert.Equal(t, "UTC", toolCalls[0].ToolInput["timezone"])

	results := eventsOfType(events, EventToolResult)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Success)
	assert.True(t, *results[0].Success)
	assert.Equal(t, true, results[0].ToolOutput["success"])

	done := lastEvent(t, events)
	require.Equal(t, EventDone, done.Type)
	require.NotNil(t, done.TotalIterations)
	assert.Equal(t, 1, *done.TotalIterations)

	// Persisted rows: user, assistant tool call, tool result, final.
	require.Len(t, f.history.messages, 4)
	assert.Equal(t, chat.RoleAssistant, f.history.messages[1].Role)
	assert.Equal(t, "call_1", f.history.messages[1].ToolCallID)
	assert.Equal(t, chat.RoleTool, f.history.messages[2].Role)
	assert.Equal(t, f.history.messages[1].Sequence+1, f.history.messages[2].Sequence)

	// The second round trip replays the tool exchange.
	require.Len(t, f.llm.calls, 2)
	replayed := f.llm.calls[1].messages
	var sawToolMsg bool
	for _, m := range replayed {
		if m.Role == llm.RoleTool && m.ToolCallID == "call_1" {
			sawToolMsg = true
		}
	}
	assert.True(t, sawToolMsg)
}

func TestRunReplyGuardFlow(t *testing.T) {
	reasoningArgs := func(ready bool) string {
		return fmt.Sprintf(`{"thinking_focus":"task_planning","specific_question":"next?","ready_to_reply":%v}`, ready)
	}

	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "reasoning", reasoningArgs(false)),
		{
			{Content: "checking sources\n"},
			{FinishReason: llm.FinishReasonStop},
		},
		toolCallRound("call_2", "reasoning", reasoningArgs(true)),
		{
			{Content: "Final answer."},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "research this"})

	// The guarded text streams as progress, not as the final reply.
	guarded := 0
	for _, d := range eventsOfType(events, EventContentDelta) {
		require.NotNil(t, d.Guarded)
		if *d.Guarded {
			guarded++
			assert.Equal(t, "checking sources\n", d.Delta)
		}
	}
	assert.Equal(t, 1, guarded)

	// A guarded stop yields awaiting_more_actions, never a retry.
	var awaiting bool
	for _, ev := range eventsOfType(events, EventStatus) {
		if ev.Status == "awaiting_more_actions" {
			awaiting = true
		}
	}
	assert.True(t, awaiting)
	assert.Empty(t, eventsOfType(events, EventRetry))

	done := lastEvent(t, events)
	require.Equal(t, EventDone, done.Type)
	require.NotNil(t, done.TotalIterations)
	assert.Equal(t, 2, *done.TotalIterations)

	// The final row keeps both the answer and the progress log.
	last := f.history.messages[len(f.history.messages)-1]
	var final chat.AssistantFinal
	require.NoError(t, json.Unmarshal([]byte(last.Content), &final))
	assert.Equal(t, "Final answer.", final.Final)
	assert.Equal(t, []string{"checking sources"}, final.Progress)

	// The self-check reminder is inserted once after ready_to_reply=true.
	var selfChecks int
	for _, m := range f.llm.calls[3].messages {
		if s, ok := m.Content.(string); ok && s == "Before replying, re-check the evidence." {
			selfChecks++
		}
	}
	assert.Equal(t, 1, selfChecks)
}

func TestRunMultipleToolCallsRetry(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		{
			{ToolCalls: []llm.ToolCallDelta{
				{Index: 0, ID: "call_1", Name: "get_current_time", Arguments: `{}`},
				{Index: 1, ID: "call_2", Name: "reasoning", Arguments: `{}`},
			}},
			{FinishReason: llm.FinishReasonToolCalls},
		},
		{
			{Content: "ok"},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "go"})

	retries := eventsOfType(events, EventRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, RetryMultipleTools, retries[0].Reason)
	assert.Equal(t, 1, retries[0].RetryCount)
	assert.Contains(t, retries[0].Message, "(1/2)")

	// The warning reminder is appended before the next round trip.
	require.Len(t, f.llm.calls, 2)
	tail := f.llm.calls[1].messages[len(f.llm.calls[1].messages)-1]
	assert.Equal(t, llm.RoleSystem, tail.Role)
	assert.Equal(t, config.DefaultMultipleToolsWarning, tail.Content)

	assert.Equal(t, EventDone, lastEvent(t, events).Type)
}

func TestRunMultipleToolCallsExhaustsRetries(t *testing.T) {
	multiRound := []llm.StreamDelta{
		{ToolCalls: []llm.ToolCallDelta{
			{Index: 0, ID: "a", Name: "get_current_time", Arguments: `{}`},
			{Index: 1, ID: "b", Name: "reasoning", Arguments: `{}`},
		}},
		{FinishReason: llm.FinishReasonToolCalls},
	}
	f := newFixture(t, [][]llm.StreamDelta{multiRound, multiRound, multiRound})

	events := f.run(t, Request{SessionID: 1, Message: "go"})

	require.Len(t, eventsOfType(events, EventRetry), 2)
	final := lastEvent(t, events)
	require.Equal(t, EventError, final.Type)
	assert.Equal(t, ErrCodeMultipleToolsMaxRetries, final.ErrorCode)
}

func TestRunTextualToolCallForcesReasoning(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		{
			{Content: `{"name": "get_current_time", "arguments": {"timezone": "UTC"}}`},
			{FinishReason: llm.FinishReasonStop},
		},
		{
			{Content: "done"},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "time please"})

	retries := eventsOfType(events, EventRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, RetryTextualToolCall, retries[0].Reason)

	// The withheld JSON never reaches the client.
	for _, d := range eventsOfType(events, EventContentDelta) {
		assert.NotContains(t, d.Delta, "get_current_time")
	}

	// The next round trip pins the reasoning tool.
	require.Len(t, f.llm.calls, 2)
	assert.Equal(t, "reasoning", f.llm.calls[1].opts.ForceTool)

	assert.Equal(t, EventDone, lastEvent(t, events).Type)
}

func TestRunEmptyResponseExhaustsRetries(t *testing.T) {
	emptyRound := []llm.StreamDelta{{FinishReason: llm.FinishReasonStop}}
	f := newFixture(t, [][]llm.StreamDelta{emptyRound, emptyRound, emptyRound})

	events := f.run(t, Request{SessionID: 1, Message: "hello"})

	retries := eventsOfType(events, EventRetry)
	require.Len(t, retries, 2)
	for _, r := range retries {
		assert.Equal(t, RetryEmptyContent, r.Reason)
	}

	final := lastEvent(t, events)
	require.Equal(t, EventError, final.Type)
	assert.Equal(t, ErrCodeEmptyResponseMaxRetries, final.ErrorCode)
}

func TestRunGuardedOnlyContentIsNotEmpty(t *testing.T) {
	reasoningArgs := `{"thinking_focus":"task_planning","specific_question":"next?","ready_to_reply":false}`

	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "reasoning", reasoningArgs),
		{
			{Content: "progress only\n"},
			{FinishReason: llm.FinishReasonStop},
		},
		toolCallRound("call_2", "reasoning", `{"thinking_focus":"progress_review","specific_question":"done?","ready_to_reply":true}`),
		{
			{Content: "All set."},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "work"})

	// Progress-only output while guarded must not trip the empty retry.
	assert.Empty(t, eventsOfType(events, EventRetry))
	assert.Equal(t, EventDone, lastEvent(t, events).Type)
}

func TestRunUnexpectedFinishReasonIsFatal(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		{
			{Content: "truncat"},
			{FinishReason: llm.FinishReasonLength},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "hi"})

	final := lastEvent(t, events)
	require.Equal(t, EventError, final.Type)
	assert.Equal(t, ErrCodeUnexpectedFinishReason, final.ErrorCode)
	assert.Contains(t, final.ErrorMessage, "length")
}

func TestRunMaxIterationsReached(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "get_current_time", `{"timezone":"UTC"}`),
	})
	f.engine.SetCoreConfig(config.CoreConfig{
		MaxIterations:           1,
		MaxRetryOnMultipleTools: 2,
		SystemPrompt:            "sys",
	})

	events := f.run(t, Request{SessionID: 1, Message: "loop"})

	final := lastEvent(t, events)
	require.Equal(t, EventError, final.Type)
	assert.Equal(t, ErrCodeMaxIterationsReached, final.ErrorCode)
	assert.Contains(t, final.ErrorMessage, "(1)")
}

func TestRunUnknownModel(t *testing.T) {
	f := newFixture(t, nil)

	events := f.run(t, Request{SessionID: 1, Message: "hi", ModelID: "missing-model"})

	final := lastEvent(t, events)
	require.Equal(t, EventError, final.Type)
	assert.Equal(t, ErrCodeInternal, final.ErrorCode)
	assert.Contains(t, final.ErrorMessage, "missing-model")
}

func TestRunAttachesFilePages(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		{
			{Content: "Nice cat."},
			{FinishReason: llm.FinishReasonStop},
		},
	})
	f.files.files = map[int64]*chat.FileRecord{
		3: {ID: 3, Filename: "cat.png", MimeType: "image/png", PageCount: 1},
	}
	f.files.pages = map[int64][]chat.FilePage{
		3: {{FileID: 3, PageNumber: 1, Name: "cat.png", MimeType: "image/png", Data: []byte{1}}},
	}

	events := f.run(t, Request{SessionID: 1, Message: "describe", FileIDs: []int64{3, 99}})
	require.Equal(t, EventDone, lastEvent(t, events).Type)

	require.Len(t, f.llm.calls, 1)
	userMsg := f.llm.calls[0].messages[len(f.llm.calls[0].messages)-1]
	blocks, ok := userMsg.Content.([]llm.ContentBlock)
	require.True(t, ok)
	// Text, file header, image page. Missing file 99 is skipped.
	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[1].Text, "cat.png")
	assert.Equal(t, llm.BlockTypeImageURL, blocks[2].Type)
}

func TestRunHoistsToolArtifact(t *testing.T) {
	download := &stubTool{
		name:    "fetch_url",
		ioHeavy: true,
		output: map[string]any{
			"success":    true,
			"file_id":    int64(5),
			"page_count": 2,
			"note":       "Downloaded cat.png (4 bytes)",
		},
	}

	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "fetch_url", `{"url":"https://example.com/cat.png"}`),
		{
			{Content: "Fetched it."},
			{FinishReason: llm.FinishReasonStop},
		},
	}, download)
	f.files.files = map[int64]*chat.FileRecord{
		5: {ID: 5, Filename: "cat.png", MimeType: "image/png", PageCount: 2},
	}
	f.files.pages = map[int64][]chat.FilePage{
		5: {{FileID: 5, PageNumber: 1, Name: "cat.png", MimeType: "image/png", Data: []byte{1}}},
	}

	events := f.run(t, Request{SessionID: 1, Message: "get the image"})
	require.Equal(t, EventDone, lastEvent(t, events).Type)

	var artifact *chat.Message
	for i := range f.history.messages {
		if f.history.messages[i].ToolName == chat.ArtifactToolName {
			artifact = &f.history.messages[i]
		}
	}
	require.NotNil(t, artifact)
	assert.Equal(t, "call_1", artifact.ToolCallID)

	blocks := chat.DecodeBlocks(artifact.Content)
	require.NotEmpty(t, blocks)
	assert.Equal(t, "(tool) Downloaded cat.png (4 bytes) (file_id=5, pages=2)", blocks[0].Text)
}

func TestRunStripsFunctionsPrefix(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "functions.get_current_time", `{"timezone":"UTC"}`),
		{
			{Content: "noon"},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "time"})

	toolCalls := eventsOfType(events, EventToolCall)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "get_current_time", toolCalls[0].ToolName)
	assert.Equal(t, EventDone, lastEvent(t, events).Type)
}

func TestRunUnparseableArgumentsBecomeRaw(t *testing.T) {
	f := newFixture(t, [][]llm.StreamDelta{
		toolCallRound("call_1", "get_current_time", `not json`),
		{
			{Content: "noon"},
			{FinishReason: llm.FinishReasonStop},
		},
	})

	events := f.run(t, Request{SessionID: 1, Message: "time"})

	toolCalls := eventsOfType(events, EventToolCall)
	require.Len(t, toolCalls, 1)
	assert.Equal(t, "not json", toolCalls[0].ToolInput["raw"])
}
