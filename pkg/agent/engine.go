package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"aegis/pkg/chat"
	"aegis/pkg/config"
	"aegis/pkg/llm"
	"aegis/pkg/monitor"
	"aegis/pkg/tools"
	"aegis/pkg/utils"
)

// HistoryStore is the persistence surface the loop writes through.
type HistoryStore interface {
	Messages(ctx context.Context, sessionID int64) ([]chat.Message, error)
	AppendUser(ctx context.Context, sessionID int64, blocks []llm.ContentBlock) (chat.Message, error)
	AppendToolExchange(ctx context.Context, sessionID int64, rec chat.ToolCallRecord) (chat.Message, chat.Message, error)
	AppendArtifact(ctx context.Context, sessionID int64, toolCallID string, blocks []llm.ContentBlock) (chat.Message, error)
	AppendFinal(ctx context.Context, sessionID int64, modelID, final string, progress []string) (chat.Message, error)
}

// FileStore resolves referenced files and their rendered pages. A
// missing file returns (nil, nil, nil) and is skipped silently.
type FileStore interface {
	File(ctx context.Context, id int64) (*chat.FileRecord, []chat.FilePage, error)
}

// Request describes one turn.
type Request struct {
	SessionID int64
	Message   string
	ModelID   string
	FileIDs   []int64
}

// Engine drives agent turns. It is safe for concurrent use; each Run
// produces an independent event stream.
type Engine struct {
	models   *llm.Router
	history  HistoryStore
	files    FileStore
	registry *tools.Registry
	pool     *tools.Pool
	sysCfg   *config.SystemConfig
	mon      monitor.Monitor

	mu   sync.RWMutex
	core config.CoreConfig
}

// NewEngine wires the engine.
func NewEngine(models *llm.Router, history HistoryStore, files FileStore, registry *tools.Registry, pool *tools.Pool, sysCfg *config.SystemConfig, core config.CoreConfig) *Engine {
	return &Engine{
		models:   models,
		history:  history,
		files:    files,
		registry: registry,
		pool:     pool,
		sysCfg:   sysCfg,
		core:     core,
	}
}

// SetCoreConfig swaps the loop configuration. Turns already in flight
// keep the snapshot they started with.
func (e *Engine) SetCoreConfig(core config.CoreConfig) {
	e.mu.Lock()
	e.core = core
	e.mu.Unlock()
}

// SetMonitor attaches an operator-facing run monitor.
func (e *Engine) SetMonitor(m monitor.Monitor) {
	e.mon = m
}

func (e *Engine) coreSnapshot() config.CoreConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.core
}

// Run executes one turn and returns its event stream. The channel is
// closed after the terminal done or error event, or when ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, e.channelBuffer())

	t := &turn{
		engine: e,
		core:   e.coreSnapshot(),
		req:    req,
		events: events,
	}

	go func() {
		defer close(events)
		t.run(ctx)
	}()

	return events
}

func (e *Engine) channelBuffer() int {
	if e.sysCfg != nil && e.sysCfg.InternalChannelBuffer > 0 {
		return e.sysCfg.InternalChannelBuffer
	}
	return 100
}

func (e *Engine) observe(sessionID int64, kind, detail string) {
	if e.mon == nil {
		return
	}
	e.mon.OnEvent(monitor.RunEvent{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
	})
}

// turn holds the mutable state of one run.
type turn struct {
	engine *Engine
	core   config.CoreConfig
	req    Request
	events chan<- Event

	history []llm.WireMessage

	iteration  int
	retryCount int

	guard             bool
	lastStreamGuard   *bool
	progressBuffer    strings.Builder
	progressSegments  []string
	selfCheckInserted bool
	forceReasoning    bool
}

// emit delivers one event, giving up when the consumer is gone.
func (t *turn) emit(ctx context.Context, ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *turn) fatal(ctx context.Context, code, message string) {
	ev := newEvent(EventError)
	ev.ErrorCode = code
	ev.ErrorMessage = message
	t.emit(ctx, ev)
	t.engine.observe(t.req.SessionID, "error", code+": "+message)
}

func (t *turn) run(ctx context.Context) {
	startTime := time.Now()

	client, ok := t.resolveClient()
	if !ok {
		t.fatal(ctx, ErrCodeInternal, fmt.Sprintf("unknown model: %s", t.req.ModelID))
		return
	}

	ev := newEvent(EventStatus)
	ev.Status = "processing"
	ev.Message = "Processing your request..."
	if !t.emit(ctx, ev) {
		return
	}
	t.engine.observe(t.req.SessionID, "user", truncateDetail(t.req.Message, 120))

	// Load and project prior messages.
	stored, err := t.engine.history.Messages(ctx, t.req.SessionID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load history", "session_id", t.req.SessionID, "error", err)
		t.fatal(ctx, ErrCodeInternal, "failed to load conversation history")
		return
	}
	t.history = chat.ProjectForReplay(stored)

	if len(t.history) == 0 || t.history[0].Role != llm.RoleSystem {
		if t.core.SystemPrompt != "" {
			t.history = append([]llm.WireMessage{llm.NewSystemMessage(t.core.SystemPrompt)}, t.history...)
		}
	}

	// Compose and persist the user message.
	userBlocks := t.buildUserBlocks(ctx)
	if _, err := t.engine.history.AppendUser(ctx, t.req.SessionID, userBlocks); err != nil {
		slog.ErrorContext(ctx, "Failed to persist user message", "session_id", t.req.SessionID, "error", err)
		t.fatal(ctx, ErrCodeInternal, "failed to persist user message")
		return
	}
	t.history = append(t.history, llm.WireMessage{Role: llm.RoleUser, Content: userBlocks})

	for t.iteration < t.core.MaxIterations {
		done, ok := t.runIteration(ctx, client, startTime)
		if !ok {
			return // fatal error or cancellation, already reported
		}
		if done {
			return
		}
	}

	t.fatal(ctx, ErrCodeMaxIterationsReached,
		fmt.Sprintf("Reached maximum iterations (%d); aborting execution", t.core.MaxIterations))
}

func (t *turn) resolveClient() (llm.Client, bool) {
	if t.req.ModelID == "" {
		return t.engine.models.Default(), true
	}
	return t.engine.models.Get(t.req.ModelID)
}

// buildUserBlocks composes the user content: the text followed by a
// header and rendered pages for each referenced file.
func (t *turn) buildUserBlocks(ctx context.Context) []llm.ContentBlock {
	blocks := []llm.ContentBlock{llm.NewTextBlock(t.req.Message)}

	for _, fileID := range t.req.FileIDs {
		rec, pages, err := t.engine.files.File(ctx, fileID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to load file, skipping", "file_id", fileID, "error", err)
			continue
		}
		if rec == nil {
			continue
		}
		for _, page := range pages {
			blocks = append(blocks,
				llm.NewTextBlock(fmt.Sprintf("\n[File: %s, Page %d]", rec.Filename, page.PageNumber)),
				llm.NewImageBlock(page.Data, page.MimeType),
			)
		}
	}
	return blocks
}

// runIteration performs one LLM round trip. It returns (done, ok):
// done means the turn finished successfully; !ok means it ended with a
// fatal error or cancellation.
func (t *turn) runIteration(ctx context.Context, client llm.Client, startTime time.Time) (bool, bool) {
	ev := newEvent(EventThinking)
	ev.Message = "Thinking about how to respond..."
	if !t.emit(ctx, ev) {
		return false, false
	}

	res, ok := t.streamOnce(ctx, client)
	if !ok {
		return false, false
	}

	// Treat a missing finish_reason as stop when unguarded content
	// arrived without tool calls.
	if res.finishReason == "" && len(res.toolCalls) == 0 && strings.TrimSpace(res.fullContent) != "" {
		res.finishReason = llm.FinishReasonStop
	}

	switch {
	case res.finishReason == llm.FinishReasonToolCalls && len(res.toolCalls) > 0:
		return t.handleToolCalls(ctx, res)
	case res.finishReason == llm.FinishReasonStop:
		return t.handleStop(ctx, client, res, startTime)
	default:
		return t.handleUnexpected(ctx, res)
	}
}

// streamResult captures everything one LLM call produced.
type streamResult struct {
	fullContent    string
	guardedContent string
	toolCalls      []llm.ToolCall
	textualCalls   []textualCall
	finishReason   string
}

func (t *turn) streamOnce(ctx context.Context, client llm.Client) (*streamResult, bool) {
	var schemas []llm.ToolSchema
	opts := llm.StreamOptions{}
	if t.engine.sysCfg == nil || t.engine.sysCfg.EnableTools {
		schemas = t.engine.registry.Schemas()
		if t.forceReasoning {
			opts.ForceTool = "reasoning"
		}
	}

	llmCtx := ctx
	if t.engine.sysCfg != nil && t.engine.sysCfg.LLMTimeoutMs > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, time.Duration(t.engine.sysCfg.LLMTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	deltaCh, err := client.StreamChat(llmCtx, t.history, schemas, opts)
	if err != nil {
		slog.ErrorContext(ctx, "LLM call failed", "model", client.Model(), "error", err)
		t.fatal(ctx, ErrCodeInternal, fmt.Sprintf("LLM call failed: %v", err))
		return nil, false
	}

	snf := newSniffer()
	res := &streamResult{}
	var fullContent, guardedContent strings.Builder

	type toolCallAcc struct {
		index int
		call  llm.ToolCall
	}
	accByIndex := make(map[int]*toolCallAcc)

	for delta := range deltaCh {
		if delta.Err != nil {
			slog.ErrorContext(ctx, "LLM stream failed", "model", client.Model(), "error", delta.Err)
			t.fatal(ctx, ErrCodeInternal, fmt.Sprintf("LLM stream failed: %v", delta.Err))
			return nil, false
		}

		if delta.Content != "" {
			if !t.emitSegments(ctx, snf.Push(delta.Content), &fullContent, &guardedContent) {
				return nil, false
			}
		}

		for _, frag := range delta.ToolCalls {
			acc, ok := accByIndex[frag.Index]
			if !ok {
				acc = &toolCallAcc{index: frag.Index, call: llm.ToolCall{Type: llm.ToolTypeFunction}}
				accByIndex[frag.Index] = acc
			}
			if frag.ID != "" {
				acc.call.ID = frag.ID
			}
			if frag.Name != "" {
				acc.call.Function.Name = frag.Name
			}
			acc.call.Function.Arguments += frag.Arguments
		}

		if delta.FinishReason != "" {
			res.finishReason = delta.FinishReason
		}
	}

	if !t.emitSegments(ctx, snf.Flush(), &fullContent, &guardedContent) {
		return nil, false
	}

	accs := make([]*toolCallAcc, 0, len(accByIndex))
	for _, acc := range accByIndex {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].index < accs[j].index })
	for _, acc := range accs {
		res.toolCalls = append(res.toolCalls, acc.call)
	}

	res.fullContent = fullContent.String()
	res.guardedContent = guardedContent.String()
	res.textualCalls = snf.Calls()
	return res, true
}

// emitSegments routes drained segments to the client, re-announcing
// content_start whenever the guard classification flips.
func (t *turn) emitSegments(ctx context.Context, segments []string, fullContent, guardedContent *strings.Builder) bool {
	for _, segment := range segments {
		guard := t.guard
		if t.lastStreamGuard == nil || *t.lastStreamGuard != guard {
			start := newEvent(EventContentStart)
			if guard {
				start.Message = "Sharing execution progress..."
			} else {
				start.Message = "Starting response generation..."
			}
			start.Guarded = boolPtr(guard)
			if !t.emit(ctx, start) {
				return false
			}
			t.lastStreamGuard = boolPtr(guard)
		}

		if guard {
			t.progressBuffer.WriteString(segment)
			guardedContent.WriteString(segment)
		} else {
			fullContent.WriteString(segment)
		}

		ev := newEvent(EventContentDelta)
		ev.Delta = segment
		ev.Guarded = boolPtr(guard)
		if !t.emit(ctx, ev) {
			return false
		}
	}
	return true
}

func (t *turn) flushProgressBuffer() {
	if stripped := strings.TrimSpace(t.progressBuffer.String()); stripped != "" {
		t.progressSegments = append(t.progressSegments, stripped)
	}
	t.progressBuffer.Reset()
}

// appendSystemReminder appends a system message, optionally deduping
// against the history tail.
func (t *turn) appendSystemReminder(text string, dedupe bool) {
	if dedupe && len(t.history) > 0 {
		last := t.history[len(t.history)-1]
		if s, ok := last.Content.(string); ok && s == text {
			return
		}
	}
	t.history = append(t.history, llm.NewSystemMessage(text))
}

func (t *turn) emitRetry(ctx context.Context, reason, message string) bool {
	ev := newEvent(EventRetry)
	ev.Reason = reason
	ev.RetryCount = t.retryCount
	ev.MaxRetries = t.core.MaxRetryOnMultipleTools
	ev.Message = message
	if !t.emit(ctx, ev) {
		return false
	}
	t.engine.observe(t.req.SessionID, "retry", fmt.Sprintf("%s (%d/%d)", reason, t.retryCount, t.core.MaxRetryOnMultipleTools))
	return true
}

func (t *turn) handleToolCalls(ctx context.Context, res *streamResult) (bool, bool) {
	// Enforce single-tool execution.
	if len(res.toolCalls) > 1 {
		if t.retryCount >= t.core.MaxRetryOnMultipleTools {
			t.fatal(ctx, ErrCodeMultipleToolsMaxRetries,
				fmt.Sprintf("Model kept invoking multiple tools after %d retries", t.core.MaxRetryOnMultipleTools))
			return false, false
		}
		t.retryCount++
		msg := fmt.Sprintf("Model invoked %d tools, retrying (%d/%d)...",
			len(res.toolCalls), t.retryCount, t.core.MaxRetryOnMultipleTools)
		if !t.emitRetry(ctx, RetryMultipleTools, msg) {
			return false, false
		}
		t.appendSystemReminder(t.core.MultipleToolsWarning, false)
		return false, true
	}

	t.iteration++
	ev := newEvent(EventIterationInfo)
	ev.CurrentIteration = t.iteration
	ev.MaxIterations = t.core.MaxIterations
	ev.Message = fmt.Sprintf("Tool call iteration %d", t.iteration)
	if !t.emit(ctx, ev) {
		return false, false
	}

	call := res.toolCalls[0]
	toolName := strings.TrimPrefix(call.Function.Name, "functions.")
	call.Function.Name = toolName
	if call.ID == "" {
		call.ID = "call_" + utils.GenerateID()
	}

	var toolInput map[string]any
	if err := json.Unmarshal([]byte(call.Function.Arguments), &toolInput); err != nil || toolInput == nil {
		toolInput = map[string]any{"raw": call.Function.Arguments}
	}

	ev = newEvent(EventToolCall)
	ev.ToolCallID = call.ID
	ev.ToolName = toolName
	ev.ToolInput = toolInput
	if !t.emit(ctx, ev) {
		return false, false
	}

	ev = newEvent(EventToolExecuting)
	ev.ToolCallID = call.ID
	ev.ToolName = toolName
	ev.Message = fmt.Sprintf("Executing tool %s...", toolName)
	if !t.emit(ctx, ev) {
		return false, false
	}

	output, success := t.executeTool(ctx, toolName, toolInput)

	ev = newEvent(EventToolResult)
	ev.ToolCallID = call.ID
	ev.ToolName = toolName
	ev.ToolOutput = output
	ev.Success = boolPtr(success)
	if !t.emit(ctx, ev) {
		return false, false
	}
	t.engine.observe(t.req.SessionID, "tool", fmt.Sprintf("%s success=%v", toolName, success))

	rec := chat.ToolCallRecord{ID: call.ID, Name: toolName, Input: toolInput, Output: output}
	if _, _, err := t.engine.history.AppendToolExchange(ctx, t.req.SessionID, rec); err != nil {
		slog.ErrorContext(ctx, "Failed to persist tool exchange", "session_id", t.req.SessionID, "error", err)
		t.fatal(ctx, ErrCodeInternal, "failed to persist tool exchange")
		return false, false
	}

	// Extend the in-memory history for the next round trip.
	t.history = append(t.history,
		llm.WireMessage{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
		llm.WireMessage{Role: llm.RoleTool, ToolCallID: call.ID, Content: chat.ProjectToolResult(output)},
	)

	if !t.hoistArtifact(ctx, call.ID, output) {
		return false, false
	}

	if toolName == "reasoning" {
		t.applyReasoningResult(output)
	}

	t.retryCount = 0
	t.forceReasoning = false
	return false, true
}

func (t *turn) executeTool(ctx context.Context, name string, input map[string]any) (output map[string]any, success bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Tool panicked", "tool", name, "panic", r)
			output = map[string]any{"success": false, "error": fmt.Sprintf("tool panicked: %v", r)}
			success = false
		}
	}()

	tool, ok := t.engine.registry.Get(name)
	if !ok {
		return map[string]any{"success": false, "error": fmt.Sprintf("unknown tool: %s", name)}, false
	}

	tc := tools.Context{SessionID: t.req.SessionID, History: t.history}

	var err error
	if tool.IOHeavy() && t.engine.pool != nil {
		output, err = t.engine.pool.Run(ctx, func() (map[string]any, error) {
			return tool.Execute(ctx, input, tc)
		})
	} else {
		output, err = tool.Execute(ctx, input, tc)
	}
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, false
	}
	if output == nil {
		output = map[string]any{}
	}

	if flag, present := output["success"]; present {
		b, _ := flag.(bool)
		return output, b
	}
	return output, true
}

// hoistArtifact materializes a tool-returned file into a visible
// assistant message carrying its rendered pages.
func (t *turn) hoistArtifact(ctx context.Context, toolCallID string, output map[string]any) bool {
	fileID, ok := toInt64(output["file_id"])
	if !ok {
		return true
	}

	rec, pages, err := t.engine.files.File(ctx, fileID)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load artifact file", "file_id", fileID, "error", err)
		return true
	}
	if rec == nil || len(pages) == 0 {
		return true
	}

	note := "Downloaded file"
	if n, ok := output["note"].(string); ok && n != "" {
		note = n
	}
	meta := fmt.Sprintf("file_id=%d", fileID)
	if pageCount, ok := toInt64(output["page_count"]); ok && pageCount > 0 {
		meta += fmt.Sprintf(", pages=%d", pageCount)
	}

	blocks := []llm.ContentBlock{llm.NewTextBlock(fmt.Sprintf("(tool) %s (%s)", note, meta))}
	for _, page := range pages {
		blocks = append(blocks,
			llm.NewTextBlock(fmt.Sprintf("[File: %s, Page %d]", rec.Filename, page.PageNumber)),
			llm.NewImageBlock(page.Data, page.MimeType),
		)
	}

	if _, err := t.engine.history.AppendArtifact(ctx, t.req.SessionID, toolCallID, blocks); err != nil {
		slog.ErrorContext(ctx, "Failed to persist artifact", "session_id", t.req.SessionID, "error", err)
		t.fatal(ctx, ErrCodeInternal, "failed to persist tool artifact")
		return false
	}
	t.history = append(t.history, llm.WireMessage{Role: llm.RoleAssistant, Content: blocks})
	return true
}

// applyReasoningResult toggles the reply guard off the reasoning tool's
// ready_to_reply flag.
func (t *turn) applyReasoningResult(output map[string]any) {
	ready, present := output["ready_to_reply"].(bool)
	if !present {
		return
	}

	if ready {
		if t.core.SelfCheckReminder != "" && !t.selfCheckInserted {
			t.appendSystemReminder(t.core.SelfCheckReminder, false)
			t.selfCheckInserted = true
		}
		t.flushProgressBuffer()
		t.guard = false
		t.lastStreamGuard = nil
		return
	}

	t.guard = true
	t.lastStreamGuard = nil
	t.appendSystemReminder(t.core.ReadyToReplyReminder, true)
}

func (t *turn) handleStop(ctx context.Context, client llm.Client, res *streamResult, startTime time.Time) (bool, bool) {
	if len(res.textualCalls) > 0 {
		t.retryCount++
		if t.retryCount > t.core.MaxRetryOnMultipleTools {
			t.fatal(ctx, ErrCodeTextualToolCallMaxRetries,
				"Model repeatedly emitted raw JSON tool calls without using the structured tool-call channel.")
			return false, false
		}
		reminder := "You did not invoke the tool via the structured tool-call channel. " +
			"Please regenerate your response using the proper tool call format, " +
			"and do not output JSON directly in the text. Only one tool call is allowed per turn."
		if !t.emitRetry(ctx, RetryTextualToolCall, reminder) {
			return false, false
		}
		t.appendSystemReminder(reminder, false)
		t.forceReasoning = true
		return false, true
	}

	// Guard against empty responses. Guarded progress text counts as
	// output here; only a round trip that produced nothing at all is
	// retried.
	if strings.TrimSpace(res.fullContent) == "" && strings.TrimSpace(res.guardedContent) == "" {
		t.retryCount++
		if t.retryCount > t.core.MaxRetryOnMultipleTools {
			t.fatal(ctx, ErrCodeEmptyResponseMaxRetries,
				"Model produced no usable content after multiple retries.")
			return false, false
		}
		reminder := "Your previous response contained no usable text. " +
			"Please provide a natural-language answer or call an appropriate tool."
		if !t.emitRetry(ctx, RetryEmptyContent, reminder) {
			return false, false
		}
		t.appendSystemReminder(reminder, false)
		t.forceReasoning = true
		return false, true
	}

	// The guard is engaged: the text was progress, not a final answer.
	if t.guard {
		t.flushProgressBuffer()
		t.lastStreamGuard = nil
		ev := newEvent(EventStatus)
		ev.Status = "awaiting_more_actions"
		ev.Message = "Reasoning marked the task as not ready for a final answer. Continue executing the plan."
		if !t.emit(ctx, ev) {
			return false, false
		}
		t.appendSystemReminder(t.core.ReadyToReplyReminder, true)
		return false, true
	}

	// Clean final answer while unguarded; persist it.
	t.flushProgressBuffer()
	msg, err := t.engine.history.AppendFinal(ctx, t.req.SessionID, client.Model(), res.fullContent, t.progressSegments)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to persist final answer", "session_id", t.req.SessionID, "error", err)
		t.fatal(ctx, ErrCodeInternal, "failed to persist final answer")
		return false, false
	}
	t.forceReasoning = false

	ev := newEvent(EventContentDone)
	ev.Guarded = boolPtr(false)
	if !t.emit(ctx, ev) {
		return false, false
	}

	doneEv := newEvent(EventDone)
	doneEv.MessageID = msg.ID
	doneEv.SessionID = t.req.SessionID
	doneEv.TotalIterations = intPtr(t.iteration)
	doneEv.TotalTimeMs = int64Ptr(time.Since(startTime).Milliseconds())
	if !t.emit(ctx, doneEv) {
		return false, false
	}
	t.engine.observe(t.req.SessionID, "done", fmt.Sprintf("iterations=%d", t.iteration))
	return true, true
}

func (t *turn) handleUnexpected(ctx context.Context, res *streamResult) (bool, bool) {
	if res.finishReason == "" && res.fullContent == "" && len(res.toolCalls) == 0 {
		t.retryCount++
		if t.retryCount > t.core.MaxRetryOnMultipleTools {
			t.fatal(ctx, ErrCodeUnexpectedFinishReason,
				"Model produced no content or tool call after multiple retries.")
			return false, false
		}
		reminder := "Your previous response contained no valid text or tool call. " +
			"Please call an appropriate tool or produce a natural-language answer."
		if !t.emitRetry(ctx, RetryEmptyFinishReason, reminder) {
			return false, false
		}
		t.appendSystemReminder(reminder, false)
		return false, true
	}

	t.fatal(ctx, ErrCodeUnexpectedFinishReason,
		fmt.Sprintf("Unexpected finish_reason: %s", res.finishReason))
	return false, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func truncateDetail(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
