package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/llm"
)

func reasoningHistory() []llm.WireMessage {
	return []llm.WireMessage{
		llm.NewSystemMessage("You are helpful."),
		llm.NewUserMessage("What's the weather in Taipei?"),
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       "call_1",
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "ddgs_search", Arguments: `{"query":"Taipei weather"}`},
			}},
		},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: `{"success": true, "result": "rainy"}`},
		{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       "call_2",
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: "fetch_url", Arguments: `{"url":"https://x"}`},
			}},
		},
		{Role: llm.RoleTool, ToolCallID: "call_2", Content: `{"error": "download failed"}`},
		llm.NewUserMessage("Also, will it rain tomorrow?"),
	}
}

func TestReasoningToolCountsHistory(t *testing.T) {
	tool := NewReasoningTool()

	out, err := tool.Execute(context.Background(), map[string]any{
		"thinking_focus":    "progress_review",
		"specific_question": "Do I have enough to answer?",
		"ready_to_reply":    false,
	}, Context{History: reasoningHistory()})
	require.NoError(t, err)

	assert.Equal(t, true, out["success"])
	assert.Equal(t, "progress_review", out["thinking_focus"])
	assert.Equal(t, false, out["ready_to_reply"])

	stats, ok := out["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 2, stats["total_tool_calls"])
	assert.Equal(t, 1, stats["successful_calls"])
	assert.Equal(t, 1, stats["failed_calls"])
	assert.Equal(t, 2, stats["user_interactions"])
}

func TestReasoningToolSummaryContent(t *testing.T) {
	tool := NewReasoningTool()

	out, err := tool.Execute(context.Background(), map[string]any{
		"thinking_focus":    "task_planning",
		"specific_question": "What is the next step?",
		"ready_to_reply":    false,
	}, Context{History: reasoningHistory()})
	require.NoError(t, err)

	summary, ok := out["summary"].(string)
	require.True(t, ok)

	assert.Contains(t, summary, "What's the weather in Taipei?")
	assert.Contains(t, summary, "Also, will it rain tomorrow?")
	assert.Contains(t, summary, "✅ ddgs_search")
	assert.Contains(t, summary, "❌ fetch_url")
	assert.Contains(t, summary, "What is the next step?")
	assert.Contains(t, summary, "Planning guidance")
}

func TestReasoningToolEchoesReadyTrue(t *testing.T) {
	tool := NewReasoningTool()

	out, err := tool.Execute(context.Background(), map[string]any{
		"thinking_focus":    "progress_review",
		"specific_question": "Ready?",
		"ready_to_reply":    true,
	}, Context{})
	require.NoError(t, err)

	assert.Equal(t, true, out["ready_to_reply"])
	summary, _ := out["summary"].(string)
	assert.Contains(t, summary, "No tool calls yet")
}
