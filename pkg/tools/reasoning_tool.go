package tools

import (
	"context"
	"fmt"
	"strings"

	"aegis/pkg/llm"
)

// ReasoningTool produces a structured self-review of the conversation so
// far. It is also the only channel through which the model may declare
// the turn ready for a final answer, via the ready_to_reply flag the
// loop reads back from its result.
type ReasoningTool struct{}

func NewReasoningTool() *ReasoningTool { return &ReasoningTool{} }

func (r *ReasoningTool) Name() string  { return "reasoning" }
func (r *ReasoningTool) IOHeavy() bool { return false }

var thinkingFocusValues = []string{
	"task_planning",
	"progress_review",
	"problem_analysis",
	"task_decomposition",
	"strategy_adjustment",
}

func (r *ReasoningTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionSpec{
			Name: r.Name(),
			Description: "Pause and think. Reviews the conversation, summarizes progress, and records whether you are " +
				"ready to give the final answer. Call with ready_to_reply=true only after the evidence supports a final response.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"thinking_focus": map[string]any{
						"type":        "string",
						"enum":        thinkingFocusValues,
						"description": "Which aspect of the work to reflect on.",
					},
					"specific_question": map[string]any{
						"type":        "string",
						"description": "The concrete question you are trying to resolve right now.",
					},
					"ready_to_reply": map[string]any{
						"type":        "boolean",
						"description": "true when the gathered evidence is sufficient for a final answer; false to keep working.",
					},
				},
				"required": []string{"thinking_focus", "specific_question", "ready_to_reply"},
			},
		},
	}
}

// historyStats aggregates what happened so far in the conversation.
type historyStats struct {
	TotalToolCalls   int `json:"total_tool_calls"`
	SuccessfulCalls  int `json:"successful_calls"`
	FailedCalls      int `json:"failed_calls"`
	UserInteractions int `json:"user_interactions"`
}

func (r *ReasoningTool) Execute(ctx context.Context, input map[string]any, tc Context) (map[string]any, error) {
	focus, _ := input["thinking_focus"].(string)
	question, _ := input["specific_question"].(string)
	ready, _ := input["ready_to_reply"].(bool)

	summary := buildThinkingSummary(tc.History, focus, question)
	stats := collectStats(tc.History)

	return map[string]any{
		"success":        true,
		"thinking_focus": focus,
		"summary":        summary,
		"stats": map[string]any{
			"total_tool_calls":  stats.TotalToolCalls,
			"successful_calls":  stats.SuccessfulCalls,
			"failed_calls":      stats.FailedCalls,
			"user_interactions": stats.UserInteractions,
		},
		"ready_to_reply": ready,
	}, nil
}

func buildThinkingSummary(history []llm.WireMessage, focus, question string) string {
	var sb strings.Builder
	stats := collectStats(history)

	sb.WriteString("# 🧠 Deep thinking moment\n\n")

	if goal := firstUserText(history); goal != "" {
		sb.WriteString("## 📋 Initial user goal\n")
		sb.WriteString(truncateRunes(goal, 500))
		sb.WriteString("\n\n")
	}

	if recent := recentUserTexts(history, 3); len(recent) > 0 {
		sb.WriteString("## 💬 Recent clarifications\n")
		for _, text := range recent {
			fmt.Fprintf(&sb, "- %s\n", truncateRunes(text, 200))
		}
		sb.WriteString("\n")
	}

	actions := collectActions(history)
	fmt.Fprintf(&sb, "## ✅ Actions taken (%d total)\n", len(actions))
	for _, a := range actions {
		sb.WriteString(a)
		sb.WriteString("\n")
	}
	if len(actions) == 0 {
		sb.WriteString("- No tool calls yet\n")
	}
	sb.WriteString("\n")

	sb.WriteString("## 📊 Current status\n")
	fmt.Fprintf(&sb, "- Tool calls: %d (%d succeeded, %d failed)\n",
		stats.TotalToolCalls, stats.SuccessfulCalls, stats.FailedCalls)
	fmt.Fprintf(&sb, "- User interactions: %d\n", stats.UserInteractions)
	if last := lastAssistantText(history); last != "" {
		fmt.Fprintf(&sb, "- Last response: %s\n", truncateRunes(last, 200))
	}
	sb.WriteString("\n")

	if question != "" {
		sb.WriteString("## ❓ Question to consider\n")
		sb.WriteString(question)
		sb.WriteString("\n\n")
	}

	if guidance, ok := guidanceTemplates[focus]; ok {
		sb.WriteString(guidance)
		sb.WriteString("\n\n")
	}

	sb.WriteString("💡 Tip: decide the single next action before acting. If the evidence above already answers the user, set ready_to_reply to true on your next reasoning call.")

	return sb.String()
}

var guidanceTemplates = map[string]string{
	"task_planning": "## 🎯 Planning guidance\n" +
		"1. What is the end state the user actually wants?\n" +
		"2. Which steps remain, and in what order?\n" +
		"3. Which tools cover those steps, and what inputs do they need?",
	"progress_review": "## 🔍 Review guidance\n" +
		"1. Does the collected evidence answer the original goal?\n" +
		"2. Are any earlier results stale, contradictory, or unverified?\n" +
		"3. What is still missing before a final answer is defensible?",
	"problem_analysis": "## 🔧 Analysis guidance\n" +
		"1. What exactly failed, and what did the error say?\n" +
		"2. Is the cause in the input, the tool choice, or the approach?\n" +
		"3. What is the cheapest experiment that distinguishes the causes?",
	"task_decomposition": "## 📝 Decomposition guidance\n" +
		"1. Break the remaining work into independent sub-tasks.\n" +
		"2. Identify which sub-tasks a single tool call can close.\n" +
		"3. Pick the sub-task that unblocks the most of the rest.",
	"strategy_adjustment": "## 🔄 Adjustment guidance\n" +
		"1. Why is the current approach not converging?\n" +
		"2. What alternative approach avoids the blocking failure?\n" +
		"3. What from the work so far carries over to the new approach?",
}

func collectStats(history []llm.WireMessage) historyStats {
	var stats historyStats
	for i, m := range history {
		switch m.Role {
		case llm.RoleUser:
			stats.UserInteractions++
		case llm.RoleAssistant:
			for range m.ToolCalls {
				stats.TotalToolCalls++
				if toolResultLooksSuccessful(history, i) {
					stats.SuccessfulCalls++
				} else {
					stats.FailedCalls++
				}
			}
		}
	}
	return stats
}

func collectActions(history []llm.WireMessage) []string {
	var out []string
	for i, m := range history {
		if m.Role != llm.RoleAssistant {
			continue
		}
		for _, tcall := range m.ToolCalls {
			mark := "✅"
			if !toolResultLooksSuccessful(history, i) {
				mark = "❌"
			}
			out = append(out, fmt.Sprintf("- %s %s", mark, tcall.Function.Name))
		}
	}
	return out
}

// toolResultLooksSuccessful inspects the tool message following the
// assistant call at index i. A result mentioning "error" without
// "success" counts as failed.
func toolResultLooksSuccessful(history []llm.WireMessage, i int) bool {
	if i+1 >= len(history) || history[i+1].Role != llm.RoleTool {
		return true
	}
	text := strings.ToLower(llm.TextOfContent(history[i+1].Content))
	return !strings.Contains(text, "error") || strings.Contains(text, "success")
}

func firstUserText(history []llm.WireMessage) string {
	for _, m := range history {
		if m.Role == llm.RoleUser {
			return strings.TrimSpace(llm.TextOfContent(m.Content))
		}
	}
	return ""
}

// recentUserTexts returns up to n trailing user messages, skipping the
// first one (that is the initial goal, reported separately).
func recentUserTexts(history []llm.WireMessage, n int) []string {
	var all []string
	seenFirst := false
	for _, m := range history {
		if m.Role != llm.RoleUser {
			continue
		}
		if !seenFirst {
			seenFirst = true
			continue
		}
		if text := strings.TrimSpace(llm.TextOfContent(m.Content)); text != "" {
			all = append(all, text)
		}
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func lastAssistantText(history []llm.WireMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) > 0 {
			continue
		}
		text := strings.TrimSpace(llm.TextOfContent(m.Content))
		if len([]rune(text)) > 10 {
			return text
		}
	}
	return ""
}

// truncateRunes shortens s to max runes, appending an ellipsis marker.
func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
