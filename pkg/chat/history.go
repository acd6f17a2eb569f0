package chat

import (
	"aegis/pkg/llm"
)

// ProjectForReplay converts persisted messages into the wire form the
// model consumes. Every stored row maps to exactly one wire message.
func ProjectForReplay(messages []Message) []llm.WireMessage {
	out := make([]llm.WireMessage, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, llm.WireMessage{Role: llm.RoleSystem, Content: m.Content})

		case RoleUser:
			out = append(out, llm.WireMessage{Role: llm.RoleUser, Content: DecodeBlocks(m.Content)})

		case RoleAssistant:
			out = append(out, projectAssistant(m))

		case RoleTool:
			var output map[string]any
			if err := json.Unmarshal([]byte(m.Content), &output); err != nil {
				out = append(out, llm.WireMessage{
					Role:       llm.RoleTool,
					Content:    m.Content,
					ToolCallID: m.ToolCallID,
				})
				continue
			}
			out = append(out, llm.WireMessage{
				Role:       llm.RoleTool,
				Content:    ProjectToolResult(output),
				ToolCallID: m.ToolCallID,
			})
		}
	}

	return out
}

// projectAssistant resolves the three assistant row shapes: hoisted
// artifact, structured tool call, and final reply. Artifact rows carry a
// tool call id too, so the marker wins.
func projectAssistant(m Message) llm.WireMessage {
	if m.ToolName == ArtifactToolName {
		return llm.WireMessage{Role: llm.RoleAssistant, Content: DecodeBlocks(m.Content)}
	}

	if m.ToolCallID != "" {
		var rec ToolCallRecord
		if err := json.Unmarshal([]byte(m.Content), &rec); err == nil && rec.Name != "" {
			args, merr := json.Marshal(rec.Input)
			if merr != nil {
				args = []byte("{}")
			}
			return llm.WireMessage{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:   rec.ID,
					Type: llm.ToolTypeFunction,
					Function: llm.FunctionCall{
						Name:      rec.Name,
						Arguments: string(args),
					},
				}},
			}
		}
		// Unreadable record, fall through to plain content.
	}

	var final AssistantFinal
	if err := json.Unmarshal([]byte(m.Content), &final); err == nil && final.Type == AssistantFinalType {
		return llm.WireMessage{Role: llm.RoleAssistant, Content: final.Final}
	}

	return llm.WireMessage{Role: llm.RoleAssistant, Content: m.Content}
}

// ProjectToolResult converts a stored tool output into wire content.
// Image blocks stashed under "image_blocks" are hoisted next to the
// remaining payload so vision models see them directly; outputs without
// images project to their plain JSON text.
func ProjectToolResult(output map[string]any) any {
	rawImages, ok := output["image_blocks"]
	if !ok {
		return marshalToText(output)
	}

	images := llm.BlocksOfContent(rawImages)

	rest := make(map[string]any, len(output))
	for k, v := range output {
		if k == "image_blocks" {
			continue
		}
		rest[k] = v
	}

	if len(images) == 0 {
		return marshalToText(rest)
	}

	blocks := make([]llm.ContentBlock, 0, len(images)+1)
	blocks = append(blocks, llm.NewTextBlock(marshalToText(rest)))
	blocks = append(blocks, images...)
	return blocks
}

func marshalToText(v map[string]any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
