package llm

import (
	"encoding/base64"
	"fmt"
)

//----------------------------------------------------------------
// WireMessage - provider-facing message structure
//----------------------------------------------------------------

// WireMessage is a single message in the shape providers consume.
// Content is either a plain string or a []ContentBlock; both forms
// round-trip through the persisted history unchanged.
type WireMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content any    `json:"content,omitempty"`

	// ToolCalls holds the structured tool invocations requested by the
	// model (role: assistant only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to the invocation it answers
	// (role: tool only).
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is one structured tool invocation produced by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its raw JSON argument string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

//----------------------------------------------------------------
// ContentBlock - multimodal content unit
//----------------------------------------------------------------

// ContentBlock is one unit of multimodal content inside a message.
// Supported types: text, image_url.
type ContentBlock struct {
	Type string `json:"type"`

	// Text is set for type "text".
	Text string `json:"text,omitempty"`

	// ImageURL is set for type "image_url".
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL points at an image by URL or embeds it as a data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "low", "high", "auto"
}

// NewTextBlock builds a text block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockTypeText, Text: text}
}

// NewImageBlock builds an image block embedding the raw bytes as a
// base64 data URI.
func NewImageBlock(data []byte, mimeType string) ContentBlock {
	uri := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	return ContentBlock{
		Type:     BlockTypeImageURL,
		ImageURL: &ImageURL{URL: uri, Detail: ImageDetailHigh},
	}
}

// NewImageBlockFromURL builds an image block pointing at an external URL.
func NewImageBlockFromURL(url string) ContentBlock {
	return ContentBlock{
		Type:     BlockTypeImageURL,
		ImageURL: &ImageURL{URL: url, Detail: ImageDetailHigh},
	}
}

// TextOfContent flattens a WireMessage content value into plain text.
// Image blocks are skipped.
func TextOfContent(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []ContentBlock:
		var out string
		for _, b := range v {
			if b.Type == BlockTypeText {
				out += b.Text
			}
		}
		return out
	case []any:
		// Decoded generic JSON shape.
		var out string
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if m["type"] == BlockTypeText {
				if t, ok := m["text"].(string); ok {
					out += t
				}
			}
		}
		return out
	default:
		return ""
	}
}

// BlocksOfContent normalizes a content value into []ContentBlock.
// A plain string becomes a single text block.
func BlocksOfContent(content any) []ContentBlock {
	switch v := content.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []ContentBlock{NewTextBlock(v)}
	case []ContentBlock:
		return v
	default:
		// Round-trip through JSON for decoded generic shapes.
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var blocks []ContentBlock
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil
		}
		return blocks
	}
}

// NewTextMessage builds a plain text message.
func NewTextMessage(role, text string) WireMessage {
	return WireMessage{Role: role, Content: text}
}

// NewSystemMessage builds a system message.
func NewSystemMessage(text string) WireMessage {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage builds a user message.
func NewUserMessage(text string) WireMessage {
	return NewTextMessage(RoleUser, text)
}

//----------------------------------------------------------------
// ToolSchema - tool description for the model
//----------------------------------------------------------------

// ToolSchema describes one callable tool in the function-calling shape.
type ToolSchema struct {
	Type     string       `json:"type"` // always "function"
	Function FunctionSpec `json:"function"`
}

// FunctionSpec carries a tool's name, description, and JSON-schema
// parameter definition.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

//----------------------------------------------------------------
// StreamDelta - incremental stream unit
//----------------------------------------------------------------

// StreamDelta is one increment of a streaming model response.
type StreamDelta struct {
	// Content is the new text fragment, if any.
	Content string `json:"content,omitempty"`

	// ToolCalls carries incremental tool call fragments keyed by Index.
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`

	// FinishReason is set on the terminating delta.
	FinishReason string `json:"finish_reason,omitempty"`

	// Err aborts the stream when non-nil. No further deltas follow.
	Err error `json:"-"`
}

// ToolCallDelta is a fragment of one tool call in a streaming response.
// Fragments with the same Index accumulate into a single call: the first
// fragment carries ID and Name, later ones append to Arguments.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamOptions adjusts a single streaming request.
type StreamOptions struct {
	// ForceTool names a tool the model must invoke on this request.
	// Empty means the model chooses freely.
	ForceTool string
}
