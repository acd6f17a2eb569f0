package chat

import (
	"time"

	"aegis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Role constants for persisted messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ArtifactToolName marks an assistant row as a hoisted file artifact
// rather than a structured tool call. Artifact rows keep the tool call
// id they originate from, so the marker must be checked before the id.
const ArtifactToolName = "__assistant_artifact__"

// AssistantFinalType tags the JSON payload of a final assistant message.
const AssistantFinalType = "assistant_final"

// Message is one persisted conversation message. Sequence is dense and
// strictly increasing within a session.
type Message struct {
	ID         int64     `json:"id"`
	SessionID  int64     `json:"session_id"`
	Sequence   int64     `json:"sequence"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AssistantFinal is the payload persisted for the closing assistant
// message of a turn. Progress keeps the intermediate guarded segments
// in emission order.
type AssistantFinal struct {
	Type     string   `json:"type"`
	Final    string   `json:"final"`
	Progress []string `json:"progress,omitempty"`
}

// ToolCallRecord is the payload persisted for an assistant message that
// requested a tool execution.
type ToolCallRecord struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	Output map[string]any `json:"output,omitempty"`
}

// FileRecord describes one stored file.
type FileRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Filename  string    `json:"filename"`
	MimeType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
}

// FilePage is one renderable page of a stored file.
type FilePage struct {
	FileID     int64  `json:"file_id"`
	PageNumber int    `json:"page_number"`
	Name       string `json:"name"`
	Data       []byte `json:"-"`
	MimeType   string `json:"mime_type"`
}

// EncodeBlocks serializes content blocks for storage.
func EncodeBlocks(blocks []llm.ContentBlock) (string, error) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeBlocks parses stored block content. A payload that is not a
// block array is returned as a single text block, so plain-string rows
// from older writers stay readable.
func DecodeBlocks(content string) []llm.ContentBlock {
	var blocks []llm.ContentBlock
	if err := json.Unmarshal([]byte(content), &blocks); err == nil {
		return blocks
	}
	return []llm.ContentBlock{llm.NewTextBlock(content)}
}
