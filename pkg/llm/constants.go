package llm

// Role constants for WireMessage.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// FinishReason constants define normalized reasons for generation
// termination. All providers must normalize their native stop reasons
// to these values.
const (
	FinishReasonStop      = "stop"       // Normal completion
	FinishReasonToolCalls = "tool_calls" // Model requested tool execution
	FinishReasonLength    = "length"     // Output truncated due to token limit
)

// ContentBlock type constants define the supported content block formats
// used throughout the message pipeline.
const (
	BlockTypeText     = "text"      // Plain text content
	BlockTypeImageURL = "image_url" // Image by URL or data URI
)

// ImageDetail constants for ImageURL.Detail.
const (
	ImageDetailHigh = "high"
	ImageDetailLow  = "low"
	ImageDetailAuto = "auto"
)

// ToolTypeFunction is the only tool type on the wire.
const ToolTypeFunction = "function"

type debugCtxKey string

// DebugDirContextKey optionally carries a per-session subdirectory name
// for stream debug logs.
const DebugDirContextKey debugCtxKey = "debug_dir"
