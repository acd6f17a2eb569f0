package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like auth secrets, provider groups, and prompts.
type Config struct {
	// Server holds the HTTP listener settings.
	Server ServerConfig `json:"server"`
	// Database holds the sqlite storage settings.
	Database DatabaseConfig `json:"database"`
	// Auth holds token and registration settings.
	Auth AuthConfig `json:"auth"`
	// LLM holds the provider group configuration in raw JSON; the llm
	// package parses it into per-model clients.
	LLM jsoniter.RawMessage `json:"llm"`
	// WebSearch lists the search-capable model ids tried in order by the
	// web search tool.
	WebSearch WebSearchConfig `json:"web_search"`
	// Uploads holds file upload limits and storage location.
	Uploads UploadConfig `json:"uploads"`
	// Agent holds the loop ceilings.
	Agent AgentConfig `json:"agent"`
	// Prompts holds all operator-editable prompt texts.
	Prompts PromptConfig `json:"prompts"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Port is the TCP port the API server binds to.
	Port int `json:"port"`
	// AllowedOrigins whitelists additional browser origins for the
	// websocket endpoint. Same-host requests and clients that send no
	// Origin header are always accepted.
	AllowedOrigins []string `json:"allowed_origins"`
}

// DatabaseConfig holds the sqlite storage settings.
type DatabaseConfig struct {
	// Path is the sqlite database file location. Parent directories are
	// created on startup.
	Path string `json:"path"`
}

// AuthConfig holds token and registration settings.
type AuthConfig struct {
	// JWTSecret signs access tokens. Mandatory.
	JWTSecret string `json:"jwt_secret"`
	// AccessTokenExpireMinutes is the access token lifetime.
	AccessTokenExpireMinutes int `json:"access_token_expire_minutes"`
	// RegistrationToken gates account creation; when empty, registration
	// is open.
	RegistrationToken string `json:"registration_token"`
}

// WebSearchConfig configures the web search tool.
type WebSearchConfig struct {
	// Models are tried in order until one produces an answer.
	Models []string `json:"models"`
	// TimeoutMs bounds a single search model call.
	TimeoutMs int `json:"timeout_ms"`
}

// UploadConfig holds file upload limits and storage location.
type UploadConfig struct {
	// Dir is where uploaded and downloaded originals are stored.
	Dir string `json:"dir"`
	// MaxFileSize is the upload/download size ceiling in bytes.
	MaxFileSize int64 `json:"max_file_size"`
	// AllowedExtensions whitelists upload extensions (lowercase, with
	// dot). Empty means any extension is accepted.
	AllowedExtensions []string `json:"allowed_extensions"`
}

// AgentConfig holds the loop ceilings.
type AgentConfig struct {
	// MaxIterations caps tool iterations within a single turn.
	MaxIterations int `json:"max_iterations"`
	// MaxRetryOnMultipleTools is the shared budget for the model
	// misbehavior recovery paths.
	MaxRetryOnMultipleTools int `json:"max_retry_on_multiple_tools"`
	// DefaultTimezone is used by the time tool when the model omits one.
	DefaultTimezone string `json:"default_timezone"`
}

// PromptConfig holds all operator-editable prompt texts.
type PromptConfig struct {
	// System is the persona/instruction string prepended to every
	// conversation that does not already start with a system message.
	System string `json:"system"`
	// MultipleToolsWarning is appended when the model requests more than
	// one tool call at once.
	MultipleToolsWarning string `json:"multiple_tools_warning"`
	// SelfCheckFinalResponse is inserted once per turn when reasoning
	// reports the conversation is ready for a final answer.
	SelfCheckFinalResponse string `json:"self_check_final_response"`
	// ReadyToReplyReminder is appended while the reply guard is engaged.
	// Left empty, the built-in default is used.
	ReadyToReplyReminder string `json:"ready_to_reply_reminder"`
}

// DefaultReadyToReplyReminder is the guard reminder used when the prompt
// configuration does not override it.
const DefaultReadyToReplyReminder = "During your most recent reasoning tool call, you set `ready_to_reply` to false, which means you do not yet have" +
	" enough information for a final answer. Continue executing your plan, calling tools, or refining the plan instead" +
	" of replying. If you believe the conversation is ready for a final response, call the reasoning tool again to" +
	" review the evidence and set `ready_to_reply` to true; otherwise, keep executing the next step."

// DefaultMultipleToolsWarning is the retry reminder used when the prompt
// configuration does not override it.
const DefaultMultipleToolsWarning = "You invoked multiple tools at once. Only one tool call is allowed per turn. " +
	"Pick the single most important next action and call that tool alone."

// CoreConfig is the loop-facing slice of the configuration, passed by value
// into each agent run so hot reloads never mutate a turn in flight.
type CoreConfig struct {
	MaxIterations           int
	MaxRetryOnMultipleTools int
	SystemPrompt            string
	MultipleToolsWarning    string
	SelfCheckReminder       string
	ReadyToReplyReminder    string
}

// Core flattens the agent and prompt sections into a CoreConfig snapshot.
func (c *Config) Core() CoreConfig {
	return CoreConfig{
		MaxIterations:           c.Agent.MaxIterations,
		MaxRetryOnMultipleTools: c.Agent.MaxRetryOnMultipleTools,
		SystemPrompt:            c.Prompts.System,
		MultipleToolsWarning:    c.Prompts.MultipleToolsWarning,
		SelfCheckReminder:       c.Prompts.SelfCheckFinalResponse,
		ReadyToReplyReminder:    c.Prompts.ReadyToReplyReminder,
	}
}

// Normalize fills unset fields with safe defaults.
func (c *Config) Normalize() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/app.db"
	}
	if c.Auth.AccessTokenExpireMinutes <= 0 {
		c.Auth.AccessTokenExpireMinutes = 30
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "data/uploads"
	}
	if c.Uploads.MaxFileSize <= 0 {
		c.Uploads.MaxFileSize = 50 * 1024 * 1024
	}
	if c.WebSearch.TimeoutMs <= 0 {
		c.WebSearch.TimeoutMs = 100000
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 50
	}
	if c.Agent.MaxRetryOnMultipleTools <= 0 {
		c.Agent.MaxRetryOnMultipleTools = 3
	}
	if c.Agent.DefaultTimezone == "" {
		c.Agent.DefaultTimezone = "UTC"
	}
	if c.Prompts.ReadyToReplyReminder == "" {
		c.Prompts.ReadyToReplyReminder = DefaultReadyToReplyReminder
	}
	if c.Prompts.MultipleToolsWarning == "" {
		c.Prompts.MultipleToolsWarning = DefaultMultipleToolsWarning
	}
}

// Validate ensures the configuration structure contains all mandatory fields.
// It acts as a primary guard before the system proceeds to initialization.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("mandatory 'auth.jwt_secret' is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are usually stored in system.json and control the
// performance, reliability, and technical behavior of the engine.
type SystemConfig struct {
	// MaxRetries is the number of times the fallback client will attempt
	// to recover from a transient LLM or network error before giving up.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the duration to wait (in milliseconds) between
	// consecutive retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff time (in milliseconds) for an
	// LLM request. The context will be cancelled if exceeded.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is the fallback endpoint used when connecting
	// to a local Ollama instance if no specific URL is provided.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer defines the size of the internal Go channels
	// used for buffering stream events to prevent production blocking.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// DownloadTimeoutMs is the timeout (in milliseconds) applied when
	// fetching external files.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// ToolWorkerPoolSize caps how many I/O-heavy tool executions may run
	// at once across all sessions.
	ToolWorkerPoolSize int `json:"tool_worker_pool_size"`
	// DebugChunks enables saving every raw LLM response chunk to the /debug
	// folder for inspection and troubleshooting purposes.
	DebugChunks bool `json:"debug_chunks"`
	// ConfigReloadDebounceMs is the quiet period (in milliseconds) after a
	// config file write before a reload fires.
	ConfigReloadDebounceMs int `json:"config_reload_debounce_ms"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
	// EnableTools globally toggles the tool calling (agentic) functionality.
	// If false, the model will not be provided with any external tools.
	EnableTools bool `json:"enable_tools"`
}

// DefaultSystemConfig returns a SystemConfig pointer initialized with hardcoded
// safe default values. This is used as a fallback when the system.json file
// is missing or corrupt, ensuring the engine can always start.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:             3,
		RetryDelayMs:           500,
		LLMTimeoutMs:           600000,
		OllamaDefaultURL:       "http://localhost:11434",
		InternalChannelBuffer:  100,
		DownloadTimeoutMs:      30000,
		ToolWorkerPoolSize:     8,
		ConfigReloadDebounceMs: 500,
		LogLevel:               "info",
		EnableTools:            true,
	}
}

// Load reads and parses the JSON configuration files from the current working directory.
// It first attempts to load 'config.json' (app config). If this file is missing, it returns an error.
// Then it calls LoadSystemConfig to load 'system.json'.
// Returns pointers to the loaded Config and SystemConfig, or an error if the mandatory app config fails.
func Load() (*Config, *SystemConfig, error) {
	// 1. Load Application Config
	appPath := "config.json"
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(appFile, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	// 1a. Validate structure integrity
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	// 2. Load System Config independently
	sysCfg := LoadSystemConfig("system.json")

	return &cfg, sysCfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg // File not found, use defaults
	}

	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(file, cfg); err != nil {
		return cfg // Parse failed, use defaults
	}

	return cfg
}
