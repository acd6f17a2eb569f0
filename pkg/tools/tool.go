package tools

import (
	"context"
	"sort"
	"sync"

	"aegis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Context carries the per-run information tools may consult.
type Context struct {
	SessionID int64
	// History is the wire-form conversation up to the current call.
	History []llm.WireMessage
}

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool's unique identifier.
	Name() string

	// Schema returns the function-calling description of the tool.
	Schema() llm.ToolSchema

	// IOHeavy reports whether execution should run on the shared worker
	// pool instead of inline.
	IOHeavy() bool

	// Execute runs the tool. The returned map is persisted as the tool
	// result and shown to the model; an error is reserved for internal
	// failures the model should not see.
	Execute(ctx context.Context, input map[string]any, tc Context) (map[string]any, error)
}

// Registry acts as a central inventory for all tools available to the agent.
type Registry struct {
	mu    sync.RWMutex    // Protects concurrent access to the tools map
	tools map[string]Tool // Internal map of tool name to implementation
}

// NewRegistry creates a new tool registry
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry
func (tr *Registry) Register(tool Tool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry
func (tr *Registry) Unregister(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.tools, name)
}

// Get retrieves a tool by name
func (tr *Registry) Get(name string) (Tool, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tool, ok := tr.tools[name]
	return tool, ok
}

// GetAll returns all registered tools sorted by name.
func (tr *Registry) GetAll() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	tools := make([]Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns the function-calling schemas of all registered tools,
// sorted by name so the model sees a stable ordering.
func (tr *Registry) Schemas() []llm.ToolSchema {
	all := tr.GetAll()
	out := make([]llm.ToolSchema, 0, len(all))
	for _, t := range all {
		out = append(out, t.Schema())
	}
	return out
}
