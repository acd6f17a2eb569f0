package llm

import (
	"fmt"
	"log/slog"
	"time"

	"aegis/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// NewRouterFromConfig builds the model router from the raw 'llm' config
// section. Groups with an unknown provider type are skipped with a
// warning rather than aborting startup.
func NewRouterFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (*Router, error) {
	if rawLLM == nil {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := json.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %v", err)
	}

	var allAtomicClients []Client
	for _, group := range groups {
		slog.Info("Loading LLM group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("Unknown provider type", "type", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("Failed to create clients", "type", group.Type, "error", err)
			continue
		}

		allAtomicClients = append(allAtomicClients, clients...)
	}

	if len(allAtomicClients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}

	slog.Info("Total atomic LLM clients initialized", "count", len(allAtomicClients))

	return NewRouter(allAtomicClients, system.MaxRetries, time.Duration(system.RetryDelayMs)*time.Millisecond)
}
