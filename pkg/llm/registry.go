package llm

import (
	"aegis/pkg/config"
)

// ProviderGroupConfig defines the configuration for one group of models
// served by a single provider type.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds the atomic clients for one provider group.
type ProviderFactory interface {
	// Create builds one client per (model, api key) combination in the group.
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]Client, error)
}

// Global provider registry.
var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a provider factory under a type name.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered provider factory.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
