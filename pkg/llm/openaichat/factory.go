package openaichat

import (
	"log/slog"

	"aegis/pkg/config"
	"aegis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Factory handles creation of OpenAI-compatible chat clients.
type Factory struct{}

// Create implements llm.ProviderFactory. One client is built per
// (api key, model) pair; the router folds same-model clients into a
// fallback chain, which gives key rotation on transient failures.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	apiKeys := cfg.APIKeys
	if len(apiKeys) == 0 {
		// Local OpenAI-compatible endpoints accept any key.
		apiKeys = []string{""}
	}

	var clients []llm.Client
	for _, model := range cfg.Models {
		for _, key := range apiKeys {
			client := NewClient(cfg.Type, key, model, cfg.BaseURL, cfg.Options)
			client.SetDebug(sys.DebugChunks)
			client.SetChannelBuffer(sys.InternalChannelBuffer)
			clients = append(clients, client)
		}
		slog.Info("Registered OpenAI-compatible model", "model", model, "keys", len(apiKeys))
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
	llm.RegisterProvider("openai_compatible", &Factory{})
}
