package ollamalm

import (
	"log/slog"

	"aegis/pkg/config"
	"aegis/pkg/llm"
)

// Factory handles creation of Ollama clients.
type Factory struct{}

// Create implements llm.ProviderFactory.
func (f *Factory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sys.OllamaDefaultURL
	}

	var clients []llm.Client
	for _, model := range cfg.Models {
		client, err := NewClient(model, baseURL, cfg.Options)
		if err != nil {
			slog.Error("Failed to create Ollama client", "model", model, "error", err)
			continue
		}
		client.SetDebug(sys.DebugChunks)
		client.SetChannelBuffer(sys.InternalChannelBuffer)
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("ollama", &Factory{})
}
