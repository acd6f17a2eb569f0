package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"aegis/pkg/llm"
)

// SearchTool answers a query through search-capable models, trying each
// configured model in order until one produces a result.
type SearchTool struct {
	clients []llm.Client
	timeout time.Duration
}

func NewSearchTool(clients []llm.Client, timeout time.Duration) *SearchTool {
	if timeout <= 0 {
		timeout = 100 * time.Second
	}
	return &SearchTool{clients: clients, timeout: timeout}
}

func (s *SearchTool) Name() string  { return "ddgs_search" }
func (s *SearchTool) IOHeavy() bool { return true }

func (s *SearchTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionSpec{
			Name:        s.Name(),
			Description: "Search the web for current information. Use this for anything that may have changed after your training data, such as news, prices, releases, or live status.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query.",
					},
					"queries": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Multiple related search queries, combined into one request.",
					},
				},
			},
		},
	}
}

const searchPromptTemplate = "Search the web for the following request and provide detailed, accurate information:\n\n%s\n\n" +
	"Requirements:\n" +
	"1. Provide up-to-date, accurate information\n" +
	"2. List primary sources when multiple exist\n" +
	"3. Note the time of the information when relevant\n" +
	"4. Present results in a clear, structured format"

func (s *SearchTool) Execute(ctx context.Context, input map[string]any, tc Context) (map[string]any, error) {
	query := extractQuery(input)
	if query == "" {
		return map[string]any{
			"success": false,
			"error":   "empty query",
			"message": "Provide a 'query' string or a 'queries' array.",
		}, nil
	}

	if len(s.clients) == 0 {
		return map[string]any{
			"success": false,
			"error":   "no search models configured",
			"message": "Web search is not available on this server.",
		}, nil
	}

	prompt := fmt.Sprintf(searchPromptTemplate, query)
	messages := []llm.WireMessage{llm.NewUserMessage(prompt)}

	var lastErr error
	for _, client := range s.clients {
		result, err := s.askModel(ctx, client, messages)
		if err != nil {
			lastErr = err
			slog.WarnContext(ctx, "Search model failed, trying next", "model", client.Model(), "error", err)
			continue
		}
		if strings.TrimSpace(result) == "" {
			lastErr = fmt.Errorf("model %s returned an empty result", client.Model())
			continue
		}
		return map[string]any{
			"success":    true,
			"query":      query,
			"result":     result,
			"model_used": client.Model(),
		}, nil
	}

	detail := ""
	if lastErr != nil {
		detail = lastErr.Error()
	}
	return map[string]any{
		"success": false,
		"query":   query,
		"error":   "all search models failed",
		"detail":  detail,
		"message": "Web search is temporarily unavailable. Consider answering from existing knowledge and telling the user the information may be outdated.",
	}, nil
}

func (s *SearchTool) askModel(ctx context.Context, client llm.Client, messages []llm.WireMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	deltaCh, err := client.StreamChat(callCtx, messages, nil, llm.StreamOptions{})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for delta := range deltaCh {
		if delta.Err != nil {
			return "", delta.Err
		}
		sb.WriteString(delta.Content)
	}
	return sb.String(), nil
}

// extractQuery reads 'query' or joins 'queries' with newlines.
func extractQuery(input map[string]any) string {
	if q, ok := input["query"].(string); ok && strings.TrimSpace(q) != "" {
		return strings.TrimSpace(q)
	}
	if raw, ok := input["queries"].([]any); ok {
		var parts []string
		for _, item := range raw {
			if q, ok := item.(string); ok && strings.TrimSpace(q) != "" {
				parts = append(parts, strings.TrimSpace(q))
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
