package openaichat

import (
	"context"
	"errors"
	"io"
	"strings"

	"aegis/pkg/llm"

	openai "github.com/sashabaranov/go-openai"
)

// Client serves one model over the OpenAI chat completions wire, which
// also covers OpenAI-compatible gateways via a custom base URL.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	chanBuffer   int
	options      map[string]any
}

// NewClient creates a client for a single (api key, model) pair.
func NewClient(provider, apiKey, model, baseURL string, options map[string]any) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Client{
		client:     openai.NewClientWithConfig(cfg),
		provider:   provider,
		model:      model,
		chanBuffer: 100,
		options:    options,
	}
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

func (c *Client) SetChannelBuffer(n int) {
	if n > 0 {
		c.chanBuffer = n
	}
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}

	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "503") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

func (c *Client) StreamChat(ctx context.Context, messages []llm.WireMessage, tools []llm.ToolSchema, opts llm.StreamOptions) (<-chan llm.StreamDelta, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: convertMessages(messages),
		Stream:   true,
	}

	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}

	if opts.ForceTool != "" {
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: opts.ForceTool},
		}
	}

	if t, ok := c.options["temperature"].(float64); ok {
		req.Temperature = float32(t)
	}
	if p, ok := c.options["top_p"].(float64); ok {
		req.TopP = float32(p)
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		req.MaxTokens = int(maxTok)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	deltaCh := make(chan llm.StreamDelta, c.chanBuffer)

	go func() {
		defer close(deltaCh)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
		defer debugger.Close()

		// Assigned when the wire omits an index on a tool call fragment.
		nextIndex := 0

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				deltaCh <- llm.StreamDelta{Err: err}
				return
			}

			if c.debugEnabled {
				if raw, merr := json.Marshal(resp); merr == nil {
					debugger.Write(raw)
				}
			}

			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]

			delta := llm.StreamDelta{Content: choice.Delta.Content}

			for _, tc := range choice.Delta.ToolCalls {
				idx := nextIndex
				if tc.Index != nil {
					idx = *tc.Index
				}
				if idx >= nextIndex {
					nextIndex = idx + 1
				}
				delta.ToolCalls = append(delta.ToolCalls, llm.ToolCallDelta{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}

			if choice.FinishReason != "" {
				delta.FinishReason = normalizeFinishReason(string(choice.FinishReason))
			}

			if delta.Content != "" || len(delta.ToolCalls) > 0 || delta.FinishReason != "" {
				deltaCh <- delta
			}

			if delta.FinishReason != "" {
				return
			}
		}
	}()

	return deltaCh, nil
}

func convertMessages(messages []llm.WireMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}

		blocks := llm.BlocksOfContent(m.Content)
		hasImage := false
		for _, b := range blocks {
			if b.Type == llm.BlockTypeImageURL {
				hasImage = true
				break
			}
		}

		switch {
		case hasImage:
			msg.MultiContent = convertBlocks(blocks)
		default:
			msg.Content = llm.TextOfContent(m.Content)
		}

		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		msg.ToolCallID = m.ToolCallID
		out = append(out, msg)
	}

	return out
}

func convertBlocks(blocks []llm.ContentBlock) []openai.ChatMessagePart {
	parts := make([]openai.ChatMessagePart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case llm.BlockTypeText:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: b.Text,
			})
		case llm.BlockTypeImageURL:
			if b.ImageURL == nil {
				continue
			}
			detail := openai.ImageURLDetail(b.ImageURL.Detail)
			if detail == "" {
				detail = openai.ImageURLDetailAuto
			}
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    b.ImageURL.URL,
					Detail: detail,
				},
			})
		}
	}
	return parts
}

func convertTools(tools []llm.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

// normalizeFinishReason maps wire finish reasons onto the shared constants.
func normalizeFinishReason(reason string) string {
	switch strings.ToLower(reason) {
	case "stop":
		return llm.FinishReasonStop
	case "tool_calls", "function_call":
		return llm.FinishReasonToolCalls
	case "length":
		return llm.FinishReasonLength
	default:
		return reason
	}
}
