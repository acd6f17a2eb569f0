package ollamalm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"aegis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client serves one model over the Ollama API.
type Client struct {
	client       *api.Client
	model        string
	options      map[string]any
	debugEnabled bool
	chanBuffer   int
}

// NewClient creates an Ollama client for one model.
func NewClient(model string, baseURL string, options map[string]any) (*Client, error) {
	// Custom transport to ensure no timeouts are imposed by the client;
	// model loading can take minutes.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0,
	}

	customClient := &http.Client{
		Transport: &JSONFixingRoundTripper{Proxied: transport},
		Timeout:   0,
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &Client{
		client:     api.NewClient(u, customClient),
		model:      model,
		options:    options,
		chanBuffer: 100,
	}, nil
}

func (o *Client) Model() string {
	return o.model
}

func (o *Client) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

func (o *Client) SetChannelBuffer(n int) {
	if n > 0 {
		o.chanBuffer = n
	}
}

func (o *Client) StreamChat(ctx context.Context, messages []llm.WireMessage, tools []llm.ToolSchema, opts llm.StreamOptions) (<-chan llm.StreamDelta, error) {
	apiMessages := o.convertMessages(messages)

	// Ollama has no tool_choice. Forcing a tool is emulated with an
	// explicit instruction appended to the conversation.
	if opts.ForceTool != "" {
		apiMessages = append(apiMessages, api.Message{
			Role:    "system",
			Content: fmt.Sprintf("You must now call the %q tool. Do not produce a text reply.", opts.ForceTool),
		})
	}

	deltaCh := make(chan llm.StreamDelta, o.chanBuffer)
	startResultCh := make(chan error) // Unbuffered to detect if reader is present

	go func() {
		defer close(deltaCh)

		// Convert tools via JSON round-trip to work around SDK type
		// mismatch issues.
		var ollamaTools []api.Tool
		if len(tools) > 0 {
			rawB, err := json.Marshal(tools)
			if err != nil {
				slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
			} else if err := json.Unmarshal(rawB, &ollamaTools); err != nil {
				slog.Error("Failed to unmarshal to api.Tool", "provider", "ollama", "error", err)
			}
		}

		streamVal := true
		req := &api.ChatRequest{
			Model:    o.model,
			Messages: apiMessages,
			Options:  o.options,
			Tools:    ollamaTools,
			Stream:   &streamVal,
		}

		started := false
		sawToolCalls := false
		toolCallIndex := 0

		debugger := llm.NewStreamDebugger(ctx, "ollama", o.debugEnabled)
		defer debugger.Close()

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if o.debugEnabled {
				if raw, merr := json.Marshal(resp); merr == nil {
					debugger.Write(raw)
				}
			}

			// First callback indicates success
			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Content != "" {
				deltaCh <- llm.StreamDelta{Content: resp.Message.Content}
			}

			// Ollama delivers tool calls whole; re-emit each as a
			// single complete fragment.
			if len(resp.Message.ToolCalls) > 0 {
				sawToolCalls = true
				var fragments []llm.ToolCallDelta
				for _, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						slog.Warn("Failed to marshal tool call arguments", "provider", "ollama", "error", err)
						argsB = []byte("{}")
					}
					fragments = append(fragments, llm.ToolCallDelta{
						Index:     toolCallIndex,
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: string(argsB),
					})
					toolCallIndex++
				}
				deltaCh <- llm.StreamDelta{ToolCalls: fragments}
			}

			if resp.Done {
				reason := llm.FinishReasonStop
				if sawToolCalls {
					reason = llm.FinishReasonToolCalls
				} else if resp.DoneReason == "length" {
					slog.Warn("Response truncated due to length", "provider", "ollama")
					reason = llm.FinishReasonLength
				}
				deltaCh <- llm.StreamDelta{FinishReason: reason}
			}

			return nil
		})

		if err != nil {
			slog.Error("Stream error", "provider", "ollama", "model", o.model, "error", err)
			if !started {
				// Notify initialization waiter
				select {
				case startResultCh <- err:
				default:
					// Waiter timed out, surface the error on the stream
					deltaCh <- llm.StreamDelta{Err: fmt.Errorf("error loading model %s: %w", o.model, err)}
				}
			} else {
				deltaCh <- llm.StreamDelta{Err: fmt.Errorf("stream interrupted: %w", err)}
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	// Wait for initialization result
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return deltaCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages flattens wire messages to the Ollama API shape. Image
// blocks carrying data URIs are decoded into raw image bytes; remote
// image URLs are skipped since the API only accepts inline data.
func (o *Client) convertMessages(messages []llm.WireMessage) []api.Message {
	var ollamaMsgs []api.Message

	for _, m := range messages {
		var textContent strings.Builder
		var images []api.ImageData

		for _, block := range llm.BlocksOfContent(m.Content) {
			switch block.Type {
			case llm.BlockTypeText:
				textContent.WriteString(block.Text)
			case llm.BlockTypeImageURL:
				if block.ImageURL == nil {
					continue
				}
				if data, ok := decodeDataURI(block.ImageURL.URL); ok {
					images = append(images, data)
				}
			}
		}

		msg := api.Message{
			Role:    m.Role,
			Content: textContent.String(),
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var ollamaToolCalls []api.ToolCall
			for _, tc := range m.ToolCalls {
				// api.ToolCallFunctionArguments unmarshals from a JSON object
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &apiArgs); err != nil {
					slog.Warn("Failed to unmarshal tool arguments for history", "provider", "ollama", "error", err)
				}

				ollamaToolCalls = append(ollamaToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: apiArgs,
					},
				})
			}
			msg.ToolCalls = ollamaToolCalls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}

		if len(images) > 0 {
			msg.Images = images
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// decodeDataURI extracts the raw bytes from a base64 data URI.
func decodeDataURI(uri string) ([]byte, bool) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, false
	}
	idx := strings.Index(uri, ";base64,")
	if idx < 0 {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(uri[idx+len(";base64,"):])
	if err != nil {
		return nil, false
	}
	return data, true
}

// IsTransientError implements the llm.Client interface
func (o *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()

	// 1. Connection related errors (Connection refused, reset)
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	// 2. High load
	if strings.Contains(strings.ToLower(errMsg), "overloaded") {
		return true
	}

	return false
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts responses and fixes illegal escapes
// (e.g., \$) that some models emit inside streamed JSON.
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Only filter text-type responses (mainly stream JSON)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

type jsonFixingReadCloser struct {
	body io.ReadCloser
}

var illegalEscapeRegex = regexp.MustCompile(`\\([^\/\\bfnrtu"])`)

func (j *jsonFixingReadCloser) Read(p []byte) (n int, err error) {
	n, err = j.body.Read(p)
	if n > 0 {
		// Drop the backslash of illegal escapes, e.g. \$ becomes $.
		// Only single characters are removed, so rewriting in place
		// at the byte level is safe.
		content := string(p[:n])
		fixed := illegalEscapeRegex.ReplaceAllString(content, "$1")
		if len(fixed) < len(content) {
			copy(p, []byte(fixed))
			n = len(fixed)
		}
	}
	return n, err
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
