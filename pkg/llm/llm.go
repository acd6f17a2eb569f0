package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json handles JSON inside package llm, uniformly via json-iterator.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the common streaming LLM client interface.
type Client interface {
	// StreamChat starts a streaming chat completion and returns a delta
	// channel. The channel is closed after the terminating delta (one
	// carrying FinishReason or Err).
	StreamChat(ctx context.Context, messages []WireMessage, tools []ToolSchema, opts StreamOptions) (<-chan StreamDelta, error)

	// Model returns the model id this client serves.
	Model() string

	// IsTransientError reports whether err is recoverable (503, rate
	// limit, timeout) and worth retrying.
	IsTransientError(err error) bool
}

// FallbackClient tries multiple clients for the same model in order,
// with transient-error retries per client.
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Model() string {
	if len(f.Clients) == 0 {
		return ""
	}
	return f.Clients[0].Model()
}

func (f *FallbackClient) StreamChat(ctx context.Context, messages []WireMessage, tools []ToolSchema, opts StreamOptions) (<-chan StreamDelta, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.WarnContext(ctx, "Previous provider failed, trying fallback provider", "index", i+1)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				slog.InfoContext(ctx, "Retrying provider", "index", i+1, "attempt", retry, "max", maxRetries)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.StreamChat(ctx, messages, tools, opts)
			if err == nil {
				return ch, nil
			}

			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.WarnContext(ctx, "Provider failed with transient error, retrying", "index", i+1, "error", err)
				continue
			}

			slog.ErrorContext(ctx, "Provider failed", "index", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed. Last error: %v", lastErr)
}

// IsTransientError implements Client. A FallbackClient error means every
// child already failed, so it is treated as final.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}

// Router dispatches requests to per-model clients.
type Router struct {
	clients map[string]Client
	order   []string
}

// NewRouter builds a router over the given clients. Multiple clients
// serving the same model id are wrapped in a FallbackClient in the
// order they appear.
func NewRouter(clients []Client, maxRetries int, retryDelay time.Duration) (*Router, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM clients provided")
	}

	byModel := make(map[string][]Client)
	var order []string
	for _, c := range clients {
		id := c.Model()
		if _, seen := byModel[id]; !seen {
			order = append(order, id)
		}
		byModel[id] = append(byModel[id], c)
	}

	r := &Router{clients: make(map[string]Client, len(byModel)), order: order}
	for id, group := range byModel {
		if len(group) == 1 {
			r.clients[id] = group[0]
			continue
		}
		r.clients[id] = &FallbackClient{
			Clients:    group,
			MaxRetries: maxRetries,
			RetryDelay: retryDelay,
		}
	}
	return r, nil
}

// Get returns the client serving the given model id.
func (r *Router) Get(modelID string) (Client, bool) {
	c, ok := r.clients[modelID]
	return c, ok
}

// Default returns the first configured client.
func (r *Router) Default() Client {
	return r.clients[r.order[0]]
}

// ForModels returns the clients for the given model ids, preserving
// order and skipping unknown ids.
func (r *Router) ForModels(ids []string) []Client {
	var out []Client
	for _, id := range ids {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Models lists all configured model ids, sorted.
func (r *Router) Models() []string {
	out := make([]string, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
