package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"aegis/pkg/llm"
)

// FileSink stores fetched payloads and reports the stored file id plus
// how many renderable pages it produced.
type FileSink interface {
	SaveDownload(ctx context.Context, name string, data []byte) (fileID int64, pageCount int, err error)
}

// FetchTool downloads a URL and stores the payload as a file. Image
// payloads become renderable pages the loop hoists into the
// conversation.
type FetchTool struct {
	files      FileSink
	httpClient *http.Client
	maxSize    int64
}

func NewFetchTool(files FileSink, timeout time.Duration, maxSize int64) *FetchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50 * 1024 * 1024
	}
	return &FetchTool{
		files:      files,
		httpClient: &http.Client{Timeout: timeout},
		maxSize:    maxSize,
	}
}

func (f *FetchTool) Name() string  { return "fetch_url" }
func (f *FetchTool) IOHeavy() bool { return true }

func (f *FetchTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionSpec{
			Name:        f.Name(),
			Description: "Download a file or image from a URL and attach it to the conversation. Image contents become visible to you after the download.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url": map[string]any{
						"type":        "string",
						"description": "The http(s) URL to download.",
					},
				},
				"required": []string{"url"},
			},
		},
	}
}

func (f *FetchTool) Execute(ctx context.Context, input map[string]any, tc Context) (map[string]any, error) {
	rawURL, _ := input["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return map[string]any{
			"success": false,
			"error":   "missing url",
			"message": "Provide an http(s) URL to download.",
		}, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("invalid url: %s", rawURL),
			"message": "Only http and https URLs are supported.",
		}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   err.Error(),
		}, nil
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("download failed: %v", err),
			"message": "The URL could not be fetched. Check that it is reachable.",
		}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("unexpected status %d", resp.StatusCode),
			"message": "The server did not return the file.",
		}, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("read failed: %v", err),
		}, nil
	}
	if int64(len(data)) > f.maxSize {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("file exceeds the %d byte limit", f.maxSize),
		}, nil
	}

	name := path.Base(parsed.Path)
	if name == "/" || name == "." || name == "" {
		name = "download"
	}

	fileID, pageCount, err := f.files.SaveDownload(ctx, name, data)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("failed to store file: %v", err),
		}, nil
	}

	return map[string]any{
		"success":    true,
		"file_id":    fileID,
		"page_count": pageCount,
		"note":       fmt.Sprintf("Downloaded %s (%d bytes)", name, len(data)),
	}, nil
}
