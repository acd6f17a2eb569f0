package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StreamDebugger captures the raw chunks of a single model stream into a
// log file, one chunk per line. It is what the debug_chunks setting turns
// on: both providers ("openai", "ollama") pass each raw chunk through it
// before decoding, so a misbehaving stream can be replayed offline. When
// disabled every method is a no-op.
type StreamDebugger struct {
	file    *os.File
	enabled bool
}

// NewStreamDebugger opens a timestamped chunk log under
// debug/chunks/<provider>/. When ctx carries DebugDirContextKey the log
// nests under that directory instead, keeping concurrent sessions apart.
// Setup failures disable the debugger rather than aborting the stream.
func NewStreamDebugger(ctx context.Context, provider string, enabled bool) *StreamDebugger {
	if !enabled {
		return &StreamDebugger{}
	}

	dir := filepath.Join("debug", "chunks", provider)
	if val, ok := ctx.Value(DebugDirContextKey).(string); ok && val != "" {
		dir = filepath.Join("debug", "chunks", val, provider)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("Failed to create chunk log directory", "dir", dir, "error", err)
		return &StreamDebugger{}
	}

	name := filepath.Join(dir, fmt.Sprintf("%s.log", time.Now().Format("20060102_150405")))
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open chunk log", "file", name, "error", err)
		return &StreamDebugger{}
	}

	slog.Debug("Chunk logging on", "provider", provider, "file", name)
	return &StreamDebugger{file: f, enabled: true}
}

// Write appends one raw chunk followed by a newline.
func (d *StreamDebugger) Write(data []byte) {
	if !d.enabled || d.file == nil {
		return
	}
	if _, err := d.file.Write(data); err != nil {
		slog.Warn("Failed to write chunk log", "error", err)
		return
	}
	d.file.WriteString("\n")
}

// Close releases the log file. Safe on a disabled debugger.
func (d *StreamDebugger) Close() {
	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
}
