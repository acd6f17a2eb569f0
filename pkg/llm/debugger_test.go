package llm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamDebuggerWritesOneLinePerChunk(t *testing.T) {
	t.Chdir(t.TempDir())

	d := NewStreamDebugger(context.Background(), "openai", true)
	d.Write([]byte(`{"chunk":1}`))
	d.Write([]byte(`{"chunk":2}`))
	d.Close()

	logs, err := filepath.Glob(filepath.Join("debug", "chunks", "openai", "*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)

	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Equal(t, "{\"chunk\":1}\n{\"chunk\":2}\n", string(data))
}

func TestStreamDebuggerDisabledWritesNothing(t *testing.T) {
	t.Chdir(t.TempDir())

	d := NewStreamDebugger(context.Background(), "ollama", false)
	d.Write([]byte("ignored"))
	d.Close()

	_, err := os.Stat("debug")
	assert.True(t, os.IsNotExist(err))
}

func TestStreamDebuggerNestsUnderContextDir(t *testing.T) {
	t.Chdir(t.TempDir())

	ctx := context.WithValue(context.Background(), DebugDirContextKey, "session_7")
	d := NewStreamDebugger(ctx, "ollama", true)
	d.Write([]byte("x"))
	d.Close()

	logs, err := filepath.Glob(filepath.Join("debug", "chunks", "session_7", "ollama", "*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
