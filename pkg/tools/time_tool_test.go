package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeToolReportsRequestedTimezone(t *testing.T) {
	tool := NewTimeTool("UTC")
	tool.Now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 30, 45, 0, time.UTC)
	}

	out, err := tool.Execute(context.Background(), map[string]any{"timezone": "UTC"}, Context{})
	require.NoError(t, err)

	assert.Equal(t, true, out["success"])
	assert.Equal(t, "UTC", out["timezone"])
	assert.Equal(t, 2026, out["year"])
	assert.Equal(t, 8, out["month"])
	assert.Equal(t, 24, out["day"])
	assert.Equal(t, "Monday", out["weekday"])
	assert.Equal(t, "2026-08-24 12:30:45 UTC", out["formatted"])
}

func TestTimeToolFallsBackToDefaultTimezone(t *testing.T) {
	tool := NewTimeTool("UTC")
	out, err := tool.Execute(context.Background(), map[string]any{}, Context{})
	require.NoError(t, err)

	assert.Equal(t, true, out["success"])
	assert.Equal(t, "UTC", out["timezone"])
}

func TestTimeToolRejectsUnknownTimezone(t *testing.T) {
	tool := NewTimeTool("UTC")
	out, err := tool.Execute(context.Background(), map[string]any{"timezone": "Mars/Olympus"}, Context{})
	require.NoError(t, err)

	assert.Equal(t, false, out["success"])
	assert.Contains(t, out["error"], "Mars/Olympus")
	assert.NotEmpty(t, out["message"])
}
