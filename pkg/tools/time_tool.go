package tools

import (
	"context"
	"fmt"
	"time"

	"aegis/pkg/llm"
)

// TimeTool reports the current time in a requested timezone.
type TimeTool struct {
	DefaultTimezone string
	// Now is swappable for tests. Defaults to time.Now.
	Now func() time.Time
}

func NewTimeTool(defaultTZ string) *TimeTool {
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	return &TimeTool{DefaultTimezone: defaultTZ, Now: time.Now}
}

func (t *TimeTool) Name() string  { return "get_current_time" }
func (t *TimeTool) IOHeavy() bool { return false }

func (t *TimeTool) Schema() llm.ToolSchema {
	return llm.ToolSchema{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionSpec{
			Name:        t.Name(),
			Description: "Get the current date and time in a given IANA timezone. Use this whenever the answer depends on the present moment.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name, e.g. 'Asia/Taipei' or 'America/New_York'. Defaults to the server timezone.",
					},
				},
			},
		},
	}
}

func (t *TimeTool) Execute(ctx context.Context, input map[string]any, tc Context) (map[string]any, error) {
	tz, _ := input["timezone"].(string)
	if tz == "" {
		tz = t.DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return map[string]any{
			"success": false,
			"error":   fmt.Sprintf("unknown timezone: %s", tz),
			"message": "Provide a valid IANA timezone name, e.g. 'UTC' or 'Asia/Taipei'.",
		}, nil
	}

	now := t.Now().In(loc)
	return map[string]any{
		"success":   true,
		"timezone":  tz,
		"datetime":  now.Format(time.RFC3339),
		"year":      now.Year(),
		"month":     int(now.Month()),
		"day":       now.Day(),
		"hour":      now.Hour(),
		"minute":    now.Minute(),
		"second":    now.Second(),
		"weekday":   now.Weekday().String(),
		"formatted": now.Format("2006-01-02 15:04:05 MST"),
	}, nil
}
