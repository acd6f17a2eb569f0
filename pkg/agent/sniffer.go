package agent

import (
	"strings"
)

// textualCall is a tool invocation the model emitted as raw JSON in the
// content stream instead of the structured tool-call channel.
type textualCall struct {
	ID        string
	Name      string
	Arguments string
}

// sniffer buffers streamed content and separates emittable text from
// textual tool-call candidates. One sniffer serves one LLM call.
type sniffer struct {
	pending string
	calls   []textualCall
}

func newSniffer() *sniffer {
	return &sniffer{}
}

// Push appends streamed text and returns the segments that may be
// emitted to the client now. Complete lines are always candidates; an
// incomplete tail is held back only while it looks like an in-progress
// JSON value.
func (s *sniffer) Push(text string) []string {
	s.pending += text
	return s.drain(false)
}

// Flush examines the whole remainder after the stream closes.
func (s *sniffer) Flush() []string {
	return s.drain(true)
}

// Calls returns the textual tool calls detected so far.
func (s *sniffer) Calls() []textualCall {
	return s.calls
}

func (s *sniffer) drain(final bool) []string {
	var segments []string
	for s.pending != "" {
		var segment string

		if idx := strings.IndexByte(s.pending, '\n'); idx != -1 {
			segment = s.pending[:idx+1]
			s.pending = s.pending[idx+1:]
		} else if final || !looksLikeJSONStart(s.pending) {
			segment = s.pending
			s.pending = ""
		} else {
			break
		}

		if segment == "" {
			continue
		}

		if parsed := parseTextualToolCalls(segment); len(parsed) > 0 {
			s.calls = append(s.calls, parsed...)
			continue
		}
		segments = append(segments, segment)
	}
	return segments
}

func looksLikeJSONStart(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// argumentHints infers a tool name from the argument keys of an unnamed
// candidate.
var argumentHints = []struct {
	tool string
	keys []string
}{
	{"reasoning", []string{"thinking_focus", "specific_question"}},
	{"ddgs_search", []string{"query"}},
	{"get_current_time", []string{"timezone"}},
	{"fetch_url", []string{"url"}},
}

func inferToolName(payload map[string]any) string {
	for _, hint := range argumentHints {
		if hint.tool == "ddgs_search" {
			if _, ok := payload["query"]; ok {
				return hint.tool
			}
			if _, ok := payload["queries"]; ok {
				return hint.tool
			}
			continue
		}
		matched := true
		for _, k := range hint.keys {
			if _, ok := payload[k]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return hint.tool
		}
	}
	return ""
}

// parseTextualToolCalls extracts normalized tool calls from a content
// segment. A nil result means the segment is ordinary text.
func parseTextualToolCalls(text string) []textualCall {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return nil
	}

	var parsedObjects []any
	if direct := tryParseCandidate(stripped); direct != nil {
		if list, ok := direct.([]any); ok {
			parsedObjects = append(parsedObjects, list...)
		} else {
			parsedObjects = append(parsedObjects, direct)
		}
	} else {
		for _, line := range strings.Split(stripped, "\n") {
			line = strings.TrimSuffix(strings.TrimSpace(line), ",")
			if line == "" {
				continue
			}
			if parsed := tryParseCandidate(line); parsed != nil {
				parsedObjects = append(parsedObjects, parsed)
			}
		}
	}

	var calls []textualCall
	for _, obj := range parsedObjects {
		m, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		if call, ok := normalizeCall(m); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// tryParseCandidate attempts increasingly forgiving JSON decodes:
// direct, then unwrapping quotes or parentheses, then dropping one
// stray leading or trailing character.
func tryParseCandidate(segment string) any {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return nil
	}

	if v := loadJSON(segment); v != nil {
		return v
	}

	wrappers := [][2]string{{`"`, `"`}, {`'`, `'`}, {"(", ")"}}
	for _, w := range wrappers {
		if len(segment) >= 2 && strings.HasPrefix(segment, w[0]) && strings.HasSuffix(segment, w[1]) {
			inner := segment[len(w[0]) : len(segment)-len(w[1])]
			if v := loadJSON(inner); v != nil {
				return v
			}
			segment = strings.TrimSpace(inner)
		}
	}

	if segment != "" && segment[0] != '{' && segment[0] != '[' {
		if v := loadJSON(segment[1:]); v != nil {
			return v
		}
	}
	if segment != "" {
		last := segment[len(segment)-1]
		if last != '}' && last != ']' {
			if v := loadJSON(segment[:len(segment)-1]); v != nil {
				return v
			}
		}
	}
	return nil
}

func loadJSON(candidate string) any {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil
	}
	// Bare scalars are not tool-call material.
	switch v.(type) {
	case map[string]any, []any:
		return v
	default:
		return nil
	}
}

// normalizeCall resolves name and arguments out of a permissive JSON
// object.
func normalizeCall(obj map[string]any) (textualCall, bool) {
	var name string
	if n, ok := obj["name"].(string); ok {
		name = n
	} else if n, ok := obj["tool_name"].(string); ok {
		name = n
	} else if fn, ok := obj["function"].(string); ok {
		name = fn
	} else if fn, ok := obj["function"].(map[string]any); ok {
		name, _ = fn["name"].(string)
		if args, ok := fn["arguments"]; ok {
			obj = map[string]any{"name": name, "arguments": args}
		}
	}

	var rawArguments any
	for _, key := range []string{"arguments", "args", "input", "parameters", "payload"} {
		if v, ok := obj[key]; ok {
			rawArguments = v
			break
		}
	}

	if rawArguments == nil {
		candidates := make(map[string]any)
		for k, v := range obj {
			switch k {
			case "id", "type", "name", "tool_name", "function":
			default:
				candidates[k] = v
			}
		}
		if len(candidates) > 0 {
			rawArguments = candidates
		} else {
			rawArguments = obj
		}
	}

	if name == "" {
		if payload, ok := rawArguments.(map[string]any); ok {
			name = inferToolName(payload)
		}
	}
	if name == "" {
		return textualCall{}, false
	}

	var argsStr string
	if s, ok := rawArguments.(string); ok {
		argsStr = s
	} else {
		raw, err := json.Marshal(rawArguments)
		if err != nil {
			return textualCall{}, false
		}
		argsStr = string(raw)
	}

	id, _ := obj["id"].(string)
	return textualCall{ID: id, Name: name, Arguments: argsStr}, true
}
