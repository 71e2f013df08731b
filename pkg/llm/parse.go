package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON unmarshals the first JSON object or array embedded in an LLM
// reply into v. Models wrap JSON in prose and code fences; this strips both.
func ExtractJSON(content string, v any) error {
	raw := strings.TrimSpace(content)

	if idx := strings.Index(raw, "```"); idx >= 0 {
		raw = raw[idx+3:]
		raw = strings.TrimPrefix(raw, "json")
		if end := strings.Index(raw, "```"); end >= 0 {
			raw = raw[:end]
		}
		raw = strings.TrimSpace(raw)
	}

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON found in LLM response")
	}
	end := lastBalanced(raw, start)
	if end < 0 {
		return fmt.Errorf("unbalanced JSON in LLM response")
	}

	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse LLM JSON: %w", err)
	}
	return nil
}

// lastBalanced returns the index of the bracket closing the one at start,
// honoring strings and escapes. Returns -1 when unbalanced.
func lastBalanced(s string, start int) int {
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
