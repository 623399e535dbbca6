package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parsing is isolated here so every collaborator reports malformed model
// output the same way: an explicit error, never a silently zeroed struct.

// extractJSON strips markdown code fences and surrounding prose, returning
// the first JSON object or array in the text.
func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	objStart := strings.IndexByte(s, '{')
	arrStart := strings.IndexByte(s, '[')
	start := objStart
	end := strings.LastIndexByte(s, '}')
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		start = arrStart
		end = strings.LastIndexByte(s, ']')
	}
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON payload in model output")
	}
	return s[start : end+1], nil
}

// parseInto extracts and decodes the JSON payload of a model reply into out.
func parseInto(raw string, out any) error {
	payload, err := extractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
