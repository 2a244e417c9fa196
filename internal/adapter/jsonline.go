package adapter

import (
	"encoding/json"
	"strings"
)

// lastJSONObjectWithStatus resolves the kernel's JSON-last-line contract:
// scan stdout's lines in reverse, returning the last line that parses as a
// JSON object carrying a "status" key; failing that, the last line that
// parses as any JSON object; failing that, nil.
func lastJSONObjectWithStatus(stdout string) map[string]any {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")

	var firstObject map[string]any
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if firstObject == nil {
			firstObject = obj
		}
		if _, ok := obj["status"]; ok {
			return obj
		}
	}
	return firstObject
}
