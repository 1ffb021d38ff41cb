package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// STRICT-JSON EXTRACTION UTILITIES
// =============================================================================
//
// Model responses that should be pure JSON frequently arrive wrapped in
// markdown fences or prose. Every classifier in the pipeline parses through
// these helpers: find the first balanced {...} block, strip fences, then
// unmarshal into the caller's schema.

// ExtractJSONObject returns the first balanced JSON object in the response,
// or "" when none is present. Braces inside string literals are ignored.
func ExtractJSONObject(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}

// StripFences removes a leading/trailing markdown code fence if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// UnmarshalStrict extracts the first JSON object from a model response and
// unmarshals it into v. This is the single parse path for all strict-JSON
// model calls.
func UnmarshalStrict(response string, v interface{}) error {
	jsonStr := ExtractJSONObject(StripFences(response))
	if jsonStr == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("JSON parse failed: %w", err)
	}
	return nil
}
