package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON recovers a JSON object from model output that may wrap it in
// prose or markdown. Three passes, cheapest first:
//
//  1. the content is itself valid JSON
//  2. the content holds a fenced ```json code block
//  3. slice from the first '{' to the last '}'
//
// Returns false when no pass yields a JSON object.
func ExtractJSON(content string) ([]byte, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	if body, ok := tryObject(content); ok {
		return body, true
	}

	if inner, ok := fencedBlock(content); ok {
		if body, ok := tryObject(inner); ok {
			return body, true
		}
	}

	first := strings.Index(content, "{")
	last := strings.LastIndex(content, "}")
	if first >= 0 && last > first {
		if body, ok := tryObject(content[first : last+1]); ok {
			return body, true
		}
	}

	return nil, false
}

func tryObject(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil, false
	}
	return []byte(s), true
}

// fencedBlock extracts the body of the first markdown code fence, tolerating
// an optional language tag after the opening backticks.
func fencedBlock(content string) (string, bool) {
	start := strings.Index(content, "```")
	if start < 0 {
		return "", false
	}
	rest := content[start+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:nl])
		if len(tag) <= 8 {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
