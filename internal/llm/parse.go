package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripFence removes a surrounding ```json ... ``` or ``` ... ``` fence, if
// present, and trims whitespace. Models routinely wrap structured output in
// a fence even when explicitly asked not to.
func stripFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fencedBlockPattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// ParseJSONArrayLenient decodes raw into a slice of T, tolerating a fenced
// code block around the JSON and degrading to an empty slice (not an error)
// when the model's output isn't a JSON array at all — the categorization
// and extraction paths must never fail a write solely because the model
// returned prose instead of JSON.
func ParseJSONArrayLenient[T any](raw string) []T {
	cleaned := stripFence(raw)
	var out []T
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil
	}
	return out
}

// ParseJSONObjectLenient decodes raw into T, tolerating a fenced code block.
// It returns false (not an error) when raw isn't a JSON object, so callers
// can fall back to a bounded default rather than failing the operation.
func ParseJSONObjectLenient[T any](raw string) (T, bool) {
	var out T
	cleaned := stripFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}
