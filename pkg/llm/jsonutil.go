package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoResult means no parseable JSON object could be found in the model
// output. The caller treats it as a permanent failure of that single call.
var ErrNoResult = errors.New("no JSON object found in model output")

// fencedBlockPattern matches content inside markdown code fences, with or
// without a json language tag.
var fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ParseObject extracts a JSON object from raw model output. Models wrap
// payloads inconsistently, so extraction is staged, stopping at the first
// stage that yields a parseable object:
//
//  1. the content of a fenced ``` block
//  2. the first balanced {...} or [...] slice in the text
//  3. the trimmed text as a whole
func ParseObject(output string) (map[string]json.RawMessage, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil, ErrNoResult
	}

	if m := fencedBlockPattern.FindStringSubmatch(output); len(m) > 1 {
		if obj, err := parseInto(m[1]); err == nil {
			return obj, nil
		}
	}

	if slice := balancedSlice(output); slice != "" {
		if obj, err := parseInto(slice); err == nil {
			return obj, nil
		}
	}

	if obj, err := parseInto(trimmed); err == nil {
		return obj, nil
	}

	return nil, ErrNoResult
}

func parseInto(s string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// balancedSlice returns the first balanced {...} or [...] region of s,
// tracking string literals and escapes so braces inside values don't
// terminate the scan early. Returns "" when no balanced region exists.
func balancedSlice(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	open := s[start]
	var closing byte = '}'
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal, brackets don't count
		case ch == open:
			depth++
		case ch == closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
