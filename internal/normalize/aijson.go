package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
)

const snippetRunes = 120

// ParseError is returned when no JSON object can be recovered from AI output.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	snippet := e.Input
	if r := []rune(snippet); len(r) > snippetRunes {
		snippet = string(r[:snippetRunes]) + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("normalize: parse AI JSON: %v (input %q)", e.Err, snippet)
	}
	return fmt.Sprintf("normalize: parse AI JSON: no object found (input %q)", snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseAIJSON extracts a JSON object from free-form model output. It strips
// markdown code fences, attempts a direct parse, then scans for the first
// balanced {...} span that parses.
func ParseAIJSON(text string) (map[string]any, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, &ParseError{Input: text}
	}

	var out map[string]any
	err := json.Unmarshal([]byte(cleaned), &out)
	if err == nil && out != nil {
		return out, nil
	}

	if obj, ok := scanObject(cleaned); ok {
		return obj, nil
	}

	return nil, &ParseError{Input: text, Err: err}
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)

	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// scanObject tries each '{' in turn and returns the first balanced span that
// decodes as an object. Falls back to the first '{' through the last '}'.
func scanObject(text string) (map[string]any, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end := matchBrace(text, i)
		if end < 0 {
			continue
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(text[i:end+1]), &out); err == nil && out != nil {
			return out, true
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var out map[string]any
		if err := json.Unmarshal([]byte(text[start:end+1]), &out); err == nil && out != nil {
			return out, true
		}
	}
	return nil, false
}

// matchBrace returns the index of the '}' closing the '{' at start, honoring
// string literals and escapes, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
