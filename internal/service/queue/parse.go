package queue

import (
	"encoding/json"
	"regexp"
	"strings"
)

// ParsedOutput is the persisted shape of a model response. When the response
// carries usable JSON, Data holds it; otherwise Text carries the raw output
// so no step result is ever lost to a parse failure.
type ParsedOutput struct {
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseModelOutput extracts structured JSON from a model response. It tries
// the cheapest interpretation first and degrades to the raw-text fallback;
// it never fails.
func ParseModelOutput(output string) ParsedOutput {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return ParsedOutput{}
	}

	candidates := []string{trimmed}
	if fenced := extractJSONFromMarkdown(trimmed); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if scanned := extractJSON(trimmed); scanned != "" {
		candidates = append(candidates, scanned)
	}

	for _, candidate := range candidates {
		if data := validJSON(candidate); data != nil {
			return ParsedOutput{Data: data}
		}
		if repaired := removeTrailingCommas(candidate); repaired != candidate {
			if data := validJSON(repaired); data != nil {
				return ParsedOutput{Data: data}
			}
		}
	}

	return ParsedOutput{Text: trimmed}
}

// validJSON returns the candidate as raw JSON when it is a JSON object or
// array. Bare scalars stay in the text fallback.
func validJSON(candidate string) json.RawMessage {
	if len(candidate) == 0 || (candidate[0] != '{' && candidate[0] != '[') {
		return nil
	}
	if !json.Valid([]byte(candidate)) {
		return nil
	}
	return json.RawMessage(candidate)
}

// extractJSON finds the first balanced JSON object or array in mixed text.
// Brackets inside string literals do not count toward the balance.
func extractJSON(text string) string {
	start := -1
	var opener, closer byte
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			start = i
			opener = text[i]
			if opener == '{' {
				closer = '}'
			} else {
				closer = ']'
			}
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

var markdownFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// extractJSONFromMarkdown pulls the body of the first fenced code block.
func extractJSONFromMarkdown(text string) string {
	matches := markdownFenceRe.FindStringSubmatch(text)
	if len(matches) >= 2 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

var trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

// removeTrailingCommas strips commas dangling before a closing bracket, a
// common model output defect.
func removeTrailingCommas(text string) string {
	return trailingCommaRe.ReplaceAllString(text, "$1")
}
