package generate

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/eworthing/uniqgen/internal/llm"
)

// wrappedKeys are the alternate key names the service uses when it wraps
// the array in an object instead of returning it bare. Tried in order.
var wrappedKeys = []string{"items", "list", "values", "names", "entries"}

var quotedString = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// ParseItems parses a free-text response into a string array. Decode
// steps are tried in fixed priority order: strict JSON array (after
// stripping markdown code fences), a wrapped object under a known key,
// the first balanced JSON array embedded in surrounding prose, and
// finally regex salvage of quoted substrings from a possibly truncated
// array. Salvage tolerates responses cut off mid-generation.
func ParseItems(text string) ([]string, error) {
	cleaned := stripCodeFences(text)

	if items, ok := parseStringArray(cleaned); ok {
		return items, nil
	}
	if items, ok := parseWrappedObject(cleaned); ok {
		return items, nil
	}
	if arr := extractJSONArray(cleaned); arr != "" {
		if items, ok := parseStringArray(arr); ok {
			return items, nil
		}
	}
	if items := salvageQuoted(cleaned); len(items) > 0 {
		return items, nil
	}
	return nil, llm.ParseFailuref("no string array found in %d-byte response", len(text))
}

// stripCodeFences removes markdown code fences from a response.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseStringArray(s string) ([]string, bool) {
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, false
	}
	return items, true
}

func parseWrappedObject(s string) ([]string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	for _, key := range wrappedKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if items, ok := parseStringArray(string(raw)); ok {
			return items, true
		}
	}
	return nil, false
}

// extractJSONArray returns the first balanced JSON array embedded in s,
// or "" when none closes before the text ends.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	if start == -1 {
		return ""
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
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '[':
			depth++
		case ch == ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// salvageQuoted extracts quoted substrings following the first opening
// bracket. This is the last-resort decoder for arrays truncated
// mid-generation, where no balanced parse is possible.
func salvageQuoted(s string) []string {
	start := strings.Index(s, "[")
	if start == -1 {
		return nil
	}
	matches := quotedString.FindAllString(s[start:], -1)
	items := make([]string, 0, len(matches))
	for _, m := range matches {
		unquoted, err := strconv.Unquote(m)
		if err != nil || strings.TrimSpace(unquoted) == "" {
			continue
		}
		items = append(items, unquoted)
	}
	return items
}
