package gateway

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ExtractJSON pulls a JSON object or array out of a model reply.
// It tolerates code fences and prose around the payload. jsonrepair only
// runs when the reply itself is the payload or was cut off mid-payload;
// a bracketed aside inside prose is left alone. When nothing usable is
// found it returns the raw text untouched with ok=false.
func ExtractJSON(raw string) (content string, value any, ok bool) {
	text := stripCodeFence(strings.TrimSpace(raw))

	if v, good := decodeStructured(text); good {
		return text, v, true
	}

	candidate, balanced := outermostJSON(text)
	if candidate == "" {
		return raw, nil, false
	}
	if balanced {
		if v, good := decodeStructured(candidate); good {
			return candidate, v, true
		}
	}
	if !repairable(text, candidate, balanced) {
		return raw, nil, false
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return raw, nil, false
	}
	if v, good := decodeStructured(repaired); good {
		return repaired, v, true
	}
	return raw, nil, false
}

// repairable reports whether candidate is near-JSON worth handing to
// jsonrepair. A balanced span qualifies only when the reply starts with it.
func repairable(text, candidate string, balanced bool) bool {
	if balanced && !strings.HasPrefix(text, candidate) {
		return false
	}
	rest := strings.TrimLeft(candidate[1:], " \t\r\n")
	if rest == "" {
		return !balanced
	}
	switch candidate[0] {
	case '{':
		return rest[0] == '"' || rest[0] == '}'
	default:
		return strings.ContainsRune(`"{[]-0123456789`, rune(rest[0])) ||
			strings.HasPrefix(rest, "true") || strings.HasPrefix(rest, "false") || strings.HasPrefix(rest, "null")
	}
}

// decodeStructured accepts only objects and arrays; a bare string or number
// is prose as far as callers are concerned
func decodeStructured(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') || !json.Valid([]byte(s)) {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// stripCodeFence returns the body of the first ``` block, or s unchanged
func stripCodeFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	// drop the language tag line (```json)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// outermostJSON finds the first '{' or '[' and scans to its matching
// closer, skipping brackets inside strings. balanced is false when the
// text ends before the closer, which is the truncated-reply case.
func outermostJSON(s string) (candidate string, balanced bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], false
}
