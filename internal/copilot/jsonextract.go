package copilot

import (
	"encoding/json"
	"strings"
)

// previewLimit caps how much raw model output a parse error carries.
const previewLimit = 500

// ExtractJSON pulls a JSON value out of raw model output. Models routinely
// wrap JSON in a markdown code fence, with or without a language tag, and pad
// it with whitespace; both are tolerated. The top-level value must be an
// object or an array.
//
// On any failure the returned error is a *Error with KindParse carrying the
// operation context and a truncated preview of the raw output. This function
// is pure: no transport, no retry, no logging.
func ExtractJSON(raw, op string) (json.RawMessage, error) {
	text := strings.TrimSpace(raw)
	text = stripFence(text)

	if text == "" || (text[0] != '{' && text[0] != '[') {
		return nil, parseError(raw, op, "response is not a JSON object or array")
	}
	if !json.Valid([]byte(text)) {
		return nil, parseError(raw, op, "invalid JSON in response")
	}
	return json.RawMessage(text), nil
}

// stripFence removes a surrounding markdown code fence, including an optional
// language tag on the opening line, and re-trims the inner content. Input
// without a complete fence pair is returned unchanged.
func stripFence(s string) string {
	if len(s) < 6 || !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}

	inner := s[3 : len(s)-3]

	// Drop the language tag: everything on the opening fence line, as long
	// as it looks like a tag and not content ("json", "JSON", empty).
	if i := strings.IndexByte(inner, '\n'); i >= 0 {
		if isFenceTag(strings.TrimSpace(inner[:i])) {
			inner = inner[i+1:]
		}
	} else {
		// Single-line fence: ```json {...}``` or ```{...}```.
		inner = strings.TrimPrefix(strings.TrimSpace(inner), "json")
	}

	return strings.TrimSpace(inner)
}

// isFenceTag reports whether s could be a code fence language tag.
func isFenceTag(s string) bool {
	if len(s) > 16 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func parseError(raw, op, msg string) *Error {
	preview := raw
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	return &Error{
		Kind:       KindParse,
		Op:         op,
		Message:    msg,
		RawPreview: preview,
	}
}
