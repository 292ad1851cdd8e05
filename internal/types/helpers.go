package types

import "strings"

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool { return &b }

// ContentText flattens a message content value into plain text. String
// content is returned as-is; a content-part list is joined with newlines.
func ContentText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, p := range c {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := pm["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// FirstContentText returns the leading text of a message content value:
// string content itself, or the text of the first part of a content-part
// list.
func FirstContentText(content any) (string, bool) {
	if s, ok := content.(string); ok {
		return s, true
	}
	parts, ok := content.([]any)
	if !ok || len(parts) == 0 {
		return "", false
	}
	pm, ok := parts[0].(map[string]any)
	if !ok {
		return "", false
	}
	text, _ := pm["text"].(string)
	return text, true
}

// SetFirstContentText replaces the leading text of a message content value
// on a copy, returning the new content value.
func SetFirstContentText(content any, text string) any {
	if _, ok := content.(string); ok {
		return text
	}
	parts, ok := content.([]any)
	if !ok || len(parts) == 0 {
		return content
	}
	out := make([]any, len(parts))
	copy(out, parts)
	pm, ok := parts[0].(map[string]any)
	if !ok {
		return content
	}
	head := make(map[string]any, len(pm))
	for k, v := range pm {
		head[k] = v
	}
	head["text"] = text
	out[0] = head
	return out
}
