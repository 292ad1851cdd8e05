package replace

import (
	"encoding/json"
	"regexp"
	"strings"
)

// captures holds named-group values collected by capture-only rules, keyed
// by the role whose rule captured them.
type captures map[string]map[string]string

func (c captures) flat() map[string]string {
	out := map[string]string{}
	for _, m := range c {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// apply runs every rule matching role over text. Capture-only rules record
// their named groups; rules with refs substitute previously captured values
// (regexp-escaped) into their pattern and replacement before applying.
func apply(text string, items []Item, captured captures, role string) string {
	for _, item := range items {
		if item.Trigger != "" {
			if _, ok := captured.flat()[item.Trigger]; !ok {
				continue
			}
		}
		if item.Role != role {
			continue
		}

		pattern := item.Pattern
		var replaceText string
		if item.Replace != nil {
			replaceText = *item.Replace
		}
		if len(item.Ref) > 0 {
			refValues := map[string]string{}
			for _, ref := range item.Ref {
				for k, v := range captured[ref] {
					refValues[k] = regexp.QuoteMeta(v)
				}
			}
			if len(refValues) == 0 {
				continue
			}
			pattern = substitute(pattern, refValues)
			replaceText = substitute(replaceText, refValues)
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if item.Replace != nil {
			text = re.ReplaceAllString(text, replaceText)
			continue
		}

		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		target := captured[item.Role]
		if target == nil {
			target = map[string]string{}
			captured[item.Role] = target
		}
		for i, name := range re.SubexpNames() {
			if name != "" && i < len(m) && m[i] != "" {
				target[name] = m[i]
			}
		}
	}
	return text
}

// substitute replaces {key} placeholders with values; unknown placeholders
// stay as written.
func substitute(s string, values map[string]string) string {
	for k, v := range values {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// ApplyToMessages runs the prompt-side rules over every message's text,
// role by role, and returns the rewritten messages plus an applier for the
// completion side carrying the captures forward. The input is never mutated.
func ApplyToMessages(messages []any, s *Settings) ([]any, func(string) string) {
	items := s.AdditionalReplacement
	captured := captures{}
	out := deepCopyList(messages)

	for _, raw := range out {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		delete(captured, role) // captures live until the role speaks again

		switch content := msg["content"].(type) {
		case string:
			msg["content"] = apply(content, items, captured, role)
		case []any:
			for _, rawPart := range content {
				part, ok := rawPart.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := part["text"].(string); ok && text != "" {
					part["text"] = apply(text, items, captured, role)
				}
			}
		}
	}

	applyToCompletion := func(completion string) string {
		return apply(completion, items, captured, "completion")
	}
	return out, applyToCompletion
}

func deepCopyList(in []any) []any {
	raw, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out []any
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}
