package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedSchema reports a schema that cannot be expressed under
	// strict mode. The request should fail rather than silently relax.
	ErrUnsupportedSchema = errors.New("schema not supported in strict mode")

	errNoRoot = errors.New("xml sample has no root element")
)

// Keywords strict mode cannot express. Their presence anywhere in the graph
// fails the whole transform.
var unsupportedKeywords = []string{
	"allOf", "not",
	"dependentRequired", "dependentSchemas",
	"if", "then", "else",
	"$anchor", "$dynamicAnchor", "$dynamicRef", "$id",
	"patternProperties", "prefixItems",
	"unevaluatedItems", "unevaluatedProperties",
}

// Strictify returns a deep copy of schema transformed for strict tool
// calling: every object lists all of its properties as required with
// additionalProperties set to false, and properties that were optional in
// the input are widened to accept null. $ref targets are resolved in place;
// a reference revisited during its own resolution collapses to the empty
// schema to keep the graph finite.
func Strictify(schema map[string]any) (map[string]any, error) {
	cp, err := deepCopy(schema)
	if err != nil {
		return nil, err
	}
	s := &strictifier{root: cp, resolved: map[string]bool{}}
	if err := s.process(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

type strictifier struct {
	root     map[string]any
	resolved map[string]bool
}

func (s *strictifier) process(node map[string]any) error {
	for _, kw := range unsupportedKeywords {
		if _, ok := node[kw]; ok {
			return fmt.Errorf("%w: keyword %q", ErrUnsupportedSchema, kw)
		}
	}

	if ref, ok := node["$ref"].(string); ok {
		target, err := s.resolveRef(ref)
		if err != nil {
			return err
		}
		delete(node, "$ref")
		for k, v := range target {
			node[k] = v
		}
		return s.process(node)
	}

	for _, key := range []string{"anyOf", "oneOf"} {
		if branches, ok := node[key].([]any); ok {
			for _, b := range branches {
				bm, ok := b.(map[string]any)
				if !ok {
					continue
				}
				if err := s.process(bm); err != nil {
					return err
				}
			}
		}
	}

	types := typeList(node)

	if contains(types, "object") {
		props, _ := node["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
			node["properties"] = props
		}
		originallyRequired := map[string]bool{}
		for _, name := range stringSlice(node["required"]) {
			originallyRequired[name] = true
		}

		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		node["required"] = names
		node["additionalProperties"] = false

		for _, name := range names {
			prop, ok := props[name].(map[string]any)
			if !ok {
				continue
			}
			if ref, ok := prop["$ref"].(string); ok {
				target, err := s.resolveRef(ref)
				if err != nil {
					return err
				}
				delete(prop, "$ref")
				for k, v := range target {
					prop[k] = v
				}
			}
			if !originallyRequired[name] {
				makeNullable(prop)
			}
			if err := s.process(prop); err != nil {
				return err
			}
		}
	}

	if contains(types, "array") {
		for _, key := range []string{"items", "contains"} {
			if sub, ok := node[key].(map[string]any); ok {
				if err := s.process(sub); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// resolveRef walks an internal "#/..." JSON pointer from the schema root and
// returns a copy of the target. Cyclic references resolve to an empty schema
// on re-entry.
func (s *strictifier) resolveRef(ref string) (map[string]any, error) {
	if s.resolved[ref] {
		return map[string]any{}, nil
	}
	s.resolved[ref] = true

	if !strings.HasPrefix(ref, "#/") {
		return nil, fmt.Errorf("%w: external $ref %q", ErrUnsupportedSchema, ref)
	}
	cur := any(s.root)
	for _, part := range strings.Split(ref[2:], "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: unresolvable $ref %q", ErrUnsupportedSchema, ref)
		}
		cur, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("%w: unresolvable $ref %q", ErrUnsupportedSchema, ref)
		}
	}
	target, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: $ref %q does not point to a schema", ErrUnsupportedSchema, ref)
	}
	return deepCopy(target)
}

// makeNullable widens a property schema so that null satisfies it.
func makeNullable(prop map[string]any) {
	if _, ok := prop["type"]; ok {
		types := typeList(prop)
		if !contains(types, "null") {
			types = append(types, "null")
		}
		prop["type"] = toAnySlice(types)
		return
	}
	for _, key := range []string{"anyOf", "oneOf"} {
		branches, ok := prop[key].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			if bm, ok := b.(map[string]any); ok && contains(typeList(bm), "null") {
				return
			}
		}
		prop[key] = append(branches, map[string]any{"type": "null"})
		return
	}
}

// Clone returns a deep copy of a schema graph. Malformed input collapses to
// an empty schema.
func Clone(m map[string]any) map[string]any {
	cp, err := deepCopy(m)
	if err != nil {
		return map[string]any{}
	}
	return cp
}

// deepCopy clones a schema graph through a JSON round trip.
func deepCopy(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// typeList normalizes a node's "type" keyword to a string list. A missing or
// malformed type yields nil.
func typeList(node map[string]any) []string {
	switch t := node["type"].(type) {
	case string:
		return []string{t}
	case []any:
		return stringSlice(t)
	case []string:
		return t
	}
	return nil
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, e := range ss {
		if e == s {
			return true
		}
	}
	return false
}
