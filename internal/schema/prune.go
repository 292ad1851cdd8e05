package schema

import (
	"reflect"
	"strings"
)

// PruneNulls strips the nulls a strict-mode model emits for parameters that
// were optional in the pre-strict schema. A null is removed only where the
// original schema does not itself allow null; data with no matching schema
// node passes through untouched.
func PruneNulls(data any, schema map[string]any) any {
	p := &pruner{root: schema}
	out, drop := p.prune(data, schema)
	if drop {
		return nil
	}
	return out
}

type pruner struct {
	root map[string]any
}

func (p *pruner) prune(data any, schema map[string]any) (any, bool) {
	schema = p.deref(schema, map[string]bool{})

	for _, key := range []string{"anyOf", "oneOf"} {
		if branches, ok := schema[key].([]any); ok {
			if b := p.matchBranch(data, branches); b != nil {
				schema = b
			}
			break
		}
	}

	types := typeList(schema)

	if data == nil && !contains(types, "null") {
		return nil, true
	}

	switch d := data.(type) {
	case map[string]any:
		if !contains(types, "object") {
			return data, false
		}
		props, _ := schema["properties"].(map[string]any)
		out := make(map[string]any, len(d))
		for k, v := range d {
			sub, _ := props[k].(map[string]any)
			if sub == nil {
				sub = map[string]any{}
			}
			pv, drop := p.prune(v, sub)
			if drop {
				continue
			}
			out[k] = pv
		}
		return out, false
	case []any:
		if !contains(types, "array") {
			return data, false
		}
		item, _ := schema["items"].(map[string]any)
		if item == nil {
			item, _ = schema["contains"].(map[string]any)
		}
		if item == nil {
			item = map[string]any{}
		}
		out := make([]any, 0, len(d))
		for _, v := range d {
			pv, drop := p.prune(v, item)
			if drop {
				continue
			}
			out = append(out, pv)
		}
		return out, false
	}
	return data, false
}

// deref resolves chained internal $refs, giving up on cycles or unresolvable
// pointers by returning the node as-is.
func (p *pruner) deref(schema map[string]any, seen map[string]bool) map[string]any {
	for {
		ref, ok := schema["$ref"].(string)
		if !ok {
			return schema
		}
		if seen[ref] || !strings.HasPrefix(ref, "#/") {
			return schema
		}
		seen[ref] = true
		cur := any(p.root)
		for _, part := range strings.Split(ref[2:], "/") {
			m, ok := cur.(map[string]any)
			if !ok {
				return schema
			}
			cur, ok = m[part]
			if !ok {
				return schema
			}
		}
		next, ok := cur.(map[string]any)
		if !ok {
			return schema
		}
		schema = next
	}
}

// matchBranch picks the anyOf/oneOf branch the data value conforms to,
// or nil when no branch matches.
func (p *pruner) matchBranch(data any, branches []any) map[string]any {
	for _, b := range branches {
		bm, ok := b.(map[string]any)
		if !ok {
			continue
		}
		if p.conforms(data, bm, true) {
			return p.deref(bm, map[string]bool{})
		}
	}
	return nil
}

// conforms is a shallow structural check sufficient for branch selection:
// enum/const membership, object key-set equality, array item conformance,
// and primitive type matching.
func (p *pruner) conforms(data any, schema map[string]any, required bool) bool {
	schema = p.deref(schema, map[string]bool{})

	for _, key := range []string{"anyOf", "oneOf"} {
		if branches, ok := schema[key].([]any); ok {
			for _, b := range branches {
				if bm, ok := b.(map[string]any); ok && p.conforms(data, bm, required) {
					return true
				}
			}
			if !required && data == nil {
				return true
			}
			return false
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if reflect.DeepEqual(e, data) {
				return true
			}
		}
		return false
	}
	if c, ok := schema["const"]; ok {
		return reflect.DeepEqual(c, data)
	}

	types := typeList(schema)
	if data == nil {
		return contains(types, "null") || !required
	}

	switch d := data.(type) {
	case map[string]any:
		if !contains(types, "object") {
			return false
		}
		props, _ := schema["properties"].(map[string]any)
		if len(props) != len(d) {
			return false
		}
		req := map[string]bool{}
		for _, name := range stringSlice(schema["required"]) {
			req[name] = true
		}
		for k, v := range d {
			sub, ok := props[k].(map[string]any)
			if !ok {
				return false
			}
			if !p.conforms(v, sub, req[k]) {
				return false
			}
		}
		return true
	case []any:
		if !contains(types, "array") {
			return false
		}
		item, _ := schema["items"].(map[string]any)
		if item == nil {
			item, _ = schema["contains"].(map[string]any)
		}
		if item == nil {
			return true
		}
		for _, v := range d {
			if !p.conforms(v, item, true) {
				return false
			}
		}
		return true
	case string:
		return contains(types, "string")
	case bool:
		return contains(types, "boolean")
	case float64:
		return contains(types, "number") || contains(types, "integer")
	}
	return false
}
