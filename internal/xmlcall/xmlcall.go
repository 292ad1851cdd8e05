// Package xmlcall converts between the inline XML tool-invocation format and
// structured calls (tool name plus JSON-like argument tree), guided by the
// inferred parameter schemas.
//
// The XML dialect is intentionally loose: element content is emitted and
// consumed without entity escaping, because that is what the prompt
// convention trains models to produce. Serialization is plain string
// concatenation and parsing is schema-guided tag scanning, not a conformant
// XML round trip.
package xmlcall

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

// ErrNoMatch reports raw text in which no candidate tool element was found.
var ErrNoMatch = errors.New("no tool element found")

// Escaped diff-block delimiters are restored after serialization so that
// SEARCH/REPLACE blocks survive models that entity-escape their arguments.
var delimiterRestorer = strings.NewReplacer(
	"&lt;&lt;&lt;&lt;&lt;&lt;&lt; SEARCH", "<<<<<<< SEARCH",
	"&gt;&gt;&gt;&gt;&gt;&gt;&gt; REPLACE", ">>>>>>> REPLACE",
)

// SynthesizeID derives a deterministic call identifier from arbitrary input,
// used when an invocation carries no id element of its own.
func SynthesizeID(data string) string {
	u := uuid.NewSHA1(uuid.NameSpaceURL, []byte(data))
	return "call_" + strings.ReplaceAll(u.String(), "-", "")
}

// Encode renders a structured argument tree as a loose XML invocation with
// the given root tag. The id is always appended as the last child element.
// Object keys render in sorted order so output is deterministic.
func Encode(name string, args any, id string) string {
	root := etree.NewElement(name)
	buildElement(root, args)
	root.CreateElement("id").SetText(id)
	return delimiterRestorer.Replace(serialize(root))
}

func buildElement(parent *etree.Element, obj any) {
	switch v := obj.(type) {
	case map[string]any:
		if inner, ok := v["value"]; ok {
			// Value convention: "value" becomes the element's own content,
			// every other key an attribute.
			if inner == nil {
				parent.SetText("")
			} else if s, ok := inner.(string); ok {
				parent.SetText(s)
			} else {
				buildElement(parent, inner)
			}
			for _, k := range sortedKeys(v) {
				if k != "value" {
					parent.CreateAttr(k, scalarText(v[k]))
				}
			}
			return
		}
		for _, k := range sortedKeys(v) {
			if items, ok := v[k].([]any); ok {
				for _, item := range items {
					buildElement(parent.CreateElement(k), item)
				}
				continue
			}
			buildElement(parent.CreateElement(k), v[k])
		}
	case nil:
		parent.SetText("")
	default:
		parent.SetText(scalarText(v))
	}
}

func scalarText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// serialize writes an element tree as concatenated tags with raw,
// unescaped content.
func serialize(e *etree.Element) string {
	var sb strings.Builder
	writeElement(&sb, e)
	return sb.String()
}

func writeElement(sb *strings.Builder, e *etree.Element) {
	sb.WriteByte('<')
	sb.WriteString(e.Tag)
	for _, a := range e.Attr {
		sb.WriteByte(' ')
		sb.WriteString(a.Key)
		sb.WriteString(`="`)
		sb.WriteString(a.Value)
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	sb.WriteString(e.Text())
	for _, child := range e.ChildElements() {
		writeElement(sb, child)
	}
	sb.WriteString("</")
	sb.WriteString(e.Tag)
	sb.WriteByte('>')
}

// Decode parses one loose XML invocation whose root tag is name, returning
// the structured argument value and the call id. A missing or empty id child
// is replaced by one synthesized from the raw text.
func Decode(raw, name string, params map[string]any) (any, string, error) {
	root, err := Parse(raw, map[string]map[string]any{name: withIDProperty(params)})
	if err != nil {
		return nil, "", err
	}

	id := ""
	for _, child := range root.ChildElements() {
		if child.Tag == "id" {
			id = strings.TrimSpace(child.Text())
			root.RemoveChild(child)
			break
		}
	}
	if id == "" {
		id = SynthesizeID(raw)
	}

	args, err := elementToValue(root, params)
	if err != nil {
		return nil, "", err
	}
	return args, id, nil
}

// withIDProperty extends an object schema so the scanner recognizes the id
// child appended by Encode. The caller's schema is not modified.
func withIDProperty(params map[string]any) map[string]any {
	if schemaType(params) != "object" {
		return params
	}
	props, _ := params["properties"].(map[string]any)
	extended := make(map[string]any, len(props)+1)
	for k, v := range props {
		extended[k] = v
	}
	extended["id"] = map[string]any{"type": "string"}

	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	out["properties"] = extended
	return out
}

// Parse scans raw for the earliest element whose tag is one of the schema
// keys and builds an element tree from it, treating content as unescaped
// text. Leaf content runs to the first literal closing tag; object content
// is scanned recursively for child elements from the same schema.
func Parse(raw string, schemas map[string]map[string]any) (*etree.Element, error) {
	nodes, _, _ := scanElements(raw, schemas)
	if len(nodes) == 0 {
		return nil, ErrNoMatch
	}
	return nodes[0], nil
}

// scanElements finds the earliest matching tag pair in part and returns the
// element built from it plus the span it occupied.
func scanElements(part string, schemas map[string]map[string]any) (nodes []*etree.Element, firstStart, end int) {
	tags := make([]string, 0, len(schemas))
	for tag := range schemas {
		tags = append(tags, tag)
	}
	// Longer tags first so "apply_diff_v2" is not shadowed by "apply_diff"
	// at the same position.
	sort.Slice(tags, func(i, j int) bool { return len(tags[i]) > len(tags[j]) })

	type match struct {
		tag                            string
		headStart, headEnd, footStart  int
	}
	best := match{headStart: -1}
	for _, tag := range tags {
		hs, he := findOpenTag(part, tag)
		if hs < 0 {
			continue
		}
		foot := strings.Index(part[he:], "</"+tag+">")
		if foot < 0 {
			continue
		}
		if best.headStart < 0 || hs < best.headStart {
			best = match{tag: tag, headStart: hs, headEnd: he, footStart: he + foot}
		}
	}
	if best.headStart < 0 {
		return nil, 0, 0
	}

	node := elementFromTags(part[best.headStart:best.headEnd], best.tag)
	inner := part[best.headEnd:best.footStart]
	matchEnd := best.footStart + len("</"+best.tag+">")

	schema := schemas[best.tag]
	schema = unwrapItemSchema(schema)

	switch schemaType(schema) {
	case "string", "boolean", "number", "integer":
		node.SetText(inner)
	case "object":
		childSchemas := propertySchemas(schema)
		var text strings.Builder
		pos := 0
		for {
			children, start, consumed := scanElements(inner[pos:], childSchemas)
			if start > 0 {
				text.WriteString(inner[pos : pos+start])
			}
			if len(children) == 0 {
				break
			}
			pos += consumed
			for _, c := range children {
				node.AddChild(c)
			}
		}
		if text.Len() > 0 {
			node.SetText(text.String())
		}
	default:
		node.SetText(inner)
	}
	return []*etree.Element{node}, best.headStart, matchEnd
}

// findOpenTag locates "<tag>" or "<tag attr...>" in s, returning start and
// end offsets or (-1, -1).
func findOpenTag(s, tag string) (int, int) {
	from := 0
	for {
		i := strings.Index(s[from:], "<"+tag)
		if i < 0 {
			return -1, -1
		}
		start := from + i
		rest := s[start+len(tag)+1:]
		if rest == "" {
			return -1, -1
		}
		switch rest[0] {
		case '>':
			return start, start + len(tag) + 2
		case ' ', '\t', '\n', '\r':
			if gt := strings.IndexByte(rest, '>'); gt >= 0 {
				return start, start + len(tag) + 1 + gt + 1
			}
			return -1, -1
		}
		from = start + 1
	}
}

// elementFromTags builds an element, recovering attributes from the literal
// open tag when it parses; otherwise the element is attribute-free.
func elementFromTags(openTag, tag string) *etree.Element {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(openTag + "</" + tag + ">"); err == nil {
		if root := doc.Root(); root != nil {
			root.Parent().RemoveChild(root)
			return root
		}
	}
	return etree.NewElement(tag)
}

func unwrapItemSchema(schema map[string]any) map[string]any {
	if schemaType(schema) == "array" {
		if items, ok := schema["items"].(map[string]any); ok {
			schema = items
		} else if contains, ok := schema["contains"].(map[string]any); ok {
			schema = contains
		}
	}
	if schemaType(schema) == "object" {
		props, _ := schema["properties"].(map[string]any)
		if value, ok := props["value"].(map[string]any); ok {
			return value
		}
	}
	return schema
}

func schemaType(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok && s != "null" {
				return s
			}
		}
	}
	return ""
}

func propertySchemas(schema map[string]any) map[string]map[string]any {
	props, _ := schema["properties"].(map[string]any)
	out := make(map[string]map[string]any, len(props))
	for k, v := range props {
		if vm, ok := v.(map[string]any); ok {
			out[k] = vm
		}
	}
	return out
}

// ValueFromElement converts an already-parsed element against a tool's
// parameter schema. Used for rewriting prompt usage samples, where parsing
// happens with the tolerant sample parser instead of the loose scanner.
func ValueFromElement(elem *etree.Element, params map[string]any) (any, error) {
	return elementToValue(elem, params)
}

// elementToValue converts a parsed element to its structured argument value:
// text-only elements become strings (or value-convention objects when the
// schema declares attributes), repeated tags become arrays, and nested
// elements become objects.
func elementToValue(elem *etree.Element, schema map[string]any) (any, error) {
	children := elem.ChildElements()
	if len(children) == 0 {
		props, _ := schema["properties"].(map[string]any)
		if _, ok := props["value"]; ok {
			obj := map[string]any{"value": elem.Text()}
			for _, a := range elem.Attr {
				obj[a.Key] = a.Value
			}
			return obj, nil
		}
		return elem.Text(), nil
	}

	props, _ := schema["properties"].(map[string]any)
	groups, order := groupByTag(children)
	obj := make(map[string]any, len(groups))
	for _, tag := range order {
		tagSchema, ok := props[tag].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no schema for element %q under %q", tag, elem.Tag)
		}
		if schemaType(tagSchema) == "array" {
			item, _ := tagSchema["items"].(map[string]any)
			if item == nil {
				item = map[string]any{}
			}
			arr := make([]any, 0, len(groups[tag]))
			for _, e := range groups[tag] {
				v, err := elementToValue(e, item)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			obj[tag] = arr
			continue
		}
		v, err := elementToValue(groups[tag][0], tagSchema)
		if err != nil {
			return nil, err
		}
		obj[tag] = v
	}
	return obj, nil
}

func groupByTag(elems []*etree.Element) (map[string][]*etree.Element, []string) {
	groups := map[string][]*etree.Element{}
	var order []string
	for _, e := range elems {
		if _, ok := groups[e.Tag]; !ok {
			order = append(order, e.Tag)
		}
		groups[e.Tag] = append(groups[e.Tag], e)
	}
	return groups, order
}
