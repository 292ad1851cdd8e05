// Package schema infers JSON-Schema-like tool parameter schemas from XML
// usage examples and derives the strict variant required by native strict
// tool calling.
package schema

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// pathSep joins element tag paths into map keys. Tag names follow the \w+
// prompt convention, so ">" cannot occur inside one.
const pathSep = ">"

// EmptyObject returns the fallback parameters schema for a tool with no
// usable usage samples.
func EmptyObject() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []string{},
	}
}

// Infer builds a parameters schema for one tool from its XML usage samples
// and the description/required lookups parsed from its parameter bullets.
// Samples that cannot be parsed are skipped; no samples at all yields the
// empty object schema, never an error.
func Infer(samples []string, descs map[string]string, required map[string]bool) map[string]any {
	var roots []*etree.Element
	for _, s := range samples {
		if root, err := ParseSample(s); err == nil && root != nil {
			roots = append(roots, root)
		}
	}
	if len(roots) == 0 {
		return EmptyObject()
	}

	stats := mergeStats(roots)
	b := &schemaBuilder{stats: stats, sampleCount: len(roots), descs: descs, requiredNames: required}
	props, req := b.nodeSchema(roots[0].Tag)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   req,
	}
}

var (
	parenRe     = regexp.MustCompile(`\(([^)]*)\)`)
	pseudoTagRe = regexp.MustCompile(`</?(\w*)\s*/?>`)
)

// ParseSample parses one XML usage example, tolerating the two malformations
// the prompt convention is known to produce: pseudo-tags quoted inside
// parentheses and unescaped ampersands. Returns the root element.
func ParseSample(sample string) (*etree.Element, error) {
	sample = strings.TrimSpace(dedent(sample))

	root, err := readRoot(sample)
	if err == nil {
		return root, nil
	}

	// Neutralize pseudo-tags mentioned inside parentheses, e.g. "(use <path>)".
	neutralized := parenRe.ReplaceAllStringFunc(sample, func(m string) string {
		inner := m[1 : len(m)-1]
		return "(" + pseudoTagRe.ReplaceAllString(inner, "`$1`") + ")"
	})
	if root, err = readRoot(neutralized); err == nil {
		return root, nil
	}

	return readRoot(strings.ReplaceAll(neutralized, "&", "&amp;"))
}

func readRoot(s string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(s); err != nil {
		return nil, err
	}
	root := doc.Root()
	if root == nil {
		return nil, errNoRoot
	}
	return root, nil
}

// dedent removes the common leading whitespace shared by all non-blank lines.
func dedent(s string) string {
	lines := strings.Split(s, "\n")
	margin := -1
	for _, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" {
			continue
		}
		indent := len(line) - len(trimmed)
		if margin < 0 || indent < margin {
			margin = indent
		}
	}
	if margin <= 0 {
		return s
	}
	for i, line := range lines {
		if len(line) >= margin && strings.TrimLeft(line[:margin], " \t") == "" {
			lines[i] = line[margin:]
		}
	}
	return strings.Join(lines, "\n")
}

// sampleStats aggregates structure statistics across all parsed samples.
type sampleStats struct {
	childMax   map[string]map[string]int  // parent path -> child tag -> max same-tag multiplicity in one sample
	presence   map[string]map[string]int  // parent path -> child tag -> number of samples it occurs in
	attrs      map[string]map[string]bool // element path -> attribute names seen
	childOrder map[string][]string        // parent path -> child tags in first-seen order
}

func newSampleStats() *sampleStats {
	return &sampleStats{
		childMax:   map[string]map[string]int{},
		presence:   map[string]map[string]int{},
		attrs:      map[string]map[string]bool{},
		childOrder: map[string][]string{},
	}
}

func (st *sampleStats) recordChild(path, tag string, count int) {
	if st.childMax[path] == nil {
		st.childMax[path] = map[string]int{}
	}
	if count > st.childMax[path][tag] {
		st.childMax[path][tag] = count
	}
	found := false
	for _, t := range st.childOrder[path] {
		if t == tag {
			found = true
			break
		}
	}
	if !found {
		st.childOrder[path] = append(st.childOrder[path], tag)
	}
}

func (st *sampleStats) recordPresence(path, tag string) {
	if st.presence[path] == nil {
		st.presence[path] = map[string]int{}
	}
	st.presence[path][tag]++
}

func (st *sampleStats) recordAttrs(path string, e *etree.Element) {
	if len(e.Attr) == 0 {
		return
	}
	if st.attrs[path] == nil {
		st.attrs[path] = map[string]bool{}
	}
	for _, a := range e.Attr {
		st.attrs[path][a.Key] = true
	}
}

func mergeStats(roots []*etree.Element) *sampleStats {
	st := newSampleStats()
	for _, root := range roots {
		seen := map[string]map[string]bool{} // presence per sample, counted once
		var walk func(e *etree.Element, path string)
		walk = func(e *etree.Element, path string) {
			groups, order := groupChildren(e)
			for _, tag := range order {
				st.recordChild(path, tag, len(groups[tag]))
				if seen[path] == nil {
					seen[path] = map[string]bool{}
				}
				if !seen[path][tag] {
					seen[path][tag] = true
					st.recordPresence(path, tag)
				}
				for _, child := range groups[tag] {
					walk(child, path+pathSep+tag)
				}
			}
			st.recordAttrs(path, e)
		}
		walk(root, root.Tag)
	}
	return st
}

// groupChildren buckets an element's children by tag, preserving the order
// in which each tag first appears.
func groupChildren(e *etree.Element) (map[string][]*etree.Element, []string) {
	groups := map[string][]*etree.Element{}
	var order []string
	for _, child := range e.ChildElements() {
		if _, ok := groups[child.Tag]; !ok {
			order = append(order, child.Tag)
		}
		groups[child.Tag] = append(groups[child.Tag], child)
	}
	return groups, order
}

type schemaBuilder struct {
	stats         *sampleStats
	sampleCount   int
	descs         map[string]string
	requiredNames map[string]bool
}

// nodeSchema builds the property map and required list for the element at
// the given path from the aggregated statistics.
func (b *schemaBuilder) nodeSchema(path string) (map[string]any, []string) {
	props := map[string]any{}
	for _, child := range b.stats.childOrder[path] {
		childPath := path + pathSep + child

		base := map[string]any{}
		if desc, ok := b.descs[strings.ToLower(child)]; ok {
			base["description"] = desc
		}
		if len(b.stats.childOrder[childPath]) > 0 {
			base["type"] = "object"
			p, r := b.nodeSchema(childPath)
			base["properties"] = p
			base["required"] = r
		} else {
			base["type"] = "string"
		}

		// An element carrying XML attributes is wrapped in the value
		// convention: its own content becomes the reserved "value" property
		// and each attribute a sibling string property.
		if attrs := b.stats.attrs[childPath]; len(attrs) > 0 {
			wrapped := map[string]any{"value": base}
			for name := range attrs {
				wrapped[name] = map[string]any{"type": "string"}
			}
			base = map[string]any{
				"type":       "object",
				"properties": wrapped,
				"required":   []string{"value"},
			}
		}

		var node map[string]any
		if b.stats.childMax[path][child] > 1 {
			node = map[string]any{"type": "array", "items": base}
		} else {
			node = base
		}
		props[child] = node
	}

	var req []string
	for _, child := range b.stats.childOrder[path] {
		if b.stats.presence[path][child] < b.sampleCount {
			continue // not present in every sample
		}
		if b.requiredNames[strings.ToLower(child)] {
			req = append(req, child)
		}
	}
	if req == nil {
		req = []string{}
	}
	return props, req
}
