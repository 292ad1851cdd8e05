// Package tooldoc locates and parses the tool documentation embedded in a
// system prompt: the "# Tools" section, per-tool sub-sections with labeled
// Description/Parameters blocks, and literal XML usage examples.
package tooldoc

import (
	"regexp"
	"sort"
	"strings"
)

// ToolDoc is one tool's documentation block extracted from the system prompt.
// It is built once per request and never mutated afterwards.
type ToolDoc struct {
	Name        string
	Description string
	ParamsText  string   // combined parameter bullet prose
	XMLSamples  []string // literal usage examples in document order
	RawBlock    string   // full per-tool body, kept for format overrides
}

var (
	toolHeadingRe = regexp.MustCompile(`(?m)^##[ \t]+(\w+)[ \t]*$`)
	// Labels that terminate a greedy labeled-block region. Mirrors the prose
	// convention used by Cline/Roo-Code style prompts.
	blockBoundaryRe = regexp.MustCompile(`(?m)^(?:\*\*)?(?:(?:Required |Optional )?Parameters?:|##? |Usages?:|(?:Usage )?Examples?[\w ]*:)`)
	removableRe     = regexp.MustCompile(`(?m)^(?:\*\*)?(?:Required |Optional )?(?:Description|Parameter)s?:(?:\*\*)?`)
	optionalTagRe   = regexp.MustCompile(`(?m)^(\s*-\s*\w+\s*:\s*)`)
)

// ExtractSection returns the region of doc starting at the top-level heading
// "# <name>" up to (not including) the next top-level heading, or "" when the
// heading is absent.
func ExtractSection(doc, name string) string {
	headRe := regexp.MustCompile(`(?m)^#\s+` + regexp.QuoteMeta(name) + `\b`)
	loc := headRe.FindStringIndex(doc)
	if loc == nil {
		return ""
	}
	rest := doc[loc[1]:]
	if next := regexp.MustCompile(`(?m)^#\s+`).FindStringIndex(rest); next != nil {
		return doc[loc[0] : loc[1]+next[0]]
	}
	return doc[loc[0]:]
}

// ParseToolsSection splits a "# Tools" section into per-tool docs, one per
// "## <tool_name>" sub-heading.
func ParseToolsSection(toolsMD string) []ToolDoc {
	heads := toolHeadingRe.FindAllStringSubmatchIndex(toolsMD, -1)
	var out []ToolDoc
	for i, h := range heads {
		name := toolsMD[h[2]:h[3]]
		bodyEnd := len(toolsMD)
		if i+1 < len(heads) {
			bodyEnd = heads[i+1][0]
		}
		body := toolsMD[h[1]:bodyEnd]

		desc := ExtractLabeledBlock(body, "Description:")
		params := ExtractLabeledBlock(body, "Parameters:")
		required := ExtractLabeledBlock(body, "Required Parameters:")
		optional := ExtractLabeledBlock(body, "Optional Parameters:")

		combined := strings.TrimSpace(params + "\n" + required + "\n" + tagOptionalEntries(optional))

		// Strip documentation blocks before scanning for usage samples so
		// XML snippets quoted inside parameter prose are not mistaken for
		// examples.
		clean := body
		for _, block := range []string{desc, params, required, optional} {
			if block != "" {
				clean = strings.Replace(clean, block, "", 1)
			}
		}

		out = append(out, ToolDoc{
			Name:        name,
			Description: strings.TrimSpace(desc),
			ParamsText:  combined,
			XMLSamples:  ExtractXMLBlocks(clean, []string{name}),
			RawBlock:    body,
		})
	}
	return out
}

// ExtractLabeledBlock returns the text that follows "<label>" (optionally
// bold-wrapped) up to the next label, heading, or end of text.
func ExtractLabeledBlock(body, label string) string {
	labelRe := regexp.MustCompile(`(?m)^(?:\*\*)?` + regexp.QuoteMeta(label) + `(?:\*\*)?`)
	loc := labelRe.FindStringIndex(body)
	if loc == nil {
		return ""
	}
	rest := body[loc[1]:]
	if b := blockBoundaryRe.FindStringIndex(rest); b != nil {
		rest = rest[:b[0]]
	}
	return strings.TrimSpace(rest)
}

// RemoveLabeledBlocks strips Description/Parameters documentation blocks
// (label line included) from doc. The native request carries an equivalent
// machine schema, so the prose would only duplicate it.
func RemoveLabeledBlocks(doc string) string {
	for {
		loc := removableRe.FindStringIndex(doc)
		if loc == nil {
			return doc
		}
		end := len(doc)
		if b := blockBoundaryRe.FindStringIndex(doc[loc[1]:]); b != nil {
			end = loc[1] + b[0]
		}
		doc = doc[:loc[0]] + doc[end:]
	}
}

// ExtractXMLBlocks collects every literal <name>...</name> region for any of
// the given tag names, case-insensitively, in document order. Overlapping
// matches are dropped in favor of the earliest one.
func ExtractXMLBlocks(body string, names []string) []string {
	type span struct{ start, end int }
	var spans []span
	for _, name := range names {
		if name == "" {
			continue
		}
		q := regexp.QuoteMeta(name)
		re := regexp.MustCompile(`(?is)<` + q + `\b[\s\S]*?</` + q + `>`)
		for _, loc := range re.FindAllStringIndex(body, -1) {
			spans = append(spans, span{loc[0], loc[1]})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	var out []string
	last := -1
	for _, s := range spans {
		if s.start <= last {
			continue
		}
		out = append(out, body[s.start:s.end])
		last = s.end - 1
	}
	return out
}

// tagOptionalEntries marks every bullet entry of an "Optional Parameters:"
// block with an "(optional)" prefix so bullet parsing picks up the
// non-required status.
func tagOptionalEntries(block string) string {
	if block == "" {
		return ""
	}
	return optionalTagRe.ReplaceAllString(block, "${1}(optional) ")
}
