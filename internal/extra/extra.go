// Package extra holds per-tool overrides for tools whose argument encoding
// is not generic structured XML: line-oriented diff blocks, checklist text,
// and dynamically discovered MCP sub-tools.
//
// Parsers are tried in a fixed priority order against each tool's raw
// documentation block; the first one that recognizes the documented
// convention governs that tool. Every parser may decline at schema or call
// conversion time, falling back to generic behavior.
package extra

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/toolbridge/toolbridge/internal/schema"
	"github.com/toolbridge/toolbridge/internal/tooldoc"
	"github.com/toolbridge/toolbridge/internal/types"
)

// Parser intercepts schema derivation and call conversion for one tool name.
type Parser interface {
	// DeriveSchemas inspects a tool's raw documentation block. It returns
	// the replacement (or additional) tool schemas and an optional set of
	// prompt text removals, or nil to decline.
	DeriveSchemas(doc string, tool types.ChatTool, systemPrompt string) ([]types.ChatTool, map[string]string)

	// ToCall rewrites a decoded XML invocation into its native form.
	// Declining parsers return their input unchanged.
	ToCall(name string, args any) (string, any)

	// ToXML rewrites native tool-call arguments back into the shape the
	// XML rendering expects. Declining parsers return their input unchanged.
	ToXML(name string, args map[string]any) (string, map[string]any)
}

// Registry returns the extra parsers in priority order.
func Registry() []Parser {
	return []Parser{
		UpdateTodoList{},
		ApplyDiff{},
		ReplaceInFile{},
		UseMcpTool{},
	}
}

func paramsOf(tool types.ChatTool) map[string]any {
	if tool.Function == nil {
		return nil
	}
	p, _ := tool.Function.Parameters.(map[string]any)
	return p
}

func cloneTool(tool types.ChatTool) (types.ChatTool, map[string]any) {
	params := schema.Clone(paramsOf(tool))
	fn := *tool.Function
	fn.Parameters = params
	return types.ChatTool{Type: tool.Type, Function: &fn}, params
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func argText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// --- ReplaceInFile ---

// ReplaceInFile handles the "------- SEARCH / ======= / +++++++ REPLACE"
// diff-block convention carried in a replace_in_file tool's diff argument.
type ReplaceInFile struct{}

var replaceBlockRe = regexp.MustCompile(
	`(?s)[ \t]*------- SEARCH\n(.*?)\n[ \t]*=======\n(.*?)\n[ \t]*\+\+\+\+\+\+\+ REPLACE`)

type diffBlock struct {
	startLine string
	search    string
	replace   string
}

func replaceBlocks(text string) []diffBlock {
	var out []diffBlock
	for _, m := range replaceBlockRe.FindAllStringSubmatch(text, -1) {
		out = append(out, diffBlock{search: m[1], replace: m[2]})
	}
	return out
}

func (ReplaceInFile) DeriveSchemas(doc string, tool types.ChatTool, _ string) ([]types.ChatTool, map[string]string) {
	if tool.Function == nil || tool.Function.Name != "replace_in_file" {
		return nil, nil
	}
	blocks := replaceBlocks(tooldoc.ExtractLabeledBlock(doc, "Parameters:"))
	if len(blocks) == 0 {
		return nil, nil
	}
	clone, params := cloneTool(tool)
	diff, ok := props(params)["diff"].(map[string]any)
	if !ok {
		return nil, nil
	}
	diff["type"] = "array"
	diff["items"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search":  map[string]any{"type": "string", "description": blocks[0].search},
			"replace": map[string]any{"type": "string", "description": blocks[0].replace},
		},
		"required": []string{"search", "replace"},
	}
	return []types.ChatTool{clone}, nil
}

func (ReplaceInFile) ToCall(name string, args any) (string, any) {
	if name != "replace_in_file" {
		return name, args
	}
	m, ok := args.(map[string]any)
	if !ok {
		return name, args
	}
	diff, ok := m["diff"].(string)
	if !ok {
		return name, args
	}
	blocks := replaceBlocks(diff)
	if len(blocks) == 0 {
		return name, args
	}
	items := make([]any, len(blocks))
	for i, b := range blocks {
		items[i] = map[string]any{"search": b.search, "replace": b.replace}
	}
	out := copyArgs(m)
	out["diff"] = items
	return name, out
}

func (ReplaceInFile) ToXML(name string, args map[string]any) (string, map[string]any) {
	if name != "replace_in_file" {
		return name, args
	}
	items, ok := diffItems(args["diff"])
	if !ok {
		return name, args
	}
	var rendered []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rendered = append(rendered, fmt.Sprintf(
			"------- SEARCH\n%s\n=======\n%s\n+++++++ REPLACE",
			argText(m["search"]), argText(m["replace"])))
	}
	out := copyArgs(args)
	out["diff"] = strings.Join(rendered, "\n")
	return name, out
}

// --- ApplyDiff ---

// ApplyDiff handles the "<<<<<<< SEARCH / :start_line: / ======= /
// >>>>>>> REPLACE" block convention carried in an apply_diff tool's diff
// argument.
type ApplyDiff struct{}

var (
	applyBlockRe = regexp.MustCompile(
		`(?s)<<<<<<< SEARCH\n:start_line:[ \t]*(.*?)\n-------\n(.*?)\n=======\n(.*?)\n>>>>>>> REPLACE`)
	// Delimiter lines occurring inside block content are backslash-escaped
	// on render so they cannot terminate the block early.
	applyDelimiterRe = regexp.MustCompile(`(?m)^(<<<<<<< SEARCH|=======|>>>>>>> REPLACE)$`)
)

func applyBlocks(text string) []diffBlock {
	var out []diffBlock
	for _, m := range applyBlockRe.FindAllStringSubmatch(text, -1) {
		out = append(out, diffBlock{startLine: m[1], search: m[2], replace: m[3]})
	}
	return out
}

func (ApplyDiff) DeriveSchemas(doc string, tool types.ChatTool, _ string) ([]types.ChatTool, map[string]string) {
	if tool.Function == nil || tool.Function.Name != "apply_diff" {
		return nil, nil
	}
	blocks := applyBlocks(tooldoc.ExtractLabeledBlock(doc, "Diff format:"))
	if len(blocks) == 0 {
		return nil, nil
	}
	clone, params := cloneTool(tool)
	diff, ok := props(params)["diff"].(map[string]any)
	if !ok {
		return nil, nil
	}
	diff["type"] = "array"
	diff["items"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"start_line": map[string]any{"type": "string", "description": blocks[0].startLine},
			"search":     map[string]any{"type": "string", "description": blocks[0].search},
			"replace":    map[string]any{"type": "string", "description": blocks[0].replace},
		},
		"required": []string{"start_line", "search", "replace"},
	}
	return []types.ChatTool{clone}, nil
}

func (ApplyDiff) ToCall(name string, args any) (string, any) {
	if name != "apply_diff" {
		return name, args
	}
	m, ok := args.(map[string]any)
	if !ok {
		return name, args
	}
	diff, ok := m["diff"].(string)
	if !ok {
		return name, args
	}
	blocks := applyBlocks(diff)
	if len(blocks) == 0 {
		return name, args
	}
	items := make([]any, len(blocks))
	for i, b := range blocks {
		items[i] = map[string]any{"start_line": b.startLine, "search": b.search, "replace": b.replace}
	}
	out := copyArgs(m)
	out["diff"] = items
	return name, out
}

func (ApplyDiff) ToXML(name string, args map[string]any) (string, map[string]any) {
	if name != "apply_diff" {
		return name, args
	}
	items, ok := diffItems(args["diff"])
	if !ok {
		return name, args
	}
	var rendered []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		search := applyDelimiterRe.ReplaceAllString(argText(m["search"]), `\$1`)
		replace := applyDelimiterRe.ReplaceAllString(argText(m["replace"]), `\$1`)
		start := "0"
		if v, ok := m["start_line"]; ok {
			start = argText(v)
		}
		rendered = append(rendered, fmt.Sprintf(
			"<<<<<<< SEARCH\n:start_line:%s\n-------\n%s\n=======\n%s\n>>>>>>> REPLACE",
			start, search, replace))
	}
	out := copyArgs(args)
	out["diff"] = strings.Join(rendered, "\n")
	return name, out
}

// --- UpdateTodoList ---

// UpdateTodoList handles the "[status] item" checklist convention carried in
// an update_todo_list tool's todos argument.
type UpdateTodoList struct{}

var todoLineRe = regexp.MustCompile(`(?m)^\[([^\]]+)\][ \t]*(.+)$`)

func todoLines(text string) []map[string]any {
	var out []map[string]any
	for _, m := range todoLineRe.FindAllStringSubmatch(text, -1) {
		out = append(out, map[string]any{"status": m[1], "item": m[2]})
	}
	return out
}

func (UpdateTodoList) DeriveSchemas(doc string, tool types.ChatTool, _ string) ([]types.ChatTool, map[string]string) {
	if tool.Function == nil || tool.Function.Name != "update_todo_list" {
		return nil, nil
	}
	var lines []map[string]any
	for _, label := range []string{"Usage Example:", "Usage:", "Example:"} {
		if lines = todoLines(tooldoc.ExtractLabeledBlock(doc, label)); len(lines) > 0 {
			break
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}
	clone, params := cloneTool(tool)
	todos, ok := props(params)["todos"].(map[string]any)
	if !ok {
		return nil, nil
	}
	todos["type"] = "array"
	todos["items"] = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item":   map[string]any{"type": "string", "description": argText(lines[0]["item"])},
			"status": map[string]any{"type": "string", "description": argText(lines[0]["status"])},
		},
		"required": []string{"item", "status"},
	}
	required := append(requiredList(params), "todos")
	params["required"] = required
	return []types.ChatTool{clone}, nil
}

func (UpdateTodoList) ToCall(name string, args any) (string, any) {
	if name != "update_todo_list" {
		return name, args
	}
	m, ok := args.(map[string]any)
	if !ok {
		return name, args
	}
	todos, ok := m["todos"].(string)
	if !ok {
		return name, args
	}
	lines := todoLines(todos)
	if len(lines) == 0 {
		return name, args
	}
	items := make([]any, len(lines))
	for i, l := range lines {
		items[i] = l
	}
	out := copyArgs(m)
	out["todos"] = items
	return name, out
}

func (UpdateTodoList) ToXML(name string, args map[string]any) (string, map[string]any) {
	if name != "update_todo_list" {
		return name, args
	}
	items, ok := diffItems(args["todos"])
	if !ok {
		return name, args
	}
	var rendered []string
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		status := strings.TrimSuffix(strings.TrimPrefix(argText(m["status"]), "["), "]")
		if status == "" {
			status = " "
		}
		line := strings.ReplaceAll(argText(m["item"]), "\n", " ")
		rendered = append(rendered, fmt.Sprintf("[%s] %s", status, line))
	}
	out := copyArgs(args)
	out["todos"] = strings.Join(rendered, "\n")
	return name, out
}

// diffItems normalizes an argument that should be a list of objects: a lone
// object is wrapped, a string (already rendered) declines.
func diffItems(v any) ([]any, bool) {
	switch d := v.(type) {
	case []any:
		return d, true
	case map[string]any:
		return []any{d}, true
	}
	return nil, false
}

func props(params map[string]any) map[string]any {
	p, _ := params["properties"].(map[string]any)
	return p
}

func requiredList(params map[string]any) []string {
	switch r := params["required"].(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, e := range r {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
