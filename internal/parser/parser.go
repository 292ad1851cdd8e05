// Package parser orchestrates the protocol adaptation for one request: it
// extracts tool documentation from the system prompt, infers native tool
// schemas, and converts between embedded XML invocations and structured
// tool calls in both message history and completions.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/toolbridge/toolbridge/internal/extra"
	"github.com/toolbridge/toolbridge/internal/schema"
	"github.com/toolbridge/toolbridge/internal/tooldoc"
	"github.com/toolbridge/toolbridge/internal/types"
	"github.com/toolbridge/toolbridge/internal/xmlcall"
)

// Parser holds the schema set derived from one system prompt. It is built
// once per request and read-only afterwards.
type Parser struct {
	// Generic schemas straight from inference, keyed for decode lookups.
	original []types.ChatTool
	// Schemas after extra-parser overrides; prune targets.
	modified []types.ChatTool
	// Strict variants attached to the outgoing request (equal to modified
	// when strict mode is off).
	outgoing []types.ChatTool

	extras []extra.Parser
	strict bool
}

// Build parses the tool documentation out of systemPrompt and returns the
// Parser plus the rewritten prompt: formatting instructions and duplicated
// documentation blocks removed, XML usage samples replaced by their JSON
// call equivalents. Failure to parse any individual tool falls back to an
// empty schema; an unsupported schema under strict mode fails the request.
func Build(systemPrompt string, strict bool) (*Parser, string, error) {
	newPrompt := systemPrompt
	if formatting := tooldoc.ExtractSection(systemPrompt, "Tool Use Formatting"); formatting != "" {
		newPrompt = strings.Replace(newPrompt, formatting, "", 1)
	}
	toolsMD := tooldoc.ExtractSection(systemPrompt, "Tools")
	newPrompt = tooldoc.RemoveLabeledBlocks(newPrompt)

	docs := tooldoc.ParseToolsSection(toolsMD)
	p := &Parser{strict: strict}

	for _, doc := range docs {
		descs, required := tooldoc.FlattenParams(tooldoc.ParseParamBullets(doc.ParamsText))
		tool := types.ChatTool{
			Type: "function",
			Function: &types.FunctionDef{
				Name:        doc.Name,
				Description: doc.Description,
				Parameters:  schema.Infer(doc.XMLSamples, descs, required),
			},
		}
		p.original = append(p.original, tool)

		overridden := false
		for _, e := range extra.Registry() {
			derived, removals := e.DeriveSchemas(doc.RawBlock, tool, newPrompt)
			if derived == nil {
				continue
			}
			p.extras = append(p.extras, e)
			p.modified = append(p.modified, derived...)
			for before, after := range removals {
				newPrompt = strings.ReplaceAll(newPrompt, before, after)
			}
			overridden = true
			break
		}
		if !overridden {
			p.modified = append(p.modified, tool)
		}
	}

	if strict {
		for _, tool := range p.modified {
			params, _ := tool.Function.Parameters.(map[string]any)
			strictParams, err := schema.Strictify(params)
			if err != nil {
				return nil, "", fmt.Errorf("tool %s: %w", tool.Function.Name, err)
			}
			fn := *tool.Function
			fn.Parameters = strictParams
			fn.Strict = types.BoolPtr(true)
			p.outgoing = append(p.outgoing, types.ChatTool{Type: tool.Type, Function: &fn})
		}
	} else {
		p.outgoing = p.modified
	}

	// Rewrite each XML usage sample into its JSON call equivalent so the
	// prompt demonstrates the native convention.
	for _, doc := range docs {
		for _, sample := range doc.XMLSamples {
			if rewritten, ok := p.sampleAsJSON(doc.Name, sample); ok {
				newPrompt = strings.ReplaceAll(newPrompt, sample, rewritten)
			}
		}
	}

	return p, newPrompt, nil
}

// Schemas returns the tool list to attach to the outgoing native request.
func (p *Parser) Schemas() []types.ChatTool { return p.outgoing }

// HasTools reports whether any tool documentation was found.
func (p *Parser) HasTools() bool { return len(p.outgoing) > 0 }

func (p *Parser) genericParams(name string) (map[string]any, bool) {
	for _, t := range p.original {
		if t.Function.Name == name {
			params, _ := t.Function.Parameters.(map[string]any)
			return params, true
		}
	}
	return nil, false
}

func (p *Parser) modifiedParams(name string) (map[string]any, bool) {
	for _, t := range p.modified {
		if t.Function.Name == name {
			params, _ := t.Function.Parameters.(map[string]any)
			return params, true
		}
	}
	return nil, false
}

// toCall runs a decoded invocation through the extra-parser chain and
// marshals the final arguments.
func (p *Parser) toCall(name string, args any) (string, string, error) {
	for _, e := range p.extras {
		name, args = e.ToCall(name, args)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", "", err
	}
	return name, string(raw), nil
}

// toXML prunes strict-mode nulls from native arguments and runs the result
// back through the extra-parser chain.
func (p *Parser) toXML(name, arguments string) (string, any, error) {
	var args any
	if err := json.Unmarshal([]byte(strings.TrimSpace(arguments)), &args); err != nil {
		return "", nil, err
	}
	if params, ok := p.modifiedParams(name); ok {
		args = schema.PruneNulls(args, params)
	}
	if m, ok := args.(map[string]any); ok {
		for _, e := range p.extras {
			name, m = e.ToXML(name, m)
		}
		args = m
	}
	return name, args, nil
}

// sampleAsJSON converts one XML usage sample to "<name> arguments: <json>".
func (p *Parser) sampleAsJSON(toolName, sample string) (string, bool) {
	root, err := schema.ParseSample(sample)
	if err != nil || root.Tag != toolName {
		return "", false
	}
	params, ok := p.genericParams(toolName)
	if !ok {
		return "", false
	}
	args, err := xmlcall.ValueFromElement(root, params)
	if err != nil {
		return "", false
	}
	name, arguments, err := p.toCall(toolName, args)
	if err != nil {
		return "", false
	}
	return name + " arguments: " + arguments, true
}

// RewriteHistoryToCalls converts embedded-XML assistant turns in a raw
// message list into structured tool-call turns and re-tags the user turns
// that carry their results as tool-result turns. The input is never mutated.
func (p *Parser) RewriteHistoryToCalls(messages []any) []any {
	out := deepCopyList(messages)
	names := make([]string, len(p.original))
	for i, t := range p.original {
		names[i] = t.Function.Name
	}

	var lastIDs, lastNames []string
	for _, raw := range out {
		msg, ok := raw.(map[string]any)
		if !ok {
			lastIDs, lastNames = nil, nil
			continue
		}
		role, _ := msg["role"].(string)

		if role == "assistant" {
			if content, ok := msg["content"].(string); ok && content != "" {
				var calls []any
				lastIDs, lastNames = nil, nil
				for _, block := range tooldoc.ExtractXMLBlocks(content, names) {
					name := rootTag(block)
					params, ok := p.genericParams(name)
					if !ok {
						continue
					}
					args, id, err := xmlcall.Decode(block, name, params)
					if err != nil {
						continue // degrade to plain text
					}
					callName, arguments, err := p.toCall(name, args)
					if err != nil {
						continue
					}
					calls = append(calls, map[string]any{
						"type": "function",
						"id":   id,
						"function": map[string]any{
							"name":      callName,
							"arguments": arguments,
						},
					})
					lastIDs = append(lastIDs, id)
					lastNames = append(lastNames, callName)
					content = strings.ReplaceAll(content, block, "")
				}
				msg["content"] = content
				if len(calls) > 0 {
					msg["tool_calls"] = calls
				}
				continue
			}
		}

		if role == "user" {
			if head, ok := types.FirstContentText(msg["content"]); ok {
				if len(lastIDs) > 0 && toolResultHead(head, lastNames[0]) {
					msg["role"] = "tool"
					msg["tool_call_id"] = lastIDs[0]
					lastIDs = lastIDs[1:]
					lastNames = lastNames[1:]
					continue
				}
				if strings.HasPrefix(head, "[ERROR] ") {
					if section := tooldoc.ExtractSection(head, "Reminder: Instructions for Tool Use"); section != "" {
						msg["content"] = types.SetFirstContentText(msg["content"], strings.Replace(head, section, "", 1))
					}
				}
			}
		}

		lastIDs, lastNames = nil, nil
	}
	return out
}

// toolResultHead reports whether a user turn's leading text is the bracketed
// result header for the named tool, e.g. "[read_file for 'a.txt'] Result:".
func toolResultHead(head, name string) bool {
	matched, _ := regexp.MatchString(`^\[`+regexp.QuoteMeta(name)+`\b`, head)
	return matched
}

// RenderCallAsXML renders one complete native tool call as loose XML,
// prefixed by the accumulated reasoning wrapped in think tags when present.
// Returns false when the call has no schema entry; such calls are dropped
// rather than guessed at.
func (p *Parser) RenderCallAsXML(name, arguments, id, reasoning string) (string, bool) {
	callName, args, err := p.toXML(name, arguments)
	if err != nil {
		return "", false
	}
	if _, ok := p.genericParams(callName); !ok {
		return "", false
	}
	if id == "" {
		id = xmlcall.SynthesizeID(callName + arguments)
	}
	xml := xmlcall.Encode(callName, args, id)
	if reasoning != "" {
		xml = "<think>\n" + reasoning + "\n</think>\n" + xml
	}
	return xml, true
}

// RewriteCompletionToXML converts the tool calls of a non-streamed
// completion into embedded XML appended to each choice's content. A
// tool-call finish reason becomes a generic stop so the client never sees a
// tool-call-specific terminal state. The input is never mutated.
func (p *Parser) RewriteCompletionToXML(body map[string]any) map[string]any {
	out := deepCopyMap(body)
	choices, _ := out["choices"].([]any)
	for _, rawChoice := range choices {
		choice, ok := rawChoice.(map[string]any)
		if !ok {
			continue
		}
		msg, ok := choice["message"].(map[string]any)
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		calls, _ := msg["tool_calls"].([]any)
		if role != "assistant" || len(calls) == 0 {
			continue
		}
		var parts []string
		for _, rawCall := range calls {
			call, ok := rawCall.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := call["function"].(map[string]any)
			name, _ := fn["name"].(string)
			arguments, _ := fn["arguments"].(string)
			id, _ := call["id"].(string)
			if xml, ok := p.RenderCallAsXML(name, arguments, id, ""); ok {
				parts = append(parts, xml)
			}
		}
		content, _ := msg["content"].(string)
		msg["content"] = content + strings.Join(parts, "\n")
		delete(msg, "tool_calls")
		if fr, _ := choice["finish_reason"].(string); fr == "tool_calls" {
			choice["finish_reason"] = "stop"
		}
	}
	return out
}

var rootTagRe = regexp.MustCompile(`^<(\w+)`)

func rootTag(block string) string {
	m := rootTagRe.FindStringSubmatch(strings.TrimSpace(block))
	if m == nil {
		return ""
	}
	return m[1]
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

func deepCopyMap(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return in
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}
