package extra

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/toolbridge/toolbridge/internal/types"
)

// UseMcpTool handles the MCP routing convention: one declared use_mcp_tool
// multiplexes calls to sub-tools advertised per server in a "Connected MCP
// Servers" prompt section. Schema derivation replaces the routing tool with
// one synthetic schema per discovered sub-tool, named
// "use_mcp_tool.<server>.<tool>", and strips the now-redundant tool listing
// from the prompt.
type UseMcpTool struct{}

var (
	mcpSectionRe = regexp.MustCompile(`(?m)^#\s+Connected MCP Servers\n`)
	// Section end markers, tried in order.
	mcpEndRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^## Creating an MCP Server\n`),
		regexp.MustCompile(`(?m)^\n====\n\n[A-Z][A-Z ]+[A-Z]\n\n`),
	}
	mcpServerRe    = regexp.MustCompile(`(?m)^##\s+([^\(\n]+?)(?:\s+\(` + "`(.+?)`" + `\))?\n`)
	mcpAvailableRe = regexp.MustCompile(`(?m)^### Available Tools\n`)
	mcpCutRes      = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^### Resource Templates\n`),
		regexp.MustCompile(`(?m)^### Direct Resources\n`),
	}
	mcpToolRe     = regexp.MustCompile(`(?m)^-\s+([^:\n]+): ((?s).+?)\n\s+Input Schema:\n`)
	mcpToolNameRe = regexp.MustCompile(`^use_mcp_tool\.([^.]+)\.(.+)$`)
)

// ExtractMCPSection returns the "# Connected MCP Servers" region of doc up
// to the first recognized end marker, or "" when absent.
func ExtractMCPSection(doc string) string {
	loc := mcpSectionRe.FindStringIndex(doc)
	if loc == nil {
		return ""
	}
	rest := doc[loc[1]:]
	for _, re := range mcpEndRes {
		if end := re.FindStringIndex(rest); end != nil {
			return doc[loc[0] : loc[1]+end[0]]
		}
	}
	return doc[loc[0]:]
}

type mcpSubTool struct {
	name        string // composed routing name
	description string
	parameters  any
}

// parseMCPServers reads every "## <server>" sub-section, collecting the
// sub-tools advertised under its last "### Available Tools" heading. The
// returned removals map erases the tool listings from the prompt. A sub-tool
// whose input schema is not decodable JSON fails the whole parse.
func parseMCPServers(md string) ([]mcpSubTool, map[string]string, error) {
	heads := mcpServerRe.FindAllStringSubmatchIndex(md, -1)
	var tools []mcpSubTool
	removals := map[string]string{}
	for i, h := range heads {
		server := strings.TrimSpace(md[h[2]:h[3]])
		bodyEnd := len(md)
		if i+1 < len(heads) {
			bodyEnd = heads[i+1][0]
		}
		body := md[h[1]:bodyEnd]

		// The last "### Available Tools" heading wins; earlier ones belong
		// to quoted examples.
		available := ""
		for _, loc := range mcpAvailableRe.FindAllStringIndex(body, -1) {
			available = body[loc[1]:]
		}
		if available == "" {
			continue
		}
		for _, re := range mcpCutRes {
			if cut := re.FindStringIndex(available); cut != nil {
				available = available[:cut[0]]
				break
			}
		}

		entries := mcpToolRe.FindAllStringSubmatchIndex(available, -1)
		for j, e := range entries {
			name := strings.TrimSpace(available[e[2]:e[3]])
			desc := available[e[4]:e[5]]
			schemaEnd := len(available)
			if j+1 < len(entries) {
				schemaEnd = entries[j+1][0]
			}
			schemaText := strings.TrimSpace(available[e[1]:schemaEnd])

			// Only the first JSON value counts; prose may follow.
			var params any
			dec := json.NewDecoder(strings.NewReader(schemaText))
			if err := dec.Decode(&params); err != nil {
				return nil, nil, err
			}
			tools = append(tools, mcpSubTool{
				name:        "use_mcp_tool." + server + "." + name,
				description: desc,
				parameters:  params,
			})
		}
		removals[available] = ""
	}
	return tools, removals, nil
}

func (UseMcpTool) DeriveSchemas(_ string, tool types.ChatTool, systemPrompt string) ([]types.ChatTool, map[string]string) {
	if tool.Function == nil || tool.Function.Name != "use_mcp_tool" {
		return nil, nil
	}
	section := ExtractMCPSection(systemPrompt)
	if section == "" {
		return nil, nil
	}
	subTools, removals, err := parseMCPServers(section)
	if err != nil || len(subTools) == 0 {
		return nil, nil
	}
	out := make([]types.ChatTool, 0, len(subTools))
	for _, st := range subTools {
		out = append(out, types.ChatTool{
			Type: "function",
			Function: &types.FunctionDef{
				Name:        st.name,
				Description: st.description,
				Parameters:  st.parameters,
			},
		})
	}
	return out, removals
}

// ToCall promotes a decoded use_mcp_tool invocation to the synthetic
// sub-tool name with the inner JSON arguments as the call arguments.
func (UseMcpTool) ToCall(name string, args any) (string, any) {
	if name != "use_mcp_tool" {
		return name, args
	}
	m, ok := args.(map[string]any)
	if !ok {
		return name, args
	}
	server, _ := m["server_name"].(string)
	subTool, _ := m["tool_name"].(string)
	inner, _ := m["arguments"].(string)
	if server == "" || subTool == "" || inner == "" {
		return name, args
	}
	var innerArgs any
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner)), &innerArgs); err != nil {
		return name, args
	}
	return "use_mcp_tool." + server + "." + subTool, innerArgs
}

// ToXML folds a synthetic sub-tool call back into the routing tool's
// argument shape.
func (UseMcpTool) ToXML(name string, args map[string]any) (string, map[string]any) {
	m := mcpToolNameRe.FindStringSubmatch(name)
	if m == nil {
		return name, args
	}
	inner, err := json.Marshal(args)
	if err != nil {
		return name, args
	}
	return "use_mcp_tool", map[string]any{
		"server_name": m[1],
		"tool_name":   m[2],
		"arguments":   string(inner),
	}
}
