package tooldoc

import (
	"regexp"
	"strings"
)

// ParamNode is one node of the indented parameter bullet tree, e.g.
//
//	- args: Contains one or more file elements
//	  - file: One file element
//	    - path: (required) File path
type ParamNode struct {
	Name        string
	Description string
	Required    bool
	Children    []*ParamNode
	indent      int
}

var bulletRe = regexp.MustCompile(`^(\s*)-\s*(\w+)\s*:\s*(.*)$`)

// ParseParamBullets parses an indented bullet list into a forest of
// ParamNodes. Non-bullet lines continue the previous node's description.
func ParseParamBullets(md string) []*ParamNode {
	var roots []*ParamNode
	var stack []*ParamNode

	for _, line := range strings.Split(md, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := bulletRe.FindStringSubmatch(line)
		if m == nil {
			if len(stack) > 0 {
				last := stack[len(stack)-1]
				last.Description = strings.TrimSpace(last.Description + "\n" + strings.TrimSpace(line))
			}
			continue
		}
		indent := len(strings.ReplaceAll(m[1], "\t", "    "))
		desc := strings.TrimSpace(m[3])
		required := !strings.Contains(strings.ToLower(desc), "(optional)")
		desc = strings.TrimSpace(strings.NewReplacer("(required)", "", "(Required)", "").Replace(desc))

		node := &ParamNode{Name: m[2], Description: desc, Required: required, indent: indent}
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
		stack = append(stack, node)
	}
	return roots
}

// FlattenParams reduces a bullet forest to a description lookup and a
// required-name set, both keyed by lowercase leaf name. The lookup is
// name-based rather than path-aware: two differently scoped parameters
// sharing a name collide, first one wins.
func FlattenParams(nodes []*ParamNode) (descs map[string]string, required map[string]bool) {
	descs = make(map[string]string)
	required = make(map[string]bool)

	var walk func(n *ParamNode)
	walk = func(n *ParamNode) {
		key := strings.ToLower(n.Name)
		if n.Description != "" {
			if _, ok := descs[key]; !ok {
				descs[key] = n.Description
			}
		}
		if n.Required {
			required[key] = true
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return descs, required
}
