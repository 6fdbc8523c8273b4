package catalog

import (
	"fmt"
	"io"
	"strings"
)

const treeIndent = "   "

// Tree writes the catalog hierarchy, one node per line. Entries with
// parameters list the parameter names in parentheses.
func (c *Catalog) Tree(w io.Writer) error {
	return writeTree(w, c.Root, 0)
}

func writeTree(w io.Writer, n *Node, level int) error {
	for _, child := range n.Children {
		if _, err := fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(treeIndent, level), child.Name, paramSuffix(child)); err != nil {
			return err
		}
		if err := writeTree(w, child, level+1); err != nil {
			return err
		}
	}
	return nil
}

func paramSuffix(n *Node) string {
	if n.Entry == nil || len(n.Entry.Parameters) == 0 {
		return ""
	}
	return " (" + strings.Join(n.Entry.ParameterNames(), ", ") + ")"
}

// Describe writes the entries directly below path with their descriptions
// and the range and default of every parameter.
func (c *Catalog) Describe(w io.Writer, path ...string) error {
	node, err := c.Lookup(path...)
	if err != nil {
		return err
	}

	children := node.Children
	if node.Entry != nil {
		children = []*Node{node}
	}

	for _, child := range children {
		if child.Entry == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s: %s\n", child.Name, paramSuffix(child), child.Description); err != nil {
			return err
		}
		for _, p := range child.Entry.Parameters {
			if _, err := fmt.Fprintf(w, "    %s: %s\n", p.Name, describeParameter(p)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

func describeParameter(p Parameter) string {
	var parts []string
	switch {
	case p.Min != nil || p.Max != nil:
		parts = append(parts, formatBound(p.Min)+" ... "+formatBound(p.Max))
	case len(p.Allowed) > 0:
		parts = append(parts, "one of "+p.allowedList())
	}
	parts = append(parts, "default: "+formatBound(p.Default))
	return strings.Join(parts, " ")
}

func formatBound(v interface{}) string {
	if v == nil {
		return "-"
	}
	return formatValue(v)
}
