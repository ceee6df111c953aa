package graph

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Export formats.
const (
	FormatJSON    = "json"
	FormatGraphML = "graphml"
	FormatDOT     = "dot"
)

// Export serializes the view in the given format.
func (g *Graph) Export(format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(g, "", "  ")
	case FormatGraphML:
		return g.exportGraphML()
	case FormatDOT:
		return g.exportDOT()
	default:
		return nil, terrors.Validation(fmt.Sprintf("unknown export format %q", format))
	}
}

// sortedNodeIDs gives exports a deterministic order.
func (g *Graph) sortedNodeIDs() []int64 {
	ids := make([]int64, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (g *Graph) exportGraphML() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">` + "\n")
	b.WriteString(`  <key id="title" for="node" attr.name="title" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="node_type" for="node" attr.name="node_type" attr.type="string"/>` + "\n")
	b.WriteString(`  <key id="importance" for="node" attr.name="importance" attr.type="double"/>` + "\n")
	b.WriteString(`  <key id="weight" for="edge" attr.name="weight" attr.type="double"/>` + "\n")
	b.WriteString(`  <graph id="tessera" edgedefault="directed">` + "\n")

	for _, id := range g.sortedNodeIDs() {
		n := g.Nodes[id]
		fmt.Fprintf(&b, `    <node id="n%d">`+"\n", id)
		fmt.Fprintf(&b, `      <data key="title">%s</data>`+"\n", xmlEscape(n.Title))
		fmt.Fprintf(&b, `      <data key="node_type">%s</data>`+"\n", xmlEscape(n.Type))
		fmt.Fprintf(&b, `      <data key="importance">%g</data>`+"\n", n.Importance)
		b.WriteString("    </node>\n")
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, `    <edge source="n%d" target="n%d">`+"\n", e.From, e.To)
		fmt.Fprintf(&b, `      <data key="weight">%g</data>`+"\n", e.Weight)
		b.WriteString("    </edge>\n")
	}

	b.WriteString("  </graph>\n</graphml>\n")
	return b.Bytes(), nil
}

func (g *Graph) exportDOT() ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("digraph tessera {\n")
	for _, id := range g.sortedNodeIDs() {
		n := g.Nodes[id]
		fmt.Fprintf(&b, "  n%d [label=%s, type=%s];\n",
			id, dotQuote(n.Title), dotQuote(n.Type))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&b, "  n%d -> n%d [weight=%g];\n", e.From, e.To, e.Weight)
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// xmlEscape applies UTF-8 XML character escaping.
func xmlEscape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// dotQuote wraps a string in DOT double quotes, escaping embedded ones.
func dotQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}
