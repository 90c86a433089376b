package graph

import (
	"bytes"
	"fmt"
	"io"
)

// WriteSummary writes the current values of the free nodes, and of any
// additional nodes listed in extra, in text format.
func (g *Graph) WriteSummary(w io.Writer, title string, extra ...NodeID) error {

	var buf bytes.Buffer
	buf.WriteString(title)
	buf.WriteString("\n")

	ids := append(g.IDs(Free), extra...)
	for _, id := range ids {
		nd := &g.nodes[id]
		writeRow(&buf, nd.Name, nd.Value)
	}
	fmt.Fprintf(&buf, "%-40s%20d\n", "non-finite log densities", g.Warnings.NonFiniteLogP)
	fmt.Fprintf(&buf, "%-40s%20d\n", "proposals rejected at bounds", g.Warnings.RejectedBounds)
	buf.WriteString("\n")

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteStats writes posterior summaries, one block per node.
func WriteStats(w io.Writer, names []string, stats []Stats) error {

	var buf bytes.Buffer
	for i, st := range stats {
		fmt.Fprintf(&buf, "%s:\n", names[i])
		writeRow(&buf, "  mean", st.Mean)
		writeRow(&buf, "  2.5%", st.Lower)
		writeRow(&buf, "  97.5%", st.Upper)
	}
	buf.WriteString("\n")

	_, err := w.Write(buf.Bytes())
	return err
}

func writeRow(buf *bytes.Buffer, label string, x []float64) {
	fmt.Fprintf(buf, "%-40s", label)
	for _, v := range x {
		fmt.Fprintf(buf, "%20.4f", v)
	}
	buf.WriteString("\n")
}
