package graph

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrNoTrace is returned when a summary is requested for a node that has
// no retained draws.
var ErrNoTrace = errors.New("no retained draws")

// Trace holds the retained draws of a set of nodes.
type Trace struct {
	ids   []NodeID
	pos   map[NodeID]int
	draws [][][]float64
}

func newTrace(ids []NodeID) *Trace {

	tr := &Trace{
		ids:   ids,
		pos:   make(map[NodeID]int, len(ids)),
		draws: make([][][]float64, len(ids)),
	}
	for j, id := range ids {
		tr.pos[id] = j
	}

	return tr
}

func (tr *Trace) record(g *Graph) {
	for j, id := range tr.ids {
		v := make([]float64, len(g.nodes[id].Value))
		copy(v, g.nodes[id].Value)
		tr.draws[j] = append(tr.draws[j], v)
	}
}

// Len returns the number of retained draws.
func (tr *Trace) Len() int {
	if tr == nil || len(tr.draws) == 0 {
		return 0
	}
	return len(tr.draws[0])
}

// Draws returns the retained draws for a node, one slice per draw.
func (tr *Trace) Draws(id NodeID) [][]float64 {
	if tr == nil {
		return nil
	}
	j, ok := tr.pos[id]
	if !ok {
		return nil
	}
	return tr.draws[j]
}

// Column returns the retained draws of element i of a node.
func (tr *Trace) Column(id NodeID, i int) []float64 {

	d := tr.Draws(id)
	x := make([]float64, len(d))
	for k := range d {
		x[k] = d[k][i]
	}

	return x
}

// Stats summarizes the posterior of a vector-valued node elementwise.
type Stats struct {
	Mean  []float64
	Std   []float64
	Lower []float64
	Upper []float64
}

// Probability mass outside the reported credible interval
const intervalAlpha = 0.05

// Summarize returns the posterior mean, standard deviation and equal-tailed
// 95% interval for each element of a node.
func (tr *Trace) Summarize(id NodeID) (Stats, error) {

	d := tr.Draws(id)
	if len(d) == 0 {
		return Stats{}, ErrNoTrace
	}

	n := len(d[0])
	st := Stats{
		Mean:  make([]float64, n),
		Std:   make([]float64, n),
		Lower: make([]float64, n),
		Upper: make([]float64, n),
	}

	for i := 0; i < n; i++ {
		x := tr.Column(id, i)
		st.Mean[i], st.Std[i] = stat.PopMeanStdDev(x, nil)
		sort.Float64s(x)
		st.Lower[i] = stat.Quantile(intervalAlpha/2, stat.Empirical, x, nil)
		st.Upper[i] = stat.Quantile(1-intervalAlpha/2, stat.Empirical, x, nil)
	}

	return st, nil
}

// PointStats returns a degenerate summary at the current value of a node,
// used when there are no draws to summarize.
func PointStats(v []float64) Stats {

	st := Stats{
		Mean:  make([]float64, len(v)),
		Std:   make([]float64, len(v)),
		Lower: make([]float64, len(v)),
		Upper: make([]float64, len(v)),
	}
	copy(st.Mean, v)
	copy(st.Lower, v)
	copy(st.Upper, v)

	return st
}
