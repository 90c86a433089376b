// Package graph represents a joint probability model as an explicit
// directed graph of typed nodes.  Nodes are stored in an arena and refer
// to their parents by integer index.  Parents must be added before their
// children, so insertion order is a topological order and a single
// forward sweep evaluates the whole model.
package graph

import (
	"fmt"
	"math"
)

// NodeID indexes a node in the graph arena.
type NodeID int

// Kind identifies the role of a node in the joint model.
type Kind uint8

// Free, etc. are the available node kinds.
const (
	// Free nodes are the unknowns, with a prior log density.
	Free Kind = iota

	// Deterministic nodes are computed from their parents.
	Deterministic

	// Potential nodes add a soft constraint to the joint log density.
	Potential

	// Observed nodes add the log-likelihood of one data point.
	Observed
)

func (k Kind) String() string {
	switch k {
	case Free:
		return "free"
	case Deterministic:
		return "deterministic"
	case Potential:
		return "potential"
	case Observed:
		return "observed"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Support is the domain of a free node.  The sampler and the mode finder
// move in an unconstrained coordinate system obtained from the support.
type Support uint8

// Real, Positive and Unit are the available supports.
const (
	// Real values are used as is.
	Real Support = iota

	// Positive values are moved on the log scale.
	Positive

	// Unit values lie in (0, 1) and are moved on the logit scale.
	Unit
)

// LogDensity returns the log prior density of a free node value.
type LogDensity func(x []float64) float64

// Transform computes the value of a deterministic node from the values
// of its parents.  The result is written into out.
type Transform func(parents [][]float64, out []float64)

// Likelihood is the log-density contribution of an observed or potential
// node, given the current values of its parents.
type Likelihood interface {
	LogLike(parents [][]float64) float64
}

// LikelihoodFunc adapts an ordinary function to the Likelihood interface.
type LikelihoodFunc func(parents [][]float64) float64

// LogLike calls f(parents).
func (f LikelihoodFunc) LogLike(parents [][]float64) float64 {
	return f(parents)
}

// Node is one vertex of the model graph.
type Node struct {

	// A unique name, used in traces and summaries
	Name string

	// The role of the node
	Kind Kind

	// The domain of a free node
	Support Support

	// Indices of the parent nodes
	Parents []NodeID

	// The current value.  Potential and observed nodes hold their most
	// recent log-density contribution in Value[0].
	Value []float64

	prior     LogDensity
	transform Transform
	like      Likelihood

	// Proposal scale for each element, in unconstrained coordinates
	step []float64

	// Workspace holding the parent values
	pv [][]float64
}

// Graph is a joint model for one fit.
type Graph struct {
	nodes  []Node
	byName map[string]NodeID

	// Number of free scalar coordinates
	dim int

	Warnings warnings
}

type warnings struct {
	NonFiniteLogP int

	// Sampler proposals rejected for reaching the edge of their support
	RejectedBounds int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		byName: make(map[string]NodeID),
	}
}

func (g *Graph) add(nd Node) NodeID {

	if _, ok := g.byName[nd.Name]; ok {
		panic(fmt.Sprintf("graph: duplicate node name %q", nd.Name))
	}

	id := NodeID(len(g.nodes))
	for _, p := range nd.Parents {
		if p < 0 || p >= id {
			panic(fmt.Sprintf("graph: node %q has unknown parent %d", nd.Name, p))
		}
	}

	nd.pv = make([][]float64, len(nd.Parents))
	g.nodes = append(g.nodes, nd)
	g.byName[nd.Name] = id

	return id
}

// AddFree registers an unknown with the given support, starting value and
// prior log density.
func (g *Graph) AddFree(name string, sup Support, init []float64, prior LogDensity) NodeID {

	v := make([]float64, len(init))
	copy(v, init)
	for i := range v {
		v[i] = clampSupport(sup, v[i])
	}

	step := make([]float64, len(v))
	for i := range step {
		step[i] = 0.1
	}

	id := g.add(Node{
		Name:    name,
		Kind:    Free,
		Support: sup,
		Value:   v,
		prior:   prior,
		step:    step,
	})
	g.dim += len(v)

	return id
}

// AddScalar is a convenience wrapper around AddFree for scalar unknowns.
func (g *Graph) AddScalar(name string, sup Support, init float64, prior func(float64) float64) NodeID {
	return g.AddFree(name, sup, []float64{init}, func(x []float64) float64 {
		return prior(x[0])
	})
}

// AddDeterministic registers a node of the given size computed from its
// parents.  The value is computed immediately.
func (g *Graph) AddDeterministic(name string, size int, parents []NodeID, fn Transform) NodeID {

	id := g.add(Node{
		Name:      name,
		Kind:      Deterministic,
		Parents:   parents,
		Value:     make([]float64, size),
		transform: fn,
	})
	g.evalNode(id)

	return id
}

// AddPotential registers a soft constraint on its parents.
func (g *Graph) AddPotential(name string, parents []NodeID, like Likelihood) NodeID {

	return g.add(Node{
		Name:    name,
		Kind:    Potential,
		Parents: parents,
		Value:   make([]float64, 1),
		like:    like,
	})
}

// AddObserved registers the likelihood of one data point.
func (g *Graph) AddObserved(name string, parents []NodeID, like Likelihood) NodeID {

	return g.add(Node{
		Name:    name,
		Kind:    Observed,
		Parents: parents,
		Value:   make([]float64, 1),
		like:    like,
	})
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dim returns the number of free scalar coordinates.
func (g *Graph) Dim() int {
	return g.dim
}

// Node returns the node with the given index.
func (g *Graph) Node(id NodeID) *Node {
	return &g.nodes[id]
}

// Lookup finds a node by name.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Value returns the current value of a node.  The returned slice is owned
// by the graph.
func (g *Graph) Value(id NodeID) []float64 {
	return g.nodes[id].Value
}

// SetValue overwrites the value of a free node and refreshes the
// deterministic nodes.
func (g *Graph) SetValue(id NodeID, v []float64) {

	nd := &g.nodes[id]
	if nd.Kind != Free {
		panic(fmt.Sprintf("graph: SetValue on %s node %q", nd.Kind, nd.Name))
	}
	if len(v) != len(nd.Value) {
		panic(fmt.Sprintf("graph: SetValue on %q with length %d, want %d", nd.Name, len(v), len(nd.Value)))
	}
	for i := range v {
		nd.Value[i] = clampSupport(nd.Support, v[i])
	}
	g.Update()
}

// SetElement overwrites one element of a free node without refreshing the
// deterministic nodes.  Call Update once all elements are set.
func (g *Graph) SetElement(id NodeID, i int, x float64) {

	nd := &g.nodes[id]
	if nd.Kind != Free {
		panic(fmt.Sprintf("graph: SetElement on %s node %q", nd.Kind, nd.Name))
	}
	nd.Value[i] = clampSupport(nd.Support, x)
}

// IDs returns the indices of all nodes of the given kind, in insertion
// order.
func (g *Graph) IDs(kind Kind) []NodeID {

	var ids []NodeID
	for i := range g.nodes {
		if g.nodes[i].Kind == kind {
			ids = append(ids, NodeID(i))
		}
	}

	return ids
}

func (g *Graph) parentValues(nd *Node) [][]float64 {
	for j, p := range nd.Parents {
		nd.pv[j] = g.nodes[p].Value
	}
	return nd.pv
}

func (g *Graph) evalNode(id NodeID) {
	nd := &g.nodes[id]
	nd.transform(g.parentValues(nd), nd.Value)
}

// Update recomputes all deterministic nodes in topological order.
func (g *Graph) Update() {
	for i := range g.nodes {
		if g.nodes[i].Kind == Deterministic {
			g.evalNode(NodeID(i))
		}
	}
}

// LogP refreshes the deterministic nodes and returns the joint log
// density: free priors, potentials and observation likelihoods.
func (g *Graph) LogP() float64 {

	// Deterministic nodes are always refreshed, even once the density is
	// known to be zero, so that node values stay consistent.
	var lp float64
	for i := range g.nodes {
		nd := &g.nodes[i]
		switch nd.Kind {
		case Free:
			if !inSupport(nd.Support, nd.Value) {
				lp = math.Inf(-1)
				continue
			}
			lp += nd.prior(nd.Value)
		case Deterministic:
			nd.transform(g.parentValues(nd), nd.Value)
		case Potential, Observed:
			v := nd.like.LogLike(g.parentValues(nd))
			nd.Value[0] = v
			lp += v
		}
	}

	if math.IsNaN(lp) {
		g.Warnings.NonFiniteLogP++
		return math.Inf(-1)
	}

	return lp
}

// logJacobian returns the log absolute derivative of the map from
// unconstrained coordinates to the value of a free node.
func (g *Graph) logJacobian() float64 {

	var lj float64
	for i := range g.nodes {
		nd := &g.nodes[i]
		if nd.Kind != Free {
			continue
		}
		for _, x := range nd.Value {
			lj += supportLogJacobian(nd.Support, x)
		}
	}

	return lj
}

// Unconstrained writes the free coordinates, mapped to the real line, into
// y and returns it.  If y is nil a new slice is allocated.
func (g *Graph) Unconstrained(y []float64) []float64 {

	if y == nil {
		y = make([]float64, g.dim)
	}

	j := 0
	for i := range g.nodes {
		nd := &g.nodes[i]
		if nd.Kind != Free {
			continue
		}
		for _, x := range nd.Value {
			y[j] = toUnconstrained(nd.Support, x)
			j++
		}
	}

	return y
}

// SetUnconstrained sets all free coordinates from y, which is laid out as
// returned by Unconstrained, and refreshes the deterministic nodes.
func (g *Graph) SetUnconstrained(y []float64) {

	if len(y) != g.dim {
		panic(fmt.Sprintf("graph: SetUnconstrained with length %d, want %d", len(y), g.dim))
	}

	j := 0
	for i := range g.nodes {
		nd := &g.nodes[i]
		if nd.Kind != Free {
			continue
		}
		for k := range nd.Value {
			nd.Value[k] = fromUnconstrained(nd.Support, y[j])
			j++
		}
	}
	g.Update()
}

// Snapshot copies the values of all free nodes.
func (g *Graph) Snapshot() [][]float64 {

	var s [][]float64
	for i := range g.nodes {
		if g.nodes[i].Kind == Free {
			v := make([]float64, len(g.nodes[i].Value))
			copy(v, g.nodes[i].Value)
			s = append(s, v)
		}
	}

	return s
}

// Restore sets the free nodes from a value returned by Snapshot.
func (g *Graph) Restore(s [][]float64) {

	j := 0
	for i := range g.nodes {
		if g.nodes[i].Kind == Free {
			copy(g.nodes[i].Value, s[j])
			j++
		}
	}
	g.Update()
}

const (
	// Keep unit-interval values away from the boundary so that the
	// logit transform stays finite.
	unitEps = 1e-12

	// Smallest value kept for positive nodes.
	posMin = 1e-300
)

func clampSupport(sup Support, x float64) float64 {
	switch sup {
	case Positive:
		if x < posMin {
			return posMin
		}
	case Unit:
		if x < unitEps {
			return unitEps
		}
		if x > 1-unitEps {
			return 1 - unitEps
		}
	}
	return x
}

// atBound reports whether x was clamped to the edge of its support.
func atBound(sup Support, x float64) bool {
	switch sup {
	case Positive:
		return x <= posMin
	case Unit:
		return x <= unitEps || x >= 1-unitEps
	}
	return false
}

func inSupport(sup Support, v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) {
			return false
		}
		switch sup {
		case Positive:
			if x <= 0 || math.IsInf(x, 1) {
				return false
			}
		case Unit:
			if x <= 0 || x >= 1 {
				return false
			}
		}
	}
	return true
}

func toUnconstrained(sup Support, x float64) float64 {
	switch sup {
	case Positive:
		return math.Log(x)
	case Unit:
		return Logit(x)
	default:
		return x
	}
}

func fromUnconstrained(sup Support, y float64) float64 {
	switch sup {
	case Positive:
		return clampSupport(sup, math.Exp(y))
	case Unit:
		return clampSupport(sup, InvLogit(y))
	default:
		return y
	}
}

func supportLogJacobian(sup Support, x float64) float64 {
	switch sup {
	case Positive:
		return math.Log(x)
	case Unit:
		return math.Log(x) + math.Log1p(-x)
	default:
		return 0
	}
}
