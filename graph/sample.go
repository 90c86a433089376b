package graph

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Status describes how far a sampling run got.
type Status uint8

// Converged, etc. are the possible outcomes of a sampling run.
const (
	// Converged means all requested iterations were drawn.
	Converged Status = iota

	// PartialResults means the run stopped early but retained some draws.
	PartialResults

	// Failed means no draws were retained.
	Failed
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case PartialResults:
		return "partial"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", s)
	}
}

// SampleSettings controls a Metropolis run.
type SampleSettings struct {

	// Total number of iterations, including burn-in
	Iter int

	// Number of initial iterations to discard
	Burn int

	// Retain every Thin'th draw after burn-in
	Thin int

	// Seed for the random number generator
	Seed uint64

	// During burn-in, proposal scales are tuned every TuneInterval
	// iterations.  Zero means 100.
	TuneInterval int

	// If not nil, a progress bar is drawn here
	Progress io.Writer

	// Label for the progress bar
	Label string
}

// Diagnostics reports on the behavior of a sampling run.
type Diagnostics struct {

	// Iterations completed, including burn-in
	Iterations int

	// Post burn-in acceptance rate for each free node
	Acceptance map[string]float64

	// Log density at the final state
	LogP float64
}

// MeanAcceptance returns the average acceptance rate over free nodes.
func (d Diagnostics) MeanAcceptance() float64 {

	if len(d.Acceptance) == 0 {
		return 0
	}

	var s float64
	for _, a := range d.Acceptance {
		s += a
	}

	return s / float64(len(d.Acceptance))
}

// SampleResult is the outcome of a sampling run.  Err records why a run
// that did not converge was stopped.
type SampleResult struct {
	Status      Status
	Trace       *Trace
	TraceLen    int
	Diagnostics Diagnostics
	Err         error
}

// Sample runs a componentwise random-walk Metropolis sampler over the free
// nodes, moving each scalar coordinate in its unconstrained space.  The
// values of the nodes in record are retained after burn-in; if record is
// nil all free and deterministic nodes are retained.  Panics raised while
// evaluating the model and context cancellation end the run early; the
// draws retained up to that point are returned, and after a panic the free
// nodes are reset to their values at the end of the last complete
// iteration.
func (g *Graph) Sample(ctx context.Context, s SampleSettings, record []NodeID) (res SampleResult) {

	if record == nil {
		for i := range g.nodes {
			if k := g.nodes[i].Kind; k == Free || k == Deterministic {
				record = append(record, NodeID(i))
			}
		}
	}

	thin := s.Thin
	if thin < 1 {
		thin = 1
	}
	tune := s.TuneInterval
	if tune < 1 {
		tune = 100
	}

	tr := newTrace(record)
	res.Trace = tr
	free := g.IDs(Free)
	acc := make([]int, len(free))
	tries := make([]int, len(free))

	var bar *progressbar.ProgressBar
	if s.Progress != nil {
		bar = progressbar.NewOptions(s.Iter,
			progressbar.OptionSetWriter(s.Progress),
			progressbar.OptionSetDescription(s.Label),
			progressbar.OptionThrottle(250*time.Millisecond))
	}

	src := rand.NewSource(s.Seed)
	rng := rand.New(src)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	// Free values at the end of the last complete iteration
	last := g.Snapshot()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("sampler stopped at iteration %d: %v", res.Diagnostics.Iterations, r)
			func() {
				defer func() { _ = recover() }()
				g.Restore(last)
			}()
		}
		res.TraceLen = tr.Len()
		switch {
		case res.TraceLen == 0:
			res.Status = Failed
			if res.Err == nil {
				res.Err = ErrNoTrace
			}
		case res.Err != nil || res.Diagnostics.Iterations < s.Iter:
			res.Status = PartialResults
		default:
			res.Status = Converged
		}
		res.Diagnostics.Acceptance = make(map[string]float64, len(free))
		for j, id := range free {
			if tries[j] > 0 {
				res.Diagnostics.Acceptance[g.nodes[id].Name] = float64(acc[j]) / float64(tries[j])
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}
	}()

	lp := g.LogP() + g.logJacobian()
	res.Diagnostics.LogP = lp

	for it := 0; it < s.Iter; it++ {

		if err := ctx.Err(); err != nil {
			res.Err = err
			return res
		}

		for j, id := range free {
			nd := &g.nodes[id]
			for k := range nd.Value {
				old := nd.Value[k]
				y := toUnconstrained(nd.Support, old) + nd.step[k]*norm.Rand()
				x := fromUnconstrained(nd.Support, y)
				tries[j]++
				if atBound(nd.Support, x) {
					g.Warnings.RejectedBounds++
					continue
				}
				nd.Value[k] = x

				lpn := g.LogP() + g.logJacobian()
				d := lpn - lp
				if !math.IsInf(lpn, -1) && (d >= 0 || math.Log(rng.Float64()) < d) {
					lp = lpn
					acc[j]++
				} else {
					nd.Value[k] = old
					g.Update()
				}
			}
		}

		// Tune the proposal scales during burn-in
		if it < s.Burn && (it+1)%tune == 0 {
			for j, id := range free {
				g.tuneStep(id, acc[j], tries[j])
				acc[j], tries[j] = 0, 0
			}
		}
		if it+1 == s.Burn {
			for j := range free {
				acc[j], tries[j] = 0, 0
			}
		}

		if it >= s.Burn && (it-s.Burn)%thin == 0 {
			tr.record(g)
		}

		res.Diagnostics.Iterations = it + 1
		res.Diagnostics.LogP = lp
		last = g.Snapshot()
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	return res
}

// tuneStep rescales the proposal of a free node based on its recent
// acceptance rate.
func (g *Graph) tuneStep(id NodeID, acc, tries int) {

	if tries == 0 {
		return
	}

	rate := float64(acc) / float64(tries)
	var f float64
	switch {
	case rate < 0.001:
		f = 0.1
	case rate < 0.05:
		f = 0.5
	case rate < 0.2:
		f = 0.9
	case rate > 0.95:
		f = 10
	case rate > 0.75:
		f = 2
	case rate > 0.5:
		f = 1.1
	default:
		return
	}

	nd := &g.nodes[id]
	for k := range nd.step {
		nd.step[k] = math.Min(math.Max(nd.step[k]*f, minStep), maxStep)
	}
}

// Bounds on proposal scales in unconstrained coordinates
const (
	minStep = 1e-8
	maxStep = 10
)
