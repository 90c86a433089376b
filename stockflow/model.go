// Package stockflow implements the compartmental stock-and-flow model of
// bednet distribution for one country, the observation models linking it
// to the data, and the driver that fits it.
//
// Nets are manufactured into a warehouse stock and distributed to
// households, where they age in yearly cohorts and are lost at a constant
// rate.  Household stock and population determine coverage through a
// zero-inflated exponential saturation curve.
package stockflow

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
	"github.com/kshedden/stockflow/priors"
)

// Stage is the state of a country fit.
type Stage uint8

// Assembled, etc. are the stages of a fit, in order.
const (
	Assembled Stage = iota
	ModeFound
	Sampled
	Summarized
)

func (s Stage) String() string {
	switch s {
	case Assembled:
		return "assembled"
	case ModeFound:
		return "mode found"
	case Sampled:
		return "sampled"
	case Summarized:
		return "summarized"
	default:
		return fmt.Sprintf("stage(%d)", s)
	}
}

// Nodes holds the indices of the named nodes of a country model.
type Nodes struct {

	// Probability that a net is lost in a year
	Pi graph.NodeID

	// Error of manufacturer reports, on the log scale
	ManuError graph.NodeID

	// Error and bias of administrative distribution reports, on the log
	// scale
	AdminError graph.NodeID
	AdminBias  graph.NodeID

	// Inflation of flow survey errors for recall
	RecallBias graph.NodeID

	// Error of coverage values without a survey standard error
	ReportCoverageError graph.NodeID

	// Coverage curve rate and zero inflation
	Eta  graph.NodeID
	Zeta graph.NodeID

	// Initial warehouse stock
	W0 graph.NodeID

	// Yearly series
	Manufactured graph.NodeID
	Distributed  graph.NodeID
	NonLLIN      graph.NodeID
	Warehouse    graph.NodeID
	Cohorts      graph.NodeID
	Household    graph.NodeID
	Coverage     graph.NodeID
	ITNCoverage  graph.NodeID
	Waiting      graph.NodeID
}

// Model is the joint model for one country.
type Model struct {
	cd    *data.CountryData
	cfg   *config.Config
	g     *graph.Graph
	nt    int
	stage Stage

	// Survey design effect used to build coverage standard errors
	deff float64

	obs []*obsRecord

	fallbacks []string

	Nodes
}

// Graph returns the model graph.
func (m *Model) Graph() *graph.Graph {
	return m.g
}

// Stage returns the current stage of the fit.
func (m *Model) Stage() Stage {
	return m.stage
}

// hyper returns the moments of an empirical hyperparameter, falling back
// to the weak default when the prior has no usable spread.  Fallbacks are
// recorded as "prior.key".
func (m *Model) hyper(p *priors.Prior, name, key string) priors.Moments {
	if h, ok := p.Get(key); ok && h.Std > 0 && !math.IsNaN(h.Mu) {
		return h
	}
	m.fallbacks = append(m.fallbacks, name+"."+key)
	h, _ := priors.Fallback(name).Get(key)
	return h
}

// Fallbacks returns the hyperparameters that were replaced by their weak
// defaults.
func (m *Model) Fallbacks() []string {
	return m.fallbacks
}

// betaPrior returns the log density of a beta distribution matching the
// moments of m.
func betaPrior(m priors.Moments, name, key string) func(float64) float64 {
	a, b, ok := graph.BetaMoments(m.Mu, m.Std*m.Std)
	if !ok {
		fm, _ := priors.Fallback(name).Get(key)
		a, b, _ = graph.BetaMoments(fm.Mu, fm.Var)
	}
	return func(x float64) float64 {
		return graph.BetaLike(x, a, b)
	}
}

// gammaPrior returns the log density of a gamma distribution with the
// given mean and standard deviation.
func gammaPrior(mu, sd float64) func(float64) float64 {
	shape, rate := graph.GammaMoments(mu, sd)
	return func(x float64) float64 {
		return graph.GammaLike(x, shape, rate)
	}
}

func normalPrior(mu, sd float64) func(float64) float64 {
	return func(x float64) float64 {
		return graph.NormalLike(x, mu, sd)
	}
}

// logNormalPrior returns an elementwise log-normal log density for a
// series.
func logNormalPrior(mu, sd float64) graph.LogDensity {
	return func(x []float64) float64 {
		var lp float64
		for _, v := range x {
			lp += graph.LogNormalLike(v, mu, sd)
		}
		return lp
	}
}

func meanValue(ol ...[]data.Observation) (float64, bool) {
	var s float64
	var n int
	for _, l := range ol {
		for _, o := range l {
			s += o.Value
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return s / float64(n), true
}

// Flow level used when a country has no flow data
const defaultFlow = 1e4

// flowLevels returns the typical yearly manufacturing and distribution,
// used to center the flow priors.
func flowLevels(cd *data.CountryData) (float64, float64) {

	nm, okm := meanValue(cd.Manufactured)
	nd, okd := meanValue(cd.AdminDistributed, cd.HouseholdFlow)
	switch {
	case okm && !okd:
		nd = nm
	case okd && !okm:
		nm = nd
	case !okm && !okd:
		nm, nd = defaultFlow, defaultFlow
	}

	return math.Max(1, nm), math.Max(1, nd)
}

// Build assembles the joint model of one country: free parameters and
// series, the deterministic state recurrences, the regularizing
// potentials and one observed node per data point.  Starting values are
// seeded from the observations.
func Build(cd *data.CountryData, cfg *config.Config, ps *priors.Set) (*Model, error) {

	nt := cd.Years()
	if nt < 2 {
		return nil, fmt.Errorf("%s: horizon [%d, %d) too short", cd.Country, cd.YearStart, cd.YearEnd)
	}
	if len(cd.Population) != nt {
		return nil, fmt.Errorf("%s: population has %d years, want %d", cd.Country, len(cd.Population), nt)
	}
	if ps == nil {
		ps = new(priors.Set)
	}

	mc := cfg.Model
	g := graph.New()
	m := &Model{
		cd:    cd,
		cfg:   cfg,
		g:     g,
		nt:    nt,
		stage: Assembled,
	}
	m.deff = math.Max(1, m.hyper(ps.Design, priors.Design, "ratio").Mu)

	// Hyperparameters
	pim := m.hyper(ps.Discard, priors.Discard, "pi")
	m.Pi = g.AddScalar("pi", graph.Unit, pim.Mu, betaPrior(pim, priors.Discard, "pi"))

	me := mc.ManufacturingError
	m.ManuError = g.AddScalar("s_m", graph.Positive, me.Mu, gammaPrior(me.Mu, me.Std))

	sig := m.hyper(ps.Admin, priors.Admin, "sigma")
	m.AdminError = g.AddScalar("s_d", graph.Positive, sig.Mu, gammaPrior(sig.Mu, sig.Std))

	eps := m.hyper(ps.Admin, priors.Admin, "eps")
	m.AdminBias = g.AddScalar("e_d", graph.Real, eps.Mu, normalPrior(eps.Mu, eps.Std))

	rb := mc.RecallBias
	m.RecallBias = g.AddScalar("s_rb", graph.Positive, rb.Mu, gammaPrior(rb.Mu, rb.Std))

	rc := mc.ReportCoverageError
	m.ReportCoverageError = g.AddScalar("s_cov", graph.Positive, rc.Mu, gammaPrior(rc.Mu, rc.Std))

	eta := m.hyper(ps.Coverage, priors.Coverage, "eta")
	m.Eta = g.AddScalar("eta", graph.Positive, math.Max(eta.Mu, 0.1), normalPrior(eta.Mu, eta.Std))

	zm := m.hyper(ps.Coverage, priors.Coverage, "zeta")
	m.Zeta = g.AddScalar("zeta", graph.Unit, zm.Mu, betaPrior(zm, priors.Coverage, "zeta"))

	m.W0 = g.AddScalar("W_0", graph.Real, 0, normalPrior(0, mc.WarehousePriorSD))

	// Flow series
	nmLevel, ndLevel := flowLevels(cd)
	m.Manufactured = g.AddFree("manufactured", graph.Positive, constant(nt, nmLevel),
		logNormalPrior(math.Log(nmLevel), mc.FlowPriorSD))
	m.Distributed = g.AddFree("distributed", graph.Positive, constant(nt, ndLevel),
		logNormalPrior(math.Log(ndLevel), mc.FlowPriorSD))

	nonLevel := math.Max(1, 0.01*floats.Sum(cd.Population)/float64(nt))
	m.NonLLIN = g.AddFree("non_llin_stock", graph.Positive, constant(nt, nonLevel),
		logNormalPrior(math.Log(nonLevel), 3*mc.FlowPriorSD))

	m.addState()
	m.addPotentials()
	m.addObservations()
	m.seed()

	return m, nil
}

func constant(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

// addState registers the deterministic recurrences.
func (m *Model) addState() {

	g, nt, mc := m.g, m.nt, m.cfg.Model
	pop := m.cd.Population

	m.Warehouse = g.AddDeterministic("warehouse", nt, []graph.NodeID{m.W0, m.Manufactured, m.Distributed},
		func(p [][]float64, out []float64) {
			WarehouseStock(p[0][0], p[1], p[2], out)
		})

	m.Cohorts = g.AddDeterministic("cohorts", nt*nt, []graph.NodeID{m.Distributed, m.Pi},
		func(p [][]float64, out []float64) {
			HouseholdCohorts(p[0], p[1][0], mc.HalfPeriodExponent, out)
		})

	m.Household = g.AddDeterministic("household", nt, []graph.NodeID{m.Cohorts},
		func(p [][]float64, out []float64) {
			HouseholdStock(p[0], out)
		})

	m.Coverage = g.AddDeterministic("coverage", nt, []graph.NodeID{m.Household, m.Eta, m.Zeta},
		func(p [][]float64, out []float64) {
			Coverage(p[0], pop, p[1][0], p[2][0], out)
		})

	total := make([]float64, nt)
	m.ITNCoverage = g.AddDeterministic("itn_coverage", nt, []graph.NodeID{m.Household, m.NonLLIN, m.Eta, m.Zeta},
		func(p [][]float64, out []float64) {
			floats.AddTo(total, p[0], p[1])
			Coverage(total, pop, p[2][0], p[3][0], out)
		})

	m.Waiting = g.AddDeterministic("waiting_time", nt, []graph.NodeID{m.Warehouse, m.Manufactured, m.Distributed},
		func(p [][]float64, out []float64) {
			WaitingTime(p[0], p[1], p[2], mc.WaitingLookahead, out)
		})
}

// negativePotential penalizes negative stocks.
type negativePotential struct {
	weight float64
}

func (n negativePotential) LogLike(p [][]float64) float64 {
	return NegativePenalty(n.weight, p...)
}

// capacityPotential penalizes flows that fall below their earlier
// maximum.
type capacityPotential struct {
	tol, weight float64
}

func (c capacityPotential) LogLike(p [][]float64) float64 {
	var lp float64
	for _, x := range p {
		lp += CapacityPenalty(x, c.tol, c.weight)
	}
	return lp
}

// smoothPotential keeps the yearly log changes of a series small.
type smoothPotential struct {
	sd  float64
	buf []float64
}

func (s *smoothPotential) LogLike(p [][]float64) float64 {
	var lp float64
	for _, d := range LogDiffs(p[0], s.buf) {
		lp += graph.NormalLike(d, 0, s.sd)
	}
	return lp
}

// waitingPotential keeps the distribution waiting time near one year
// where the full lookahead is available.
type waitingPotential struct {
	sd        float64
	lookahead int
}

func (w waitingPotential) LogLike(p [][]float64) float64 {
	var lp float64
	nt := len(p[0])
	for t, d := range p[0] {
		if Complete(t, nt, w.lookahead) {
			lp += graph.NormalLike(d, 1, w.sd)
		}
	}
	return lp
}

// addPotentials registers the soft constraints.
func (m *Model) addPotentials() {

	g, mc := m.g, m.cfg.Model

	g.AddPotential("positive_stocks", []graph.NodeID{m.Warehouse, m.Household, m.NonLLIN},
		negativePotential{weight: mc.NegativeStockPenalty})

	g.AddPotential("increasing_capacity", []graph.NodeID{m.Manufactured, m.Distributed},
		capacityPotential{tol: mc.CapacityTolerance, weight: mc.CapacityPenalty})

	g.AddPotential("smooth_non_llin", []graph.NodeID{m.NonLLIN},
		&smoothPotential{sd: mc.NonLLINSmoothSD, buf: make([]float64, m.nt-1)})

	g.AddPotential("waiting_near_one", []graph.NodeID{m.Waiting},
		waitingPotential{sd: mc.WaitingSD, lookahead: mc.WaitingLookahead})
}

// seed moves the starting point to values implied by the observations,
// then raises the initial warehouse stock once if the warehouse would
// otherwise run negative.
func (m *Model) seed() {

	for _, o := range m.obs {
		o.seedFlows(m)
	}
	m.g.Update()

	for _, o := range m.obs {
		o.seedStocks(m)
	}
	m.g.Update()

	if lo := floats.Min(m.g.Value(m.Warehouse)); lo < 0 {
		w0 := m.g.Value(m.W0)[0]
		m.g.SetValue(m.W0, []float64{w0 - 2*lo})
	}
}
