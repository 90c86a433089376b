package stockflow

import (
	"fmt"
	"math"

	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
)

// Source identifies the kind of data behind an observation.
type Source uint8

// Manufacturing, etc. are the observation sources.
const (
	Manufacturing Source = iota
	AdminDistribution
	HouseholdFlow
	StockSurvey
	LLINCoverage
	ITNCoverage
)

func (s Source) String() string {
	switch s {
	case Manufacturing:
		return "manufacturing"
	case AdminDistribution:
		return "admin_distribution"
	case HouseholdFlow:
		return "household_flow"
	case StockSurvey:
		return "household_stock"
	case LLINCoverage:
		return "llin_coverage"
	case ITNCoverage:
		return "itn_coverage"
	default:
		return fmt.Sprintf("source(%d)", s)
	}
}

// Bounds on a coverage fraction used to build a binomial standard error
const (
	minCoverageP = 0.01
	maxCoverageP = 0.99
)

// obsRecord holds the fixed data of one observation.  Its likelihood is
// evaluated against the current values of the parent nodes, whose layout
// depends on the source:
//
//	Manufacturing      manufactured, s_m
//	AdminDistribution  distributed, s_d, e_d
//	HouseholdFlow      distributed, pi, s_rb
//	StockSurvey        household
//	LLINCoverage       coverage, s_cov
//	ITNCoverage        itn_coverage, s_cov
type obsRecord struct {
	src   Source
	start int

	// Index of the observation year in the horizon
	t int

	value    float64
	logValue float64

	// Standard error.  A coverage record with no standard error uses the
	// fitted report coverage error.
	se float64

	// Fractional survey date
	date float64

	// Years between distribution and the flow survey
	lag float64
}

// LogLike returns the log-likelihood of the observation.  Latent counts
// are floored at one before taking logarithms.
func (o *obsRecord) LogLike(p [][]float64) float64 {

	switch o.src {
	case Manufacturing:
		mu := math.Log(math.Max(1, p[0][o.t]))
		return graph.NormalLike(o.logValue, mu, p[1][0])
	case AdminDistribution:
		mu := p[2][0] + math.Log(math.Max(1, p[0][o.t]))
		return graph.NormalLike(o.logValue, mu, p[1][0])
	case HouseholdFlow:
		mu := p[0][o.t] * math.Pow(1-p[1][0], o.lag)
		return graph.NormalLike(o.value, mu, o.se*(1+p[2][0]))
	case StockSurvey:
		return graph.NormalLike(o.value, Interpolate(p[0], o.start, o.date), o.se)
	case LLINCoverage, ITNCoverage:
		sd := o.se
		if sd <= 0 {
			sd = p[1][0]
		}
		return graph.NormalLike(o.value, Interpolate(p[0], o.start, o.date), sd)
	}

	panic(fmt.Sprintf("stockflow: unknown source %d", o.src))
}

// parents returns the parent nodes of an observation from the source.
func (m *Model) parents(src Source) []graph.NodeID {
	switch src {
	case Manufacturing:
		return []graph.NodeID{m.Manufactured, m.ManuError}
	case AdminDistribution:
		return []graph.NodeID{m.Distributed, m.AdminError, m.AdminBias}
	case HouseholdFlow:
		return []graph.NodeID{m.Distributed, m.Pi, m.RecallBias}
	case StockSurvey:
		return []graph.NodeID{m.Household}
	case LLINCoverage:
		return []graph.NodeID{m.Coverage, m.ReportCoverageError}
	case ITNCoverage:
		return []graph.NodeID{m.ITNCoverage, m.ReportCoverageError}
	}
	panic(fmt.Sprintf("stockflow: unknown source %d", src))
}

// newRecord converts a data observation to a record.
func (m *Model) newRecord(src Source, ob data.Observation) *obsRecord {

	o := &obsRecord{
		src:      src,
		start:    m.cd.YearStart,
		t:        ob.Year - m.cd.YearStart,
		value:    ob.Value,
		logValue: math.Log(math.Max(1, ob.Value)),
		se:       ob.SE,
		date:     ob.SurveyDate,
	}

	switch src {
	case HouseholdFlow:
		o.lag = math.Max(0, ob.SurveyDate-float64(ob.Year)-m.cfg.Model.RecallOffset)
		o.se = math.Max(1, o.se)
	case StockSurvey:
		o.se = math.Max(1, o.se)
	case LLINCoverage, ITNCoverage:
		if o.se <= 0 && ob.SampleSize > 0 {
			q := clamp(ob.Value, minCoverageP, maxCoverageP)
			o.se = math.Sqrt(m.deff * q * (1 - q) / ob.SampleSize)
		}
	}

	return o
}

// addObservations registers one observed node per data point.
func (m *Model) addObservations() {

	for _, s := range []struct {
		src Source
		obs []data.Observation
	}{
		{Manufacturing, m.cd.Manufactured},
		{AdminDistribution, m.cd.AdminDistributed},
		{HouseholdFlow, m.cd.HouseholdFlow},
		{StockSurvey, m.cd.HouseholdStock},
		{LLINCoverage, m.cd.LLINCoverage},
		{ITNCoverage, m.cd.ITNCoverage},
	} {
		par := m.parents(s.src)
		for i, ob := range s.obs {
			o := m.newRecord(s.src, ob)
			name := fmt.Sprintf("%s_%d_%d", s.src, ob.Year, i)
			m.g.AddObserved(name, par, o)
			m.obs = append(m.obs, o)
		}
	}
}

// seedFlows sets the starting value of the latent flow that the
// observation measures by solving its mean equation.
func (o *obsRecord) seedFlows(m *Model) {

	g := m.g
	switch o.src {
	case Manufacturing:
		g.SetElement(m.Manufactured, o.t, math.Max(1, o.value))
	case AdminDistribution:
		bias := g.Value(m.AdminBias)[0]
		g.SetElement(m.Distributed, o.t, math.Max(1, o.value/math.Exp(bias)))
	case HouseholdFlow:
		pi := g.Value(m.Pi)[0]
		g.SetElement(m.Distributed, o.t, math.Max(1, o.value/math.Pow(1-pi, o.lag)))
	}
}

// seedStocks sets the starting non-LLIN stock from an ITN coverage
// observation, given the current LLIN household stock.
func (o *obsRecord) seedStocks(m *Model) {

	if o.src != ITNCoverage {
		return
	}

	g := m.g
	eta, zeta := g.Value(m.Eta)[0], g.Value(m.Zeta)[0]
	r := o.value / (1 - zeta)
	if !(r > 0 && r < 1) || !(eta > 0) {
		return
	}

	total := -math.Log1p(-r) * m.cd.Population[o.t] / eta
	h := g.Value(m.Household)[o.t]
	g.SetElement(m.NonLLIN, o.t, math.Max(1, total-h))
}
