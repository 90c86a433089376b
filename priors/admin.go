package priors

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
)

// FlowTruth is a best estimate of the nets distributed in a country-year,
// used as the truth against which administrative reports are compared.
type FlowTruth struct {
	Country string
	Year    int
	Total   float64
	SE      float64
}

// AdminRecord joins an administrative report with the truth in the same
// year and the next year.
type AdminRecord struct {
	Country  string
	Year     int
	Obs      float64
	True     float64
	SE       float64
	TrueNext float64
	SENext   float64
}

type countryYear struct {
	country string
	year    int
}

// Join keys
const (
	keyObs      = "obs_t"
	keyTrue     = "true_t"
	keySE       = "se_t"
	keyTrueNext = "true_{t+1}"
	keySENext   = "se_{t+1}"
)

// Number of fields in a complete joined record
const joinFields = 5

// flowTruth returns the household survey flow data as FlowTruth values.
func flowTruth(d *data.Data) []FlowTruth {

	var fl []FlowTruth
	for _, r := range d.Flow {
		if data.Require(r, data.ColYear, data.ColFlow, data.ColFlowSE) != nil {
			continue
		}
		y, _ := r.Int(data.ColYear)
		tot, _ := r.Float(data.ColFlow)
		se, _ := r.Float(data.ColFlowSE)
		fl = append(fl, FlowTruth{Country: r.String(data.ColCountry), Year: y, Total: tot, SE: se})
	}

	return fl
}

// JoinAdmin keeps the country-years that have an administrative report,
// a truth value, and a truth value for the following year.  The second
// return value is the number of partial country-years that were dropped.
func JoinAdmin(admin []data.Record, flow []FlowTruth) ([]AdminRecord, int) {

	dd := make(map[countryYear]map[string]float64)
	put := func(k countryYear, f string, v float64) {
		m, ok := dd[k]
		if !ok {
			m = make(map[string]float64)
			dd[k] = m
		}
		m[f] = v
	}

	for _, r := range admin {
		if data.Require(r, data.ColYear, data.ColAdmin) != nil {
			continue
		}
		y, _ := r.Int(data.ColYear)
		v, _ := r.Float(data.ColAdmin)
		put(countryYear{r.String(data.ColCountry), y}, keyObs, v)
	}

	for _, f := range flow {
		if !(f.Total > 0) {
			continue
		}
		k := countryYear{f.Country, f.Year}
		put(k, keyTrue, f.Total)
		put(k, keySE, f.SE)
		k.year--
		put(k, keyTrueNext, f.Total)
		put(k, keySENext, f.SE)
	}

	var recs []AdminRecord
	var dropped int
	for k, m := range dd {
		if len(m) != joinFields {
			dropped++
			continue
		}
		recs = append(recs, AdminRecord{
			Country:  k.country,
			Year:     k.year,
			Obs:      m[keyObs],
			True:     m[keyTrue],
			SE:       m[keySE],
			TrueNext: m[keyTrueNext],
			SENext:   m[keySENext],
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Country != recs[j].Country {
			return recs[i].Country < recs[j].Country
		}
		return recs[i].Year < recs[j].Year
	})

	return recs, dropped
}

// adminObs is the likelihood of one joined administrative report on the
// log scale.  Parents are sigma, eps and beta.
type adminObs struct {
	logObs float64
	truth  float64
	next   float64

	// Sampling variance of the truth on the log scale
	logV float64
}

func newAdminObs(r AdminRecord) adminObs {
	return adminObs{
		logObs: math.Log(math.Max(1, r.Obs)),
		truth:  r.True,
		next:   r.TrueNext,
		logV:   1.1*r.SE*r.SE/(r.True*r.True) + 1.1*r.SENext*r.SENext/(r.TrueNext*r.TrueNext),
	}
}

func (a adminObs) LogLike(p [][]float64) float64 {
	sigma, eps, beta := p[0][0], p[1][0], p[2][0]
	pred := math.Log(math.Max(1, a.truth+beta*a.next)) + eps
	return graph.NormalLike(a.logObs, pred, math.Sqrt(a.logV+sigma*sigma))
}

// AdminModel builds the pooled model for the error and bias of
// administrative distribution reports.  It returns the graph and the
// sigma, eps and beta nodes.
func AdminModel(recs []AdminRecord) (*graph.Graph, [3]graph.NodeID) {

	g := graph.New()
	sigma := g.AddScalar("sigma", graph.Positive, 0.5, func(x float64) float64 {
		return graph.GammaLike(x, 1, 1)
	})
	eps := g.AddScalar("eps", graph.Real, 0, func(x float64) float64 {
		return graph.NormalLike(x, 0, 1)
	})
	beta := g.AddScalar("beta", graph.Real, 0.1, func(x float64) float64 {
		return graph.UniformLike(x, 0, 2)
	})

	parents := []graph.NodeID{sigma, eps, beta}
	for _, r := range recs {
		name := fmt.Sprintf("admin_%s_%d", r.Country, r.Year)
		g.AddObserved(name, parents, newAdminObs(r))
	}

	return g, [3]graph.NodeID{sigma, eps, beta}
}

func (e *Estimator) admin(ctx context.Context) (*Prior, error) {

	flow := e.flow
	if flow == nil {
		flow = flowTruth(e.data)
	}

	recs, dropped := JoinAdmin(e.data.Admin, flow)
	e.logger.Info("joined admin and survey data", "records", len(recs), "dropped", dropped)

	p := &Prior{Name: Admin, N: len(recs), Params: make(map[string]Moments)}
	if len(recs) == 0 {
		return p, fmt.Errorf("%s: %w", Admin, ErrNoJoinedData)
	}

	g, ids := AdminModel(recs)
	tr, err := e.fit(ctx, g, Admin, ids[:])
	if err != nil {
		return nil, err
	}

	p.Params["sigma"] = summarize(g, tr, ids[0]).withGamma()
	p.Params["eps"] = summarize(g, tr, ids[1])
	p.Params["beta"] = summarize(g, tr, ids[2])

	return p, nil
}
