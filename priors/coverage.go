package priors

import (
	"context"
	"fmt"
	"sort"

	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
)

// CoverageRecord joins a household stock survey with a coverage survey
// from the same country and survey year.  Stock is per capita.
type CoverageRecord struct {
	Country   string
	Year      int
	Stock     float64
	StockSE   float64
	Uncovered float64
	SE        float64
}

// JoinCoverage keeps the country-years with population, stock and
// coverage data.
func JoinCoverage(d *data.Data) []CoverageRecord {

	pop := make(map[countryYear]float64)
	for _, r := range d.Population {
		if data.Require(r, data.ColYear, data.ColPopulation) != nil {
			continue
		}
		y, _ := r.Int(data.ColYear)
		p, _ := r.Float(data.ColPopulation)
		if p > 0 {
			pop[countryYear{r.String(data.ColCountry), y}] = p * 1000
		}
	}

	type stock struct{ v, se float64 }
	stocks := make(map[countryYear]stock)
	for _, r := range d.Stock {
		if data.Require(r, data.ColSurveyYear, data.ColStock, data.ColStockSE) != nil {
			continue
		}
		y, _ := r.Int(data.ColSurveyYear)
		c := r.String(data.ColCountry)
		if c == "" {
			c = r.String(data.ColName)
		}
		v, _ := r.Float(data.ColStock)
		se, _ := r.Float(data.ColStockSE)
		stocks[countryYear{c, y}] = stock{v, se}
	}

	var recs []CoverageRecord
	for _, r := range d.LLINCoverage {
		if data.Require(r, data.ColSurveyYear, data.ColLLINUncovered, data.ColLLINUncovSE) != nil {
			continue
		}
		y, _ := r.Int(data.ColSurveyYear)
		k := countryYear{r.String(data.ColCountry), y}
		p, okp := pop[k]
		s, oks := stocks[k]
		se, _ := r.Float(data.ColLLINUncovSE)
		if !okp || !oks || !(se > 0) || !(s.se > 0) {
			continue
		}
		u, _ := r.Float(data.ColLLINUncovered)
		recs = append(recs, CoverageRecord{
			Country:   k.country,
			Year:      y,
			Stock:     s.v / p,
			StockSE:   s.se / p,
			Uncovered: u,
			SE:        se,
		})
	}

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Country != recs[j].Country {
			return recs[i].Country < recs[j].Country
		}
		return recs[i].Year < recs[j].Year
	})

	return recs
}

// coverageObs is the likelihood of the fraction of households without a
// net.  Parents are the latent per-capita stock, eta, alpha and zeta.
type coverageObs struct {
	uncovered float64
	se        float64
}

func (c coverageObs) LogLike(p [][]float64) float64 {
	stock, eta, alpha, zeta := p[0][0], p[1][0], p[2][0], p[3][0]
	pz := zeta + (1-zeta)*graph.NegBinomZero(eta*stock, alpha)
	return graph.NormalLike(c.uncovered, pz, c.se)
}

// CoverageModel builds the pooled model for the coverage curve.  It
// returns the graph and the eta, alpha and zeta nodes.
func CoverageModel(recs []CoverageRecord) (*graph.Graph, [3]graph.NodeID) {

	g := graph.New()
	eta := g.AddScalar("eta", graph.Positive, 5, func(x float64) float64 {
		return graph.NormalLike(x, 5, 3)
	})
	alpha := g.AddScalar("alpha", graph.Positive, 1, func(x float64) float64 {
		return graph.ExponentialLike(x, 1)
	})
	zeta := g.AddScalar("zeta", graph.Unit, 0.1, func(x float64) float64 {
		return graph.BetaLike(x, 1, 4)
	})

	for i, r := range recs {
		mu, sd := r.Stock, r.StockSE
		s := g.AddScalar(fmt.Sprintf("stock_%d_%s_%d", i, r.Country, r.Year), graph.Positive, mu, func(x float64) float64 {
			return graph.NormalLike(x, mu, sd)
		})
		g.AddObserved(fmt.Sprintf("uncovered_%d_%s_%d", i, r.Country, r.Year), []graph.NodeID{s, eta, alpha, zeta},
			coverageObs{uncovered: r.Uncovered, se: r.SE})
	}

	return g, [3]graph.NodeID{eta, alpha, zeta}
}

func (e *Estimator) coverage(ctx context.Context) (*Prior, error) {

	recs := JoinCoverage(e.data)
	e.logger.Info("joined stock and coverage data", "records", len(recs))

	p := &Prior{Name: Coverage, N: len(recs), Params: make(map[string]Moments)}
	if len(recs) == 0 {
		return p, fmt.Errorf("%s: %w", Coverage, ErrNoJoinedData)
	}

	g, ids := CoverageModel(recs)
	tr, err := e.fit(ctx, g, Coverage, ids[:])
	if err != nil {
		return nil, err
	}

	p.Params["eta"] = summarize(g, tr, ids[0])
	p.Params["alpha"] = summarize(g, tr, ids[1]).withGamma()
	p.Params["zeta"] = summarize(g, tr, ids[2]).withBeta()

	return p, nil
}
