package priors

import (
	"context"
	"fmt"
	"math"

	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
)

// retentionObs is the likelihood of one retention study.  The fraction of
// nets retained after T years is (1 - pi)^T.  Parents are pi and sigma.
type retentionObs struct {
	rate     float64
	followUp float64
}

func (r retentionObs) LogLike(p [][]float64) float64 {
	pi, sigma := p[0][0], p[1][0]
	return graph.NormalLike(r.rate, math.Pow(1-pi, r.followUp), sigma)
}

// DiscardModel builds the pooled model for the per-year probability that
// a net is lost.  It returns the graph and the pi node.
func DiscardModel(studies []data.Retention) (*graph.Graph, graph.NodeID) {

	g := graph.New()
	pi := g.AddScalar("pi", graph.Unit, 1.0/3, func(x float64) float64 {
		return graph.BetaLike(x, 1, 2)
	})
	sigma := g.AddScalar("sigma", graph.Positive, 0.1, func(x float64) float64 {
		return graph.InverseGammaLike(x, 11, 1)
	})

	for i, s := range studies {
		name := fmt.Sprintf("retention_%d_%s_%d", i, s.Name, s.Year)
		g.AddObserved(name, []graph.NodeID{pi, sigma}, retentionObs{rate: s.Rate, followUp: s.FollowUp})
	}

	return g, pi
}

func (e *Estimator) discard(ctx context.Context) (*Prior, error) {

	studies := e.data.RetentionStudies()
	p := &Prior{Name: Discard, N: len(studies), Params: make(map[string]Moments)}
	if len(studies) == 0 {
		return p, fmt.Errorf("%s: %w", Discard, ErrNoJoinedData)
	}

	g, pi := DiscardModel(studies)
	tr, err := e.fit(ctx, g, Discard, []graph.NodeID{pi})
	if err != nil {
		return nil, err
	}

	p.Params["pi"] = summarize(g, tr, pi).withBeta()

	return p, nil
}
