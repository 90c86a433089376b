// Package priors estimates the empirical hyperpriors that are shared by
// all per-country fits.  Each prior is a small pooled model fit once and
// cached as JSON.  Cached priors are read-only inputs to the country
// models; they are only recomputed when explicitly requested.
package priors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
)

// ErrNoJoinedData is returned when a pooled model has no usable records.
var ErrNoJoinedData = errors.New("no joined records")

// ErrUnknownPrior is returned for a prior name that is not defined.
var ErrUnknownPrior = errors.New("unknown prior")

// Prior names
const (
	Discard  = "discard"
	Admin    = "admin"
	Coverage = "coverage"
	Design   = "design"
)

// Names lists the priors in the order they are computed.
var Names = []string{Discard, Admin, Coverage, Design}

// Moments summarizes the posterior of one hyperparameter.  Tau is the
// precision.  Alpha and Beta are the parameters of a beta or gamma
// distribution with the same mean and variance, when one exists.
type Moments struct {
	Mu    float64 `json:"mu"`
	Std   float64 `json:"std"`
	Var   float64 `json:"var"`
	Tau   float64 `json:"tau,omitempty"`
	Alpha float64 `json:"alpha,omitempty"`
	Beta  float64 `json:"beta,omitempty"`
}

func newMoments(mu, std float64) Moments {
	m := Moments{Mu: mu, Std: std, Var: std * std}
	if m.Var > 0 {
		m.Tau = 1 / m.Var
	}
	return m
}

// withBeta adds the beta distribution parameters matching the moments.
func (m Moments) withBeta() Moments {
	if a, b, ok := graph.BetaMoments(m.Mu, m.Var); ok {
		m.Alpha, m.Beta = a, b
	}
	return m
}

// withGamma adds the gamma shape and rate matching the moments.
func (m Moments) withGamma() Moments {
	if m.Mu > 0 && m.Var > 0 {
		m.Alpha, m.Beta = graph.GammaMoments(m.Mu, m.Std)
	}
	return m
}

// Prior is the result of one pooled fit.
type Prior struct {
	Name string `json:"name"`

	// Number of records used in the fit
	N int `json:"n"`

	// True if N is below the configured minimum effective sample size
	SmallSample bool `json:"small_sample"`

	Params map[string]Moments `json:"params"`

	// Where the prior came from in this run; not cached
	Source string `json:"-"`
}

// Prior sources
const (
	SourceCache    = "cache"
	SourceComputed = "computed"
	SourceFallback = "fallback"
)

// HasSpread reports whether every hyperparameter has a positive, finite
// standard deviation.  A prior without spread pins its parameters and is
// not cached.
func (p *Prior) HasSpread() bool {
	if p == nil || len(p.Params) == 0 {
		return false
	}
	for _, m := range p.Params {
		if !(m.Std > 0) || math.IsInf(m.Std, 0) || math.IsNaN(m.Mu) {
			return false
		}
	}
	return true
}

// Get returns the moments of one hyperparameter.
func (p *Prior) Get(key string) (Moments, bool) {
	if p == nil {
		return Moments{}, false
	}
	m, ok := p.Params[key]
	return m, ok
}

// Set holds all empirical priors used by a country fit.
type Set struct {
	Discard  *Prior
	Admin    *Prior
	Coverage *Prior
	Design   *Prior
}

// Fallback returns weakly informative hyperparameters for a prior that
// cannot be estimated from the pooled data.  It rests on no records, so
// it is marked as a small sample.
func Fallback(name string) *Prior {

	p := &Prior{Name: name, Params: make(map[string]Moments), SmallSample: true, Source: SourceFallback}
	switch name {
	case Discard:
		p.Params["pi"] = newMoments(0.1, 0.05).withBeta()
	case Admin:
		p.Params["sigma"] = newMoments(0.5, 0.25).withGamma()
		p.Params["eps"] = newMoments(0, 0.5)
		p.Params["beta"] = newMoments(0.1, 0.1)
	case Coverage:
		p.Params["eta"] = newMoments(5, 3)
		p.Params["alpha"] = newMoments(1, 1).withGamma()
		p.Params["zeta"] = newMoments(0.2, 0.15).withBeta()
	case Design:
		p.Params["ratio"] = newMoments(2, 1)
	}

	return p
}

// Estimator computes empirical priors from the pooled data, reading and
// writing a Store.  It is safe for concurrent use.
type Estimator struct {
	data   *data.Data
	store  *Store
	cfg    *config.Config
	logger *slog.Logger

	// Replaces the survey flow data in the admin model when set
	flow []FlowTruth

	mu   sync.Mutex
	done map[string]*Prior
}

// NewEstimator returns an estimator for the given data.  If logger is nil
// log output is discarded.
func NewEstimator(d *data.Data, store *Store, cfg *config.Config, logger *slog.Logger) *Estimator {

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Estimator{
		data:   d,
		store:  store,
		cfg:    cfg,
		logger: logger,
		done:   make(map[string]*Prior),
	}
}

// Get returns the named prior.  A cached value is used unless the
// configuration requests recomputation; a recomputed prior is computed at
// most once per Estimator.
func (e *Estimator) Get(ctx context.Context, name string) (*Prior, error) {

	e.mu.Lock()
	defer e.mu.Unlock()

	if p, ok := e.done[name]; ok {
		return p, nil
	}

	if !e.cfg.Recompute {
		p, err := e.store.Load(name)
		switch {
		case err == nil && !p.HasSpread():
			e.logger.Warn("cached prior has no spread, recomputing", "prior", name, "path", e.store.Path(name))
		case err == nil:
			e.logger.Debug("loaded cached prior", "prior", name, "path", e.store.Path(name))
			p.Source = SourceCache
			e.done[name] = p
			return p, nil
		case errors.Is(err, os.ErrNotExist):
			// Compute below
		default:
			return nil, err
		}
	}

	p, err := e.compute(ctx, name)
	if err != nil {
		return p, err
	}

	if err := e.save(p); err != nil {
		return nil, err
	}
	e.done[name] = p

	return p, nil
}

// save caches a computed prior unless it has no spread.
func (e *Estimator) save(p *Prior) error {

	p.Source = SourceComputed
	if !p.HasSpread() {
		e.logger.Warn("prior has no spread, not cached", "prior", p.Name, "n", p.N)
		return nil
	}

	return e.store.Save(p)
}

func (e *Estimator) compute(ctx context.Context, name string) (*Prior, error) {

	e.logger.Info("computing empirical prior", "prior", name)

	var p *Prior
	var err error
	switch name {
	case Discard:
		p, err = e.discard(ctx)
	case Admin:
		p, err = e.admin(ctx)
	case Coverage:
		p, err = e.coverage(ctx)
	case Design:
		p, err = e.design()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrior, name)
	}
	if err != nil {
		if p != nil && p.N == 0 {
			p.SmallSample = true
			e.logger.Warn("empirical prior has no data", "prior", name, "err", err)
		}
		return p, err
	}

	if p.N < e.cfg.MinEffectiveN {
		p.SmallSample = true
		e.logger.Warn("empirical prior fit on few records", "prior", name, "n", p.N, "min", e.cfg.MinEffectiveN)
	}

	return p, nil
}

// All returns every empirical prior.  A prior without joined data is
// replaced by its fallback; the fallback is not cached.
func (e *Estimator) All(ctx context.Context) (*Set, error) {

	get := func(name string) (*Prior, error) {
		p, err := e.Get(ctx, name)
		if errors.Is(err, ErrNoJoinedData) {
			e.logger.Warn("using fallback prior", "prior", name)
			return Fallback(name), nil
		}
		return p, err
	}

	var s Set
	var err error
	if s.Discard, err = get(Discard); err != nil {
		return nil, err
	}
	if s.Admin, err = get(Admin); err != nil {
		return nil, err
	}
	if s.Coverage, err = get(Coverage); err != nil {
		return nil, err
	}
	if s.Design, err = get(Design); err != nil {
		return nil, err
	}

	return &s, nil
}

// fit finds the mode of a pooled model and samples it.  Pooled models are
// sampled whatever the configured method, so that every prior has a
// spread.  The returned trace is nil if no draws are available, in which
// case summaries are taken at the mode.
func (e *Estimator) fit(ctx context.Context, g *graph.Graph, name string, record []graph.NodeID) (*graph.Trace, error) {

	budget, err := e.cfg.Budget()
	if err != nil {
		return nil, err
	}

	mr := g.FindMode(ctx, budget.OptimizerEvals)
	if mr.Err != nil {
		e.logger.Warn("mode search failed", "prior", name, "err", mr.Err)
	} else if !mr.Converged {
		e.logger.Info("mode search stopped before convergence", "prior", name, "status", mr.Status.String())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st := graph.SampleSettings{
		Iter:  budget.Iter,
		Burn:  budget.Burn,
		Thin:  budget.Thin,
		Seed:  e.cfg.Seed,
		Label: name,
	}
	if e.cfg.Progress {
		st.Progress = os.Stderr
	}

	res := g.Sample(ctx, st, record)
	switch res.Status {
	case graph.Failed:
		e.logger.Warn("sampling failed, using mode", "prior", name, "err", res.Err)
		return nil, nil
	case graph.PartialResults:
		e.logger.Warn("sampling stopped early", "prior", name, "draws", res.TraceLen, "err", res.Err)
	}
	e.logger.Debug("sampled prior", "prior", name, "draws", res.TraceLen,
		"acceptance", res.Diagnostics.MeanAcceptance())

	return res.Trace, nil
}

// summarize returns the moments of a scalar node, from the trace if
// possible and otherwise at the current value.
func summarize(g *graph.Graph, tr *graph.Trace, id graph.NodeID) Moments {

	st, err := tr.Summarize(id)
	if err != nil {
		st = graph.PointStats(g.Value(id))
	}

	return newMoments(st.Mean[0], st.Std[0])
}
