package stockflow

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"time"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/graph"
	"github.com/kshedden/stockflow/priors"
	"github.com/kshedden/stockflow/report"
)

// Series names in a Result
const (
	SeriesManufactured = "manufactured"
	SeriesDistributed  = "distributed"
	SeriesWarehouse    = "warehouse"
	SeriesHousehold    = "household"
	SeriesNonLLIN      = "non_llin_stock"
	SeriesCoverage     = "coverage"
	SeriesITNCoverage  = "itn_coverage"
	SeriesWaiting      = "waiting_time"
)

// Options holds the optional collaborators of a fit.
type Options struct {

	// Structured log output; discarded if nil
	Logger *slog.Logger

	// If not nil, the state at the mode and the posterior summaries are
	// written here
	ParLog io.Writer

	// If not nil, a sampler progress bar is drawn here
	Progress io.Writer
}

// Result holds the summaries of one country fit.
type Result struct {
	Country   string
	YearStart int
	Years     int
	Method    string

	// Outcome of the fit as a whole
	Status graph.Status

	Mode        graph.ModeResult
	TraceLen    int
	Diagnostics graph.Diagnostics

	// Non-nil if sampling ended early
	Err error

	Duration time.Duration

	// Posterior summaries of the yearly series and of the scalar
	// parameters, keyed by node name
	Series map[string]graph.Stats
	Params map[string]graph.Stats
}

// Seed returns the sampler seed for a country, derived from the base
// seed so that each country has its own reproducible stream.
func Seed(base uint64, country string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(country))
	return base + h.Sum64()
}

// FindMode runs the mode search, moving the model from Assembled to
// ModeFound.  Non-convergence is not an error; the model is left at the
// best point found.
func (m *Model) FindMode(ctx context.Context, maxEvals int) graph.ModeResult {
	mr := m.g.FindMode(ctx, maxEvals)
	m.stage = ModeFound
	return mr
}

// recorded returns the nodes retained by the sampler.
func (m *Model) recorded() []graph.NodeID {
	return append(m.params(), m.series()...)
}

func (m *Model) params() []graph.NodeID {
	return []graph.NodeID{
		m.Pi, m.ManuError, m.AdminError, m.AdminBias, m.RecallBias,
		m.ReportCoverageError, m.Eta, m.Zeta, m.W0,
	}
}

func (m *Model) series() []graph.NodeID {
	return []graph.NodeID{
		m.Manufactured, m.Distributed, m.Warehouse, m.Household,
		m.NonLLIN, m.Coverage, m.ITNCoverage, m.Waiting,
	}
}

// Sample draws from the posterior, moving the model to Sampled.
func (m *Model) Sample(ctx context.Context, st graph.SampleSettings) graph.SampleResult {
	res := m.g.Sample(ctx, st, m.recorded())
	m.stage = Sampled
	return res
}

// Summarize computes posterior summaries from the trace, moving the
// model to Summarized.  Nodes without draws are summarized at their
// current value.
func (m *Model) Summarize(tr *graph.Trace) (map[string]graph.Stats, map[string]graph.Stats) {

	get := func(id graph.NodeID) graph.Stats {
		st, err := tr.Summarize(id)
		if err != nil {
			st = graph.PointStats(m.g.Value(id))
		}
		return st
	}

	series := make(map[string]graph.Stats)
	for _, id := range m.series() {
		series[m.g.Node(id).Name] = get(id)
	}
	params := make(map[string]graph.Stats)
	for _, id := range m.params() {
		params[m.g.Node(id).Name] = get(id)
	}
	m.stage = Summarized

	return series, params
}

// Fit builds and fits the model of one country.  A failed mode search or
// sampler run does not make Fit fail: the result then summarizes the
// partial trace, or the current point if there are no draws, and its
// Status records what happened.  An error is returned only for an
// invalid configuration, or together with the result when ctx is done.
func Fit(ctx context.Context, cfg *config.Config, cd *data.CountryData, ps *priors.Set, opts Options) (*Result, error) {

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("country", cd.Country)

	budget, err := cfg.Budget()
	if err != nil {
		return nil, err
	}
	switch cfg.Method {
	case config.MethodMCMC, config.MethodMAP:
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMethod, cfg.Method)
	}

	start := time.Now()
	m, err := Build(cd, cfg, ps)
	if err != nil {
		return nil, err
	}
	logger.Info("assembled model", "stage", m.Stage().String(), "nodes", m.g.Len(),
		"dim", m.g.Dim(), "observations", cd.NumObs(), "dropped", cd.Dropped)
	if fb := m.Fallbacks(); len(fb) > 0 {
		logger.Warn("empirical prior unusable, using weak default", "params", fb)
	}

	res := &Result{
		Country:   cd.Country,
		YearStart: cd.YearStart,
		Years:     cd.Years(),
		Method:    cfg.Method,
	}

	res.Mode = m.FindMode(ctx, budget.OptimizerEvals)
	switch {
	case res.Mode.Err != nil:
		logger.Warn("mode search failed", "stage", m.Stage().String(), "err", res.Mode.Err)
	case !res.Mode.Converged:
		logger.Warn("mode search did not converge", "stage", m.Stage().String(),
			"status", res.Mode.Status.String(), "evals", res.Mode.Evals)
	default:
		logger.Debug("found mode", "stage", m.Stage().String(), "evals", res.Mode.Evals, "logp", res.Mode.LogP)
	}
	if opts.ParLog != nil {
		title := fmt.Sprintf("%s: state at mode (log density %.4f)", cd.Country, res.Mode.LogP)
		if err := m.g.WriteSummary(opts.ParLog, title); err != nil {
			logger.Warn("cannot write parameter log", "err", err)
		}
	}

	var tr *graph.Trace
	if cfg.Method == config.MethodMAP {
		res.Status = graph.Converged
		if !res.Mode.Converged {
			res.Status = graph.PartialResults
		}
	} else {
		sr := m.Sample(ctx, graph.SampleSettings{
			Iter:     budget.Iter,
			Burn:     budget.Burn,
			Thin:     budget.Thin,
			Seed:     Seed(cfg.Seed, cd.Country),
			Progress: opts.Progress,
			Label:    cd.Country,
		})
		tr = sr.Trace
		res.Status = sr.Status
		res.TraceLen = sr.TraceLen
		res.Diagnostics = sr.Diagnostics
		res.Err = sr.Err
		switch sr.Status {
		case graph.Failed:
			logger.Warn("sampling failed, summarizing current state", "stage", m.Stage().String(), "err", sr.Err)
		case graph.PartialResults:
			logger.Warn("sampling ended early", "stage", m.Stage().String(), "draws", sr.TraceLen, "err", sr.Err)
		default:
			logger.Debug("sampled", "stage", m.Stage().String(), "draws", sr.TraceLen,
				"acceptance", sr.Diagnostics.MeanAcceptance())
		}
	}

	res.Series, res.Params = m.Summarize(tr)
	res.Duration = time.Since(start)
	if w := m.g.Warnings; w.NonFiniteLogP > 0 {
		logger.Warn("non-finite log densities", "stage", m.Stage().String(), "count", w.NonFiniteLogP)
	}
	if w := m.g.Warnings; w.RejectedBounds > 0 {
		logger.Debug("proposals rejected at support bounds", "stage", m.Stage().String(), "count", w.RejectedBounds)
	}
	logger.Info("fit complete", "stage", m.Stage().String(), "status", res.Status.String(),
		"draws", res.TraceLen, "duration", res.Duration)

	if opts.ParLog != nil {
		if err := res.WriteSummary(opts.ParLog); err != nil {
			logger.Warn("cannot write parameter log", "err", err)
		}
	}

	return res, ctx.Err()
}

// Scale of net counts in the output
const thousands = 1000

// Rows returns one output row per year of the horizon.  Counts are in
// thousands and coverage in percent.  The flows of the final year are
// reported as missing.
func (r *Result) Rows() []report.Row {

	nm := r.Series[SeriesManufactured]
	nd := r.Series[SeriesDistributed]
	w := r.Series[SeriesWarehouse]
	h := r.Series[SeriesHousehold]
	non := r.Series[SeriesNonLLIN]
	cov := r.Series[SeriesCoverage]
	itn := r.Series[SeriesITNCoverage]

	rows := make([]report.Row, r.Years)
	for t := range rows {
		row := report.Row{
			Country: r.Country,
			Year:    r.YearStart + t,
			Status:  r.Status.String(),
		}
		row.Shipped, row.ShippedLower, row.ShippedUpper = triple(nm, t, 1.0/thousands)
		row.Distributed, row.DistributedLower, row.DistributedUpper = triple(nd, t, 1.0/thousands)
		if t == r.Years-1 {
			row.Shipped, row.ShippedLower, row.ShippedUpper = report.Missing, report.Missing, report.Missing
			row.Distributed, row.DistributedLower, row.DistributedUpper = report.Missing, report.Missing, report.Missing
		}
		row.Warehouse, row.WarehouseLower, row.WarehouseUpper = triple(w, t, 1.0/thousands)
		row.HouseholdStock, row.HouseholdStockLower, row.HouseholdStockUpper = triple(h, t, 1.0/thousands)
		row.NonLLIN, row.NonLLINLower, row.NonLLINUpper = triple(non, t, 1.0/thousands)
		row.LLINCoverage, row.LLINCoverageLower, row.LLINCoverageUpper = triple(cov, t, 100)
		row.ITNCoverage, row.ITNCoverageLower, row.ITNCoverageUpper = triple(itn, t, 100)
		rows[t] = row
	}

	return rows
}

func triple(st graph.Stats, t int, scale float64) (float64, float64, float64) {
	if t >= len(st.Mean) {
		return report.Missing, report.Missing, report.Missing
	}
	return st.Mean[t] * scale, st.Lower[t] * scale, st.Upper[t] * scale
}

// Order of the parameters in summaries
var paramOrder = []string{"pi", "s_m", "s_d", "e_d", "s_rb", "s_cov", "eta", "zeta", "W_0"}

var seriesOrder = []string{
	SeriesManufactured, SeriesDistributed, SeriesWarehouse, SeriesHousehold,
	SeriesNonLLIN, SeriesCoverage, SeriesITNCoverage, SeriesWaiting,
}

// WriteSummary writes the posterior summaries in text format.
func (r *Result) WriteSummary(w io.Writer) error {

	if _, err := fmt.Fprintf(w, "%s: %s, %d draws, method %s\n", r.Country, r.Status, r.TraceLen, r.Method); err != nil {
		return err
	}

	var names []string
	var stats []graph.Stats
	for _, n := range paramOrder {
		if st, ok := r.Params[n]; ok {
			names = append(names, n)
			stats = append(stats, st)
		}
	}
	for _, n := range seriesOrder {
		if st, ok := r.Series[n]; ok {
			names = append(names, n)
			stats = append(stats, st)
		}
	}

	return graph.WriteStats(w, names, stats)
}
