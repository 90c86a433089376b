// Package metrics records batch statistics for estimation runs.  A batch
// is a short-lived process, so metrics are written once at the end as a
// node-exporter textfile instead of being scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the batch metrics in a private registry.
type Metrics struct {
	reg *prometheus.Registry

	// Country fits by outcome
	Fits *prometheus.CounterVec

	// Duration of a complete country fit
	FitDuration prometheus.Histogram

	// Mean Metropolis acceptance rate by country
	Acceptance *prometheus.GaugeVec

	// Retained draws by country
	Draws *prometheus.GaugeVec

	// Empirical priors by source: cache, computed or fallback
	Priors *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		Fits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_fits_total",
			Help: "Country fits by outcome",
		}, []string{"status"}),

		FitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockflow_fit_duration_seconds",
			Help:    "Duration of a country fit, mode search and sampling",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		Acceptance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockflow_acceptance_rate",
			Help: "Mean Metropolis acceptance rate after burn-in",
		}, []string{"country"}),

		Draws: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockflow_retained_draws",
			Help: "Number of retained posterior draws",
		}, []string{"country"}),

		Priors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockflow_priors_total",
			Help: "Empirical priors by source",
		}, []string{"source"}),
	}
}

// ObserveFit records the outcome of one country fit.
func (m *Metrics) ObserveFit(country, status string, d time.Duration, acceptance float64, draws int) {
	if m == nil {
		return
	}
	m.Fits.WithLabelValues(status).Inc()
	m.FitDuration.Observe(d.Seconds())
	m.Acceptance.WithLabelValues(country).Set(acceptance)
	m.Draws.WithLabelValues(country).Set(float64(draws))
}

// IncrementPrior records where an empirical prior came from.
func (m *Metrics) IncrementPrior(source string) {
	if m != nil {
		m.Priors.WithLabelValues(source).Inc()
	}
}

// WriteTextfile writes the metrics in the text exposition format.  The
// file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
