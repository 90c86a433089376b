package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFit(t *testing.T) {

	m := New()
	m.ObserveFit("Ghana", "converged", 2*time.Second, 0.3, 400)
	m.ObserveFit("Togo", "partial", time.Second, 0.1, 12)
	m.ObserveFit("Benin", "converged", time.Second, 0.25, 400)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Fits.WithLabelValues("converged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fits.WithLabelValues("partial")))
	assert.Equal(t, 0.1, testutil.ToFloat64(m.Acceptance.WithLabelValues("Togo")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.Draws.WithLabelValues("Togo")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FitDuration))
}

func TestNilMetrics(t *testing.T) {

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFit("Ghana", "failed", time.Second, 0, 0)
		m.IncrementPrior("cache")
	})
}

func TestWriteTextfile(t *testing.T) {

	m := New()
	m.IncrementPrior("cache")
	m.ObserveFit("Ghana", "converged", time.Second, 0.3, 400)

	path := filepath.Join(t.TempDir(), "stockflow.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(b)
	assert.True(t, strings.Contains(s, `stockflow_fits_total{status="converged"} 1`))
	assert.True(t, strings.Contains(s, `stockflow_priors_total{source="cache"} 1`))
}
