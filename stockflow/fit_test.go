package stockflow

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/graph"
	"github.com/kshedden/stockflow/priors"
	"github.com/kshedden/stockflow/report"
)

// tightSetup returns a three year country with exactly known flows and
// priors that leave little room for reporting error.
func tightSetup() (*config.Config, *priors.Set) {

	cfg := testConfig()
	cfg.Model.ManufacturingError = config.Moments{Mu: 0.001, Std: 0.0002}
	cfg.Model.WarehousePriorSD = 1

	ps := &priors.Set{
		Discard:  priors.Fallback(priors.Discard),
		Coverage: priors.Fallback(priors.Coverage),
		Design:   priors.Fallback(priors.Design),
		Admin: &priors.Prior{
			Name: priors.Admin,
			Params: map[string]priors.Moments{
				"sigma": {Mu: 0.001, Std: 0.0002},
				"eps":   {Mu: 0, Std: 1e-4},
			},
		},
	}

	return cfg, ps
}

func TestFitRecoversWarehouse(t *testing.T) {

	cfg, ps := tightSetup()
	cd := country(2000, 2003)
	cd.Manufactured = annual(2000, 100, 100, 100)
	cd.AdminDistributed = annual(2000, 50, 50, 50)

	var parlog bytes.Buffer
	res, err := Fit(context.Background(), cfg, cd, ps, Options{ParLog: &parlog})
	require.NoError(t, err)

	assert.Equal(t, graph.Converged, res.Status)
	assert.Equal(t, config.MethodMCMC, res.Method)
	assert.Equal(t, 200, res.TraceLen)

	w := res.Series[SeriesWarehouse]
	require.Len(t, w.Mean, 3)
	assert.InDeltaSlice(t, []float64{0, 50, 100}, w.Mean, 5)
	for i := range w.Mean {
		assert.LessOrEqual(t, w.Lower[i], w.Mean[i])
		assert.GreaterOrEqual(t, w.Upper[i], w.Mean[i])
	}

	assert.InDeltaSlice(t, []float64{100, 100, 100}, res.Series[SeriesManufactured].Mean, 1)
	assert.InDeltaSlice(t, []float64{50, 50, 50}, res.Series[SeriesDistributed].Mean, 1)

	rows := res.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, 2002, rows[2].Year)
	assert.Equal(t, "converged", rows[2].Status)
	assert.InDelta(t, 0.1, rows[2].Warehouse, 0.005)
	assert.InDelta(t, 0.1, rows[0].Shipped, 0.001)
	assert.Equal(t, float64(report.Missing), rows[2].Shipped)
	assert.Equal(t, float64(report.Missing), rows[2].DistributedUpper)

	assert.Contains(t, parlog.String(), "state at mode")
	assert.Contains(t, parlog.String(), "warehouse")
}

func TestFitMAP(t *testing.T) {

	cfg, ps := tightSetup()
	cfg.Method = config.MethodMAP
	cd := country(2000, 2003)
	cd.Manufactured = annual(2000, 100, 100, 100)
	cd.AdminDistributed = annual(2000, 50, 50, 50)

	res, err := Fit(context.Background(), cfg, cd, ps, Options{})
	require.NoError(t, err)

	assert.NotEqual(t, graph.Failed, res.Status)
	assert.Equal(t, 0, res.TraceLen)

	w := res.Series[SeriesWarehouse]
	assert.InDeltaSlice(t, []float64{0, 50, 100}, w.Mean, 5)
	assert.Equal(t, w.Mean, w.Lower)
	assert.Equal(t, w.Mean, w.Upper)

	var buf bytes.Buffer
	require.NoError(t, res.WriteSummary(&buf))
	assert.Contains(t, buf.String(), "Synthetia")
	assert.Contains(t, buf.String(), "W_0")
}

func TestFitCanceled(t *testing.T) {

	cfg, ps := tightSetup()
	cd := country(2000, 2003)
	cd.Manufactured = annual(2000, 100, 100, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Fit(ctx, cfg, cd, ps, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, graph.Failed, res.Status)

	// Rows are still produced from the current state
	rows := res.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, "failed", rows[0].Status)
	assert.InDelta(t, 0.1, rows[0].Shipped, 0.01)
}

func TestFitRejectsMethod(t *testing.T) {

	cfg, ps := tightSetup()
	cfg.Method = "gibbs"
	_, err := Fit(context.Background(), cfg, country(2000, 2003), ps, Options{})
	assert.ErrorIs(t, err, config.ErrUnknownMethod)
}

func TestSeed(t *testing.T) {
	assert.Equal(t, Seed(1, "Kenya"), Seed(1, "Kenya"))
	assert.NotEqual(t, Seed(1, "Kenya"), Seed(1, "Uganda"))
	assert.NotEqual(t, Seed(1, "Kenya"), Seed(2, "Kenya"))
}

func TestRowsMissingSeries(t *testing.T) {

	res := &Result{
		Country:   "Synthetia",
		YearStart: 2000,
		Years:     2,
		Status:    graph.PartialResults,
		Series: map[string]graph.Stats{
			SeriesWarehouse: graph.PointStats([]float64{1000, 2000}),
		},
	}

	rows := res.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, rows[1].Warehouse)
	assert.Equal(t, float64(report.Missing), rows[0].HouseholdStock)
	assert.Equal(t, "partial", rows[0].Status)
}
