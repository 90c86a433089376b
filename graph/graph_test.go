package graph

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPSumsNodes(t *testing.T) {

	g := New()
	x := g.AddScalar("x", Real, 0.5, func(v float64) float64 { return NormalLike(v, 0, 1) })
	y := g.AddDeterministic("y", 1, []NodeID{x}, func(p [][]float64, out []float64) {
		out[0] = 2 * p[0][0]
	})
	g.AddObserved("obs", []NodeID{y}, LikelihoodFunc(func(p [][]float64) float64 {
		return NormalLike(3, p[0][0], 1)
	}))

	want := NormalLike(0.5, 0, 1) + NormalLike(3, 1, 1)
	assert.InDelta(t, want, g.LogP(), 1e-12)

	g.SetValue(x, []float64{1})
	assert.Equal(t, 2.0, g.Value(y)[0])
	assert.InDelta(t, NormalLike(1, 0, 1)+NormalLike(3, 2, 1), g.LogP(), 1e-12)
}

func TestOutsideSupport(t *testing.T) {

	g := New()
	g.AddScalar("p", Unit, 0.3, func(v float64) float64 { return 0 })
	b := g.AddScalar("b", Real, 1, func(v float64) float64 { return UniformLike(v, 0, 2) })
	assert.False(t, math.IsInf(g.LogP(), -1))

	g.SetValue(b, []float64{3})
	assert.True(t, math.IsInf(g.LogP(), -1))
}

func TestUnconstrainedCoordinates(t *testing.T) {

	g := New()
	g.AddScalar("r", Real, -1.5, func(float64) float64 { return 0 })
	g.AddFree("s", Positive, []float64{2, 4}, func([]float64) float64 { return 0 })
	g.AddScalar("u", Unit, 0.25, func(float64) float64 { return 0 })

	require.Equal(t, 4, g.Dim())
	y := g.Unconstrained(nil)
	assert.InDelta(t, -1.5, y[0], 1e-12)
	assert.InDelta(t, math.Log(2), y[1], 1e-12)
	assert.InDelta(t, math.Log(4), y[2], 1e-12)
	assert.InDelta(t, math.Log(1.0/3), y[3], 1e-12)

	g.SetUnconstrained([]float64{0, 0, 1, 0})
	s := g.Snapshot()
	require.Len(t, s, 3)
	assert.Equal(t, 0.0, s[0][0])
	assert.InDelta(t, 1, s[1][0], 1e-12)
	assert.InDelta(t, math.E, s[1][1], 1e-12)
	assert.InDelta(t, 0.5, s[2][0], 1e-12)
}

func TestDuplicateNamePanics(t *testing.T) {

	g := New()
	g.AddScalar("x", Real, 0, func(float64) float64 { return 0 })
	assert.Panics(t, func() {
		g.AddScalar("x", Real, 0, func(float64) float64 { return 0 })
	})
}

func TestFindMode(t *testing.T) {

	g := New()
	mu := g.AddScalar("mu", Real, 0, func(v float64) float64 { return NormalLike(v, 0, 10) })
	for i := 0; i < 20; i++ {
		g.AddObserved("y"+string(rune('a'+i)), []NodeID{mu}, LikelihoodFunc(func(p [][]float64) float64 {
			return NormalLike(3, p[0][0], 1)
		}))
	}

	mr := g.FindMode(context.Background(), 2000)
	assert.NoError(t, mr.Err)
	assert.InDelta(t, 60/20.01, g.Value(mu)[0], 1e-2)
	assert.Greater(t, mr.Evals, 0)
}

func TestSampleNormal(t *testing.T) {

	g := New()
	x := g.AddScalar("x", Real, 0, func(v float64) float64 { return NormalLike(v, 2, 0.5) })

	res := g.Sample(context.Background(), SampleSettings{Iter: 20000, Burn: 2000, Thin: 2, Seed: 7}, nil)
	require.Equal(t, Converged, res.Status)
	require.NoError(t, res.Err)
	assert.Equal(t, 9000, res.TraceLen)

	st, err := res.Trace.Summarize(x)
	require.NoError(t, err)
	assert.InDelta(t, 2, st.Mean[0], 0.1)
	assert.InDelta(t, 0.5, st.Std[0], 0.1)
	assert.InDelta(t, 2-1.96*0.5, st.Lower[0], 0.2)
	assert.InDelta(t, 2+1.96*0.5, st.Upper[0], 0.2)
}

func TestSamplePositiveUsesJacobian(t *testing.T) {

	g := New()
	x := g.AddScalar("x", Positive, 1, func(v float64) float64 { return GammaLike(v, 4, 2) })

	res := g.Sample(context.Background(), SampleSettings{Iter: 30000, Burn: 3000, Thin: 3, Seed: 11}, nil)
	require.Equal(t, Converged, res.Status)

	st, err := res.Trace.Summarize(x)
	require.NoError(t, err)
	assert.InDelta(t, 2, st.Mean[0], 0.2)
}

func TestSampleRecordsThinnedDraws(t *testing.T) {

	g := New()
	g.AddScalar("x", Real, 0, func(v float64) float64 { return NormalLike(v, 0, 1) })

	res := g.Sample(context.Background(), SampleSettings{Iter: 100, Burn: 20, Thin: 10, Seed: 1}, nil)
	assert.Equal(t, 8, res.TraceLen)
	assert.Equal(t, 100, res.Diagnostics.Iterations)
	assert.Contains(t, res.Diagnostics.Acceptance, "x")
}

func TestSamplePanicKeepsPartialTrace(t *testing.T) {

	g := New()
	x := g.AddScalar("x", Real, 0, func(v float64) float64 { return NormalLike(v, 0, 1) })
	var calls int
	g.AddObserved("flaky", nil, LikelihoodFunc(func([][]float64) float64 {
		calls++
		if calls > 50 {
			panic("numerical failure")
		}
		return 0
	}))

	res := g.Sample(context.Background(), SampleSettings{Iter: 100, Burn: 10, Thin: 1, Seed: 3}, nil)
	assert.Equal(t, PartialResults, res.Status)
	assert.Error(t, res.Err)
	assert.Greater(t, res.TraceLen, 0)
	assert.Less(t, res.TraceLen, 90)

	// The state is the last complete iteration, not the failed proposal
	draws := res.Trace.Draws(x)
	assert.Equal(t, draws[len(draws)-1][0], g.Value(x)[0])
}

func TestSampleFailsWithoutDraws(t *testing.T) {

	g := New()
	g.AddScalar("x", Real, 0, func(v float64) float64 { return NormalLike(v, 0, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := g.Sample(ctx, SampleSettings{Iter: 100, Burn: 10, Thin: 1}, nil)
	assert.Equal(t, Failed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.TraceLen)
}

func TestPointStats(t *testing.T) {

	st := PointStats([]float64{1, 2})
	assert.Equal(t, []float64{1, 2}, st.Mean)
	assert.Equal(t, []float64{1, 2}, st.Lower)
	assert.Equal(t, []float64{0, 0}, st.Std)

	var tr *Trace
	_, err := tr.Summarize(0)
	assert.ErrorIs(t, err, ErrNoTrace)
}

func TestSampleRejectsProposalsAtBounds(t *testing.T) {

	g := New()
	p := g.AddScalar("p", Unit, 0.5, func(v float64) float64 { return BetaLike(v, 1, 1) })

	// Steps this wide push most proposals past the logit range
	g.nodes[p].step[0] = 100

	res := g.Sample(context.Background(), SampleSettings{Iter: 200, Burn: 0, Thin: 1, Seed: 7}, nil)
	require.Equal(t, Converged, res.Status)
	assert.Greater(t, g.Warnings.RejectedBounds, 0)

	for _, d := range res.Trace.Draws(p) {
		assert.Greater(t, d[0], unitEps)
		assert.Less(t, d[0], 1-unitEps)
	}
}

func TestLogit(t *testing.T) {
	for _, x := range []float64{0.01, 0.3, 0.5, 0.99} {
		assert.InDelta(t, x, InvLogit(Logit(x)), 1e-12)
		assert.InDelta(t, x, fromUnconstrained(Unit, toUnconstrained(Unit, x)), 1e-12)
	}
	assert.InDelta(t, 0, Logit(0.5), 1e-15)
}
