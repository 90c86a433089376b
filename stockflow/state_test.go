package stockflow

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func randomFlows(rng *rand.Rand, n int) ([]float64, []float64) {
	nm := make([]float64, n)
	nd := make([]float64, n)
	for i := range nm {
		nm[i] = 1e5 * rng.Float64()
		nd[i] = 1e5 * rng.Float64()
	}
	return nm, nd
}

func TestWarehouseBalance(t *testing.T) {

	rng := rand.New(rand.NewSource(1))
	for rep := 0; rep < 100; rep++ {
		n := 2 + rng.Intn(12)
		nm, nd := randomFlows(rng, n)
		w0 := 1e5 * (rng.Float64() - 0.5)
		w := make([]float64, n)
		WarehouseStock(w0, nm, nd, w)

		assert.Equal(t, w0, w[0])
		for i := 0; i+1 < n; i++ {
			assert.Equal(t, w[i]+nm[i]-nd[i], w[i+1])
		}
	}

	w := make([]float64, 3)
	WarehouseStock(0, []float64{100, 100, 100}, []float64{50, 50, 50}, w)
	assert.Equal(t, []float64{0, 50, 100}, w)
}

func TestCohortConservation(t *testing.T) {

	rng := rand.New(rand.NewSource(2))
	for rep := 0; rep < 100; rep++ {
		n := 2 + rng.Intn(12)
		_, nd := randomFlows(rng, n)
		c := make([]float64, n*n)
		HouseholdCohorts(nd, rng.Float64(), 0.5, c)

		h := make([]float64, n)
		HouseholdStock(c, h)
		for i := 0; i < n; i++ {
			var s float64
			for k := 0; k < n; k++ {
				s += c[k*n+i]
			}
			assert.InDelta(t, s, h[i], 1e-9*math.Max(1, s))
		}

		// The youngest cohort is the distribution
		assert.Equal(t, nd, c[:n])
	}
}

func TestCohortAging(t *testing.T) {

	rng := rand.New(rand.NewSource(3))
	for rep := 0; rep < 100; rep++ {
		n := 2 + rng.Intn(12)
		pi := rng.Float64()
		halfExp := rng.Float64()
		_, nd := randomFlows(rng, n)

		// With a constant distribution older cohorts are no larger
		flat := make([]float64, n)
		for i := range flat {
			flat[i] = nd[0]
		}
		c := make([]float64, n*n)
		HouseholdCohorts(flat, pi, halfExp, c)
		for i := 0; i < n; i++ {
			for k := 1; k < n; k++ {
				assert.LessOrEqual(t, c[k*n+i], c[(k-1)*n+i]*(1+1e-12))
			}
		}

		// Each distribution decays as it ages
		HouseholdCohorts(nd, pi, halfExp, c)
		for s := 0; s < n; s++ {
			for k := 1; s+k < n; k++ {
				assert.LessOrEqual(t, c[k*n+s+k], c[(k-1)*n+s+k-1]*(1+1e-12))
			}
		}
	}
}

func TestCohortHalfPeriod(t *testing.T) {

	c := make([]float64, 9)
	HouseholdCohorts([]float64{100, 0, 0}, 0.19, 0.5, c)
	assert.InDelta(t, 90, c[3+1], 1e-9)
	assert.InDelta(t, 90*0.81, c[6+2], 1e-9)
}

func TestCoverageBounds(t *testing.T) {

	stock := []float64{0, 1e-12, 1, 1e3, 1e9, 1e300, -1e6}
	pop := []float64{1e6, 1e6, 1e6, 1e6, 1e6, 1, 1e6}
	cov := make([]float64, len(stock))

	for _, eta := range []float64{1e-6, 0.5, 5, 1e6} {
		for _, zeta := range []float64{0, 1e-9, 0.3, 1 - 1e-9} {
			Coverage(stock, pop, eta, zeta, cov)
			for _, c := range cov {
				require.False(t, math.IsNaN(c))
				assert.GreaterOrEqual(t, c, 0.0)
				assert.LessOrEqual(t, c, 1.0)
			}
		}
	}

	// Saturation approaches one minus the zero inflation
	Coverage([]float64{1e12}, []float64{1}, 5, 0.2, cov[:1])
	assert.InDelta(t, 0.8, cov[0], 1e-12)

	// No population, no coverage
	Coverage([]float64{10}, []float64{0}, 5, 0.2, cov[:1])
	assert.Equal(t, 0.0, cov[0])
}

func TestWaitingTimeSteadyState(t *testing.T) {

	n := 8
	nm := make([]float64, n)
	nd := make([]float64, n)
	w := make([]float64, n)
	for i := range nm {
		nm[i], nd[i] = 1000, 1000
	}
	WarehouseStock(1000, nm, nd, w)

	d := make([]float64, n)
	WaitingTime(w, nm, nd, 3, d)
	for i := 0; i < n; i++ {
		if Complete(i, n, 3) {
			assert.InDelta(t, 1, d[i], 1e-12)
		}
	}
	assert.True(t, Complete(4, n, 3))
	assert.False(t, Complete(5, n, 3))

	// An empty warehouse distributes everything in the year it arrives
	WarehouseStock(0, nm, nd, w)
	WaitingTime(w, nm, nd, 3, d)
	assert.InDelta(t, 0, d[0], 1e-12)

	// A slow pipeline waits longer
	for i := range nd {
		nd[i] = 500
	}
	WarehouseStock(1000, nm, nd, w)
	WaitingTime(w, nm, nd, 3, d)
	assert.Greater(t, d[0], 1.0)
}

func TestInterpolate(t *testing.T) {

	x := []float64{10, 20, 40}
	assert.Equal(t, 10.0, Interpolate(x, 2000, 1995.3))
	assert.Equal(t, 10.0, Interpolate(x, 2000, 2000))
	assert.InDelta(t, 15, Interpolate(x, 2000, 2000.5), 1e-12)
	assert.InDelta(t, 25, Interpolate(x, 2000, 2001.25), 1e-12)
	assert.Equal(t, 40.0, Interpolate(x, 2000, 2002.7))
	assert.Equal(t, 40.0, Interpolate(x, 2000, 2010))
}

func TestPenalties(t *testing.T) {

	assert.Equal(t, 0.0, NegativePenalty(1000, []float64{0, 1, 2}))
	assert.Equal(t, -1000*(4.0+9), NegativePenalty(1000, []float64{-2, 1}, []float64{-3}))

	// Non-decreasing series are not penalized
	assert.Equal(t, 0.0, CapacityPenalty([]float64{10, 20, 20, 30}, 0.1, 10))

	// A small dip is tolerated
	assert.Equal(t, 0.0, CapacityPenalty([]float64{100, 95}, 0.1, 10))

	// A large drop is not
	want := -10 * math.Pow(math.Log(100)-math.Log(50)-0.1, 2)
	assert.InDelta(t, want, CapacityPenalty([]float64{100, 50, 100}, 0.1, 10), 1e-12)

	d := LogDiffs([]float64{1, math.E, 0}, make([]float64, 2))
	assert.True(t, floats.EqualApprox(d, []float64{1, -1}, 1e-12))
}
