package stockflow

import (
	"math"
)

// WarehouseStock fills w with the warehouse balance recurrence
//
//	w[0] = w0,  w[t+1] = w[t] + nm[t] - nd[t]
//
// where nm are the nets manufactured and nd the nets distributed.
func WarehouseStock(w0 float64, nm, nd, w []float64) {
	w[0] = w0
	for t := 0; t+1 < len(w); t++ {
		w[t+1] = w[t] + nm[t] - nd[t]
	}
}

// HouseholdCohorts fills the cohort matrix c, stored row-major with one
// row per cohort age and one column per year, so that c[k*T+t] holds the
// nets of age k+1 in year t.  The youngest cohort is the year's
// distribution.  A cohort survives its first transition with probability
// (1-pi)^halfExp and each later one with probability 1-pi.
func HouseholdCohorts(nd []float64, pi, halfExp float64, c []float64) {

	nt := len(nd)
	nk := len(c) / nt
	first := math.Pow(1-pi, halfExp)

	copy(c[:nt], nd)
	for k := 1; k < nk; k++ {
		surv := 1 - pi
		if k == 1 {
			surv = first
		}
		row, prev := c[k*nt:(k+1)*nt], c[(k-1)*nt:k*nt]
		row[0] = 0
		for t := 1; t < nt; t++ {
			row[t] = prev[t-1] * surv
		}
	}
}

// HouseholdStock fills h with the column sums of the cohort matrix.
func HouseholdStock(c, h []float64) {

	nt := len(h)
	for t := range h {
		h[t] = 0
	}
	for k := 0; k*nt < len(c); k++ {
		for t := 0; t < nt; t++ {
			h[t] += c[k*nt+t]
		}
	}
}

// Coverage fills cov with the fraction of the population with at least
// one net,
//
//	(1 - zeta) * (1 - exp(-eta * stock / pop))
//
// Negative stocks count as zero, and years without population have no
// coverage.
func Coverage(stock, pop []float64, eta, zeta float64, cov []float64) {
	for t := range cov {
		if !(pop[t] > 0) {
			cov[t] = 0
			continue
		}
		pc := math.Max(0, stock[t]) / pop[t]
		cov[t] = (1 - zeta) * -math.Expm1(-eta*pc)
	}
}

// WaitingTime fills d with the distribution waiting time.  For year t it
// sums, over the lookahead horizon k = 0..L, the fraction of the year's
// supply (warehouse stock plus manufacturing) that is still
// undistributed after the distributions of years t..t+k.  Each term is
// clamped to [0, 1].  In a steady state where the warehouse holds one
// year of manufacturing the waiting time is one.  Near the end of the
// horizon the sum is truncated; Complete reports whether it is not.
func WaitingTime(w, nm, nd []float64, lookahead int, d []float64) {

	nt := len(d)
	for t := 0; t < nt; t++ {
		m := math.Max(1, nm[t])
		avail := w[t] + nm[t]
		var s float64
		for k := 0; k <= lookahead && t+k < nt; k++ {
			avail -= nd[t+k]
			s += clamp(avail/m, 0, 1)
		}
		d[t] = s
	}
}

// Complete reports whether the waiting time of year t uses the full
// lookahead over a horizon of nt years.
func Complete(t, nt, lookahead int) bool {
	return t+lookahead < nt
}

// Interpolate evaluates a yearly series at a fractional date by linear
// interpolation between adjacent years.  Dates outside the horizon take
// the value of the nearest year.
func Interpolate(x []float64, start int, date float64) float64 {

	u := date - float64(start)
	i := int(math.Floor(u))
	switch {
	case i < 0:
		return x[0]
	case i >= len(x)-1:
		return x[len(x)-1]
	}
	f := u - float64(i)

	return (1-f)*x[i] + f*x[i+1]
}

// NegativePenalty returns -weight times the sum of squares of the negative
// elements of the series.
func NegativePenalty(weight float64, series ...[]float64) float64 {
	var s float64
	for _, x := range series {
		for _, v := range x {
			if v < 0 {
				s += v * v
			}
		}
	}
	return -weight * s
}

// CapacityPenalty penalizes years in which log(x) falls more than tol
// below its running maximum over the earlier years.  Each shortfall
// contributes -weight times its square.
func CapacityPenalty(x []float64, tol, weight float64) float64 {

	var s float64
	runmax := math.Inf(-1)
	for _, v := range x {
		lv := math.Log(math.Max(1, v))
		if d := runmax - lv - tol; d > 0 {
			s += d * d
		}
		runmax = math.Max(runmax, lv)
	}

	return -weight * s
}

// LogDiffs writes the first differences of log(max(1, x)) into d, which
// has length len(x)-1, and returns it.
func LogDiffs(x, d []float64) []float64 {
	for t := 0; t+1 < len(x); t++ {
		d[t] = math.Log(math.Max(1, x[t+1])) - math.Log(math.Max(1, x[t]))
	}
	return d
}

func clamp(x, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, x))
}
