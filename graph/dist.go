package graph

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// NormalLike returns the normal log density of x with the given mean and
// standard deviation.
func NormalLike(x, mu, sd float64) float64 {
	if !(sd > 0) {
		return math.Inf(-1)
	}
	return distuv.Normal{Mu: mu, Sigma: sd}.LogProb(x)
}

// LogNormalLike returns the log-normal log density of x, where mu and sd
// refer to log(x).
func LogNormalLike(x, mu, sd float64) float64 {
	if !(sd > 0) || !(x > 0) {
		return math.Inf(-1)
	}
	return distuv.LogNormal{Mu: mu, Sigma: sd}.LogProb(x)
}

// GammaLike returns the gamma log density with the given shape and rate.
func GammaLike(x, shape, rate float64) float64 {
	if !(x > 0) || !(shape > 0) || !(rate > 0) {
		return math.Inf(-1)
	}
	return distuv.Gamma{Alpha: shape, Beta: rate}.LogProb(x)
}

// InverseGammaLike returns the inverse gamma log density with the given
// shape and scale.
func InverseGammaLike(x, shape, scale float64) float64 {
	if !(x > 0) || !(shape > 0) || !(scale > 0) {
		return math.Inf(-1)
	}
	return distuv.InverseGamma{Alpha: shape, Beta: scale}.LogProb(x)
}

// BetaLike returns the beta log density.
func BetaLike(x, alpha, beta float64) float64 {
	if !(x > 0 && x < 1) || !(alpha > 0) || !(beta > 0) {
		return math.Inf(-1)
	}
	return distuv.Beta{Alpha: alpha, Beta: beta}.LogProb(x)
}

// ExponentialLike returns the exponential log density with the given rate.
func ExponentialLike(x, rate float64) float64 {
	if x < 0 || !(rate > 0) {
		return math.Inf(-1)
	}
	return distuv.Exponential{Rate: rate}.LogProb(x)
}

// UniformLike returns the uniform log density on [lo, hi].
func UniformLike(x, lo, hi float64) float64 {
	if x < lo || x > hi {
		return math.Inf(-1)
	}
	return distuv.Uniform{Min: lo, Max: hi}.LogProb(x)
}

// NegBinomZero returns the probability that a negative binomial variable
// with the given mean and dispersion is zero.
func NegBinomZero(mean, alpha float64) float64 {
	if mean <= 0 {
		return 1
	}
	return math.Exp(alpha * (math.Log(alpha) - math.Log(alpha+mean)))
}

// GammaMoments returns the shape and rate of a gamma distribution with the
// given mean and standard deviation.
func GammaMoments(mu, sd float64) (float64, float64) {
	v := sd * sd
	return mu * mu / v, mu / v
}

// BetaMoments returns the parameters of a beta distribution with the
// given mean and variance.  The second return value is false when no beta
// distribution has these moments.
func BetaMoments(mu, v float64) (float64, float64, bool) {
	if !(mu > 0 && mu < 1) || !(v > 0) || v >= mu*(1-mu) {
		return 0, 0, false
	}
	c := mu*(1-mu)/v - 1
	return mu * c, (1 - mu) * c, true
}

// InvLogit maps the real line to (0, 1).
func InvLogit(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Logit maps (0, 1) to the real line.
func Logit(p float64) float64 {
	return math.Log(p) - math.Log1p(-p)
}
