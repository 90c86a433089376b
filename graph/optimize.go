package graph

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// Objective value used in place of an infinite or undefined negative log
// density, so that the simplex can move away from such points.
const badObjective = 1e300

// ModeResult reports on a mode-finding run.
type ModeResult struct {

	// True if the optimizer reported convergence
	Converged bool

	// The optimizer termination status
	Status optimize.Status

	// Number of objective evaluations
	Evals int

	// Log density at the returned point
	LogP float64

	// Non-nil if the optimizer stopped with an error
	Err error
}

// FindMode maximizes the joint log density over the unconstrained free
// coordinates using the derivative-free Nelder-Mead simplex method.  The
// graph is left at the best point found, even when the optimizer does not
// converge.
func (g *Graph) FindMode(ctx context.Context, maxEvals int) ModeResult {

	x0 := g.Unconstrained(nil)
	best := make([]float64, len(x0))
	copy(best, x0)
	bestF := -g.LogP()
	if math.IsNaN(bestF) || math.IsInf(bestF, 0) {
		bestF = badObjective
	}

	var evals int
	problem := optimize.Problem{
		Func: func(y []float64) float64 {
			evals++
			g.SetUnconstrained(y)
			f := -g.LogP()
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return badObjective
			}
			if f < bestF {
				bestF = f
				copy(best, y)
			}
			return f
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-8,
			Iterations: 200,
		},
	}

	var mr ModeResult
	if len(x0) == 0 {
		mr.Converged = true
		mr.LogP = g.LogP()
		return mr
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	mr.Err = err
	if result != nil {
		mr.Status = result.Status
		switch result.Status {
		case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
			optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
			mr.Converged = err == nil
		}
	}

	g.SetUnconstrained(best)
	mr.Evals = evals
	mr.LogP = g.LogP()

	return mr
}
