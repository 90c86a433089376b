package priors

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// design returns the moments of the ratio of complex-survey to simple
// random sample variance estimates.  No sampling is needed.
func (e *Estimator) design() (*Prior, error) {

	x := e.data.DesignRatios()
	p := &Prior{Name: Design, N: len(x), Params: make(map[string]Moments)}
	if len(x) == 0 {
		return p, fmt.Errorf("%s: %w", Design, ErrNoJoinedData)
	}

	mu, std := stat.PopMeanStdDev(x, nil)
	p.Params["ratio"] = newMoments(mu, std)

	return p, nil
}
