package priors

import (
	"context"
	"fmt"

	"github.com/kshedden/stockflow/report"
)

// Half-width of a 95% normal interval in standard deviations
const z95 = 1.96

// FlowFromRows converts the distribution estimates of a previous batch
// into FlowTruth values.  Only the listed countries (all if empty) and
// years from fromYear on are used.  Boundary rows without a distribution
// estimate are skipped.
func FlowFromRows(rows []report.Row, countries []string, fromYear int) []FlowTruth {

	keep := make(map[string]bool)
	for _, c := range countries {
		keep[c] = true
	}

	var fl []FlowTruth
	for _, r := range rows {
		if len(keep) > 0 && !keep[r.Country] {
			continue
		}
		if r.Year < fromYear || r.Distributed < 0 {
			continue
		}
		fl = append(fl, FlowTruth{
			Country: r.Country,
			Year:    r.Year,
			Total:   r.Distributed * 1000,
			SE:      (r.DistributedUpper - r.DistributedLower) * 1000 / (2 * z95),
		})
	}

	return fl
}

// RefineAdmin recomputes the admin error and bias prior using the
// posterior distribution estimates of a previous batch as the truth, in
// place of the household survey flow data.  The refined prior replaces
// the cached one.  This is one step of an EM-like outer loop that is run
// between batches.
func (e *Estimator) RefineAdmin(ctx context.Context, rows []report.Row, countries []string, fromYear int) (*Prior, error) {

	flow := FlowFromRows(rows, countries, fromYear)
	if len(flow) == 0 {
		return &Prior{Name: Admin}, fmt.Errorf("refine %s: %w", Admin, ErrNoJoinedData)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.flow = flow
	defer func() { e.flow = nil }()

	p, err := e.compute(ctx, Admin)
	if err != nil {
		return p, err
	}
	if err := e.save(p); err != nil {
		return nil, err
	}
	e.done[Admin] = p

	return p, nil
}
