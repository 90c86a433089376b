// Command emprior computes the empirical priors from the pooled data and
// caches them, so that the estimate workers can start from the cache.
//
// With -refine, the admin error and bias prior is recomputed using a
// previous estimate output as the truth for net distribution.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/priors"
	"github.com/kshedden/stockflow/report"
)

var (
	logger *slog.Logger
)

// writePrior writes the moments of a prior in text format.
func writePrior(w io.Writer, p *priors.Prior) error {

	note := ""
	if p.SmallSample {
		note = " (small sample)"
	}
	if _, err := fmt.Fprintf(w, "%s: n=%d, %s%s\n", p.Name, p.N, p.Source, note); err != nil {
		return err
	}

	var keys []string
	for k := range p.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		m := p.Params[k]
		if _, err := fmt.Fprintf(w, "  %-8s mean %10.4f  std %10.4f\n", k, m.Mu, m.Std); err != nil {
			return err
		}
	}

	return nil
}

func run(ctx context.Context, cfg *config.Config, name, refine string) error {

	d, err := data.Load(cfg.DataDir)
	if err != nil {
		return err
	}
	est := priors.NewEstimator(d, priors.NewStore(cfg.CacheDir), cfg, logger)

	if refine != "" {
		rows, err := report.ReadFile(refine)
		if err != nil {
			return err
		}
		p, err := est.RefineAdmin(ctx, rows, cfg.RefineCountries, cfg.RefineFromYear)
		if err != nil {
			return fmt.Errorf("refine admin prior: %w", err)
		}
		logger.Info("refined admin prior", "rows", len(rows), "n", p.N)
		return writePrior(os.Stdout, p)
	}

	names := priors.Names
	if name != "" {
		names = []string{name}
	}

	for _, nm := range names {
		p, err := est.Get(ctx, nm)
		if err != nil {
			if p == nil {
				return err
			}
			logger.Warn("prior not estimated", "prior", nm, "n", p.N, "err", err)
			p = priors.Fallback(nm)
		}
		if err := writePrior(os.Stdout, p); err != nil {
			return err
		}
	}

	return nil
}

func main() {

	configPath := flag.String("config", "", "YAML configuration file")
	recompute := flag.Bool("recompute", false, "Recompute priors even if cached")
	name := flag.String("prior", "", "Compute only this prior (discard, admin, coverage or design)")
	refine := flag.String("refine", "", "Previous estimate output used to refine the admin prior")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emprior: %v\n", err)
		os.Exit(1)
	}
	if *recompute {
		cfg.Recompute = true
	}

	var closeLog func() error
	logger, closeLog, err = cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "emprior: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = run(ctx, cfg, *name, *refine)
	stop()

	if err != nil {
		logger.Error("emprior failed", "err", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}
