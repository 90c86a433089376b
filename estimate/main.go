// Command estimate fits the stock-and-flow model to every country in the
// data set and appends the yearly estimates to the output file.
//
// The country list can be split over several processes with -worker and
// -nworkers.  Each process fits its share with Workers goroutines, each
// of which writes its rows to a part file next to the output.  A single
// process merges its parts when it is done; after a multi-process run,
// call estimate -merge once all workers have finished.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kshedden/stockflow/config"
	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/metrics"
	"github.com/kshedden/stockflow/priors"
	"github.com/kshedden/stockflow/report"
	"github.com/kshedden/stockflow/stockflow"
)

var (
	logger *slog.Logger
)

type options struct {
	worker   int
	nworkers int
	country  string
	parlog   string
}

// partition returns the countries handled by one worker process.
func partition(countries []string, opt options) []string {

	var cl []string
	for i, c := range countries {
		switch {
		case opt.country != "":
			if c == opt.country {
				cl = append(cl, c)
			}
		case i%opt.nworkers == opt.worker:
			cl = append(cl, c)
		}
	}

	return cl
}

// metricsPath returns the metrics textfile of one worker process.
func metricsPath(path string, opt options) string {
	if opt.nworkers == 1 {
		return path
	}
	return fmt.Sprintf("%s-%d.prom", strings.TrimSuffix(path, ".prom"), opt.worker)
}

// parLog serializes the parameter summaries of concurrent fits.
type parLog struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *parLog) write(buf *bytes.Buffer) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := buf.WriteTo(p.w); err != nil {
		logger.Warn("cannot write parameter log", "err", err)
	}
}

func run(ctx context.Context, cfg *config.Config, opt options) error {

	d, err := data.Load(cfg.DataDir)
	if err != nil {
		return err
	}

	mets := metrics.New()

	est := priors.NewEstimator(d, priors.NewStore(cfg.CacheDir), cfg, logger)
	ps, err := est.All(ctx)
	if err != nil {
		return fmt.Errorf("empirical priors: %w", err)
	}
	for _, p := range []*priors.Prior{ps.Discard, ps.Admin, ps.Coverage, ps.Design} {
		mets.IncrementPrior(p.Source)
		if p.SmallSample {
			logger.Warn("prior rests on few records", "prior", p.Name, "n", p.N, "source", p.Source)
		}
	}

	countries := partition(d.Countries(), opt)
	if len(countries) == 0 {
		logger.Warn("no countries to fit", "worker", opt.worker, "nworkers", opt.nworkers, "country", opt.country)
		return nil
	}
	logger.Info("starting batch", "countries", len(countries), "workers", cfg.Workers,
		"method", cfg.Method, "profile", cfg.Profile)

	var pl *parLog
	if opt.parlog != "" {
		fid, err := os.Create(opt.parlog)
		if err != nil {
			return fmt.Errorf("create parameter log: %w", err)
		}
		defer fid.Close()
		pl = &parLog{w: fid}
	}

	var progress io.Writer
	if cfg.Progress && cfg.Workers == 1 {
		progress = os.Stderr
	}

	runID := uuid.NewString()
	queue := make(chan string)
	parts := make([]string, cfg.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, c := range countries {
			select {
			case queue <- c:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for j := 0; j < cfg.Workers; j++ {
		j := j
		parts[j] = report.PartPath(cfg.OutputPath, opt.worker*cfg.Workers+j, runID)
		g.Go(func() error {

			var rows []report.Row
			var ferr error
			for c := range queue {
				cd := d.ForCountry(c, cfg.YearStart, cfg.YearEnd)

				var buf bytes.Buffer
				fo := stockflow.Options{
					Logger:   logger,
					Progress: progress,
				}
				if pl != nil {
					fo.ParLog = &buf
				}

				res, err := stockflow.Fit(gctx, cfg, cd, ps, fo)
				if res != nil {
					rows = append(rows, res.Rows()...)
					mets.ObserveFit(c, res.Status.String(), res.Duration,
						res.Diagnostics.MeanAcceptance(), res.TraceLen)
					pl.write(&buf)
				}
				if err != nil {
					ferr = fmt.Errorf("%s: %w", c, err)
					break
				}
			}

			// Rows of completed fits are kept even if the batch stops early
			if len(rows) > 0 {
				if err := report.WritePart(parts[j], rows); err != nil {
					return err
				}
			}
			return ferr
		})
	}

	gerr := g.Wait()

	if cfg.MetricsPath != "" {
		if err := mets.WriteTextfile(metricsPath(cfg.MetricsPath, opt)); err != nil {
			logger.Warn("cannot write metrics", "err", err)
		}
	}

	if gerr != nil {
		return gerr
	}

	if opt.nworkers > 1 {
		logger.Info("worker done, merge the part files when all workers finish", "worker", opt.worker)
		return nil
	}

	var written []string
	for _, p := range parts {
		if _, err := os.Stat(p); err == nil {
			written = append(written, p)
		}
	}
	n, err := report.Merge(cfg.OutputPath, written)
	if err != nil {
		return err
	}
	logger.Info("batch complete", "rows", n, "output", cfg.OutputPath)

	return nil
}

// merge appends every part file found next to the output.
func merge(output string) error {

	parts, err := report.Parts(output)
	if err != nil {
		return err
	}
	n, err := report.Merge(output, parts)
	if err != nil {
		return err
	}
	logger.Info("merged part files", "parts", len(parts), "rows", n, "output", output)

	return nil
}

func main() {

	configPath := flag.String("config", "", "YAML configuration file")
	worker := flag.Int("worker", 0, "Index of this worker process")
	nworkers := flag.Int("nworkers", 1, "Number of worker processes")
	country := flag.String("country", "", "Fit only this country")
	method := flag.String("method", "", "Estimation method (mcmc or map), overrides the configuration")
	profile := flag.String("profile", "", "Computational profile, overrides the configuration")
	parlog := flag.String("parlog", "", "File for the parameter summaries of each fit")
	mergeOnly := flag.Bool("merge", false, "Merge existing part files into the output and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "estimate: %v\n", err)
		os.Exit(1)
	}
	if *method != "" {
		cfg.Method = *method
	}
	if *profile != "" {
		cfg.Profile = *profile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "estimate: %v\n", err)
		os.Exit(1)
	}
	if *nworkers < 1 || *worker < 0 || *worker >= *nworkers {
		fmt.Fprintf(os.Stderr, "estimate: worker %d of %d is out of range\n", *worker, *nworkers)
		os.Exit(1)
	}

	var closeLog func() error
	logger, closeLog, err = cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "estimate: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	if *mergeOnly {
		err = merge(cfg.OutputPath)
	} else {
		err = run(ctx, cfg, options{
			worker:   *worker,
			nworkers: *nworkers,
			country:  *country,
			parlog:   *parlog,
		})
	}
	stop()

	if err != nil {
		logger.Error("estimate failed", "err", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}
