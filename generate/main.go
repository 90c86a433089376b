// Command generate writes a synthetic bednet data set in the layout read
// by the data package.  The latent series are simulated from the
// stock-and-flow recurrences, and every data source is a noisy view of
// them, so the output can be used to check that estimate recovers known
// values.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kshedden/stockflow/data"
	"github.com/kshedden/stockflow/stockflow"
)

// Parameters of the simulated countries
type params struct {
	pi      float64
	halfExp float64
	eta     float64
	zeta    float64

	// Fraction of available stock distributed each year
	distRate float64

	// Log-scale bias and error of the administrative reports
	adminBias float64
	adminSD   float64

	manuSD float64
}

var defaultParams = params{
	pi:        0.15,
	halfExp:   0.5,
	eta:       5,
	zeta:      0.1,
	distRate:  0.7,
	adminBias: 0.1,
	adminSD:   0.2,
	manuSD:    0.05,
}

type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(row ...string) {
	t.rows = append(t.rows, row)
}

type generator struct {
	rng  *rand.Rand
	norm distuv.Normal
	par  params

	start, end int

	// Years between household surveys
	surveyGap int

	tables map[string]*table
}

func newGenerator(seed uint64, start, end, gap int) *generator {

	src := rand.NewSource(seed)
	g := &generator{
		rng:       rand.New(src),
		norm:      distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		par:       defaultParams,
		start:     start,
		end:       end,
		surveyGap: gap,
		tables:    make(map[string]*table),
	}

	g.tables[data.PopulationFile] = &table{header: []string{data.ColCountry, data.ColYear, data.ColPopulation}}
	g.tables[data.ManufacturingFile] = &table{header: []string{data.ColCountry, data.ColYear, data.ColManufactured}}
	g.tables[data.AdminFile] = &table{header: []string{data.ColCountry, data.ColYear, data.ColAdmin}}
	g.tables[data.FlowFile] = &table{header: []string{data.ColCountry, data.ColYear, data.ColSurveyYear,
		data.ColSurveyDateRaw, data.ColFlow, data.ColFlowSE}}
	g.tables[data.StockFile] = &table{header: []string{data.ColName, data.ColSurveyYear, data.ColSurveyDateRaw,
		data.ColStock, data.ColStockSE}}
	g.tables[data.LLINCoverageFile] = &table{header: []string{data.ColCountry, data.ColSurveyYear,
		data.ColSurveyDateRaw, data.ColLLINUncovered, data.ColLLINUncovSE, data.ColSampleSize}}
	g.tables[data.ITNCoverageFile] = &table{header: []string{data.ColCountry, data.ColSurveyYear,
		data.ColSurveyDateRaw, data.ColITNUncovered, data.ColITNUncovSE, data.ColSampleSize}}
	g.tables[data.NetCountFile] = &table{header: []string{data.ColCountry, data.ColSurveyYear,
		data.ColSurveyDateRaw, "avg_llins_per_hh"}}
	g.tables[data.RetentionFile] = &table{header: []string{data.ColName, data.ColYear, data.ColRetention, data.ColFollowUp}}
	g.tables[data.DesignFile] = &table{header: []string{data.ColDesignITN, data.ColDesignLLIN}}

	return g
}

func ftoa(x float64) string {
	return strconv.FormatFloat(x, 'f', 4, 64)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

// surveyDate returns a survey date in the input layout and as a
// fractional year.
func surveyDate(year, month int) (string, float64) {
	tm := time.Date(year, time.Month(month), 15, 0, 0, 0, 0, time.UTC)
	return tm.Format("02-Jan-06"), float64(year) + float64(month)/12
}

func (g *generator) country(name string) {

	nt := g.end - g.start
	par := g.par

	// Population in thousands, growing by about 2.5% per year
	pop := make([]float64, nt)
	pop[0] = distuv.Uniform{Min: 2000, Max: 50000, Src: g.rng}.Rand()
	for t := 1; t < nt; t++ {
		pop[t] = pop[t-1] * 1.025
	}
	people := make([]float64, nt)
	for t := range pop {
		people[t] = 1000 * pop[t]
		g.tables[data.PopulationFile].add(name, itoa(g.start+t), ftoa(pop[t]))
	}

	// Manufacturing ramps up over the horizon
	nm := make([]float64, nt)
	for t := range nm {
		scale := 0.08 * people[t] * float64(t+1) / float64(nt)
		nm[t] = scale * math.Exp(0.3*g.norm.Rand())
	}

	// Distribution takes a fixed share of what is in the warehouse
	nd := make([]float64, nt)
	var avail float64
	for t := range nd {
		avail += nm[t]
		nd[t] = par.distRate * avail
		avail -= nd[t]
	}

	c := make([]float64, nt*nt)
	stockflow.HouseholdCohorts(nd, par.pi, par.halfExp, c)
	h := make([]float64, nt)
	stockflow.HouseholdStock(c, h)

	non := make([]float64, nt)
	for t := range non {
		non[t] = 0.02 * people[t] * math.Pow(0.85, float64(t))
	}
	total := make([]float64, nt)
	for t := range total {
		total[t] = h[t] + non[t]
	}
	cov := make([]float64, nt)
	stockflow.Coverage(h, people, par.eta, par.zeta, cov)
	itn := make([]float64, nt)
	stockflow.Coverage(total, people, par.eta, par.zeta, itn)

	for t := 0; t < nt; t++ {
		y := itoa(g.start + t)
		g.tables[data.ManufacturingFile].add(name, y, ftoa(nm[t]*math.Exp(par.manuSD*g.norm.Rand())))
		g.tables[data.AdminFile].add(name, y, ftoa(nd[t]*math.Exp(par.adminBias+par.adminSD*g.norm.Rand())))
	}

	// Household surveys
	offset := g.rng.Intn(g.surveyGap)
	for s := g.start + 1 + offset; s < g.end; s += g.surveyGap {
		// A December survey would date to the following year
		month := 1 + g.rng.Intn(11)
		raw, date := surveyDate(s, month)
		sy := itoa(s)

		hs := stockflow.Interpolate(h, g.start, date)
		se := 0.1 * hs
		g.tables[data.StockFile].add(name, sy, raw, ftoa(hs+se*g.norm.Rand()), ftoa(se))

		// Recalled distribution in the survey year and the two before it
		for y := s - 2; y <= s; y++ {
			if y < g.start {
				continue
			}
			lag := math.Max(0, date-float64(y)-0.5)
			v := nd[y-g.start] * math.Pow(1-par.pi, lag)
			se := 0.15 * v
			g.tables[data.FlowFile].add(name, itoa(y), sy, raw, ftoa(math.Max(0, v+se*g.norm.Rand())), ftoa(se))
		}

		n := 2000 + g.rng.Intn(8000)
		for _, cv := range []struct {
			file string
			x    []float64
		}{
			{data.LLINCoverageFile, cov},
			{data.ITNCoverageFile, itn},
		} {
			q := 1 - stockflow.Interpolate(cv.x, g.start, date)
			se := math.Sqrt(2 * math.Max(q*(1-q), 1e-4) / float64(n))
			u := math.Min(1, math.Max(0, q+se*g.norm.Rand()))
			g.tables[cv.file].add(name, sy, raw, ftoa(u), ftoa(se), itoa(n))
		}

		perHH := 5 * hs / stockflow.Interpolate(people, g.start, date)
		g.tables[data.NetCountFile].add(name, sy, raw, ftoa(perHH))
	}
}

// studies adds net retention studies and survey design effects.
func (g *generator) studies(n int) {

	for i := 0; i < n; i++ {
		fu := distuv.Uniform{Min: 0.5, Max: 4, Src: g.rng}.Rand()
		rate := math.Pow(1-g.par.pi, fu) + 0.03*g.norm.Rand()
		g.tables[data.RetentionFile].add(fmt.Sprintf("study%d", i+1),
			itoa(g.start+g.rng.Intn(g.end-g.start)), ftoa(math.Min(1, math.Max(0, rate))), ftoa(fu))
	}

	deff := distuv.Gamma{Alpha: 8, Beta: 4, Src: g.rng}
	for i := 0; i < n; i++ {
		g.tables[data.DesignFile].add(ftoa(deff.Rand()), ftoa(deff.Rand()))
	}
}

func (g *generator) write(dir string) error {

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for file, t := range g.tables {
		if err := data.WriteTable(filepath.Join(dir, file), t.header, t.rows); err != nil {
			return err
		}
	}

	return nil
}

func main() {

	var outdir string
	flag.StringVar(&outdir, "outdir", "", "Directory for the generated tables")

	var ncountry, nstudy, start, end, gap int
	flag.IntVar(&ncountry, "ncountry", 10, "Number of countries")
	flag.IntVar(&nstudy, "nstudy", 20, "Number of retention and design effect studies")
	flag.IntVar(&start, "start", 1999, "First year")
	flag.IntVar(&end, "end", 2011, "Year after the last year")
	flag.IntVar(&gap, "surveygap", 3, "Years between household surveys")

	var seed uint64
	flag.Uint64Var(&seed, "seed", uint64(time.Now().UTC().UnixNano()), "Random seed")
	flag.Parse()

	if outdir == "" {
		panic("'outdir' is required")
	}
	if end-start < 2 || gap < 1 {
		panic(fmt.Sprintf("generate: bad horizon [%d, %d) or survey gap %d", start, end, gap))
	}

	g := newGenerator(seed, start, end, gap)
	for i := 0; i < ncountry; i++ {
		g.country(fmt.Sprintf("Country%02d", i+1))
	}
	g.studies(nstudy)

	if err := g.write(outdir); err != nil {
		fmt.Fprintf(os.Stderr, "generate: %v\n", err)
		os.Exit(1)
	}
}
