// Package data loads the bednet input tables.  Every table is a CSV file
// whose rows become Records keyed by lower-cased column name.  Numeric
// cells (after removing thousands separators) are parsed to float64;
// everything else is kept as a string.
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrMissingField is returned when a record lacks a required column.
var ErrMissingField = errors.New("missing field")

// Layout of the mean survey date column, e.g. 15-Jun-07
const surveyDateLayout = "02-Jan-06"

// Field is one cell of a record.
type Field struct {
	Num     float64
	Str     string
	Numeric bool
}

// Record is one row of an input table.
type Record map[string]Field

// Float returns a numeric field.  The second return value is false if the
// field is absent or not numeric.
func (r Record) Float(key string) (float64, bool) {
	f, ok := r[key]
	if !ok || !f.Numeric {
		return 0, false
	}
	return f.Num, true
}

// String returns the raw text of a field.
func (r Record) String(key string) string {
	return r[key].Str
}

// Int returns a numeric field truncated to an integer.
func (r Record) Int(key string) (int, bool) {
	x, ok := r.Float(key)
	return int(x), ok
}

// Input table files
const (
	RetentionFile     = "reten.csv"
	DesignFile        = "design.csv"
	ManufacturingFile = "manuitns.csv"
	AdminFile         = "adminllins_itns.csv"
	StockFile         = "stock_llins.csv"
	FlowFile          = "flow_llins.csv"
	LLINCoverageFile  = "llincc.csv"
	ITNCoverageFile   = "itncc.csv"
	NetCountFile      = "numllins.csv"
	PopulationFile    = "pop.csv"
)

// Column names, lower-cased
const (
	ColCountry       = "country"
	ColName          = "name"
	ColYear          = "year"
	ColSurveyYear    = "survey_year1"
	ColSurveyDateRaw = "mean_svydate"
	ColSurveyDate    = "mean_survey_date"
	ColManufactured  = "manu_itns"
	ColAdmin         = "program_llins"
	ColFlow          = "total_llins"
	ColFlowSE        = "total_st"
	ColStock         = "svyindex_llins"
	ColStockSE       = "svyindexllins_se"
	ColLLINUncovered = "per_0llins"
	ColLLINUncovSE   = "llins0_se"
	ColITNUncovered  = "per_0itns"
	ColITNUncovSE    = "itns0_se"
	ColSampleSize    = "sample_size"
	ColPopulation    = "pop"
	ColRetention     = "retention_rate"
	ColFollowUp      = "follow_up_time"
	ColDesignITN     = "itncomplex_to_simpleratio"
	ColDesignLLIN    = "llincomplex_to_simpleratio"
)

// Data holds all input tables.
type Data struct {
	Retention     []Record
	Design        []Record
	Manufacturing []Record
	Admin         []Record
	Stock         []Record
	Flow          []Record
	LLINCoverage  []Record
	ITNCoverage   []Record
	NetCount      []Record
	Population    []Record
}

// Load reads all input tables from dir.
func Load(dir string) (*Data, error) {

	d := new(Data)
	for _, t := range []struct {
		file   string
		dst    *[]Record
		survey bool
	}{
		{RetentionFile, &d.Retention, false},
		{DesignFile, &d.Design, false},
		{ManufacturingFile, &d.Manufacturing, false},
		{AdminFile, &d.Admin, false},
		{StockFile, &d.Stock, true},
		{FlowFile, &d.Flow, true},
		{LLINCoverageFile, &d.LLINCoverage, true},
		{ITNCoverageFile, &d.ITNCoverage, true},
		{NetCountFile, &d.NetCount, true},
		{PopulationFile, &d.Population, false},
	} {
		recs, err := LoadFile(filepath.Join(dir, t.file))
		if err != nil {
			return nil, err
		}
		if t.survey {
			if err := AddSurveyDates(recs); err != nil {
				return nil, fmt.Errorf("%s: %w", t.file, err)
			}
		}
		*t.dst = recs
	}

	return d, nil
}

// LoadFile reads one CSV table.
func LoadFile(path string) ([]Record, error) {

	fid, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer fid.Close()

	recs, err := ReadRecords(fid)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return recs, nil
}

// ReadRecords parses CSV text whose first row is the header.
func ReadRecords(r io.Reader) ([]Record, error) {

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for j := range head {
		head[j] = strings.ToLower(strings.TrimSpace(head[j]))
	}

	var recs []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(Record, len(head))
		for j, v := range row {
			if j >= len(head) {
				break
			}
			rec[head[j]] = parseField(v)
		}
		recs = append(recs, rec)
	}

	return recs, nil
}

func parseField(s string) Field {

	s = strings.TrimSpace(s)
	f := Field{Str: s}
	if x, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64); err == nil {
		f.Num = x
		f.Numeric = true
	}

	return f
}

// AddSurveyDates adds the fractional mean survey date (year + month/12)
// to each record with a mean_svydate column.  Records with an empty date
// are left without one.
func AddSurveyDates(recs []Record) error {

	for i, r := range recs {
		raw := r.String(ColSurveyDateRaw)
		if raw == "" {
			continue
		}
		tm, err := time.Parse(surveyDateLayout, raw)
		if err != nil {
			return fmt.Errorf("row %d: survey date %q: %w", i+1, raw, err)
		}
		x := float64(tm.Year()) + float64(tm.Month())/12
		r[ColSurveyDate] = Field{Num: x, Numeric: true, Str: strconv.FormatFloat(x, 'f', -1, 64)}
	}

	return nil
}

// Countries returns the sorted set of countries in the population table.
func (d *Data) Countries() []string {

	seen := make(map[string]bool)
	var cl []string
	for _, r := range d.Population {
		c := r.String(ColCountry)
		if c != "" && !seen[c] {
			seen[c] = true
			cl = append(cl, c)
		}
	}
	sort.Strings(cl)

	return cl
}

// PopulationFor returns the population of a country for each year in
// [start, end).  The table is in thousands.  Years without data take the
// value of the previous year.
func (d *Data) PopulationFor(country string, start, end int) []float64 {

	pop := make([]float64, end-start)
	for _, r := range d.Population {
		if r.String(ColCountry) != country {
			continue
		}
		y, ok := r.Int(ColYear)
		p, okp := r.Float(ColPopulation)
		if !ok || !okp || y < start || y >= end {
			continue
		}
		pop[y-start] = p * 1000
	}

	return ForwardFill(pop)
}

// ForwardFill replaces zero entries with the preceding value, in place,
// and returns x.
func ForwardFill(x []float64) []float64 {
	for i := 1; i < len(x); i++ {
		if x[i] == 0 {
			x[i] = x[i-1]
		}
	}
	return x
}

// WriteTable writes a CSV table with the given header.
func WriteTable(path string, header []string, rows [][]string) error {

	fid, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	w := csv.NewWriter(fid)
	if err := w.Write(header); err != nil {
		fid.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		fid.Close()
		return err
	}

	return fid.Close()
}
