// Package report writes the per-country-year estimates.  Each worker
// writes its own part file; the parts are merged into the shared output
// file afterwards, so concurrent workers never append to the same file.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ErrBadHeader is returned when an output file does not start with the
// expected header.
var ErrBadHeader = errors.New("unexpected header")

// Missing marks a value that is not estimated, such as the flows of the
// final year of the horizon.
const Missing = -1

// Row holds the estimates for one country and year.  Net counts are in
// thousands and coverage in percent.
type Row struct {
	Country string
	Year    int

	Shipped, ShippedLower, ShippedUpper                      float64
	Distributed, DistributedLower, DistributedUpper          float64
	Warehouse, WarehouseLower, WarehouseUpper                float64
	HouseholdStock, HouseholdStockLower, HouseholdStockUpper float64
	NonLLIN, NonLLINLower, NonLLINUpper                      float64
	LLINCoverage, LLINCoverageLower, LLINCoverageUpper       float64
	ITNCoverage, ITNCoverageLower, ITNCoverageUpper          float64

	// Outcome of the fit that produced the row
	Status string
}

type column struct {
	name  string
	field func(r *Row) *float64
}

var columns = []column{
	{"LLINs Shipped (Thousands)", func(r *Row) *float64 { return &r.Shipped }},
	{"LLINs Shipped Lower CI", func(r *Row) *float64 { return &r.ShippedLower }},
	{"LLINs Shipped Upper CI", func(r *Row) *float64 { return &r.ShippedUpper }},
	{"LLINs Distributed (Thousands)", func(r *Row) *float64 { return &r.Distributed }},
	{"LLINs Distributed Lower CI", func(r *Row) *float64 { return &r.DistributedLower }},
	{"LLINs Distributed Upper CI", func(r *Row) *float64 { return &r.DistributedUpper }},
	{"LLINs in Country (Thousands)", func(r *Row) *float64 { return &r.Warehouse }},
	{"LLINs in Country Lower CI", func(r *Row) *float64 { return &r.WarehouseLower }},
	{"LLINs in Country Upper CI", func(r *Row) *float64 { return &r.WarehouseUpper }},
	{"LLINs in Households (Thousands)", func(r *Row) *float64 { return &r.HouseholdStock }},
	{"LLINs in Households Lower CI", func(r *Row) *float64 { return &r.HouseholdStockLower }},
	{"LLINs in Households Upper CI", func(r *Row) *float64 { return &r.HouseholdStockUpper }},
	{"non-LLIN ITNs in Households (Thousands)", func(r *Row) *float64 { return &r.NonLLIN }},
	{"non-LLIN ITNs in Households Lower CI", func(r *Row) *float64 { return &r.NonLLINLower }},
	{"non-LLIN ITNs in Households Upper CI", func(r *Row) *float64 { return &r.NonLLINUpper }},
	{"LLIN Coverage (Percent)", func(r *Row) *float64 { return &r.LLINCoverage }},
	{"LLIN Coverage Lower CI", func(r *Row) *float64 { return &r.LLINCoverageLower }},
	{"LLIN Coverage Upper CI", func(r *Row) *float64 { return &r.LLINCoverageUpper }},
	{"ITN Coverage (Percent)", func(r *Row) *float64 { return &r.ITNCoverage }},
	{"ITN Coverage Lower CI", func(r *Row) *float64 { return &r.ITNCoverageLower }},
	{"ITN Coverage Upper CI", func(r *Row) *float64 { return &r.ITNCoverageUpper }},
}

// Header returns the column names of the output file.
func Header() []string {

	h := []string{"Country", "Year"}
	for _, c := range columns {
		h = append(h, c.name)
	}
	h = append(h, "Fit Status")

	return h
}

// Record formats a row for CSV output.
func (r Row) Record() []string {

	rec := []string{r.Country, strconv.Itoa(r.Year)}
	for _, c := range columns {
		rec = append(rec, strconv.FormatFloat(*c.field(&r), 'f', 4, 64))
	}
	rec = append(rec, r.Status)

	return rec
}

func parseRecord(rec []string) (Row, error) {

	var r Row
	if len(rec) != len(columns)+3 {
		return r, fmt.Errorf("row has %d fields, want %d", len(rec), len(columns)+3)
	}

	r.Country = rec[0]
	y, err := strconv.Atoi(rec[1])
	if err != nil {
		return r, fmt.Errorf("year %q: %w", rec[1], err)
	}
	r.Year = y

	for j, c := range columns {
		x, err := strconv.ParseFloat(rec[j+2], 64)
		if err != nil {
			return r, fmt.Errorf("%s %q: %w", c.name, rec[j+2], err)
		}
		*c.field(&r) = x
	}
	r.Status = rec[len(rec)-1]

	return r, nil
}

// ParseRows reads rows written by WriteRows.
func ParseRows(rd io.Reader) ([]Row, error) {

	cr := csv.NewReader(rd)
	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := checkHeader(head); err != nil {
		return nil, err
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r, err := parseRecord(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}

	return rows, nil
}

func checkHeader(head []string) error {
	want := Header()
	if len(head) != len(want) {
		return fmt.Errorf("%w: %d columns", ErrBadHeader, len(head))
	}
	for j := range want {
		if head[j] != want[j] {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, j, head[j], want[j])
		}
	}
	return nil
}

// ReadFile reads an output file.
func ReadFile(path string) ([]Row, error) {

	fid, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fid.Close()

	rows, err := ParseRows(fid)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return rows, nil
}

// WriteRows writes a header and the rows.
func WriteRows(w io.Writer, rows []Row) error {

	cw := csv.NewWriter(w)
	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}

// PartPath returns the name of the part file written by one worker.
func PartPath(output string, worker int, runID string) string {
	return fmt.Sprintf("%s.part-%d-%s.csv", output, worker, runID)
}

// Parts returns the part files of an output file, sorted by name.
func Parts(output string) ([]string, error) {

	pl, err := filepath.Glob(output + ".part-*.csv")
	if err != nil {
		return nil, err
	}
	sort.Strings(pl)

	return pl, nil
}

// WritePart writes the rows of one worker to a part file.
func WritePart(path string, rows []Row) error {

	fid, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}
	if err := WriteRows(fid, rows); err != nil {
		fid.Close()
		return fmt.Errorf("write part %s: %w", path, err)
	}

	return fid.Close()
}

// Merge appends the rows of the part files to the output file and removes
// the parts.  The header is written only if the output file is new or
// empty.  It returns the number of rows appended.
func Merge(output string, parts []string) (int, error) {

	var rows []Row
	for _, p := range parts {
		rl, err := ReadFile(p)
		if err != nil {
			return 0, err
		}
		rows = append(rows, rl...)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Country != rows[j].Country {
			return rows[i].Country < rows[j].Country
		}
		return rows[i].Year < rows[j].Year
	})

	fid, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	fi, err := fid.Stat()
	if err != nil {
		fid.Close()
		return 0, err
	}

	cw := csv.NewWriter(fid)
	if fi.Size() == 0 {
		if err := cw.Write(Header()); err != nil {
			fid.Close()
			return 0, err
		}
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			fid.Close()
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		fid.Close()
		return 0, err
	}
	if err := fid.Close(); err != nil {
		return 0, err
	}

	for _, p := range parts {
		if err := os.Remove(p); err != nil {
			return len(rows), fmt.Errorf("remove part: %w", err)
		}
	}

	return len(rows), nil
}
