package data

import (
	"fmt"
	"math"
	"sort"
)

// Require returns an error wrapping ErrMissingField if any of the keys is
// absent from r or not numeric.
func Require(r Record, keys ...string) error {
	for _, k := range keys {
		if _, ok := r.Float(k); !ok {
			return fmt.Errorf("%w: %s", ErrMissingField, k)
		}
	}
	return nil
}

// Observation is one reported value for a country, associated with a
// calendar year.  SurveyDate is the fractional mean survey date for
// survey sources and zero otherwise.  SE and SampleSize are zero when the
// source does not report them.
type Observation struct {
	Country    string
	Year       int
	Value      float64
	SE         float64
	SurveyDate float64
	SampleSize float64
}

// Retention is one net retention study.
type Retention struct {
	Name     string
	Year     int
	Rate     float64
	FollowUp float64
}

// CountryData holds everything the per-country model consumes.  All
// observations fall inside the horizon [YearStart, YearEnd).
type CountryData struct {
	Country   string
	YearStart int
	YearEnd   int

	// Population for each year of the horizon, forward filled
	Population []float64

	Manufactured     []Observation
	AdminDistributed []Observation
	HouseholdFlow    []Observation
	HouseholdStock   []Observation

	// Coverage observations hold the fraction of households with at
	// least one net.
	LLINCoverage []Observation
	ITNCoverage  []Observation

	// Number of country records dropped for missing fields or for
	// falling outside the horizon
	Dropped int
}

// Years returns the length of the horizon.
func (cd *CountryData) Years() int {
	return cd.YearEnd - cd.YearStart
}

// NumObs returns the total number of observations.
func (cd *CountryData) NumObs() int {
	return len(cd.Manufactured) + len(cd.AdminDistributed) + len(cd.HouseholdFlow) +
		len(cd.HouseholdStock) + len(cd.LLINCoverage) + len(cd.ITNCoverage)
}

// Years returns the sorted set of years in the population table.
func (d *Data) Years() []int {

	seen := make(map[int]bool)
	var yl []int
	for _, r := range d.Population {
		if y, ok := r.Int(ColYear); ok && !seen[y] {
			seen[y] = true
			yl = append(yl, y)
		}
	}
	sort.Ints(yl)

	return yl
}

// RetentionStudies returns the retention records that have a rate and a
// follow-up time.
func (d *Data) RetentionStudies() []Retention {

	var rl []Retention
	for _, r := range d.Retention {
		if Require(r, ColRetention, ColFollowUp) != nil {
			continue
		}
		rate, _ := r.Float(ColRetention)
		fu, _ := r.Float(ColFollowUp)
		y, _ := r.Int(ColYear)
		rl = append(rl, Retention{Name: r.String(ColName), Year: y, Rate: rate, FollowUp: fu})
	}

	return rl
}

// DesignRatios returns the ratios of complex to simple survey variance
// estimates.  Every ITN ratio is used, and the LLIN ratios that are
// present and non-zero.
func (d *Data) DesignRatios() []float64 {

	var x []float64
	for _, r := range d.Design {
		if v, ok := r.Float(ColDesignITN); ok {
			x = append(x, v)
		}
	}
	for _, r := range d.Design {
		if v, ok := r.Float(ColDesignLLIN); ok && v != 0 {
			x = append(x, v)
		}
	}

	return x
}

// countryOf returns the country of a record.  Some survey tables key the
// country by "name".
func countryOf(r Record) string {
	if c := r.String(ColCountry); c != "" {
		return c
	}
	return r.String(ColName)
}

// surveyDate returns the mean survey date, falling back to the middle of
// the survey year.
func surveyDate(r Record) (float64, bool) {
	if x, ok := r.Float(ColSurveyDate); ok {
		return x, true
	}
	if y, ok := r.Float(ColSurveyYear); ok {
		return y + 0.5, true
	}
	return 0, false
}

type extractor struct {
	cd *CountryData
}

func (e *extractor) inHorizon(year int) bool {
	return year >= e.cd.YearStart && year < e.cd.YearEnd
}

// annual builds observations keyed by the record year.
func (e *extractor) annual(recs []Record, valKey, seKey string, survey bool) []Observation {

	var ol []Observation
	for _, r := range recs {
		if countryOf(r) != e.cd.Country {
			continue
		}
		keys := []string{ColYear, valKey}
		if seKey != "" {
			keys = append(keys, seKey)
		}
		if Require(r, keys...) != nil {
			e.cd.Dropped++
			continue
		}
		y, _ := r.Int(ColYear)
		if !e.inHorizon(y) {
			e.cd.Dropped++
			continue
		}
		v, _ := r.Float(valKey)
		ob := Observation{Country: e.cd.Country, Year: y, Value: v}
		if seKey != "" {
			ob.SE, _ = r.Float(seKey)
		}
		if survey {
			sd, ok := surveyDate(r)
			if !ok {
				e.cd.Dropped++
				continue
			}
			ob.SurveyDate = sd
		}
		ol = append(ol, ob)
	}

	return ol
}

// surveyed builds observations keyed by the survey date.  If uncovered is
// true the value is converted from the fraction without a net to the
// fraction with at least one, and a missing standard error is allowed.
func (e *extractor) surveyed(recs []Record, valKey, seKey string, uncovered bool) []Observation {

	var ol []Observation
	for _, r := range recs {
		if countryOf(r) != e.cd.Country {
			continue
		}
		keys := []string{valKey}
		if !uncovered {
			keys = append(keys, seKey)
		}
		sd, ok := surveyDate(r)
		if !ok || Require(r, keys...) != nil {
			e.cd.Dropped++
			continue
		}
		y := int(math.Floor(sd))
		if !e.inHorizon(y) {
			e.cd.Dropped++
			continue
		}
		v, _ := r.Float(valKey)
		if uncovered {
			v = 1 - v
		}
		ob := Observation{Country: e.cd.Country, Year: y, Value: v, SurveyDate: sd}
		ob.SE, _ = r.Float(seKey)
		ob.SampleSize, _ = r.Float(ColSampleSize)
		ol = append(ol, ob)
	}

	return ol
}

// ForCountry assembles the typed observations for one country over the
// horizon [start, end).
func (d *Data) ForCountry(country string, start, end int) *CountryData {

	cd := &CountryData{
		Country:    country,
		YearStart:  start,
		YearEnd:    end,
		Population: d.PopulationFor(country, start, end),
	}

	e := &extractor{cd: cd}
	cd.Manufactured = e.annual(d.Manufacturing, ColManufactured, "", false)
	cd.AdminDistributed = e.annual(d.Admin, ColAdmin, "", false)
	cd.HouseholdFlow = e.annual(d.Flow, ColFlow, ColFlowSE, true)
	cd.HouseholdStock = e.surveyed(d.Stock, ColStock, ColStockSE, false)
	cd.LLINCoverage = e.surveyed(d.LLINCoverage, ColLLINUncovered, ColLLINUncovSE, true)
	cd.ITNCoverage = e.surveyed(d.ITNCoverage, ColITNUncovered, ColITNUncovSE, true)

	return cd
}
