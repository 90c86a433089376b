package data

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixture = map[string]string{
	RetentionFile: `Name,Year,Retention_Rate,Follow_up_Time
Study A,2005,0.8,1
Study B,2006,0.7,2
Study C,2007,,1
`,
	DesignFile: `itncomplex_to_simpleratio,llincomplex_to_simpleratio
2.0,1.5
2.5,
3.0,0
`,
	ManufacturingFile: `Country,Year,Manu_Itns
Ghana,2000,"1,500"
Ghana,2001,2000
Togo,2000,300
Ghana,1990,100
`,
	AdminFile: `Country,Year,Program_Llins
Ghana,2001,900
Ghana,2002,n/a
`,
	StockFile: `Name,Survey_Year1,Mean_SvyDate,SvyIndex_Llins,SvyIndexLlins_SE
Ghana,2002,15-Jun-02,5000,400
`,
	FlowFile: `Country,Year,Survey_Year1,Mean_SvyDate,Total_Llins,Total_St
Ghana,2001,2002,15-Jun-02,1200,100
`,
	LLINCoverageFile: `Country,Survey_Year1,Mean_SvyDate,Per_0llins,Llins0_SE,Sample_Size
Ghana,2002,15-Mar-02,0.75,0.02,
Ghana,2003,15-Mar-03,0.6,,800
`,
	ITNCoverageFile: `Country,Survey_Year1,Mean_SvyDate,Per_0itns,Itns0_SE
Ghana,2002,15-Mar-02,0.7,0.03
`,
	NetCountFile: `Country,Survey_Year1,Mean_SvyDate,Avg
Ghana,2002,15-Mar-02,1.2
`,
	PopulationFile: `Country,Year,Pop
Ghana,2000,1000
Ghana,2001,0
Ghana,2003,2000
Togo,2000,500
`,
}

func writeFixture(t *testing.T) string {

	dir := t.TempDir()
	for name, content := range fixture {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	return dir
}

func TestReadRecords(t *testing.T) {

	recs, err := ReadRecords(strings.NewReader("Country,Value,Note\nGhana,\"12,345.5\",x\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	v, ok := recs[0].Float("value")
	assert.True(t, ok)
	assert.Equal(t, 12345.5, v)

	_, ok = recs[0].Float("note")
	assert.False(t, ok)
	assert.Equal(t, "Ghana", recs[0].String("country"))
}

func TestForwardFill(t *testing.T) {

	x := ForwardFill([]float64{1000, 0, 0, 2000, 0})
	assert.Equal(t, []float64{1000, 1000, 1000, 2000, 2000}, x)
}

func TestLoad(t *testing.T) {

	d, err := Load(writeFixture(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"Ghana", "Togo"}, d.Countries())
	assert.Equal(t, []int{2000, 2001, 2003}, d.Years())

	// Population is in thousands and forward filled
	assert.Equal(t, []float64{1e6, 1e6, 1e6, 2e6, 2e6}, d.PopulationFor("Ghana", 2000, 2005))

	sd, ok := d.Stock[0].Float(ColSurveyDate)
	require.True(t, ok)
	assert.InDelta(t, 2002.5, sd, 1e-12)

	rl := d.RetentionStudies()
	require.Len(t, rl, 2)
	assert.Equal(t, Retention{Name: "Study A", Year: 2005, Rate: 0.8, FollowUp: 1}, rl[0])

	assert.Equal(t, []float64{2, 2.5, 3, 1.5}, d.DesignRatios())
}

func TestLoadBadDate(t *testing.T) {

	dir := writeFixture(t)
	bad := "Name,Survey_Year1,Mean_SvyDate,SvyIndex_Llins,SvyIndexLlins_SE\nGhana,2002,June 2002,5000,400\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, StockFile), []byte(bad), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {

	dir := writeFixture(t)
	require.NoError(t, os.Remove(filepath.Join(dir, PopulationFile)))

	_, err := Load(dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestForCountry(t *testing.T) {

	d, err := Load(writeFixture(t))
	require.NoError(t, err)

	cd := d.ForCountry("Ghana", 2000, 2004)
	assert.Equal(t, 4, cd.Years())

	require.Len(t, cd.Manufactured, 2)
	assert.Equal(t, Observation{Country: "Ghana", Year: 2000, Value: 1500}, cd.Manufactured[0])

	// The 2002 admin record has no value
	require.Len(t, cd.AdminDistributed, 1)
	assert.Equal(t, 900.0, cd.AdminDistributed[0].Value)

	require.Len(t, cd.HouseholdFlow, 1)
	assert.Equal(t, 2001, cd.HouseholdFlow[0].Year)
	assert.Equal(t, 100.0, cd.HouseholdFlow[0].SE)
	assert.InDelta(t, 2002.5, cd.HouseholdFlow[0].SurveyDate, 1e-12)

	require.Len(t, cd.HouseholdStock, 1)
	assert.Equal(t, 2002, cd.HouseholdStock[0].Year)

	// Coverage holds the covered fraction
	require.Len(t, cd.LLINCoverage, 2)
	assert.InDelta(t, 0.25, cd.LLINCoverage[0].Value, 1e-12)
	assert.Equal(t, 0.0, cd.LLINCoverage[1].SE)
	assert.Equal(t, 800.0, cd.LLINCoverage[1].SampleSize)
	require.Len(t, cd.ITNCoverage, 1)

	// The 1990 manufacturing record and the empty admin value
	assert.Equal(t, 2, cd.Dropped)
	assert.Equal(t, 8, cd.NumObs())
}

func TestRequire(t *testing.T) {

	r := Record{"a": {Num: 1, Numeric: true}, "b": {Str: "x"}}
	assert.NoError(t, Require(r, "a"))
	assert.ErrorIs(t, Require(r, "a", "b"), ErrMissingField)
	assert.ErrorIs(t, Require(r, "c"), ErrMissingField)
}

func TestWriteTable(t *testing.T) {

	path := filepath.Join(t.TempDir(), "t.csv")
	require.NoError(t, WriteTable(path, []string{"Country", "Pop"}, [][]string{{"Ghana", "1,000"}}))

	recs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	v, _ := recs[0].Float("pop")
	assert.Equal(t, 1000.0, v)
}
