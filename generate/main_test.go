package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/stockflow/data"
)

func TestSurveyDate(t *testing.T) {
	raw, x := surveyDate(2007, 6)
	assert.Equal(t, "15-Jun-07", raw)
	assert.InDelta(t, 2007.5, x, 1e-12)
}

func TestGeneratedDataLoads(t *testing.T) {

	dir := t.TempDir()
	g := newGenerator(7, 2000, 2008, 3)
	g.country("Atlantis")
	g.country("Lemuria")
	g.studies(5)
	require.NoError(t, g.write(dir))

	d, err := data.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Atlantis", "Lemuria"}, d.Countries())
	assert.Len(t, d.RetentionStudies(), 5)
	assert.Len(t, d.DesignRatios(), 10)

	cd := d.ForCountry("Atlantis", 2000, 2008)
	assert.Len(t, cd.Population, 8)
	assert.Len(t, cd.Manufactured, 8)
	assert.Len(t, cd.AdminDistributed, 8)
	assert.NotEmpty(t, cd.HouseholdStock)
	assert.NotEmpty(t, cd.HouseholdFlow)
	assert.Len(t, cd.LLINCoverage, len(cd.HouseholdStock))
	assert.Equal(t, 0, cd.Dropped)

	for _, ob := range cd.LLINCoverage {
		assert.GreaterOrEqual(t, ob.Value, 0.0)
		assert.LessOrEqual(t, ob.Value, 1.0)
		assert.Greater(t, ob.SampleSize, 0.0)
	}
	for _, ob := range cd.Manufactured {
		assert.Greater(t, ob.Value, 0.0)
	}
}
