package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(country string, year int, dist float64) Row {
	return Row{
		Country:          country,
		Year:             year,
		Shipped:          dist * 2,
		Distributed:      dist,
		DistributedLower: dist - 1,
		DistributedUpper: dist + 1,
		LLINCoverage:     42.5,
		Status:           "converged",
	}
}

func TestRoundTrip(t *testing.T) {

	rows := []Row{row("Ghana", 2000, 10), row("Ghana", 2001, Missing)}

	var buf bytes.Buffer
	require.NoError(t, WriteRows(&buf, rows))

	got, err := ParseRows(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestHeader(t *testing.T) {

	h := Header()
	assert.Equal(t, "Country", h[0])
	assert.Equal(t, "Fit Status", h[len(h)-1])
	assert.Len(t, h, len(columns)+3)
	assert.Contains(t, h, "LLINs Distributed (Thousands)")
}

func TestParseBadHeader(t *testing.T) {

	_, err := ParseRows(strings.NewReader("a,b\n1,2\n"))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestMerge(t *testing.T) {

	dir := t.TempDir()
	output := filepath.Join(dir, "output.csv")

	p0 := PartPath(output, 0, "run1")
	p1 := PartPath(output, 1, "run1")
	require.NoError(t, WritePart(p1, []Row{row("Togo", 2000, 3)}))
	require.NoError(t, WritePart(p0, []Row{row("Ghana", 2001, 2), row("Ghana", 2000, 1)}))

	parts, err := Parts(output)
	require.NoError(t, err)
	assert.Equal(t, []string{p0, p1}, parts)

	n, err := Merge(output, parts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Parts are removed once merged
	parts, err = Parts(output)
	require.NoError(t, err)
	assert.Empty(t, parts)

	// A second batch appends without repeating the header
	p2 := PartPath(output, 0, "run2")
	require.NoError(t, WritePart(p2, []Row{row("Benin", 2000, 5)}))
	_, err = Merge(output, []string{p2})
	require.NoError(t, err)

	b, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(b), "Fit Status"))

	rows, err := ReadFile(output)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Ghana", rows[0].Country)
	assert.Equal(t, 2000, rows[0].Year)
	assert.Equal(t, "Togo", rows[2].Country)
	assert.Equal(t, "Benin", rows[3].Country)
}
