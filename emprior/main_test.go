package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshedden/stockflow/priors"
)

func TestWritePrior(t *testing.T) {

	p := priors.Fallback(priors.Admin)
	p.N = 3
	p.SmallSample = true

	var buf bytes.Buffer
	require.NoError(t, writePrior(&buf, p))

	s := buf.String()
	assert.Contains(t, s, "admin: n=3, fallback (small sample)")
	assert.Contains(t, s, "sigma")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("beta")), bytes.Index(buf.Bytes(), []byte("eps")))
}
