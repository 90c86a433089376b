package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.Years())

	p, err := cfg.Budget()
	require.NoError(t, err)
	assert.Equal(t, Profiles["full"], p)
}

func TestLoadFileThenEnv(t *testing.T) {

	path := filepath.Join(t.TempDir(), "run.yaml")
	content := `
data_dir: /srv/nets
profile: fast
year_end: 2012
model:
  half_period_exponent: 1
  manufacturing_error:
    mu: 0.2
    std: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("STOCKFLOW_DATA_DIR", "/override")
	t.Setenv("STOCKFLOW_MODEL_RECALL_OFFSET", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.DataDir)
	assert.Equal(t, "fast", cfg.Profile)
	assert.Equal(t, 2012, cfg.YearEnd)
	assert.Equal(t, 1999, cfg.YearStart)
	assert.Equal(t, 1.0, cfg.Model.HalfPeriodExponent)
	assert.Equal(t, 0.25, cfg.Model.RecallOffset)
	assert.Equal(t, Moments{Mu: 0.2, Std: 0.1}, cfg.Model.ManufacturingError)
	assert.Equal(t, 3, cfg.Model.WaitingLookahead)
}

func TestValidateRejects(t *testing.T) {

	for _, tc := range []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"method", func(c *Config) { c.Method = "normapprox" }, ErrUnknownMethod},
		{"profile", func(c *Config) { c.Profile = "huge" }, ErrUnknownProfile},
		{"horizon", func(c *Config) { c.YearEnd = c.YearStart + 1 }, nil},
		{"burn", func(c *Config) { c.Profile = "custom"; c.Custom = Profile{Iter: 10, Burn: 10, Thin: 1} }, nil},
		{"moments", func(c *Config) { c.Model.RecallBias.Std = 0 }, nil},
		{"sd", func(c *Config) { c.Model.WaitingSD = -1 }, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestMethodIsCaseInsensitive(t *testing.T) {

	cfg := Default()
	cfg.Method = "MAP"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, MethodMAP, cfg.Method)
}

func TestNewLogger(t *testing.T) {

	path := filepath.Join(t.TempDir(), "run.log")
	l := Logging{Level: "warn", Format: "json", File: path}
	logger, done, err := l.NewLogger()
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "country", "Kenya")
	require.NoError(t, done())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hidden")
	assert.Contains(t, string(b), `"country":"Kenya"`)

	_, _, err = Logging{Level: "loud"}.NewLogger()
	assert.Error(t, err)
	_, _, err = Logging{Format: "xml"}.NewLogger()
	assert.Error(t, err)
}
