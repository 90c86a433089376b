// Package config holds the settings for a stock-and-flow run.  A Config
// value is built once by the command and passed explicitly to every
// component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ErrUnknownMethod is returned for an estimation method other than
// MethodMCMC or MethodMAP.
var ErrUnknownMethod = errors.New("unknown estimation method")

// ErrUnknownProfile is returned for a profile name that is not defined.
var ErrUnknownProfile = errors.New("unknown profile")

// Estimation methods
const (
	// MethodMCMC finds the mode and then samples the posterior.
	MethodMCMC = "mcmc"

	// MethodMAP finds the mode only; intervals collapse to the mode.
	MethodMAP = "map"
)

// Profile fixes the computational budget of a run.
type Profile struct {
	Iter           int `yaml:"iter"`
	Burn           int `yaml:"burn"`
	Thin           int `yaml:"thin"`
	OptimizerEvals int `yaml:"optimizer_evals"`
}

// Profiles are the predefined budgets.  "fast" is for tests and quick
// looks, "full" for production estimates.
var Profiles = map[string]Profile{
	"fast": {Iter: 2000, Burn: 1000, Thin: 5, OptimizerEvals: 2000},
	"full": {Iter: 60000, Burn: 20000, Thin: 40, OptimizerEvals: 20000},
}

// Moments is a mean and standard deviation pair used for hyperpriors that
// are set by configuration rather than estimated.
type Moments struct {
	Mu  float64 `yaml:"mu"`
	Std float64 `yaml:"std"`
}

// Model holds the structural constants of the compartmental model.
type Model struct {

	// Exponent applied to (1 - loss rate) on the first cohort transition
	HalfPeriodExponent float64 `yaml:"half_period_exponent" envconfig:"HALF_PERIOD_EXPONENT"`

	// Subtracted from the survey recall distance in flow surveys
	RecallOffset float64 `yaml:"recall_offset" envconfig:"RECALL_OFFSET"`

	// Number of future periods used by the distribution waiting time
	WaitingLookahead int `yaml:"waiting_lookahead" envconfig:"WAITING_LOOKAHEAD"`

	// Standard deviation of the waiting-time-near-one potential
	WaitingSD float64 `yaml:"waiting_sd" envconfig:"WAITING_SD"`

	// Weight of the quadratic penalty on negative stocks
	NegativeStockPenalty float64 `yaml:"negative_stock_penalty" envconfig:"NEGATIVE_STOCK_PENALTY"`

	// Log-scale tolerance and weight of the non-decreasing capacity penalty
	CapacityTolerance float64 `yaml:"capacity_tolerance" envconfig:"CAPACITY_TOLERANCE"`
	CapacityPenalty   float64 `yaml:"capacity_penalty" envconfig:"CAPACITY_PENALTY"`

	// Standard deviation of year-to-year log changes in non-LLIN stock
	NonLLINSmoothSD float64 `yaml:"non_llin_smooth_sd" envconfig:"NON_LLIN_SMOOTH_SD"`

	// Standard deviation of the log-normal priors on flows
	FlowPriorSD float64 `yaml:"flow_prior_sd" envconfig:"FLOW_PRIOR_SD"`

	// Standard deviation of the normal prior on the initial warehouse stock
	WarehousePriorSD float64 `yaml:"warehouse_prior_sd" envconfig:"WAREHOUSE_PRIOR_SD"`

	// Hyperpriors that are not estimated from pooled data
	ManufacturingError  Moments `yaml:"manufacturing_error"`
	RecallBias          Moments `yaml:"recall_bias"`
	ReportCoverageError Moments `yaml:"report_coverage_error"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	File   string `yaml:"file" envconfig:"FILE"`
}

// Config is the complete configuration of a run.
type Config struct {

	// Directory holding the input CSV files
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`

	// Directory holding the cached empirical priors
	CacheDir string `yaml:"cache_dir" envconfig:"CACHE_DIR"`

	// The merged output file
	OutputPath string `yaml:"output_path" envconfig:"OUTPUT_PATH"`

	// If set, a Prometheus textfile with batch metrics is written here
	MetricsPath string `yaml:"metrics_path" envconfig:"METRICS_PATH"`

	// The estimation horizon is [YearStart, YearEnd)
	YearStart int `yaml:"year_start" envconfig:"YEAR_START"`
	YearEnd   int `yaml:"year_end" envconfig:"YEAR_END"`

	Method  string `yaml:"method" envconfig:"METHOD"`
	Profile string `yaml:"profile" envconfig:"PROFILE"`

	// Custom budget; used when Profile is "custom"
	Custom Profile `yaml:"custom"`

	Seed    uint64 `yaml:"seed" envconfig:"SEED"`
	Workers int    `yaml:"workers" envconfig:"WORKERS"`

	// Recompute the empirical priors even if cached
	Recompute bool `yaml:"recompute" envconfig:"RECOMPUTE"`

	// Pooled prior fits with fewer joined records than this are flagged
	MinEffectiveN int `yaml:"min_effective_n" envconfig:"MIN_EFFECTIVE_N"`

	// Countries and first year used when refining the admin prior from
	// a previous batch output.  An empty list means all countries.
	RefineCountries []string `yaml:"refine_countries" envconfig:"REFINE_COUNTRIES"`
	RefineFromYear  int      `yaml:"refine_from_year" envconfig:"REFINE_FROM_YEAR"`

	// Draw progress bars on stderr
	Progress bool `yaml:"progress" envconfig:"PROGRESS"`

	Model   Model   `yaml:"model" envconfig:"MODEL"`
	Logging Logging `yaml:"logging" envconfig:"LOG"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:       "data",
		CacheDir:      "cache",
		OutputPath:    "output.csv",
		YearStart:     1999,
		YearEnd:       2011,
		Method:        MethodMCMC,
		Profile:       "full",
		Seed:          1,
		Workers:       1,
		MinEffectiveN: 5,
		Model: Model{
			HalfPeriodExponent:   0.5,
			RecallOffset:         0.5,
			WaitingLookahead:     3,
			WaitingSD:            0.5,
			NegativeStockPenalty: 1000,
			CapacityTolerance:    0.1,
			CapacityPenalty:      10,
			NonLLINSmoothSD:      0.5,
			FlowPriorSD:          1,
			WarehousePriorSD:     1e6,
			ManufacturingError:   Moments{Mu: 0.15, Std: 0.05},
			RecallBias:           Moments{Mu: 0.1, Std: 0.05},
			ReportCoverageError:  Moments{Mu: 0.05, Std: 0.02},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the default configuration, overlaid by the YAML file at
// path (if path is not empty) and then by STOCKFLOW_* environment
// variables.
func Load(path string) (*Config, error) {

	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("stockflow", cfg); err != nil {
		return nil, fmt.Errorf("config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values that make a run
// impossible.
func (c *Config) Validate() error {

	c.Method = strings.ToLower(c.Method)
	switch c.Method {
	case MethodMCMC, MethodMAP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMethod, c.Method)
	}

	p, err := c.Budget()
	if err != nil {
		return err
	}
	if p.Iter <= p.Burn {
		return fmt.Errorf("profile %q: iter (%d) must exceed burn (%d)", c.Profile, p.Iter, p.Burn)
	}
	if p.Thin < 1 {
		return fmt.Errorf("profile %q: thin must be positive", c.Profile)
	}

	if c.YearEnd-c.YearStart < 2 {
		return fmt.Errorf("horizon [%d, %d) must span at least two years", c.YearStart, c.YearEnd)
	}
	if c.Workers < 1 {
		c.Workers = 1
	}

	return c.Model.validate()
}

func (m *Model) validate() error {

	for _, v := range []struct {
		name string
		mom  Moments
	}{
		{"manufacturing_error", m.ManufacturingError},
		{"recall_bias", m.RecallBias},
		{"report_coverage_error", m.ReportCoverageError},
	} {
		if !(v.mom.Mu > 0 && v.mom.Std > 0) {
			return fmt.Errorf("model %s: mu and std must be positive", v.name)
		}
	}

	for _, v := range []struct {
		name string
		x    float64
	}{
		{"waiting_sd", m.WaitingSD},
		{"non_llin_smooth_sd", m.NonLLINSmoothSD},
		{"flow_prior_sd", m.FlowPriorSD},
		{"warehouse_prior_sd", m.WarehousePriorSD},
	} {
		if !(v.x > 0) {
			return fmt.Errorf("model %s must be positive", v.name)
		}
	}
	if m.WaitingLookahead < 0 {
		return fmt.Errorf("model waiting_lookahead must not be negative")
	}

	return nil
}

// Budget returns the computational budget selected by the profile.
func (c *Config) Budget() (Profile, error) {

	if c.Profile == "custom" {
		return c.Custom, nil
	}

	p, ok := Profiles[c.Profile]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, c.Profile)
	}

	return p, nil
}

// Years returns the number of years in the horizon.
func (c *Config) Years() int {
	return c.YearEnd - c.YearStart
}
