package bundler

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is loaded from a yaml file, see bundler.example.yaml
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Relays    []RelayConfig   `yaml:"relays"`
}

type EngineConfig struct {
	MaxBundleTxs      int             `yaml:"max_bundle_txs"`
	MinBundleProfit   decimal.Decimal `yaml:"min_bundle_profit"`
	MaxBundleGas      decimal.Decimal `yaml:"max_bundle_gas"`
	RiskTolerance     float64         `yaml:"risk_tolerance"`
	BundleTimeout     time.Duration   `yaml:"bundle_timeout"`
	TickInterval      time.Duration   `yaml:"tick_interval"`
	PoolCapacity      int             `yaml:"pool_capacity"`
	OpportunityTTL    time.Duration   `yaml:"opportunity_ttl"`
	TipPercent        int             `yaml:"tip_percent"`
	MarketDataTimeout time.Duration   `yaml:"market_data_timeout"`
}

type OptimizerConfig struct {
	Generations        int     `yaml:"generations"`
	PopulationSize     int     `yaml:"population_size"`
	EliteRatio         float64 `yaml:"elite_ratio"`
	TournamentSize     int     `yaml:"tournament_size"`
	MutationRate       float64 `yaml:"mutation_rate"`
	AnnealIterations   int     `yaml:"anneal_iterations"`
	InitialTemperature float64 `yaml:"initial_temperature"`
	CoolingRate        float64 `yaml:"cooling_rate"`
}

type RelayConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Disabled bool   `yaml:"disabled"`
}

func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			MaxBundleTxs:      DefaultMaxBundleTxs,
			MinBundleProfit:   decimal.RequireFromString(DefaultMinBundleProfit),
			MaxBundleGas:      decimal.RequireFromString(DefaultMaxBundleGas),
			RiskTolerance:     DefaultRiskTolerance,
			BundleTimeout:     DefaultBundleTimeout,
			TickInterval:      DefaultTickInterval,
			PoolCapacity:      DefaultPoolCapacity,
			OpportunityTTL:    DefaultOpportunityTTL,
			TipPercent:        DefaultTipPercent,
			MarketDataTimeout: 200 * time.Millisecond,
		},
		Optimizer: OptimizerConfig{
			Generations:        DefaultGenerations,
			PopulationSize:     DefaultPopulationSize,
			EliteRatio:         0.1,
			TournamentSize:     3,
			MutationRate:       0.1,
			AnnealIterations:   DefaultAnnealIterations,
			InitialTemperature: DefaultInitialTemperature,
			CoolingRate:        DefaultCoolingRate,
		},
	}
}

// LoadConfig parses config from a file, values that are not present in the file keep their defaults.
// Empty file name returns the default config.
func LoadConfig(file string) (Config, error) {
	config := DefaultConfig()
	if file == "" {
		return config, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return Config{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return Config{}, err
	}
	return config, config.Validate()
}

func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.MaxBundleTxs < 1:
		return fmt.Errorf("%w: max_bundle_txs must be positive", ErrInvalidConfig)
	case e.MinBundleProfit.IsNegative():
		return fmt.Errorf("%w: min_bundle_profit is negative", ErrInvalidConfig)
	case !e.MaxBundleGas.IsPositive():
		return fmt.Errorf("%w: max_bundle_gas must be positive", ErrInvalidConfig)
	case e.RiskTolerance < 0 || e.RiskTolerance > MaxRiskScore:
		return fmt.Errorf("%w: risk_tolerance out of [0,10]", ErrInvalidConfig)
	case e.PoolCapacity < 1:
		return fmt.Errorf("%w: pool_capacity must be positive", ErrInvalidConfig)
	case e.TickInterval <= 0 || e.OpportunityTTL <= 0 || e.BundleTimeout <= 0 || e.MarketDataTimeout <= 0:
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	case e.TipPercent < 0 || e.TipPercent > 100:
		return fmt.Errorf("%w: tip_percent out of [0,100]", ErrInvalidConfig)
	}

	o := c.Optimizer
	switch {
	case o.Generations < 1 || o.PopulationSize < 2 || o.TournamentSize < 1:
		return fmt.Errorf("%w: genetic search caps must be positive", ErrInvalidConfig)
	case o.EliteRatio < 0 || o.EliteRatio >= 1 || o.MutationRate < 0 || o.MutationRate > 1:
		return fmt.Errorf("%w: genetic search rates out of range", ErrInvalidConfig)
	case o.AnnealIterations < 1 || o.InitialTemperature <= 0 || o.CoolingRate <= 0 || o.CoolingRate >= 1:
		return fmt.Errorf("%w: annealing parameters out of range", ErrInvalidConfig)
	}

	for _, relay := range c.Relays {
		if relay.Name == "" || (relay.URL == "" && !relay.Disabled) {
			return fmt.Errorf("%w: relay needs name and url", ErrInvalidConfig)
		}
	}
	return nil
}
