package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/priceal/generalized-method-of-moments/internal/errors"
	"github.com/priceal/generalized-method-of-moments/internal/experiment"
)

// Config represents the complete application configuration
type Config struct {
	Estimation EstimationConfig `mapstructure:"estimation"`
	Table      TableConfig      `mapstructure:"table"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Log        LogConfig        `mapstructure:"log"`
}

// EstimationConfig holds the defaults of a GMM estimation
type EstimationConfig struct {
	Order         int           `mapstructure:"order"`
	Diagonal      bool          `mapstructure:"diagonal"`
	Weighting     string        `mapstructure:"weighting"`
	BiasCorrect   bool          `mapstructure:"bias_correct"`
	MCTrials      int           `mapstructure:"mc_trials"`
	GradientTol   float64       `mapstructure:"gradient_tol"`
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxRuntime    time.Duration `mapstructure:"max_runtime"`
}

// TableConfig locates the precomputed covariance table
type TableConfig struct {
	Path string `mapstructure:"path"`
}

// RuntimeConfig holds parallelism and seeding
type RuntimeConfig struct {
	Workers int    `mapstructure:"workers"`
	Seed    uint64 `mapstructure:"seed"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GMM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("estimation.order", 0)
	v.SetDefault("estimation.diagonal", false)
	v.SetDefault("estimation.weighting", "jack")
	v.SetDefault("estimation.bias_correct", true)
	v.SetDefault("estimation.mc_trials", 500)
	v.SetDefault("estimation.gradient_tol", 1e-8)
	v.SetDefault("estimation.max_iterations", 1000)
	v.SetDefault("estimation.max_runtime", "30s")
	v.SetDefault("table.path", "")
	v.SetDefault("runtime.workers", 0)
	v.SetDefault("runtime.seed", 1)
	v.SetDefault("log.level", "INFO")
	return v
}

// Load reads configuration from GMM_* environment variables and, when path
// is not empty, from a YAML/JSON/TOML file. Environment wins over the file.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.Estimation.Order < 0 || config.Estimation.Order > 6 {
		return errors.ConfigInvalid("estimation.order must be between 0 and 6")
	}
	if config.Estimation.GradientTol <= 0 {
		return errors.ConfigInvalid("estimation.gradient_tol must be positive")
	}
	if config.Estimation.MaxIterations <= 0 {
		return errors.ConfigInvalid("estimation.max_iterations must be positive")
	}
	if config.Estimation.MCTrials < 2 {
		return errors.ConfigInvalid("estimation.mc_trials must be at least 2")
	}
	switch strings.ToLower(config.Estimation.Weighting) {
	case "iden", "identity", "jack", "jackknife", "mc", "montecarlo", "monte-carlo", "int", "interp", "interpolated":
	default:
		return errors.ConfigInvalid("estimation.weighting must be one of iden, jack, mc, int")
	}
	if config.Runtime.Workers < 0 {
		return errors.ConfigInvalid("runtime.workers must not be negative")
	}
	return nil
}

// LoadSweep reads an experiment sweep definition file
func LoadSweep(path string) (experiment.Sweep, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("trials", 100)
	v.SetDefault("bias_correct", true)
	v.SetDefault("mc_trials", 500)
	v.SetDefault("seed", 1)
	if err := v.ReadInConfig(); err != nil {
		return experiment.Sweep{}, errors.Wrapf(err, "failed to read sweep file %s", path)
	}

	var sweep experiment.Sweep
	if err := v.Unmarshal(&sweep); err != nil {
		return experiment.Sweep{}, errors.Wrap(err, "failed to decode sweep")
	}
	if err := sweep.Validate(); err != nil {
		return experiment.Sweep{}, errors.Wrap(err, "invalid sweep")
	}
	return sweep, nil
}
