// Package config holds the settings of a learning run. A Config is built once,
// from defaults, an optional YAML file and MPG_* environment variables, and
// passed by value from then on.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/domino14/mpg/stats"
)

const (
	ConfigParallelism               = "parallelism"
	ConfigValuePrecision            = "value-precision"
	ConfigLPSolver                  = "lp-solver"
	ConfigLPSolverBackup            = "lp-solver-backup"
	ConfigLPTimeout                 = "lp-timeout"
	ConfigMaxStrategies             = "max-strategies"
	ConfigBiasFeatureValue          = "bias-feature-value"
	ConfigRegularizeBias            = "regularize-bias"
	ConfigLearnInitialTheta         = "learn-initial-theta"
	ConfigLogisticTolerance         = "logistic-tolerance"
	ConfigOptimizer                 = "optimizer"
	ConfigLBFGSGradientTolerance    = "lbfgs-gradient-tolerance"
	ConfigLBFGSValueTolerance       = "lbfgs-value-tolerance"
	ConfigLBFGSMaxIterations        = "lbfgs-max-iterations"
	ConfigAdaDeltaDecayRate         = "adadelta-decay-rate"
	ConfigAdaDeltaEpsilon           = "adadelta-epsilon"
	ConfigAdaDeltaGradientTolerance = "adadelta-gradient-tolerance"
	ConfigAdaDeltaValueTolerance    = "adadelta-value-tolerance"
	ConfigAdaDeltaIterations        = "adadelta-iterations"
	ConfigAdaDeltaBatchSize         = "adadelta-batch-size"
	ConfigPrecisionKPercent         = "precision-k-percent"
	ConfigTraceFile                 = "trace-file"
	ConfigDebug                     = "debug"
)

type Config struct {
	// Parallelism is the worker pool size. Zero means NumCPU+1.
	Parallelism int
	Precision   stats.Precision

	LPSolver       string
	LPSolverBackup string
	LPTimeout      time.Duration
	// MaxStrategies caps each player's strategy set in double oracle. Zero
	// means no cap.
	MaxStrategies int

	// BiasFeatureValue is appended to every feature vector when it is not
	// negative.
	BiasFeatureValue float64
	RegularizeBias   bool

	LearnInitialTheta bool
	LogisticTolerance float64

	Optimizer                 string
	LBFGSGradientTolerance    float64
	LBFGSValueTolerance       float64
	LBFGSMaxIterations        int
	AdaDeltaDecayRate         float64
	AdaDeltaEpsilon           float64
	AdaDeltaGradientTolerance float64
	AdaDeltaValueTolerance    float64
	AdaDeltaIterations        int
	AdaDeltaBatchSize         int

	PrecisionKPercent float64

	TraceFile string
	Debug     bool
}

// HasBias reports whether the last feature is the bias feature.
func (c Config) HasBias() bool {
	return c.BiasFeatureValue >= 0
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(ConfigParallelism, 0)
	v.SetDefault(ConfigValuePrecision, stats.DefaultPrecision)
	v.SetDefault(ConfigLPSolver, "simplex")
	v.SetDefault(ConfigLPSolverBackup, "simplex-unscaled")
	v.SetDefault(ConfigLPTimeout, "60s")
	v.SetDefault(ConfigMaxStrategies, 0)
	v.SetDefault(ConfigBiasFeatureValue, 1.0)
	v.SetDefault(ConfigRegularizeBias, false)
	v.SetDefault(ConfigLearnInitialTheta, false)
	v.SetDefault(ConfigLogisticTolerance, 1e-4)
	v.SetDefault(ConfigOptimizer, "lbfgs")
	v.SetDefault(ConfigLBFGSGradientTolerance, 1e-4)
	v.SetDefault(ConfigLBFGSValueTolerance, 1e-6)
	v.SetDefault(ConfigLBFGSMaxIterations, 100)
	v.SetDefault(ConfigAdaDeltaDecayRate, 0.95)
	v.SetDefault(ConfigAdaDeltaEpsilon, 1e-6)
	v.SetDefault(ConfigAdaDeltaGradientTolerance, 1e-4)
	v.SetDefault(ConfigAdaDeltaValueTolerance, 1e-6)
	v.SetDefault(ConfigAdaDeltaIterations, 200)
	v.SetDefault(ConfigAdaDeltaBatchSize, 0)
	v.SetDefault(ConfigPrecisionKPercent, 1.0)
	v.SetDefault(ConfigTraceFile, "")
	v.SetDefault(ConfigDebug, false)
}

// DefaultConfig returns the built-in defaults, ignoring the environment.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := fromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load builds a Config from defaults, then the YAML file at path (if path is
// not empty), then MPG_* environment variables, then overrides.
func Load(path string, overrides map[string]any) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MPG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	prec, err := stats.NewPrecision(v.GetFloat64(ConfigValuePrecision))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Parallelism:               v.GetInt(ConfigParallelism),
		Precision:                 prec,
		LPSolver:                  v.GetString(ConfigLPSolver),
		LPSolverBackup:            v.GetString(ConfigLPSolverBackup),
		LPTimeout:                 v.GetDuration(ConfigLPTimeout),
		MaxStrategies:             v.GetInt(ConfigMaxStrategies),
		BiasFeatureValue:          v.GetFloat64(ConfigBiasFeatureValue),
		RegularizeBias:            v.GetBool(ConfigRegularizeBias),
		LearnInitialTheta:         v.GetBool(ConfigLearnInitialTheta),
		LogisticTolerance:         v.GetFloat64(ConfigLogisticTolerance),
		Optimizer:                 v.GetString(ConfigOptimizer),
		LBFGSGradientTolerance:    v.GetFloat64(ConfigLBFGSGradientTolerance),
		LBFGSValueTolerance:       v.GetFloat64(ConfigLBFGSValueTolerance),
		LBFGSMaxIterations:        v.GetInt(ConfigLBFGSMaxIterations),
		AdaDeltaDecayRate:         v.GetFloat64(ConfigAdaDeltaDecayRate),
		AdaDeltaEpsilon:           v.GetFloat64(ConfigAdaDeltaEpsilon),
		AdaDeltaGradientTolerance: v.GetFloat64(ConfigAdaDeltaGradientTolerance),
		AdaDeltaValueTolerance:    v.GetFloat64(ConfigAdaDeltaValueTolerance),
		AdaDeltaIterations:        v.GetInt(ConfigAdaDeltaIterations),
		AdaDeltaBatchSize:         v.GetInt(ConfigAdaDeltaBatchSize),
		PrecisionKPercent:         v.GetFloat64(ConfigPrecisionKPercent),
		TraceFile:                 v.GetString(ConfigTraceFile),
		Debug:                     v.GetBool(ConfigDebug),
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	var errs []error
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", ConfigParallelism))
	}
	if c.LPSolver == "" {
		errs = append(errs, fmt.Errorf("%s must be set", ConfigLPSolver))
	}
	if c.LPSolver == c.LPSolverBackup {
		errs = append(errs, fmt.Errorf("%s must differ from %s", ConfigLPSolverBackup, ConfigLPSolver))
	}
	if c.LPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", ConfigLPTimeout))
	}
	if c.MaxStrategies < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", ConfigMaxStrategies))
	}
	if c.AdaDeltaDecayRate <= 0 || c.AdaDeltaDecayRate >= 1 {
		errs = append(errs, fmt.Errorf("%s must be in (0, 1)", ConfigAdaDeltaDecayRate))
	}
	if c.PrecisionKPercent <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", ConfigPrecisionKPercent))
	}
	return errors.Join(errs...)
}
