// Package learning trains and applies classifiers whose parameters are the
// Lagrange multipliers of an adversarial performance-measure game.
package learning

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/dataset"
	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/labeling"
	"github.com/domino14/mpg/minimax"
	"github.com/domino14/mpg/objective"
	"github.com/domino14/mpg/optimizer"
	"github.com/domino14/mpg/pool"
	"github.com/domino14/mpg/target"
	"github.com/domino14/mpg/target/binary"
)

var ErrNoModel = errors.New("learn or load a model first")

// BinaryClassifier treats a whole dataset as one instance: every row is a
// position, labeled 1 when its label equals the target class.
type BinaryClassifier struct {
	cfg         config.Config
	measure     string
	targetClass float64
	pool        *pool.Pool
	primary     minimax.Oracle
	backup      minimax.Oracle

	// Listener, when set, sees the double-oracle events of every solve.
	Listener doubleoracle.Listener
	// Callback, when set, sees the parameters after every optimizer
	// iteration.
	Callback optimizer.IterationCallback

	theta []float64
	stats SolveStats
}

// SolveStats summarizes the double-oracle solves of the last Learn.
type SolveStats struct {
	Converged   bool
	Solves      int
	Unconverged int
	MeanRounds  float64
	StdevRounds float64
	MaxRounds   float64
}

func NewBinaryClassifier(measure string, targetClass float64, cfg config.Config, p *pool.Pool) (*BinaryClassifier, error) {
	if !slices.Contains(binary.Names(), measure) {
		return nil, fmt.Errorf("%w: %q", binary.ErrUnknownMeasure, measure)
	}
	opts := minimax.Options{Precision: cfg.Precision, Timeout: cfg.LPTimeout}
	primary, err := minimax.New(cfg.LPSolver, opts)
	if err != nil {
		return nil, err
	}
	var backup minimax.Oracle
	if cfg.LPSolverBackup != "" {
		backup, err = minimax.New(cfg.LPSolverBackup, opts)
		if err != nil {
			return nil, err
		}
	}
	return &BinaryClassifier{
		cfg:         cfg,
		measure:     measure,
		targetClass: targetClass,
		pool:        p,
		primary:     primary,
		backup:      backup,
	}, nil
}

func (c *BinaryClassifier) Theta() []float64 { return slices.Clone(c.theta) }

func (c *BinaryClassifier) SetTheta(theta []float64) { c.theta = slices.Clone(theta) }

func (c *BinaryClassifier) Stats() SolveStats { return c.stats }

func (c *BinaryClassifier) solverOptions() doubleoracle.Options {
	return doubleoracle.Options{
		Precision:     c.cfg.Precision,
		MaxStrategies: c.cfg.MaxStrategies,
		Listener:      c.Listener,
	}
}

func (c *BinaryClassifier) instance(d *dataset.Dataset) (binary.Measure, []float64, error) {
	tags, err := d.Binarize(c.targetClass)
	if err != nil {
		return nil, nil, err
	}
	m, err := binary.New(c.measure, binary.Instance{Tags: tags, Features: d.Dense()},
		binary.Options{Precision: c.cfg.Precision, KPercent: c.cfg.PrecisionKPercent})
	if err != nil {
		return nil, nil, err
	}
	return m, tags, nil
}

// Learn fits the parameters on d with uniform regularization.
func (c *BinaryClassifier) Learn(ctx context.Context, d *dataset.Dataset, reg objective.Regularization) (bool, error) {
	return c.learn(ctx, d, reg, func(o *objective.Objective[labeling.Labeling]) error {
		return o.SetRegularization(reg)
	})
}

// LearnFeatureWise fits the parameters on d with one regularization weight
// per feature. A logistic warm start uses the mean weight.
func (c *BinaryClassifier) LearnFeatureWise(ctx context.Context, d *dataset.Dataset, reg objective.FeatureWiseRegularization) (bool, error) {
	mean := 0.0
	for _, l := range reg.Lambdas {
		mean += l
	}
	if len(reg.Lambdas) > 0 {
		mean /= float64(len(reg.Lambdas))
	}
	return c.learn(ctx, d, objective.Regularization{Norm: reg.Norm, Lambda: mean},
		func(o *objective.Objective[labeling.Labeling]) error {
			return o.SetFeatureWiseRegularization(reg)
		})
}

func (c *BinaryClassifier) learn(ctx context.Context, d *dataset.Dataset, warm objective.Regularization,
	regularize func(*objective.Objective[labeling.Labeling]) error) (bool, error) {

	logger := zerolog.Ctx(ctx)
	m, tags, err := c.instance(d)
	if err != nil {
		return false, err
	}

	var theta []float64
	if c.cfg.LearnInitialTheta {
		theta = logisticWeights(d.Dense(), tags, warm, c.cfg.LogisticTolerance)
	} else {
		theta = make([]float64, d.NumFeatures)
	}
	logger.Info().Floats64("theta", theta).Msg("initialized-parameters")

	obj, err := objective.New([]target.Target[labeling.Labeling]{m}, c.pool, c.primary, c.backup,
		objective.Options{
			Precision:     c.cfg.Precision,
			MaxStrategies: c.cfg.MaxStrategies,
			ExcludeBias:   c.cfg.HasBias() && !c.cfg.RegularizeBias,
			Listener:      c.Listener,
		})
	if err != nil {
		return false, err
	}
	if err := regularize(obj); err != nil {
		return false, err
	}
	opt, err := optimizer.New(c.cfg.Optimizer, c.cfg)
	if err != nil {
		return false, err
	}
	logger.Info().Str("optimizer", opt.Name()).Str("measure", c.measure).Msg("learning")
	converged, err := opt.Minimize(ctx, theta, obj, c.Callback)
	if err != nil {
		return false, err
	}

	rounds, unconverged := obj.SolveStats()
	c.stats = SolveStats{
		Converged:   converged,
		Solves:      rounds.Iterations(),
		Unconverged: unconverged,
		MeanRounds:  rounds.Mean(),
		StdevRounds: rounds.Stdev(),
		MaxRounds:   rounds.Max(),
	}
	logger.Info().Bool("converged", converged).
		Int("solves", c.stats.Solves).
		Float64("mean-rounds", c.stats.MeanRounds).
		Int("capped", unconverged).Msg("learning-finished")
	c.theta = theta
	return converged, nil
}

// Predict runs the game on d at the learned parameters. Parameters are
// aligned first when d has a different feature count.
func (c *BinaryClassifier) Predict(ctx context.Context, d *dataset.Dataset) (Prediction[labeling.Labeling], error) {
	if c.theta == nil {
		return Prediction[labeling.Labeling]{}, ErrNoModel
	}
	return c.PredictWith(ctx, d, c.theta)
}

func (c *BinaryClassifier) PredictWith(ctx context.Context, d *dataset.Dataset, theta []float64) (Prediction[labeling.Labeling], error) {
	var zero Prediction[labeling.Labeling]
	if len(theta) != d.NumFeatures {
		theta = alignTheta(theta, d.NumFeatures, c.cfg.HasBias())
	}
	m, _, err := c.instance(d)
	if err != nil {
		return zero, err
	}
	p := NewPredictor[labeling.Labeling](c.pool, c.primary, c.backup, c.solverOptions())
	preds, err := p.Predict(ctx, []target.Target[labeling.Labeling]{m}, theta)
	if err != nil {
		return zero, err
	}
	return preds[0], nil
}

func (c *BinaryClassifier) WriteModel(path string) error {
	if c.theta == nil {
		return ErrNoModel
	}
	return WriteModelFile(path, c.theta)
}

func (c *BinaryClassifier) LoadModel(path string) error {
	theta, err := LoadModelFile(path)
	if err != nil {
		return err
	}
	c.theta = theta
	return nil
}
