package optimizer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"lukechampine.com/frand"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/objective"
)

const valueHistory = 100

// AdaDelta is minibatch gradient descent with per-parameter step sizes
// (Zeiler, 2012). Passes is the number of passes over the data; each pass
// visits every instance once, in a fresh random order.
type AdaDelta struct {
	DecayRate         float64
	Epsilon           float64
	GradientTolerance float64
	// ValueTolerance stops the run when the full objective stops improving.
	// Zero disables the test and the full-objective evaluations it needs.
	ValueTolerance float64
	Passes         int
	// BatchSize zero means one batch per pool worker.
	BatchSize   int
	Parallelism int

	perm func(n int) []int
}

func NewAdaDelta(cfg config.Config) *AdaDelta {
	return &AdaDelta{
		DecayRate:         cfg.AdaDeltaDecayRate,
		Epsilon:           cfg.AdaDeltaEpsilon,
		GradientTolerance: cfg.AdaDeltaGradientTolerance,
		ValueTolerance:    cfg.AdaDeltaValueTolerance,
		Passes:            cfg.AdaDeltaIterations,
		BatchSize:         cfg.AdaDeltaBatchSize,
		Parallelism:       cfg.Parallelism,
		perm:              frand.Perm,
	}
}

func (a *AdaDelta) Name() string { return "adadelta" }

func (a *AdaDelta) batchSize(n int) int {
	size := a.BatchSize
	if size <= 0 {
		size = a.Parallelism
	}
	if size <= 0 {
		size = 1
	}
	return min(size, n)
}

func (a *AdaDelta) Minimize(ctx context.Context, theta []float64, fn objective.Function, cb IterationCallback) (bool, error) {
	logger := zerolog.Ctx(ctx)
	n := fn.NumInstances()
	if n == 0 {
		return false, fmt.Errorf("adadelta: no instances")
	}
	if a.Passes <= 0 {
		return false, fmt.Errorf("adadelta: %d passes", a.Passes)
	}
	perm := a.perm
	if perm == nil {
		perm = frand.Perm
	}
	size := a.batchSize(n)
	logger.Info().Int("passes", a.Passes).Int("batch-size", size).Msg("adadelta-starting")

	d := len(theta)
	gradSq := make([]float64, d)
	stepSq := make([]float64, d)
	step := make([]float64, d)
	var values []float64

	for pass := range a.Passes {
		order := perm(n)
		for start := 0; start < n; start += size {
			batch := order[start:min(start+size, n)]
			g, err := fn.Gradient(ctx, theta, batch)
			if err != nil {
				return false, err
			}
			for i, gi := range g {
				gradSq[i] = a.DecayRate*gradSq[i] + (1-a.DecayRate)*gi*gi
				lr := math.Sqrt(stepSq[i]+a.Epsilon) / math.Sqrt(gradSq[i]+a.Epsilon)
				step[i] = -lr * gi
				if math.IsNaN(step[i]) || math.IsInf(step[i], 0) {
					return false, fmt.Errorf("adadelta: step %v for parameter %d", step[i], i)
				}
				stepSq[i] = a.DecayRate*stepSq[i] + (1-a.DecayRate)*step[i]*step[i]
			}
			floats.Add(theta, step)
		}

		if a.ValueTolerance > 0 {
			v, err := fn.Value(ctx, theta, nil)
			if err != nil {
				return false, err
			}
			if len(values) == valueHistory {
				values = values[1:]
			}
			values = append(values, v)
			logger.Debug().Int("pass", pass).Float64("value", v).Msg("adadelta-pass")
		}
		if cb != nil {
			cb(pass, theta)
		}
		if a.valueStalled(values) {
			logger.Info().Int("pass", pass).Msg("adadelta-value-converged")
			return true, nil
		}
		if a.stepsVanished(step, theta) {
			logger.Info().Int("pass", pass).Msg("adadelta-gradient-converged")
			return true, nil
		}
	}
	return false, nil
}

// valueStalled compares the newest value to the one ten passes back.
func (a *AdaDelta) valueStalled(values []float64) bool {
	size := len(values)
	if a.ValueTolerance <= 0 || size <= 5 {
		return false
	}
	newest := values[size-1]
	span := min(size, 10)
	previous := values[size-span]
	improvement := (previous - newest) / float64(span)
	return math.Abs(improvement/newest) < a.ValueTolerance
}

// stepsVanished treats the last step as zero when its two-norm is small
// relative to the two-norm of theta. Theta's one-norm bounds its two-norm
// from above, so it is compared first as a quick reject.
func (a *AdaDelta) stepsVanished(step, theta []float64) bool {
	s := floats.Norm(step, 2)
	if s >= a.GradientTolerance*math.Max(1, floats.Norm(theta, 1)) {
		return false
	}
	return s < a.GradientTolerance*math.Max(1, floats.Norm(theta, 2))
}
