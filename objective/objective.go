// Package objective turns per-instance equilibria into the loss and
// subgradient a numerical optimizer minimizes. For parameters θ, each
// instance contributes -<gold features, θ> - v(θ), where v is the value of
// its game, and the subgradient E_minimizer[features] - gold features.
package objective

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/minimax"
	"github.com/domino14/mpg/pool"
	"github.com/domino14/mpg/stats"
	"github.com/domino14/mpg/target"
)

var ErrRegularizationConflict = errors.New("uniform and feature-wise regularization are mutually exclusive")

// Function is minimized by the optimizers. A nil batch means every
// instance.
type Function interface {
	Value(ctx context.Context, theta []float64, batch []int) (float64, error)
	Gradient(ctx context.Context, theta []float64, batch []int) ([]float64, error)
	ValueAndGradient(ctx context.Context, theta []float64, batch []int) (float64, []float64, error)
	NumInstances() int
	NumFeatures() int
}

type Options struct {
	Precision     stats.Precision
	MaxStrategies int
	// ExcludeBias leaves the last parameter out of the regularization.
	ExcludeBias bool
	Listener    doubleoracle.Listener
}

type task int

const (
	taskValue task = 1 << iota
	taskGradient
	taskBoth = taskValue | taskGradient
)

func (t task) String() string {
	switch t {
	case taskValue:
		return "value"
	case taskGradient:
		return "gradient"
	}
	return "both"
}

// Objective solves one game per instance on a shared pool.
type Objective[S target.Keyer] struct {
	targets []target.Target[S]
	pool    *pool.Pool
	primary minimax.Oracle
	backup  minimax.Oracle
	opts    Options
	d       int

	mu          sync.Mutex
	reg         regularizer
	rounds      stats.Statistic
	unconverged int
}

var _ Function = (*Objective[target.Keyer])(nil)

func New[S target.Keyer](targets []target.Target[S], p *pool.Pool, primary, backup minimax.Oracle, opts Options) (*Objective[S], error) {
	if len(targets) == 0 {
		return nil, errors.New("objective needs at least one instance")
	}
	d := targets[0].NumFeatures()
	for i, t := range targets {
		if t.NumFeatures() != d {
			return nil, fmt.Errorf("instance %d has %d features, instance 0 has %d", i, t.NumFeatures(), d)
		}
	}
	if d == 0 {
		return nil, errors.New("objective needs at least one feature")
	}
	return &Objective[S]{
		targets: targets,
		pool:    p,
		primary: primary,
		backup:  backup,
		opts:    opts,
		d:       d,
	}, nil
}

func (o *Objective[S]) NumInstances() int { return len(o.targets) }
func (o *Objective[S]) NumFeatures() int  { return o.d }

func (o *Objective[S]) SetRegularization(r Regularization) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reg.wise != nil {
		return ErrRegularizationConflict
	}
	o.reg.uniform = &r
	return nil
}

func (o *Objective[S]) SetFeatureWiseRegularization(r FeatureWiseRegularization) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reg.uniform != nil {
		return ErrRegularizationConflict
	}
	if len(r.Lambdas) != o.d {
		return fmt.Errorf("%d feature-wise lambdas for %d features", len(r.Lambdas), o.d)
	}
	o.reg.wise = &r
	return nil
}

// SolveStats returns the distribution of double-oracle rounds over every
// solve so far, and how many solves stopped at the strategy cap.
func (o *Objective[S]) SolveStats() (stats.Statistic, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rounds, o.unconverged
}

type evaluation struct {
	rawValue     float64
	valueReg     float64
	value        float64
	rawGradient  []float64
	gradientReg  []float64
	gradient     []float64
	thetaNorm    float64
	gradientNorm float64
}

func (o *Objective[S]) regularized() int {
	if o.opts.ExcludeBias {
		return o.d - 1
	}
	return o.d
}

func (o *Objective[S]) evaluate(ctx context.Context, theta []float64, batch []int, t task) (*evaluation, error) {
	if len(theta) != o.d {
		return nil, fmt.Errorf("%d parameters for %d features", len(theta), o.d)
	}
	if batch == nil {
		batch = make([]int, len(o.targets))
		for i := range batch {
			batch[i] = i
		}
	}

	values := make([]float64, len(batch))
	grads := make([][]float64, len(batch))
	rounds := make([]int, len(batch))
	converged := make([]bool, len(batch))
	err := o.pool.Run(ctx, len(batch), func(ctx context.Context, k int) error {
		tg := o.targets[batch[k]]
		s := doubleoracle.New[S](tg, o.primary, o.backup, doubleoracle.Options{
			Precision:     o.opts.Precision,
			MaxStrategies: o.opts.MaxStrategies,
			Listener:      o.opts.Listener,
		})
		gold := tg.Gold()
		ok, err := s.Solve(ctx, theta, &gold)
		if err != nil {
			return fmt.Errorf("instance %d: %w", batch[k], err)
		}
		converged[k] = ok
		rounds[k] = s.Rounds()

		goldF := tg.GoldFeatures()
		if t&taskValue != 0 {
			values[k] = -floats.Dot(goldF, theta) - s.MaximizerValue()
		}
		if t&taskGradient != 0 {
			probs := s.MinimizerProbabilities()
			set := s.MinimizerStrategies()
			if len(probs) != set.Len() {
				panic(fmt.Sprintf("objective: %d minimizer probabilities for %d strategies", len(probs), set.Len()))
			}
			g := tg.ExpectedFeatures(probs, set)
			floats.Sub(g, goldF)
			grads[k] = g
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var batchRounds stats.Statistic
	capped := 0
	for k := range batch {
		batchRounds.Push(float64(rounds[k]))
		if !converged[k] {
			capped++
		}
	}
	o.mu.Lock()
	reg := o.reg
	o.rounds.Merge(&batchRounds)
	o.unconverged += capped
	o.mu.Unlock()
	zerolog.Ctx(ctx).Debug().Int("instances", len(batch)).
		Float64("mean-rounds", batchRounds.Mean()).
		Float64("max-rounds", batchRounds.Max()).
		Int("capped", capped).Msg("batch-solved")

	ev := &evaluation{thetaNorm: floats.Norm(theta, 2)}
	n := o.regularized()
	if t&taskValue != 0 {
		ev.rawValue = floats.Sum(values)
		ev.valueReg = reg.value(theta, n)
		ev.value = ev.rawValue + ev.valueReg
	}
	if t&taskGradient != 0 {
		ev.rawGradient = make([]float64, o.d)
		for _, g := range grads {
			floats.Add(ev.rawGradient, g)
		}
		ev.gradientReg = reg.gradient(theta, n)
		ev.gradient = make([]float64, o.d)
		floats.AddTo(ev.gradient, ev.rawGradient, ev.gradientReg)
		ev.gradientNorm = floats.Norm(ev.gradient, 2)
	}
	o.log(ctx, t, ev)
	return ev, nil
}

func (o *Objective[S]) log(ctx context.Context, t task, ev *evaluation) {
	logger := zerolog.Ctx(ctx)
	e := logger.Info().Str("task", t.String())
	if t&taskValue != 0 {
		e = e.Float64("raw-value", ev.rawValue).
			Float64("value-reg", ev.valueReg).
			Float64("value", ev.value)
	}
	if t&taskGradient != 0 {
		e = e.Float64("gradient-theta-ratio", ev.gradientNorm/max(1, ev.thetaNorm)).
			Float64("raw-gradient", floats.Norm(ev.rawGradient, 2)).
			Float64("gradient-reg", floats.Norm(ev.gradientReg, 2)).
			Float64("gradient", ev.gradientNorm)
	}
	e.Msg("objective-evaluated")
}

func (o *Objective[S]) Value(ctx context.Context, theta []float64, batch []int) (float64, error) {
	ev, err := o.evaluate(ctx, theta, batch, taskValue)
	if err != nil {
		return 0, err
	}
	return ev.value, nil
}

func (o *Objective[S]) Gradient(ctx context.Context, theta []float64, batch []int) ([]float64, error) {
	ev, err := o.evaluate(ctx, theta, batch, taskGradient)
	if err != nil {
		return nil, err
	}
	return ev.gradient, nil
}

func (o *Objective[S]) ValueAndGradient(ctx context.Context, theta []float64, batch []int) (float64, []float64, error) {
	ev, err := o.evaluate(ctx, theta, batch, taskBoth)
	if err != nil {
		return 0, nil, err
	}
	return ev.value, ev.gradient, nil
}
