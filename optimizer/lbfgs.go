package optimizer

import (
	"context"
	"math"
	"slices"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/objective"
)

const lbfgsCorrections = 5

type LBFGS struct {
	gradientTolerance float64
	valueTolerance    float64
	maxIterations     int
}

func NewLBFGS(cfg config.Config) *LBFGS {
	return &LBFGS{
		gradientTolerance: cfg.LBFGSGradientTolerance,
		valueTolerance:    cfg.LBFGSValueTolerance,
		maxIterations:     cfg.LBFGSMaxIterations,
	}
}

func (l *LBFGS) Name() string { return "lbfgs" }

// evaluator shares one objective evaluation between the value and the
// gradient requests gonum makes at the same point. The first error sticks.
type evaluator struct {
	ctx   context.Context
	fn    objective.Function
	x     []float64
	value float64
	grad  []float64
	err   error
}

func (e *evaluator) at(x []float64) {
	if e.err != nil || (e.x != nil && slices.Equal(e.x, x)) {
		return
	}
	v, g, err := e.fn.ValueAndGradient(e.ctx, x, nil)
	if err != nil {
		e.err = err
		return
	}
	e.x = slices.Clone(x)
	e.value, e.grad = v, g
}

func (e *evaluator) Func(x []float64) float64 {
	e.at(x)
	if e.err != nil {
		return math.Inf(1)
	}
	return e.value
}

func (e *evaluator) Grad(grad, x []float64) {
	e.at(x)
	if e.err != nil {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	copy(grad, e.grad)
}

// recorder stops gonum on an evaluation error or a cancelled context, and
// forwards major iterations to the callback.
type recorder struct {
	ctx  context.Context
	eval *evaluator
	cb   IterationCallback
	iter int
}

func (r *recorder) Init() error { return nil }

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if r.eval.err != nil {
		return r.eval.err
	}
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op == optimize.MajorIteration {
		zerolog.Ctx(r.ctx).Info().Int("iteration", r.iter).Float64("value", loc.F).
			Msg("lbfgs-iteration")
		if r.cb != nil {
			r.cb(r.iter, loc.X)
		}
		r.iter++
	}
	return nil
}

func (l *LBFGS) Minimize(ctx context.Context, theta []float64, fn objective.Function, cb IterationCallback) (bool, error) {
	logger := zerolog.Ctx(ctx)
	eval := &evaluator{ctx: ctx, fn: fn}
	prob := optimize.Problem{
		Func: eval.Func,
		Grad: eval.Grad,
	}
	settings := optimize.Settings{
		GradientThreshold: l.gradientTolerance,
		MajorIterations:   l.maxIterations,
		Converger: &optimize.FunctionConverge{
			Relative:   l.valueTolerance,
			Iterations: 3,
		},
		Recorder: &recorder{ctx: ctx, eval: eval, cb: cb},
	}
	result, err := optimize.Minimize(prob, theta, &settings, &optimize.LBFGS{Store: lbfgsCorrections})
	if eval.err != nil {
		return false, eval.err
	}
	if cerr := ctx.Err(); cerr != nil {
		return false, cerr
	}
	if result == nil {
		return false, err
	}
	copy(theta, result.X)
	if err != nil {
		// Line search failures on a non-smooth objective end the run
		// without a result worse than the best point seen.
		logger.Warn().Err(err).Str("status", result.Status.String()).Msg("lbfgs-stopped")
		return false, nil
	}
	logger.Info().Str("status", result.Status.String()).
		Int("iterations", result.Stats.MajorIterations).
		Float64("value", result.F).Msg("lbfgs-finished")
	return converged(result.Status), nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.StepConvergence, optimize.MethodConverge, optimize.Success:
		return true
	}
	return false
}
