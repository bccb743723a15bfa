package minimax

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/domino14/mpg/payoff"
	"github.com/domino14/mpg/stats"
)

const simplexTolerance = 1e-10

// Simplex reduces the maximizer's problem to the LP
//
//	minimize sum(x)  s.t.  sum_i x_i * (a_ij + c) / M >= 1 for every column j,  x >= 0
//
// where c shifts every payoff to at least 1 and M = max + c. The optimal
// mixed strategy is x / sum(x) and the game value M / sum(x) - c. When
// normalize is off M is taken as 1, which keeps coefficients with a large
// dynamic range away from the rounding threshold.
type Simplex struct {
	name      string
	normalize bool
	precision stats.Precision
	timeout   time.Duration
}

func NewSimplex(name string, normalize bool, opts Options) *Simplex {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Simplex{
		name:      name,
		normalize: normalize,
		precision: opts.Precision,
		timeout:   timeout,
	}
}

func (s *Simplex) Name() string { return s.name }

// SolveMinimizer solves the negated transpose of g as a maximizer's game and
// flips the sign of the value back.
func (s *Simplex) SolveMinimizer(ctx context.Context, g payoff.Game) ([]float64, float64, error) {
	probs, v, err := s.SolveMaximizer(ctx, payoff.Transposed{G: g})
	if err != nil {
		return nil, 0, err
	}
	return probs, -v, nil
}

func (s *Simplex) SolveMaximizer(ctx context.Context, g payoff.Game) ([]float64, float64, error) {
	rows, cols := g.Size()
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("minimax: empty game %dx%d", rows, cols))
	}
	minimum, maximum := g.Min(), g.Max()
	shift := math.Max(0, 1-minimum)
	scale := 1.0
	if s.normalize {
		scale = maximum + shift
	}

	// coef[j][i] is the coefficient of x_i in the constraint for column j.
	coef := make([][]float64, cols)
	used := make([]bool, rows)
	observedMin := math.Inf(1)
	for j := range cols {
		coef[j] = make([]float64, rows)
		for i := range rows {
			a := g.At(i, j)
			observedMin = math.Min(observedMin, a)
			v := (a + shift) / scale
			if s.precision.IsZero(v) {
				continue
			}
			if v <= 0 {
				panic(fmt.Sprintf("minimax: non-positive coefficient %v at [%d,%d]", v, i, j))
			}
			coef[j][i] = v
			used[i] = true
		}
	}
	if observedMin != minimum {
		panic(fmt.Sprintf("minimax: observed minimum %v != recorded minimum %v", observedMin, minimum))
	}

	x, err := s.solve(ctx, coef, used)
	if err != nil {
		return nil, 0, &SolverError{Solver: s.name, Err: err}
	}

	sum := 0.0
	for i, xi := range x {
		if xi < 0 {
			zerolog.Ctx(ctx).Debug().Str("solver", s.name).Int("var", i).Float64("x", xi).
				Msg("clamping-negative-lp-variable")
			x[i] = 0
			continue
		}
		sum += xi
	}
	probs := make([]float64, rows)
	for i := range x {
		probs[i] = s.precision.Round(x[i] / sum)
	}
	value := s.precision.Round(scale/sum - shift)
	return probs, value, nil
}

// solve builds the standard form [A | -I][x; slack] = 1 over the used
// variables and runs it through gonum's simplex. Unused variables only add
// to the objective and are fixed at zero.
func (s *Simplex) solve(ctx context.Context, coef [][]float64, used []bool) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var vars []int
	for i, u := range used {
		if u {
			vars = append(vars, i)
		}
	}
	m := len(coef)
	n := len(vars)
	if n == 0 {
		return nil, lp.ErrInfeasible
	}
	A := mat.NewDense(m, n+m, nil)
	for j := range m {
		for k, i := range vars {
			A.Set(j, k, coef[j][i])
		}
		A.Set(j, n+j, -1)
	}
	c := make([]float64, n+m)
	for k := range n {
		c[k] = 1
	}
	b := make([]float64, m)
	for j := range b {
		b[j] = 1
	}

	type result struct {
		x   []float64
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("simplex panicked: %v", r)}
			}
		}()
		_, optX, err := lp.Simplex(c, A, b, simplexTolerance, nil)
		done <- result{x: optX, err: err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	var res result
	select {
	case res = <-done:
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}
	x := make([]float64, len(used))
	for k, i := range vars {
		x[i] = res.x[k]
	}
	return x, nil
}
