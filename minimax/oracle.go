// Package minimax computes optimal mixed strategies and the value of a
// finite two-player zero-sum game given as a payoff table.
package minimax

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/domino14/mpg/payoff"
	"github.com/domino14/mpg/stats"
)

const DefaultTimeout = 60 * time.Second

var (
	// ErrSolverFailure matches every error returned by an Oracle.
	ErrSolverFailure = errors.New("minimax solver failure")
	ErrTimeout       = errors.New("lp solve timed out")
	ErrUnknownSolver = errors.New("unknown minimax solver")
)

// SolverError wraps a failure of the underlying LP backend.
type SolverError struct {
	Solver string
	Err    error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Solver, e.Err)
}

func (e *SolverError) Unwrap() error { return e.Err }

func (e *SolverError) Is(target error) bool {
	return target == ErrSolverFailure
}

// Oracle solves the maximizer's and the minimizer's sides of a payoff game.
// Both methods return one probability per strategy of the solved player, in
// row (resp. column) order, and the game value from the maximizer's point of
// view.
type Oracle interface {
	Name() string
	SolveMaximizer(ctx context.Context, g payoff.Game) ([]float64, float64, error)
	SolveMinimizer(ctx context.Context, g payoff.Game) ([]float64, float64, error)
}

type Options struct {
	Precision stats.Precision
	// Timeout bounds each LP solve. Zero means DefaultTimeout.
	Timeout time.Duration
}

type Constructor func(opts Options) Oracle

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{
		"simplex": func(opts Options) Oracle {
			return NewSimplex("simplex", true, opts)
		},
		"simplex-unscaled": func(opts Options) Oracle {
			return NewSimplex("simplex-unscaled", false, opts)
		},
	}
)

// Register makes an Oracle available to New under name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// New builds the oracle registered under name.
func New(name string, opts Options) (Oracle, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownSolver, name, Names())
	}
	return ctor(opts), nil
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}
