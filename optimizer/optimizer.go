// Package optimizer minimizes an objective.Function over the model
// parameters, in place.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/domino14/mpg/config"
	"github.com/domino14/mpg/objective"
)

var ErrUnknownOptimizer = errors.New("unknown optimizer")

// IterationCallback sees the parameters after every major iteration (LBFGS)
// or pass over the data (AdaDelta). theta must not be retained.
type IterationCallback func(iteration int, theta []float64)

type Optimizer interface {
	Name() string
	// Minimize updates theta in place. It returns false when it stopped on
	// an iteration limit rather than a convergence test.
	Minimize(ctx context.Context, theta []float64, fn objective.Function, cb IterationCallback) (bool, error)
}

type Constructor func(cfg config.Config) Optimizer

var registry = map[string]Constructor{
	"lbfgs":    func(cfg config.Config) Optimizer { return NewLBFGS(cfg) },
	"adadelta": func(cfg config.Config) Optimizer { return NewAdaDelta(cfg) },
}

func New(name string, cfg config.Config) (Optimizer, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownOptimizer, name, Names())
	}
	return ctor(cfg), nil
}

func Names() []string {
	names := lo.Keys(registry)
	slices.Sort(names)
	return names
}
