// Package doubleoracle finds a Nash equilibrium of a zero-sum game whose
// strategy spaces are too large to enumerate. It grows a restricted game one
// best response at a time, solving each restricted game with an LP oracle,
// until neither player's best response changes the game value.
package doubleoracle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/domino14/mpg/minimax"
	"github.com/domino14/mpg/payoff"
	"github.com/domino14/mpg/stats"
	"github.com/domino14/mpg/target"
)

type Options struct {
	Precision stats.Precision
	// MaxStrategies caps each player's strategy set. Zero means no cap.
	MaxStrategies int
	Listener      Listener
}

// Solver runs double oracle over a target.Game. A Solver holds the state of
// its last solve and must not be shared between goroutines.
type Solver[S target.Keyer] struct {
	game    target.Game[S]
	primary minimax.Oracle
	backup  minimax.Oracle
	opts    Options

	matrix   *payoff.Matrix
	maxSet   *target.Set[S]
	minSet   *target.Set[S]
	maxProbs []float64
	minProbs []float64
	maxValue float64
	minValue float64
	rounds   int
	solved   bool
}

// New returns a solver for game. backup may be nil.
func New[S target.Keyer](game target.Game[S], primary, backup minimax.Oracle, opts Options) *Solver[S] {
	if primary == nil {
		panic("doubleoracle: nil primary oracle")
	}
	return &Solver[S]{
		game:    game,
		primary: primary,
		backup:  backup,
		opts:    opts,
	}
}

// Solve computes the equilibrium of the game at parameters theta. A non-nil
// gold strategy joins the initial strategy sets where it is legal. The
// returned bool is false when a strategy cap stopped the loop before
// convergence; that is not an error. A failure of the primary oracle
// restarts the whole solve on the backup oracle.
func (s *Solver[S]) Solve(ctx context.Context, theta []float64, gold *S) (bool, error) {
	oracles := []minimax.Oracle{s.primary}
	if s.backup != nil {
		oracles = append(oracles, s.backup)
	}
	logger := zerolog.Ctx(ctx)

	attempt := 0
	var converged bool
	err := retry.Do(
		func() error {
			var err error
			converged, err = s.solveWith(ctx, oracles[attempt], theta, gold)
			return err
		},
		retry.Attempts(uint(len(oracles))),
		retry.Context(ctx),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, minimax.ErrSolverFailure) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			next := int(n) + 1
			if next >= len(oracles) {
				return
			}
			logger.Error().Err(err).
				Str("failed", oracles[n].Name()).
				Str("backup", oracles[next].Name()).
				Msg("minimax-solver-failed-trying-backup")
			attempt = next
			s.emit(BackupOracle, math.NaN(), oracles[next].Name())
		}),
	)
	if err != nil {
		return false, err
	}
	return converged, nil
}

func (s *Solver[S]) solveWith(ctx context.Context, oracle minimax.Oracle, theta []float64, gold *S) (bool, error) {
	potentials := s.game.LagrangePotentials(theta)
	s.initialize(potentials, gold)
	prec := s.opts.Precision

	// Converged once two consecutive best responses, one per player, leave
	// the game unchanged. maxSettled carries over between rounds.
	converged := false
	maxSettled := false
	for {
		s.rounds++

		maxProbs, maxValue, err := oracle.SolveMaximizer(ctx, s.matrix)
		if err != nil {
			return false, err
		}
		s.maxProbs, s.maxValue = maxProbs, maxValue

		if len(maxProbs) != s.maxSet.Len() {
			panic(fmt.Sprintf("doubleoracle: %d maximizer probabilities for %d strategies",
				len(maxProbs), s.maxSet.Len()))
		}
		if s.capReached(s.maxSet) {
			s.emit(MaximizerCapReached, maxValue, oracle.Name())
			if s.minProbs == nil {
				// Stopped before any minimizer LP; fill in its side so
				// the result is complete.
				if s.minProbs, s.minValue, err = oracle.SolveMinimizer(ctx, s.matrix); err != nil {
					return false, err
				}
			}
			break
		}

		minBR, minBRValue := s.game.BestMinimizerResponse(maxProbs, s.maxSet, potentials)
		minSettled := prec.RoughlyEqual(maxValue, minBRValue)
		switch {
		case minSettled:
			s.emit(MinimizerSettled, minBRValue, oracle.Name())
		case s.minSet.Contains(minBR):
			minSettled = true
			s.emit(MinimizerRepeated, minBRValue, oracle.Name())
		default:
			s.addMinimizer(minBR, potentials)
			s.emit(MinimizerAdded, minBRValue, oracle.Name())
		}
		if minSettled && maxSettled {
			// The game is unchanged since the last minimizer LP, so
			// s.minProbs still belongs to it.
			s.emit(BothSettled, maxValue, oracle.Name())
			converged = true
			break
		}

		minProbs, minValue, err := oracle.SolveMinimizer(ctx, s.matrix)
		if err != nil {
			return false, err
		}
		s.minProbs, s.minValue = minProbs, minValue

		if len(minProbs) != s.minSet.Len() {
			panic(fmt.Sprintf("doubleoracle: %d minimizer probabilities for %d strategies",
				len(minProbs), s.minSet.Len()))
		}
		if s.capReached(s.minSet) {
			s.emit(MinimizerCapReached, minValue, oracle.Name())
			break
		}

		maxBR, maxBRValue := s.game.BestMaximizerResponse(minProbs, s.minSet, potentials)
		maxSettled = prec.RoughlyEqual(minValue, maxBRValue)
		switch {
		case maxSettled:
			s.emit(MaximizerSettled, maxBRValue, oracle.Name())
		case s.maxSet.Contains(maxBR):
			maxSettled = true
			s.emit(MaximizerRepeated, maxBRValue, oracle.Name())
		default:
			s.addMaximizer(maxBR, potentials)
			s.emit(MaximizerAdded, maxBRValue, oracle.Name())
		}

		if minSettled && maxSettled {
			s.emit(BothSettled, minValue, oracle.Name())
			converged = true
			break
		}
	}

	if !converged {
		zerolog.Ctx(ctx).Debug().Int("maximizers", s.maxSet.Len()).Int("minimizers", s.minSet.Len()).
			Int("cap", s.opts.MaxStrategies).Msg("double-oracle-stopped-at-cap")
	}
	s.solved = true
	return converged, nil
}

func (s *Solver[S]) capReached(set *target.Set[S]) bool {
	return s.opts.MaxStrategies > 0 && s.opts.MaxStrategies <= set.Len()
}

func (s *Solver[S]) initialize(potentials []float64, gold *S) {
	maxSeeds := s.game.InitialMaximizerStrategies()
	if len(maxSeeds) == 0 {
		panic("doubleoracle: no initial maximizer strategies")
	}
	minSeeds := s.game.InitialMinimizerStrategies()
	if len(minSeeds) == 0 {
		panic("doubleoracle: no initial minimizer strategies")
	}
	s.maxSet = target.NewSet(maxSeeds...)
	s.minSet = target.NewSet(minSeeds...)
	if gold != nil {
		if s.game.IsLegalMaximizer(*gold) {
			s.maxSet.Add(*gold)
		}
		if s.game.IsLegalMinimizer(*gold) {
			s.minSet.Add(*gold)
		}
	}
	s.solved = false
	s.maxProbs, s.minProbs = nil, nil
	s.maxValue, s.minValue = math.NaN(), math.NaN()
	s.rounds = 0

	s.matrix = payoff.NewMatrixWithCapacity(s.maxSet.Len() * s.minSet.Len())
	for j, mn := range s.minSet.All() {
		agg := s.game.AggregatePotentials(mn, potentials)
		for i, mx := range s.maxSet.All() {
			s.put(i, j, mx, mn, agg)
		}
	}
}

func (s *Solver[S]) addMinimizer(mn S, potentials []float64) {
	j, _ := s.minSet.Add(mn)
	agg := s.game.AggregatePotentials(mn, potentials)
	for i, mx := range s.maxSet.All() {
		s.put(i, j, mx, mn, agg)
	}
}

func (s *Solver[S]) addMaximizer(mx S, potentials []float64) {
	i, _ := s.maxSet.Add(mx)
	for j, mn := range s.minSet.All() {
		s.put(i, j, mx, mn, s.game.AggregatePotentials(mn, potentials))
	}
}

func (s *Solver[S]) put(i, j int, mx, mn S, agg float64) {
	v := s.game.Payoff(mx, mn) - agg
	if math.IsNaN(v) {
		panic(fmt.Sprintf("doubleoracle: payoff of [%s] against [%s] is NaN", mx.Key(), mn.Key()))
	}
	s.matrix.Put(i, j, v)
}

func (s *Solver[S]) emit(kind EventKind, value float64, oracle string) {
	if s.opts.Listener == nil {
		return
	}
	e := Event{
		Kind:   kind,
		Round:  s.rounds,
		Value:  value,
		Oracle: oracle,
	}
	e.Maximizers = s.maxSet.Len()
	e.Minimizers = s.minSet.Len()
	s.opts.Listener(e)
}

func (s *Solver[S]) mustBeSolved() {
	if !s.solved {
		panic("doubleoracle: Solve must be called first")
	}
}

func (s *Solver[S]) MaximizerValue() float64 {
	s.mustBeSolved()
	return s.maxValue
}

func (s *Solver[S]) MinimizerValue() float64 {
	s.mustBeSolved()
	return s.minValue
}

func (s *Solver[S]) MaximizerProbabilities() []float64 {
	s.mustBeSolved()
	return s.maxProbs
}

func (s *Solver[S]) MinimizerProbabilities() []float64 {
	s.mustBeSolved()
	return s.minProbs
}

func (s *Solver[S]) MaximizerStrategies() *target.Set[S] {
	s.mustBeSolved()
	return s.maxSet
}

func (s *Solver[S]) MinimizerStrategies() *target.Set[S] {
	s.mustBeSolved()
	return s.minSet
}

// Rounds is the number of loop iterations of the last solve.
func (s *Solver[S]) Rounds() int {
	s.mustBeSolved()
	return s.rounds
}
