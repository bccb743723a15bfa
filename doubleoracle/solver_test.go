package doubleoracle

import (
	"bytes"
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/domino14/mpg/minimax"
	"github.com/domino14/mpg/payoff"
	"github.com/domino14/mpg/stats"
	"github.com/domino14/mpg/target"
)

type idx int

func (i idx) Key() string { return strconv.Itoa(int(i)) }

// tableGame is a game given by an explicit table. Column j carries potential
// potentials[j]; best responses enumerate every row or column.
type tableGame struct {
	table   [][]float64
	seedMax []idx
	seedMin []idx
	nanAt   *[2]int
}

func (g *tableGame) Payoff(mx, mn idx) float64 {
	if g.nanAt != nil && g.nanAt[0] == int(mx) && g.nanAt[1] == int(mn) {
		return math.NaN()
	}
	return g.table[mx][mn]
}

func (g *tableGame) InitialMaximizerStrategies() []idx { return g.seedMax }
func (g *tableGame) InitialMinimizerStrategies() []idx { return g.seedMin }
func (g *tableGame) IsLegalMaximizer(s idx) bool       { return int(s) < len(g.table) }
func (g *tableGame) IsLegalMinimizer(s idx) bool       { return int(s) < len(g.table[0]) }

func (g *tableGame) LagrangePotentials(theta []float64) []float64 {
	if theta == nil {
		return make([]float64, len(g.table[0]))
	}
	return theta
}

func (g *tableGame) AggregatePotentials(mn idx, potentials []float64) float64 {
	return potentials[mn]
}

func (g *tableGame) BestMaximizerResponse(minProbs []float64, minSet *target.Set[idx], potentials []float64) (idx, float64) {
	best, bestV := idx(0), math.Inf(-1)
	for i := range g.table {
		v := 0.0
		for k, mn := range minSet.All() {
			v += minProbs[k] * (g.table[i][mn] - potentials[mn])
		}
		if v > bestV {
			best, bestV = idx(i), v
		}
	}
	return best, bestV
}

func (g *tableGame) BestMinimizerResponse(maxProbs []float64, maxSet *target.Set[idx], potentials []float64) (idx, float64) {
	best, bestV := idx(0), math.Inf(1)
	for j := range g.table[0] {
		v := -potentials[j]
		for k, mx := range maxSet.All() {
			v += maxProbs[k] * g.table[mx][j]
		}
		if v < bestV {
			best, bestV = idx(j), v
		}
	}
	return best, bestV
}

func randomTable(r *rand.Rand, rows, cols int) [][]float64 {
	t := make([][]float64, rows)
	for i := range t {
		t[i] = make([]float64, cols)
		for j := range t[i] {
			t[i][j] = r.Float64()*10 - 3
		}
	}
	return t
}

func oracle(t *testing.T, name string) minimax.Oracle {
	o, err := minimax.New(name, minimax.Options{Precision: stats.MustPrecision(1e-6)})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func fullGameValue(t *testing.T, table [][]float64, potentials []float64) float64 {
	shifted := make([][]float64, len(table))
	for i := range table {
		shifted[i] = make([]float64, len(table[i]))
		for j := range table[i] {
			shifted[i][j] = table[i][j] - potentials[j]
		}
	}
	_, v, err := oracle(t, "simplex").SolveMaximizer(context.Background(), payoff.Dense(shifted))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestConvergesToFullGameValue(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	for trial := range 20 {
		is := is.New(t)
		rows, cols := 6+r.IntN(6), 6+r.IntN(6)
		g := &tableGame{
			table:   randomTable(r, rows, cols),
			seedMax: []idx{0},
			seedMin: []idx{0},
		}
		potentials := make([]float64, cols)
		if trial%2 == 1 {
			for j := range potentials {
				potentials[j] = r.Float64() - 0.5
			}
		}
		s := New[idx](g, oracle(t, "simplex"), nil, Options{Precision: stats.MustPrecision(1e-6)})
		converged, err := s.Solve(context.Background(), potentials, nil)
		is.NoErr(err)
		is.True(converged)

		want := fullGameValue(t, g.table, potentials)
		assert.InDelta(t, want, s.MaximizerValue(), 1e-4)
		assert.InDelta(t, want, s.MinimizerValue(), 1e-4)
		is.Equal(len(s.MaximizerProbabilities()), s.MaximizerStrategies().Len())
		is.Equal(len(s.MinimizerProbabilities()), s.MinimizerStrategies().Len())
		is.True(s.Rounds() >= 1)
	}
}

func TestGoldJoinsInitialSets(t *testing.T) {
	is := is.New(t)
	g := &tableGame{
		table:   [][]float64{{3, 0}, {0, 1}, {1, 1}},
		seedMax: []idx{0},
		seedMin: []idx{0},
	}
	gold := idx(1)
	var events []Event
	s := New[idx](g, oracle(t, "simplex"), nil, Options{
		Listener: func(e Event) { events = append(events, e) },
	})
	_, err := s.Solve(context.Background(), nil, &gold)
	is.NoErr(err)
	is.True(s.MaximizerStrategies().Contains(gold))
	is.True(s.MinimizerStrategies().Contains(gold))
	is.Equal(s.MaximizerStrategies().At(1), gold)
	is.True(len(events) > 0)
	is.True(events[len(events)-1].Kind.Terminal())
}

func TestCapStopsWithoutConvergence(t *testing.T) {
	is := is.New(t)
	g := &tableGame{
		table:   [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		seedMax: []idx{0},
		seedMin: []idx{0},
	}
	var kinds []EventKind
	s := New[idx](g, oracle(t, "simplex"), nil, Options{
		MaxStrategies: 1,
		Listener:      func(e Event) { kinds = append(kinds, e.Kind) },
	})
	converged, err := s.Solve(context.Background(), nil, nil)
	is.NoErr(err)
	is.True(!converged)
	is.Equal(kinds, []EventKind{MaximizerCapReached})
	// Both sides are filled in even though the loop stopped early.
	is.Equal(s.MaximizerProbabilities(), []float64{1})
	is.Equal(s.MinimizerProbabilities(), []float64{1})
}

func TestMinimizerSettlingAloneDoesNotConverge(t *testing.T) {
	is := is.New(t)
	// Matching pennies with only the first row seeded. The minimizer's best
	// response settles at once, but the maximizer still gains from row 1.
	g := &tableGame{
		table:   [][]float64{{0, 1}, {1, 0}},
		seedMax: []idx{0},
		seedMin: []idx{0, 1},
	}
	var kinds []EventKind
	s := New[idx](g, oracle(t, "simplex"), nil, Options{
		Listener: func(e Event) { kinds = append(kinds, e.Kind) },
	})
	converged, err := s.Solve(context.Background(), nil, nil)
	is.NoErr(err)
	is.True(converged)
	is.Equal(kinds, []EventKind{
		MinimizerSettled, MaximizerAdded,
		MinimizerSettled, MaximizerSettled, BothSettled,
	})
	is.Equal(s.MaximizerValue(), 0.5)
	is.Equal(s.MinimizerValue(), 0.5)
	is.Equal(s.MaximizerProbabilities(), []float64{0.5, 0.5})
	is.Equal(s.Rounds(), 2)
}

func TestSettlesAcrossRounds(t *testing.T) {
	is := is.New(t)
	g := &tableGame{
		table:   [][]float64{{0, 1}},
		seedMax: []idx{0},
		seedMin: []idx{1},
	}
	var kinds []EventKind
	s := New[idx](g, oracle(t, "simplex"), nil, Options{
		Listener: func(e Event) { kinds = append(kinds, e.Kind) },
	})
	converged, err := s.Solve(context.Background(), nil, nil)
	is.NoErr(err)
	is.True(converged)
	is.Equal(kinds, []EventKind{
		MinimizerAdded, MaximizerSettled,
		MinimizerSettled, BothSettled,
	})
	is.Equal(s.Rounds(), 2)
	is.Equal(s.MaximizerValue(), 0.0)
	is.Equal(s.MinimizerValue(), 0.0)
	// Column order is seed first: column 1, then column 0.
	is.Equal(s.MinimizerProbabilities(), []float64{0, 1})
}

func TestAccessorsPanicBeforeSolve(t *testing.T) {
	g := &tableGame{table: [][]float64{{1}}, seedMax: []idx{0}, seedMin: []idx{0}}
	s := New[idx](g, oracle(t, "simplex"), nil, Options{})
	for name, f := range map[string]func(){
		"max-value": func() { s.MaximizerValue() },
		"min-value": func() { s.MinimizerValue() },
		"max-probs": func() { s.MaximizerProbabilities() },
		"min-probs": func() { s.MinimizerProbabilities() },
		"max-set":   func() { s.MaximizerStrategies() },
		"min-set":   func() { s.MinimizerStrategies() },
	} {
		t.Run(name, func(t *testing.T) {
			is := is.New(t)
			defer func() {
				is.True(recover() != nil)
			}()
			f()
		})
	}
}

func TestNaNPayoffPanics(t *testing.T) {
	is := is.New(t)
	g := &tableGame{
		table:   [][]float64{{1, 2}, {2, 1}},
		seedMax: []idx{0, 1},
		seedMin: []idx{0, 1},
		nanAt:   &[2]int{1, 0},
	}
	s := New[idx](g, oracle(t, "simplex"), nil, Options{})
	defer func() {
		r := recover()
		is.True(r != nil)
		is.True(strings.Contains(r.(string), "NaN"))
	}()
	s.Solve(context.Background(), nil, nil)
}

func TestEmptySeedsPanic(t *testing.T) {
	is := is.New(t)
	g := &tableGame{table: [][]float64{{1}}, seedMin: []idx{0}}
	s := New[idx](g, oracle(t, "simplex"), nil, Options{})
	defer func() {
		is.True(recover() != nil)
	}()
	s.Solve(context.Background(), nil, nil)
}

type failingOracle struct {
	mu    sync.Mutex
	calls int
}

func (f *failingOracle) Name() string { return "failing" }

func (f *failingOracle) SolveMaximizer(ctx context.Context, g payoff.Game) ([]float64, float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, 0, &minimax.SolverError{Solver: "failing", Err: errors.New("numerical failure")}
}

func (f *failingOracle) SolveMinimizer(ctx context.Context, g payoff.Game) ([]float64, float64, error) {
	return f.SolveMaximizer(ctx, g)
}

func TestBackupOracle(t *testing.T) {
	is := is.New(t)
	g := &tableGame{
		table:   [][]float64{{0, 4, 6}, {5, 7, 4}, {9, 6, 3}},
		seedMax: []idx{0},
		seedMin: []idx{0},
	}
	primary := &failingOracle{}
	var kinds []EventKind
	s := New[idx](g, primary, oracle(t, "simplex-unscaled"), Options{
		Listener: func(e Event) { kinds = append(kinds, e.Kind) },
	})
	converged, err := s.Solve(context.Background(), nil, nil)
	is.NoErr(err)
	is.True(converged)
	is.Equal(primary.calls, 1)
	is.Equal(kinds[0], BackupOracle)
	assert.InDelta(t, 4.5, s.MaximizerValue(), 1e-4)
}

func TestFailureWithoutBackup(t *testing.T) {
	is := is.New(t)
	g := &tableGame{table: [][]float64{{1, 2}}, seedMax: []idx{0}, seedMin: []idx{0}}
	s := New[idx](g, &failingOracle{}, nil, Options{})
	converged, err := s.Solve(context.Background(), nil, nil)
	is.True(!converged)
	is.True(errors.Is(err, minimax.ErrSolverFailure))
}

func TestBothOraclesFail(t *testing.T) {
	is := is.New(t)
	g := &tableGame{table: [][]float64{{1, 2}}, seedMax: []idx{0}, seedMin: []idx{0}}
	primary, backup := &failingOracle{}, &failingOracle{}
	s := New[idx](g, primary, backup, Options{})
	_, err := s.Solve(context.Background(), nil, nil)
	is.True(errors.Is(err, minimax.ErrSolverFailure))
	is.Equal(primary.calls, 1)
	is.Equal(backup.calls, 1)
}

func TestYAMLTrace(t *testing.T) {
	is := is.New(t)
	var buf bytes.Buffer
	trace := NewYAMLTrace(&buf)
	l := MultiListener(nil, trace.Listener())
	l(Event{Kind: MinimizerAdded, Round: 1, Value: 0.5, Maximizers: 2, Minimizers: 3, Oracle: "simplex"})
	l(Event{Kind: BothSettled, Round: 2, Value: 0.5, Maximizers: 3, Minimizers: 3})
	is.NoErr(trace.Err())
	out := buf.String()
	is.True(strings.Contains(out, "- kind: minimizer-added\n"))
	is.True(strings.Contains(out, "- kind: both-settled\n"))
	is.True(strings.Contains(out, "oracle: simplex\n"))
	is.Equal(strings.Count(out, "oracle:"), 1)
}
