// Package gfm computes exact best responses for F-measure payoffs in
// O(n^2 log n). The expected F-measure of a labeling with s positives
// against a distribution over labelings only depends on, for every position
// i and every size t, the probability P[i][t-1] that the opponent labels i
// positive and has t positives in total, plus the probability p0 of the
// empty labeling.
package gfm

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"

	"github.com/domino14/mpg/cache"
	"github.com/domino14/mpg/labeling"
	"github.com/domino14/mpg/stats"
	"github.com/domino14/mpg/target"
)

// ErrTooLarge is returned when the n-by-n working matrices would not fit in
// memory.
var ErrTooLarge = errors.New("instance too large for rank-sensitive best response")

// workingMatrices is the number of n-by-n float64 matrices alive during one
// best response: W, P and the score matrix.
const workingMatrices = 3

// Solver is safe for concurrent use.
type Solver struct {
	n int
	w *mat.SymDense
}

// New returns a solver for instances with n positions. W is shared between
// all solvers of the same size.
func New(n int) (*Solver, error) {
	if n <= 0 {
		return nil, fmt.Errorf("gfm: need at least one position, got %d", n)
	}
	if err := checkMemory(n); err != nil {
		return nil, err
	}
	obj, err := cache.Load("gfm-w:"+strconv.Itoa(n), func(string) (any, error) {
		return weights(n), nil
	})
	if err != nil {
		return nil, err
	}
	return &Solver{n: n, w: obj.(*mat.SymDense)}, nil
}

func checkMemory(n int) error {
	need := uint64(n) * uint64(n) * 8 * workingMatrices
	total := memory.TotalMemory()
	if total > 0 && need > total/2 {
		return fmt.Errorf("%w: %d positions need %d bytes, have %d", ErrTooLarge, n, need, total)
	}
	return nil
}

// weights builds W[i][j] = 1/(i+j+2).
func weights(n int) *mat.SymDense {
	log.Debug().Int("n", n).Msg("computing-gfm-weights")
	w := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			w.SetSym(i, j, 1/float64(i+j+2))
		}
	}
	return w
}

func (s *Solver) Size() int { return s.n }

// Marginals collapses a mixed strategy over labelings of length n into p0
// and P. Strategies whose probability rounds to zero are skipped.
func Marginals(n int, probs []float64, set *target.Set[labeling.Labeling], prec stats.Precision) (float64, *mat.Dense) {
	if len(probs) != set.Len() {
		panic(fmt.Sprintf("gfm: %d probabilities for %d strategies", len(probs), set.Len()))
	}
	p0 := 0.0
	P := mat.NewDense(n, n, nil)
	for k, l := range set.All() {
		p := probs[k]
		if prec.IsZero(p) {
			continue
		}
		ones := l.Count()
		if ones == 0 {
			p0 += p
			continue
		}
		for i := range l.Ones() {
			P.Set(i, ones-1, P.At(i, ones-1)+p)
		}
	}
	return p0, P
}

type scored struct {
	value float64
	pos   int
}

// Maximize returns the labeling with the highest expected F-measure against
// the distribution summarized by p0 and P, and that expectation.
func (s *Solver) Maximize(p0 float64, P mat.Matrix) (labeling.Labeling, float64) {
	return s.solve(p0, P, nil)
}

// Minimize returns the labeling with the lowest expected F-measure minus the
// potentials of its positive positions, and that value.
func (s *Solver) Minimize(p0 float64, P mat.Matrix, potentials []float64) (labeling.Labeling, float64) {
	if len(potentials) != s.n {
		panic(fmt.Sprintf("gfm: %d potentials for %d positions", len(potentials), s.n))
	}
	return s.solve(p0, P, potentials)
}

func (s *Solver) solve(p0 float64, P mat.Matrix, potentials []float64) (labeling.Labeling, float64) {
	if r, c := P.Dims(); r != s.n || c != s.n {
		panic(fmt.Sprintf("gfm: P is %dx%d, want %dx%d", r, c, s.n, s.n))
	}
	maximize := potentials == nil

	var score mat.Dense
	score.Mul(P, s.w)
	score.Scale(2, &score)
	if !maximize {
		for i := range s.n {
			row := score.RawRowView(i)
			for j := range row {
				row[j] -= potentials[i]
			}
		}
	}

	best := labeling.New(s.n)
	bestValue := p0
	column := make([]scored, s.n)
	for c := range s.n {
		for i := range s.n {
			column[i] = scored{score.At(i, c), i}
		}
		if maximize {
			slices.SortFunc(column, descending)
		} else {
			slices.SortFunc(column, ascending)
		}
		ones := c + 1
		sum := 0.0
		for _, e := range column[:ones] {
			sum += e.value
		}
		if (maximize && sum > bestValue) || (!maximize && sum < bestValue) {
			l := labeling.New(s.n)
			for _, e := range column[:ones] {
				l.Set(e.pos)
			}
			best, bestValue = l, sum
		}
	}
	return best, bestValue
}

func ascending(a, b scored) int {
	switch {
	case a.value < b.value:
		return -1
	case a.value > b.value:
		return 1
	}
	return a.pos - b.pos
}

func descending(a, b scored) int {
	return ascending(b, a)
}
