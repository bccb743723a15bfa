package main

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/samber/lo"

	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/stats"
)

const histogramBins = 10

// solveSummary collects the final round count and strategy-set sizes of
// every double-oracle solve.
type solveSummary struct {
	mu       sync.Mutex
	rounds   []float64
	sizes    []float64
	roundSt  stats.Statistic
	capped   int
	backups  int
	outcomes map[doubleoracle.EventKind]int
}

func newSolveSummary() *solveSummary {
	return &solveSummary{outcomes: map[doubleoracle.EventKind]int{}}
}

func (s *solveSummary) Listener() doubleoracle.Listener {
	return func(e doubleoracle.Event) {
		if e.Kind == doubleoracle.BackupOracle {
			s.mu.Lock()
			s.backups++
			s.mu.Unlock()
			return
		}
		if !e.Kind.Terminal() {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rounds = append(s.rounds, float64(e.Round))
		s.sizes = append(s.sizes, float64(e.Maximizers+e.Minimizers))
		s.roundSt.Push(float64(e.Round))
		s.outcomes[e.Kind]++
		if e.Kind == doubleoracle.MaximizerCapReached || e.Kind == doubleoracle.MinimizerCapReached {
			s.capped++
		}
	}
}

func (s *solveSummary) Print(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rounds) == 0 {
		fmt.Fprintln(w, "no solves")
		return
	}
	lo95, hi95 := s.roundSt.Interval(95)
	fmt.Fprintf(w, "\nsolves: %d (capped %d, backup oracle %d)\n", len(s.rounds), s.capped, s.backups)
	fmt.Fprintf(w, "rounds: mean %.2f, 95%% interval [%.2f, %.2f], min %.0f, max %.0f\n",
		s.roundSt.Mean(), lo95, hi95, s.roundSt.Min(), s.roundSt.Max())
	kinds := lo.Keys(s.outcomes)
	slices.Sort(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-24s %d\n", k, s.outcomes[k])
	}
	fmt.Fprintln(w, "\nrounds per solve:")
	histogram.Fprint(w, histogram.Hist(histogramBins, s.rounds), histogram.Linear(40))
	fmt.Fprintln(w, "\nstrategies per solve:")
	histogram.Fprint(w, histogram.Hist(histogramBins, s.sizes), histogram.Linear(40))
}
