package learning

import (
	"context"
	"fmt"
	"math"

	"github.com/domino14/mpg/doubleoracle"
	"github.com/domino14/mpg/minimax"
	"github.com/domino14/mpg/pool"
	"github.com/domino14/mpg/target"
)

// Prediction is the outcome of predicting one instance: the maximizer
// strategy with the highest equilibrium probability, scored against gold.
type Prediction[S target.Keyer] struct {
	Index       int
	Labeling    S
	Probability float64
	Gold        S
	Score       float64
}

func (p Prediction[S]) String() string {
	return fmt.Sprintf("%g(%g%%)", p.Score, p.Probability*100)
}

// Predictor solves each instance's game at fixed parameters, without the
// gold strategy, and reads the prediction off the maximizer's mixed
// strategy.
type Predictor[S target.Keyer] struct {
	pool    *pool.Pool
	primary minimax.Oracle
	backup  minimax.Oracle
	opts    doubleoracle.Options
}

func NewPredictor[S target.Keyer](p *pool.Pool, primary, backup minimax.Oracle, opts doubleoracle.Options) *Predictor[S] {
	return &Predictor[S]{pool: p, primary: primary, backup: backup, opts: opts}
}

func (p *Predictor[S]) Predict(ctx context.Context, targets []target.Target[S], theta []float64) ([]Prediction[S], error) {
	out := make([]Prediction[S], len(targets))
	err := p.pool.Run(ctx, len(targets), func(ctx context.Context, i int) error {
		pred, err := p.predictOne(ctx, targets[i], theta)
		if err != nil {
			return fmt.Errorf("instance %d: %w", i, err)
		}
		pred.Index = i
		out[i] = pred
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Predictor[S]) predictOne(ctx context.Context, t target.Target[S], theta []float64) (Prediction[S], error) {
	var pred Prediction[S]
	s := doubleoracle.New[S](t, p.primary, p.backup, p.opts)
	if _, err := s.Solve(ctx, theta, nil); err != nil {
		return pred, err
	}
	probs := s.MaximizerProbabilities()
	set := s.MaximizerStrategies()
	if len(probs) != set.Len() {
		panic(fmt.Sprintf("learning: %d maximizer probabilities for %d strategies", len(probs), set.Len()))
	}
	best := -1
	bestProb := math.Inf(-1)
	for i, q := range probs {
		if q > bestProb {
			best, bestProb = i, q
		}
	}
	pred.Labeling = set.At(best)
	pred.Probability = bestProb
	pred.Gold = t.Gold()
	pred.Score = t.Payoff(pred.Labeling, pred.Gold)
	if math.IsNaN(pred.Score) {
		return pred, fmt.Errorf("score of %s against %s is NaN", pred.Labeling.Key(), pred.Gold.Key())
	}
	return pred, nil
}
