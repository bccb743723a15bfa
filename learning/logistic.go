package learning

import (
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/domino14/mpg/objective"
)

const logisticMaxIterations = 1000

// softplus is log(1 + e^x) without overflow.
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// logisticWeights fits a regularized logistic regression of tags (0 or 1)
// on the rows of x and returns the weights of the positive class. The loss
// is the summed negative log-likelihood plus reg. With a zero lambda the
// weights are all zero.
func logisticWeights(x *mat.Dense, tags []float64, reg objective.Regularization, tolerance float64) []float64 {
	n, d := x.Dims()
	if reg.Lambda == 0 {
		log.Warn().Msg("logistic-regression-with-zero-regularization-learns-zero-weights")
		return make([]float64, d)
	}
	y := make([]float64, n)
	for i, t := range tags {
		y[i] = 2*t - 1
	}
	z := make([]float64, n)
	margins := func(w []float64) {
		mat.NewVecDense(n, z).MulVec(x, mat.NewVecDense(d, w))
	}

	prob := optimize.Problem{
		Func: func(w []float64) float64 {
			margins(w)
			loss := 0.0
			for i := range n {
				loss += softplus(-y[i] * z[i])
			}
			switch reg.Norm {
			case objective.L1Norm:
				loss += reg.Lambda * floats.Norm(w, 1)
			default:
				loss += reg.Lambda * floats.Dot(w, w) / 2
			}
			return loss
		},
		Grad: func(grad, w []float64) {
			margins(w)
			for j := range grad {
				grad[j] = 0
			}
			for i := range n {
				c := -y[i] * sigmoid(-y[i]*z[i])
				floats.AddScaled(grad, c, x.RawRowView(i))
			}
			for j, v := range w {
				switch reg.Norm {
				case objective.L1Norm:
					switch {
					case v > 0:
						grad[j] += reg.Lambda
					case v < 0:
						grad[j] -= reg.Lambda
					}
				default:
					grad[j] += reg.Lambda * v
				}
			}
		},
	}
	settings := optimize.Settings{
		GradientThreshold: tolerance,
		MajorIterations:   logisticMaxIterations,
	}
	w0 := make([]float64, d)
	result, err := optimize.Minimize(prob, w0, &settings, &optimize.LBFGS{})
	if result == nil {
		log.Warn().Err(err).Msg("logistic-regression-failed")
		return w0
	}
	if err != nil {
		log.Warn().Err(err).Msg("logistic-regression-stopped-early")
	}
	log.Info().Str("status", result.Status.String()).
		Int("iterations", result.Stats.MajorIterations).
		Floats64("weights", result.X).Msg("logistic-regression-weights")
	return result.X
}
