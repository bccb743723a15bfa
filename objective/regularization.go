package objective

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type Norm int

const (
	L1Norm Norm = iota + 1
	L2Norm
)

func (n Norm) String() string {
	switch n {
	case L1Norm:
		return "l1"
	case L2Norm:
		return "l2"
	}
	return fmt.Sprintf("norm(%d)", int(n))
}

// Regularization penalizes every parameter with the same weight: lambda*|θ|₁
// for L1 and lambda*|θ|²/2 for L2.
type Regularization struct {
	Norm   Norm
	Lambda float64
}

func L1(lambda float64) Regularization { return Regularization{Norm: L1Norm, Lambda: lambda} }
func L2(lambda float64) Regularization { return Regularization{Norm: L2Norm, Lambda: lambda} }

func (r Regularization) String() string {
	return fmt.Sprintf("%s_%g", r.Norm, r.Lambda)
}

// FeatureWiseRegularization gives every parameter its own weight.
type FeatureWiseRegularization struct {
	Norm    Norm
	Lambdas []float64
}

func FeatureWiseL1(lambdas []float64) FeatureWiseRegularization {
	return FeatureWiseRegularization{Norm: L1Norm, Lambdas: lambdas}
}

func FeatureWiseL2(lambdas []float64) FeatureWiseRegularization {
	return FeatureWiseRegularization{Norm: L2Norm, Lambdas: lambdas}
}

// regularizer computes the penalty over the first n parameters; the rest
// (the bias, when excluded) are free.
type regularizer struct {
	uniform *Regularization
	wise    *FeatureWiseRegularization
}

func (r regularizer) value(theta []float64, n int) float64 {
	th := theta[:n]
	switch {
	case r.uniform != nil:
		switch r.uniform.Norm {
		case L1Norm:
			return r.uniform.Lambda * floats.Norm(th, 1)
		case L2Norm:
			return r.uniform.Lambda * floats.Dot(th, th) / 2
		}
		panic(fmt.Sprintf("objective: unknown norm %v", r.uniform.Norm))
	case r.wise != nil:
		sum := 0.0
		for i, v := range th {
			switch r.wise.Norm {
			case L1Norm:
				sum += r.wise.Lambdas[i] * math.Abs(v)
			case L2Norm:
				sum += r.wise.Lambdas[i] * v * v / 2
			default:
				panic(fmt.Sprintf("objective: unknown norm %v", r.wise.Norm))
			}
		}
		return sum
	}
	return 0
}

func (r regularizer) gradient(theta []float64, n int) []float64 {
	g := make([]float64, len(theta))
	var lambda func(i int) float64
	var norm Norm
	switch {
	case r.uniform != nil:
		lambda = func(int) float64 { return r.uniform.Lambda }
		norm = r.uniform.Norm
	case r.wise != nil:
		lambda = func(i int) float64 { return r.wise.Lambdas[i] }
		norm = r.wise.Norm
	default:
		return g
	}
	for i := range n {
		switch norm {
		case L1Norm:
			g[i] = lambda(i) * sign(theta[i])
		case L2Norm:
			g[i] = lambda(i) * theta[i]
		default:
			panic(fmt.Sprintf("objective: unknown norm %v", norm))
		}
	}
	return g
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
