package stats

import (
	"fmt"
	"math"
)

// DefaultPrecision is the granularity game values are compared at.
const DefaultPrecision = 1e-6

// Precision rounds values to a fixed decimal granularity. Game values and
// mixed-strategy probabilities coming out of an LP are only trusted up to
// this granularity, so all equality tests between them go through it.
type Precision struct {
	step     float64
	modifier float64
}

// NewPrecision returns a Precision for the given step. The step must be a
// power of ten between 1 and 1e-11.
func NewPrecision(step float64) (Precision, error) {
	if step <= 0 || step > 1 || math.IsNaN(step) {
		return Precision{}, fmt.Errorf("value precision %v out of range (0, 1]", step)
	}
	exp := math.Log10(step)
	if math.Abs(exp-math.Round(exp)) > 1e-9 || math.Round(exp) < -11 {
		return Precision{}, fmt.Errorf("value precision %v is not a power of ten >= 1e-11", step)
	}
	return Precision{step: step, modifier: math.Round(1 / step)}, nil
}

// MustPrecision is NewPrecision that panics on a bad step.
func MustPrecision(step float64) Precision {
	p, err := NewPrecision(step)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Precision) Step() float64 {
	if p.step == 0 {
		return DefaultPrecision
	}
	return p.step
}

// Round rounds v half up to the nearest multiple of the step. The zero
// Precision rounds at DefaultPrecision.
func (p Precision) Round(v float64) float64 {
	m := p.modifier
	if m == 0 {
		m = math.Round(1 / DefaultPrecision)
	}
	return math.Floor(v*m+0.5) / m
}

// RoughlyEqual compares a and b after rounding. Two NaNs are equal; a NaN is
// never equal to a number.
func (p Precision) RoughlyEqual(a, b float64) bool {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	if aNaN && bNaN {
		return true
	}
	if aNaN || bNaN {
		return false
	}
	return p.Round(a) == p.Round(b)
}

// IsZero reports whether v rounds to zero.
func (p Precision) IsZero(v float64) bool {
	return p.RoughlyEqual(v, 0)
}
