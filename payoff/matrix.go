// Package payoff holds the restricted game's payoff matrix. Rows are
// maximizer strategies and columns are minimizer strategies, both indexed in
// the order the strategies were added.
package payoff

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type cell struct {
	row, col int
}

// Matrix is a sparse, growable matrix whose cells are written exactly once.
// It tracks the extreme values it has seen so the LP oracle can shift the
// game into positive territory without rescanning.
type Matrix struct {
	cells  map[cell]float64
	max    float64
	min    float64
	maxRow int
	maxCol int
}

func NewMatrix() *Matrix {
	return NewMatrixWithCapacity(16)
}

func NewMatrixWithCapacity(capacity int) *Matrix {
	return &Matrix{
		cells:  make(map[cell]float64, capacity),
		max:    math.Inf(-1),
		min:    math.Inf(1),
		maxRow: -1,
		maxCol: -1,
	}
}

// Put stores value at (row, col). It panics on a negative index, a NaN value
// or a cell that already holds a value.
func (m *Matrix) Put(row, col int, value float64) {
	if row < 0 || col < 0 {
		panic(fmt.Sprintf("payoff: negative index [%d,%d]", row, col))
	}
	if math.IsNaN(value) {
		panic(fmt.Sprintf("payoff: NaN value at [%d,%d]", row, col))
	}
	c := cell{row, col}
	if _, ok := m.cells[c]; ok {
		panic(fmt.Sprintf("payoff: cell [%d,%d] already has value", row, col))
	}
	m.cells[c] = value
	m.max = math.Max(m.max, value)
	m.min = math.Min(m.min, value)
	m.maxRow = max(m.maxRow, row)
	m.maxCol = max(m.maxCol, col)
}

// Get returns the value at (row, col). It panics if the cell was never set.
func (m *Matrix) Get(row, col int) float64 {
	if row < 0 || col < 0 {
		panic(fmt.Sprintf("payoff: negative index [%d,%d]", row, col))
	}
	v, ok := m.cells[cell{row, col}]
	if !ok {
		panic(fmt.Sprintf("payoff: no value stored at [%d,%d]", row, col))
	}
	return v
}

// Has reports whether (row, col) has been written.
func (m *Matrix) Has(row, col int) bool {
	_, ok := m.cells[cell{row, col}]
	return ok
}

func (m *Matrix) Max() float64 { return m.max }
func (m *Matrix) Min() float64 { return m.min }

func (m *Matrix) Rows() int { return m.maxRow + 1 }
func (m *Matrix) Cols() int { return m.maxCol + 1 }

// Size returns the row and column counts.
func (m *Matrix) Size() (int, int) {
	return m.Rows(), m.Cols()
}

func (m *Matrix) String() string {
	var sb strings.Builder
	for r := 0; r <= m.maxRow; r++ {
		for c := 0; c <= m.maxCol; c++ {
			if c > 0 {
				sb.WriteByte(' ')
			}
			v, ok := m.cells[cell{r, c}]
			if !ok {
				sb.WriteString("NaN")
				continue
			}
			sb.WriteString(strconv.FormatFloat(v, 'g', 6, 64))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
