package payoff

// Game is a read-only, fully populated payoff table as seen by the LP
// oracle: At(i, j) is the maximizer's payoff for row i against column j.
type Game interface {
	Size() (rows, cols int)
	At(row, col int) float64
	Min() float64
	Max() float64
}

var _ Game = (*Matrix)(nil)

// At is Get under the Game interface.
func (m *Matrix) At(row, col int) float64 {
	return m.Get(row, col)
}

// Transposed presents the minimizer's side of g as a maximization game: rows
// and columns swap and every payoff is negated, so the extreme values swap
// and change sign.
type Transposed struct {
	G Game
}

func (t Transposed) Size() (int, int) {
	r, c := t.G.Size()
	return c, r
}

func (t Transposed) At(row, col int) float64 {
	return -t.G.At(col, row)
}

func (t Transposed) Min() float64 { return -t.G.Max() }
func (t Transposed) Max() float64 { return -t.G.Min() }

// Dense builds a fully populated Matrix from a row-major table.
func Dense(rows [][]float64) *Matrix {
	if len(rows) == 0 {
		return NewMatrix()
	}
	m := NewMatrixWithCapacity(len(rows) * max(1, len(rows[0])))
	for i, row := range rows {
		for j, v := range row {
			m.Put(i, j, v)
		}
	}
	return m
}
