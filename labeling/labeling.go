// Package labeling provides the bit-vector strategies of binary measures: a
// Labeling marks which positions of an instance are predicted (or assumed)
// positive.
package labeling

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math/bits"
	"slices"
	"strings"
)

// Labeling is a fixed-length bit vector. The zero value is an empty labeling
// of length 0.
type Labeling struct {
	n     int
	words []uint64
}

func New(n int) Labeling {
	if n < 0 {
		panic(fmt.Sprintf("labeling: negative length %d", n))
	}
	return Labeling{n: n, words: make([]uint64, (n+63)/64)}
}

// Range returns a labeling of length n with positions [from, to) set.
func Range(n, from, to int) Labeling {
	l := New(n)
	for i := from; i < to; i++ {
		l.Set(i)
	}
	return l
}

// AllOnes returns a labeling of length n with every position set.
func AllOnes(n int) Labeling {
	return Range(n, 0, n)
}

// Of returns a labeling of length n with the given positions set.
func Of(n int, positions ...int) Labeling {
	l := New(n)
	for _, p := range positions {
		l.Set(p)
	}
	return l
}

// FromTags builds a labeling from 0/1 tag values. Any other value is an
// error.
func FromTags(tags []float64) (Labeling, error) {
	l := New(len(tags))
	for i, t := range tags {
		switch t {
		case 1:
			l.Set(i)
		case 0:
		default:
			return Labeling{}, fmt.Errorf("tag %d has non-binary value %v", i, t)
		}
	}
	return l, nil
}

func (l Labeling) Len() int { return l.n }

// Set marks position i. Labelings share storage when copied, so callers
// building a labeling should own it.
func (l Labeling) Set(i int) {
	l.check(i)
	l.words[i/64] |= 1 << uint(i%64)
}

func (l Labeling) Test(i int) bool {
	l.check(i)
	return l.words[i/64]&(1<<uint(i%64)) != 0
}

func (l Labeling) check(i int) {
	if i < 0 || i >= l.n {
		panic(fmt.Sprintf("labeling: position %d out of range [0,%d)", i, l.n))
	}
}

// Count returns the number of set positions.
func (l Labeling) Count() int {
	c := 0
	for _, w := range l.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// IntersectionCount returns the number of positions set in both l and o.
func (l Labeling) IntersectionCount(o Labeling) int {
	c := 0
	for i := range min(len(l.words), len(o.words)) {
		c += bits.OnesCount64(l.words[i] & o.words[i])
	}
	return c
}

// Ones yields the set positions in increasing order.
func (l Labeling) Ones() iter.Seq[int] {
	return func(yield func(int) bool) {
		for wi, w := range l.words {
			for w != 0 {
				b := bits.TrailingZeros64(w)
				if !yield(wi*64 + b) {
					return
				}
				w &= w - 1
			}
		}
	}
}

func (l Labeling) Clone() Labeling {
	return Labeling{n: l.n, words: slices.Clone(l.words)}
}

func (l Labeling) Equal(o Labeling) bool {
	return l.n == o.n && slices.Equal(l.words, o.words)
}

// Key identifies the labeling by value.
func (l Labeling) Key() string {
	buf := make([]byte, 0, 8+8*len(l.words))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(l.n))
	for _, w := range l.words {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	return string(buf)
}

// Tags returns the labeling as 0/1 values.
func (l Labeling) Tags() []float64 {
	tags := make([]float64, l.n)
	for i := range l.Ones() {
		tags[i] = 1
	}
	return tags
}

// String renders the labeling as a string of 0s and 1s, position 0 first.
func (l Labeling) String() string {
	var sb strings.Builder
	sb.Grow(l.n)
	for i := range l.n {
		if l.Test(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}
