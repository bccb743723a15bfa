package labeling

import (
	"slices"
	"testing"

	"github.com/matryer/is"
)

func TestSetAndCount(t *testing.T) {
	is := is.New(t)
	l := New(130)
	is.Equal(l.Count(), 0)
	l.Set(0)
	l.Set(63)
	l.Set(64)
	l.Set(129)
	is.Equal(l.Count(), 4)
	is.True(l.Test(64))
	is.True(!l.Test(65))
	is.Equal(slices.Collect(l.Ones()), []int{0, 63, 64, 129})
}

func TestRanges(t *testing.T) {
	is := is.New(t)
	is.Equal(Range(6, 0, 2).String(), "110000")
	is.Equal(Range(6, 4, 6).String(), "000011")
	is.Equal(AllOnes(3).String(), "111")
	is.Equal(New(3).String(), "000")
	is.Equal(Of(5, 1, 3).String(), "01010")
}

func TestIntersection(t *testing.T) {
	is := is.New(t)
	a := Of(70, 1, 2, 65, 69)
	b := Of(70, 2, 3, 65)
	is.Equal(a.IntersectionCount(b), 2)
	is.Equal(b.IntersectionCount(a), 2)
}

func TestKeyIsValueIdentity(t *testing.T) {
	is := is.New(t)
	a := Of(10, 0, 4)
	b := Of(10, 4, 0)
	is.Equal(a.Key(), b.Key())
	is.True(a.Equal(b))
	is.True(a.Key() != Of(11, 0, 4).Key())
	is.True(a.Key() != Of(10, 0).Key())

	c := a.Clone()
	c.Set(9)
	is.True(!a.Test(9))
	is.True(a.Key() != c.Key())
}

func TestFromTags(t *testing.T) {
	is := is.New(t)
	l, err := FromTags([]float64{0, 1, 1, 0})
	is.NoErr(err)
	is.Equal(l.String(), "0110")
	is.Equal(l.Tags(), []float64{0, 1, 1, 0})

	_, err = FromTags([]float64{0, 0.5})
	is.True(err != nil)
}

func TestOutOfRangePanics(t *testing.T) {
	is := is.New(t)
	defer func() {
		is.True(recover() != nil)
	}()
	New(3).Set(3)
}
