package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestRunIsABarrier(t *testing.T) {
	is := is.New(t)
	p := New(3)
	defer p.Close()

	out := make([]int, 50)
	err := p.Run(context.Background(), len(out), func(ctx context.Context, i int) error {
		out[i] = i * i
		return nil
	})
	is.NoErr(err)
	for i, v := range out {
		is.Equal(v, i*i)
	}
}

func TestConcurrencyBounded(t *testing.T) {
	is := is.New(t)
	p := New(2)
	defer p.Close()

	var running, peak atomic.Int32
	err := p.Run(context.Background(), 10, func(ctx context.Context, i int) error {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return nil
	})
	is.NoErr(err)
	is.True(peak.Load() <= 2)
	is.True(peak.Load() >= 1)
}

func TestFirstErrorCancelsRest(t *testing.T) {
	is := is.New(t)
	p := New(1)
	defer p.Close()

	boom := errors.New("boom")
	var ran atomic.Int32
	err := p.Run(context.Background(), 20, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 0 {
			return boom
		}
		return nil
	})
	is.True(errors.Is(err, boom))
	// With one worker, task 0 runs first and every later task sees a
	// cancelled context before it starts.
	is.Equal(ran.Load(), int32(1))
}

func TestPanicReachesCaller(t *testing.T) {
	is := is.New(t)
	p := New(2)
	defer p.Close()
	defer func() {
		r := recover()
		is.Equal(r, "bad state")
	}()
	p.Run(context.Background(), 4, func(ctx context.Context, i int) error {
		if i == 2 {
			panic("bad state")
		}
		return nil
	})
}

func TestClosedPool(t *testing.T) {
	is := is.New(t)
	p := New(0)
	is.Equal(p.Size(), DefaultSize())
	p.Close()
	p.Close()
	is.True(p.Closed())
	err := p.Run(context.Background(), 3, func(ctx context.Context, i int) error { return nil })
	is.True(errors.Is(err, ErrClosed))
}
