// Package pool runs batches of independent tasks on a fixed set of
// long-lived workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrClosed = errors.New("pool is closed")

// Task runs the i-th unit of a batch.
type Task func(ctx context.Context, i int) error

type job struct {
	ctx  context.Context
	i    int
	task Task
	done func(err error, panicked any)
}

// Pool is a fixed number of workers shared by every batch submitted to it.
// Batches from different goroutines may interleave.
type Pool struct {
	size      int
	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	workers   errgroup.Group
}

// DefaultSize is one worker per CPU plus one.
func DefaultSize() int {
	return runtime.NumCPU() + 1
}

// New starts size workers. A size below one means DefaultSize.
func New(size int) *Pool {
	if size < 1 {
		size = DefaultSize()
	}
	p := &Pool{
		size: size,
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	for t := range size {
		p.workers.Go(func() error {
			for {
				select {
				case j := <-p.jobs:
					p.run(j)
				case <-p.done:
					log.Debug().Int("thread", t).Msg("pool-worker-exiting")
					return nil
				}
			}
		})
	}
	log.Debug().Int("size", size).Msg("pool-started")
	return p
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			j.done(nil, r)
		}
	}()
	if err := j.ctx.Err(); err != nil {
		j.done(err, nil)
		return
	}
	j.done(j.task(j.ctx, j.i), nil)
}

func (p *Pool) Size() int { return p.size }

// Run executes task for every i in [0, n) and waits for all of them. The
// first error cancels the context seen by the remaining tasks and is
// returned. A panicking task is re-panicked on the calling goroutine once
// the batch has drained.
func (p *Pool) Run(ctx context.Context, n int, task Task) error {
	if p.Closed() {
		return ErrClosed
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		first    error
		panicked any
	)
	finish := func(err error, r any) {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		if r != nil && panicked == nil {
			panicked = r
			cancel(fmt.Errorf("task panicked: %v", r))
		}
		if err != nil && first == nil {
			first = err
			cancel(err)
		}
	}

submit:
	for i := range n {
		wg.Add(1)
		select {
		case p.jobs <- job{ctx: ctx, i: i, task: task, done: finish}:
		case <-p.done:
			finish(ErrClosed, nil)
			break submit
		}
	}
	wg.Wait()

	if panicked != nil {
		panic(panicked)
	}
	return first
}

// Close stops the workers after their current tasks. It is safe to call
// more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.workers.Wait()
}

func (p *Pool) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
