// Package schedule models where host method invocations run. Most hosts use
// the pass-through scheduler; GUI hosts with a single-threaded surface use the
// affinity scheduler, which funnels invocations onto one captured loop while
// letting reentrant calls run inline to avoid deadlock.
package schedule

import (
	"context"
	"sync"
)

// Scheduler executes fn and returns its result. Implementations decide the
// goroutine fn runs on.
type Scheduler interface {
	Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
}

// Inline runs the function on the calling goroutine.
type Inline struct{}

func (Inline) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return fn(ctx)
}

type affinityKey struct{}

type affinityJob struct {
	ctx  context.Context
	fn   func(ctx context.Context) (any, error)
	done chan affinityResult
}

type affinityResult struct {
	value any
	err   error
}

// Affinity owns a single loop goroutine and marshals every Call onto it.
// Calls made from inside a scheduled function (reentrant invocations) are
// detected through the context mark and executed inline.
type Affinity struct {
	jobs chan *affinityJob

	once   sync.Once
	closed chan struct{}
}

// NewAffinity starts the loop goroutine.
func NewAffinity() *Affinity {
	s := &Affinity{
		jobs:   make(chan *affinityJob),
		closed: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Affinity) loop() {
	for {
		select {
		case <-s.closed:
			return
		case job := <-s.jobs:
			ctx := context.WithValue(job.ctx, affinityKey{}, s)
			value, err := job.fn(ctx)
			job.done <- affinityResult{value: value, err: err}
		}
	}
}

// Call queues fn onto the loop, or runs it inline when already on it.
func (s *Affinity) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if ctx.Value(affinityKey{}) == s {
		return fn(ctx)
	}
	job := &affinityJob{ctx: ctx, fn: fn, done: make(chan affinityResult, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, context.Canceled
	case s.jobs <- job:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-job.done:
		return res.value, res.err
	}
}

// Close stops the loop. Pending calls fail with context.Canceled.
func (s *Affinity) Close() {
	s.once.Do(func() { close(s.closed) })
}

var _ Scheduler = Inline{}
var _ Scheduler = (*Affinity)(nil)
