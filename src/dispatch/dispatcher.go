// Package dispatch correlates exec-requests with their results. Each in-flight
// execution owns a one-shot slot keyed by request id; results, cancellation,
// and transport close race for the single completion.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/peopleworks/ason/src/protocol"
)

var (
	// ErrCancelled completes a slot whose caller gave up.
	ErrCancelled = errors.New("dispatch: execution cancelled")

	// ErrTransportClosed completes every outstanding slot when the wire dies.
	ErrTransportClosed = errors.New("dispatch: transport closed")
)

// RunnerError wraps a non-empty error field from an exec-result so callers
// can distinguish script failures from infrastructure failures.
type RunnerError struct {
	Message string
}

func (e *RunnerError) Error() string { return e.Message }

type outcome struct {
	value any
	err   error
}

// slot is an owned one-shot sender. Whoever removes the slot from the table
// owns the sole right to complete it; late arrivals find no slot and are
// dropped, which keeps replays and cancel races harmless.
type slot struct {
	ch chan outcome
}

// SendFunc writes an encoded exec-request line to the runner.
type SendFunc func(line string) error

// Dispatcher owns the pending-execution table. Safe for concurrent use.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[string]*slot
}

func New() *Dispatcher {
	return &Dispatcher{pending: make(map[string]*slot)}
}

// Pending reports the number of in-flight executions.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) take(id string) *slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return s
}

// Execute sends code to the runner and blocks until the matching exec-result
// arrives, the context is cancelled, or the transport closes. The returned
// value is the result JSON cloned into plain Go values.
func (d *Dispatcher) Execute(ctx context.Context, code string, send SendFunc) (any, error) {
	id := uuid.NewString()
	s := &slot{ch: make(chan outcome, 1)}

	d.mu.Lock()
	d.pending[id] = s
	d.mu.Unlock()

	line, err := protocol.Encode(&protocol.ExecRequest{ID: id, Code: code})
	if err != nil {
		d.take(id)
		return nil, err
	}
	if err := send(line); err != nil {
		d.take(id)
		return nil, fmt.Errorf("dispatch: send exec-request: %w", err)
	}

	select {
	case <-ctx.Done():
		if taken := d.take(id); taken != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		// The result won the race; deliver it anyway.
		out := <-s.ch
		return out.value, out.err
	case out := <-s.ch:
		return out.value, out.err
	}
}

// HandleResult resolves the slot matching an exec-result frame. Unmatched ids
// are ignored (cancelled or duplicate completions).
func (d *Dispatcher) HandleResult(env protocol.Envelope) {
	s := d.take(env.ID)
	if s == nil {
		return
	}
	if env.Error != "" {
		s.ch <- outcome{err: &RunnerError{Message: env.Error}}
		return
	}
	value, err := protocol.CloneValue(env.Result)
	if err != nil {
		s.ch <- outcome{err: err}
		return
	}
	s.ch <- outcome{value: value}
}

// FailAll completes every outstanding slot with a transport-closed error. The
// reason, when non-nil, is attached for diagnostics.
func (d *Dispatcher) FailAll(reason error) {
	d.mu.Lock()
	slots := d.pending
	d.pending = make(map[string]*slot)
	d.mu.Unlock()

	err := ErrTransportClosed
	if reason != nil {
		err = fmt.Errorf("%w: %v", ErrTransportClosed, reason)
	}
	for _, s := range slots {
		s.ch <- outcome{err: err}
	}
}
