// Package chain runs an ordered list of asynchronous preparation steps with a
// single success or failure outcome.
package chain

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNotRunning is returned when steps are queued on a finished chain.
	ErrNotRunning = errors.New("chain: not running") //nolint:gochecknoglobals // sentinel error
	// ErrTerminated is the failure reported when Terminate is called without a cause.
	ErrTerminated = errors.New("chain: terminated") //nolint:gochecknoglobals // sentinel error
)

type State string

const (
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateTerminated State = "terminated"
)

// Step is one unit of work. It must eventually call Continue or Terminate on
// the chain it was given; the chain never advances on its own.
type Step func(ctx context.Context, c *Chain)

// Chain is a FIFO of steps executed one at a time. A chain is consumed once.
type Chain struct {
	mu     sync.Mutex
	ctx    context.Context
	steps  []Step
	state  State
	err    error
	done   chan struct{}
	onDone func(err error)
	stop   func() bool
}

// New returns a running chain. onDone fires exactly once: with nil when the
// queue drains, with the failure cause otherwise. Cancelling ctx terminates
// the chain with ctx.Err().
func New(ctx context.Context, onDone func(err error)) *Chain {
	c := &Chain{
		ctx:    ctx,
		state:  StateRunning,
		done:   make(chan struct{}),
		onDone: onDone,
	}
	c.mu.Lock()
	c.stop = context.AfterFunc(ctx, func() {
		c.Terminate(ctx.Err())
	})
	c.mu.Unlock()
	return c
}

// Append queues step after every step queued so far.
func (c *Chain) Append(step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return ErrNotRunning
	}
	c.steps = append(c.steps, step)
	return nil
}

// Prepend queues step to run next.
func (c *Chain) Prepend(step Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return ErrNotRunning
	}
	c.steps = append([]Step{step}, c.steps...)
	return nil
}

// Continue runs the next step, or completes the chain if none is left.
func (c *Chain) Continue() {
	c.mu.Lock()
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		log.Warn().Str("state", string(state)).Msg("chain: continue on finished chain ignored")
		return
	}

	if len(c.steps) == 0 {
		c.finishLocked(StateCompleted, nil)
		return
	}

	step := c.steps[0]
	c.steps[0] = nil
	c.steps = c.steps[1:]
	c.mu.Unlock()

	step(c.ctx, c)
}

// Terminate discards the remaining steps and fails the chain with err.
func (c *Chain) Terminate(err error) {
	if err == nil {
		err = ErrTerminated
	}

	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.steps = nil
	c.finishLocked(StateTerminated, err)
}

// finishLocked records the outcome, releases the lock and fires onDone.
func (c *Chain) finishLocked(state State, err error) {
	c.state = state
	c.err = err
	onDone, stop := c.onDone, c.stop
	c.onDone = nil
	close(c.done)
	c.mu.Unlock()

	stop()
	if onDone != nil {
		onDone(err)
	}
}

// State returns the current lifecycle state.
func (c *Chain) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Len returns the number of queued steps.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}

// Done is closed once the chain completed or terminated.
func (c *Chain) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure cause of a terminated chain.
func (c *Chain) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the chain finishes or ctx is done.
func (c *Chain) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run queues steps on a fresh chain, starts it and waits for the outcome.
func Run(ctx context.Context, steps ...Step) error {
	c := New(ctx, nil)
	for _, step := range steps {
		_ = c.Append(step) // chain is running until Continue below
	}
	c.Continue()
	return c.Wait(context.WithoutCancel(ctx))
}
