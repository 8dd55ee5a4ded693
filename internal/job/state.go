// Package job drives the lifecycle of an asynchronous backend chat job:
// submission, polling until a terminal status, and cancellation.
package job

import (
	"context"
	"fmt"
	"sync"
)

// State is the client-side lifecycle state of one job run.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StatePolling    State = "polling"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateFailed, StateTimedOut, StateCancelled:
		return true
	}
	return false
}

// transitions lists the legal next states for each non-terminal state.
var transitions = map[State][]State{
	StateIdle:       {StateSubmitting, StateCancelled},
	StateSubmitting: {StatePolling, StateFailed, StateCancelled},
	StatePolling:    {StateResolved, StateFailed, StateTimedOut, StateCancelled},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Run is one job's lifecycle. It is safe for concurrent use; Cancel may be
// called from any goroutine while Client.Execute is driving the run.
type Run struct {
	mu      sync.Mutex
	state   State
	jobID   string
	err     error
	cancel  context.CancelFunc
	history []State
}

// NewRun returns a Run in the idle state.
func NewRun() *Run {
	return &Run{state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// JobID returns the backend job ID, empty until submission succeeds.
func (r *Run) JobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobID
}

// Err returns the error that ended the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// History returns every state the run has passed through, in order.
func (r *Run) History() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.history))
	copy(out, r.history)
	return out
}

// Cancel abandons the run. It returns false if the run had already
// reached a terminal state.
func (r *Run) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.setLocked(StateCancelled)
	r.err = ErrCancelled
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

// begin moves idle → submitting and remembers how to abort the run's context.
func (r *Run) begin(cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.transitionLocked(StateSubmitting); err != nil {
		return err
	}
	r.cancel = cancel
	return nil
}

func (r *Run) setJobID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobID = id
}

func (r *Run) transition(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

// end moves the run to the terminal state matching err.
func (r *Run) end(to State, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if terr := r.transitionLocked(to); terr != nil {
		return terr
	}
	r.err = err
	return nil
}

func (r *Run) transitionLocked(to State) error {
	if r.state == StateCancelled {
		return ErrCancelled
	}
	if !CanTransition(r.state, to) {
		return fmt.Errorf("job: invalid transition %s -> %s", r.state, to)
	}
	r.setLocked(to)
	return nil
}

func (r *Run) setLocked(to State) {
	r.state = to
	r.history = append(r.history, to)
}
