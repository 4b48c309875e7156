package detections

import (
	"sync"
	"sync/atomic"
)

// State is the model lifecycle state.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Readiness tracks whether the model has finished loading. It is written by
// the process lifecycle and read by the engine on every request.
type Readiness struct {
	state atomic.Int32

	mu  sync.RWMutex
	err error
}

func NewReadiness() *Readiness {
	return &Readiness{}
}

func (r *Readiness) State() State {
	return State(r.state.Load())
}

func (r *Readiness) Ready() bool {
	return r.State() == StateReady
}

// MarkReady moves a loading model to ready. It reports false if loading had
// already failed.
func (r *Readiness) MarkReady() bool {
	return r.state.CompareAndSwap(int32(StateLoading), int32(StateReady))
}

// MarkFailed records the load error. The state never leaves failed.
func (r *Readiness) MarkFailed(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.state.Store(int32(StateFailed))
}

// Err returns the load error, if loading failed.
func (r *Readiness) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Check returns a *ModelNotReadyError unless the model is ready.
func (r *Readiness) Check() error {
	switch s := r.State(); s {
	case StateReady:
		return nil
	case StateFailed:
		return &ModelNotReadyError{State: s, Cause: r.Err()}
	default:
		return &ModelNotReadyError{State: s}
	}
}
