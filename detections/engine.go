package detections

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/Tutortoise/tree-defect-detection-service/models"
)

// Session runs one forward pass of the detection model.
type Session interface {
	Run(input *Tensor) (*models.RawModelOutput, error)
	Destroy()
}

// SessionPool hands out sessions to concurrent requests.
type SessionPool interface {
	Acquire(ctx context.Context) (Session, error)
	Release(Session)
}

// Engine gates inference behind the model readiness state.
type Engine struct {
	readiness *Readiness

	mu    sync.RWMutex
	pool  SessionPool
	input InputSpec
}

func NewEngine(readiness *Readiness) *Engine {
	return &Engine{readiness: readiness}
}

func (e *Engine) Readiness() *Readiness {
	return e.readiness
}

// Attach publishes the loaded sessions and marks the model ready.
func (e *Engine) Attach(pool SessionPool, input InputSpec) error {
	e.mu.Lock()
	e.pool = pool
	e.input = input
	e.mu.Unlock()

	if !e.readiness.MarkReady() {
		return e.readiness.Check()
	}
	return nil
}

// InputSpec returns the input contract of the loaded model.
func (e *Engine) InputSpec() (InputSpec, error) {
	if err := e.readiness.Check(); err != nil {
		return InputSpec{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.input, nil
}

// Infer runs the model on input. It fails fast with *ModelNotReadyError while
// the model is loading.
func (e *Engine) Infer(ctx context.Context, input *Tensor) (*models.RawModelOutput, error) {
	if err := e.readiness.Check(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	pool := e.pool
	e.mu.RUnlock()

	session, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire model session")
	}
	defer pool.Release(session)

	out, err := session.Run(input)
	if err != nil {
		return nil, errors.Wrap(err, "model inference")
	}
	return out, nil
}
