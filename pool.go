package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/tree-defect-detection-service/detections"
)

// DefaultPoolSize Pool configuration
const DefaultPoolSize = 4

var errPoolClosed = fmt.Errorf("pool is closed")

// ModelSessionPool holds a fixed set of inference sessions over the same
// read-only model.
type ModelSessionPool struct {
	sessions       chan detections.Session
	size           int
	acquireTimeout time.Duration
	mu             sync.Mutex
	closed         bool
	metrics        *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of the pool metrics.
type PoolStats struct {
	Size            int           `json:"pool_size"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// NewModelSessionPool creates size sessions up front with newSession. An
// acquireTimeout of 0 makes Acquire wait until its context ends.
func NewModelSessionPool(size int, acquireTimeout time.Duration, newSession func() (detections.Session, error)) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &ModelSessionPool{
		sessions:       make(chan detections.Session, size),
		size:           size,
		acquireTimeout: acquireTimeout,
		metrics:        &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	return pool, nil
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (detections.Session, error) {
	if p.isClosed() {
		return nil, errPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, errPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timeout:
		p.recordFailure()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		p.recordFailure()
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session detections.Session) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) recordFailure() {
	p.metrics.mu.Lock()
	p.metrics.acquireFailures++
	p.metrics.mu.Unlock()
}

func (p *ModelSessionPool) GetMetrics() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:            p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
}
