package aio

import (
	"sync"

	"github.com/cedarbase/aio/internal/constants"
	"github.com/cedarbase/aio/internal/method"
)

// Engine owns the process-shared handle array, the bounce-buffer
// pool, and the method backend that actually performs I/O. One Engine
// is normally shared by every Backend in a process.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	method  method.Method
	metrics *Metrics

	handles  []*Handle
	freeList []int

	bounce *bouncePool
}

// NewEngine validates cfg, initializes m, and constructs an Engine
// ready to back one or more Backend submission queues.
func NewEngine(cfg Config, m method.Method) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, NewError("NewEngine", KindValidation, "method must not be nil")
	}
	if err := m.Init(); err != nil {
		return nil, WrapError("NewEngine", err)
	}
	e := &Engine{
		cfg:     cfg,
		method:  m,
		metrics: NewMetrics(),
		bounce:  newBouncePool(cfg.IOBounceBuffers, constants.BounceBufferSize),
	}
	return e, nil
}

// Metrics returns the engine's metrics recorder.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Config returns the engine's active configuration.
func (e *Engine) Config() Config { return e.cfg }

// allocHandles grows the handle array by n slots, adds them to the
// free list, and returns the index of the first newly allocated slot.
func (e *Engine) allocHandles(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := len(e.handles)
	for i := 0; i < n; i++ {
		idx := start + i
		e.handles = append(e.handles, newHandle(idx))
		e.freeList = append(e.freeList, idx)
	}
	return start
}

// handleAt returns the handle at index, which must have been returned
// by a prior allocHandles call.
func (e *Engine) handleAt(index int) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handles[index]
}

func (e *Engine) popFreeHandle() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.freeList) == 0 {
		return nil
	}
	idx := e.freeList[len(e.freeList)-1]
	e.freeList = e.freeList[:len(e.freeList)-1]
	return e.handles[idx]
}

func (e *Engine) pushFreeHandle(idx int) {
	e.mu.Lock()
	e.freeList = append(e.freeList, idx)
	e.mu.Unlock()
}

// Backend is one caller's view onto the engine: a staging area for a
// batch of handles awaiting submission, plus the single handle it may
// have acquired but not yet defined. Real PostgreSQL backends are OS
// processes; here a Backend is meant to be owned by one goroutine at
// a time, mirroring that constraint without enforcing it structurally.
type Backend struct {
	engine *Engine

	mu        sync.Mutex
	handedOut *Handle
	staged    []*Handle

	bounceCache *BounceBuffer
}

// NewBackend allocates n handles from engine (or the engine's
// IOMaxConcurrency default when n <= 0) and returns a Backend ready to
// acquire and stage them.
func NewBackend(engine *Engine, n int) *Backend {
	if n <= 0 {
		n = engine.cfg.IOMaxConcurrency
	}
	engine.allocHandles(n)
	return &Backend{engine: engine}
}
