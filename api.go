package aio

import (
	"errors"

	"github.com/cedarbase/aio/internal/constants"
)

// ErrBackendBusy is returned by AcquireNB when the backend already
// has an outstanding handed-out handle.
var ErrBackendBusy = errors.New("aio: backend already has a handle handed out")

// Acquire blocks until the engine has a free handle, then returns it
// in StateHandedOut. It returns ErrBackendBusy immediately, without
// blocking, if b already has a handed-out handle: that can only be
// cleared by the same caller finishing its prior acquire, so blocking
// here would deadlock the caller against itself.
func (b *Backend) Acquire() (*Handle, error) {
	b.mu.Lock()
	busy := b.handedOut != nil
	b.mu.Unlock()
	if busy {
		return nil, ErrBackendBusy
	}

	for {
		h, err := b.AcquireNB()
		if err == nil {
			return h, nil
		}
		if errors.Is(err, ErrBackendBusy) {
			return nil, err
		}
		// Free list momentarily empty: pump completions forward so a
		// backend release or engine reclaim can free one up, then retry.
		if perr := b.engine.pump(true); perr != nil {
			return nil, perr
		}
	}
}

// AcquireNB attempts a non-blocking acquire: it fails immediately with
// ErrBackendBusy if b already has a handed-out handle, and with an
// I/O-kind error if the engine's free list is currently empty.
func (b *Backend) AcquireNB() (*Handle, error) {
	b.mu.Lock()
	if b.handedOut != nil {
		b.mu.Unlock()
		return nil, ErrBackendBusy
	}
	b.mu.Unlock()

	h := b.engine.popFreeHandle()
	if h == nil {
		return nil, NewError("Backend.AcquireNB", KindIOError, "no free handles")
	}

	h.mu.Lock()
	if err := h.transitionLocked(StateHandedOut); err != nil {
		h.mu.Unlock()
		b.engine.pushFreeHandle(h.index)
		return nil, err
	}
	h.ownerBackend = b
	h.mu.Unlock()

	b.mu.Lock()
	b.handedOut = h
	b.mu.Unlock()

	b.engine.metrics.RecordAcquire()
	return h, nil
}

// Release returns a handed-out-but-undefined handle straight back to
// idle without ever submitting it.
func (b *Backend) Release(h *Handle) error {
	h.mu.Lock()
	if err := h.transitionLocked(StateIdle); err != nil {
		h.mu.Unlock()
		return err
	}
	h.ownerBackend = nil
	h.mu.Unlock()

	b.mu.Lock()
	if b.handedOut == h {
		b.handedOut = nil
	}
	b.mu.Unlock()

	b.engine.pushFreeHandle(h.index)
	b.engine.metrics.RecordRelease()
	return nil
}

// PrepareRead defines h as a read of len(iovecs) segments from fd at
// offset, runs any bound SharedCallback Prepare hooks, substitutes a
// bounce buffer if the engine's configuration requires one, and
// stages h in b's submission batch.
func (b *Backend) PrepareRead(h *Handle, subjectID SubjectID, fd int, offset int64, iovecs [][]byte) error {
	return b.prepare(h, subjectID, OpTagRead, fd, offset, iovecs)
}

// PrepareWrite defines h as a write, mirroring PrepareRead.
func (b *Backend) PrepareWrite(h *Handle, subjectID SubjectID, fd int, offset int64, iovecs [][]byte) error {
	return b.prepare(h, subjectID, OpTagWrite, fd, offset, iovecs)
}

// PrepareFsync defines h as a whole-file or range sync against fd.
func (b *Backend) PrepareFsync(h *Handle, subjectID SubjectID, fd int, flushRange bool) error {
	op := OpTagFsync
	if flushRange {
		op = OpTagFlushRange
	}
	return b.prepare(h, subjectID, op, fd, 0, nil)
}

func (b *Backend) prepare(h *Handle, subjectID SubjectID, op OpTag, fd int, offset int64, iovecs [][]byte) error {
	h.mu.Lock()
	if err := h.transitionLocked(StateDefined); err != nil {
		h.mu.Unlock()
		return err
	}
	h.SetSubject(subjectID, op, fd, offset, iovecs)

	if needsBounce(b.engine.cfg, h) {
		bb := b.acquireBounce(true)
		h.bounce = bb
	}

	numCB := h.numCB
	callbackIDs := h.callbacks
	h.mu.Unlock()

	for i := 0; i < numCB; i++ {
		cb, err := lookupCallback(callbackIDs[i])
		if err != nil {
			continue
		}
		if err := cb.Prepare(h); err != nil {
			return WrapError("Backend.prepare", err)
		}
	}

	h.mu.Lock()
	if err := h.transitionLocked(StatePrepared); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	b.mu.Lock()
	if b.handedOut == h {
		b.handedOut = nil
	}
	if b.staged == nil {
		b.staged = make([]*Handle, 0, constants.SubmitBatchSize)
	}
	b.staged = append(b.staged, h)
	stagedLen := len(b.staged)
	b.mu.Unlock()

	if stagedLen >= b.engine.cfg.IOMaxConcurrency || stagedLen >= constants.SubmitBatchSize {
		return b.SubmitStaged()
	}
	return nil
}

// SubmitStaged flushes every staged handle to the method backend in
// one batched call.
func (b *Backend) SubmitStaged() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// GetRef returns a Reference to h, valid until h is next recycled
// through Idle.
func (e *Engine) GetRef(h *Handle) Reference {
	return h.Ref()
}

// CheckDone performs one non-blocking poll of the method backend and
// reports whether the handle ref refers to has reached a completed
// state, along with its result if so.
func (e *Engine) CheckDone(ref Reference) (done bool, result DistilledResult, err error) {
	if ref.Index < 0 || ref.Index >= len(e.handles) {
		return false, DistilledResult{}, NewError("Engine.CheckDone", KindAPIViolation, "reference out of range")
	}
	if err := e.pump(false); err != nil {
		return false, DistilledResult{}, err
	}
	h := e.handleAt(ref.Index)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.generation != ref.Generation {
		return true, DistilledResult{}, NewError("Engine.CheckDone", KindAPIViolation, "stale reference")
	}
	if h.state != StateCompletedShared && h.state != StateCompletedLocal {
		return false, DistilledResult{}, nil
	}
	return true, h.result, nil
}

// Wait blocks until the handle ref refers to reaches a completed
// state, pumping the method backend as needed, then transitions it
// through CompletedLocal back to Idle and returns its result.
//
// Wait never holds the target handle's mutex while calling pump,
// since deliver locks that same handle to apply a completion; holding
// it across the blocking call would deadlock the one goroutine
// capable of producing the completion being waited for.
func (e *Engine) Wait(ref Reference) (DistilledResult, error) {
	if ref.Index < 0 || ref.Index >= len(e.handles) {
		return DistilledResult{}, NewError("Engine.Wait", KindAPIViolation, "reference out of range")
	}
	h := e.handleAt(ref.Index)

	for {
		h.mu.Lock()
		if h.generation != ref.Generation {
			h.mu.Unlock()
			return DistilledResult{}, NewError("Engine.Wait", KindAPIViolation, "stale reference")
		}
		state := h.state
		if state == StateCompletedShared || state == StateCompletedLocal {
			result := h.result
			h.mu.Unlock()
			e.reclaim(h)
			return result, nil
		}
		h.mu.Unlock()

		if err := e.pump(true); err != nil {
			return DistilledResult{}, err
		}
	}
}

// reclaim walks h from whatever completed state it is in back to
// Idle, returns any bounce buffer it held, and drops it back onto the
// engine's free list. Callers must not hold h.mu.
func (e *Engine) reclaim(h *Handle) {
	h.mu.Lock()
	if h.state == StateCompletedShared {
		_ = h.transitionLocked(StateCompletedLocal)
	}
	owner := h.ownerBackend
	bounce := h.bounce
	_ = h.transitionLocked(StateIdle)
	h.ownerBackend = nil
	h.bounce = nil
	h.numCB = 0
	h.mu.Unlock()

	if bounce != nil {
		if owner != nil {
			owner.releaseBounce(bounce)
		} else {
			e.bounce.release(bounce)
		}
	}

	e.pushFreeHandle(h.index)
}
