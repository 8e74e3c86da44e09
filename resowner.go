package aio

import (
	"sync"

	"github.com/cedarbase/aio/internal/logging"
)

// ResourceOwner tracks every handle acquired during some bounded
// lifetime (a transaction, a query, a maintenance job) so that if the
// caller's code exits that lifetime without explicitly releasing a
// handle, teardown can walk the stragglers and do the right thing for
// whatever state each is in: a handle that never reached the method
// backend is force-submitted rather than dropped, one already in
// flight is left alone to complete on its own, and only a genuinely
// idle-adjacent straggler is reclaimed outright.
type ResourceOwner struct {
	engine *Engine

	mu   sync.Mutex
	held map[*Handle]Reference
}

// NewResourceOwner creates a ResourceOwner bound to engine.
func NewResourceOwner(engine *Engine) *ResourceOwner {
	return &ResourceOwner{engine: engine, held: make(map[*Handle]Reference)}
}

// Track records h as belonging to ro's lifetime. Callers should Track
// immediately after a successful Acquire/AcquireNB.
func (ro *ResourceOwner) Track(h *Handle) {
	ref := h.Ref()
	ro.mu.Lock()
	ro.held[h] = ref
	ro.mu.Unlock()
}

// Untrack drops h from ro's bookkeeping, normally called right after
// the caller has itself released or waited out h.
func (ro *ResourceOwner) Untrack(h *Handle) {
	ro.mu.Lock()
	delete(ro.held, h)
	ro.mu.Unlock()
}

// Close tears ro's lifetime down on a normal (non-error) unwind. A
// straggler still HANDED_OUT or COMPLETED_LOCAL is a caller bug (it
// forgot to release or wait), so it is reclaimed and a warning is
// logged; DEFINED/PREPARED handles are force-submitted and IN_FLIGHT/
// REAPED/COMPLETED_SHARED ones are left to complete on their own.
func (ro *ResourceOwner) Close() {
	ro.teardown(true)
}

// Abort tears ro's lifetime down on an error unwind (a transaction
// rollback, a cancelled query). Straggler handles are expected here —
// that is exactly why the scope is aborting — so no leak warning is
// logged; the handling is otherwise identical to Close.
func (ro *ResourceOwner) Abort() {
	ro.teardown(false)
}

func (ro *ResourceOwner) teardown(warnOnStraggler bool) {
	ro.mu.Lock()
	stragglers := make([]struct {
		h   *Handle
		ref Reference
	}, 0, len(ro.held))
	for h, ref := range ro.held {
		stragglers = append(stragglers, struct {
			h   *Handle
			ref Reference
		}{h, ref})
	}
	ro.held = make(map[*Handle]Reference)
	ro.mu.Unlock()

	for _, s := range stragglers {
		ro.reclaimOne(s.h, s.ref, warnOnStraggler)
	}
}

func (ro *ResourceOwner) reclaimOne(h *Handle, ref Reference, warnOnStraggler bool) {
	h.mu.Lock()
	if h.generation != ref.Generation {
		// Already cycled back to idle and reused by someone else.
		h.mu.Unlock()
		return
	}
	state := h.state
	h.mu.Unlock()

	switch state {
	case StateIdle, StateInFlight, StateReaped, StateCompletedShared:
		// Already idle, or already submitted to the method backend and
		// therefore uncancellable: left alone to complete naturally.
		return
	case StateDefined, StatePrepared:
		// Force-submitted rather than reclaimed: cheap to let finish,
		// and by the time its completion arrives the generation will
		// have moved on for anyone who still cared about the result.
		ro.forceSubmit(h)
		return
	}

	if warnOnStraggler {
		logging.Default().Warn("resource owner reclaiming stranded handle",
			"index", h.index, "generation", ref.Generation, "state", state.String())
	}

	switch state {
	case StateHandedOut:
		h.mu.Lock()
		owner := h.ownerBackend
		_ = h.transitionLocked(StateIdle)
		h.ownerBackend = nil
		h.mu.Unlock()

		if owner != nil {
			owner.mu.Lock()
			if owner.handedOut == h {
				owner.handedOut = nil
			}
			owner.mu.Unlock()
		}
		ro.engine.pushFreeHandle(h.index)
	case StateCompletedLocal:
		ro.engine.reclaim(h)
	}

	ro.engine.metrics.RecordReclaim()
}

// forceSubmit drives a DEFINED or PREPARED straggler the rest of the
// way to the method backend instead of discarding it. A DEFINED handle
// hasn't run its Prepare callbacks yet, so those run first; either way
// the handle ends up staged on its owning backend and that backend's
// staging array is flushed.
func (ro *ResourceOwner) forceSubmit(h *Handle) {
	h.mu.Lock()
	state := h.state
	numCB := h.numCB
	callbackIDs := h.callbacks
	owner := h.ownerBackend
	h.mu.Unlock()

	if state == StateDefined {
		for i := 0; i < numCB; i++ {
			cb, err := lookupCallback(callbackIDs[i])
			if err != nil {
				continue
			}
			if err := cb.Prepare(h); err != nil {
				logging.Default().Warn("resource owner force-submit prepare failed",
					"index", h.index, "err", err.Error())
				return
			}
		}
		h.mu.Lock()
		if err := h.transitionLocked(StatePrepared); err != nil {
			h.mu.Unlock()
			return
		}
		h.mu.Unlock()
	}

	if owner == nil {
		return
	}

	owner.mu.Lock()
	alreadyStaged := false
	for _, staged := range owner.staged {
		if staged == h {
			alreadyStaged = true
			break
		}
	}
	if !alreadyStaged {
		owner.staged = append(owner.staged, h)
	}
	owner.mu.Unlock()

	if err := owner.SubmitStaged(); err != nil {
		logging.Default().Warn("resource owner force-submit flush failed",
			"index", h.index, "err", err.Error())
	}
}
