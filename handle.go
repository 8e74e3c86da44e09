package aio

import (
	"fmt"
	"sync"

	"github.com/cedarbase/aio/internal/constants"
	"github.com/cedarbase/aio/internal/logging"
)

// State is a handle's position in its lifecycle state machine.
type State int32

const (
	// StateIdle is the state of a handle on the engine's free list.
	StateIdle State = iota
	// StateHandedOut is a handle a backend has acquired but not yet
	// defined.
	StateHandedOut
	// StateDefined has a subject and operation bound but is not yet
	// staged for submission.
	StateDefined
	// StatePrepared has run its SharedCallback Prepare hooks and is
	// staged in its backend's submission batch.
	StatePrepared
	// StateInFlight has been handed to the method backend.
	StateInFlight
	// StateReaped has a raw method completion recorded but has not yet
	// run its callback chain.
	StateReaped
	// StateCompletedShared has finished its SharedCallback chain; a
	// waiter still needs to observe it and reclaim the handle.
	StateCompletedShared
	// StateCompletedLocal is the final state after a waiter has
	// observed completion and is about to release the handle back to
	// Idle.
	StateCompletedLocal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandedOut:
		return "handed_out"
	case StateDefined:
		return "defined"
	case StatePrepared:
		return "prepared"
	case StateInFlight:
		return "in_flight"
	case StateReaped:
		return "reaped"
	case StateCompletedShared:
		return "completed_shared"
	case StateCompletedLocal:
		return "completed_local"
	default:
		return "unknown"
	}
}

// legalTransitions enumerates every state a handle may move to from a
// given state. A transition not listed here is an API violation.
var legalTransitions = map[State][]State{
	StateIdle:             {StateHandedOut},
	StateHandedOut:        {StateDefined, StateIdle},
	StateDefined:          {StatePrepared, StateIdle},
	StatePrepared:         {StateInFlight, StateIdle},
	StateInFlight:         {StateReaped},
	StateReaped:           {StateCompletedShared},
	StateCompletedShared:  {StateCompletedLocal},
	StateCompletedLocal:   {StateIdle},
}

func isLegalTransition(from, to State) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OpTag names the kind of operation a defined handle carries out.
type OpTag int32

const (
	OpTagNone OpTag = iota
	OpTagRead
	OpTagWrite
	OpTagFsync
	OpTagFlushRange
)

func (t OpTag) String() string {
	switch t {
	case OpTagRead:
		return "read"
	case OpTagWrite:
		return "write"
	case OpTagFsync:
		return "fsync"
	case OpTagFlushRange:
		return "flush_range"
	default:
		return "none"
	}
}

// Reference is an opaque, copyable pointer to a handle slot, carrying
// the generation the caller observed so a stale reference (the slot
// was reused for a different operation since) is detectable rather
// than silently aliasing someone else's I/O.
type Reference struct {
	Index      int
	Generation uint64
}

// DistilledResult is the outcome the callback chain and waiters
// observe: either a byte count, or an error classified through the
// package's Kind taxonomy.
type DistilledResult struct {
	Bytes int64
	Err   error
}

// Handle is one slot in the engine's handle array. Its fields are only
// safe to touch with mu held, except index, which is fixed when the
// slot is created; generation and state are checked against a
// Reference under mu as well.
type Handle struct {
	mu   sync.Mutex
	cond *sync.Cond

	index      int
	generation uint64
	state      State

	ownerBackend *Backend

	subjectID SubjectID
	op        OpTag
	fd        int
	offset    int64
	iovecs    [][]byte

	callbacks [constants.MaxCallbacksPerHandle]CallbackID
	numCB     int

	bounce *BounceBuffer

	result DistilledResult
}

func newHandle(index int) *Handle {
	h := &Handle{index: index, state: StateIdle, subjectID: NoSubject}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Ref returns a Reference to h as it currently stands. The caller
// must already hold some guarantee the handle will not be recycled
// out from under it (it was just handed out, or the caller holds its
// resource owner's tracking).
func (h *Handle) Ref() Reference {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Reference{Index: h.index, Generation: h.generation}
}

func (h *Handle) matches(ref Reference) bool {
	return h.index == ref.Index && h.generation == ref.Generation
}

// transitionLocked moves h from its current state to to, logging the
// move at DEBUG, or returns an APIViolation error if the move is not
// legal. Callers must hold h.mu.
func (h *Handle) transitionLocked(to State) error {
	from := h.state
	if !isLegalTransition(from, to) {
		return NewError("Handle.transition", KindAPIViolation,
			fmt.Sprintf("illegal transition %s -> %s for handle %d", from, to, h.index))
	}
	h.state = to
	logging.Default().Debug("handle transition", "index", h.index, "generation", h.generation,
		"from", from.String(), "to", to.String())
	if to == StateIdle {
		h.generation++
	}
	h.cond.Broadcast()
	return nil
}

// AddCallback appends cb to h's callback chain. Callers must hold h.mu
// and h must still be in StateDefined or earlier.
func (h *Handle) AddCallback(id CallbackID) error {
	if h.numCB >= len(h.callbacks) {
		return NewError("Handle.AddCallback", KindAPIViolation, "callback chain full")
	}
	h.callbacks[h.numCB] = id
	h.numCB++
	return nil
}

// SetSubject binds h's subject, operation, target descriptor, offset
// and buffers. Callers must hold h.mu; Backend.prepare calls it right
// after moving h to StateDefined.
func (h *Handle) SetSubject(subjectID SubjectID, op OpTag, fd int, offset int64, iovecs [][]byte) {
	h.subjectID = subjectID
	h.op = op
	h.fd = fd
	h.offset = offset
	h.iovecs = iovecs
}

// State returns h's current state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Result returns h's distilled result once it has reached a completed
// state; the zero value otherwise.
func (h *Handle) Result() DistilledResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}
