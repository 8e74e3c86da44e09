package aio

import (
	"errors"

	"github.com/cedarbase/aio/internal/method"
)

// tokenFor packs a handle's index and generation into the int64 token
// the method layer treats as opaque. The generation occupies the high
// 32 bits so a completion for a since-recycled slot decodes to a
// generation that no longer matches the live handle and is dropped
// rather than misapplied.
func tokenFor(index int, generation uint64) int64 {
	return int64(uint32(generation))<<32 | int64(uint32(index))
}

func decodeToken(token int64) (index int, generation uint64) {
	return int(int32(uint32(token))), uint64(uint32(token >> 32))
}

func opToMethodOp(op OpTag) method.Op {
	switch op {
	case OpTagRead:
		return method.OpRead
	case OpTagWrite:
		return method.OpWrite
	case OpTagFsync, OpTagFlushRange:
		return method.OpFsync
	default:
		return method.OpNop
	}
}

func totalLen(iovecs [][]byte) int64 {
	var n int64
	for _, v := range iovecs {
		n += int64(len(v))
	}
	return n
}

// needsBounce reports whether h's buffers must be routed through a
// bounce buffer before submission. Direct I/O subjects need aligned,
// single-segment buffers; a multi-segment vectored request against a
// direct-I/O subject is bounced into one contiguous staging buffer.
func needsBounce(cfg Config, h *Handle) bool {
	return cfg.IODirectFlags && len(h.iovecs) > 1
}

func copyInto(dst []byte, iovecs [][]byte) int {
	n := 0
	for _, v := range iovecs {
		n += copy(dst[n:], v)
	}
	return n
}

// flushLocked builds a method.Request batch out of every staged
// handle and submits it in one call, clearing the staging list.
// Callers must hold b.mu.
func (b *Backend) flushLocked() error {
	if len(b.staged) == 0 {
		return nil
	}
	reqs := make([]method.Request, 0, len(b.staged))
	for _, h := range b.staged {
		h.mu.Lock()
		if err := h.transitionLocked(StateInFlight); err != nil {
			h.mu.Unlock()
			return err
		}
		iovecs := h.iovecs
		if h.bounce != nil {
			if h.op == OpTagWrite {
				copyInto(h.bounce.Bytes(), h.iovecs)
			}
			iovecs = [][]byte{h.bounce.Bytes()[:totalLen(h.iovecs)]}
		}
		req := method.Request{
			Token:  tokenFor(h.index, h.generation),
			Op:     opToMethodOp(h.op),
			FD:     h.fd,
			Offset: h.offset,
			Iovecs: iovecs,
		}
		h.mu.Unlock()
		reqs = append(reqs, req)
	}
	if err := b.engine.method.Submit(reqs); err != nil {
		return WrapError("Backend.flushLocked", err)
	}
	b.engine.metrics.RecordSubmit(uint64(len(reqs)))
	b.staged = b.staged[:0]
	return nil
}

// pump drains whatever completions the method backend currently has
// (or, if block is true, waits for at least one) and delivers each to
// its handle. It must not be called while any handle's mu is held by
// the calling goroutine, since deliver locks the target handle.
func (e *Engine) pump(block bool) error {
	var completions []method.Completion
	var err error
	if block {
		completions, err = e.method.WaitOne()
	} else {
		completions, err = e.method.Poll()
	}
	if err != nil {
		return WrapError("Engine.pump", err)
	}
	for _, c := range completions {
		e.deliver(c)
	}
	return nil
}

// deliver applies one raw method completion to its handle: validates
// the generation is still live, distills the raw result, runs the
// SharedCallback chain, and transitions the handle to its completed
// state. Stale completions (the slot was recycled since submission)
// are dropped silently, matching the original protocol's tolerance of
// a completion racing a forced reclaim.
func (e *Engine) deliver(c method.Completion) {
	index, generation := decodeToken(c.Token)
	if index < 0 || index >= len(e.handles) {
		return
	}
	h := e.handleAt(index)

	h.mu.Lock()
	if h.generation != generation || h.state != StateInFlight {
		h.mu.Unlock()
		return
	}
	if err := h.transitionLocked(StateReaped); err != nil {
		h.mu.Unlock()
		return
	}
	result := distillResult(c)
	e.metrics.RecordComplete()

	numCB := h.numCB
	callbackIDs := h.callbacks
	bounce := h.bounce
	iovecs := h.iovecs
	op := h.op
	h.mu.Unlock()

	if bounce != nil && op == OpTagRead && result.Err == nil {
		src := bounce.Bytes()[:result.Bytes]
		n := 0
		for _, v := range iovecs {
			n += copy(v, src[n:])
		}
		result.Bytes = int64(n)
	}

	for i := numCB - 1; i >= 0; i-- {
		cb, err := lookupCallback(callbackIDs[i])
		if err != nil {
			continue
		}
		result = cb.Complete(h, result)
	}

	h.mu.Lock()
	h.result = result
	_ = h.transitionLocked(StateCompletedShared)
	h.mu.Unlock()

	for i := numCB - 1; i >= 0; i-- {
		cb, err := lookupCallback(callbackIDs[i])
		if err != nil {
			continue
		}
		cb.Report(h, result)
	}

	bytes := uint64(0)
	if result.Bytes > 0 {
		bytes = uint64(result.Bytes)
	}
	switch op {
	case OpTagRead:
		e.metrics.RecordRead(bytes, 0, kindOf(result.Err))
	case OpTagWrite:
		e.metrics.RecordWrite(bytes, 0, kindOf(result.Err))
	case OpTagFsync, OpTagFlushRange:
		e.metrics.RecordSync(0)
	}
}

func kindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindIOError
}

func distillResult(c method.Completion) DistilledResult {
	if c.Err != nil {
		return DistilledResult{Bytes: c.Result, Err: WrapError("Engine.deliver", c.Err)}
	}
	return DistilledResult{Bytes: c.Result}
}
