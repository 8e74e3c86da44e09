// Package readstream implements an adaptive look-ahead buffered
// reader on top of the aio engine: callers hand it a per-stream
// callback that emits the next logical block number, and it issues
// vectored reads ahead of consumption, growing or shrinking its
// look-ahead distance according to whether I/O turned out to be
// necessary.
package readstream

import (
	"github.com/cedarbase/aio"
	"github.com/cedarbase/aio/internal/constants"
	"github.com/cedarbase/aio/internal/logging"
)

// InvalidBlock is the sentinel a BlockCallback returns to signal the
// stream has no more blocks to emit.
const InvalidBlock int64 = -1

// Flags describe a stream's access pattern hint, consulted by the
// distance controller when deciding between regime B and regime C.
type Flags int

const (
	// Sequential hints the stream will mostly advance one block at a
	// time; advice is suppressed even when the engine supports it.
	Sequential Flags = 1 << iota
	// Full requests the whole relation be read, similar to Sequential
	// for distance-controller purposes.
	Full
	// Maintenance selects maintenance_io_concurrency rather than
	// effective_io_concurrency as the regime-C target distance.
	Maintenance
)

// BlockCallback supplies the next logical block number for a stream
// to read, or InvalidBlock once exhausted. userdata is opaque state
// the caller threads through every call.
type BlockCallback func(userdata any) int64

// CacheProber is an optional interface a Subject may implement to let
// the stream detect regime A (no I/O required) ahead of issuing a
// read. Subjects that don't implement it are always treated as
// requiring I/O, which only ever costs a wasted look-ahead growth,
// never correctness.
type CacheProber interface {
	ProbeCached(block int64) bool
}

type slot struct {
	blockNum      int64
	buf           []byte
	perBufferData []byte
}

type rangeState int

const (
	rangeAssembling rangeState = iota
	rangeInFlight
	rangeReady
)

type blockRange struct {
	base      int64
	startSlot int
	length    int
	state     rangeState
	ref       aio.Reference
	cachedHit bool
	err       error
}

// Stream is a single-owner, per-backend adaptive read-ahead buffer.
// It is not safe for concurrent use by more than one goroutine, the
// same restriction the engine places on a Backend.
type Stream struct {
	engine    *aio.Engine
	backend   *aio.Backend
	subjectID aio.SubjectID
	fd        int

	flags        Flags
	cb           BlockCallback
	userdata     any
	perBufSize   int
	maxIOs       int
	bufferIOSize int

	slots            []slot
	ranges           []*blockRange
	pinned           int
	maxPinnedBuffers int

	pendingBase int64
	pendingLen  int

	ungetValid bool
	ungetBlock int64

	distance  int
	regime    aio.Regime
	nextSeq   int64
	haveSeq   bool

	iosInProgress int
	endOfStream   bool

	// maxAcceptPerCall caps how many blocks a single startReadBuffers
	// call accepts, letting tests exercise the short-accept path
	// (spec scenario: StartReadBuffers accepts fewer than requested).
	// Zero means unlimited.
	maxAcceptPerCall int
}

// Begin starts a read stream against subjectID/fd using backend's
// handle pool. perBufferDataSize reserves that many bytes of
// caller-defined metadata alongside each pinned buffer.
func Begin(engine *aio.Engine, backend *aio.Backend, subjectID aio.SubjectID, fd int, flags Flags, cb BlockCallback, userdata any, perBufferDataSize int) *Stream {
	cfg := engine.Config()

	maxIOs := cfg.EffectiveIOConcurrency
	if flags&Maintenance != 0 {
		maxIOs = cfg.MaintenanceIOConcurrency
	}
	if maxIOs < constants.MaxIOsFloor {
		maxIOs = constants.MaxIOsFloor
	}

	maxPinned := 4 * maxIOs
	if cfg.BufferIOSize > maxPinned {
		maxPinned = cfg.BufferIOSize
	}

	s := &Stream{
		engine:           engine,
		backend:          backend,
		subjectID:        subjectID,
		fd:               fd,
		flags:            flags,
		cb:               cb,
		userdata:         userdata,
		perBufSize:       perBufferDataSize,
		maxIOs:           maxIOs,
		bufferIOSize:     cfg.BufferIOSize,
		maxPinnedBuffers: maxPinned,
		slots:            make([]slot, maxPinned),
		distance:         1,
		regime:           aio.RegimeA,
	}
	s.lookAhead()
	return s
}

func (s *Stream) getNextBlock() (int64, bool) {
	if s.ungetValid {
		s.ungetValid = false
		return s.ungetBlock, true
	}
	block := s.cb(s.userdata)
	if block == InvalidBlock {
		return 0, false
	}
	return block, true
}

// Unget pushes block back into the single-slot register, so the next
// getNextBlock call returns it again. Only one block may be unget at
// a time; a second call before it is consumed overwrites the first.
func (s *Stream) Unget(block int64) {
	s.ungetValid = true
	s.ungetBlock = block
}

// lookAhead runs the look-ahead loop described in the distance
// controller: while there's room under the current distance and
// max_ios, ask for more blocks, coalescing contiguous ones into the
// pending range and closing it out (submitting I/O) when it can't
// grow further.
func (s *Stream) lookAhead() {
	if s.endOfStream {
		if s.pendingLen > 0 {
			s.closePending()
		}
		return
	}

	for s.pinned+s.pendingLen < s.distance && s.iosInProgress < s.maxIOs {
		block, ok := s.getNextBlock()
		if !ok {
			s.endOfStream = true
			s.distance = 0
			break
		}

		if s.pendingLen > 0 && block == s.pendingBase+int64(s.pendingLen) && s.pendingLen < s.bufferIOSize {
			s.pendingLen++
			continue
		}

		if s.pendingLen > 0 {
			s.closePending()
		}
		s.pendingBase = block
		s.pendingLen = 1
	}

	if s.pendingLen > 0 && (s.pinned+s.pendingLen >= s.distance || s.iosInProgress >= s.maxIOs || s.endOfStream) {
		s.closePending()
	}
}

// closePending submits the range currently being assembled, honoring
// maxAcceptPerCall for tests that exercise partial acceptance.
func (s *Stream) closePending() {
	base := s.pendingBase
	length := s.pendingLen

	accepted := length
	if s.maxAcceptPerCall > 0 && accepted > s.maxAcceptPerCall {
		accepted = s.maxAcceptPerCall
	}
	if accepted > s.maxPinnedBuffers-s.pinned {
		accepted = s.maxPinnedBuffers - s.pinned
	}
	if accepted < 1 {
		accepted = 1
	}

	s.startReadBuffers(base, accepted)

	if accepted < length {
		s.pendingBase = base + int64(accepted)
		s.pendingLen = length - accepted
	} else {
		s.pendingLen = 0
	}
}

func (s *Stream) startReadBuffers(base int64, length int) {
	cachedHit := false
	if subj, err := aio.LookupSubject(s.subjectID); err == nil {
		if prober, ok := subj.(CacheProber); ok {
			cachedHit = prober.ProbeCached(base)
		}
	}

	startSlot := s.nextFreeSlotIndex()
	iovecs := make([][]byte, length)
	for i := 0; i < length; i++ {
		idx := (startSlot + i) % len(s.slots)
		if s.slots[idx].buf == nil {
			s.slots[idx].buf = make([]byte, constants.BlockSize)
		}
		if s.perBufSize > 0 && s.slots[idx].perBufferData == nil {
			s.slots[idx].perBufferData = make([]byte, s.perBufSize)
		}
		s.slots[idx].blockNum = base + int64(i)
		iovecs[i] = s.slots[idx].buf
	}

	h, err := s.backend.Acquire()
	r := &blockRange{base: base, startSlot: startSlot, length: length, cachedHit: cachedHit}
	if err != nil {
		r.state = rangeReady
		r.err = err
		s.ranges = append(s.ranges, r)
		s.pinned += length
		return
	}

	if err := s.backend.PrepareRead(h, s.subjectID, s.fd, base*constants.BlockSize, iovecs); err != nil {
		r.state = rangeReady
		r.err = err
		s.ranges = append(s.ranges, r)
		s.pinned += length
		return
	}
	r.ref = s.engine.GetRef(h)
	r.state = rangeInFlight
	_ = s.backend.SubmitStaged()

	s.ranges = append(s.ranges, r)
	s.pinned += length

	s.updateSequential(base, length)

	if cachedHit {
		s.setRegime(aio.RegimeA)
	} else {
		s.iosInProgress++
		s.growDistance()
	}
}

func (s *Stream) nextFreeSlotIndex() int {
	return (s.headSlotBase() + s.pinned) % len(s.slots)
}

func (s *Stream) headSlotBase() int {
	if len(s.ranges) == 0 {
		return 0
	}
	return s.ranges[0].startSlot
}

func (s *Stream) updateSequential(base int64, length int) {
	sequential := s.haveSeq && base == s.nextSeq
	s.nextSeq = base + int64(length)
	s.haveSeq = true

	if sequential || s.flags&(Sequential|Full) != 0 || s.engine.Config().IODirectFlags {
		s.setRegime(aio.RegimeB)
	} else {
		s.setRegime(aio.RegimeC)
	}
}

func (s *Stream) setRegime(r aio.Regime) {
	if s.regime == r {
		return
	}
	s.regime = r
	s.engine.Metrics().RecordRegime(r)
}

func (s *Stream) growDistance() {
	next := s.distance * 2
	if next < 1 {
		next = 1
	}
	regimeMax := s.regimeCap()
	if next > regimeMax {
		next = regimeMax
	}
	if next > s.maxPinnedBuffers {
		next = s.maxPinnedBuffers
	}
	if next != s.distance {
		s.distance = next
		s.engine.Metrics().RecordDistanceChange(true)
	}
}

func (s *Stream) decayDistance() {
	if s.distance <= 1 {
		return
	}
	s.distance--
	s.engine.Metrics().RecordDistanceChange(false)
}

func (s *Stream) regimeCap() int {
	switch s.regime {
	case aio.RegimeA:
		return 1
	case aio.RegimeB:
		return s.bufferIOSize
	default:
		return s.maxIOs
	}
}

// Next advances the stream by one block, returning its buffer and any
// reserved per-buffer data. ok is false once the stream is exhausted.
func (s *Stream) Next() (block int64, buf []byte, perBufferData []byte, ok bool) {
	if s.pinned == 0 {
		if s.endOfStream {
			return 0, nil, nil, false
		}
		s.lookAhead()
		if s.pinned == 0 {
			return 0, nil, nil, false
		}
	}

	r := s.ranges[0]
	if r.state == rangeInFlight {
		result, err := s.engine.Wait(r.ref)
		r.state = rangeReady
		r.err = err
		if err == nil {
			r.err = result.Err
		}
		if !r.cachedHit {
			s.iosInProgress--
		} else {
			s.decayDistance()
		}
	}

	idx := r.startSlot
	block = s.slots[idx].blockNum
	buf = s.slots[idx].buf
	perBufferData = s.slots[idx].perBufferData

	r.startSlot = (r.startSlot + 1) % len(s.slots)
	r.length--
	s.pinned--
	if r.length == 0 {
		s.ranges = s.ranges[1:]
	}

	logging.Default().Debug("read stream consumed block", "block", block, "distance", s.distance, "regime", s.regime.String())

	s.lookAhead()
	return block, buf, perBufferData, true
}

// End drains the stream, waiting out any ranges still in flight so
// the invariant pinned==0 && ios_in_progress==0 holds once it
// returns.
func (s *Stream) End() {
	for s.pinned > 0 {
		if _, _, _, ok := s.Next(); !ok {
			break
		}
	}
}
