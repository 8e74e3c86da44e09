//go:build linux

package method

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

func init() {
	Register("io_uring", func() (Method, error) { return NewURingMethod(256) })
}

// URingMethod submits read/write/fsync requests through a real
// io_uring data-plane ring (IORING_OP_READV/WRITEV/FSYNC), rather than
// the URING_CMD-only control-plane ring a ublk-style device driver
// would build for device control commands.
type URingMethod struct {
	mu   sync.Mutex
	ring *giouring.Ring

	entries uint32
}

// NewURingMethod creates an io_uring-backed method with the given
// submission queue depth.
func NewURingMethod(entries uint32) (*URingMethod, error) {
	if entries == 0 {
		entries = 256
	}
	return &URingMethod{entries: entries}, nil
}

func (u *URingMethod) Init() error {
	ring, err := giouring.CreateRing(u.entries)
	if err != nil {
		return fmt.Errorf("io_uring: create ring: %w", err)
	}
	u.ring = ring
	return nil
}

func (u *URingMethod) Name() string { return "io_uring" }

func (u *URingMethod) NeedsSynchronousExecution() bool { return false }

func (u *URingMethod) Submit(reqs []Request) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, req := range reqs {
		sqe := u.ring.GetSQE()
		if sqe == nil {
			if _, err := u.ring.Submit(); err != nil {
				return fmt.Errorf("io_uring: submit mid-batch: %w", err)
			}
			sqe = u.ring.GetSQE()
			if sqe == nil {
				return fmt.Errorf("io_uring: submission queue exhausted")
			}
		}

		switch req.Op {
		case OpRead:
			sqe.PrepareReadv(req.FD, req.Iovecs, uint64(req.Offset), 0)
		case OpWrite:
			sqe.PrepareWritev(req.FD, req.Iovecs, uint64(req.Offset), 0)
		case OpFsync:
			sqe.PrepareFsync(req.FD, 0)
		case OpFlushRange:
			sqe.PrepareFsync(req.FD, giouring.FsyncDataSync)
		case OpNop:
			sqe.PrepareNop()
		}
		sqe.UserData = uint64(req.Token)
	}

	if _, err := u.ring.Submit(); err != nil {
		return fmt.Errorf("io_uring: submit: %w", err)
	}
	return nil
}

func (u *URingMethod) drain(block bool) ([]Completion, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []Completion
	for {
		var cqe *giouring.CompletionQueueEvent
		var err error
		if block && len(out) == 0 {
			cqe, err = u.ring.WaitCQE()
		} else {
			cqe, err = u.ring.PeekCQE()
		}
		if err != nil || cqe == nil {
			break
		}
		c := Completion{Token: int64(cqe.UserData), Result: int64(cqe.Res)}
		if cqe.Res < 0 {
			c.Err = fmt.Errorf("io_uring: completion failed: res=%d", cqe.Res)
			c.Result = 0
		}
		out = append(out, c)
		u.ring.CQESeen(cqe)
	}
	return out, nil
}

func (u *URingMethod) Poll() ([]Completion, error) {
	return u.drain(false)
}

func (u *URingMethod) WaitOne() ([]Completion, error) {
	return u.drain(true)
}

func (u *URingMethod) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.ring != nil {
		u.ring.QueueExit()
	}
	return nil
}

var _ Method = (*URingMethod)(nil)
