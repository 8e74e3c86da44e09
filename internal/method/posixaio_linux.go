//go:build linux && cgo

package method

/*
#include <aio.h>
#include <errno.h>
#include <stdlib.h>
#include <string.h>

static struct aiocb *alloc_aiocb(int fd, long long offset, void *buf, size_t len) {
	struct aiocb *cb = (struct aiocb *)calloc(1, sizeof(struct aiocb));
	cb->aio_fildes = fd;
	cb->aio_offset = offset;
	cb->aio_buf = buf;
	cb->aio_nbytes = len;
	cb->aio_reqprio = 0;
	cb->aio_sigevent.sigev_notify = SIGEV_NONE;
	return cb;
}

static int submit_read(struct aiocb *cb) { return aio_read(cb); }
static int submit_write(struct aiocb *cb) { return aio_write(cb); }
static int submit_fsync(struct aiocb *cb) { return aio_fsync(O_SYNC, cb); }

static int cb_error(struct aiocb *cb) { return aio_error(cb); }
static ssize_t cb_return(struct aiocb *cb) { return aio_return(cb); }
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

func init() {
	Register("posix_aio", func() (Method, error) { return NewPosixAIOMethod(), nil })
}

type posixaioInFlight struct {
	token int64
	cb    *C.struct_aiocb
	pin   []byte // keeps the Go buffer alive and reachable by cgo
}

// PosixAIOMethod submits requests through POSIX AIO (aio_read/aio_write/
// aio_fsync) via cgo, polling completion status with aio_error/aio_return
// rather than blocking in the kernel's own queue the way io_uring does.
type PosixAIOMethod struct {
	mu      sync.Mutex
	pending []*posixaioInFlight
}

// NewPosixAIOMethod returns a POSIX AIO-backed method.
func NewPosixAIOMethod() *PosixAIOMethod {
	return &PosixAIOMethod{}
}

func (p *PosixAIOMethod) Init() error { return nil }

func (p *PosixAIOMethod) Name() string { return "posix_aio" }

func (p *PosixAIOMethod) NeedsSynchronousExecution() bool { return false }

func (p *PosixAIOMethod) Submit(reqs []Request) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, req := range reqs {
		if len(req.Iovecs) != 1 && req.Op != OpFsync && req.Op != OpFlushRange {
			return fmt.Errorf("posix_aio: vectored I/O not supported, got %d iovecs", len(req.Iovecs))
		}

		var buf []byte
		if len(req.Iovecs) == 1 {
			buf = req.Iovecs[0]
		}
		var ptr unsafe.Pointer
		if len(buf) > 0 {
			ptr = unsafe.Pointer(&buf[0])
		}

		cb := C.alloc_aiocb(C.int(req.FD), C.longlong(req.Offset), ptr, C.size_t(len(buf)))

		var rc C.int
		switch req.Op {
		case OpRead:
			rc = C.submit_read(cb)
		case OpWrite:
			rc = C.submit_write(cb)
		case OpFsync, OpFlushRange:
			rc = C.submit_fsync(cb)
		default:
			C.free(unsafe.Pointer(cb))
			continue
		}
		if rc != 0 {
			C.free(unsafe.Pointer(cb))
			return fmt.Errorf("posix_aio: submit failed for op %s", req.Op)
		}

		p.pending = append(p.pending, &posixaioInFlight{token: req.Token, cb: cb, pin: buf})
	}
	return nil
}

// drain reaps every completed aiocb via aio_error/aio_return polling. A
// real aio_suspend on the pending array would let the kernel wake us
// exactly on completion; polling with a short sleep between passes
// keeps this portable across the handful of libc aio implementations
// this method targets.
func (p *PosixAIOMethod) drain(block bool) ([]Completion, error) {
	for {
		p.mu.Lock()
		out, stillPending := p.reapLocked()
		p.mu.Unlock()

		if len(out) > 0 || !block || !stillPending {
			return out, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// reapLocked must be called with p.mu held.
func (p *PosixAIOMethod) reapLocked() (out []Completion, stillPending bool) {
	remaining := p.pending[:0]
	for _, f := range p.pending {
		errno := C.cb_error(f.cb)
		if errno == C.EINPROGRESS {
			remaining = append(remaining, f)
			continue
		}
		n := C.cb_return(f.cb)
		c := Completion{Token: f.token, Result: int64(n)}
		if errno != 0 {
			c.Err = fmt.Errorf("posix_aio: errno %d", int(errno))
		}
		out = append(out, c)
		C.free(unsafe.Pointer(f.cb))
	}
	p.pending = remaining
	return out, len(p.pending) > 0
}

func (p *PosixAIOMethod) Poll() ([]Completion, error) {
	return p.drain(false)
}

func (p *PosixAIOMethod) WaitOne() ([]Completion, error) {
	return p.drain(true)
}

func (p *PosixAIOMethod) Close() error { return nil }

var _ Method = (*PosixAIOMethod)(nil)
