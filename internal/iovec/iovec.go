// Package iovec provides a C-compatible scatter/gather descriptor and
// an index-addressed buffer pool. The method backends and the read
// stream do not import it; they pass [][]byte buffers directly.
package iovec

import (
	"sync"
	"unsafe"
)

// IoVec mirrors the C struct iovec layout exactly, so a slice of them
// can be handed straight to a vectored syscall or an io_uring submission
// without further conversion.
//
//	struct iovec {
//	    void  *iov_base;
//	    size_t iov_len;
//	};
type IoVec struct {
	Base *byte
	Len  uint64
}

// FromBytes converts a slice of byte slices into an IoVec slice. The
// IoVec elements point directly at the backing arrays without copying;
// the caller must keep bufs alive for as long as the IoVec slice is in
// use by a syscall or ring submission.
func FromBytes(bufs [][]byte) []IoVec {
	if len(bufs) == 0 {
		return nil
	}
	vec := make([]IoVec, len(bufs))
	for i, b := range bufs {
		if len(b) == 0 {
			continue
		}
		vec[i] = IoVec{Base: unsafe.SliceData(b), Len: uint64(len(b))}
	}
	return vec
}

// AddrLen extracts the raw pointer and element count from an IoVec
// slice for direct syscall consumption.
func AddrLen(vec []IoVec) (addr uintptr, n int) {
	if len(vec) == 0 {
		return 0, 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(vec))), len(vec)
}

// Pool is a fixed-capacity, index-addressed pool of same-size buffers.
// Buffers are referenced by a small integer handle rather than by
// pointer, the same discipline the engine's handle Reference uses: an
// index survives being copied into a completion token or a wire
// message in a way a raw pointer would not.
//
// This is a simplified, mutex-based descendant of the lock-free
// bounded-pool technique: single-engine I/O concurrency is nowhere
// near the contention a per-packet network buffer pool sees, so a
// plain mutex and free list is the right amount of machinery here.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	bufSize  int
	buffers  [][]byte
	freeList []int
}

// NewPool allocates capacity buffers of bufSize bytes each, all
// initially free.
func NewPool(capacity, bufSize int) *Pool {
	p := &Pool{bufSize: bufSize}
	p.cond = sync.NewCond(&p.mu)
	p.buffers = make([][]byte, capacity)
	p.freeList = make([]int, capacity)
	for i := range p.buffers {
		p.buffers[i] = make([]byte, bufSize)
		p.freeList[i] = i
	}
	return p
}

// Get returns a free buffer's index and backing slice, blocking until
// one is available if block is true; otherwise it returns (-1, nil, false)
// immediately when the pool is exhausted.
func (p *Pool) Get(block bool) (index int, buf []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.freeList) == 0 {
		if !block {
			return -1, nil, false
		}
		p.cond.Wait()
	}
	index = p.freeList[len(p.freeList)-1]
	p.freeList = p.freeList[:len(p.freeList)-1]
	return index, p.buffers[index], true
}

// Put returns a buffer to the pool by index.
func (p *Pool) Put(index int) {
	p.mu.Lock()
	p.freeList = append(p.freeList, index)
	p.mu.Unlock()
	p.cond.Signal()
}

// At returns the backing slice for a previously Get'd index, without
// affecting pool membership. Useful when an index was passed across a
// boundary (a completion token, a test assertion) and needs resolving
// back to bytes.
func (p *Pool) At(index int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[index]
}

// Cap returns the pool's fixed capacity.
func (p *Pool) Cap() int { return len(p.buffers) }

// BufSize returns the fixed size of every buffer in the pool.
func (p *Pool) BufSize() int { return p.bufSize }
