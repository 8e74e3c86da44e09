// Package relation provides an in-memory Subject implementation of a
// relation file, standing in for a real on-disk relation in tests and
// the bundled benchmark command.
package relation

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cedarbase/aio"
	"github.com/cedarbase/aio/internal/constants"
)

// ShardSize is the size of each logical shard tracked for Stats
// purposes, mirroring a sharded-lock backend's granularity even
// though the actual storage here is kernel tmpfs rather than a heap
// array: a memfd gives every method backend (sync, worker, io_uring,
// POSIX AIO) a real file descriptor to operate on, so a relation
// behaves exactly like an on-disk one from the engine's point of view.
const ShardSize = 64 * 1024

// Memory is a tmpfs-backed relation file created with memfd_create.
// Growth tracking and Reopen-count bookkeeping are the only state
// kept outside the kernel; all I/O goes through the real fd.
type Memory struct {
	name string
	fd   int

	mu   sync.RWMutex
	size int64

	reopenMu sync.Mutex
	reopens  int
}

// NewMemory creates a relation of the given size (rounded up to a
// whole number of blocks), backed by an anonymous memfd.
func NewMemory(name string, size int64) (*Memory, error) {
	size = roundUpToBlock(size)

	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("relation: memfd_create %q: %w", name, err)
	}
	if size > 0 {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("relation: ftruncate %q: %w", name, err)
		}
	}
	return &Memory{name: name, fd: fd, size: size}, nil
}

func roundUpToBlock(size int64) int64 {
	if rem := size % constants.BlockSize; rem != 0 {
		size += constants.BlockSize - rem
	}
	return size
}

// Reopen implements aio.Subject. The relation's fd is a process-local
// memfd so there is nothing to actually reopen; Reopen returns the
// same descriptor and is tracked purely for test assertions.
func (m *Memory) Reopen() (int, error) {
	m.reopenMu.Lock()
	m.reopens++
	m.reopenMu.Unlock()
	return m.fd, nil
}

// Describe implements aio.Subject.
func (m *Memory) Describe() string {
	return fmt.Sprintf("relation:%s", m.name)
}

// ReopenCount reports how many times Reopen has been called.
func (m *Memory) ReopenCount() int {
	m.reopenMu.Lock()
	defer m.reopenMu.Unlock()
	return m.reopens
}

// FD returns the descriptor method backends should target when
// preparing I/O against this relation.
func (m *Memory) FD() int { return m.fd }

// Size returns the relation's current block-rounded size in bytes.
func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Extend grows the relation to at least minSize, rounding up to a
// whole block, matching a real relation's block-at-a-time extension.
func (m *Memory) Extend(minSize int64) error {
	minSize = roundUpToBlock(minSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	if minSize <= m.size {
		return nil
	}
	if err := unix.Ftruncate(m.fd, minSize); err != nil {
		return fmt.Errorf("relation: ftruncate %q: %w", m.name, err)
	}
	m.size = minSize
	return nil
}

// Stats reports a handful of diagnostic fields, grounded on the same
// kind of operator-facing summary a sharded memory backend exposes.
func (m *Memory) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"type":       "memfd",
		"name":       m.name,
		"size":       m.size,
		"num_shards": (m.size + ShardSize - 1) / ShardSize,
		"shard_size": ShardSize,
		"reopens":    m.ReopenCount(),
	}
}

// Close releases the backing memfd.
func (m *Memory) Close() error {
	return unix.Close(m.fd)
}

var _ aio.Subject = (*Memory)(nil)
