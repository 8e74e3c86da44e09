package method

import (
	"sync"

	"golang.org/x/sys/unix"
)

func init() {
	Register("sync", func() (Method, error) { return NewSyncMethod(), nil })
}

// SyncMethod executes every request inline on the calling goroutine via
// Pread/Pwrite/Fsync, the fallback every other method can be compared
// against. Completions are queued as soon as Submit runs, so Poll and
// WaitOne never actually block.
type SyncMethod struct {
	mu   sync.Mutex
	done []Completion
}

// NewSyncMethod returns a ready-to-use synchronous method.
func NewSyncMethod() *SyncMethod {
	return &SyncMethod{}
}

func (s *SyncMethod) Init() error { return nil }

func (s *SyncMethod) Name() string { return "sync" }

func (s *SyncMethod) NeedsSynchronousExecution() bool { return true }

func (s *SyncMethod) Submit(reqs []Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range reqs {
		s.done = append(s.done, s.execute(req))
	}
	return nil
}

func (s *SyncMethod) execute(req Request) Completion {
	switch req.Op {
	case OpRead:
		var total int64
		off := req.Offset
		for _, buf := range req.Iovecs {
			n, err := unix.Pread(req.FD, buf, off)
			if err != nil {
				return Completion{Token: req.Token, Result: total, Err: err}
			}
			total += int64(n)
			off += int64(n)
			if n < len(buf) {
				break
			}
		}
		return Completion{Token: req.Token, Result: total}
	case OpWrite:
		var total int64
		off := req.Offset
		for _, buf := range req.Iovecs {
			n, err := unix.Pwrite(req.FD, buf, off)
			if err != nil {
				return Completion{Token: req.Token, Result: total, Err: err}
			}
			total += int64(n)
			off += int64(n)
			if n < len(buf) {
				break
			}
		}
		return Completion{Token: req.Token, Result: total}
	case OpFsync:
		if err := unix.Fsync(req.FD); err != nil {
			return Completion{Token: req.Token, Err: err}
		}
		return Completion{Token: req.Token}
	case OpFlushRange:
		if err := unix.Fdatasync(req.FD); err != nil {
			return Completion{Token: req.Token, Err: err}
		}
		return Completion{Token: req.Token}
	default:
		return Completion{Token: req.Token}
	}
}

func (s *SyncMethod) Poll() ([]Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.done
	s.done = nil
	return out, nil
}

func (s *SyncMethod) WaitOne() ([]Completion, error) {
	return s.Poll()
}

func (s *SyncMethod) Close() error { return nil }

var _ Method = (*SyncMethod)(nil)
