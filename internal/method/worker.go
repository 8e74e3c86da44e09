package method

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

func init() {
	Register("worker", func() (Method, error) { return NewWorkerMethod(0, nil), nil })
}

// WorkerMethod offloads each request to a fixed pool of goroutines, each
// pinned (best-effort) to one OS thread and optionally one CPU, so a
// caller that cannot use io_uring still gets overlap between I/Os
// instead of strict inline execution.
type WorkerMethod struct {
	workers     int
	cpuAffinity []int

	submit chan Request
	done   chan Completion

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWorkerMethod returns a worker-pool method with n goroutines (0
// picks runtime.GOMAXPROCS(0)), each pinned round-robin across
// cpuAffinity if non-empty.
func NewWorkerMethod(n int, cpuAffinity []int) *WorkerMethod {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &WorkerMethod{
		workers:     n,
		cpuAffinity: cpuAffinity,
		submit:      make(chan Request, n*4),
		done:        make(chan Completion, n*4),
		closed:      make(chan struct{}),
	}
}

func (w *WorkerMethod) Init() error {
	for i := 0; i < w.workers; i++ {
		go w.loop(i)
	}
	return nil
}

func (w *WorkerMethod) Name() string { return "worker" }

func (w *WorkerMethod) NeedsSynchronousExecution() bool { return false }

func (w *WorkerMethod) loop(id int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(w.cpuAffinity) > 0 {
		cpu := w.cpuAffinity[id%len(w.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpu)
		_ = unix.SchedSetaffinity(0, &mask) // best-effort, not fatal
	}

	for {
		select {
		case req, ok := <-w.submit:
			if !ok {
				return
			}
			w.done <- execute(req)
		case <-w.closed:
			return
		}
	}
}

func (w *WorkerMethod) Submit(reqs []Request) error {
	for _, req := range reqs {
		select {
		case w.submit <- req:
		case <-w.closed:
			return nil
		}
	}
	return nil
}

func (w *WorkerMethod) Poll() ([]Completion, error) {
	var out []Completion
	for {
		select {
		case c := <-w.done:
			out = append(out, c)
		default:
			return out, nil
		}
	}
}

func (w *WorkerMethod) WaitOne() ([]Completion, error) {
	select {
	case c := <-w.done:
		out := []Completion{c}
		more, _ := w.Poll()
		return append(out, more...), nil
	case <-w.closed:
		return nil, nil
	}
}

func (w *WorkerMethod) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

// execute runs one request synchronously; it is the same primitive
// step SyncMethod uses, just invoked from a worker goroutine instead of
// the caller's.
func execute(req Request) Completion {
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

var _ Method = (*WorkerMethod)(nil)
