// Package method defines the pluggable I/O method backend contract and
// a name-keyed registry of implementations (sync, worker, io_uring,
// POSIX AIO). It deals only in file descriptors, byte slices and
// opaque tokens so it has no dependency on the engine's handle type,
// keeping the import graph one-directional.
package method

import "fmt"

// Op identifies the kind of operation a Request carries.
type Op int32

const (
	OpRead Op = iota
	OpWrite
	OpFsync
	OpFlushRange
	OpNop
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpFsync:
		return "fsync"
	case OpFlushRange:
		return "flush_range"
	case OpNop:
		return "nop"
	default:
		return fmt.Sprintf("op(%d)", int32(o))
	}
}

// Request is the primitive description of one queued I/O. Token is
// opaque to the method and handed back unchanged on the matching
// Completion, so the caller can encode a handle index and generation
// into it without the method needing to know what either means.
type Request struct {
	Token  int64
	Op     Op
	FD     int
	Offset int64
	Iovecs [][]byte // nil for Fsync/FlushRange
}

// Completion reports one finished request. Result holds bytes
// transferred on success; Err, when non-nil, takes precedence.
type Completion struct {
	Token  int64
	Result int64
	Err    error
}

// Method is the pluggable I/O backend contract every engine binds to
// exactly one of at construction time.
type Method interface {
	// Init prepares the method for use (opening a ring, starting worker
	// goroutines, ...). Called once, before the first Submit.
	Init() error

	// Name returns the method's registry key.
	Name() string

	// NeedsSynchronousExecution reports whether this method cannot
	// overlap I/O at all, so a caller should bypass batching and treat
	// every Submit as completing before it returns.
	NeedsSynchronousExecution() bool

	// Submit queues a batch of requests. It may complete some or all of
	// them inline; regardless, their completions are only guaranteed
	// visible through Poll/WaitOne.
	Submit(reqs []Request) error

	// Poll returns any completions ready right now without blocking.
	Poll() ([]Completion, error)

	// WaitOne blocks until at least one completion is ready, then
	// returns it along with any others also already ready.
	WaitOne() ([]Completion, error)

	// Close releases resources (ring fd, worker goroutines, ...).
	Close() error
}

// Factory builds a new Method instance. Implementations register
// themselves under a fixed name via Register.
type Factory func() (Method, error)

var registry = map[string]Factory{}

// Register adds a method factory to the registry, keyed by name. Build
// functions normally call this from an init() in the same file as their
// Method implementation.
func Register(name string, f Factory) {
	registry[name] = f
}

// Lookup returns the factory registered under name, if any.
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names returns the set of registered method names, for CLI help text
// and validation.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}
