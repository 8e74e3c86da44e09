package aio

import "github.com/cedarbase/aio/internal/constants"

// IOMethodName selects which internal/method.Method implementation an
// engine binds to.
type IOMethodName string

const (
	IOMethodSync     IOMethodName = "sync"
	IOMethodWorker   IOMethodName = "worker"
	IOMethodIOUring  IOMethodName = "io_uring"
	IOMethodPosixAIO IOMethodName = "posix_aio"
)

// Regime names the read stream's look-ahead distance regime (spec §4.7):
// A settles on a distance of 1 once every block turns out already
// cached, B grows distance to buffer_io_size for a purely sequential,
// unbuffered stream, and C grows distance toward the configured I/O
// concurrency once access turns out to be non-sequential (random
// access). No stream flag selects regime C directly.
type Regime int32

const (
	RegimeA Regime = iota
	RegimeB
	RegimeC
)

func (r Regime) String() string {
	switch r {
	case RegimeA:
		return "A"
	case RegimeB:
		return "B"
	case RegimeC:
		return "C"
	default:
		return "?"
	}
}

// Config enumerates the engine's and read stream's tunable knobs.
type Config struct {
	// IOMethod selects the method backend the engine submits through.
	IOMethod IOMethodName

	// IOMaxConcurrency is the default handle count carved out per
	// backend by NewBackend when it is called with n <= 0.
	IOMaxConcurrency int

	// IOBounceBuffers is the size of the engine's global bounce-buffer
	// pool.
	IOBounceBuffers int

	// EffectiveIOConcurrency is the regime-C target look-ahead distance
	// for ordinary read streams.
	EffectiveIOConcurrency int

	// MaintenanceIOConcurrency is the regime-C target look-ahead
	// distance for maintenance-style streams (VACUUM-like callers),
	// normally lower than EffectiveIOConcurrency to leave headroom for
	// foreground I/O.
	MaintenanceIOConcurrency int

	// BufferIOSize bounds how many consecutive blocks a read stream may
	// coalesce into one vectored read, in blocks.
	BufferIOSize int

	// IODirectFlags, when true, disables regime C (direct I/O bypasses
	// the page cache advice is meant to influence), clamping the read
	// stream to regime B, and routes multi-segment requests through a
	// bounce buffer. The engine does not itself open subjects with
	// O_DIRECT.
	IODirectFlags bool
}

// DefaultConfig returns the engine's default tuning, matching the
// package-level defaults in internal/constants.
func DefaultConfig() Config {
	return Config{
		IOMethod:                 IOMethodSync,
		IOMaxConcurrency:         constants.DefaultHandlesPerBackend,
		IOBounceBuffers:          constants.DefaultBounceBuffers,
		EffectiveIOConcurrency:   constants.DefaultEffectiveIOConcurrency,
		MaintenanceIOConcurrency: constants.DefaultMaintenanceIOConcurrency,
		BufferIOSize:             constants.DefaultBufferIOSize,
		IODirectFlags:            false,
	}
}

// Validate rejects configurations the engine cannot operate under.
func (c Config) Validate() error {
	if c.IOMaxConcurrency < 1 {
		return NewError("Config.Validate", KindValidation, "io_max_concurrency must be >= 1")
	}
	if c.IOBounceBuffers < 1 {
		return NewError("Config.Validate", KindValidation, "io_bounce_buffers must be >= 1")
	}
	if c.BufferIOSize < 1 {
		return NewError("Config.Validate", KindValidation, "buffer_io_size must be >= 1")
	}
	// 0 is a legal boundary value for both concurrency knobs: it is
	// handled as max_ios = 1 with advice disabled (see
	// readstream.Begin), not rejected outright.
	if c.EffectiveIOConcurrency < 0 {
		return NewError("Config.Validate", KindValidation, "effective_io_concurrency must be >= 0")
	}
	if c.MaintenanceIOConcurrency < 0 {
		return NewError("Config.Validate", KindValidation, "maintenance_io_concurrency must be >= 0")
	}
	switch c.IOMethod {
	case IOMethodSync, IOMethodWorker, IOMethodIOUring, IOMethodPosixAIO:
	default:
		return NewError("Config.Validate", KindValidation, "unknown io_method: "+string(c.IOMethod))
	}
	return nil
}
