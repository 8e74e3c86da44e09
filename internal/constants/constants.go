// Package constants collects the fixed sizes and defaults that the aio
// engine and read stream are tuned around, kept in one place so tuning
// knobs don't drift between the engine and the read stream.
package constants

const (
	// SubmitBatchSize bounds the per-backend staged-submission array
	// (PGAIO_SUBMIT_BATCH_SIZE in spec.md §3/§4.3). Staging never grows
	// this array; it is allocated once per backend.
	SubmitBatchSize = 64

	// MaxCallbacksPerHandle bounds the shared-callback chain a single
	// handle may carry (spec.md §3: "a small ordered list (≤N)").
	MaxCallbacksPerHandle = 4

	// DefaultHandlesPerBackend is the default handle count carved out
	// of the global pool for each backend (io_max_concurrency default).
	DefaultHandlesPerBackend = 32

	// DefaultBounceBuffers is the default size of the global bounce
	// buffer pool (io_bounce_buffers default).
	DefaultBounceBuffers = 64

	// BounceBufferSize is the fixed page size of every bounce buffer.
	BounceBufferSize = 4096

	// DefaultBufferIOSize is the default maximum blocks coalesced into
	// one physical read (buffer_io_size default), expressed in blocks.
	DefaultBufferIOSize = 128

	// BlockSize is the fixed logical block size the read stream and
	// relation subject agree on.
	BlockSize = 8192

	// DefaultEffectiveIOConcurrency is the default regime-C target
	// distance (effective_io_concurrency default).
	DefaultEffectiveIOConcurrency = 16

	// DefaultMaintenanceIOConcurrency is the default regime-C target
	// distance for maintenance streams (VACUUM-style callers).
	DefaultMaintenanceIOConcurrency = 10

	// MaxIOsFloor is the minimum max_ios a read stream will honor;
	// max_ios = 0 behaves as max_ios = 1 with advice disabled
	// (spec.md §4.7 boundary behavior).
	MaxIOsFloor = 1
)
