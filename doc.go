// Package aio implements an asynchronous I/O engine: a fixed-size,
// process-shared pool of I/O handles moving through a strict state
// machine, submitted in per-backend batches to a pluggable method
// backend (synchronous fallback, a worker-goroutine pool, io_uring, or
// POSIX AIO), with shared completion callbacks, bounce-buffer
// substitution for direct I/O, and resource-owner lifetime binding so
// a caller's bounded scope (a transaction, a maintenance job) cannot
// leak a handle out of the pool.
//
// The readstream subpackage layers an adaptive look-ahead buffered
// reader on top of the engine, and the relation subpackage provides an
// in-memory Subject implementation for tests and the bundled
// benchmark command.
package aio
