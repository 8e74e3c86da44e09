package aio

import (
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// MockSubject is an in-memory Subject backed by a temp file, useful
// for exercising the engine and read stream in tests without a real
// relation on disk. It tracks how many times Reopen was called so a
// test can assert on resource-owner or engine reopen behavior.
type MockSubject struct {
	mu         sync.Mutex
	name       string
	fd         int
	reopens    int
	reopenErr  error
}

// NewMockSubject creates a temp file of the given size and wraps it.
func NewMockSubject(name string, size int64) (*MockSubject, error) {
	fd, err := unix.Open(mockSubjectPath(name), unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, NewErrnoError("NewMockSubject", errnoOf(err))
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, NewErrnoError("NewMockSubject", errnoOf(err))
	}
	return &MockSubject{name: name, fd: fd}, nil
}

func mockSubjectPath(name string) string {
	return "/tmp/aio-mock-" + name
}

func errnoOf(err error) syscall.Errno {
	if e, ok := err.(unix.Errno); ok {
		return syscall.Errno(e)
	}
	return syscall.Errno(0)
}

// Reopen implements Subject.
func (s *MockSubject) Reopen() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reopens++
	if s.reopenErr != nil {
		return 0, s.reopenErr
	}
	return s.fd, nil
}

// Describe implements Subject.
func (s *MockSubject) Describe() string {
	return "mock:" + s.name
}

// ReopenCount returns how many times Reopen has been called.
func (s *MockSubject) ReopenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopens
}

// FailReopen makes future Reopen calls return err.
func (s *MockSubject) FailReopen(err error) {
	s.mu.Lock()
	s.reopenErr = err
	s.mu.Unlock()
}

// Close releases the backing temp file.
func (s *MockSubject) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return unix.Close(s.fd)
}

// MockCallback is a SharedCallback that records every invocation, for
// asserting the engine ran the expected pipeline stages.
type MockCallback struct {
	mu          sync.Mutex
	prepareN    int
	completeN   int
	reportN     int
	lastReport  DistilledResult
}

// Prepare implements SharedCallback.
func (c *MockCallback) Prepare(h *Handle) error {
	c.mu.Lock()
	c.prepareN++
	c.mu.Unlock()
	return nil
}

// Complete implements SharedCallback.
func (c *MockCallback) Complete(h *Handle, result DistilledResult) DistilledResult {
	c.mu.Lock()
	c.completeN++
	c.mu.Unlock()
	return result
}

// Report implements SharedCallback.
func (c *MockCallback) Report(h *Handle, result DistilledResult) {
	c.mu.Lock()
	c.reportN++
	c.lastReport = result
	c.mu.Unlock()
}

// Counts returns the number of times each stage ran.
func (c *MockCallback) Counts() (prepare, complete, report int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepareN, c.completeN, c.reportN
}

// LastReport returns the result observed by the most recent Report call.
func (c *MockCallback) LastReport() DistilledResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReport
}

var (
	_ Subject        = (*MockSubject)(nil)
	_ SharedCallback = (*MockCallback)(nil)
)
