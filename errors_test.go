package aio

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("Acquire", KindValidation, "invalid io_max_concurrency")

	require.Equal(t, "Acquire", err.Op)
	require.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "aio: invalid io_max_concurrency (op=Acquire)", err.Error())
}

func TestNewErrnoError(t *testing.T) {
	err := NewErrnoError("PrepareRead", syscall.EPERM)

	assert.Equal(t, syscall.EPERM, err.Errno)
	assert.Equal(t, KindIOError, err.Kind)
}

func TestNewSubjectError(t *testing.T) {
	err := NewSubjectError("Submit", "relation/16384", KindIOError, "short read")

	assert.Equal(t, "relation/16384", err.Subject)
	assert.Equal(t, "aio: short read (op=Submit)", err.Error())
}

func TestWrapError(t *testing.T) {
	err := WrapError("Release", syscall.ENOENT)

	require.Equal(t, KindIOError, err.Kind)
	assert.Equal(t, syscall.ENOENT, err.Errno)
	assert.True(t, errors.Is(err, syscall.ENOENT))
}

func TestWrapErrorPreservesKind(t *testing.T) {
	inner := NewError("Submit", KindShortTransfer, "partial write")
	wrapped := WrapError("SubmitStaged", inner)

	assert.Equal(t, KindShortTransfer, wrapped.Kind)
	assert.Equal(t, "SubmitStaged", wrapped.Op)
}

func TestIsKind(t *testing.T) {
	err := NewError("Wait", KindAPIViolation, "handle reused across generations")

	assert.True(t, IsKind(err, KindAPIViolation))
	assert.False(t, IsKind(err, KindIOError))
	assert.False(t, IsKind(nil, KindAPIViolation))
}

func TestIsErrno(t *testing.T) {
	err := NewErrnoError("Submit", syscall.EIO)

	assert.True(t, IsErrno(err, syscall.EIO))
	assert.False(t, IsErrno(err, syscall.EPERM))
	assert.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected Kind
	}{
		{0, KindOK},
		{syscall.EINVAL, KindValidation},
		{syscall.E2BIG, KindValidation},
		{syscall.EFAULT, KindAPIViolation},
		{syscall.EBADF, KindAPIViolation},
		{syscall.EIO, KindIOError},
		{syscall.ENOSPC, KindIOError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, mapErrnoToKind(tc.errno), "errno=%v", tc.errno)
	}
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := NewError("op-a", KindShortTransfer, "a")
	b := NewError("op-b", KindShortTransfer, "b")
	c := NewError("op-c", KindIOError, "c")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}
