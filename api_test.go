package aio

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempTestFile(t *testing.T, content []byte) (*os.File, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "aio-api-test-*")
	require.NoError(t, err)
	if len(content) > 0 {
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	return f, func() {
		f.Close()
		os.Remove(f.Name())
	}
}

func TestAcquireDefineWriteWait(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	f, cleanup := tempTestFile(t, make([]byte, 64))
	defer cleanup()

	h, err := b.Acquire()
	require.NoError(t, err)
	require.Equal(t, StateHandedOut, h.State())

	payload := []byte("hello, world")
	require.NoError(t, b.PrepareWrite(h, NoSubject, int(f.Fd()), 0, [][]byte{payload}))
	require.Equal(t, StatePrepared, h.State())

	ref := e.GetRef(h)
	require.NoError(t, b.SubmitStaged())

	result, err := e.Wait(ref)
	require.NoError(t, err)
	require.NoError(t, result.Err)
	assert.Equal(t, int64(len(payload)), result.Bytes)
	assert.Equal(t, StateIdle, h.State())
}

func TestAcquireNBBusyUntilReleased(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	h, err := b.AcquireNB()
	require.NoError(t, err)

	_, err = b.AcquireNB()
	assert.ErrorIs(t, err, ErrBackendBusy)

	require.NoError(t, b.Release(h))
	h2, err := b.AcquireNB()
	require.NoError(t, err)
	assert.NotNil(t, h2)
}

func TestReadWriteRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	f, cleanup := tempTestFile(t, make([]byte, 64))
	defer cleanup()

	payload := []byte("round trip payload")

	wh, err := b.Acquire()
	require.NoError(t, err)
	require.NoError(t, b.PrepareWrite(wh, NoSubject, int(f.Fd()), 0, [][]byte{payload}))
	wref := e.GetRef(wh)
	require.NoError(t, b.SubmitStaged())
	_, err = e.Wait(wref)
	require.NoError(t, err)

	readBuf := make([]byte, len(payload))
	rh, err := b.Acquire()
	require.NoError(t, err)
	require.NoError(t, b.PrepareRead(rh, NoSubject, int(f.Fd()), 0, [][]byte{readBuf}))
	rref := e.GetRef(rh)
	require.NoError(t, b.SubmitStaged())
	result, err := e.Wait(rref)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), result.Bytes)
	assert.Equal(t, payload, readBuf)
}

func TestCheckDoneBeforeSubmit(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	f, cleanup := tempTestFile(t, make([]byte, 16))
	defer cleanup()

	h, err := b.Acquire()
	require.NoError(t, err)
	require.NoError(t, b.PrepareFsync(h, NoSubject, int(f.Fd()), false))
	ref := e.GetRef(h)

	done, _, err := e.CheckDone(ref)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, b.SubmitStaged())
	_, err = e.Wait(ref)
	require.NoError(t, err)
}

func TestWaitStaleReference(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	h, err := b.Acquire()
	require.NoError(t, err)
	ref := e.GetRef(h)
	require.NoError(t, b.Release(h))

	_, err = e.Wait(ref)
	assert.True(t, IsKind(err, KindAPIViolation))
}

func TestCallbacksRunOnCompletion(t *testing.T) {
	e := newTestEngine(t)
	b := NewBackend(e, 0)

	f, cleanup := tempTestFile(t, make([]byte, 16))
	defer cleanup()

	cb := &MockCallback{}
	cbID := RegisterCallback(cb)

	h, err := b.Acquire()
	require.NoError(t, err)
	h.mu.Lock()
	require.NoError(t, h.AddCallback(cbID))
	h.mu.Unlock()

	require.NoError(t, b.PrepareWrite(h, NoSubject, int(f.Fd()), 0, [][]byte{[]byte("x")}))
	ref := e.GetRef(h)
	require.NoError(t, b.SubmitStaged())
	_, err = e.Wait(ref)
	require.NoError(t, err)

	prepare, complete, report := cb.Counts()
	assert.Equal(t, 1, prepare)
	assert.Equal(t, 1, complete)
	assert.Equal(t, 1, report)
}
