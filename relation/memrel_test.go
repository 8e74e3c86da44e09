package relation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewMemoryRoundsUpToBlock(t *testing.T) {
	m, err := NewMemory("test-relation", 100)
	require.NoError(t, err)
	defer m.Close()

	assert.EqualValues(t, 8192, m.Size())
}

func TestMemoryReadWriteThroughFD(t *testing.T) {
	m, err := NewMemory("test-rw", 8192)
	require.NoError(t, err)
	defer m.Close()

	payload := []byte("relation page contents")
	n, err := unix.Pwrite(m.FD(), payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	readBuf := make([]byte, len(payload))
	n, err = unix.Pread(m.FD(), readBuf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, readBuf)
}

func TestMemoryExtendGrowsSize(t *testing.T) {
	m, err := NewMemory("test-extend", 8192)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Extend(20000))
	assert.EqualValues(t, 24576, m.Size())

	require.NoError(t, m.Extend(100))
	assert.EqualValues(t, 24576, m.Size(), "extend never shrinks")
}

func TestMemoryReopenCount(t *testing.T) {
	m, err := NewMemory("test-reopen", 8192)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 0, m.ReopenCount())
	fd, err := m.Reopen()
	require.NoError(t, err)
	assert.Equal(t, m.FD(), fd)
	assert.Equal(t, 1, m.ReopenCount())
}

func TestMemoryStats(t *testing.T) {
	m, err := NewMemory("test-stats", 8192)
	require.NoError(t, err)
	defer m.Close()

	stats := m.Stats()
	assert.Equal(t, "memfd", stats["type"])
	assert.EqualValues(t, 8192, stats["size"])
}

func TestMemoryDescribe(t *testing.T) {
	m, err := NewMemory("test-describe", 8192)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "relation:test-describe", m.Describe())
}
