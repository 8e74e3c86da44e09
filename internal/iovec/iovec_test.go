package iovec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytes(t *testing.T) {
	a := []byte("hello")
	b := []byte("world!")

	vec := FromBytes([][]byte{a, b})
	require.Len(t, vec, 2)
	assert.EqualValues(t, len(a), vec[0].Len)
	assert.EqualValues(t, len(b), vec[1].Len)

	addr, n := AddrLen(vec)
	assert.NotZero(t, addr)
	assert.Equal(t, 2, n)
}

func TestFromBytesEmpty(t *testing.T) {
	assert.Nil(t, FromBytes(nil))
	addr, n := AddrLen(nil)
	assert.Zero(t, addr)
	assert.Zero(t, n)
}

func TestPoolGetPut(t *testing.T) {
	p := NewPool(4, 128)
	assert.Equal(t, 4, p.Cap())
	assert.Equal(t, 128, p.BufSize())

	idx1, buf1, ok := p.Get(false)
	require.True(t, ok)
	buf1[0] = 0xAB

	idx2, _, ok := p.Get(false)
	require.True(t, ok)
	assert.NotEqual(t, idx1, idx2)

	p.Put(idx1)
	idx3, buf3, ok := p.Get(false)
	require.True(t, ok)
	assert.Equal(t, idx1, idx3)
	assert.Equal(t, byte(0xAB), buf3[0])
}

func TestPoolExhaustionNonBlocking(t *testing.T) {
	p := NewPool(1, 16)
	_, _, ok := p.Get(false)
	require.True(t, ok)

	_, _, ok = p.Get(false)
	assert.False(t, ok)
}
