package mpc

import (
	"testing"

	"github.com/hhcho/irismpc/device"
	"github.com/stretchr/testify/require"
)

func TestSplitEven(t *testing.T) {
	require.Equal(t, []int{4, 3, 3}, SplitEven(10, 3))
	require.Equal(t, []int{1, 1, 0, 0}, SplitEven(2, 4))
	require.Equal(t, []int{0, 0}, SplitEven(0, 2))
	require.Nil(t, SplitEven(5, 0))
}

func TestChunkView(t *testing.T) {
	c, err := NewChunkShare(Elements([]uint16{1, 2, 3}), Elements([]uint16{4, 5, 6}))
	require.NoError(t, err)

	v, err := c.View(1, 2)
	require.NoError(t, err)
	require.Equal(t, []uint16{2, 3}, Values(v.A))

	// views share memory, clones do not
	v.A[0] = NewRingElement[uint16](9)
	require.Equal(t, uint16(9), c.A[1].Value())
	cl := c.Clone()
	cl.B[0] = NewRingElement[uint16](0)
	require.Equal(t, uint16(4), c.B[0].Value())

	_, err = c.View(2, 2)
	require.Error(t, err)

	_, err = NewChunkShare(Elements([]uint16{1}), nil)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestShareStore(t *testing.T) {
	manager := device.NewManager(3, 0)
	vals := make([]uint16, 10)
	for i := range vals {
		vals[i] = uint16(i)
	}
	shares, err := ShareAdditiveVec(vals, testRNG(3))
	require.NoError(t, err)

	store, err := NewShareStore(shares[0], manager.Devices())
	require.NoError(t, err)
	require.Equal(t, 10, store.Len())
	require.Len(t, store.Chunks(), 3)
	require.Equal(t, 4, store.Chunks()[0].Len())
	require.Equal(t, shares[0].A[4:7], store.Chunks()[1].A)
	require.Equal(t, int64(2*4*2), manager.Devices()[0].MemUsed())

	store.Free()
	for _, d := range manager.Devices() {
		require.Zero(t, d.MemUsed())
	}
}

func TestShareStoreOutOfMemory(t *testing.T) {
	manager := device.NewManager(2, 10)
	shares, err := ShareAdditiveVec(make([]uint16, 8), testRNG(4))
	require.NoError(t, err)

	// 4 elements per device need 16 bytes
	_, err = NewShareStore(shares[1], manager.Devices())
	require.ErrorIs(t, err, device.ErrOutOfMemory)
	for _, d := range manager.Devices() {
		require.Zero(t, d.MemUsed())
	}
}
