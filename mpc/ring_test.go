package mpc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingWraps(t *testing.T) {
	a := NewRingElement[uint16](0xFFFF)
	require.Equal(t, uint16(0), a.Add(NewRingElement[uint16](1)).Value())
	require.Equal(t, uint16(0xFFFF), NewRingElement[uint16](0).Sub(NewRingElement[uint16](1)).Value())
	require.Equal(t, uint16(1), a.Neg().Value())
	require.Equal(t, uint16(0xFFFE), a.Mul(NewRingElement[uint16](2)).Value())

	b := NewRingElement[Bit](1)
	require.Equal(t, Bit(0), b.Add(b).Value())
	require.Equal(t, Bit(1), b.Neg().Value())
	require.Equal(t, Bit(1), NewRingElement[Bit](3).Value())

	require.Equal(t, 1, BitWidth[Bit]())
	require.Equal(t, 16, BitWidth[uint16]())
	require.Equal(t, 4, ByteWidth[uint32]())
	require.Equal(t, 1, ByteWidth[Bit]())
}

func TestRingBits(t *testing.T) {
	v := NewRingElement[uint32](0x80000001)
	require.Equal(t, Bit(1), v.Msb())
	require.Equal(t, Bit(1), v.BitAt(0))
	require.Equal(t, Bit(0), v.BitAt(1))
	require.Equal(t, uint32(2), v.Shl(1).Value())
	require.Equal(t, uint32(0x40000000), v.Shr(1).Value())
	require.True(t, v.Xor(v).Equal(NewRingElement[uint32](0)))
	require.Equal(t, uint32(1), v.And(NewRingElement[uint32](0xF)).Value())
}

func TestElementsValues(t *testing.T) {
	vals := []uint64{0, 1, 1 << 63}
	require.Equal(t, vals, Values(Elements(vals)))
}

func testShareRoundTrip[T Word](t *testing.T, vals []T) {
	rng := testRNG(1)
	for _, v := range vals {
		e := NewRingElement(v)

		add, err := ShareAdditive(e, rng)
		require.NoError(t, err)
		got, err := ReconstructAdditive(add)
		require.NoError(t, err)
		require.Equal(t, e, got)

		xor, err := ShareXor(e, rng)
		require.NoError(t, err)
		got, err = ReconstructXor(xor)
		require.NoError(t, err)
		require.Equal(t, e, got)

		for i := range add {
			require.Equal(t, add[i].B, add[(i+1)%NumParties].A)
		}
	}
}

func TestShareRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var v16 []uint16
	var v32 []uint32
	var v64 []uint64
	for i := 0; i < 100; i++ {
		v16 = append(v16, uint16(r.Uint32()))
		v32 = append(v32, r.Uint32())
		v64 = append(v64, r.Uint64())
	}
	v16 = append(v16, 0, 0xFFFF)
	t.Run("ring16", func(t *testing.T) { testShareRoundTrip(t, v16) })
	t.Run("ring32", func(t *testing.T) { testShareRoundTrip(t, v32) })
	t.Run("ring64", func(t *testing.T) { testShareRoundTrip(t, v64) })
	t.Run("bit", func(t *testing.T) { testShareRoundTrip(t, []Bit{0, 1}) })
}

func TestReconstructRejectsInconsistentShares(t *testing.T) {
	shares, err := ShareAdditive(NewRingElement[uint16](5), testRNG(2))
	require.NoError(t, err)
	shares[1].B = shares[1].B.Add(NewRingElement[uint16](1))
	_, err = ReconstructAdditive(shares)
	require.Error(t, err)
}
