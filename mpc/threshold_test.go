package mpc

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/hhcho/irismpc/device"
	"github.com/stretchr/testify/require"
)

type testParty struct {
	circuits *Circuits
	streams  []*device.Stream
	devices  []*device.Device
}

func setupCircuits(t *testing.T, numDevices, chunkSize int) [NumParties]*testParty {
	t.Helper()
	mpcs := newLocalMPC(t, numDevices, testTimeout)
	params := DefaultThresholdParams()

	var out [NumParties]*testParty
	for p := range out {
		manager := device.NewManager(numDevices, 0)
		circuits, err := NewCircuits(params, mpcs[p], manager.Devices(), chunkSize)
		require.NoError(t, err)
		streams := manager.ForkStreams()
		t.Cleanup(func() { device.CloseStreams(streams) })
		out[p] = &testParty{circuits: circuits, streams: streams, devices: manager.Devices()}
	}
	return out
}

func (tp *testParty) load(codes, masks ChunkShare[uint16]) (cs, ms *ShareStore[uint16], err error) {
	cs, err = NewShareStore(codes, tp.devices)
	if err != nil {
		return nil, nil, err
	}
	ms, err = NewShareStore(masks, tp.devices)
	if err != nil {
		cs.Free()
		return nil, nil, err
	}
	return cs, ms, nil
}

func shareBatch(t *testing.T, codes, masks []uint16) (codeShares, maskShares [NumParties]ChunkShare[uint16]) {
	t.Helper()
	rng := testRNG(9)
	codeShares, err := ShareAdditiveVec(codes, rng)
	require.NoError(t, err)
	maskShares, err = ShareAdditiveVec(masks, rng)
	require.NoError(t, err)
	return codeShares, maskShares
}

// matchAll compares and opens a batch on all parties.
func matchAll(t *testing.T, parties [NumParties]*testParty, codes, masks []uint16) [NumParties][]bool {
	t.Helper()
	codeShares, maskShares := shareBatch(t, codes, masks)

	var out [NumParties][]bool
	require.NoError(t, runParties(func(pid PartyID) error {
		tp := parties[pid]
		cs, ms, err := tp.load(codeShares[pid], maskShares[pid])
		if err != nil {
			return err
		}
		defer cs.Free()
		defer ms.Free()
		out[pid], err = tp.circuits.CompareAndOpen(cs.Chunks(), ms.Chunks(), tp.streams)
		return err
	}))
	return out
}

func randomPairs(n int, seed int64) (codes, masks []uint16) {
	r := rand.New(rand.NewSource(seed))
	codes = []uint16{0, 0, 0xFFFF, 0x8000, 1, 0xFFFF, 12800, 0xCE00}
	masks = []uint16{0, 0xFFFF, 0, 0x8000, 1, 0xFFFF, 12800, 12800}
	for len(codes) < n {
		codes = append(codes, uint16(r.Uint32()))
		masks = append(masks, uint16(r.Uint32()))
	}
	return codes, masks
}

func TestThresholdParams(t *testing.T) {
	params := DefaultThresholdParams()
	require.Equal(t, uint64(16384), params.A)
	require.Equal(t, uint(32), params.RingBits())

	for _, bad := range []float64{0, 0.5, -1, 0.7} {
		_, err := NewThresholdParams(bad, 16)
		var ce *ConfigError
		require.ErrorAs(t, err, &ce)
	}
	_, err := NewThresholdParams(0.375, 0)
	require.Error(t, err)
	_, err = NewThresholdParams(0.375, 49)
	require.Error(t, err)
}

func TestReferenceFollowsHammingRule(t *testing.T) {
	params := DefaultThresholdParams()
	for m := 1; m <= 12800; m += 37 {
		for hd := 0; hd <= m; hd++ {
			want := 8*hd < 3*m
			got := params.Reference(uint16(m-2*hd), uint16(m)) == 1
			if want != got {
				t.Fatalf("hd %d of %d bits: got %v, want %v", hd, m, got, want)
			}
		}
	}
	// no valid bits never matches
	require.Equal(t, Bit(0), params.Reference(0, 0))
}

func TestCompareThresholdMasked(t *testing.T) {
	parties := setupCircuits(t, 2, 256)
	params := parties[0].circuits.Params()
	codes, masks := randomPairs(3000, 1)

	out := matchAll(t, parties, codes, masks)
	for p := range out {
		require.Len(t, out[p], len(codes))
		require.Equal(t, out[0], out[p])
	}
	for i := range codes {
		require.Equal(t, params.Reference(codes[i], masks[i]) == 1, out[0][i], "pair %d: c=%d m=%d", i, codes[i], masks[i])
	}
}

func TestCompareIndependentOfDevices(t *testing.T) {
	codes, masks := randomPairs(301, 2)
	params := DefaultThresholdParams()
	want := make([]bool, len(codes))
	for i := range codes {
		want[i] = params.Reference(codes[i], masks[i]) == 1
	}

	for _, numDevices := range []int{1, 2, 3, 5} {
		for _, chunkSize := range []int{0, 7} {
			parties := setupCircuits(t, numDevices, chunkSize)
			out := matchAll(t, parties, codes, masks)
			require.Equal(t, want, out[1], "%d devices, chunk size %d", numDevices, chunkSize)
		}
	}
}

func TestCompareEmptyBatch(t *testing.T) {
	parties := setupCircuits(t, 2, 0)
	out := matchAll(t, parties, nil, nil)
	for p := range out {
		require.Empty(t, out[p])
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	parties := setupCircuits(t, 2, 0)
	codes, masks := randomPairs(100, 3)
	codeShares, maskShares := shareBatch(t, codes, masks)

	var first, second [NumParties][]bool
	require.NoError(t, runParties(func(pid PartyID) error {
		tp := parties[pid]
		cs, ms, err := tp.load(codeShares[pid], maskShares[pid])
		if err != nil {
			return err
		}
		defer cs.Free()
		defer ms.Free()
		return tp.circuits.WithResultBuffer(cs.Chunks(), ms.Chunks(), tp.streams, func(res *ResultBuffer) error {
			kept := res.Chunks[0].Clone()
			if first[pid], err = tp.circuits.Open(res); err != nil {
				return err
			}
			if second[pid], err = tp.circuits.Open(res); err != nil {
				return err
			}
			if !equalChunks(kept, res.Chunks[0]) {
				return errors.New("open modified the shares")
			}
			return nil
		})
	}))
	require.Equal(t, first, second)
}

func equalChunks(a, b ChunkShare[Bit]) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.A {
		if a.A[i] != b.A[i] || a.B[i] != b.B[i] {
			return false
		}
	}
	return true
}

func TestOpenRangeRevealsOnlyRange(t *testing.T) {
	parties := setupCircuits(t, 1, 0)
	params := parties[0].circuits.Params()
	codes, masks := randomPairs(2000, 4)
	codeShares, maskShares := shareBatch(t, codes, masks)

	var opened [NumParties][]bool
	var local [NumParties][]Bit
	require.NoError(t, runParties(func(pid PartyID) error {
		tp := parties[pid]
		cs, ms, err := tp.load(codeShares[pid], maskShares[pid])
		if err != nil {
			return err
		}
		defer cs.Free()
		defer ms.Free()
		return tp.circuits.WithResultBuffer(cs.Chunks(), ms.Chunks(), tp.streams, func(res *ResultBuffer) error {
			if opened[pid], err = tp.circuits.OpenRange(res, 10, 5); err != nil {
				return err
			}
			for i := range res.Chunks[0].A {
				local[pid] = append(local[pid], res.Chunks[0].A[i].Value()^res.Chunks[0].B[i].Value())
			}
			return nil
		})
	}))

	require.Len(t, opened[0], 5)
	for i, m := range opened[0] {
		require.Equal(t, params.Reference(codes[10+i], masks[10+i]) == 1, m)
	}

	// two of three components carry no information about the result
	agree := 0
	for i := range codes {
		if (local[0][i] == 1) == (params.Reference(codes[i], masks[i]) == 1) {
			agree++
		}
	}
	ratio := float64(agree) / float64(len(codes))
	require.InDelta(t, 0.5, ratio, 0.1)
}

func TestCompareRejectsBadShapes(t *testing.T) {
	parties := setupCircuits(t, 2, 0)
	tp := parties[0]
	codes, masks := randomPairs(10, 5)
	codeShares, maskShares := shareBatch(t, codes, masks)

	cs, err := NewShareStore(codeShares[0], tp.devices)
	require.NoError(t, err)
	short, _ := maskShares[0].View(0, 9)
	ms, err := NewShareStore(short, tp.devices)
	require.NoError(t, err)

	var ce *ConfigError
	_, err = tp.circuits.CompareThresholdMasked(cs.Chunks(), ms.Chunks(), tp.streams)
	require.ErrorAs(t, err, &ce)
	_, err = tp.circuits.CompareThresholdMasked(cs.Chunks(), cs.Chunks(), tp.streams[:1])
	require.ErrorAs(t, err, &ce)
	_, err = tp.circuits.CompareThresholdMasked(cs.Chunks(), cs.Chunks(), []*device.Stream{tp.streams[1], tp.streams[0]})
	require.ErrorAs(t, err, &ce)

	// the buffer was never taken
	require.ErrorAs(t, tp.circuits.ReturnResultBuffer(&ResultBuffer{}), &ce)

	_, err = NewCircuits(tp.circuits.Params(), tp.circuits.MPC(), tp.devices[:1], 0)
	require.ErrorAs(t, err, &ce)
}

func TestResultBufferInUse(t *testing.T) {
	parties := setupCircuits(t, 1, 0)
	codes, masks := randomPairs(20, 6)
	codeShares, maskShares := shareBatch(t, codes, masks)

	var second [NumParties]error
	require.NoError(t, runParties(func(pid PartyID) error {
		tp := parties[pid]
		cs, ms, err := tp.load(codeShares[pid], maskShares[pid])
		if err != nil {
			return err
		}
		defer cs.Free()
		defer ms.Free()

		res, err := tp.circuits.CompareThresholdMasked(cs.Chunks(), ms.Chunks(), tp.streams)
		if err != nil {
			return err
		}
		_, second[pid] = tp.circuits.CompareThresholdMasked(cs.Chunks(), ms.Chunks(), tp.streams)

		if err := tp.circuits.SynchronizeStreams(tp.streams); err != nil {
			return err
		}
		return tp.circuits.ReturnResultBuffer(res)
	}))
	for p := range second {
		require.ErrorIs(t, second[p], ErrResultBufferInUse)
	}
}

func TestCircuitsFreeReleasesMemory(t *testing.T) {
	parties := setupCircuits(t, 2, 0)
	codes, masks := randomPairs(50, 7)
	matchAll(t, parties, codes, masks)

	for _, tp := range parties {
		require.NotZero(t, tp.devices[0].MemUsed())
		tp.circuits.Free()
		for _, d := range tp.devices {
			require.Zero(t, d.MemUsed())
		}
	}
}
