package iris

import (
	"testing"

	"github.com/hhcho/frand"
	"github.com/hhcho/irismpc/mpc"
	"github.com/stretchr/testify/require"
)

func testRNG() *frand.RNG {
	return frand.NewCustom(make([]byte, 32), 1024, 20)
}

func TestDots(t *testing.T) {
	a, b := new(IrisCode), new(IrisCode)
	for i := range a.Mask {
		a.Mask[i] = ^uint64(0)
		b.Mask[i] = ^uint64(0)
	}
	code, mask := a.Dots(b)
	require.Equal(t, uint16(IrisCodeBits), code)
	require.Equal(t, uint16(IrisCodeBits), mask)

	// all bits disagree: dot is -mask
	for i := range b.Code {
		b.Code[i] = ^uint64(0)
	}
	code, mask = a.Dots(b)
	require.Equal(t, uint16(IrisCodeBits), mask)
	require.Equal(t, uint16(-IrisCodeBits&0xFFFF), code)
	require.Equal(t, 1.0, a.FractionalHammingDistance(b))

	// masked out bits do not count
	b.Mask[0] = 0
	hd, valid := a.Distance(b)
	require.Equal(t, IrisCodeBits-64, valid)
	require.Equal(t, IrisCodeBits-64, hd)
}

func TestSimilarCodesMatch(t *testing.T) {
	rng := testRNG()
	params := mpc.DefaultThresholdParams()
	for i := 0; i < 20; i++ {
		a := RandomIrisCode(rng)
		similar := a.SimilarCode(rng, 0.1)
		other := RandomIrisCode(rng)

		require.True(t, a.IsMatch(similar))
		require.False(t, a.IsMatch(other))

		for _, b := range []*IrisCode{similar, other} {
			c, m := a.Dots(b)
			require.Equal(t, a.IsMatch(b), params.Reference(c, m) == 1)
		}
	}
}

func TestPairDotsOrder(t *testing.T) {
	rng := testRNG()
	queries := []*IrisCode{RandomIrisCode(rng), RandomIrisCode(rng)}
	db := []*IrisCode{RandomIrisCode(rng), RandomIrisCode(rng), RandomIrisCode(rng)}

	codes, masks := PairDots(queries, db)
	require.Len(t, codes, 6)
	c, m := queries[1].Dots(db[2])
	require.Equal(t, c, codes[5])
	require.Equal(t, m, masks[5])
	c, m = queries[0].Dots(db[1])
	require.Equal(t, c, codes[1])
	require.Equal(t, m, masks[1])
}

func TestGenerateBatch(t *testing.T) {
	params := mpc.DefaultThresholdParams()
	a, err := GenerateBatch([]byte("seed"), 4, 3, params)
	require.NoError(t, err)
	b, err := GenerateBatch([]byte("seed"), 4, 3, params)
	require.NoError(t, err)

	require.Equal(t, 12, a.NumPairs())
	require.Equal(t, a.Expected, b.Expected)
	// query 0 is a noisy copy of db entry 0
	require.True(t, a.Expected[0])

	var shares [mpc.NumParties]mpc.ReplicatedShare[uint16]
	codes, masks := PairDots(a.Queries, a.DB)
	for i := range codes {
		for p := mpc.PartyID(0); p < mpc.NumParties; p++ {
			c, _ := a.Shares.Get(p)
			shares[p] = mpc.ReplicatedShare[uint16]{A: c.A[i], B: c.B[i]}
		}
		v, err := mpc.ReconstructAdditive(shares)
		require.NoError(t, err)
		require.Equal(t, codes[i], v.Value())

		for p := mpc.PartyID(0); p < mpc.NumParties; p++ {
			_, m := a.Shares.Get(p)
			shares[p] = mpc.ReplicatedShare[uint16]{A: m.A[i], B: m.B[i]}
		}
		v, err = mpc.ReconstructAdditive(shares)
		require.NoError(t, err)
		require.Equal(t, masks[i], v.Value())
	}
}

func TestShareDotsRejectsMismatch(t *testing.T) {
	_, err := ShareDots([]uint16{1, 2}, []uint16{1}, testRNG())
	var ce *mpc.ConfigError
	require.ErrorAs(t, err, &ce)
}
