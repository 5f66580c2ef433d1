package iris

import (
	"fmt"
	"testing"

	"github.com/hhcho/irismpc/mpc"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestProtocols(t *testing.T, numDevices int, refresh bool) [mpc.NumParties]*ProtocolInfo {
	t.Helper()
	config := DefaultConfig()
	config.NumDevices = numDevices
	config.ChunkSize = 16
	config.RefreshPrfKeys = refresh

	prots, err := NewLocalProtocols(config)
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, prot := range prots {
			prot.Networks().CloseAll()
		}
	})
	return prots
}

func forAll(prots [mpc.NumParties]*ProtocolInfo, fn func(*ProtocolInfo) error) error {
	var g errgroup.Group
	for _, prot := range prots {
		prot := prot
		g.Go(func() error { return fn(prot) })
	}
	return g.Wait()
}

func TestMatchBatch(t *testing.T) {
	prots := newTestProtocols(t, 2, true)
	batch, err := GenerateBatch([]byte("match"), 6, 5, prots[0].Circuits().Params())
	require.NoError(t, err)

	var results [mpc.NumParties][]bool
	require.NoError(t, forAll(prots, func(prot *ProtocolInfo) error {
		codes, masks := batch.Shares.Get(prot.Pid())
		var err error
		results[prot.Pid()], err = prot.MatchBatch(codes, masks)
		return err
	}))

	i := 0
	for _, q := range batch.Queries {
		for _, d := range batch.DB {
			require.Equal(t, q.IsMatch(d), results[0][i], "pair %d", i)
			i++
		}
	}
	for p := range results {
		require.Equal(t, batch.Expected, results[p])
	}
}

func TestRunHarnessAndSync(t *testing.T) {
	prots := newTestProtocols(t, 3, false)

	require.NoError(t, forAll(prots, func(prot *ProtocolInfo) error {
		mismatches, err := prot.RunHarness([]byte("harness"), 4, 7)
		if err == nil && mismatches > 0 {
			err = fmt.Errorf("%s: %d mismatches", prot.Pid(), mismatches)
		}
		return err
	}))

	// party 2 lost its last records
	require.NoError(t, prots[2].Store().RollbackTo(3))
	prots[1].Store().MarkDeleted("deleted-on-1")

	var results [mpc.NumParties]*mpc.SyncResult
	require.NoError(t, forAll(prots, func(prot *ProtocolInfo) error {
		var err error
		results[prot.Pid()], err = prot.SyncStorage()
		return err
	}))
	for _, prot := range prots {
		require.Equal(t, uint64(3), prot.Store().Len())
		require.Equal(t, mpc.PhaseRollbackRequired, prot.SyncPhase())
		require.Equal(t, []string{"deleted-on-1"}, prot.Store().SyncState().DeletedRequestIDs)
	}
	require.Equal(t, uint64(7), results[0].MyState.DbLen)

	require.NoError(t, forAll(prots, func(prot *ProtocolInfo) error {
		_, err := prot.SyncStorage()
		return err
	}))
	for _, prot := range prots {
		require.Equal(t, mpc.PhaseConsistent, prot.SyncPhase())
	}

	require.NoError(t, forAll(prots, func(prot *ProtocolInfo) error {
		return prot.SyncAndTerminate(false)
	}))
	for _, prot := range prots {
		for _, d := range prot.Devices() {
			require.Zero(t, d.MemUsed())
		}
	}
}

func TestMatchBatchRejectsMismatchedShares(t *testing.T) {
	prots := newTestProtocols(t, 1, false)
	codes := mpc.ChunkShare[uint16]{A: make([]mpc.RingElement[uint16], 2), B: make([]mpc.RingElement[uint16], 2)}
	masks := mpc.ChunkShare[uint16]{}
	_, err := prots[0].MatchBatch(codes, masks)
	var ce *mpc.ConfigError
	require.ErrorAs(t, err, &ce)
}
