package mpc

import (
	"fmt"

	"github.com/hhcho/irismpc/crypto"
	mpc_core "github.com/hhcho/mpc-core"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
)

// MPC is the protocol context of one device of this party.
type MPC struct {
	Network *Network

	rtype       mpc_core.RElem
	syncCounter int
}

type ParallelMPC []*MPC // Holds mpc environment for each device

func InitParallelMPCEnv(netObjs ParallelNetworks) ParallelMPC {
	mpcEnv := make(ParallelMPC, len(netObjs))
	for i := range netObjs {
		mpcEnv[i] = &MPC{
			Network: netObjs[i],
			rtype:   mpc_core.LElem2N(0),
		}
	}
	return mpcEnv
}

func (mpcObj *MPC) GetPid() PartyID {
	return mpcObj.Network.pid
}

func (mpcObj *MPC) NextID() PartyID {
	return mpcObj.GetPid().Next()
}

func (mpcObj *MPC) PrevID() PartyID {
	return mpcObj.GetPid().Prev()
}

func (mpcObj *MPC) GetRType() mpc_core.RElem {
	return mpcObj.rtype
}

// AssertSync checks that both neighbours reached the same protocol
// position and that the pairwise PRGs are still aligned.
func (mpcObj *MPC) AssertSync() error {
	pid := mpcObj.GetPid()
	check := mpcObj.syncCounter

	for other := PartyID(0); other < NumParties; other++ {
		if other == pid {
			continue
		}

		mpcObj.Network.Rand.SwitchPRG(int(other))
		rCheck := int(mpcObj.Network.Rand.RandElem(mpcObj.GetRType()).Uint64())
		mpcObj.Network.Rand.RestorePRG()

		var otherCounter, otherCheck int
		var err error
		if pid < other {
			err = mpcObj.sendChecks(other, check, rCheck)
			if err == nil {
				otherCounter, otherCheck, err = mpcObj.receiveChecks(other)
			}
		} else {
			otherCounter, otherCheck, err = mpcObj.receiveChecks(other)
			if err == nil {
				err = mpcObj.sendChecks(other, check, rCheck)
			}
		}
		if err != nil {
			return err
		}

		if check != otherCounter {
			return fmt.Errorf("%w: counter check failed between %s and %s: %d != %d", ErrOutOfSync, pid, other, check, otherCounter)
		}
		if rCheck != otherCheck {
			return fmt.Errorf("%w: PRG check failed between %s and %s", ErrOutOfSync, pid, other)
		}
	}

	mpcObj.syncCounter++
	return nil
}

func (mpcObj *MPC) sendChecks(to PartyID, counter, rCheck int) error {
	if err := mpcObj.Network.SendInt(counter, to); err != nil {
		return err
	}
	return mpcObj.Network.SendInt(rCheck, to)
}

func (mpcObj *MPC) receiveChecks(from PartyID) (int, int, error) {
	counter, err := mpcObj.Network.ReceiveInt(from)
	if err != nil {
		return 0, 0, err
	}
	rCheck, err := mpcObj.Network.ReceiveInt(from)
	return counter, rCheck, err
}

// SetupPrfKeys replaces the pairwise seeds by fresh keys: every party
// samples a key, sends it to the next party and receives the previous
// party's key.
func (mpcObj *MPC) SetupPrfKeys() error {
	own := PrfKey(crypto.NewPrfKey())
	netObj := mpcObj.Network

	var received NetworkValue
	var g errgroup.Group
	g.Go(func() error {
		return netObj.SendValue(own, mpcObj.NextID())
	})
	g.Go(func() error {
		var err error
		received, err = netObj.ReceiveValue(mpcObj.PrevID())
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	prevKey, ok := received.(PrfKey)
	if !ok {
		return decodeErrorf("PrfKey", 1, "got %s from %s", received.Tag(), mpcObj.PrevID())
	}
	netObj.Rand.SetPairwiseKeys(own, prevKey)
	log.Lvl2("Pairwise keys refreshed on device", netObj.device)
	return nil
}

// Barrier blocks until both neighbours reached the same point. Party 0
// collects a token from everyone and releases them.
func (mpcObj *MPC) Barrier() error {
	netObj := mpcObj.Network
	dummy := mpcObj.GetRType().Zero()
	if mpcObj.GetPid() == 0 {
		for p := PartyID(1); p < NumParties; p++ {
			if _, err := netObj.ReceiveRElem(dummy, p); err != nil {
				return err
			}
		}
		for p := PartyID(1); p < NumParties; p++ {
			if err := netObj.SendRData(dummy, p); err != nil {
				return err
			}
		}
		return nil
	}
	if err := netObj.SendRData(dummy, 0); err != nil {
		return err
	}
	_, err := netObj.ReceiveRElem(dummy, 0)
	return err
}

func (mpcObjs ParallelMPC) GetNetworks() ParallelNetworks {
	netObjs := make(ParallelNetworks, len(mpcObjs))
	for i := range netObjs {
		netObjs[i] = mpcObjs[i].Network
	}
	return netObjs
}

// runParallel applies fn to every device context concurrently.
func (mpcObjs ParallelMPC) runParallel(fn func(*MPC) error) error {
	var g errgroup.Group
	for _, mpcObj := range mpcObjs {
		mpcObj := mpcObj
		g.Go(func() error { return fn(mpcObj) })
	}
	return g.Wait()
}

func (mpcObjs ParallelMPC) AssertSync() error {
	return mpcObjs.runParallel((*MPC).AssertSync)
}

func (mpcObjs ParallelMPC) SetupPrfKeys() error {
	return mpcObjs.runParallel((*MPC).SetupPrfKeys)
}
