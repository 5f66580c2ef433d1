package iris

import (
	"fmt"

	"github.com/hhcho/irismpc/device"
	"github.com/hhcho/irismpc/mpc"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
)

// ProtocolInfo is the state of one party: its devices, one MPC context
// per device, the comparison circuits and the storage it keeps in sync.
type ProtocolInfo struct {
	pid    mpc.PartyID
	config *Config

	manager  *device.Manager
	mpcObj   mpc.ParallelMPC
	circuits *mpc.Circuits
	streams  []*device.Stream
	syncer   *mpc.Synchronizer
	store    *Store
}

// InitializeIrisProtocol connects to the other parties over TCP and sets
// up the local party.
func InitializeIrisProtocol(config *Config, pid mpc.PartyID) (*ProtocolInfo, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	networks, err := mpc.InitCommunication(config.BindingIP, config.Servers, pid, config.NumDevices, config.SharedKeysPath, config.PeerTimeout())
	if err != nil {
		return nil, err
	}
	prot, err := newProtocol(config, pid, networks)
	if err != nil {
		networks.CloseAll()
		return nil, err
	}
	return prot, nil
}

// NewLocalProtocols sets up all three parties in one process, connected by
// in-memory pipes.
func NewLocalProtocols(config *Config) ([mpc.NumParties]*ProtocolInfo, error) {
	var prots [mpc.NumParties]*ProtocolInfo
	if err := config.Validate(); err != nil {
		return prots, err
	}
	networks, err := mpc.NewLocalNetworks(config.NumDevices, config.PeerTimeout())
	if err != nil {
		return prots, err
	}

	var g errgroup.Group
	for p := range prots {
		p := p
		g.Go(func() error {
			prot, err := newProtocol(config, mpc.PartyID(p), networks[p])
			if err != nil {
				return fmt.Errorf("%s: %w", mpc.PartyID(p), err)
			}
			prots[p] = prot
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for p := range networks {
			networks[p].CloseAll()
		}
		return prots, err
	}
	return prots, nil
}

func newProtocol(config *Config, pid mpc.PartyID, networks mpc.ParallelNetworks) (*ProtocolInfo, error) {
	params, err := config.ThresholdParams()
	if err != nil {
		return nil, err
	}

	mpcObj := mpc.InitParallelMPCEnv(networks)
	if config.RefreshPrfKeys {
		if err := mpcObj.SetupPrfKeys(); err != nil {
			return nil, err
		}
	}
	if err := mpcObj.AssertSync(); err != nil {
		return nil, err
	}

	manager := device.NewManager(config.NumDevices, config.DeviceMemoryLimit)
	circuits, err := mpc.NewCircuits(params, mpcObj, manager.Devices(), config.ChunkSize)
	if err != nil {
		return nil, err
	}
	circuits.TimerTag = config.TimerTag

	log.Lvl1(fmt.Sprintf("%s ready: %d devices, threshold ratio %v with %d fractional bits",
		pid, manager.DeviceCount(), config.MatchThresholdRatio, params.BBits))

	return &ProtocolInfo{
		pid:      pid,
		config:   config,
		manager:  manager,
		mpcObj:   mpcObj,
		circuits: circuits,
		streams:  manager.ForkStreams(),
		syncer:   mpc.NewSynchronizer(networks[0]),
		store:    NewStore(),
	}, nil
}

func (g *ProtocolInfo) GetConfig() *Config { return g.config }

func (g *ProtocolInfo) Pid() mpc.PartyID { return g.pid }

func (g *ProtocolInfo) Store() *Store { return g.store }

func (g *ProtocolInfo) Circuits() *mpc.Circuits { return g.circuits }

func (g *ProtocolInfo) Networks() mpc.ParallelNetworks { return g.mpcObj.GetNetworks() }

func (g *ProtocolInfo) Devices() []*device.Device { return g.manager.Devices() }

func (g *ProtocolInfo) SyncPhase() mpc.SyncPhase { return g.syncer.Phase() }

// MatchBatch distributes the shared dot-products over the devices,
// evaluates the threshold and reveals the match bits in input order. All
// three parties must call it with their shares of the same batch.
func (g *ProtocolInfo) MatchBatch(codes, masks mpc.ChunkShare[uint16]) ([]bool, error) {
	if codes.Len() != masks.Len() {
		return nil, &mpc.ConfigError{Op: "match", Msg: fmt.Sprintf("%d code shares but %d mask shares", codes.Len(), masks.Len())}
	}
	codeStore, err := mpc.NewShareStore(codes, g.manager.Devices())
	if err != nil {
		return nil, err
	}
	defer codeStore.Free()
	maskStore, err := mpc.NewShareStore(masks, g.manager.Devices())
	if err != nil {
		return nil, err
	}
	defer maskStore.Free()

	matches, err := g.circuits.CompareAndOpen(codeStore.Chunks(), maskStore.Chunks(), g.streams)
	if err != nil {
		return nil, err
	}
	log.Lvl2(g.pid, "matched", len(matches), "pairs")
	return matches, nil
}

// SyncStorage runs a sync round with the other parties and applies its
// outcome to the local store.
func (g *ProtocolInfo) SyncStorage() (*mpc.SyncResult, error) {
	result, err := g.syncer.Sync(g.store.SyncState())
	if err != nil {
		return nil, err
	}
	rolledBack, err := g.store.ApplySyncResult(result)
	if err != nil {
		return nil, err
	}
	log.Lvl2(g.pid, "sync finished:", result.Outcome(), "rolled back:", rolledBack)
	return result, nil
}

// SyncAndTerminate waits for the other parties, releases the devices and
// optionally closes the connections.
func (g *ProtocolInfo) SyncAndTerminate(closeChannelFlag bool) error {
	if err := g.mpcObj[0].Barrier(); err != nil {
		return err
	}

	device.CloseStreams(g.streams)
	g.circuits.Free()

	if closeChannelFlag {
		// Close all threads
		return g.mpcObj.GetNetworks().CloseAll()
	}
	return nil
}

// RunHarness matches a generated batch and checks the revealed bits
// against the plaintext decisions. Every party must use the same seed.
func (g *ProtocolInfo) RunHarness(seed []byte, numQueries, dbSize int) (mismatches int, err error) {
	params := g.circuits.Params()
	batch, err := GenerateBatch(seed, numQueries, dbSize, params)
	if err != nil {
		return 0, err
	}
	for range batch.DB {
		if _, err := g.store.Append(NewRequestID()); err != nil {
			return 0, err
		}
	}

	codes, masks := batch.Shares.Get(g.pid)
	matches, err := g.MatchBatch(codes, masks)
	if err != nil {
		return 0, err
	}
	found := 0
	for i, m := range matches {
		if m != batch.Expected[i] {
			mismatches++
		}
		if m {
			found++
		}
	}
	log.Lvl1(g.pid, "harness:", found, "matches out of", len(matches), "pairs,", mismatches, "mismatches")
	return mismatches, nil
}
