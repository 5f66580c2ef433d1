package mpc

import (
	"encoding/binary"

	"github.com/aead/chacha20/chacha"
	"github.com/hhcho/frand"
	"github.com/hhcho/irismpc/crypto"
	mpc_core "github.com/hhcho/mpc-core"
	"go.dedis.ch/onet/v3/log"
)

// Random keeps one PRG per party pair. The entry of the own pid is a
// private PRG and GlobalPRG is shared by everyone.
type Random struct {
	pid      PartyID
	prgTable map[int]*frand.RNG
	curPRG   *frand.RNG
}

const (
	bufferSize int = 1024
	GlobalPRG  int = -1
)

// labelPairwise domain-separates seeds expanded from exchanged PrfKeys.
const labelPairwise byte = 1

// InitializePRG loads the pairwise seeds from sharedKeysPath. With an
// empty path the seeds are deterministic and insecure.
func InitializePRG(pid PartyID, sharedKeysPath string) (*Random, error) {
	prgTable := make(map[int]*frand.RNG)

	if sharedKeysPath == "" {
		log.Warn("shared_keys_path not set in config. Falling back on deterministic keys (not secure).")
	}

	// Globally shared PRG
	seed := make([]byte, chacha.KeySize)
	if sharedKeysPath != "" {
		key, err := crypto.LoadKey(crypto.GlobalKeyPath(sharedKeysPath))
		if err != nil {
			return nil, err
		}
		copy(seed, key)
	}
	prgTable[GlobalPRG] = frand.NewCustom(seed, bufferSize, 20)

	// Pairwise-shared PRG
	for _, other := range []PartyID{pid.Next(), pid.Prev()} {
		if sharedKeysPath == "" {
			seed = make([]byte, chacha.KeySize)
			a, b := sortPair(pid, other)
			seed[0] = byte(a)
			seed[1] = byte(b)
		} else {
			key, err := crypto.LoadKey(crypto.SharedKeyPath(sharedKeysPath, int(pid), int(other)))
			if err != nil {
				return nil, err
			}
			seed = key
		}
		prgTable[int(other)] = frand.NewCustom(seed, bufferSize, 20)
	}

	// Local PRG
	local := make([]byte, chacha.KeySize)
	frand.Read(local)
	prgTable[int(pid)] = frand.NewCustom(local, bufferSize, 20)

	return &Random{
		pid:      pid,
		prgTable: prgTable,
		curPRG:   prgTable[int(pid)],
	}, nil
}

func sortPair(a, b PartyID) (PartyID, PartyID) {
	if a < b {
		return a, b
	}
	return b, a
}

// InitializeParallelPRG gives every device network its own table derived
// from the master table, so that devices draw independent streams.
func InitializeParallelPRG(sharedKeysPath string, networks []*Network, pid PartyID) error {
	randMaster, err := InitializePRG(pid, sharedKeysPath)
	if err != nil {
		return err
	}
	for i := range networks {
		networks[i].Rand = randMaster.derive()
	}
	return nil
}

func (rand *Random) derive() *Random {
	out := &Random{pid: rand.pid, prgTable: make(map[int]*frand.RNG)}
	for j := range rand.prgTable {
		seed := make([]byte, chacha.KeySize)
		rand.SwitchPRG(j)
		rand.RandRead(seed)
		rand.RestorePRG()
		out.prgTable[j] = frand.NewCustom(seed, bufferSize, 20)
	}
	out.curPRG = out.prgTable[int(rand.pid)]
	return out
}

// SetPairwiseKeys reseeds the PRGs shared with the next and previous
// party from freshly exchanged keys.
func (rand *Random) SetPairwiseKeys(nextKey, prevKey PrfKey) {
	rand.prgTable[int(rand.pid.Next())] = frand.NewCustom(crypto.ExpandSeed(nextKey, labelPairwise), bufferSize, 20)
	rand.prgTable[int(rand.pid.Prev())] = frand.NewCustom(crypto.ExpandSeed(prevKey, labelPairwise), bufferSize, 20)
}

func (rand *Random) SwitchPRG(otherPid int) {
	rand.curPRG = rand.prgTable[otherPid]
}

func (rand *Random) RestorePRG() {
	rand.curPRG = rand.prgTable[int(rand.pid)]
}

func (rand *Random) CurPRG() *frand.RNG {
	return rand.curPRG
}

func (rand *Random) RandRead(buf []byte) {
	rand.curPRG.Read(buf)
}

func (rand *Random) RandElem(rtype mpc_core.RElem) mpc_core.RElem {
	return rtype.Rand(rand.curPRG)
}

// randWords draws n words from the PRG shared with other.
func (rand *Random) randWords(other PartyID, n int) []uint64 {
	buf := make([]byte, 8*n)
	rand.prgTable[int(other)].Read(buf)
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[8*i:])
	}
	return out
}

// ZeroShareXor returns this party's component of a fresh XOR sharing of
// zero: the three parties' outputs XOR to 0 word by word. All parties
// must call it the same number of times with the same n.
func (rand *Random) ZeroShareXor(n int) []uint64 {
	out := rand.randWords(rand.pid.Next(), n)
	prev := rand.randWords(rand.pid.Prev(), n)
	for i := range out {
		out[i] ^= prev[i]
	}
	return out
}
