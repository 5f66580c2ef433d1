package mpc

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"go.dedis.ch/onet/v3/log"
)

// Change these together: every party must agree on SyncStateSize.
const (
	MaxRequests     = 512
	MaxRequestIDLen = 36 // uuid v4 string
	SyncStateSize   = MaxRequests*(8+MaxRequestIDLen) + 2*8
)

// SyncState is what a party reports at a sync round.
type SyncState struct {
	DbLen             uint64
	DeletedRequestIDs []string
}

// MarshalBinary encodes the state into exactly SyncStateSize bytes:
// db_len and the id count as little-endian u64, then MaxRequests slots of
// a u64 length and MaxRequestIDLen bytes, zero padded.
func (s SyncState) MarshalBinary() ([]byte, error) {
	if len(s.DeletedRequestIDs) > MaxRequests {
		return nil, fmt.Errorf("%w: %d deleted ids, at most %d", ErrStateTooLarge, len(s.DeletedRequestIDs), MaxRequests)
	}
	buf := make([]byte, SyncStateSize)
	binary.LittleEndian.PutUint64(buf[0:], s.DbLen)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(s.DeletedRequestIDs)))
	for i, id := range s.DeletedRequestIDs {
		if len(id) > MaxRequestIDLen {
			return nil, fmt.Errorf("%w: id %q longer than %d bytes", ErrStateTooLarge, id, MaxRequestIDLen)
		}
		off := slotOffset(i)
		binary.LittleEndian.PutUint64(buf[off:], uint64(len(id)))
		copy(buf[off+8:], id)
	}
	return buf, nil
}

func slotOffset(i int) int {
	return 16 + i*(8+MaxRequestIDLen)
}

func (s *SyncState) UnmarshalBinary(buf []byte) error {
	if len(buf) != SyncStateSize {
		return decodeErrorf("SyncState", len(buf), "record is %d bytes, want %d", len(buf), SyncStateSize)
	}
	count := binary.LittleEndian.Uint64(buf[8:])
	if count > MaxRequests {
		return decodeErrorf("SyncState", 8, "%d deleted ids, at most %d", count, MaxRequests)
	}

	var ids []string
	for i := 0; i < MaxRequests; i++ {
		off := slotOffset(i)
		n := binary.LittleEndian.Uint64(buf[off:])
		slot := buf[off+8 : off+8+MaxRequestIDLen]
		if uint64(i) >= count {
			if n != 0 || !allZero(slot) {
				return decodeErrorf("SyncState", off, "unused slot %d is not zero", i)
			}
			continue
		}
		if n > MaxRequestIDLen {
			return decodeErrorf("SyncState", off, "id length %d exceeds %d", n, MaxRequestIDLen)
		}
		if !allZero(slot[n:]) {
			return decodeErrorf("SyncState", off+8+int(n), "id padding is not zero")
		}
		ids = append(ids, string(slot[:n]))
	}

	s.DbLen = binary.LittleEndian.Uint64(buf[0:])
	s.DeletedRequestIDs = ids
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// UnmarshalSyncStates splits a concatenation of records.
func UnmarshalSyncStates(buf []byte) ([]SyncState, error) {
	if len(buf)%SyncStateSize != 0 {
		return nil, decodeErrorf("SyncState", len(buf), "%d bytes is not a multiple of %d", len(buf), SyncStateSize)
	}
	states := make([]SyncState, len(buf)/SyncStateSize)
	for i := range states {
		if err := states[i].UnmarshalBinary(buf[i*SyncStateSize : (i+1)*SyncStateSize]); err != nil {
			return nil, err
		}
	}
	return states, nil
}

// SyncResult is the outcome of one round: AllStates is indexed by party.
type SyncResult struct {
	Pid       PartyID
	MyState   SyncState
	AllStates []SyncState
}

// MustRollbackStorage returns the database length to roll back to when
// any party disagrees with ours: the shortest length reported.
func (r *SyncResult) MustRollbackStorage() (uint64, bool) {
	consistent := true
	minLen := r.MyState.DbLen
	for _, s := range r.AllStates {
		if s.DbLen != r.MyState.DbLen {
			consistent = false
		}
		if s.DbLen < minLen {
			minLen = s.DbLen
		}
	}
	if consistent {
		return 0, false
	}
	return minLen, true
}

// PeerStates returns the states of the other parties in party order.
func (r *SyncResult) PeerStates() []SyncState {
	out := make([]SyncState, 0, len(r.AllStates))
	for p, s := range r.AllStates {
		if PartyID(p) != r.Pid {
			out = append(out, s)
		}
	}
	return out
}

// DeletedRequestIDs is the sorted union of the deleted ids of all parties.
func (r *SyncResult) DeletedRequestIDs() []string {
	seen := make(map[string]struct{})
	for _, s := range r.AllStates {
		for _, id := range s.DeletedRequestIDs {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// DivergentDeletedRequestIDs lists the ids that some party has not
// deleted. They are reported for audit only.
func (r *SyncResult) DivergentDeletedRequestIDs() []string {
	counts := make(map[string]int)
	for _, s := range r.AllStates {
		uniq := make(map[string]struct{})
		for _, id := range s.DeletedRequestIDs {
			uniq[id] = struct{}{}
		}
		for id := range uniq {
			counts[id]++
		}
	}
	diverging := make(map[string]struct{})
	for id, n := range counts {
		if n != len(r.AllStates) {
			diverging[id] = struct{}{}
		}
	}
	return sortedKeys(diverging)
}

func (r *SyncResult) Outcome() SyncPhase {
	if _, rollback := r.MustRollbackStorage(); rollback {
		return PhaseRollbackRequired
	}
	return PhaseConsistent
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type SyncPhase int

const (
	PhaseIdle SyncPhase = iota
	PhaseBroadcasting
	PhaseAwaitingPeers
	PhaseConsistent
	PhaseRollbackRequired
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseBroadcasting:
		return "Broadcasting"
	case PhaseAwaitingPeers:
		return "AwaitingPeers"
	case PhaseConsistent:
		return "Consistent"
	case PhaseRollbackRequired:
		return "RollbackRequired"
	}
	return fmt.Sprintf("SyncPhase(%d)", int(p))
}

// Synchronizer runs sync rounds over one device network. A round is a
// barrier: it returns only once both other parties contributed.
type Synchronizer struct {
	netObj *Network

	mu    sync.Mutex
	phase SyncPhase
}

func NewSynchronizer(netObj *Network) *Synchronizer {
	return &Synchronizer{netObj: netObj}
}

// Phase is the state of the current or last round. A terminal phase stays
// visible until the next round starts.
func (s *Synchronizer) Phase() SyncPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Synchronizer) setPhase(p SyncPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Sync exchanges state with both other parties and returns all states.
// Divergence is reported through the result, never resolved here.
func (s *Synchronizer) Sync(state SyncState) (*SyncResult, error) {
	s.mu.Lock()
	if s.phase == PhaseBroadcasting || s.phase == PhaseAwaitingPeers {
		s.mu.Unlock()
		return nil, configErrorf("sync", "round already in progress")
	}
	s.phase = PhaseBroadcasting
	s.mu.Unlock()

	result, err := s.allGather(state)
	if err != nil {
		s.setPhase(PhaseIdle)
		return nil, err
	}

	outcome := result.Outcome()
	s.setPhase(outcome)
	if target, rollback := result.MustRollbackStorage(); rollback {
		log.Lvl1("Sync: database lengths diverge, rollback to", target, "required")
	}
	if ids := result.DivergentDeletedRequestIDs(); len(ids) > 0 {
		log.Lvl1("Sync:", len(ids), "deleted request ids are not shared by all parties")
	}
	return result, nil
}

func (s *Synchronizer) allGather(state SyncState) (*SyncResult, error) {
	own, err := state.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pid := s.netObj.pid

	all := make([]byte, NumParties*SyncStateSize)
	copy(all[int(pid)*SyncStateSize:], own)

	g := GroupStart()
	for other := PartyID(0); other < NumParties; other++ {
		if other == pid {
			continue
		}
		g.Send(s.netObj, own, other)
		g.Receive(s.netObj, all[int(other)*SyncStateSize:(int(other)+1)*SyncStateSize], other)
	}
	s.setPhase(PhaseAwaitingPeers)
	if err := g.End(); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	states, err := UnmarshalSyncStates(all)
	if err != nil {
		return nil, err
	}
	return &SyncResult{Pid: pid, MyState: states[pid], AllStates: states}, nil
}
