package iris

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hhcho/irismpc/mpc"
	"go.dedis.ch/onet/v3/log"
)

// Record is one committed database entry.
type Record struct {
	RequestID string
}

// Store is the in-memory database of one party. It reports its state to
// sync rounds and applies their outcome.
type Store struct {
	mu      sync.Mutex
	records []Record
	// most recent deletions, oldest first, at most mpc.MaxRequests
	deleted []string
}

func NewStore() *Store {
	return &Store{}
}

func NewRequestID() string {
	return uuid.NewString()
}

// Append commits a record and returns its index.
func (s *Store) Append(requestID string) (uint64, error) {
	if len(requestID) > mpc.MaxRequestIDLen {
		return 0, fmt.Errorf("iris: request id %q longer than %d bytes", requestID, mpc.MaxRequestIDLen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{RequestID: requestID})
	return uint64(len(s.records) - 1), nil
}

func (s *Store) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.records))
}

// MarkDeleted remembers a deletion request for the next sync round.
func (s *Store) MarkDeleted(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.deleted {
		if id == requestID {
			return
		}
	}
	s.deleted = append(s.deleted, requestID)
	if len(s.deleted) > mpc.MaxRequests {
		s.deleted = s.deleted[len(s.deleted)-mpc.MaxRequests:]
	}
}

func (s *Store) SyncState() mpc.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.deleted))
	copy(ids, s.deleted)
	return mpc.SyncState{DbLen: uint64(len(s.records)), DeletedRequestIDs: ids}
}

// RollbackTo truncates the database to n records.
func (s *Store) RollbackTo(n uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > uint64(len(s.records)) {
		return fmt.Errorf("iris: cannot roll back %d records to %d", len(s.records), n)
	}
	log.Lvl1("Rolling back database from", len(s.records), "to", n, "records")
	s.records = s.records[:n]
	return nil
}

// ApplySyncResult rolls back when the round requires it and adopts the
// deletions reported by any party.
func (s *Store) ApplySyncResult(result *mpc.SyncResult) (rolledBack bool, err error) {
	if target, ok := result.MustRollbackStorage(); ok {
		if err := s.RollbackTo(target); err != nil {
			return false, err
		}
		rolledBack = true
	}
	for _, id := range result.DeletedRequestIDs() {
		s.MarkDeleted(id)
	}
	return rolledBack, nil
}
