package redemption

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore keeps attendance records in memory. Used for tests and
// single-station deployments without a database.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[[2]string]struct{} // (credential_id, holder) uniqueness
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{index: make(map[[2]string]struct{})}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]string{record.CredentialID, record.Holder}
	if _, exists := s.index[key]; exists {
		return Record{}, ErrDuplicate
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = RecordStatusPresent
	}
	s.index[key] = struct{}{}
	s.records = append(s.records, record)
	return record, nil
}

func (s *InMemoryStore) ListByCredential(_ context.Context, credentialID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.CredentialID == credentialID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
