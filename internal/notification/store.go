package notification

import (
	"context"
	"sync"
)

// EscalationStore durably records notifications that meet the escalation
// threshold so they survive dashboard restarts. Writes are best-effort; the
// router never blocks feed insertion on them.
type EscalationStore interface {
	Save(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
}

// InMemoryEscalationStore keeps escalated records in memory. Used for tests
// and deployments without Redis.
type InMemoryEscalationStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryEscalationStore() *InMemoryEscalationStore {
	return &InMemoryEscalationStore{}
}

func (s *InMemoryEscalationStore) Save(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryEscalationStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}
