package activitylog

import (
	"context"
	"sync"
	"time"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store]. Used when
// no database is configured and in tests. The zero value is ready to use.
type MemStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []Entry
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Record implements [Store.Record].
func (s *MemStore) Record(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	e.ID = s.nextID
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	s.entries = append(s.entries, *e)
	return nil
}

// RecentByTenant implements [Store.RecentByTenant].
func (s *MemStore) RecentByTenant(_ context.Context, tenantID string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].TenantID == tenantID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

// Len returns the total number of recorded entries.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
