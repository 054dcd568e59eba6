package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"netpilot-hq/netpilot/pkg/ledger"
)

// MemoryStorage implements ledger.Storage with an in-memory map.
// Entries are lost on restart; use it for tests and dry runs.
type MemoryStorage struct {
	entries map[string]*ledger.Entry
	mu      sync.RWMutex
}

// NewMemoryStorage creates an empty in-memory storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		entries: make(map[string]*ledger.Entry),
	}
}

// Insert stores a new running entry.
func (s *MemoryStorage) Insert(ctx context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.ID]; exists {
		return ledger.NewStorageError("memory", "insert", fmt.Errorf("duplicate entry id %q", entry.ID))
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

// Finalize records the terminal state of a running entry.
func (s *MemoryStorage) Finalize(ctx context.Context, entry *ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	if stored.Status != ledger.StatusRunning {
		return ledger.ErrAlreadyFinalized
	}
	s.entries[entry.ID] = entry.Clone()
	return nil
}

// Get returns the entry with the given id.
func (s *MemoryStorage) Get(ctx context.Context, id string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return entry.Clone(), nil
}

// Query returns entries matching q, newest first.
func (s *MemoryStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	if q == nil {
		q = &ledger.Query{}
	}

	s.mu.RLock()
	results := []*ledger.Entry{}
	for _, entry := range s.entries {
		if matches(entry, q) {
			results = append(results, entry.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].StartedAt.Equal(results[j].StartedAt) {
			return results[i].ID > results[j].ID
		}
		return results[i].StartedAt.After(results[j].StartedAt)
	})

	start := q.Offset
	if start > len(results) {
		return []*ledger.Entry{}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(results) {
		end = len(results)
	}
	return results[start:end], nil
}

// Count returns the number of entries matching q.
func (s *MemoryStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	if q == nil {
		q = &ledger.Query{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, entry := range s.entries {
		if matches(entry, q) {
			count++
		}
	}
	return count, nil
}

// Delete removes finalized entries matching q.
func (s *MemoryStorage) Delete(ctx context.Context, q *ledger.Query) (int64, error) {
	if q == nil {
		q = &ledger.Query{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for id, entry := range s.entries {
		if entry.Status != ledger.StatusRunning && matches(entry, q) {
			delete(s.entries, id)
			count++
		}
	}
	return count, nil
}

// Close is a no-op.
func (s *MemoryStorage) Close() error {
	return nil
}

func matches(entry *ledger.Entry, q *ledger.Query) bool {
	if q.TenantID != "" && entry.TenantID != q.TenantID {
		return false
	}
	if q.Kind != "" && entry.Kind != q.Kind {
		return false
	}
	if q.Status != "" && entry.Status != q.Status {
		return false
	}
	if q.Subject != "" && entry.Subject != q.Subject {
		return false
	}
	if q.StartTime != nil && entry.StartedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && entry.StartedAt.After(*q.EndTime) {
		return false
	}
	return true
}
