package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implements in-memory storage for testing and development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates a new in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
	}
}

// Save stores or replaces a record.
func (m *Memory) Save(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if record.IssuedAt.IsZero() {
		record.IssuedAt = time.Now()
	}
	m.records[record.ID] = copyRecord(record)
	return nil
}

// Get retrieves a record by ID.
func (m *Memory) Get(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(record), nil
}

// ListByKey returns all records issued under a key, newest first.
func (m *Memory) ListByKey(_ context.Context, keyID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*Record
	for _, record := range m.records {
		if record.KeyID == keyID {
			results = append(results, copyRecord(record))
		}
	}
	sortNewestFirst(results)
	return results, nil
}

// CountActiveByKey counts unexpired records issued under a key.
func (m *Memory) CountActiveByKey(_ context.Context, keyID string, at time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, record := range m.records {
		if record.KeyID == keyID && record.ExpiresAt.After(at) {
			count++
		}
	}
	return count, nil
}

// DeleteExpired removes records whose expiry is not after at.
func (m *Memory) DeleteExpired(_ context.Context, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, record := range m.records {
		if !record.ExpiresAt.After(at) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// List returns records, newest first, with pagination.
func (m *Memory) List(_ context.Context, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*Record, 0, len(m.records))
	for _, record := range m.records {
		all = append(all, record)
	}
	sortNewestFirst(all)

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	results := make([]*Record, 0, end-offset)
	for i := offset; i < end; i++ {
		results = append(results, copyRecord(all[i]))
	}
	return results, nil
}

// Close is a no-op for in-memory storage.
func (m *Memory) Close() error {
	return nil
}

func sortNewestFirst(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].IssuedAt.Equal(records[j].IssuedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].IssuedAt.After(records[j].IssuedAt)
	})
}

func copyRecord(r *Record) *Record {
	c := *r
	return &c
}
