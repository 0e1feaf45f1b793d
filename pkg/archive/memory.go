package archive

import (
	"context"
	"slices"
	"sync"
)

// DefaultRetain is the number of records a [Memory] store keeps when no
// limit is given.
const DefaultRetain = 100

// Memory is a bounded in-process [Store]. When full, saving a new record
// evicts the one that ended first.
type Memory struct {
	mu      sync.Mutex
	retain  int
	records map[string]Record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store holding at most retain records.
// retain <= 0 uses [DefaultRetain].
func NewMemory(retain int) *Memory {
	if retain <= 0 {
		retain = DefaultRetain
	}
	return &Memory{retain: retain, records: make(map[string]Record)}
}

// Save implements [Store].
func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	for len(m.records) > m.retain {
		var oldest *Record
		for id := range m.records {
			r := m.records[id]
			if oldest == nil || r.EndedAt.Before(oldest.EndedAt) {
				oldest = &r
			}
		}
		delete(m.records, oldest.ID)
	}
	return nil
}

// Get implements [Store].
func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// List implements [Store].
func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.Unlock()

	slices.SortFunc(out, func(a, b Record) int {
		return b.EndedAt.Compare(a.EndedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. The in-process store is always reachable.
func (m *Memory) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
