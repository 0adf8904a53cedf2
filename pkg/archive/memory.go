package archive

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

var _ Repository = (*MemoryStore)(nil)

// MemoryStore keeps records in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	nowFunc func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), nowFunc: time.Now}
}

// SetNowFunc overrides the clock used for timestamps (for testing).
func (s *MemoryStore) SetNowFunc(fn func() time.Time) { s.nowFunc = fn }

func (s *MemoryStore) Save(_ context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("archive: record id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.records[r.ID] = clone(r)

	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(r), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, clone(r))
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

