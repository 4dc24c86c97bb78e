package files

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*FileRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*FileRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return rec.Clone(), nil
}

// List returns every record ordered by key
func (s *MemoryStore) List(ctx context.Context) ([]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*FileRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *FileRecord) error {
	if rec.Key == "" {
		return fmt.Errorf("file key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.Key]; ok {
		s.records[rec.Key] = Reregister(existing, rec)
		return nil
	}
	s.records[rec.Key] = rec.Clone()
	return nil
}

func (s *MemoryStore) UpdateHeat(ctx context.Context, key string, heat, pHot float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	rec.Heat = heat
	rec.PHot = pHot
	return nil
}

func (s *MemoryStore) CommitPlacement(ctx context.Context, c Commit) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[c.Key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", c.Key, ErrNotFound)
	}
	next, err := ApplyCommit(rec, c)
	if err != nil {
		return nil, fmt.Errorf("commit %s slot %d: %w", c.Key, c.Slot, err)
	}
	s.records[c.Key] = next
	return next.Clone(), nil
}
