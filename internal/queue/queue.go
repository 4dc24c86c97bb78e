package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. All transitions happen under one
// mutex, which makes Enqueue, Claim and Complete linearizable.
type MemoryStore struct {
	mu     sync.Mutex
	tasks  map[string]*MigrationTask
	order  []string          // insertion order for FIFO claims
	active map[string]string // file key -> active task id
	now    func() time.Time
}

// NewMemoryStore creates an empty task store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:  make(map[string]*MigrationTask),
		active: make(map[string]string),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the timestamp source
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Enqueue(ctx context.Context, t *MigrationTask) (*MigrationTask, error) {
	if t.Key == "" {
		return nil, fmt.Errorf("queue: file key is required")
	}
	if t.Status == "" {
		t.Status = StatusQueued
	}
	if t.Status != StatusQueued {
		return nil, fmt.Errorf("%w: enqueue with status %s", ErrInvalidTransition, t.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[t.Key]; ok {
		return nil, &ActiveTaskError{Existing: s.tasks[id].Clone()}
	}
	stored := t.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := s.tasks[stored.ID]; exists {
		return nil, fmt.Errorf("queue: task %s already exists", stored.ID)
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.tasks[stored.ID] = stored
	s.order = append(s.order, stored.ID)
	s.active[stored.Key] = stored.ID
	return stored.Clone(), nil
}

// Claim moves the oldest queued task to in_progress
func (s *MemoryStore) Claim(ctx context.Context) (*MigrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != StatusQueued {
			continue
		}
		now := s.now()
		t.Status = StatusInProgress
		t.StartedAt = &now
		return t.Clone(), nil
	}
	return nil, ErrNoTask
}

func (s *MemoryStore) Complete(ctx context.Context, id string, res Result) (*MigrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !CanTransition(t.Status, res.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, res.Status)
	}

	now := s.now()
	t.Status = res.Status
	t.Reason = res.Reason
	t.Attempts = res.Attempts
	t.LastError = res.LastError
	t.CompletedAt = &now
	delete(s.active, t.Key)
	s.compactLocked()
	return t.Clone(), nil
}

// compactLocked drops terminal ids from the claim order
func (s *MemoryStore) compactLocked() {
	kept := s.order[:0]
	for _, id := range s.order {
		if s.tasks[id].Status == StatusQueued {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*MigrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Active returns the queued or in-progress task for key, or ErrNotFound
func (s *MemoryStore) Active(ctx context.Context, key string) (*MigrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[key]
	if !ok {
		return nil, fmt.Errorf("active task for %s: %w", key, ErrNotFound)
	}
	return s.tasks[id].Clone(), nil
}

// List returns matching tasks, newest first
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*MigrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*MigrationTask, 0)
	for _, t := range s.tasks {
		if f.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	for _, t := range s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) RecoverInterrupted(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	now := s.now()
	for _, t := range s.tasks {
		if t.Status != StatusInProgress {
			continue
		}
		t.Status = StatusFailed
		t.Reason = ReasonInterrupted
		t.CompletedAt = &now
		delete(s.active, t.Key)
		n++
	}
	return n, nil
}
