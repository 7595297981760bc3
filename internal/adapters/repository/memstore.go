package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/argos/internal/domain/model"
	"github.com/okian/argos/internal/domain/passes"
	"github.com/okian/argos/pkg/metrics"
)

// MemoryStore keeps the latest evaluation of each platform in a map.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]model.Evaluation
	closed bool
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]model.Evaluation)}
}

// Save implements Store.Save.
func (s *MemoryStore) Save(_ context.Context, eval model.Evaluation) error {
	defer observe("save", time.Now())

	eval.Results = append([]passes.Result(nil), eval.Results...)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.latest[eval.PlatformID] = eval
	n := len(s.latest)
	s.mu.Unlock()

	metrics.UpdateStoreRecords(n)
	return nil
}

// Latest implements Store.Latest.
func (s *MemoryStore) Latest(_ context.Context, platformID string) (model.Evaluation, error) {
	defer observe("latest", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return model.Evaluation{}, ErrClosed
	}
	eval, ok := s.latest[platformID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.Evaluation{}, ErrNotFound
	}
	return eval, nil
}

// Pass implements Store.Pass.
func (s *MemoryStore) Pass(ctx context.Context, platformID string, n int) (passes.Result, error) {
	eval, err := s.Latest(ctx, platformID)
	if err != nil {
		return passes.Result{}, err
	}
	return passOf(eval, n)
}

// Platforms implements Store.Platforms.
func (s *MemoryStore) Platforms(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.latest))
	for id := range s.latest {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Count implements Store.Count.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest)
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
