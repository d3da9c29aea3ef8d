package memory

import (
	"context"
	"sort"
	"sync"
)

// QualifiedStore is an in-memory implementation of app.QualifiedStore.
// Sets are created lazily on first write.
type QualifiedStore struct {
	mu     sync.RWMutex
	levels map[int]map[string]struct{}
}

func NewQualifiedStore() *QualifiedStore {
	return &QualifiedStore{levels: make(map[int]map[string]struct{})}
}

func (s *QualifiedStore) Members(_ context.Context, level int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.levels[level]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *QualifiedStore) Add(_ context.Context, level int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.levels[level]
	if !ok {
		set = make(map[string]struct{})
		s.levels[level] = set
	}
	set[id] = struct{}{}
	return nil
}

func (s *QualifiedStore) Replace(_ context.Context, level int, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	s.levels[level] = set
	return nil
}
