package memory

import (
	"context"
	"sort"
	"sync"

	"escape-progression-service/internal/domain"
)

// TeamStore is an in-memory implementation of app.TeamStore.
type TeamStore struct {
	mu    sync.RWMutex
	teams map[string]domain.Team
}

func NewTeamStore() *TeamStore {
	return &TeamStore{teams: make(map[string]domain.Team)}
}

func (s *TeamStore) Get(_ context.Context, id string) (domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[id]
	if !ok {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	return team.Clone(), nil
}

func (s *TeamStore) Create(_ context.Context, team domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; ok {
		return domain.ErrTeamExists
	}
	s.teams[team.ID] = team.Clone()
	return nil
}

func (s *TeamStore) Put(_ context.Context, team domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[team.ID] = team.Clone()
	return nil
}

func (s *TeamStore) List(_ context.Context, filter domain.TeamFilter) ([]domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Team, 0, len(s.teams))
	for _, team := range s.teams {
		if filter.Matches(team) {
			out = append(out, team.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
