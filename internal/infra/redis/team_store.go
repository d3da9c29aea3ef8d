package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"escape-progression-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// TeamStore keeps each team record as a JSON value plus a member index set,
// implementing app.TeamStore. Records are written whole, so a single
// operation commits all-or-nothing.
type TeamStore struct {
	client *redis.Client
}

func NewTeamStore(client *redis.Client) *TeamStore {
	return &TeamStore{client: client}
}

func (s *TeamStore) Get(ctx context.Context, id string) (domain.Team, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Team{}, domain.ErrTeamNotFound
	}
	if err != nil {
		return domain.Team{}, fmt.Errorf("get team: %w", err)
	}
	var team domain.Team
	if err := json.Unmarshal(raw, &team); err != nil {
		return domain.Team{}, fmt.Errorf("unmarshal team: %w", err)
	}
	return team, nil
}

func (s *TeamStore) Create(ctx context.Context, team domain.Team) error {
	raw, err := json.Marshal(team)
	if err != nil {
		return fmt.Errorf("marshal team: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(team.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create team: %w", err)
	}
	if !ok {
		return domain.ErrTeamExists
	}
	return s.client.SAdd(ctx, s.indexKey(), team.ID).Err()
}

func (s *TeamStore) Put(ctx context.Context, team domain.Team) error {
	raw, err := json.Marshal(team)
	if err != nil {
		return fmt.Errorf("marshal team: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(team.ID), raw, 0)
	pipe.SAdd(ctx, s.indexKey(), team.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("put team: %w", err)
	}
	return nil
}

func (s *TeamStore) List(ctx context.Context, filter domain.TeamFilter) ([]domain.Team, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	out := make([]domain.Team, 0, len(ids))
	for _, id := range ids {
		team, err := s.Get(ctx, id)
		if errors.Is(err, domain.ErrTeamNotFound) {
			continue // index may lag a deleted record
		}
		if err != nil {
			return nil, err
		}
		if filter.Matches(team) {
			out = append(out, team)
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

func (s *TeamStore) key(id string) string {
	return "team:" + id
}

func (s *TeamStore) indexKey() string {
	return "teams:index"
}
