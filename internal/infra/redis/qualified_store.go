package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// QualifiedStore keeps each level's qualification ledger as a native Redis
// set, implementing app.QualifiedStore.
type QualifiedStore struct {
	client *redis.Client
}

func NewQualifiedStore(client *redis.Client) *QualifiedStore {
	return &QualifiedStore{client: client}
}

func (s *QualifiedStore) Members(ctx context.Context, level int) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.key(level)).Result()
	if err != nil {
		return nil, fmt.Errorf("qualified members: %w", err)
	}
	return members, nil
}

func (s *QualifiedStore) Add(ctx context.Context, level int, id string) error {
	if err := s.client.SAdd(ctx, s.key(level), id).Err(); err != nil {
		return fmt.Errorf("qualified add: %w", err)
	}
	return nil
}

func (s *QualifiedStore) Replace(ctx context.Context, level int, ids []string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(level))
	if len(ids) > 0 {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
		}
		pipe.SAdd(ctx, s.key(level), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("qualified replace: %w", err)
	}
	return nil
}

func (s *QualifiedStore) key(level int) string {
	return fmt.Sprintf("qualified:level:%d", level)
}
