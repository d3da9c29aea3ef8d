package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"escape-progression-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// LevelLoader fetches level definitions from a backing store (e.g., Postgres).
type LevelLoader interface {
	LoadLevel(ctx context.Context, level int) (domain.LevelDefinition, error)
}

// LevelRepository caches level definitions as JSON values in Redis and falls
// back to a loader on cache miss.
// Definitions are stored as: SET level:{n}:definition {json} EX ttl
type LevelRepository struct {
	client *redis.Client
	loader LevelLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewLevelRepository(client *redis.Client, loader LevelLoader, ttl time.Duration) *LevelRepository {
	return &LevelRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *LevelRepository) GetLevel(ctx context.Context, level int) (domain.LevelDefinition, error) {
	key := r.key(level)

	if def, ok := r.cached(ctx, key); ok {
		return def, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if def, ok := r.cached(ctx, key); ok {
			return def, nil
		}

		def, err := r.loader.LoadLevel(ctx, level)
		if err != nil {
			return domain.LevelDefinition{}, err
		}

		raw, err := json.Marshal(def)
		if err != nil {
			return domain.LevelDefinition{}, fmt.Errorf("marshal level: %w", err)
		}
		// best-effort cache fill
		_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		return def, nil
	})
	if err != nil {
		return domain.LevelDefinition{}, err
	}
	return result.(domain.LevelDefinition), nil
}

func (r *LevelRepository) cached(ctx context.Context, key string) (domain.LevelDefinition, bool) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) || err != nil {
		return domain.LevelDefinition{}, false
	}
	var def domain.LevelDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.LevelDefinition{}, false
	}
	return def, true
}

func (r *LevelRepository) key(level int) string {
	return "level:" + strconv.Itoa(level) + ":definition"
}

func (r *LevelRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
