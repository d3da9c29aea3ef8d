package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"escape-progression-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// LevelLoader fetches level definitions from a backing store (e.g., Postgres).
type LevelLoader interface {
	LoadLevel(ctx context.Context, level int) (domain.LevelDefinition, error)
}

// LevelRepository caches level definitions with TTL to avoid repeated DB hits.
type LevelRepository struct {
	loader LevelLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[int]cachedLevel
}

type cachedLevel struct {
	def       domain.LevelDefinition
	expiresAt time.Time
}

func NewLevelRepository(loader LevelLoader, ttl time.Duration) *LevelRepository {
	return &LevelRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[int]cachedLevel),
	}
}

func (r *LevelRepository) GetLevel(ctx context.Context, level int) (domain.LevelDefinition, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[level]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.def, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(strconv.Itoa(level), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[level]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.def, nil
		}
		r.mu.RUnlock()

		def, err := r.loader.LoadLevel(ctx, level)
		if err != nil {
			return domain.LevelDefinition{}, err
		}

		r.mu.Lock()
		r.cache[level] = cachedLevel{
			def:       def,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.LevelDefinition{}, err
	}
	return result.(domain.LevelDefinition), nil
}

// StaticLevelLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticLevelLoader struct {
	levels map[int]domain.LevelDefinition
}

func NewStaticLevelLoader(levels map[int]domain.LevelDefinition) *StaticLevelLoader {
	return &StaticLevelLoader{levels: levels}
}

func (l *StaticLevelLoader) LoadLevel(_ context.Context, level int) (domain.LevelDefinition, error) {
	if def, ok := l.levels[level]; ok {
		return def, nil
	}
	return domain.LevelDefinition{}, domain.ErrLevelNotFound
}

func (r *LevelRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
