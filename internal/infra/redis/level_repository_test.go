package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"escape-progression-service/internal/domain"
)

type countingLoader struct {
	calls  int64
	levels map[int]domain.LevelDefinition
}

func (l *countingLoader) LoadLevel(_ context.Context, level int) (domain.LevelDefinition, error) {
	atomic.AddInt64(&l.calls, 1)
	if def, ok := l.levels[level]; ok {
		return def, nil
	}
	return domain.LevelDefinition{}, domain.ErrLevelNotFound
}

func TestLevelRepositoryServesFromCache(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{levels: map[int]domain.LevelDefinition{
		2: {Level: 2, AttemptsAllowed: 3, DurationSeconds: 300},
	}}
	repo := NewLevelRepository(newTestClient(t), loader, time.Minute)

	for i := 0; i < 5; i++ {
		def, err := repo.GetLevel(ctx, 2)
		if err != nil {
			t.Fatalf("get level: %v", err)
		}
		if def.Level != 2 || def.DurationSeconds != 300 {
			t.Fatalf("unexpected definition: %+v", def)
		}
	}
	if n := atomic.LoadInt64(&loader.calls); n != 1 {
		t.Fatalf("expected one loader call, got %d", n)
	}
}

func TestLevelRepositoryPropagatesMisses(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{levels: map[int]domain.LevelDefinition{}}
	repo := NewLevelRepository(newTestClient(t), loader, time.Minute)

	if _, err := repo.GetLevel(ctx, 9); !errors.Is(err, domain.ErrLevelNotFound) {
		t.Fatalf("expected level not found, got %v", err)
	}
	// A miss is not cached; the loader is asked again.
	if _, err := repo.GetLevel(ctx, 9); !errors.Is(err, domain.ErrLevelNotFound) {
		t.Fatalf("expected level not found, got %v", err)
	}
	if n := atomic.LoadInt64(&loader.calls); n != 2 {
		t.Fatalf("expected two loader calls, got %d", n)
	}
}
