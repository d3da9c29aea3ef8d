package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"escape-progression-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// LevelLoader loads level-definition JSONB from Postgres.
type LevelLoader struct {
	pool *pgxpool.Pool
}

func NewLevelLoader(pool *pgxpool.Pool) *LevelLoader {
	return &LevelLoader{pool: pool}
}

func (l *LevelLoader) LoadLevel(ctx context.Context, level int) (domain.LevelDefinition, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM level_definitions WHERE level=$1`, level).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LevelDefinition{}, domain.ErrLevelNotFound
	}
	if err != nil {
		return domain.LevelDefinition{}, fmt.Errorf("load level: %w", err)
	}
	var def domain.LevelDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.LevelDefinition{}, fmt.Errorf("unmarshal level: %w", err)
	}
	if def.Level == 0 {
		def.Level = level
	}
	return def, nil
}
