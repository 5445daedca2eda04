package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ProgressStore keeps progress documents as JSONB rows keyed by (user_id, key).
type ProgressStore struct {
	pool *pgxpool.Pool
}

func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

func (s *ProgressStore) Get(ctx context.Context, userID, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM progress_kv WHERE user_id=$1 AND key=$2`, userID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load progress %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *ProgressStore) Set(ctx context.Context, userID, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO progress_kv (user_id, key, value, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (user_id, key) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at`,
		userID, key, string(value))
	if err != nil {
		return fmt.Errorf("store progress %s: %w", key, err)
	}
	return nil
}

func (s *ProgressStore) Delete(ctx context.Context, userID, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM progress_kv WHERE user_id=$1 AND key=$2`, userID, key); err != nil {
		return fmt.Errorf("delete progress %s: %w", key, err)
	}
	return nil
}

// Clear removes every document of the user in one statement.
func (s *ProgressStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM progress_kv WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}
