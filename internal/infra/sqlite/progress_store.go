package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ProgressStore keeps progress documents in a local SQLite file, the server-side
// counterpart of the browser's local storage.
type ProgressStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*ProgressStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &ProgressStore{db: db, now: time.Now}, nil
}

func (s *ProgressStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *ProgressStore) Get(ctx context.Context, userID, key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM progress_kv WHERE user_id = ? AND key = ?`, userID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get progress %s: %w", key, err)
	}
	return raw, true, nil
}

func (s *ProgressStore) Set(ctx context.Context, userID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_kv (user_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put progress %s: %w", key, err)
	}
	return nil
}

func (s *ProgressStore) Delete(ctx context.Context, userID, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM progress_kv WHERE user_id = ? AND key = ?`, userID, key); err != nil {
		return fmt.Errorf("delete progress %s: %w", key, err)
	}
	return nil
}

// Clear removes every document of the user in one statement.
func (s *ProgressStore) Clear(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM progress_kv WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// Users lists the users with stored progress.
func (s *ProgressStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM progress_kv ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
