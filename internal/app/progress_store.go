package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"quiz-offline-service/internal/domain"
)

// Keys of the persisted progress layout, shared with the browser client.
const (
	KeyAnswers   = "quizAnswers"
	KeyOverrides = "manualMasteryOverrides"
	KeyHistory   = "quizAttemptHistory"
)

// ProgressStore is a key-value store partitioned by user (memory, Redis, Postgres,
// SQLite). Values are raw JSON documents.
type ProgressStore interface {
	Get(ctx context.Context, userID, key string) ([]byte, bool, error)
	Set(ctx context.Context, userID, key string, value []byte) error
	Delete(ctx context.Context, userID, key string) error
	// Clear removes every key of the user in one operation.
	Clear(ctx context.Context, userID string) error
}

// QuestionSource loads a single question by id.
type QuestionSource interface {
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// SessionRepository keeps the live sessions of connected users.
type SessionRepository interface {
	GetOrCreate(userID string) *Session
	Get(userID string) (*Session, bool)
	DeleteIfIdle(userID string)
}

// progressDocs reads and writes the JSON documents of one user.
type progressDocs struct {
	store  ProgressStore
	logger *zap.Logger
}

// read decodes key into dst and reports whether it did. A missing key and a corrupt
// document both report false; the latter is logged.
func (d progressDocs) read(ctx context.Context, userID, key string, dst any) (bool, error) {
	raw, ok, err := d.store.Get(ctx, userID, key)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		d.logger.Warn("corrupt progress document, treating as empty",
			zap.String("user", userID),
			zap.String("key", key),
			zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (d progressDocs) write(ctx context.Context, userID, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := d.store.Set(ctx, userID, key, raw); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (d progressDocs) latest(ctx context.Context, userID string) (map[string]domain.AttemptRecord, error) {
	var out map[string]domain.AttemptRecord
	ok, err := d.read(ctx, userID, KeyAnswers, &out)
	if err != nil {
		return nil, err
	}
	if !ok || out == nil {
		out = make(map[string]domain.AttemptRecord)
	}
	return out, nil
}

func (d progressDocs) history(ctx context.Context, userID string) (map[string][]domain.AttemptRecord, error) {
	var out map[string][]domain.AttemptRecord
	ok, err := d.read(ctx, userID, KeyHistory, &out)
	if err != nil {
		return nil, err
	}
	if !ok || out == nil {
		out = make(map[string][]domain.AttemptRecord)
	}
	return out, nil
}

func (d progressDocs) overrides(ctx context.Context, userID string) (map[string]bool, error) {
	var out map[string]bool
	ok, err := d.read(ctx, userID, KeyOverrides, &out)
	if err != nil {
		return nil, err
	}
	if !ok || out == nil {
		out = make(map[string]bool)
	}
	return out, nil
}

// ledger assembles the full progress of a user. Latest records written without a
// matching history entry (older clients only kept quizAnswers) are folded into the
// history so they count once.
func (d progressDocs) ledger(ctx context.Context, userID string) (Ledger, error) {
	latest, err := d.latest(ctx, userID)
	if err != nil {
		return Ledger{}, err
	}
	history, err := d.history(ctx, userID)
	if err != nil {
		return Ledger{}, err
	}
	overrides, err := d.overrides(ctx, userID)
	if err != nil {
		return Ledger{}, err
	}

	for id, records := range history {
		for i := range records {
			if records[i].QuestionID == "" {
				records[i].QuestionID = id
			}
		}
	}
	for id, rec := range latest {
		if rec.QuestionID == "" {
			rec.QuestionID = id
		}
		if !containsRecord(history[id], rec) {
			history[id] = append(history[id], rec)
		}
	}
	return Ledger{Attempts: history, Overrides: overrides}, nil
}

func containsRecord(history []domain.AttemptRecord, rec domain.AttemptRecord) bool {
	for _, h := range history {
		if rec.ID != "" && h.ID == rec.ID {
			return true
		}
		if rec.ID == "" && h.Timestamp.Equal(rec.Timestamp) {
			return true
		}
	}
	return false
}
