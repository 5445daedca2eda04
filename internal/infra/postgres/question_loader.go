package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-offline-service/internal/domain"
)

// QuestionLoader loads question JSONB from Postgres, an alternative to the
// question API for self-hosted banks.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `SELECT data FROM questions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var q domain.Question
		if err := json.Unmarshal(raw, &q); err != nil {
			return nil, fmt.Errorf("unmarshal question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// LoadQuestion matches id against question_id first, then the document id.
func (l *QuestionLoader) LoadQuestion(ctx context.Context, id string) (domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `
		SELECT data FROM questions
		WHERE question_id=$1 OR id=$1
		ORDER BY (question_id=$1) DESC NULLS LAST
		LIMIT 1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	var q domain.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal question: %w", err)
	}
	return q, nil
}

// SaveQuestions upserts questions, keyed by document id.
func (l *QuestionLoader) SaveQuestions(ctx context.Context, questions []domain.Question) error {
	batch := &pgx.Batch{}
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", q.ID, err)
		}
		var questionID *string
		if q.QuestionID != "" {
			questionID = &q.QuestionID
		}
		batch.Queue(`
			INSERT INTO questions (id, question_id, data) VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (id) DO UPDATE SET question_id=EXCLUDED.question_id, data=EXCLUDED.data`,
			q.ID, questionID, string(data))
	}
	results := l.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range questions {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("save question: %w", err)
		}
	}
	return nil
}
