package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-offline-service/internal/domain"
)

// QuestionLoader fetches questions from the question bank (e.g., the backend API).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, id string) (domain.Question, error)
}

// QuestionRepository caches question documents in Redis and falls back to a loader
// on cache miss, so instances share one warm copy of the bank.
// The collection is stored as: SET questions:all {json array}
// Single questions as:         SET questions:item:{id} {json}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	var cached []domain.Question
	if r.readJSON(ctx, r.listKey(), &cached) {
		return cached, nil
	}

	result, err, _ := r.sf.Do(r.listKey(), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached []domain.Question
		if r.readJSON(ctx, r.listKey(), &cached) {
			return cached, nil
		}

		questions, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		if raw, err := json.Marshal(questions); err == nil {
			pipe.Set(ctx, r.listKey(), raw, ttl)
		}
		for _, q := range questions {
			if raw, err := json.Marshal(q); err == nil {
				pipe.Set(ctx, r.itemKey(q.Key()), raw, ttl)
			}
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	var cached domain.Question
	if r.readJSON(ctx, r.itemKey(id), &cached) {
		return cached, nil
	}

	result, err, _ := r.sf.Do(r.itemKey(id), func() (interface{}, error) {
		var cached domain.Question
		if r.readJSON(ctx, r.itemKey(id), &cached) {
			return cached, nil
		}

		q, err := r.loader.LoadQuestion(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}
		if raw, err := json.Marshal(q); err == nil {
			_ = r.client.Set(ctx, r.itemKey(id), raw, r.ttlWithJitter()).Err()
		}
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

// readJSON reports a hit only for a present, decodable value; Redis errors fall
// through to the loader.
func (r *QuestionRepository) readJSON(ctx context.Context, key string, dst any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *QuestionRepository) listKey() string {
	return "questions:all"
}

func (r *QuestionRepository) itemKey(id string) string {
	return "questions:item:" + id
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
