package memory

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-offline-service/internal/domain"
)

// QuestionLoader fetches questions from the question bank (e.g., the backend API).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, id string) (domain.Question, error)
}

const listKey = "\x00list"

// QuestionRepository caches questions with TTL to avoid repeated upstream hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	list  cachedList
	items map[string]cachedQuestion
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

type cachedList struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		items:  make(map[string]cachedQuestion),
	}
}

// ListQuestions returns the whole question bank.
func (r *QuestionRepository) ListQuestions(ctx context.Context) ([]domain.Question, error) {
	if list, ok := r.cachedList(r.clock()); ok {
		return list, nil
	}

	result, err, _ := r.sf.Do(listKey, func() (interface{}, error) {
		now := r.clock()
		if list, ok := r.cachedList(now); ok {
			return list, nil
		}

		questions, err := r.loader.LoadQuestions(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		expiresAt := now.Add(r.ttlWithJitterLocked())
		r.list = cachedList{questions: questions, expiresAt: expiresAt}
		for _, q := range questions {
			r.items[q.Key()] = cachedQuestion{question: q, expiresAt: expiresAt}
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return copyQuestions(result.([]domain.Question)), nil
}

// GetQuestion resolves id against questionId first and the document id second.
func (r *QuestionRepository) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if q, ok := r.cachedItem(id, r.clock()); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		now := r.clock()
		if q, ok := r.cachedItem(id, now); ok {
			return q, nil
		}

		q, err := r.loader.LoadQuestion(ctx, id)
		if err != nil {
			return domain.Question{}, err
		}

		r.mu.Lock()
		r.items[id] = cachedQuestion{question: q, expiresAt: now.Add(r.ttlWithJitterLocked())}
		r.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) cachedList(now time.Time) ([]domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.list.questions == nil || !r.list.expiresAt.After(now) {
		return nil, false
	}
	return copyQuestions(r.list.questions), true
}

func (r *QuestionRepository) cachedItem(id string, now time.Time) (domain.Question, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.items[id]; ok && entry.expiresAt.After(now) {
		return entry.question, true
	}
	if r.list.expiresAt.After(now) {
		for _, q := range r.list.questions {
			if q.ID == id || q.Key() == id {
				return q, true
			}
		}
	}
	return domain.Question{}, false
}

func (r *QuestionRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func copyQuestions(in []domain.Question) []domain.Question {
	return append([]domain.Question(nil), in...)
}

// StaticQuestionLoader is a loader backed by an in-memory slice (useful for tests/demos).
type StaticQuestionLoader struct {
	questions []domain.Question
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{questions: questions}
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context) ([]domain.Question, error) {
	return copyQuestions(l.questions), nil
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, id string) (domain.Question, error) {
	for _, q := range l.questions {
		if q.Key() == id || q.ID == id {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
