package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-offline-service/internal/domain"
	"quiz-offline-service/internal/metrics"
)

// Update reasons published to subscribers.
const (
	ReasonSubmit   = "submit"
	ReasonResetAll = "resetAll"
	ReasonMastery  = "mastery"
)

// ProgressService contains the progress use cases: answering, resetting, mastery
// overrides and the derived statistics.
//
// Concurrent writers for the same user inside one process are serialized. Writers
// in different processes sharing a store are last-write-wins per key, the same as
// two browser tabs sharing local storage.
type ProgressService struct {
	docs      progressDocs
	store     ProgressStore
	questions QuestionSource
	sessions  SessionRepository
	logger    *zap.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
	newID     func() string
}

// Option customizes a ProgressService.
type Option func(*ProgressService)

// WithClock is test-only for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *ProgressService) { s.now = now }
}

// WithIDGenerator replaces the attempt record id source.
func WithIDGenerator(next func() string) Option {
	return func(s *ProgressService) { s.newID = next }
}

// WithMetrics records submission verdicts.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *ProgressService) { s.metrics = rec }
}

func NewProgressService(store ProgressStore, questions QuestionSource, sessions SessionRepository, logger *zap.Logger, opts ...Option) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ProgressService{
		store:     store,
		questions: questions,
		sessions:  sessions,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.docs = progressDocs{store: store, logger: logger}
	return s
}

func (s *ProgressService) session(userID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrMissingUser
	}
	return s.sessions.GetOrCreate(userID), nil
}

// Select updates the answering state of a question: a single-answer question
// replaces the choice, a multiple-answer one toggles it. Once submitted, the
// selection is frozen until Reset.
func (s *ProgressService) Select(ctx context.Context, userID, questionID, answerID string) (domain.Selection, error) {
	session, err := s.session(userID)
	if err != nil {
		return domain.Selection{}, err
	}
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return domain.Selection{}, err
	}
	if !hasAnswer(q, answerID) {
		return domain.Selection{}, fmt.Errorf("%w: %s", domain.ErrAnswerNotFound, answerID)
	}

	key := q.Key()
	current, _ := session.selection(key)
	current.QuestionID = key
	if current.Submitted {
		return current, nil
	}

	switch q.Type {
	case domain.QuestionMultiple:
		current.Selected = toggle(current.Selected, answerID)
	default:
		current.Selected = []string{answerID}
	}
	return session.setSelection(current), nil
}

// Submit evaluates selected against q, records the attempt and returns the
// verdict. A nil question is incorrect and records nothing; an empty selection is
// a valid, incorrect attempt.
func (s *ProgressService) Submit(ctx context.Context, userID string, q *domain.Question, selected []string) (bool, error) {
	session, err := s.session(userID)
	if err != nil {
		return false, err
	}
	if q == nil {
		return false, nil
	}

	picked := normalizeSelection(selected)
	correct := Evaluate(q, picked)
	key := q.Key()
	record := domain.AttemptRecord{
		ID:         s.newID(),
		QuestionID: key,
		Selected:   picked,
		IsCorrect:  correct,
		Timestamp:  s.now().UTC(),
		Domain:     q.Domain,
		Type:       q.Type,
	}

	session.write.Lock()
	err = s.record(ctx, userID, record)
	session.write.Unlock()
	if err != nil {
		return false, err
	}

	s.metrics.ObserveSubmission(correct)
	session.setSelection(domain.Selection{
		QuestionID: key,
		Selected:   picked,
		Submitted:  true,
		Correct:    correct,
	})
	s.logger.Debug("answer submitted",
		zap.String("user", userID),
		zap.String("question", key),
		zap.Bool("correct", correct))
	s.publish(ctx, session, userID, key, ReasonSubmit)
	return correct, nil
}

// record overwrites the latest record of the question and appends to its history.
func (s *ProgressService) record(ctx context.Context, userID string, record domain.AttemptRecord) error {
	history, err := s.docs.history(ctx, userID)
	if err != nil {
		return err
	}
	latest, err := s.docs.latest(ctx, userID)
	if err != nil {
		return err
	}
	if prev, ok := latest[record.QuestionID]; ok && !containsRecord(history[record.QuestionID], prev) {
		if prev.QuestionID == "" {
			prev.QuestionID = record.QuestionID
		}
		history[record.QuestionID] = append(history[record.QuestionID], prev)
	}
	history[record.QuestionID] = append(history[record.QuestionID], record)

	// a failed history write restores the previous latest record
	prev, hadPrev := latest[record.QuestionID]
	latest[record.QuestionID] = record
	if err := s.docs.write(ctx, userID, KeyAnswers, latest); err != nil {
		return err
	}
	if err := s.docs.write(ctx, userID, KeyHistory, history); err != nil {
		if hadPrev {
			latest[record.QuestionID] = prev
		} else {
			delete(latest, record.QuestionID)
		}
		if rerr := s.docs.write(ctx, userID, KeyAnswers, latest); rerr != nil {
			s.logger.Warn("restore latest answer failed",
				zap.String("user", userID),
				zap.String("question", record.QuestionID),
				zap.Error(rerr))
		}
		return err
	}
	return nil
}

// SubmitByID loads the question and submits selected for it.
func (s *ProgressService) SubmitByID(ctx context.Context, userID, questionID string, selected []string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, domain.ErrMissingUser
	}
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return false, err
	}
	return s.Submit(ctx, userID, &q, selected)
}

// Reset clears the answering state of one question so it can be retried. Recorded
// attempts are kept, so mastery keeps counting across retries.
func (s *ProgressService) Reset(ctx context.Context, userID, questionID string) (domain.Selection, error) {
	session, err := s.session(userID)
	if err != nil {
		return domain.Selection{}, err
	}
	key, err := s.key(ctx, questionID)
	if err != nil {
		return domain.Selection{}, err
	}
	return session.setSelection(domain.Selection{QuestionID: key}), nil
}

// ResetAll irreversibly deletes every attempt and override of the user with a
// single store operation. Callers must have obtained explicit confirmation.
func (s *ProgressService) ResetAll(ctx context.Context, userID string) error {
	session, err := s.session(userID)
	if err != nil {
		return err
	}
	session.write.Lock()
	err = s.store.Clear(ctx, userID)
	session.write.Unlock()
	if err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	session.clearSelections()
	s.logger.Info("progress reset", zap.String("user", userID))
	s.publish(ctx, session, userID, "", ReasonResetAll)
	return nil
}

// SetMastery stores a manual mastery flag that overrides the automatic rule.
func (s *ProgressService) SetMastery(ctx context.Context, userID, questionID string, mastered bool) error {
	return s.updateOverrides(ctx, userID, questionID, func(m map[string]bool, key string) {
		m[key] = mastered
	})
}

// ClearMasteryOverride returns the question to the automatic rule.
func (s *ProgressService) ClearMasteryOverride(ctx context.Context, userID, questionID string) error {
	return s.updateOverrides(ctx, userID, questionID, func(m map[string]bool, key string) {
		delete(m, key)
	})
}

func (s *ProgressService) updateOverrides(ctx context.Context, userID, questionID string, mutate func(map[string]bool, string)) error {
	session, err := s.session(userID)
	if err != nil {
		return err
	}
	key, err := s.key(ctx, questionID)
	if err != nil {
		return err
	}
	session.write.Lock()
	err = func() error {
		overrides, err := s.docs.overrides(ctx, userID)
		if err != nil {
			return err
		}
		mutate(overrides, key)
		if len(overrides) == 0 {
			return s.store.Delete(ctx, userID, KeyOverrides)
		}
		return s.docs.write(ctx, userID, KeyOverrides, overrides)
	}()
	session.write.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, session, userID, key, ReasonMastery)
	return nil
}

// key maps either id form of a question to the identifier progress is stored
// under.
func (s *ProgressService) key(ctx context.Context, questionID string) (string, error) {
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return "", err
	}
	return q.Key(), nil
}

// Ledger loads the persisted progress of the user.
func (s *ProgressService) Ledger(ctx context.Context, userID string) (Ledger, error) {
	if strings.TrimSpace(userID) == "" {
		return Ledger{}, domain.ErrMissingUser
	}
	return s.docs.ledger(ctx, userID)
}

func (s *ProgressService) IsMastered(ctx context.Context, userID, questionID string) (bool, error) {
	ledger, err := s.Ledger(ctx, userID)
	if err != nil {
		return false, err
	}
	key, err := s.key(ctx, questionID)
	if err != nil {
		return false, err
	}
	return ledger.IsMastered(key), nil
}

func (s *ProgressService) Stats(ctx context.Context, userID string) (domain.Stats, error) {
	ledger, err := s.Ledger(ctx, userID)
	if err != nil {
		return domain.Stats{}, err
	}
	return ledger.Stats(), nil
}

// Progress restores a question on load: stored attempts and mastery, plus the
// answering state. Without live state the last submission is shown again.
func (s *ProgressService) Progress(ctx context.Context, userID, questionID string) (domain.QuestionProgress, error) {
	ledger, err := s.Ledger(ctx, userID)
	if err != nil {
		return domain.QuestionProgress{}, err
	}
	questionID, err = s.key(ctx, questionID)
	if err != nil {
		return domain.QuestionProgress{}, err
	}
	p := ledger.Progress(questionID)

	session, _ := s.sessions.Get(userID)
	if session != nil {
		if sel, ok := session.selection(questionID); ok {
			p.Selection = sel
			return p, nil
		}
	}
	p.Selection = domain.Selection{QuestionID: questionID, Selected: []string{}}
	if p.Latest != nil {
		p.Selection.Selected = append([]string{}, p.Latest.Selected...)
		p.Selection.Submitted = true
		p.Selection.Correct = p.Latest.IsCorrect
	}
	return p, nil
}

// Subscribe returns a channel of progress updates for the user, starting with the
// current stats. The caller must invoke the returned cancel function.
func (s *ProgressService) Subscribe(ctx context.Context, userID string) (<-chan domain.ProgressUpdate, func(), error) {
	session, err := s.session(userID)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribe(stats)
	return ch, func() {
		cancel()
		s.sessions.DeleteIfIdle(userID)
	}, nil
}

func (s *ProgressService) publish(ctx context.Context, session *Session, userID, questionID, reason string) {
	stats, err := s.Stats(ctx, userID)
	if err != nil {
		s.logger.Warn("stats for progress update failed", zap.String("user", userID), zap.Error(err))
		return
	}
	session.broadcast(questionID, reason, stats)
}

func hasAnswer(q domain.Question, answerID string) bool {
	for _, a := range q.Answers {
		if a.ID != "" && a.ID == answerID {
			return true
		}
	}
	return false
}

func toggle(selected []string, id string) []string {
	out := make([]string, 0, len(selected)+1)
	found := false
	for _, s := range selected {
		if s == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	if !found {
		out = append(out, id)
	}
	return out
}
