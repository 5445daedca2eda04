package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/domain"
	"quiz-offline-service/internal/infra/memory"
)

func singleQuestion() domain.Question {
	return domain.Question{
		ID:         "doc-1",
		QuestionID: "saa-Q001",
		Text:       "Which service provides object storage?",
		Type:       domain.QuestionSingle,
		Domain:     "Storage",
		Answers: []domain.Answer{
			{ID: "a1", Text: "Amazon S3", IsCorrect: true},
			{ID: "a2", Text: "Amazon EC2"},
		},
	}
}

func multipleQuestion() domain.Question {
	return domain.Question{
		ID:         "doc-2",
		QuestionID: "saa-Q002",
		Text:       "Pick the two serverless services.",
		Type:       domain.QuestionMultiple,
		Domain:     "Compute",
		Answers: []domain.Answer{
			{ID: "b1", Text: "AWS Lambda", IsCorrect: true},
			{ID: "b2", Text: "AWS Fargate", IsCorrect: true},
			{ID: "b3", Text: "Amazon EC2"},
		},
	}
}

type fixture struct {
	service *app.ProgressService
	store   *memory.ProgressStore
}

func newTestService(t *testing.T) fixture {
	t.Helper()
	now := time.Date(2024, 11, 22, 9, 0, 0, 0, time.UTC)
	store := memory.NewProgressStore()
	questions := memory.NewQuestionRepository(
		memory.NewStaticQuestionLoader([]domain.Question{singleQuestion(), multipleQuestion()}),
		5*time.Minute)
	service := app.NewProgressService(store, questions, memory.NewSessionStore(), zaptest.NewLogger(t),
		app.WithClock(func() time.Time {
			now = now.Add(time.Second)
			return now
		}))
	return fixture{service: service, store: store}
}

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	q := singleQuestion()

	first, err := f.service.Submit(ctx, "u1", &q, []string{"a1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := f.service.Submit(ctx, "u1", &q, []string{"a1"})
	if err != nil {
		t.Fatalf("submit again: %v", err)
	}
	if !first || !second {
		t.Fatalf("expected both verdicts correct, got %v and %v", first, second)
	}

	raw, ok, err := f.store.Get(ctx, "u1", app.KeyAnswers)
	if err != nil || !ok {
		t.Fatalf("expected quizAnswers stored: ok=%v err=%v", ok, err)
	}
	latest := decodeAnswers(t, raw)
	if len(latest) != 1 {
		t.Fatalf("expected exactly one record for the question, got %d", len(latest))
	}
	if _, ok := latest["saa-Q001"]; !ok {
		t.Fatalf("expected record keyed by questionId, got %v", latest)
	}

	stats, err := f.service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Correct != 1 || stats.Attempts != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestResubmitOverwritesLatest(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	q := singleQuestion()

	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a2"}); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	stats, _ := f.service.Stats(ctx, "u1")
	if stats.Correct != 0 || stats.Incorrect != 1 {
		t.Fatalf("expected the latest (incorrect) attempt to count, got %+v", stats)
	}
}

func TestSubmitEdgeCases(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	ok, err := f.service.Submit(ctx, "u1", nil, []string{"a1"})
	if err != nil || ok {
		t.Fatalf("nil question: ok=%v err=%v", ok, err)
	}
	if _, found, _ := f.store.Get(ctx, "u1", app.KeyAnswers); found {
		t.Fatalf("nil question must not record anything")
	}

	q := singleQuestion()
	ok, err = f.service.Submit(ctx, "u1", &q, nil)
	if err != nil || ok {
		t.Fatalf("empty selection: ok=%v err=%v", ok, err)
	}
	stats, _ := f.service.Stats(ctx, "u1")
	if stats.Incorrect != 1 || stats.Total != 1 {
		t.Fatalf("empty selection must be a recorded incorrect attempt, got %+v", stats)
	}

	if _, err := f.service.Submit(ctx, "", &q, []string{"a1"}); !errors.Is(err, domain.ErrMissingUser) {
		t.Fatalf("expected missing user error, got %v", err)
	}
	if _, err := f.service.SubmitByID(ctx, "u1", "unknown", []string{"a1"}); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestSelectSingleReplacesAndMultipleToggles(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	if _, err := f.service.Select(ctx, "u1", "saa-Q001", "a1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	sel, err := f.service.Select(ctx, "u1", "saa-Q001", "a2")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if diff := cmp.Diff([]string{"a2"}, sel.Selected); diff != "" {
		t.Fatalf("single selection (-want +got):\n%s", diff)
	}

	for _, id := range []string{"b1", "b3", "b2", "b3"} {
		if sel, err = f.service.Select(ctx, "u1", "saa-Q002", id); err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}
	if diff := cmp.Diff([]string{"b1", "b2"}, sel.Selected); diff != "" {
		t.Fatalf("multiple selection (-want +got):\n%s", diff)
	}

	if _, err := f.service.Select(ctx, "u1", "saa-Q002", "zz"); !errors.Is(err, domain.ErrAnswerNotFound) {
		t.Fatalf("expected unknown answer rejected, got %v", err)
	}
}

func TestSelectionFrozenAfterSubmitUntilReset(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	correct, err := f.service.SubmitByID(ctx, "u1", "saa-Q002", []string{"b2", "b1"})
	if err != nil || !correct {
		t.Fatalf("submit: correct=%v err=%v", correct, err)
	}
	sel, err := f.service.Select(ctx, "u1", "saa-Q002", "b3")
	if err != nil {
		t.Fatalf("select after submit: %v", err)
	}
	if !sel.Submitted || len(sel.Selected) != 2 {
		t.Fatalf("expected selection frozen after submit, got %+v", sel)
	}

	if _, err := f.service.Reset(ctx, "u1", "saa-Q002"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	progress, err := f.service.Progress(ctx, "u1", "saa-Q002")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress.Selection.Submitted || len(progress.Selection.Selected) != 0 {
		t.Fatalf("expected cleared selection after reset, got %+v", progress.Selection)
	}
	if progress.Attempts != 1 || progress.Latest == nil {
		t.Fatalf("reset must keep the recorded attempt, got %+v", progress)
	}
}

func TestDocumentIDAddressesSameProgress(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	if _, err := f.service.SubmitByID(ctx, "u1", "doc-1", []string{"a2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.service.Reset(ctx, "u1", "doc-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	sel, err := f.service.Select(ctx, "u1", "doc-1", "a1")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	want := domain.Selection{QuestionID: "saa-Q001", Selected: []string{"a1"}}
	if diff := cmp.Diff(want, sel); diff != "" {
		t.Fatalf("selection after reset by document id (-want +got):\n%s", diff)
	}

	if err := f.service.SetMastery(ctx, "u1", "doc-1", true); err != nil {
		t.Fatalf("set mastery: %v", err)
	}
	progress, err := f.service.Progress(ctx, "u1", "saa-Q001")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !progress.Mastered || progress.Override == nil || !*progress.Override {
		t.Fatalf("expected override applied to saa-Q001, got %+v", progress)
	}
	stats, _ := f.service.Stats(ctx, "u1")
	if stats.Mastered != 1 {
		t.Fatalf("expected one mastered question, got %+v", stats)
	}

	if err := f.service.ClearMasteryOverride(ctx, "u1", "doc-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, found, _ := f.store.Get(ctx, "u1", app.KeyOverrides); found {
		t.Fatalf("expected override cleared by document id")
	}
}

func TestMasteryForUnknownQuestion(t *testing.T) {
	f := newTestService(t)
	err := f.service.SetMastery(context.Background(), "u1", "nope", true)
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

// failingStore fails writes of one document key.
type failingStore struct {
	*memory.ProgressStore
	key string
}

func (s failingStore) Set(ctx context.Context, userID, key string, value []byte) error {
	if key == s.key {
		return errors.New("disk full")
	}
	return s.ProgressStore.Set(ctx, userID, key, value)
}

func TestFailedSubmitIsNotCounted(t *testing.T) {
	ctx := context.Background()
	q := singleQuestion()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader([]domain.Question{q}), time.Minute)

	for _, key := range []string{app.KeyAnswers, app.KeyHistory} {
		t.Run(key, func(t *testing.T) {
			store := memory.NewProgressStore()
			healthy := app.NewProgressService(store, questions, memory.NewSessionStore(), zaptest.NewLogger(t))
			if _, err := healthy.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
				t.Fatalf("first submit: %v", err)
			}

			broken := app.NewProgressService(failingStore{ProgressStore: store, key: key}, questions,
				memory.NewSessionStore(), zaptest.NewLogger(t))
			if _, err := broken.Submit(ctx, "u1", &q, []string{"a2"}); err == nil {
				t.Fatalf("expected submit error")
			}

			stats, err := healthy.Stats(ctx, "u1")
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.Attempts != 1 || stats.Correct != 1 || stats.Incorrect != 0 {
				t.Fatalf("failed submit must not count, got %+v", stats)
			}
		})
	}
}

func TestProgressRestoresLastSubmissionWithoutLiveState(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	q := singleQuestion()
	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a2"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// a second service over the same store has no live sessions
	other := app.NewProgressService(f.store, memory.NewQuestionRepository(
		memory.NewStaticQuestionLoader([]domain.Question{q}), time.Minute), memory.NewSessionStore(), zaptest.NewLogger(t))
	progress, err := other.Progress(ctx, "u1", "saa-Q001")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	want := domain.Selection{QuestionID: "saa-Q001", Selected: []string{"a2"}, Submitted: true, Correct: false}
	if diff := cmp.Diff(want, progress.Selection); diff != "" {
		t.Fatalf("restored selection (-want +got):\n%s", diff)
	}
}

func TestResetAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	q := singleQuestion()

	for i := 0; i < 5; i++ {
		if _, err := f.service.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if err := f.service.SetMastery(ctx, "u1", "saa-Q002", true); err != nil {
		t.Fatalf("set mastery: %v", err)
	}
	if err := f.service.SetMastery(ctx, "u2", "saa-Q002", true); err != nil {
		t.Fatalf("set mastery u2: %v", err)
	}
	before, _ := f.service.Stats(ctx, "u1")
	if before.Mastered != 2 {
		t.Fatalf("expected 2 mastered before reset, got %+v", before)
	}

	if err := f.service.ResetAll(ctx, "u1"); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	after, err := f.service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.Stats{Domains: map[string]domain.DomainStats{}}
	if diff := cmp.Diff(want, after); diff != "" {
		t.Fatalf("stats after reset (-want +got):\n%s", diff)
	}
	if mastered, _ := f.service.IsMastered(ctx, "u2", "saa-Q002"); !mastered {
		t.Fatalf("reset of u1 must not touch u2")
	}
}

func TestMasteryOverrideLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	if err := f.service.SetMastery(ctx, "u1", "saa-Q001", true); err != nil {
		t.Fatalf("set: %v", err)
	}
	if mastered, _ := f.service.IsMastered(ctx, "u1", "saa-Q001"); !mastered {
		t.Fatalf("override=true with zero attempts must be mastered")
	}
	if err := f.service.ClearMasteryOverride(ctx, "u1", "saa-Q001"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mastered, _ := f.service.IsMastered(ctx, "u1", "saa-Q001"); mastered {
		t.Fatalf("expected automatic rule after clearing the override")
	}
	if _, found, _ := f.store.Get(ctx, "u1", app.KeyOverrides); found {
		t.Fatalf("expected empty override map removed")
	}
}

func TestScenarioFiveCorrectThenIncorrect(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	q := singleQuestion()

	for i := 0; i < 5; i++ {
		if _, err := f.service.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if mastered, _ := f.service.IsMastered(ctx, "u1", "saa-Q001"); !mastered {
		t.Fatalf("expected mastered after five correct attempts")
	}
	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a2"}); err != nil {
		t.Fatalf("sixth submit: %v", err)
	}
	if mastered, _ := f.service.IsMastered(ctx, "u1", "saa-Q001"); !mastered {
		t.Fatalf("sixth incorrect attempt must not demote")
	}
}

func TestCorruptDocumentsReadAsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	_ = f.store.Set(ctx, "u1", app.KeyAnswers, []byte(`{not json`))
	_ = f.store.Set(ctx, "u1", app.KeyOverrides, []byte(`{"saa-Q001":"yes"}`))

	stats, err := f.service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 || stats.Mastered != 0 {
		t.Fatalf("expected empty stats from corrupt state, got %+v", stats)
	}

	q := singleQuestion()
	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
		t.Fatalf("submit over corrupt state: %v", err)
	}
	stats, _ = f.service.Stats(ctx, "u1")
	if stats.Total != 1 || stats.Correct != 1 {
		t.Fatalf("expected corrupt document replaced on write, got %+v", stats)
	}
}

func TestLegacyAnswersWithoutHistoryCountOnce(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)
	_ = f.store.Set(ctx, "u1", app.KeyAnswers, []byte(
		`{"saa-Q001":{"questionId":"saa-Q001","selected":["a1"],"isCorrect":true,"timestamp":"2024-11-01T10:00:00Z","domain":"Storage","type":"single"}}`))

	stats, err := f.service.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Attempts != 1 || stats.Domains["Storage"].Correct != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	q := singleQuestion()
	if _, err := f.service.Submit(ctx, "u1", &q, []string{"a1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	progress, _ := f.service.Progress(ctx, "u1", "saa-Q001")
	if progress.Attempts != 2 || progress.CorrectAttempts != 2 {
		t.Fatalf("expected legacy record kept in history, got %+v", progress)
	}
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	f := newTestService(t)

	ch, cancel, err := f.service.Subscribe(ctx, "u1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-ch
	if initial.Reason != "snapshot" || initial.Stats.Total != 0 {
		t.Fatalf("unexpected initial update %+v", initial)
	}

	if _, err := f.service.SubmitByID(ctx, "u1", "saa-Q001", []string{"a1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	update := <-ch
	if update.Reason != app.ReasonSubmit || update.QuestionID != "saa-Q001" || update.Stats.Correct != 1 {
		t.Fatalf("unexpected update %+v", update)
	}

	if err := f.service.ResetAll(ctx, "u1"); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	update = <-ch
	if update.Reason != app.ReasonResetAll || update.Stats.Total != 0 {
		t.Fatalf("unexpected reset update %+v", update)
	}
}

func decodeAnswers(t *testing.T, raw []byte) map[string]domain.AttemptRecord {
	t.Helper()
	var out map[string]domain.AttemptRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode quizAnswers: %v", err)
	}
	return out
}
