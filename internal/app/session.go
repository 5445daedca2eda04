package app

import (
	"sync"
	"time"

	"quiz-offline-service/internal/domain"
)

// Session is the live, in-process state of one user: the answering state of each
// question and the subscribers waiting for progress updates. Persisted progress
// lives in a ProgressStore; a session can be dropped and rebuilt at any time.
type Session struct {
	userID string
	now    func() time.Time

	// write serializes read-modify-write cycles against the store for this user.
	write sync.Mutex

	mu          sync.RWMutex
	selections  map[string]domain.Selection
	subscribers map[chan domain.ProgressUpdate]struct{}
}

// NewSession is exported for infrastructure layers that keep sessions.
func NewSession(userID string) *Session {
	return NewSessionWithClock(userID, time.Now)
}

// NewSessionWithClock is test-only for deterministic timestamps.
func NewSessionWithClock(userID string, now func() time.Time) *Session {
	return &Session{
		userID:      userID,
		now:         now,
		selections:  make(map[string]domain.Selection),
		subscribers: make(map[chan domain.ProgressUpdate]struct{}),
	}
}

// IsIdle reports whether the session holds nothing worth keeping.
func (s *Session) IsIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selections) == 0 && len(s.subscribers) == 0
}

func (s *Session) selection(questionID string) (domain.Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selections[questionID]
	if ok {
		sel.Selected = append([]string{}, sel.Selected...)
	}
	return sel, ok
}

func (s *Session) setSelection(sel domain.Selection) domain.Selection {
	if sel.Selected == nil {
		sel.Selected = []string{}
	}
	s.mu.Lock()
	s.selections[sel.QuestionID] = sel
	s.mu.Unlock()
	sel.Selected = append([]string{}, sel.Selected...)
	return sel
}

func (s *Session) clearSelections() {
	s.mu.Lock()
	s.selections = make(map[string]domain.Selection)
	s.mu.Unlock()
}

func (s *Session) subscribe(initial domain.Stats) (<-chan domain.ProgressUpdate, func()) {
	ch := make(chan domain.ProgressUpdate, 8)

	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	ch <- domain.ProgressUpdate{
		UserID:    s.userID,
		Reason:    "snapshot",
		Stats:     initial,
		UpdatedAt: s.now(),
	}

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Session) broadcast(questionID, reason string, stats domain.Stats) domain.ProgressUpdate {
	update := domain.ProgressUpdate{
		UserID:     s.userID,
		QuestionID: questionID,
		Reason:     reason,
		Stats:      stats,
		UpdatedAt:  s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- update:
		default:
			// slow subscriber: drop its oldest pending update
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
	return update
}
