package domain

import (
	"strings"
	"time"
)

// QuestionType distinguishes radio-style from checkbox-style questions.
type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
)

// Answer is one selectable option of a question.
type Answer struct {
	ID          string `json:"_id"`
	Text        string `json:"text"`
	IsCorrect   bool   `json:"isCorrect"`
	Explanation string `json:"explanation,omitempty"`
}

// Question mirrors the question bank wire format.
type Question struct {
	ID          string       `json:"_id"`
	QuestionID  string       `json:"questionId"`
	Text        string       `json:"question"`
	Type        QuestionType `json:"type"`
	Domain      string       `json:"domain"`
	Answers     []Answer     `json:"answers"`
	Image       string       `json:"image,omitempty"`
	Reference   string       `json:"reference,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}

// Key returns the identifier progress is recorded under: the human questionId when
// the backend provides one, otherwise the document id.
func (q Question) Key() string {
	if id := strings.TrimSpace(q.QuestionID); id != "" {
		return id
	}
	return strings.TrimSpace(q.ID)
}

// CorrectAnswerIDs lists the ids of answers flagged correct, skipping id-less answers.
func (q Question) CorrectAnswerIDs() []string {
	ids := make([]string, 0, len(q.Answers))
	for _, a := range q.Answers {
		if a.IsCorrect && a.ID != "" {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// AttemptRecord is one submission of one question.
type AttemptRecord struct {
	ID         string       `json:"id"`
	QuestionID string       `json:"questionId"`
	Selected   []string     `json:"selected"`
	IsCorrect  bool         `json:"isCorrect"`
	Timestamp  time.Time    `json:"timestamp"`
	Domain     string       `json:"domain,omitempty"`
	Type       QuestionType `json:"type,omitempty"`
}

// Selection is the transient answering state of a question, what the UI shows
// before and right after a submission.
type Selection struct {
	QuestionID string   `json:"questionId"`
	Selected   []string `json:"selected"`
	Submitted  bool     `json:"submitted"`
	Correct    bool     `json:"correct"`
}

// DomainStats is the per-domain slice of Stats.
type DomainStats struct {
	Correct  int `json:"correct"`
	Total    int `json:"total"`
	Accuracy int `json:"accuracy"`
}

// Stats is derived from attempt records and mastery overrides; never persisted.
type Stats struct {
	Correct   int                    `json:"correct"`
	Incorrect int                    `json:"incorrect"`
	Total     int                    `json:"total"`
	Accuracy  int                    `json:"accuracy"`
	Attempts  int                    `json:"attempts"`
	Domains   map[string]DomainStats `json:"domains"`
	Mastered  int                    `json:"mastered"`
}

// QuestionProgress is what a client needs to restore a question on load.
type QuestionProgress struct {
	QuestionID      string         `json:"questionId"`
	Latest          *AttemptRecord `json:"latest,omitempty"`
	Attempts        int            `json:"attempts"`
	CorrectAttempts int            `json:"correctAttempts"`
	Override        *bool          `json:"override,omitempty"`
	Mastered        bool           `json:"mastered"`
	Selection       Selection      `json:"selection"`
}

// ProgressUpdate is published to subscribers after any progress mutation.
type ProgressUpdate struct {
	UserID     string    `json:"userId"`
	QuestionID string    `json:"questionId,omitempty"`
	Reason     string    `json:"reason"`
	Stats      Stats     `json:"stats"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
