package app

import (
	"strings"

	"quiz-offline-service/internal/domain"
)

// Evaluate decides whether selected is a correct answer to q. Answers are matched
// by their backend id only. Malformed questions (no answers, nothing flagged
// correct, unknown type) are never correct.
func Evaluate(q *domain.Question, selected []string) bool {
	if q == nil || len(q.Answers) == 0 {
		return false
	}
	correct := q.CorrectAnswerIDs()
	if len(correct) == 0 {
		return false
	}
	picked := normalizeSelection(selected)
	want := make(map[string]bool, len(correct))
	for _, id := range normalizeSelection(correct) {
		want[id] = true
	}

	switch q.Type {
	case domain.QuestionSingle:
		// any answer flagged correct is accepted
		return len(picked) == 1 && want[picked[0]]
	case domain.QuestionMultiple:
		if len(picked) != len(want) {
			return false
		}
		for _, id := range picked {
			if !want[id] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// normalizeSelection trims ids and drops blanks and duplicates, keeping the order
// of first appearance.
func normalizeSelection(selected []string) []string {
	out := make([]string, 0, len(selected))
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
