package app

import (
	"sort"

	"quiz-offline-service/internal/domain"
)

// MasteryThreshold is the number of correct attempts after which a question counts
// as mastered without an override.
const MasteryThreshold = 5

// Ledger is a user's persisted progress: every attempt per question and the manual
// mastery overrides. All derived views are computed from it on demand.
type Ledger struct {
	Attempts  map[string][]domain.AttemptRecord
	Overrides map[string]bool
}

// Records flattens the attempt history, oldest first within each question.
func (l Ledger) Records() []domain.AttemptRecord {
	out := make([]domain.AttemptRecord, 0, len(l.Attempts))
	for _, id := range sortedKeys(l.Attempts) {
		out = append(out, l.Attempts[id]...)
	}
	return out
}

// Latest returns the most recent attempt for questionID.
func (l Ledger) Latest(questionID string) (domain.AttemptRecord, bool) {
	return latestOf(l.Attempts[questionID])
}

// IsMastered applies the override when one exists, otherwise the automatic rule.
// The automatic rule never demotes: later incorrect attempts do not undo mastery.
func (l Ledger) IsMastered(questionID string) bool {
	if v, ok := l.Overrides[questionID]; ok {
		return v
	}
	return correctCount(l.Attempts[questionID]) >= MasteryThreshold
}

// Progress is the stored state of one question, without UI selection.
func (l Ledger) Progress(questionID string) domain.QuestionProgress {
	history := l.Attempts[questionID]
	p := domain.QuestionProgress{
		QuestionID:      questionID,
		Attempts:        len(history),
		CorrectAttempts: correctCount(history),
		Mastered:        l.IsMastered(questionID),
	}
	if latest, ok := latestOf(history); ok {
		p.Latest = &latest
	}
	if v, ok := l.Overrides[questionID]; ok {
		p.Override = &v
	}
	return p
}

// Stats computes the aggregate view of the ledger.
func (l Ledger) Stats() domain.Stats {
	return ComputeStats(l.Records(), l.Overrides)
}

// ComputeStats aggregates attempts and overrides. Headline counts treat all records
// of a question as one entry, the latest; mastery counts every correct record.
func ComputeStats(records []domain.AttemptRecord, overrides map[string]bool) domain.Stats {
	history := make(map[string][]domain.AttemptRecord)
	for _, r := range records {
		if r.QuestionID == "" {
			continue
		}
		history[r.QuestionID] = append(history[r.QuestionID], r)
	}

	stats := domain.Stats{Domains: make(map[string]domain.DomainStats)}
	for _, id := range sortedKeys(history) {
		latest, _ := latestOf(history[id])
		stats.Attempts += len(history[id])
		stats.Total++
		if latest.IsCorrect {
			stats.Correct++
		} else {
			stats.Incorrect++
		}
		if latest.Domain == "" {
			continue
		}
		d := stats.Domains[latest.Domain]
		d.Total++
		if latest.IsCorrect {
			d.Correct++
		}
		d.Accuracy = percent(d.Correct, d.Total)
		stats.Domains[latest.Domain] = d
	}
	stats.Accuracy = percent(stats.Correct, stats.Total)

	ledger := Ledger{Attempts: history, Overrides: overrides}
	seen := make(map[string]bool, len(history)+len(overrides))
	for id := range history {
		seen[id] = true
	}
	for id := range overrides {
		seen[id] = true
	}
	for id := range seen {
		if ledger.IsMastered(id) {
			stats.Mastered++
		}
	}
	return stats
}

// percent rounds half up to an integer percentage.
func percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (part*200 + whole) / (whole * 2)
}

// latestOf picks the record with the newest timestamp; later entries win ties.
func latestOf(history []domain.AttemptRecord) (domain.AttemptRecord, bool) {
	if len(history) == 0 {
		return domain.AttemptRecord{}, false
	}
	latest := history[0]
	for _, r := range history[1:] {
		if !r.Timestamp.Before(latest.Timestamp) {
			latest = r
		}
	}
	return latest, true
}

func correctCount(history []domain.AttemptRecord) int {
	n := 0
	for _, r := range history {
		if r.IsCorrect {
			n++
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
