// Package catalog browses the question bank: filtering, ordering and navigation
// over a loaded list of questions.
package catalog

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"quiz-offline-service/internal/domain"
)

// ErrNoNeighbor is returned when navigation would leave the list.
var ErrNoNeighbor = errors.New("no question at that offset")

// Order is the listing direction by question number.
type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

// ParseOrder accepts "asc" and "desc"; anything else is ascending.
func ParseOrder(raw string) Order {
	if strings.EqualFold(strings.TrimSpace(raw), string(Descending)) {
		return Descending
	}
	return Ascending
}

// Filter selects questions. Zero values match everything; "all" is accepted for
// Domain and Type. Start and End are inclusive question numbers, 0 means open.
type Filter struct {
	Domain       string
	Type         string
	Search       string
	Start        int
	End          int
	HideMastered bool
	Order        Order
}

// Number extracts the numeric part of a questionId ("saa-Q012" is 12).
func Number(questionID string) (int, bool) {
	id := strings.TrimSpace(questionID)
	end := len(id)
	start := end
	for start > 0 && id[start-1] >= '0' && id[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.Atoi(id[start:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// List applies f and returns a new, ordered slice. mastered may be nil when
// HideMastered is false.
func List(questions []domain.Question, f Filter, mastered func(questionID string) bool) []domain.Question {
	out := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if !f.matches(q) {
			continue
		}
		if f.HideMastered && mastered != nil && mastered(q.Key()) {
			continue
		}
		out = append(out, q)
	}
	Sort(out, f.Order)
	return out
}

func (f Filter) matches(q domain.Question) bool {
	if d := strings.TrimSpace(f.Domain); d != "" && d != "all" && q.Domain != d {
		return false
	}
	if t := strings.TrimSpace(f.Type); t != "" && t != "all" && string(q.Type) != t {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(q.Text), term) &&
			!strings.Contains(strings.ToLower(q.QuestionID), term) {
			return false
		}
	}
	if f.Start > 0 || f.End > 0 {
		n, ok := Number(q.QuestionID)
		if !ok {
			return false
		}
		if f.Start > 0 && n < f.Start {
			return false
		}
		if f.End > 0 && n > f.End {
			return false
		}
	}
	return true
}

// Sort orders questions in place by question number. Questions without a number
// go last, in questionId order.
func Sort(questions []domain.Question, order Order) {
	sort.SliceStable(questions, func(i, j int) bool {
		ni, oki := Number(questions[i].QuestionID)
		nj, okj := Number(questions[j].QuestionID)
		switch {
		case oki && okj:
			if ni == nj {
				return questions[i].QuestionID < questions[j].QuestionID
			}
			if order == Descending {
				return ni > nj
			}
			return ni < nj
		case oki != okj:
			return oki
		default:
			return questions[i].QuestionID < questions[j].QuestionID
		}
	})
}

// Domains lists the distinct non-blank domains, sorted.
func Domains(questions []domain.Question) []string {
	seen := make(map[string]bool)
	out := []string{}
	for _, q := range questions {
		d := strings.TrimSpace(q.Domain)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// GroupDomains buckets domains by their first word ("AWS Compute" under "AWS").
func GroupDomains(questions []domain.Question) map[string][]string {
	groups := make(map[string][]string)
	for _, d := range Domains(questions) {
		category := strings.Fields(d)[0]
		groups[category] = append(groups[category], d)
	}
	return groups
}

// Index finds id by document id or, case-insensitively, by questionId.
func Index(questions []domain.Question, id string) (int, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1, false
	}
	for i, q := range questions {
		if q.ID == id || (q.QuestionID != "" && strings.EqualFold(q.QuestionID, id)) {
			return i, true
		}
	}
	return -1, false
}

// Neighbor returns the question offset positions away from id.
func Neighbor(questions []domain.Question, id string, offset int) (domain.Question, error) {
	i, ok := Index(questions, id)
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	next := i + offset
	if next < 0 || next >= len(questions) {
		return domain.Question{}, ErrNoNeighbor
	}
	return questions[next], nil
}

// Jump finds a question by its human questionId, ignoring case.
func Jump(questions []domain.Question, questionID string) (domain.Question, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	for _, q := range questions {
		if q.QuestionID != "" && strings.EqualFold(q.QuestionID, questionID) {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}
