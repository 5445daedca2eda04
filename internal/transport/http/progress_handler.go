package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"quiz-offline-service/internal/app"
	"quiz-offline-service/internal/catalog"
	"quiz-offline-service/internal/domain"
)

// QuestionBank is the read side of the question API the handlers browse.
type QuestionBank interface {
	ListQuestions(ctx context.Context) ([]domain.Question, error)
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
}

// ProgressHandler exposes the progress use cases and the question catalog over REST.
type ProgressHandler struct {
	service   *app.ProgressService
	questions QuestionBank
	logger    *zap.Logger
}

func NewProgressHandler(service *app.ProgressService, questions QuestionBank, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{service: service, questions: questions, logger: logger}
}

// Register mounts the routes on mux.
func (h *ProgressHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /progress/{user}/stats", h.stats)
	mux.HandleFunc("GET /progress/{user}/questions", h.list)
	mux.HandleFunc("GET /progress/{user}/questions/jump", h.jump)
	mux.HandleFunc("GET /progress/{user}/questions/{id}", h.question)
	mux.HandleFunc("GET /progress/{user}/questions/{id}/neighbor", h.neighbor)
	mux.HandleFunc("POST /progress/{user}/questions/{id}/select", h.selectAnswer)
	mux.HandleFunc("POST /progress/{user}/questions/{id}/submit", h.submit)
	mux.HandleFunc("POST /progress/{user}/questions/{id}/reset", h.reset)
	mux.HandleFunc("PUT /progress/{user}/mastery/{id}", h.setMastery)
	mux.HandleFunc("DELETE /progress/{user}/mastery/{id}", h.clearMastery)
	mux.HandleFunc("DELETE /progress/{user}", h.resetAll)
}

type questionSummary struct {
	Question domain.Question `json:"question"`
	Attempts int             `json:"attempts"`
	Correct  int             `json:"correctAttempts"`
	Mastered bool            `json:"mastered"`
}

type listResponse struct {
	Questions []questionSummary   `json:"questions"`
	Total     int                 `json:"total"`
	Domains   []string            `json:"domains"`
	Groups    map[string][]string `json:"domainGroups"`
}

type questionResponse struct {
	Question domain.Question         `json:"question"`
	Progress domain.QuestionProgress `json:"progress"`
}

type submitRequest struct {
	Selected []string `json:"selected"`
}

type selectRequest struct {
	AnswerID string `json:"answerId"`
}

type submitResponse struct {
	QuestionID string                  `json:"questionId"`
	Correct    bool                    `json:"correct"`
	Progress   domain.QuestionProgress `json:"progress"`
}

func (h *ProgressHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context(), r.PathValue("user"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// filtered loads the bank and applies the catalog query parameters.
func (h *ProgressHandler) filtered(r *http.Request) ([]domain.Question, app.Ledger, error) {
	user := r.PathValue("user")
	ledger, err := h.service.Ledger(r.Context(), user)
	if err != nil {
		return nil, app.Ledger{}, err
	}
	all, err := h.questions.ListQuestions(r.Context())
	if err != nil {
		return nil, app.Ledger{}, err
	}
	q := r.URL.Query()
	hide, _ := strconv.ParseBool(q.Get("hideMastered"))
	start, _ := strconv.Atoi(q.Get("start"))
	end, _ := strconv.Atoi(q.Get("end"))
	filter := catalog.Filter{
		Domain:       q.Get("domain"),
		Type:         q.Get("type"),
		Search:       q.Get("search"),
		Start:        start,
		End:          end,
		HideMastered: hide,
		Order:        catalog.ParseOrder(q.Get("sort")),
	}
	return catalog.List(all, filter, ledger.IsMastered), ledger, nil
}

func (h *ProgressHandler) list(w http.ResponseWriter, r *http.Request) {
	questions, ledger, err := h.filtered(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := listResponse{
		Questions: make([]questionSummary, 0, len(questions)),
		Total:     len(questions),
		Domains:   catalog.Domains(questions),
		Groups:    catalog.GroupDomains(questions),
	}
	for _, q := range questions {
		p := ledger.Progress(q.Key())
		resp.Questions = append(resp.Questions, questionSummary{
			Question: q,
			Attempts: p.Attempts,
			Correct:  p.CorrectAttempts,
			Mastered: p.Mastered,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ProgressHandler) respondQuestion(w http.ResponseWriter, r *http.Request, q domain.Question) {
	progress, err := h.service.Progress(r.Context(), r.PathValue("user"), q.Key())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, questionResponse{Question: q, Progress: progress})
}

func (h *ProgressHandler) question(w http.ResponseWriter, r *http.Request) {
	q, err := h.questions.GetQuestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respondQuestion(w, r, q)
}

func (h *ProgressHandler) neighbor(w http.ResponseWriter, r *http.Request) {
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "offset must be an integer"})
		return
	}
	questions, _, err := h.filtered(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q, err := catalog.Neighbor(questions, r.PathValue("id"), offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respondQuestion(w, r, q)
}

func (h *ProgressHandler) jump(w http.ResponseWriter, r *http.Request) {
	all, err := h.questions.ListQuestions(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	q, err := catalog.Jump(all, r.URL.Query().Get("questionId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respondQuestion(w, r, q)
}

func (h *ProgressHandler) selectAnswer(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid select payload"})
		return
	}
	sel, err := h.service.Select(r.Context(), r.PathValue("user"), r.PathValue("id"), req.AnswerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *ProgressHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "invalid submit payload"})
		return
	}
	user := r.PathValue("user")
	q, err := h.questions.GetQuestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	correct, err := h.service.Submit(r.Context(), user, &q, req.Selected)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	progress, err := h.service.Progress(r.Context(), user, q.Key())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{QuestionID: q.Key(), Correct: correct, Progress: progress})
}

func (h *ProgressHandler) reset(w http.ResponseWriter, r *http.Request) {
	sel, err := h.service.Reset(r.Context(), r.PathValue("user"), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func (h *ProgressHandler) setMastery(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, h.logger, domain.ErrInvalidMastery)
		return
	}
	var mastered bool
	raw, ok := body["mastered"]
	if !ok || json.Unmarshal(raw, &mastered) != nil {
		writeError(w, h.logger, domain.ErrInvalidMastery)
		return
	}
	if err := h.service.SetMastery(r.Context(), r.PathValue("user"), r.PathValue("id"), mastered); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProgressHandler) clearMastery(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearMasteryOverride(r.Context(), r.PathValue("user"), r.PathValue("id")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProgressHandler) resetAll(w http.ResponseWriter, r *http.Request) {
	if confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !confirm {
		writeError(w, h.logger, fmt.Errorf("reset all progress: %w", domain.ErrConfirmationRequired))
		return
	}
	if err := h.service.ResetAll(r.Context(), r.PathValue("user")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
