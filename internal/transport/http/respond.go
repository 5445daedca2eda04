package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"quiz-offline-service/internal/catalog"
	"quiz-offline-service/internal/domain"
)

type errorPayload struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to statuses; anything unknown is a 500 and logged.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, catalog.ErrNoNeighbor):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAnswerNotFound),
		errors.Is(err, domain.ErrInvalidMastery),
		errors.Is(err, domain.ErrMissingUser):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrConfirmationRequired):
		status = http.StatusPreconditionRequired
	case errors.Is(err, domain.ErrUpstreamStatus):
		status = http.StatusBadGateway
	default:
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorPayload{Message: err.Error()})
}
