package domain

import "errors"

var (
	// ErrQuestionNotFound indicates the question bank has no such question.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAnswerNotFound indicates a selection naming an answer the question does not have.
	ErrAnswerNotFound = errors.New("answer not found")
	// ErrUpstreamStatus is returned when the question API answers with a non-2xx status.
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	// ErrConfirmationRequired guards irreversible operations such as a full reset.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrInvalidMastery indicates a mastery flag that is not a boolean.
	ErrInvalidMastery = errors.New("mastery flag must be a boolean")
	// ErrMissingUser indicates an operation without a progress scope.
	ErrMissingUser = errors.New("user id required")
)
