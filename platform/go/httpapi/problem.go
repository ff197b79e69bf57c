// Package httpapi carries the RFC 7807 problem-details envelope used by
// every handler, plus the mapping from domain errors to HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nivello-hq/nivello-core/platform/go/persistence"
)

const (
	ProblemTypeValidation          = "https://nivello.io/problems/validation-error"
	ProblemTypeNotFound            = "https://nivello.io/problems/not-found"
	ProblemTypeConflict            = "https://nivello.io/problems/conflict"
	ProblemTypeInvariantViolation  = "https://nivello.io/problems/invariant-violation"
	ProblemTypePrerequisiteMissing = "https://nivello.io/problems/prerequisite-missing"
	ProblemTypeInternal            = "https://nivello.io/problems/internal-error"
)

// ProblemDetails is the application/problem+json response body.
type ProblemDetails struct {
	Type            string `json:"type"`
	Title           string `json:"title"`
	Status          int    `json:"status"`
	Detail          string `json:"detail,omitempty"`
	EntityID        string `json:"entityId,omitempty"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

// ProblemForError maps a domain error onto a status code and problem body.
// Optimistic-lock conflicts keep the entity id and rejected version so the
// caller can fetch and retry.
func ProblemForError(err error) (int, ProblemDetails) {
	var conflict *persistence.ConflictError
	switch {
	case errors.As(err, &conflict):
		expected := conflict.ExpectedVersion
		return http.StatusConflict, ProblemDetails{
			Type:            ProblemTypeConflict,
			Title:           "Version conflict",
			Status:          http.StatusConflict,
			Detail:          conflict.Error(),
			EntityID:        conflict.EntityID,
			ExpectedVersion: &expected,
		}
	case errors.Is(err, persistence.ErrInvalidArgument):
		return http.StatusBadRequest, ProblemDetails{
			Type:   ProblemTypeValidation,
			Title:  "Invalid request",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
		}
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound, ProblemDetails{
			Type:   ProblemTypeNotFound,
			Title:  "Not found",
			Status: http.StatusNotFound,
			Detail: err.Error(),
		}
	case errors.Is(err, persistence.ErrInvariantViolation):
		return http.StatusConflict, ProblemDetails{
			Type:   ProblemTypeInvariantViolation,
			Title:  "Invariant violation",
			Status: http.StatusConflict,
			Detail: err.Error(),
		}
	case errors.Is(err, persistence.ErrPrerequisiteMissing):
		return http.StatusPreconditionFailed, ProblemDetails{
			Type:   ProblemTypePrerequisiteMissing,
			Title:  "Prerequisite missing",
			Status: http.StatusPreconditionFailed,
			Detail: err.Error(),
		}
	default:
		return http.StatusInternalServerError, ProblemDetails{
			Type:   ProblemTypeInternal,
			Title:  "Internal error",
			Status: http.StatusInternalServerError,
		}
	}
}

// WriteProblem maps err and writes the problem+json response, logging
// internal failures with their cause.
func WriteProblem(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, problem := ProblemForError(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteJSON writes a JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
