package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/desertthunder/dlx/internal/engine"
	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// Problem is the body of every error response.
type Problem struct {
	Category models.Category `json:"category"`
	Message  string          `json:"message"`
}

type problemResponse struct {
	Error Problem `json:"error"`
}

var categoryStatus = map[models.Category]int{
	models.CategoryInvalidRequest:    http.StatusBadRequest,
	models.CategoryNotFound:          http.StatusNotFound,
	models.CategoryTaskBusy:          http.StatusConflict,
	models.CategoryNotCompleted:      http.StatusConflict,
	models.CategoryInvalidTransition: http.StatusConflict,
	models.CategoryEngineFailure:     http.StatusBadGateway,
	models.CategoryIOFailure:         http.StatusInternalServerError,
	models.CategoryTimeout:           http.StatusGatewayTimeout,
	models.CategoryQueueFull:         http.StatusServiceUnavailable,
	models.CategoryUnavailable:       http.StatusServiceUnavailable,
	models.CategoryRateLimited:       http.StatusTooManyRequests,
}

// StatusFor returns the HTTP status for a failure category.
func StatusFor(c models.Category) int {
	if status, ok := categoryStatus[c]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// categorize maps errors surfaced by handlers to an API category. Execution
// errors are delegated to [engine.CategoryOf].
func categorize(err error) models.Category {
	switch {
	case errors.Is(err, shared.ErrQueueFull):
		return models.CategoryQueueFull
	case errors.Is(err, shared.ErrShuttingDown):
		return models.CategoryUnavailable
	case errors.Is(err, shared.ErrTaskBusy):
		return models.CategoryTaskBusy
	case errors.Is(err, shared.ErrNotCompleted):
		return models.CategoryNotCompleted
	case errors.Is(err, shared.ErrInvalidTransition):
		return models.CategoryInvalidTransition
	case errors.Is(err, shared.ErrLinkExpired):
		return models.CategoryNotFound
	case errors.Is(err, context.Canceled):
		return models.CategoryUnavailable
	default:
		return engine.CategoryOf(err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, category models.Category, message string) {
	writeJSON(w, status, problemResponse{Error: Problem{Category: category, Message: message}})
}

// writeError renders err without exposing paths or internals.
func writeError(w http.ResponseWriter, err error) {
	category := categorize(err)
	message := engine.MessageOf(err)

	switch category {
	case models.CategoryIOFailure:
		message = "internal storage error"
	case models.CategoryQueueFull, models.CategoryUnavailable, models.CategoryTaskBusy, models.CategoryNotCompleted, models.CategoryInvalidTransition:
		message = err.Error()
	case models.CategoryNotFound:
		if errors.Is(err, shared.ErrLinkExpired) {
			message = "link expired or not found"
		}
	}
	writeProblem(w, StatusFor(category), category, message)
}
