package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/desertthunder/dlx/internal/models"
	"github.com/desertthunder/dlx/internal/shared"
)

// Error is a classified engine failure.
type Error struct {
	Category models.Category
	Op       string // Engine subcommand, e.g. "download"
	Message  string // Human readable summary, safe to show callers
	Err      error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Category, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an [*Error].
func NewError(category models.Category, op, message string, err error) *Error {
	return &Error{Category: category, Op: op, Message: message, Err: err}
}

// CategoryOf maps any error produced while executing a task to a failure category.
func CategoryOf(err error) models.Category {
	var engineErr *Error
	var taskErr *models.TaskError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &engineErr):
		return engineErr.Category
	case errors.As(err, &taskErr):
		return taskErr.Category
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return models.CategoryTimeout
	case errors.Is(err, shared.ErrMissingArtifact):
		// The engine claimed success without writing anything.
		return models.CategoryEngineFailure
	case errors.Is(err, shared.ErrInvalidRequest):
		return models.CategoryInvalidRequest
	case errors.Is(err, shared.ErrTaskNotFound):
		return models.CategoryNotFound
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission), isPathError(err):
		return models.CategoryIOFailure
	default:
		return models.CategoryEngineFailure
	}
}

// MessageOf returns a caller-safe description of err.
//
// Filesystem errors are reduced to their operation so absolute paths never
// leave the process.
func MessageOf(err error) string {
	var engineErr *Error
	var taskErr *models.TaskError
	var pathErr *fs.PathError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &engineErr):
		return engineErr.Message
	case errors.As(err, &taskErr):
		return taskErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "engine call exceeded the configured timeout"
	case errors.Is(err, shared.ErrMissingArtifact):
		return "engine reported success but produced no file"
	case errors.As(err, &pathErr):
		return fmt.Sprintf("filesystem %s failed: %v", pathErr.Op, pathErr.Err)
	default:
		return err.Error()
	}
}

func isPathError(err error) bool {
	var pathErr *fs.PathError
	var linkErr *os.LinkError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr)
}

var notFoundMarkers = []string{
	"no results found",
	"lookuperror",
	"songnotfound",
	"could not find",
	"invalid id",
	"non existing id",
	"404",
}

// classify maps the stderr of a failed engine run to a category.
func classify(stderr string) models.Category {
	lower := strings.ToLower(stderr)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return models.CategoryNotFound
		}
	}
	return models.CategoryEngineFailure
}

// tail returns the last non-empty line of s, trimmed to max bytes.
func tail(s string, max int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > max {
			line = strings.ToValidUTF8(line[len(line)-max:], "")
		}
		return line
	}
	return ""
}
