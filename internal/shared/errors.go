package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Task lifecycle errors
	ErrTaskNotFound      = fmt.Errorf("task not found")
	ErrTaskBusy          = fmt.Errorf("task is still pending or running")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrQueueFull         = fmt.Errorf("task queue is full")
	ErrShuttingDown      = fmt.Errorf("orchestrator is shutting down")
	ErrNotCompleted      = fmt.Errorf("task has not completed")

	// Artifact errors
	ErrMissingArtifact = fmt.Errorf("artifact missing")
	ErrLinkExpired     = fmt.Errorf("link expired or not found")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTimeout            = fmt.Errorf("operation timed out")
	ErrCacheMiss          = fmt.Errorf("cache miss")

	// Input validation errors
	ErrInvalidRequest  = fmt.Errorf("invalid request")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
