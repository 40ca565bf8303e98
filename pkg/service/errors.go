package service

import "github.com/pkg/errors"

// Sentinel errors reported by the services. All are surfaced to the caller,
// none are retried internally; a failed call leaves run and task state
// unchanged so the caller may retry with corrected input.
var (
	// ErrInvalidDefinition rejects a malformed workflow template at
	// registration time, never at runtime.
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrDefinitionExists rejects re-registration under an existing id;
	// changed workflows must use a new id/version.
	ErrDefinitionExists = errors.New("workflow definition already registered")

	// ErrForbidden rejects a task resolution whose actor does not hold the
	// stage's required role or is not the task's assignee.
	ErrForbidden = errors.New("actor not permitted to resolve task")

	// ErrInvalidOutcome rejects an outcome not allowed for the task's stage.
	ErrInvalidOutcome = errors.New("outcome not allowed for stage")

	// ErrAlreadyResolved rejects operations on a task that is no longer
	// pending.
	ErrAlreadyResolved = errors.New("task already resolved or expired")

	// ErrAlreadyTerminal rejects operations on a completed or cancelled run.
	ErrAlreadyTerminal = errors.New("workflow run already completed or cancelled")

	// ErrStorageUnavailable signals a failed transactional commit. Recovery
	// from a partial failure is handled by Reconcile, not by retrying here.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
