package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStaleVersion      = errors.New("stale version")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrValidation        = errors.New("validation failed")
	ErrDeliveryRetryable = errors.New("delivery retryable")
	ErrDeliveryFatal     = errors.New("delivery fatal")
	ErrRunAborted        = errors.New("run aborted")

	// ErrRunLocked is returned when another run already holds the run-lock.
	ErrRunLocked = errors.New("another run is in progress")
	// ErrDuplicateRun is returned when a run for the same scheduled slot exists.
	ErrDuplicateRun = errors.New("run already exists for slot")
	// ErrRunNotRunning is returned when finishing a run that already finished.
	ErrRunNotRunning = errors.New("run is not running")
	// ErrDuplicateDelivery is returned when a second Success is logged for
	// the same (suggestion, channel).
	ErrDuplicateDelivery = errors.New("delivery already succeeded")
)

type SourceUnavailableError struct {
	SourceID SourceID
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.SourceID, e.Err)
}

func (e *SourceUnavailableError) Unwrap() []error { return []error{ErrSourceUnavailable, e.Err} }

// ValidationError describes one raw record dropped by the normalizer.
type ValidationError struct {
	SourceID SourceID
	Index    int
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("source %s record %d: %s: %s", e.SourceID, e.Index, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type InvalidTransitionError struct {
	SuggestionID uuid.UUID
	From         SuggestionState
	Action       Action
	Reason       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("suggestion %s: cannot %s from %s: %s", e.SuggestionID, e.Action, e.From, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type DeliveryError struct {
	SuggestionID uuid.UUID
	Channel      Channel
	Outcome      DeliveryOutcome
	StatusCode   int
	Err          error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver %s/%s: %s: %v", e.SuggestionID, e.Channel, e.Outcome, e.Err)
	}
	return fmt.Sprintf("deliver %s/%s: %s: status %d", e.SuggestionID, e.Channel, e.Outcome, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error {
	if e.Outcome == OutcomeRetryable {
		return ErrDeliveryRetryable
	}
	return ErrDeliveryFatal
}

type RunAbortedError struct {
	RunID  uuid.UUID
	Reason string
}

func (e *RunAbortedError) Error() string {
	return fmt.Sprintf("run %s aborted: %s", e.RunID, e.Reason)
}

func (e *RunAbortedError) Unwrap() error { return ErrRunAborted }
