package models

import (
	"errors"
	"fmt"
)

// OutcomeKind tags the result of a workflow call.
type OutcomeKind string

const (
	OutcomeSuccess           OutcomeKind = "success"
	OutcomeValidation        OutcomeKind = "validation"
	OutcomeConflict          OutcomeKind = "conflict"
	OutcomeNotFound          OutcomeKind = "not_found"
	OutcomeRateLimited       OutcomeKind = "rate_limited"
	OutcomeInvalidCode       OutcomeKind = "invalid_code"
	OutcomeNotAuthenticated  OutcomeKind = "not_authenticated"
	OutcomeNoActionAvailable OutcomeKind = "no_action_available"
	OutcomeDateNotFound      OutcomeKind = "date_not_found"
	OutcomeInteractionFailed OutcomeKind = "interaction_failed"
	OutcomeStorageFailed     OutcomeKind = "storage_failed"
)

var kindErrors = map[OutcomeKind]error{
	OutcomeValidation:        ErrValidation,
	OutcomeConflict:          ErrConflict,
	OutcomeNotFound:          ErrNotFound,
	OutcomeRateLimited:       ErrRateLimited,
	OutcomeInvalidCode:       ErrInvalidCode,
	OutcomeNotAuthenticated:  ErrNotAuthenticated,
	OutcomeNoActionAvailable: ErrNoActionAvailable,
	OutcomeDateNotFound:      ErrDateNotFound,
	OutcomeInteractionFailed: ErrExternalInteraction,
	OutcomeStorageFailed:     ErrStorage,
}

// Outcome is the structured {success, message} result every workflow call returns.
type Outcome struct {
	Kind       OutcomeKind
	Message    string
	SessionKey string
	cause      error
}

// Succeeded builds a success outcome.
func Succeeded(message string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Message: message}
}

// Failed builds a failure outcome of the given kind. cause may be nil.
func Failed(kind OutcomeKind, message string, cause error) Outcome {
	return Outcome{Kind: kind, Message: message, cause: cause}
}

// Success reports whether the call succeeded.
func (o Outcome) Success() bool {
	return o.Kind == OutcomeSuccess
}

// Err returns nil on success, otherwise an error matching the kind sentinel
// with errors.Is and wrapping the original cause.
func (o Outcome) Err() error {
	if o.Success() {
		return nil
	}
	sentinel, ok := kindErrors[o.Kind]
	if !ok {
		sentinel = errors.New(string(o.Kind))
	}
	if o.cause == nil {
		return sentinel
	}
	if errors.Is(o.cause, sentinel) {
		return o.cause
	}
	return fmt.Errorf("%w: %w", sentinel, o.cause)
}

func (o Outcome) String() string {
	return fmt.Sprintf("%s: %s", o.Kind, o.Message)
}
