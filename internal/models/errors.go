package models

import "errors"

// Error kinds surfaced by the login and booking workflows.
var (
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("login already in progress")
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidCode         = errors.New("invalid code")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoActionAvailable   = errors.New("no action available")
	ErrDateNotFound        = errors.New("date not found")
	ErrExternalInteraction = errors.New("external interaction failed")
	ErrStorage             = errors.New("storage failure")
)
