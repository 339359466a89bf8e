package services

import "errors"

// Failure kinds surfaced by the identity and session services. Handlers
// translate these to HTTP statuses; StoreUnavailable is the only kind a
// caller may retry.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidState     = errors.New("invalid state")
	ErrCodeMismatch     = errors.New("code mismatch")
	ErrCodeExpired      = errors.New("code expired")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrValidation       = errors.New("validation failed")
)
