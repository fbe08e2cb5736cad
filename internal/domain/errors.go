package domain

import "errors"

// Sentinel errors shared across the store boundary. Callers match them with
// errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrForbidden     = errors.New("forbidden")
	ErrQuotaExceeded = errors.New("daily quota exceeded")
	ErrInvalidRecord = errors.New("invalid record")
)
