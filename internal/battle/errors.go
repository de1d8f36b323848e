package battle

import "errors"

// Request-scoped failures. Always wrapped with context; test with errors.Is.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("battle not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
)
