package domain

import "errors"

// ErrNotFound is returned by store and service functions when the requested
// document does not exist.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails a precondition
// (e.g. an empty identity passed to the mirror).
var ErrValidation = errors.New("validation error")

// ErrUnauthenticated is returned when an operation needs a signed-in identity
// and there is none. Handlers should map this to HTTP 401.
var ErrUnauthenticated = errors.New("unauthenticated")
