package services

import "errors"

var (
	// ErrInvalidInput marks missing or malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidSlug is returned for slugs that are not a single path segment.
	ErrInvalidSlug error = &InputError{Msg: "Invalid slug"}
	// ErrNotFound is returned when an entry exists in neither tier.
	ErrNotFound = errors.New("not found")
	// ErrPersistence is returned when a write to an active tier fails.
	ErrPersistence = errors.New("persistence failed")
	// ErrUnavailable is returned by the database tier when it cannot be used.
	ErrUnavailable = errors.New("database unavailable")
	// ErrInvalidCredentials is returned by a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned for missing, invalid or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")
)

// InputError is an ErrInvalidInput whose message is safe to show the caller.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalidInput(msg string) error {
	return &InputError{Msg: msg}
}
