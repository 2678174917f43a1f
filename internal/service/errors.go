package service

import "errors"

// Failures the chat core reports back to a connection or HTTP caller.
var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMalformedInput  = errors.New("malformed input")
)

// Identity collaborator failures.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidToken       = errors.New("invalid or expired session")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidUsername    = errors.New("username must be 3-32 letters, digits or underscores")
)

// ErrorCode maps an error onto the wire taxonomy used in error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrUserExists):
		return "conflict"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrMalformedInput),
		errors.Is(err, ErrWeakPassword),
		errors.Is(err, ErrInvalidUsername):
		return "malformed_input"
	default:
		return "internal"
	}
}
