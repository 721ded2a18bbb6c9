package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrMissingReference = errors.New("missing reference")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrLyricsNotFound   = errors.New("lyrics not found")
	ErrInvalidInput     = errors.New("invalid input")
)

// Error pairs a taxonomy kind with a message that is safe to show to the user.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func WrapError(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// UserMessage returns the user-facing message carried by err, or fallback.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
