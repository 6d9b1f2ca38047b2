// Package apperr defines the error taxonomy shared by services and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"

	"gorm.io/gorm"
)

var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// InternalMessage is the only text a caller ever sees for unexpected failures.
const InternalMessage = "Internal server error"

// Error carries a caller-safe message alongside one of the sentinel kinds.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func BadRequest(msg string) error   { return &Error{Kind: ErrBadRequest, Message: msg} }
func NotFound(msg string) error     { return &Error{Kind: ErrNotFound, Message: msg} }
func Conflict(msg string) error     { return &Error{Kind: ErrConflict, Message: msg} }
func Unauthorized(msg string) error { return &Error{Kind: ErrUnauthorized, Message: msg} }
func Forbidden(msg string) error    { return &Error{Kind: ErrForbidden, Message: msg} }

// FromDB translates well-known GORM errors into the taxonomy. notFound is the
// message used when the record does not exist.
func FromDB(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Conflict("Resource already exists")
	default:
		return err
	}
}

// Status maps err to an HTTP status code and a message that is safe to return.
// Unknown errors map to 500 with a generic message.
func Status(err error) (int, string) {
	var status int
	switch {
	case errors.Is(err, ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	default:
		return http.StatusInternalServerError, InternalMessage
	}

	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return status, appErr.Message
	}
	return status, http.StatusText(status)
}
