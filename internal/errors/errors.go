package errors

import (
	stderr "errors"
	"fmt"
	"net/http"
)

// AppError is the error value produced by the service layer. Id is a stable
// machine-readable identifier; DetailedError is the human-facing message.
type AppError struct {
	Id            string `json:"id"`
	DetailedError string `json:"detail"`
	StatusCode    int    `json:"code,omitempty"`
	cause         error
}

func (err *AppError) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("%s: %s: %v", err.Id, err.DetailedError, err.cause)
	}
	return fmt.Sprintf("%s: %s", err.Id, err.DetailedError)
}

func (err *AppError) Unwrap() error { return err.cause }

type Option func(*AppError)

// WithCause attaches the underlying error for errors.Is / errors.As chains.
func WithCause(cause error) Option {
	return func(e *AppError) { e.cause = cause }
}

func WithID(id string) Option {
	return func(e *AppError) { e.Id = id }
}

func New(msg string, opts ...Option) *AppError {
	e := &AppError{Id: "app.error", DetailedError: msg, StatusCode: http.StatusInternalServerError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Internal(msg string, opts ...Option) *AppError {
	e := New(msg, opts...)
	e.StatusCode = http.StatusInternalServerError
	if e.Id == "app.error" {
		e.Id = "app.internal"
	}
	return e
}

func InvalidArgument(msg string, opts ...Option) *AppError {
	e := New(msg, opts...)
	e.StatusCode = http.StatusBadRequest
	if e.Id == "app.error" {
		e.Id = "app.invalid_argument"
	}
	return e
}

func NotFound(msg string, opts ...Option) *AppError {
	e := New(msg, opts...)
	e.StatusCode = http.StatusNotFound
	if e.Id == "app.error" {
		e.Id = "app.not_found"
	}
	return e
}

func NotImplemented(msg string, opts ...Option) *AppError {
	e := New(msg, opts...)
	e.StatusCode = http.StatusNotImplemented
	if e.Id == "app.error" {
		e.Id = "app.not_implemented"
	}
	return e
}

func IsNotFound(err error) bool {
	var app *AppError
	if stderr.As(err, &app) && app.StatusCode == http.StatusNotFound {
		return true
	}
	var db *DBNotFoundError
	return stderr.As(err, &db)
}

func IsInvalidArgument(err error) bool {
	var app *AppError
	return stderr.As(err, &app) && app.StatusCode == http.StatusBadRequest
}

// Is and As re-export the stdlib helpers so callers only import this package.
func Is(err, target error) bool { return stderr.Is(err, target) }

func As(err error, target any) bool { return stderr.As(err, target) }
