// Package ragerr defines the error taxonomy shared across ragcore's
// pipeline stages and HTTP surface. Every error a handler returns to a
// caller should be classifiable into one of these kinds so
// internal/httpapi can map it to the right status code.
package ragerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the taxonomy's seven error classes.
type Kind string

const (
	BadInput Kind = "BAD_INPUT"
	NotFound Kind = "NOT_FOUND"
	Conflict Kind = "CONFLICT"
	Upstream Kind = "UPSTREAM"
	Timeout  Kind = "TIMEOUT"
	Store    Kind = "STORE"
	Internal Kind = "INTERNAL"

	// LLMParse is a specialization of Upstream for a completion that
	// could not be coerced into the requested structured shape (spec §4.2).
	LLMParse Kind = "LLM_PARSE"
)

// Error is a taxonomy-tagged error. It wraps an underlying cause and
// carries the Kind used to pick an HTTP status code.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error's Kind to the status code spec.md §6/§7
// requires. Unrecognized kinds (including a plain, untagged error) map
// to 500.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case BadInput:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Upstream, LLMParse:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusRequestTimeout
	case Store:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New builds a new tagged error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags err with kind, preserving it as the unwrap chain's cause.
// Wrap(kind, msg, nil) returns nil, matching the fmt.Errorf(...%w...)
// convention of a no-op wrap over a nil error.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// HTTPStatus extracts the HTTP status code for any error, falling back
// to 500 for errors that are not a *ragerr.Error.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// KindOf extracts the Kind for any error, falling back to Internal for
// errors that are not a *ragerr.Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
