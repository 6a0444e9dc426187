// Package apperr defines the error taxonomy shared by the ingestion and retrieval pipeline.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so callers can render differentiated guidance.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindNotFound     Kind = "not_found"
	KindFetch        Kind = "fetch"
	KindParse        Kind = "parse"
	KindEmptyContent Kind = "empty_content"
	KindProvider     Kind = "provider"
	KindNotReady     Kind = "not_ready"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// Error is a classified pipeline error. Err is the underlying cause, if any.
type Error struct {
	Kind      Kind
	Op        string
	Err       error
	Retryable bool
	// State is the document state observed when Kind is KindNotReady.
	State string
}

// Sentinels for errors.Is comparisons. They match any *Error of the same kind.
var (
	ErrAuth         = &Error{Kind: KindAuth}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrFetch        = &Error{Kind: KindFetch}
	ErrParse        = &Error{Kind: KindParse}
	ErrEmptyContent = &Error{Kind: KindEmptyContent}
	ErrProvider     = &Error{Kind: KindProvider}
	ErrNotReady     = &Error{Kind: KindNotReady}
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
)

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.State != "" {
		msg += " (state " + e.State + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.State == "" && t.Kind == e.Kind
}

// E builds an error of the given kind. Fetch errors are retryable by default.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Retryable: kind == KindFetch}
}

// Errorf builds an error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return E(kind, op, fmt.Errorf(format, args...))
}

// Transient builds a retryable error of the given kind.
func Transient(kind Kind, op string, err error) *Error {
	e := E(kind, op, err)
	e.Retryable = true
	return e
}

// NotReady builds the state signal returned when a document is not yet indexed.
// reason is the failure reason when state is "failed".
func NotReady(op, state, reason string) *Error {
	e := &Error{Kind: KindNotReady, Op: op, State: state}
	if reason != "" {
		e.Err = errors.New(reason)
	}
	return e
}

// Wrap classifies err as kind unless it is already classified. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) || errors.Is(err, context.Canceled) {
		return err
	}
	return E(kind, op, err)
}

// KindOf returns the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a transient failure worth retrying.
// Context cancellation and deadline errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

var messages = map[Kind]string{
	KindAuth:         "You are not signed in or do not own this document.",
	KindNotFound:     "The document could not be found.",
	KindFetch:        "The document could not be downloaded. Please try again shortly.",
	KindParse:        "The document format is not supported or the file is corrupt.",
	KindEmptyContent: "No readable text was found in the document.",
	KindProvider:     "The AI service is temporarily unavailable. Please try again shortly.",
	KindNotReady:     "The document is still being processed.",
	KindInvalidInput: "The request is invalid.",
	KindInternal:     "An unexpected error occurred.",
}

// Message returns the stable user-facing message for kind.
func Message(kind Kind) string {
	if m, ok := messages[kind]; ok {
		return m
	}
	return messages[KindInternal]
}

// HTTPStatus maps kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindFetch:
		return http.StatusBadGateway
	case KindParse, KindEmptyContent:
		return http.StatusUnprocessableEntity
	case KindProvider:
		return http.StatusServiceUnavailable
	case KindNotReady:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
