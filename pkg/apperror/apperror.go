// Package apperror implements the error taxonomy from spec.md §7: a
// closed set of kinds mapped to HTTP status codes in one place, so
// handlers don't each reinvent the mapping the way the teacher's
// per-handler http.Error calls do.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	KindConflict
	KindDigestMismatch
	KindTransport
	KindWeightsMissing
	KindLoadFailed
	KindChannelClosed
	KindIncomplete
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(msg string) *Error         { return New(KindNotFound, msg) }
func BadRequest(msg string) *Error       { return New(KindBadRequest, msg) }
func Conflict(msg string) *Error         { return New(KindConflict, msg) }
func DigestMismatch(msg string) *Error   { return New(KindDigestMismatch, msg) }
func Transport(msg string, err error) *Error {
	return Wrap(KindTransport, msg, err)
}
func WeightsMissing(msg string) *Error { return New(KindWeightsMissing, msg) }
func LoadFailed(msg string, err error) *Error {
	return Wrap(KindLoadFailed, msg, err)
}
func ChannelClosed() *Error { return New(KindChannelClosed, "client disconnected") }

// Incomplete reports a download that ended with fewer than the
// expected number of bytes (spec.md §4.3). It is retryable like
// Transport, so it maps to the same status.
func Incomplete(msg string) *Error { return New(KindIncomplete, msg) }

// KindOf unwraps err looking for an *Error and returns its Kind, or
// KindUnknown if none is found.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a Kind to the status code from spec.md §7.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound, KindWeightsMissing:
		return http.StatusNotFound
	case KindBadRequest, KindDigestMismatch:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindTransport, KindIncomplete:
		return http.StatusBadGateway
	case KindLoadFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor is a convenience wrapper: it classifies err and returns the
// status code to write.
func StatusFor(err error) int {
	return HTTPStatus(KindOf(err))
}

// IsNotFound reports whether err (or a WeightsMissing, which is also a
// 404 but a distinct kind per spec.md §7) is a not-found condition.
func IsNotFound(err error) bool {
	k := KindOf(err)
	return k == KindNotFound || k == KindWeightsMissing
}
