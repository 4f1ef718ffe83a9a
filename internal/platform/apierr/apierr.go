package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure. Services return apierr values; the
// HTTP layer alone translates Kind into a status code.
type Kind string

const (
	KindBadRequest   Kind = "bad_request"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUpstream     Kind = "upstream_unavailable"
	KindInternal     Kind = "internal"
)

type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%s)", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

func BadRequest(code string, err error) *Error   { return New(KindBadRequest, code, err) }
func Unauthorized(code string, err error) *Error { return New(KindUnauthorized, code, err) }
func Forbidden(code string, err error) *Error    { return New(KindForbidden, code, err) }
func NotFound(code string, err error) *Error     { return New(KindNotFound, code, err) }
func Conflict(code string, err error) *Error     { return New(KindConflict, code, err) }
func Upstream(code string, err error) *Error     { return New(KindUpstream, code, err) }
func Internal(code string, err error) *Error     { return New(KindInternal, code, err) }

// KindOf extracts the Kind from an error chain, defaulting to internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// CodeOf extracts the machine-readable code, empty when the chain carries none.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
