// Package scim implements the SCIM 2.0 provisioning surface: filter and
// patch parsing, resource serialization, deterministic role-group ids, and
// transactional membership reconciliation.
package scim

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the closed set of domain error kinds the provisioning engine
// produces. Kinds carry structured intent across the transaction boundary;
// handlers map them to HTTP statuses and SCIM error envelopes.
type ErrorKind string

const (
	KindAuthInvalid      ErrorKind = "auth_invalid"
	KindRateLimited      ErrorKind = "rate_limited"
	KindInvalidFilter    ErrorKind = "invalid_filter"
	KindInvalidPatch     ErrorKind = "invalid_patch"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindNotFound         ErrorKind = "not_found"
	KindOwnerProtected   ErrorKind = "owner_protected"
	KindNoSuchMember     ErrorKind = "no_such_member"
	KindMethodNotAllowed ErrorKind = "method_not_allowed"
	KindInternal         ErrorKind = "internal"
)

// HTTPStatus maps an error kind to its protocol status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindAuthInvalid:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidFilter, KindInvalidPatch, KindInvalidRequest, KindNoSuchMember:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindOwnerProtected:
		return http.StatusForbidden
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// scimType returns the RFC 7644 scimType keyword for the kind, or "".
func (k ErrorKind) scimType() string {
	switch k {
	case KindInvalidFilter:
		return "invalidFilter"
	case KindInvalidPatch:
		return "invalidPath"
	case KindInvalidRequest:
		return "invalidSyntax"
	case KindNoSuchMember:
		return "invalidValue"
	case KindOwnerProtected:
		return "mutability"
	default:
		return ""
	}
}

// Error is a typed domain error.
type Error struct {
	Kind   ErrorKind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Detail
}

// E builds a typed domain error.
func E(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of err, or KindInternal for unrecognized errors
// so that store failures surface as 5xx instead of being masked.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Detail returns the user-visible detail of err. Unrecognized errors get a
// fixed message; internals never leak into response bodies.
func Detail(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Detail
	}
	return "Internal server error"
}
