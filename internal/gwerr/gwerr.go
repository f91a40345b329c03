// Package gwerr defines the closed set of error kinds the gateway core can
// surface to a downstream caller or to the retry loop in the dispatch
// engine. Components never return bare errors across a package boundary;
// they wrap them in *Error so the HTTP layer can render a consistent JSON
// envelope and the dispatch engine can decide retry vs terminal failure.
package gwerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories from spec §7.
type Kind string

const (
	Unauthorized          Kind = "unauthorized"
	MissingProviderPrefix Kind = "missing_provider_prefix"
	UnknownProvider       Kind = "unknown_provider"
	ProviderDisabled      Kind = "provider_disabled"
	UnsupportedOperation  Kind = "unsupported_operation"
	NoActiveCredentials   Kind = "no_active_credentials"
	UpstreamTransport     Kind = "upstream_transport"
	UpstreamStatus        Kind = "upstream_status"
	UpstreamParse         Kind = "upstream_parse"
	AuthorizationPending  Kind = "authorization_pending"
	AmbiguousState        Kind = "ambiguous_state"
	// InvalidRequest covers malformed input to the HTTP surface itself
	// (bad query parameters, unparsable JSON bodies) rather than a
	// dispatch-pipeline outcome; it is not part of spec §7's closed
	// pipeline error set but every admin/usage endpoint still needs a
	// way to reject a malformed request.
	InvalidRequest Kind = "invalid_request"
)

// defaultStatus maps a Kind to the HTTP status used when nothing more
// specific is known (upstream_status carries its own status instead).
var defaultStatus = map[Kind]int{
	Unauthorized:          http.StatusUnauthorized,
	MissingProviderPrefix: http.StatusBadRequest,
	UnknownProvider:       http.StatusNotFound,
	ProviderDisabled:      http.StatusConflict,
	UnsupportedOperation:  http.StatusNotFound,
	NoActiveCredentials:   http.StatusServiceUnavailable,
	UpstreamTransport:     http.StatusBadGateway,
	UpstreamStatus:        http.StatusBadGateway,
	UpstreamParse:         http.StatusBadGateway,
	AuthorizationPending:  http.StatusConflict,
	AmbiguousState:        http.StatusBadRequest,
	InvalidRequest:        http.StatusBadRequest,
}

// Error is the typed error crossing every core component boundary.
type Error struct {
	Kind          Kind
	Status        int
	Message       string
	UpstreamBody  string
	Retryable     bool
	RetryAfterSec int
	cause         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an *Error of the given kind with the kind's default status.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Status: defaultStatus[kind], Message: message}
}

// Wrap builds an *Error that preserves an underlying cause for logging.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Status: defaultStatus[kind], Message: cause.Error(), cause: cause}
}

// WithStatus overrides the HTTP status, used by upstream_status errors
// which carry the real upstream status code.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithRetry marks the error retryable and optionally records a
// retry-after hint (seconds) surfaced by the credential the error came
// from, e.g. a 429 response's Retry-After header.
func (e *Error) WithRetry(retryAfterSec int) *Error {
	e.Retryable = true
	e.RetryAfterSec = retryAfterSec
	return e
}

// As reports whether err is (or wraps) a *Error, mirroring errors.As.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
