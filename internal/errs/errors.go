// Package errs implements the kind-based error taxonomy described in
// spec.md §7: every error surfaced across the server carries a Kind so
// the request driver and the reload supervisor can map it to a status
// code or a recovery policy without inspecting error strings.
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies an error by how it should be handled, not by what
// produced it — spec.md §7 "Kinds (not type names)".
type Kind int

const (
	// KindConfig covers parse failure, validation failure, include
	// loop, duplicate filter: fatal at load; on reload the old graph
	// stays active.
	KindConfig Kind = iota
	// KindNetworkTransient covers connection refused, host
	// unreachable, timeout: mapped to 503/504, logged at warn.
	KindNetworkTransient
	// KindUpstream covers bad handshake, protocol error, premature
	// close from a backend: mapped to 502.
	KindUpstream
	// KindClient covers malformed requests: mapped to 4xx per Status.
	KindClient
	// KindACME covers ACME order/account/DNS failures during
	// certificate acquisition or renewal.
	KindACME
	// KindScript covers per-script failures subject to a
	// failure_policy of Block or Skip.
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindNetworkTransient:
		return "network_transient"
	case KindUpstream:
		return "upstream"
	case KindClient:
		return "client"
	case KindACME:
		return "acme"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// Error wraps a cause with a Kind and, for client-facing failures, the
// HTTP status it maps to.
type Error struct {
	Kind   Kind
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

// Cause implements github.com/pkg/errors' Causer interface so
// errors.Cause(e) unwraps to the original error.
func (e *Error) Cause() error { return e.cause }

// New wraps cause as an Error of the given kind, defaulting Status to
// the kind's ordinary mapping (overridable via WithStatus).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Status: defaultStatus(kind), cause: errors.WithStack(cause)}
}

// Newf builds a new Error from a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, errors.Errorf(format, args...))
}

// WithStatus overrides the HTTP status an Error maps to, for the
// Kind-Client cases spec.md §7 enumerates by status (400/401/403/404/
// 405/416/429) rather than by a single default.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

func defaultStatus(kind Kind) int {
	switch kind {
	case KindNetworkTransient:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindClient:
		return http.StatusBadRequest
	case KindConfig, KindACME, KindScript:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// As reports whether err (or something it wraps) is an *Error, and
// returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// StatusOf returns the HTTP status an error maps to: the Error's own
// Status if it is one, otherwise 500 per the propagation policy in
// spec.md §7 ("the driver maps them to a status (500 default)").
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
