package panel

import (
	"errors"
	"fmt"
)

// Kind classifies a panel failure so the retry layer can decide between
// retrying, forcing re-auth, or giving up.
type Kind int

const (
	// KindNetwork covers timeouts and connection failures. Retryable.
	KindNetwork Kind = iota
	// KindServer covers 5xx responses. Retryable.
	KindServer
	// KindAuth covers 401. One forced re-login, then fatal.
	KindAuth
	// KindNotFound covers 404. Benign absence, never retried.
	KindNotFound
	// KindValidation covers malformed requests or panel-side rejections.
	// Fatal, never retried.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	}
	return "unknown"
}

// Error is the only error type crossing the panel package boundary.
type Error struct {
	Kind   Kind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("panel: %s: %s error: %v", e.Op, e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("panel: %s: %s error (status %d)", e.Op, e.Kind, e.Status)
	}
	return fmt.Sprintf("panel: %s: %s error", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, status int, err error) *Error {
	return &Error{Kind: kind, Op: op, Status: status, Err: err}
}

func kindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404-class absence.
func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAuth
}

// IsRetryable reports whether the retry wrapper may try again: network
// faults and 5xx only. 401 and 404 are resolved by other means, and
// validation errors never heal on their own.
func IsRetryable(err error) bool {
	k, ok := kindOf(err)
	if !ok {
		// Unclassified errors come from the transport
		return true
	}
	return k == KindNetwork || k == KindServer
}

// statusKind maps an HTTP status to an error kind. 2xx is not an error
// and must not reach this.
func statusKind(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 404:
		return KindNotFound
	case status >= 500:
		return KindServer
	default:
		return KindValidation
	}
}
