package gate

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
	"github.com/Sentinel-Gate/rpcgate/internal/domain/validation"
)

// Kind is the top-level rejection category reported in the "error" field.
type Kind string

const (
	KindRateLimited      Kind = "rate_limited"
	KindUnauthorized     Kind = "unauthorized"
	KindPayloadTooLarge  Kind = "payload_too_large"
	KindAuthFailed       Kind = "auth_failed"
	KindValidationError  Kind = "validation_error"
	KindConnectionLimit  Kind = "connection_limit"
	KindStoreUnavailable Kind = "store_unavailable"
	KindOriginNotAllowed Kind = "origin_not_allowed"
	KindInternalError    Kind = "internal_error"
)

// Rejection is the structured decision of a failing gate.
// It never carries secrets, the raw body or the raw client address.
type Rejection struct {
	Kind    Kind
	Code    string
	Status  int
	Message string

	// RetryAfter is set for rate_limited.
	RetryAfter time.Duration
	// Limit is set for payload_too_large.
	Limit int64
	// Violation is set for validation_error.
	Violation *validation.Violation

	err error
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Code != "" && r.Code != string(r.Kind) {
		return fmt.Sprintf("%s (%s): %s", r.Kind, r.Code, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

// Unwrap returns the underlying cause, if any.
func (r *Rejection) Unwrap() error {
	return r.err
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1.
func (r *Rejection) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// AsRejection extracts a *Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// RateLimited rejects a client over its window budget.
func RateLimited(retryAfter time.Duration) *Rejection {
	return &Rejection{
		Kind:       KindRateLimited,
		Code:       string(KindRateLimited),
		Status:     http.StatusTooManyRequests,
		Message:    "too many requests",
		RetryAfter: retryAfter,
	}
}

// Unauthorized rejects a missing or wrong static bearer token.
func Unauthorized() *Rejection {
	return &Rejection{
		Kind:    KindUnauthorized,
		Code:    string(KindUnauthorized),
		Status:  http.StatusUnauthorized,
		Message: "missing or invalid bearer token",
	}
}

// PayloadTooLarge rejects a body over limit bytes.
func PayloadTooLarge(limit int64) *Rejection {
	return &Rejection{
		Kind:    KindPayloadTooLarge,
		Code:    string(KindPayloadTooLarge),
		Status:  http.StatusRequestEntityTooLarge,
		Message: "request body too large",
		Limit:   limit,
	}
}

// AuthFailed wraps a signature verification failure. A weak secret is a
// server misconfiguration and maps to 500; every other code is 401.
func AuthFailed(err *auth.Error) *Rejection {
	status := http.StatusUnauthorized
	if err.Code == auth.CodeWeakSecret {
		status = http.StatusInternalServerError
	}
	return &Rejection{
		Kind:    KindAuthFailed,
		Code:    string(err.Code),
		Status:  status,
		Message: err.Message,
		err:     err,
	}
}

// ValidationFailed wraps a payload guard violation.
func ValidationFailed(v *validation.Violation) *Rejection {
	return &Rejection{
		Kind:      KindValidationError,
		Code:      v.Code,
		Status:    http.StatusBadRequest,
		Message:   "payload exceeds structural limits",
		Violation: v,
		err:       v,
	}
}

// ConnectionLimit rejects a streaming connection over the concurrency cap.
func ConnectionLimit() *Rejection {
	return &Rejection{
		Kind:    KindConnectionLimit,
		Code:    string(KindConnectionLimit),
		Status:  http.StatusServiceUnavailable,
		Message: "too many concurrent streaming connections",
	}
}

// StoreUnavailable rejects a request because a fail-closed store errored.
func StoreUnavailable(err error) *Rejection {
	return &Rejection{
		Kind:    KindStoreUnavailable,
		Code:    string(KindStoreUnavailable),
		Status:  http.StatusServiceUnavailable,
		Message: "security state store unavailable",
		err:     err,
	}
}

// OriginNotAllowed rejects a CORS preflight from an unlisted origin.
func OriginNotAllowed() *Rejection {
	return &Rejection{
		Kind:    KindOriginNotAllowed,
		Code:    string(KindOriginNotAllowed),
		Status:  http.StatusForbidden,
		Message: "origin not allowed",
	}
}

// Internal reports an unexpected failure while handling the request.
func Internal(err error) *Rejection {
	return &Rejection{
		Kind:    KindInternalError,
		Code:    string(KindInternalError),
		Status:  http.StatusInternalServerError,
		Message: "internal error",
		err:     err,
	}
}
