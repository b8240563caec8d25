// Package auth contains the domain logic for request authentication:
// static bearer tokens and HMAC request signatures with replay protection.
package auth

import (
	"errors"
	"fmt"
)

// Code identifies why signature verification failed.
type Code string

// Signature failure codes, in the order the checks run.
const (
	CodeWeakSecret       Code = "weak_secret"
	CodeMissingSignature Code = "missing_signature"
	CodeBadSignature     Code = "bad_signature"
	CodeStaleTimestamp   Code = "stale_timestamp"
	CodeReplayNonce      Code = "replay_nonce"
)

// Error is returned when a request fails signature verification.
// Message is safe to return to clients: it never contains the secret,
// the expected signature or the request body.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("auth failed (%s): %s", e.Code, e.Message)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrNonceStore is wrapped around nonce store failures when the verifier
// is configured to fail closed.
var ErrNonceStore = errors.New("nonce store unavailable")

// ErrInvalidToken is returned when a bearer token does not match the configured hash.
var ErrInvalidToken = errors.New("invalid bearer token")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")
