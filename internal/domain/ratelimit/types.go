// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// Policy defines the fixed-window rate limiting parameters.
type Policy struct {
	// Limit is the number of requests allowed inside one window.
	Limit int

	// Window is the length of one counting window.
	Window time.Duration
}

// Record is the counter state stored for one client key.
// Count is only meaningful while now is before ResetAt; an expired record
// is replaced wholesale, never incremented.
type Record struct {
	Count   int64
	ResetAt time.Time
}

// Expired reports whether the record's window has elapsed at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ResetAt)
}

// Result contains the result of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Count is the request count inside the current window, including this request.
	Count int64

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the current window resets.
	// Only meaningful when Allowed is false; always positive in that case.
	RetryAfter time.Duration

	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// KeyType identifies the type of rate limit key.
type KeyType string

// KeyTypeClient is for client-address based rate limiting.
// The value is expected to be a salted hash, never the raw address.
const KeyTypeClient KeyType = "client"

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Example: FormatKey(KeyTypeClient, "3fa1c0d2") -> "ratelimit:client:3fa1c0d2"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
