// Package validation guards the shape and size of parsed request payloads.
// It rejects structurally valid but abusive JSON early in the pipeline,
// before any domain handler parses it.
package validation

import "fmt"

// Violation codes.
const (
	// CodeInputLimitExceeded is reported when a depth, array, filter or
	// string limit is exceeded.
	CodeInputLimitExceeded = "input_limit_exceeded"

	// CodeForbiddenKey is reported for prototype-pollution object keys.
	CodeForbiddenKey = "forbidden_key"
)

// forbiddenKeys are rejected wherever they appear as object keys.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// filtersKey is the object key whose array length is capped by MaxFilterClauses.
const filtersKey = "filters"

// Limits bounds the shape of a payload. A zero limit disables that check.
type Limits struct {
	// MaxArrayItems is the longest array accepted at any depth.
	MaxArrayItems int

	// MaxStringLength is the longest string value accepted, in characters.
	MaxStringLength int

	// MaxDepth is the deepest nesting accepted. The root value is at depth 0
	// and every enclosing object or array adds one.
	MaxDepth int

	// MaxFilterClauses caps the array held by any "filters" key.
	MaxFilterClauses int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxArrayItems:    1000,
		MaxStringLength:  10000,
		MaxDepth:         20,
		MaxFilterClauses: 25,
	}
}

// Violation describes exactly one failing constraint.
// Path is a JSON-pointer-like location; "/" is the root.
type Violation struct {
	Code   string
	Path   string
	Limit  int
	Actual int
}

// Error implements the error interface.
func (v *Violation) Error() string {
	if v.Code == CodeForbiddenKey {
		return fmt.Sprintf("%s at %s", v.Code, v.Path)
	}
	return fmt.Sprintf("%s at %s: %d exceeds limit %d", v.Code, v.Path, v.Actual, v.Limit)
}

func newViolation(code, path string, limit, actual int) *Violation {
	return &Violation{Code: code, Path: path, Limit: limit, Actual: actual}
}
