package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotJSON is returned by Parse when the body is not a single JSON value.
// The guard does not reject such bodies; the downstream handler does.
var ErrNotJSON = errors.New("body is not valid JSON")

// Parse decodes raw into the generic representation Scan walks.
// Numbers are kept as json.Number so large integers survive untouched.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after value", ErrNotJSON)
	}
	return v, nil
}

// CheckNesting rejects raw JSON whose container nesting alone already
// exceeds limits.MaxDepth, without decoding it.
//
// It runs before Parse so adversarially deep input is refused in a single
// linear pass instead of being handed to the decoder. A container opened
// at bracket level n sits at depth n-1, so only nesting deeper than
// MaxDepth+1 brackets is refused here; Scan still enforces the exact limit.
// The reported path is the root because no value has been decoded yet.
func CheckNesting(raw []byte, limits Limits) error {
	if limits.MaxDepth <= 0 {
		return nil
	}

	level := 0
	inString, escaped := false, false
	for _, c := range raw {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			level++
			if level > limits.MaxDepth+1 {
				return newViolation(CodeInputLimitExceeded, "/", limits.MaxDepth, level-1)
			}
		case '}', ']':
			level--
		}
	}
	return nil
}
