package validation

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// pathNode links a value to its parent. The JSON pointer is only
// rendered when a violation is reported.
type pathNode struct {
	parent *pathNode
	key    string
	index  int
}

// String renders the node as an RFC 6901 JSON pointer.
func (n *pathNode) String() string {
	if n == nil {
		return "/"
	}
	var tokens []string
	for p := n; p != nil; p = p.parent {
		if p.index >= 0 {
			tokens = append(tokens, strconv.Itoa(p.index))
		} else {
			tokens = append(tokens, pointerEscaper.Replace(p.key))
		}
	}
	var b strings.Builder
	for i := len(tokens) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(tokens[i])
	}
	return b.String()
}

func keyNode(parent *pathNode, key string) *pathNode {
	return &pathNode{parent: parent, key: key, index: -1}
}

// frame is one pending node of the traversal.
type frame struct {
	value any
	depth int
	path  *pathNode
}

// Scan walks a parsed JSON value and returns the first *Violation found,
// or nil when the value is within limits.
//
// The walk uses an explicit stack, so attacker-controlled nesting never
// grows the goroutine stack. Object keys are visited in sorted order, which
// makes the reported violation deterministic for a given input.
//
// value is expected to come from encoding/json: map[string]any, []any,
// string, json.Number, float64, bool or nil.
func Scan(value any, limits Limits) error {
	stack := []frame{{value: value, depth: 0}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if limits.MaxDepth > 0 && f.depth > limits.MaxDepth {
			return newViolation(CodeInputLimitExceeded, f.path.String(), limits.MaxDepth, f.depth)
		}

		switch v := f.value.(type) {
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if _, bad := forbiddenKeys[k]; bad {
					return newViolation(CodeForbiddenKey, keyNode(f.path, k).String(), 0, 0)
				}
			}

			if filters, ok := v[filtersKey].([]any); ok {
				if limits.MaxFilterClauses > 0 && len(filters) > limits.MaxFilterClauses {
					return newViolation(CodeInputLimitExceeded, keyNode(f.path, filtersKey).String(), limits.MaxFilterClauses, len(filters))
				}
			}

			for i := len(keys) - 1; i >= 0; i-- {
				stack = append(stack, frame{value: v[keys[i]], depth: f.depth + 1, path: keyNode(f.path, keys[i])})
			}

		case []any:
			if limits.MaxArrayItems > 0 && len(v) > limits.MaxArrayItems {
				return newViolation(CodeInputLimitExceeded, f.path.String(), limits.MaxArrayItems, len(v))
			}
			for i := len(v) - 1; i >= 0; i-- {
				stack = append(stack, frame{value: v[i], depth: f.depth + 1, path: &pathNode{parent: f.path, index: i}})
			}

		case string:
			if limits.MaxStringLength > 0 {
				if n := utf8.RuneCountInString(v); n > limits.MaxStringLength {
					return newViolation(CodeInputLimitExceeded, f.path.String(), limits.MaxStringLength, n)
				}
			}
		}
	}
	return nil
}

// pointerEscaper escapes reference tokens as in RFC 6901.
var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Guard is the method form of Scan for callers that take a scanner dependency.
type Guard struct{}

// Scan calls the package-level Scan.
func (Guard) Scan(value any, limits Limits) error {
	return Scan(value, limits)
}
