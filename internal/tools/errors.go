package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

var (
	// ErrNotFound is returned when a name is not in the registry.
	ErrNotFound = errors.New("tool not found")

	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("tool already registered")

	// ErrFrozen is returned by Register after Freeze.
	ErrFrozen = errors.New("registry is frozen")
)

// ValidationError reports arguments that do not match a JSON Schema.
// Problems maps a JSON pointer or keyword to its message.
type ValidationError struct {
	Problems map[string]string
}

// Error renders the problems in a stable order.
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Problems))
	for k := range e.Problems {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Problems[k]
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

func checkResult(res *jsonschema.EvaluationResult) error {
	if res == nil || res.Valid {
		return nil
	}
	ve := &ValidationError{Problems: make(map[string]string, len(res.Errors))}
	for k, e := range res.Errors {
		ve.Problems[k] = fmt.Sprint(e)
	}
	if len(ve.Problems) == 0 {
		ve.Problems["schema"] = "validation failed"
	}
	return ve
}

// ValidateAgainst compiles schema and validates v against it. Tools
// that accept a caller-supplied schema use it.
func ValidateAgainst(schema map[string]any, v any) error {
	s, err := compile(schema)
	if err != nil {
		return err
	}
	return checkResult(s.Validate(v))
}
