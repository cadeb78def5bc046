package config

import (
	"fmt"
	"sort"
	"strings"
)

// FieldError is one invalid setting
type FieldError struct {
	Key     string
	Problem string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []FieldError
}

func (e *ValidationErrors) add(key, problem string) {
	e.Fields = append(e.Fields, FieldError{Key: key, Problem: problem})
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf("  - %s %s\n", f.Key, f.Problem))
	}
	return sb.String()
}

func validBackendsList() string {
	backends := make([]string, 0, len(ValidBackends))
	for b := range ValidBackends {
		backends = append(backends, b)
	}
	sort.Strings(backends)
	return strings.Join(backends, ", ")
}
