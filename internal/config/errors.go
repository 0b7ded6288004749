package config

import (
	"fmt"
	"strings"
)

// ConfigError reports a malformed or contradictory configuration entry.
// It is fatal to loading the named server, never to the hub process.
type ConfigError struct {
	Server string // offending server name, empty for file-level problems
	Layer  string // "global" or "project"
	Err    error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("%s configuration: %v", e.Layer, e.Err)
	}
	return fmt.Sprintf("%s configuration for server %q: %v", e.Layer, e.Server, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError represents a single field-level validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error.
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}
