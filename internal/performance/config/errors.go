package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig is matched by every error Load and Parse return for a
// document that cannot be run.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// Addf adds an error with a formatted message.
func (e *ValidationErrors) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Field returns the first error recorded for field.
func (e *ValidationErrors) Field(field string) *ValidationError {
	for _, err := range e.Errors {
		if err.Field == field {
			return err
		}
	}
	return nil
}

func (e *ValidationErrors) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
