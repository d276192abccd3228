package validation

import (
	"fmt"
	"strings"
)

// ValidationErrors contains field-level validation failures for a record. Field names are
// attribute or relationship names of the validated resource type.
type ValidationErrors struct {
	Fields map[string][]string
	order  []string
}

// NewValidationErrors creates a new ValidationErrors instance
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Fields: make(map[string][]string),
	}
}

// Add adds a validation error for a specific field
func (ve *ValidationErrors) Add(field, message string) {
	if ve.Fields == nil {
		ve.Fields = make(map[string][]string)
	}
	if _, seen := ve.Fields[field]; !seen {
		ve.order = append(ve.order, field)
	}
	ve.Fields[field] = append(ve.Fields[field], message)
}

// HasErrors returns true if there are any validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Fields) > 0
}

// Count returns the total number of validation errors across all fields
func (ve *ValidationErrors) Count() int {
	count := 0
	for _, messages := range ve.Fields {
		count += len(messages)
	}
	return count
}

// Each calls fn for every failure, in the order fields were first reported
func (ve *ValidationErrors) Each(fn func(field, message string)) {
	seen := make(map[string]bool, len(ve.order))
	for _, field := range ve.order {
		seen[field] = true
		for _, msg := range ve.Fields[field] {
			fn(field, msg)
		}
	}
	// Fields filled in directly through the map come last
	for field, msgs := range ve.Fields {
		if seen[field] {
			continue
		}
		for _, msg := range msgs {
			fn(field, msg)
		}
	}
}

// OrNil returns nil when there are no errors, so callers can return it as an error
func (ve *ValidationErrors) OrNil() error {
	if ve == nil || !ve.HasErrors() {
		return nil
	}
	return ve
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if !ve.HasErrors() {
		return "validation failed"
	}

	var messages []string
	ve.Each(func(field, msg string) {
		messages = append(messages, fmt.Sprintf("%s %s", field, msg))
	})

	if len(messages) == 1 {
		return "validation failed: " + messages[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, ", "))
}
