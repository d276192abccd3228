// Package validation checks attribute values and to-one linkage of a record against its
// resource type before the record is handed to a store.
package validation

import (
	"fmt"
	"unicode/utf8"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// Operation distinguishes a full create from a partial update
type Operation int

const (
	// Create requires every required field to be present
	Create Operation = iota
	// Update only validates the fields that were sent
	Update
)

// String returns the string representation of the operation
func (o Operation) String() string {
	if o == Update {
		return "update"
	}
	return "create"
}

// Engine validates records of any registered resource type
type Engine struct{}

// NewEngine creates a new validation engine
func NewEngine() *Engine {
	return &Engine{}
}

// Validate coerces attribute values to their declared types and checks required fields,
// length limits and required to-one links. Fields that are not declared on rt are ignored;
// callers reject them before validation. It returns the coerced attributes and a
// *ValidationErrors describing every failure.
func (e *Engine) Validate(rt *schema.ResourceType, attrs map[string]interface{}, links map[string]*string, op Operation) (map[string]interface{}, error) {
	errs := NewValidationErrors()
	normalized := make(map[string]interface{}, len(attrs))

	for _, attr := range rt.Attributes() {
		raw, present := attrs[attr.Name]
		if !present {
			if op == Create && attr.Required {
				errs.Add(attr.Name, "is required")
			}
			continue
		}

		value, err := Coerce(attr.Type, raw)
		if err != nil {
			errs.Add(attr.Name, err.Error())
			continue
		}
		if err := e.checkAttribute(attr, value); err != nil {
			errs.Add(attr.Name, err.Error())
			continue
		}
		normalized[attr.Name] = value
	}

	for _, rel := range rt.Relationships() {
		if !rel.IsToOne() || !rel.Required {
			continue
		}
		id, present := links[rel.Name]
		switch {
		case !present && op == Create:
			errs.Add(rel.Name, "is required")
		case present && id == nil:
			errs.Add(rel.Name, "cannot be cleared")
		}
	}

	if errs.HasErrors() {
		return nil, errs
	}
	return normalized, nil
}

func (e *Engine) checkAttribute(attr schema.Attribute, value interface{}) error {
	if value == nil {
		if attr.Required {
			return fmt.Errorf("cannot be null")
		}
		return nil
	}
	if attr.MaxLength > 0 && attr.Type.IsText() {
		if n := utf8.RuneCountInString(value.(string)); n > attr.MaxLength {
			return fmt.Errorf("is too long (maximum is %d characters)", attr.MaxLength)
		}
	}
	return nil
}
