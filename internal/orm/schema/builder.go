package schema

import (
	"errors"
	"fmt"
	"strings"
)

// reservedNames cannot be used as attribute or relationship names
var reservedNames = map[string]bool{
	"id":            true,
	"type":          true,
	"links":         true,
	"relationships": true,
}

// AttrOption configures an attribute declaration
type AttrOption func(*Attribute)

// Required marks an attribute as mandatory on create
func Required() AttrOption {
	return func(a *Attribute) {
		a.Required = true
	}
}

// MaxLength bounds the length of a text attribute
func MaxLength(n int) AttrOption {
	return func(a *Attribute) {
		a.MaxLength = n
	}
}

// RelOption configures a relationship declaration
type RelOption func(*Relationship)

// Inverse names the relationship on the target that points back
func Inverse(name string) RelOption {
	return func(r *Relationship) {
		r.Inverse = name
	}
}

// ForeignKey overrides the storage column of a to-one relationship
func ForeignKey(column string) RelOption {
	return func(r *Relationship) {
		r.ForeignKey = column
	}
}

// RequiredLink marks a to-one relationship as mandatory on create
func RequiredLink() RelOption {
	return func(r *Relationship) {
		r.Required = true
	}
}

// Builder assembles a ResourceType. Errors are collected and reported by Build.
type Builder struct {
	rt     *ResourceType
	errors []error
}

// NewType starts building a resource type. The name is canonicalized.
func NewType(name string) *Builder {
	canonical := CanonicalName(name)
	b := &Builder{
		rt: &ResourceType{
			name:      canonical,
			attrIndex: make(map[string]int),
			relIndex:  make(map[string]int),
		},
	}
	if canonical == "" {
		b.errors = append(b.errors, errors.New("resource type name cannot be empty"))
	}
	return b
}

// IDs sets how identifiers of the type are generated
func (b *Builder) IDs(t IDType) *Builder {
	b.rt.idType = t
	return b
}

// Attr declares an attribute
func (b *Builder) Attr(name string, t AttrType, opts ...AttrOption) *Builder {
	if err := b.checkFieldName(name); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	attr := Attribute{Name: name, Type: t}
	for _, opt := range opts {
		opt(&attr)
	}
	if attr.MaxLength < 0 {
		b.errors = append(b.errors, fmt.Errorf("attribute %s: max length cannot be negative", name))
		return b
	}
	b.rt.attrIndex[name] = len(b.rt.attributes)
	b.rt.attributes = append(b.rt.attributes, attr)
	return b
}

// ToOne declares a to-one relationship
func (b *Builder) ToOne(name, target string, opts ...RelOption) *Builder {
	return b.relationship(name, target, ToOne, opts)
}

// ToMany declares a to-many relationship
func (b *Builder) ToMany(name, target string, opts ...RelOption) *Builder {
	return b.relationship(name, target, ToMany, opts)
}

func (b *Builder) relationship(name, target string, card Cardinality, opts []RelOption) *Builder {
	if err := b.checkFieldName(name); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	rel := Relationship{
		Owner:       b.rt.name,
		Name:        name,
		Cardinality: card,
		Target:      CanonicalName(target),
	}
	for _, opt := range opts {
		opt(&rel)
	}
	if rel.Target == "" {
		b.errors = append(b.errors, fmt.Errorf("relationship %s: target cannot be empty", name))
		return b
	}
	switch card {
	case ToOne:
		if rel.ForeignKey == "" {
			rel.ForeignKey = ToSnakeCase(name) + "_id"
		}
	case ToMany:
		if rel.ForeignKey != "" {
			b.errors = append(b.errors, fmt.Errorf("relationship %s: foreign keys belong to the to-one side", name))
			return b
		}
		if rel.Required {
			b.errors = append(b.errors, fmt.Errorf("relationship %s: to-many relationships cannot be required", name))
			return b
		}
	}
	b.rt.relIndex[name] = len(b.rt.relationships)
	b.rt.relationships = append(b.rt.relationships, rel)
	return b
}

func (b *Builder) checkFieldName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("field name cannot be empty")
	}
	if reservedNames[name] {
		return fmt.Errorf("%q is a reserved name and cannot be declared as a field", name)
	}
	if b.rt.HasField(name) {
		return fmt.Errorf("field %q is declared twice on %s", name, b.rt.name)
	}
	return nil
}

// Build returns the finished resource type
func (b *Builder) Build() (*ResourceType, error) {
	// Foreign key columns must not collide with attributes
	for _, rel := range b.rt.relationships {
		if rel.IsToOne() {
			if _, clash := b.rt.attrIndex[rel.ForeignKey]; clash {
				b.errors = append(b.errors, fmt.Errorf("relationship %s: foreign key %q collides with an attribute", rel.Name, rel.ForeignKey))
			}
		}
	}
	if len(b.errors) > 0 {
		msgs := make([]string, len(b.errors))
		for i, err := range b.errors {
			msgs[i] = err.Error()
		}
		return nil, fmt.Errorf("building %s failed with %d errors:\n%s", b.rt.name, len(b.errors), strings.Join(msgs, "\n"))
	}
	return b.rt, nil
}

// MustBuild is like Build but panics on error. Intended for static schemas and tests.
func (b *Builder) MustBuild() *ResourceType {
	rt, err := b.Build()
	if err != nil {
		panic(err)
	}
	return rt
}
