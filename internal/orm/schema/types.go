// Package schema provides the data-driven description of resource types: their attributes,
// their relationships and the registry every other component consults. Resource types are
// immutable once built; relationships reference their targets by name so that cyclic
// schemas (systems <-> games) stay a plain adjacency description.
package schema

import (
	"fmt"
)

// AttrType is the scalar type of an attribute
type AttrType int

const (
	// String is a short text value
	String AttrType = iota
	// Text is an unbounded text value
	Text
	// Integer is a 64-bit signed integer
	Integer
	// Float is a 64-bit floating point number
	Float
	// Boolean is true or false
	Boolean
	// DateTime is an RFC 3339 timestamp
	DateTime
	// Date is a calendar date (YYYY-MM-DD)
	Date
)

// String returns the string representation of the attribute type
func (t AttrType) String() string {
	switch t {
	case String:
		return "string"
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Boolean:
		return "boolean"
	case DateTime:
		return "datetime"
	case Date:
		return "date"
	default:
		return "unknown"
	}
}

// IsText returns true for string-like types
func (t AttrType) IsText() bool {
	return t == String || t == Text
}

// ParseAttrType converts a string to an AttrType
func ParseAttrType(s string) (AttrType, error) {
	switch s {
	case "string":
		return String, nil
	case "text":
		return Text, nil
	case "integer", "int":
		return Integer, nil
	case "float", "decimal":
		return Float, nil
	case "boolean", "bool":
		return Boolean, nil
	case "datetime", "timestamp":
		return DateTime, nil
	case "date":
		return Date, nil
	default:
		return 0, fmt.Errorf("unknown attribute type: %s", s)
	}
}

// Cardinality is the number of records on the far side of a relationship
type Cardinality int

const (
	// ToOne points at a single related record
	ToOne Cardinality = iota
	// ToMany points at a collection of related records
	ToMany
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case ToOne:
		return "one"
	case ToMany:
		return "many"
	default:
		return "unknown"
	}
}

// ParseCardinality converts a string to a Cardinality
func ParseCardinality(s string) (Cardinality, error) {
	switch s {
	case "one", "to_one", "belongs_to", "has_one":
		return ToOne, nil
	case "many", "to_many", "has_many":
		return ToMany, nil
	default:
		return 0, fmt.Errorf("unknown relationship kind: %s", s)
	}
}

// IDType controls how identifiers of a resource type are generated
type IDType int

const (
	// IDInteger ids are assigned sequentially by the store
	IDInteger IDType = iota
	// IDUUID ids are random UUIDs generated by the server
	IDUUID
	// IDString ids are supplied by the client
	IDString
)

// String returns the string representation of the id type
func (t IDType) String() string {
	switch t {
	case IDInteger:
		return "integer"
	case IDUUID:
		return "uuid"
	case IDString:
		return "string"
	default:
		return "unknown"
	}
}

// ParseIDType converts a string to an IDType. The empty string means IDInteger.
func ParseIDType(s string) (IDType, error) {
	switch s {
	case "", "integer", "int":
		return IDInteger, nil
	case "uuid":
		return IDUUID, nil
	case "string":
		return IDString, nil
	default:
		return 0, fmt.Errorf("unknown id type: %s", s)
	}
}

// Attribute is a declared scalar field of a resource type
type Attribute struct {
	Name      string
	Type      AttrType
	Required  bool
	MaxLength int // 0 means unbounded, only meaningful for text types
}

// Relationship is a declared link from one resource type to another
type Relationship struct {
	Owner       string
	Name        string
	Cardinality Cardinality
	Target      string

	// Inverse names the relationship on Target that points back at Owner.
	// To-many relationships are resolved through their to-one inverse.
	Inverse string

	// ForeignKey is the storage column holding the related id of a to-one relationship
	ForeignKey string

	// Required to-one relationships must be linked on create
	Required bool
}

// IsToOne returns true if the relationship points at a single record
func (r Relationship) IsToOne() bool {
	return r.Cardinality == ToOne
}

// ResourceType is an immutable description of a named category of records
type ResourceType struct {
	name          string
	idType        IDType
	attributes    []Attribute
	relationships []Relationship
	attrIndex     map[string]int
	relIndex      map[string]int
}

// Name returns the canonical type name, e.g. "games"
func (t *ResourceType) Name() string {
	return t.name
}

// IDType returns how identifiers of this type are generated
func (t *ResourceType) IDType() IDType {
	return t.idType
}

// Attributes returns the attributes in declaration order
func (t *ResourceType) Attributes() []Attribute {
	out := make([]Attribute, len(t.attributes))
	copy(out, t.attributes)
	return out
}

// AttributeNames returns attribute names in declaration order
func (t *ResourceType) AttributeNames() []string {
	names := make([]string, len(t.attributes))
	for i, a := range t.attributes {
		names[i] = a.Name
	}
	return names
}

// Relationships returns the relationships in declaration order
func (t *ResourceType) Relationships() []Relationship {
	out := make([]Relationship, len(t.relationships))
	copy(out, t.relationships)
	return out
}

// Attribute returns the attribute with the given name
func (t *ResourceType) Attribute(name string) (Attribute, bool) {
	i, ok := t.attrIndex[name]
	if !ok {
		return Attribute{}, false
	}
	return t.attributes[i], true
}

// Relationship returns the relationship with the given name
func (t *ResourceType) Relationship(name string) (Relationship, bool) {
	i, ok := t.relIndex[name]
	if !ok {
		return Relationship{}, false
	}
	return t.relationships[i], true
}

// HasField returns true if name is an attribute or a relationship of the type
func (t *ResourceType) HasField(name string) bool {
	_, isAttr := t.attrIndex[name]
	_, isRel := t.relIndex[name]
	return isAttr || isRel
}

// ToOneByForeignKey returns the to-one relationship stored in the given column
func (t *ResourceType) ToOneByForeignKey(column string) (Relationship, bool) {
	for _, r := range t.relationships {
		if r.IsToOne() && r.ForeignKey == column {
			return r, true
		}
	}
	return Relationship{}, false
}
