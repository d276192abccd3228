// Package store defines the persistence collaborator the resource server reads and writes
// records through. Records are schema driven: attributes are a name/value map and to-one
// relationships are stored as the related id, keyed by relationship name.
package store

import (
	"context"
	"errors"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is returned when a unique constraint is violated
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrConstraintViolation is returned when the database rejects a write for a reason
	// that cannot be attributed to a single field
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrReferenced is returned when deleting a record that a required to-one link still
	// points at
	ErrReferenced = errors.New("record is still referenced")

	// ErrMissingID is returned when creating a record of a type whose ids are client supplied
	// without an id
	ErrMissingID = errors.New("record id is required")
)

// Record is a stored instance of a resource type
type Record struct {
	Type       string
	ID         string
	Attributes map[string]interface{}

	// Links holds the related id of every to-one relationship, nil when unlinked
	Links map[string]*string
}

// NewRecord creates an empty record of the given type
func NewRecord(typeName, id string) *Record {
	return &Record{
		Type:       typeName,
		ID:         id,
		Attributes: make(map[string]interface{}),
		Links:      make(map[string]*string),
	}
}

// Link returns the related id of a to-one relationship
func (r *Record) Link(name string) (string, bool) {
	id, ok := r.Links[name]
	if !ok || id == nil {
		return "", false
	}
	return *id, true
}

// Clone returns a copy that shares no maps with r
func (r *Record) Clone() *Record {
	cp := NewRecord(r.Type, r.ID)
	for k, v := range r.Attributes {
		cp.Attributes[k] = v
	}
	for k, v := range r.Links {
		if v == nil {
			cp.Links[k] = nil
			continue
		}
		id := *v
		cp.Links[k] = &id
	}
	return cp
}

// Operator is a filter comparison
type Operator string

// Supported filter operators
const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpContains     Operator = "contains"
	OpIn           Operator = "in"
)

// Operators lists every supported operator
var Operators = []Operator{
	OpEqual, OpNotEqual, OpLessThan, OpLessEqual, OpGreaterThan, OpGreaterEqual, OpContains, OpIn,
}

// ParseOperator returns the operator with the given name
func ParseOperator(s string) (Operator, bool) {
	for _, op := range Operators {
		if string(op) == s {
			return op, true
		}
	}
	return "", false
}

// Condition restricts the records returned by Find and Count. Field is "id", an attribute
// name, or the name of a to-one relationship (compared against the related id). Values are
// typed like the attribute; ids are strings. Every operator except OpIn uses Values[0].
type Condition struct {
	Field  string
	Op     Operator
	Values []interface{}
}

// Order sorts the records returned by Find. Field is "id" or an attribute name.
type Order struct {
	Field string
	Desc  bool
}

// Query selects a window of records. A zero Limit means no limit.
type Query struct {
	Conditions []Condition
	Order      []Order
	Offset     int
	Limit      int
}

// Store is the persistence collaborator. Implementations must be safe for concurrent use;
// the Store passed to a WithTransaction callback is bound to one goroutine.
type Store interface {
	// Find returns records matching q, ordered by q.Order and then by id
	Find(ctx context.Context, rt *schema.ResourceType, q Query) ([]*Record, error)

	// Count returns the number of records matching conds
	Count(ctx context.Context, rt *schema.ResourceType, conds []Condition) (int, error)

	// Get returns a single record or ErrNotFound
	Get(ctx context.Context, rt *schema.ResourceType, id string) (*Record, error)

	// FindByIDs returns the records that exist among ids, in id order. Missing ids are skipped.
	FindByIDs(ctx context.Context, rt *schema.ResourceType, ids []string) ([]*Record, error)

	// FindByForeignKey returns records of rt whose to-one relationship rel points at one
	// of ids, in id order
	FindByForeignKey(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string) ([]*Record, error)

	// Create inserts rec and returns the stored record with its id assigned
	Create(ctx context.Context, rt *schema.ResourceType, rec *Record) (*Record, error)

	// Update changes the given attributes and to-one links and returns the stored record
	Update(ctx context.Context, rt *schema.ResourceType, id string, attrs map[string]interface{}, links map[string]*string) (*Record, error)

	// SetLinks points the to-one relationship rel of every record in ids at target
	// (nil clears it)
	SetLinks(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string, target *string) error

	// Delete removes a record and clears every optional to-one link pointing at it. It
	// fails with ErrReferenced while a required link points at the record.
	Delete(ctx context.Context, rt *schema.ResourceType, id string) error

	// WithTransaction runs fn atomically. Changes made through tx are visible to other
	// callers only if fn returns nil.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Referencing returns every to-one relationship in reg that targets typeName, paired with
// the type that declares it
func Referencing(reg *schema.Registry, typeName string) []Reference {
	var refs []Reference
	for _, rt := range reg.Types() {
		for _, rel := range rt.Relationships() {
			if rel.IsToOne() && rel.Target == typeName {
				refs = append(refs, Reference{Type: rt, Relationship: rel})
			}
		}
	}
	return refs
}

// Reference is a to-one relationship and its owning type
type Reference struct {
	Type         *schema.ResourceType
	Relationship schema.Relationship
}
