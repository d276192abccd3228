package resolver

import (
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

// Key identifies a record across types
type Key struct {
	Type string
	ID   string
}

// KeyOf returns the key of a record
func KeyOf(rec *store.Record) Key {
	return Key{Type: rec.Type, ID: rec.ID}
}

// Result is everything needed to render a response document
type Result struct {
	// Type is the resource type of the primary data
	Type string

	// Primary holds the primary records. Single results hold at most one; an empty single
	// result renders as null.
	Primary []*store.Record
	Single  bool

	// Included holds the records reached through include paths in discovery order, without
	// duplicates and without primary records
	Included []*store.Record

	// Total is the number of records matching a collection request, -1 otherwise
	Total int

	// Parent and Relationship are set for relationship endpoint results
	Parent       *store.Record
	Relationship string

	primary  map[Key]bool
	included map[Key]bool
	linkage  map[Key]map[string][]string
}

func newResult(typeName string, primary []*store.Record, single bool) *Result {
	if primary == nil {
		primary = []*store.Record{}
	}
	res := &Result{
		Type:     typeName,
		Primary:  primary,
		Single:   single,
		Included: []*store.Record{},
		Total:    -1,
		primary:  make(map[Key]bool, len(primary)),
		included: make(map[Key]bool),
		linkage:  make(map[Key]map[string][]string),
	}
	for _, rec := range primary {
		res.primary[KeyOf(rec)] = true
	}
	return res
}

// Linkage returns the related ids of a resolved relationship of a record. ok is false
// when the relationship was not resolved for this request.
func (r *Result) Linkage(rec *store.Record, relName string) (ids []string, ok bool) {
	rels, ok := r.linkage[KeyOf(rec)]
	if !ok {
		return nil, false
	}
	ids, ok = rels[relName]
	if !ok {
		return nil, false
	}
	return append([]string{}, ids...), true
}

func (r *Result) setLinkage(rec *store.Record, relName string, ids []string) {
	key := KeyOf(rec)
	rels, ok := r.linkage[key]
	if !ok {
		rels = make(map[string][]string)
		r.linkage[key] = rels
	}
	rels[relName] = ids
}

// resolvedFor reports whether relName was resolved for every record
func (r *Result) resolvedFor(records []*store.Record, relName string) bool {
	for _, rec := range records {
		if _, ok := r.linkage[KeyOf(rec)][relName]; !ok {
			return false
		}
	}
	return true
}

func (r *Result) addIncluded(records []*store.Record) {
	for _, rec := range records {
		key := KeyOf(rec)
		if r.primary[key] || r.included[key] {
			continue
		}
		r.included[key] = true
		r.Included = append(r.Included, rec)
	}
}
