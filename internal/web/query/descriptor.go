// Package query turns JSON:API query parameters into a validated, immutable Descriptor.
// Parsing consults the schema registry only; it never touches storage.
package query

import (
	"slices"

	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

// Filter is a validated filter. Values are typed like the attribute they compare with;
// values of id and relationship filters are resource ids.
type Filter struct {
	Field  string
	Op     store.Operator
	Values []interface{}
}

// SortField is a validated sort key
type SortField struct {
	Field string
	Desc  bool
}

// Page is a validated pagination window
type Page struct {
	Offset int
	Limit  int
}

// Include is a node of the include tree. Children are in request order.
type Include struct {
	Relationship string
	Children     []Include
}

// Descriptor is the validated description of a read request. It is immutable: every
// accessor returns a copy.
type Descriptor struct {
	typeName         string
	fields           map[string][]string
	includes         []string
	includeTree      []Include
	filters          []Filter
	sort             []SortField
	page             Page
	paginated        bool
	relationshipData bool
}

// Type returns the primary resource type the descriptor was parsed against
func (d *Descriptor) Type() string {
	return d.typeName
}

// Fieldset returns the requested fields of a type. ok is false when the request did not
// restrict the type, meaning every field is rendered.
func (d *Descriptor) Fieldset(typeName string) (fields []string, ok bool) {
	fs, ok := d.fields[typeName]
	if !ok {
		return nil, false
	}
	out := make([]string, len(fs))
	copy(out, fs)
	return out, true
}

// Wants reports whether field of typeName is rendered
func (d *Descriptor) Wants(typeName, field string) bool {
	fs, restricted := d.Fieldset(typeName)
	return !restricted || slices.Contains(fs, field)
}

// Includes returns the requested include paths in request order, without duplicates
func (d *Descriptor) Includes() []string {
	out := make([]string, len(d.includes))
	copy(out, d.includes)
	return out
}

// HasIncludes reports whether any include path was requested
func (d *Descriptor) HasIncludes() bool {
	return len(d.includes) > 0
}

// IncludeTree returns the include paths merged into a tree
func (d *Descriptor) IncludeTree() []Include {
	return copyTree(d.includeTree)
}

// Filters returns the requested filters
func (d *Descriptor) Filters() []Filter {
	out := make([]Filter, len(d.filters))
	for i, f := range d.filters {
		out[i] = Filter{Field: f.Field, Op: f.Op, Values: append([]interface{}(nil), f.Values...)}
	}
	return out
}

// Sort returns the requested sort keys in priority order
func (d *Descriptor) Sort() []SortField {
	out := make([]SortField, len(d.sort))
	copy(out, d.sort)
	return out
}

// Page returns the pagination window. Collections are always paginated.
func (d *Descriptor) Page() Page {
	return d.page
}

// Paginated reports whether the client asked for a page explicitly
func (d *Descriptor) Paginated() bool {
	return d.paginated
}

// RelationshipData reports whether resource linkage is rendered for relationships that
// were not included
func (d *Descriptor) RelationshipData() bool {
	return d.relationshipData
}

// Conditions converts the filters for the store
func (d *Descriptor) Conditions() []store.Condition {
	conds := make([]store.Condition, len(d.filters))
	for i, f := range d.filters {
		conds[i] = store.Condition{Field: f.Field, Op: f.Op, Values: append([]interface{}(nil), f.Values...)}
	}
	return conds
}

// Query converts filters, sort and page for the store
func (d *Descriptor) Query() store.Query {
	order := make([]store.Order, len(d.sort))
	for i, s := range d.sort {
		order[i] = store.Order{Field: s.Field, Desc: s.Desc}
	}
	return store.Query{
		Conditions: d.Conditions(),
		Order:      order,
		Offset:     d.page.Offset,
		Limit:      d.page.Limit,
	}
}

func copyTree(nodes []Include) []Include {
	if nodes == nil {
		return nil
	}
	out := make([]Include, len(nodes))
	for i, n := range nodes {
		out[i] = Include{Relationship: n.Relationship, Children: copyTree(n.Children)}
	}
	return out
}

// mergeInclude adds a path of relationship names to the tree
func mergeInclude(tree []Include, path []string) []Include {
	if len(path) == 0 {
		return tree
	}
	for i := range tree {
		if tree[i].Relationship == path[0] {
			tree[i].Children = mergeInclude(tree[i].Children, path[1:])
			return tree
		}
	}
	return append(tree, Include{Relationship: path[0], Children: mergeInclude(nil, path[1:])})
}

// WithRelationshipData returns a copy of d that renders resource linkage for every
// relationship when on is true
func (d *Descriptor) WithRelationshipData(on bool) *Descriptor {
	cp := *d
	cp.relationshipData = on
	return &cp
}
