package response

import (
	"github.com/goccy/go-json"
)

// Version is the JSON:API version object
type Version struct {
	Version string `json:"version"`
}

// jsonAPI10 is rendered at the top of every document
var jsonAPI10 = &Version{Version: "1.0"}

// Document is a top-level JSON:API document.
//
// Included is rendered whenever it is non-nil, so an include request that reached
// nothing renders an empty array.
type Document struct {
	JSONAPI  *Version               `json:"jsonapi,omitempty"`
	Data     *PrimaryData           `json:"data,omitempty"`
	Errors   []*ErrorObject         `json:"errors,omitempty"`
	Links    *Links                 `json:"links,omitempty"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
	Included []*Resource            `json:"-"`
}

// MarshalJSON implements json.Marshaler
func (d *Document) MarshalJSON() ([]byte, error) {
	type document Document
	wire := struct {
		*document
		Included *[]*Resource `json:"included,omitempty"`
	}{document: (*document)(d)}
	if d.Included != nil {
		wire.Included = &d.Included
	}
	return json.Marshal(wire)
}

// PrimaryData is the "data" member: a resource object, an array of them, resource
// linkage, or null
type PrimaryData struct {
	value interface{}
}

// One returns primary data holding a single resource, or null when res is nil
func One(res *Resource) *PrimaryData {
	if res == nil {
		return &PrimaryData{}
	}
	return &PrimaryData{value: res}
}

// Many returns primary data holding an array of resources
func Many(resources []*Resource) *PrimaryData {
	if resources == nil {
		resources = []*Resource{}
	}
	return &PrimaryData{value: resources}
}

// Identifiers returns primary data holding resource linkage
func Identifiers(l *Linkage) *PrimaryData {
	return &PrimaryData{value: l}
}

// MarshalJSON implements json.Marshaler
func (p *PrimaryData) MarshalJSON() ([]byte, error) {
	if p.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p.value)
}

// Resource is a resource object
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id"`
	Attributes    map[string]interface{}   `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
	Links         *Links                   `json:"links,omitempty"`
}

// Relationship is a relationship object. Data is omitted when the linkage was not
// resolved for the request.
type Relationship struct {
	Links *Links   `json:"links,omitempty"`
	Data  *Linkage `json:"data,omitempty"`
}

// Identifier is a resource identifier object
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Linkage is the resource linkage of a relationship: a single identifier or null for
// to-one relationships, an array for to-many relationships
type Linkage struct {
	ToMany bool
	IDs    []Identifier
}

// MarshalJSON implements json.Marshaler
func (l *Linkage) MarshalJSON() ([]byte, error) {
	if l.ToMany {
		ids := l.IDs
		if ids == nil {
			ids = []Identifier{}
		}
		return json.Marshal(ids)
	}
	if len(l.IDs) == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(l.IDs[0])
}

// Links is a links object
type Links struct {
	Self    string `json:"self,omitempty"`
	Related string `json:"related,omitempty"`
	First   string `json:"first,omitempty"`
	Last    string `json:"last,omitempty"`
	Prev    string `json:"prev,omitempty"`
	Next    string `json:"next,omitempty"`
}

// ErrorObject is an entry of the "errors" member
type ErrorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code,omitempty"`
	Title  string       `json:"title,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Source *ErrorSource `json:"source,omitempty"`
}

// ErrorSource points at the part of the request that caused an error
type ErrorSource struct {
	Pointer   string `json:"pointer,omitempty"`
	Parameter string `json:"parameter,omitempty"`
}
