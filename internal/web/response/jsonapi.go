package response

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/web/query"
	"github.com/conduit-lang/jsonapi-server/internal/web/resolver"
)

const (
	// JSONAPIMediaType is the official JSON:API media type
	JSONAPIMediaType = "application/vnd.api+json"
)

// Serializer renders resolved records as JSON:API documents. It performs no I/O and
// holds no per-request state.
type Serializer struct {
	reg     *schema.Registry
	baseURL string
}

// NewSerializer creates a serializer. baseURL is the absolute URL the collections are
// mounted under, e.g. "http://localhost:3000/api".
func NewSerializer(reg *schema.Registry, baseURL string) *Serializer {
	return &Serializer{reg: reg, baseURL: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the URL collections are mounted under
func (s *Serializer) BaseURL() string {
	return s.baseURL
}

// ResourceURL returns the canonical URL of a resource
func (s *Serializer) ResourceURL(typeName, id string) string {
	return s.baseURL + "/" + typeName + "/" + url.PathEscape(id)
}

// Document renders a resolver result. self is the URL of the request; collection
// results get pagination links built from it.
func (s *Serializer) Document(res *resolver.Result, d *query.Descriptor, self string) (*Document, error) {
	doc := &Document{
		JSONAPI: jsonAPI10,
		Links:   &Links{Self: self},
	}

	primary := make([]*Resource, 0, len(res.Primary))
	for _, rec := range res.Primary {
		r, err := s.resource(rec, d, res)
		if err != nil {
			return nil, err
		}
		primary = append(primary, r)
	}

	if res.Single {
		if len(primary) == 0 {
			doc.Data = One(nil)
		} else {
			doc.Data = One(primary[0])
		}
	} else {
		doc.Data = Many(primary)
	}

	if d.HasIncludes() {
		doc.Included = make([]*Resource, 0, len(res.Included))
		for _, rec := range res.Included {
			r, err := s.resource(rec, d, res)
			if err != nil {
				return nil, err
			}
			doc.Included = append(doc.Included, r)
		}
	}

	if res.Total >= 0 {
		doc.Meta = map[string]interface{}{"total": res.Total}
		page := d.Page()
		links := PaginationLinks(self, page.Offset, page.Limit, res.Total)
		doc.Links.First = links.First
		doc.Links.Last = links.Last
		doc.Links.Prev = links.Prev
		doc.Links.Next = links.Next
	}
	return doc, nil
}

// RelationshipDocument renders the result of a relationship endpoint: resource linkage
// as primary data plus the relationship's own links
func (s *Serializer) RelationshipDocument(res *resolver.Result) *Document {
	ids := make([]Identifier, len(res.Primary))
	for i, rec := range res.Primary {
		ids[i] = Identifier{Type: rec.Type, ID: rec.ID}
	}

	doc := &Document{
		JSONAPI: jsonAPI10,
		Data:    Identifiers(&Linkage{ToMany: !res.Single, IDs: ids}),
	}
	if res.Parent != nil {
		doc.Links = s.relationshipLinks(res.Parent.Type, res.Parent.ID, res.Relationship)
	}
	return doc
}

func (s *Serializer) resource(rec *store.Record, d *query.Descriptor, res *resolver.Result) (*Resource, error) {
	rt, err := s.reg.Lookup(rec.Type)
	if err != nil {
		return nil, err
	}

	out := &Resource{
		Type:       rt.Name(),
		ID:         rec.ID,
		Attributes: make(map[string]interface{}),
		Links:      &Links{Self: s.ResourceURL(rt.Name(), rec.ID)},
	}
	for _, attr := range rt.Attributes() {
		if !d.Wants(rt.Name(), attr.Name) {
			continue
		}
		out.Attributes[attr.Name] = attributeValue(attr, rec.Attributes[attr.Name])
	}

	for _, rel := range rt.Relationships() {
		if !d.Wants(rt.Name(), rel.Name) {
			continue
		}
		if out.Relationships == nil {
			out.Relationships = make(map[string]*Relationship)
		}
		r := &Relationship{Links: s.relationshipLinks(rt.Name(), rec.ID, rel.Name)}
		if ids, ok := res.Linkage(rec, rel.Name); ok {
			r.Data = linkage(rel, ids)
		}
		out.Relationships[rel.Name] = r
	}
	return out, nil
}

func (s *Serializer) relationshipLinks(typeName, id, relName string) *Links {
	base := s.ResourceURL(typeName, id)
	return &Links{
		Self:    base + "/relationships/" + relName,
		Related: base + "/" + relName,
	}
}

func linkage(rel schema.Relationship, ids []string) *Linkage {
	l := &Linkage{ToMany: !rel.IsToOne(), IDs: make([]Identifier, len(ids))}
	for i, id := range ids {
		l.IDs[i] = Identifier{Type: rel.Target, ID: id}
	}
	return l
}

// attributeValue prepares a stored value for encoding
func attributeValue(attr schema.Attribute, v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		if attr.Type == schema.Date {
			return t.Format("2006-01-02")
		}
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// PaginationLinks creates offset based pagination links for a collection of total
// records, keeping every other parameter of self
func PaginationLinks(self string, offset, limit, total int) *Links {
	if limit < 1 {
		limit = 1
	}
	lastOffset := 0
	if total > 0 {
		lastOffset = ((total - 1) / limit) * limit
	}

	links := &Links{
		First: buildPageURL(self, 0, limit),
		Last:  buildPageURL(self, lastOffset, limit),
	}

	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links.Prev = buildPageURL(self, prev, limit)
	}

	if offset < total-limit {
		links.Next = buildPageURL(self, offset+limit, limit)
	}

	return links
}

func buildPageURL(baseURL string, offset, limit int) string {
	// Parse the base URL to handle existing query parameters
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Sprintf("%s?page[limit]=%d&page[offset]=%d", baseURL, limit, offset)
	}

	q := u.Query()
	q.Del("page[number]")
	q.Del("page[size]")
	q.Set("page[limit]", strconv.Itoa(limit))
	q.Set("page[offset]", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	return u.String()
}

// Render marshals a document and writes it with the JSON:API media type
func Render(w http.ResponseWriter, status int, doc *Document) error {
	// Marshal FIRST, before touching the response
	// This avoids partial writes if marshaling fails
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", JSONAPIMediaType)
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// RenderNoContent writes an empty 204 response
func RenderNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
