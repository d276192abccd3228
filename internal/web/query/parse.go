package query

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/validation"
)

// RelationshipDataParam overrides Options.RelationshipData for one request
const RelationshipDataParam = "relationship-data"

// Options bounds what a request may ask for
type Options struct {
	DefaultPageSize  int
	MaxPageSize      int
	MaxIncludeDepth  int
	RelationshipData bool
}

// DefaultOptions returns the default parsing options
func DefaultOptions() Options {
	return Options{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		MaxIncludeDepth: 3,
	}
}

// Parse validates the query parameters of a request against the type typeName. Every
// independent problem is reported: the returned error is an apierr.List.
func Parse(reg *schema.Registry, typeName string, values url.Values, opts Options) (*Descriptor, error) {
	rt, err := reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultOptions().DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultOptions().MaxPageSize
	}

	p := &parser{reg: reg, rt: rt, values: values, opts: opts}
	d := &Descriptor{typeName: rt.Name(), relationshipData: opts.RelationshipData}

	p.checkParameterNames()
	d.fields = p.fields()
	d.includes, d.includeTree = p.includes()
	d.filters = p.filters()
	d.sort = p.sort()
	d.page, d.paginated = p.page()
	if v, ok := p.flag(RelationshipDataParam); ok {
		d.relationshipData = v
	}

	if err := p.errs.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

type parser struct {
	reg    *schema.Registry
	rt     *schema.ResourceType
	values url.Values
	opts   Options
	errs   apierr.List
}

// checkParameterNames rejects parameters that belong to no supported family
func (p *parser) checkParameterNames() {
	keys := make([]string, 0, len(p.values))
	for key := range p.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch {
		case key == "include", key == "sort", key == RelationshipDataParam:
		case fieldsPattern.MatchString(key), filterPattern.MatchString(key), pagePattern.MatchString(key):
		case strings.HasPrefix(key, "fields"), strings.HasPrefix(key, "filter"), strings.HasPrefix(key, "page"):
			p.errs.Add(apierr.InvalidParameter(key, "malformed query parameter %q", key))
		case reservedPattern.MatchString(key):
			p.errs.Add(apierr.InvalidParameter(key, "query parameter %q is not supported", key))
		}
	}
}

func (p *parser) fields() map[string][]string {
	raw := ParseFields(p.values)
	result := make(map[string][]string, len(raw))

	typeNames := make([]string, 0, len(raw))
	for typeName := range raw {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		param := "fields[" + typeName + "]"
		rt, err := p.reg.Lookup(typeName)
		if err != nil {
			p.errs.Add(apierr.UnknownType(typeName).AtParameter(param))
			continue
		}

		seen := make(map[string]bool)
		fields := make([]string, 0, len(raw[typeName]))
		valid := true
		for _, field := range raw[typeName] {
			if !rt.HasField(field) {
				p.errs.Add(apierr.UnknownField(rt.Name(), field).AtParameter(param))
				valid = false
				continue
			}
			if !seen[field] {
				seen[field] = true
				fields = append(fields, field)
			}
		}
		if valid {
			result[rt.Name()] = fields
		}
	}
	return result
}

func (p *parser) includes() ([]string, []Include) {
	paths := ParseInclude(p.values)
	var (
		accepted []string
		tree     []Include
		seen     = make(map[string]bool)
	)

	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true

		segments := strings.Split(path, ".")
		if p.opts.MaxIncludeDepth > 0 && len(segments) > p.opts.MaxIncludeDepth {
			p.errs.Add(apierr.InvalidIncludePath(path, fmt.Sprintf("paths may be at most %d relationships deep", p.opts.MaxIncludeDepth)))
			continue
		}

		current := p.rt.Name()
		valid := true
		for _, segment := range segments {
			if segment == "" {
				p.errs.Add(apierr.InvalidIncludePath(path, "empty relationship name"))
				valid = false
				break
			}
			rel, err := p.reg.Relationship(current, segment)
			if err != nil {
				p.errs.Add(apierr.InvalidIncludePath(path, fmt.Sprintf("%q is not a relationship of %q", segment, current)))
				valid = false
				break
			}
			current = rel.Target
		}
		if !valid {
			continue
		}

		accepted = append(accepted, path)
		tree = mergeInclude(tree, segments)
	}

	if accepted == nil {
		accepted = []string{}
	}
	return accepted, tree
}

func (p *parser) filters() []Filter {
	var result []Filter

	for _, raw := range ParseFilter(p.values) {
		param := "filter[" + raw.Field + "]"
		if raw.Op != "" {
			param += "[" + raw.Op + "]"
		}

		op := store.OpEqual
		if raw.Op != "" {
			parsed, ok := store.ParseOperator(raw.Op)
			if !ok {
				p.errs.Add(apierr.UnsupportedFilter(raw.Field, raw.Op).AtParameter(param))
				continue
			}
			op = parsed
		}

		f, err := p.filter(raw.Field, op, raw.Value)
		if err != nil {
			p.errs.Add(err.AtParameter(param))
			continue
		}
		result = append(result, f)
	}
	return result
}

func (p *parser) filter(field string, op store.Operator, value string) (Filter, *apierr.Error) {
	raws := []string{value}
	if op == store.OpIn {
		raws = splitList(value)
		if len(raws) == 0 {
			return Filter{}, apierr.New(apierr.KindInvalidParameter, "filter on %q needs at least one value", field)
		}
	}

	// Ids of the primary type or of the target of a to-one relationship
	var idType schema.IDType
	switch {
	case field == "id":
		idType = p.rt.IDType()
	default:
		if attr, ok := p.rt.Attribute(field); ok {
			if op == store.OpContains && !attr.Type.IsText() {
				return Filter{}, apierr.UnsupportedFilter(field, string(op))
			}
			values := make([]interface{}, 0, len(raws))
			for _, raw := range raws {
				v, err := validation.Parse(attr.Type, raw)
				if err != nil {
					return Filter{}, apierr.New(apierr.KindInvalidParameter, "filter value for %q %s", field, err.Error())
				}
				values = append(values, v)
			}
			return Filter{Field: field, Op: op, Values: values}, nil
		}

		rel, ok := p.rt.Relationship(field)
		if !ok {
			return Filter{}, apierr.UnknownField(p.rt.Name(), field)
		}
		if !rel.IsToOne() {
			return Filter{}, apierr.UnsupportedFilter(field, string(op))
		}
		target, err := p.reg.Lookup(rel.Target)
		if err != nil {
			return Filter{}, apierr.UnknownType(rel.Target)
		}
		idType = target.IDType()
	}

	if op == store.OpContains {
		return Filter{}, apierr.UnsupportedFilter(field, string(op))
	}
	values := make([]interface{}, 0, len(raws))
	for _, raw := range raws {
		if idType == schema.IDInteger {
			if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
				return Filter{}, apierr.New(apierr.KindInvalidParameter, "filter value for %q must be an integer id", field)
			}
		}
		values = append(values, raw)
	}
	return Filter{Field: field, Op: op, Values: values}, nil
}

func (p *parser) sort() []SortField {
	var result []SortField
	seen := make(map[string]bool)

	for _, key := range ParseSort(p.values) {
		desc := strings.HasPrefix(key, "-")
		field := strings.TrimPrefix(key, "-")

		switch {
		case field == "id":
		case strings.Contains(field, "."):
			p.errs.Add(apierr.InvalidParameter("sort", "sorting by related fields is not supported: %q", field))
			continue
		default:
			if _, ok := p.rt.Attribute(field); !ok {
				if _, isRel := p.rt.Relationship(field); isRel {
					p.errs.Add(apierr.InvalidParameter("sort", "cannot sort by relationship %q", field))
				} else {
					p.errs.Add(apierr.UnknownField(p.rt.Name(), field).AtParameter("sort"))
				}
				continue
			}
		}

		if seen[field] {
			continue
		}
		seen[field] = true
		result = append(result, SortField{Field: field, Desc: desc})
	}
	return result
}

// page accepts either page[offset]/page[limit] or page[number]/page[size]. Sizes above the
// maximum are clamped.
func (p *parser) page() (Page, bool) {
	raw := ParsePage(p.values)
	page := Page{Limit: p.opts.DefaultPageSize}
	if len(raw) == 0 {
		return page, false
	}

	_, hasOffset := raw["offset"]
	_, hasLimit := raw["limit"]
	_, hasNumber := raw["number"]
	_, hasSize := raw["size"]

	members := make([]string, 0, len(raw))
	for member := range raw {
		members = append(members, member)
	}
	sort.Strings(members)
	for _, member := range members {
		switch member {
		case "offset", "limit", "number", "size":
		default:
			p.errs.Add(apierr.InvalidParameter("page["+member+"]", "unsupported pagination parameter %q", "page["+member+"]"))
		}
	}

	if (hasOffset || hasLimit) && (hasNumber || hasSize) {
		p.errs.Add(apierr.InvalidParameter("page", "offset/limit and number/size pagination cannot be combined"))
		return page, true
	}

	limitKey, sizeOK := "limit", hasLimit
	if hasNumber || hasSize {
		limitKey, sizeOK = "size", hasSize
	}
	if sizeOK {
		if n, ok := p.positiveInt("page["+limitKey+"]", raw[limitKey], 1); ok {
			page.Limit = n
		}
	}
	if page.Limit > p.opts.MaxPageSize {
		page.Limit = p.opts.MaxPageSize
	}

	// offset+limit must stay representable for the next page link
	switch {
	case hasOffset:
		if n, ok := p.positiveInt("page[offset]", raw["offset"], 0); ok {
			if n > math.MaxInt-page.Limit {
				p.errs.Add(apierr.InvalidParameter("page[offset]", "page[offset] is too large"))
				break
			}
			page.Offset = n
		}
	case hasNumber:
		if n, ok := p.positiveInt("page[number]", raw["number"], 1); ok {
			if n-1 > (math.MaxInt-page.Limit)/page.Limit {
				p.errs.Add(apierr.InvalidParameter("page[number]", "page[number] is too large"))
				break
			}
			page.Offset = (n - 1) * page.Limit
		}
	}
	return page, true
}

func (p *parser) positiveInt(param, value string, min int) (int, bool) {
	n, err := strconv.Atoi(value)
	if err != nil || n < min {
		p.errs.Add(apierr.InvalidParameter(param, "%s must be an integer of at least %d", param, min))
		return 0, false
	}
	return n, true
}

func (p *parser) flag(param string) (bool, bool) {
	value, ok := p.values[param]
	if !ok || len(value) == 0 {
		return false, false
	}
	if value[0] == "" {
		return true, true
	}
	b, err := strconv.ParseBool(value[0])
	if err != nil {
		p.errs.Add(apierr.InvalidParameter(param, "%s must be true or false", param))
		return false, false
	}
	return b, true
}
