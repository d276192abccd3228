package router

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// ParamExtractor provides utilities for extracting route parameters
type ParamExtractor struct {
	req *http.Request
}

// NewParamExtractor creates a new parameter extractor for the given request
func NewParamExtractor(req *http.Request) *ParamExtractor {
	return &ParamExtractor{req: req}
}

// PathParam extracts a path parameter by name. chi matches the raw path when the
// request path contains escaped characters, so those values are unescaped here.
func (p *ParamExtractor) PathParam(name string) string {
	value := chi.URLParam(p.req, name)
	if p.req.URL.RawPath == "" {
		return value
	}
	if unescaped, err := url.PathUnescape(value); err == nil {
		return unescaped
	}
	return value
}

// ID returns the resource id of a member route
func (p *ParamExtractor) ID() string {
	return p.PathParam("id")
}

// Relationship returns the relationship name of a relationship route
func (p *ParamExtractor) Relationship() string {
	return p.PathParam("relationship")
}

// Query returns the parsed query string
func (p *ParamExtractor) Query() url.Values {
	return p.req.URL.Query()
}
