package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/jsonapi-server/internal/web/middleware"
	"github.com/conduit-lang/jsonapi-server/internal/web/response"
)

// Router manages HTTP routing using chi framework
type Router struct {
	mux    chi.Router
	prefix string

	// For introspection and debugging
	registeredRoutes []*RouteInfo
}

// Route represents a single registered route
type Route struct {
	Pattern string           // /api/games/{id}
	Method  string           // GET, POST, etc.
	Handler http.HandlerFunc // Handler function
	Name    string           // games.show

	// Resource metadata
	ResourceName string
	Operation    Operation

	info *RouteInfo
}

// RouteInfo provides metadata about a route for introspection
type RouteInfo struct {
	Pattern      string           `json:"pattern"`
	Method       string           `json:"method"`
	Name         string           `json:"name"`
	ResourceName string           `json:"resource"`
	Operation    string           `json:"operation"`
	Parameters   []RouteParameter `json:"parameters"`
}

// RouteParameter describes a parameter in a route
type RouteParameter struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"` // integer, uuid, string
	Required bool            `json:"required"`
	Source   ParameterSource `json:"source"`
}

// ParameterSource indicates where a parameter comes from
type ParameterSource int

const (
	// PathParam indicates a URL path parameter
	PathParam ParameterSource = iota
	// QueryParam indicates a URL query parameter
	QueryParam
)

// String returns the string representation of ParameterSource
func (p ParameterSource) String() string {
	switch p {
	case PathParam:
		return "path"
	case QueryParam:
		return "query"
	default:
		return "unknown"
	}
}

// MarshalText encodes the source by name in route listings
func (p ParameterSource) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Operation is the JSON:API operation a route performs
type Operation int

const (
	// OpList fetches a collection (GET /games)
	OpList Operation = iota
	// OpCreate creates a resource (POST /games)
	OpCreate
	// OpShow fetches one resource (GET /games/{id})
	OpShow
	// OpUpdate partially updates a resource (PATCH /games/{id})
	OpUpdate
	// OpDelete deletes a resource (DELETE /games/{id})
	OpDelete
	// OpRelated fetches related resources (GET /games/{id}/{relationship})
	OpRelated
	// OpRelationship fetches resource linkage (GET /games/{id}/relationships/{relationship})
	OpRelationship
	// OpReplaceRelationship replaces resource linkage (PATCH /games/{id}/relationships/{relationship})
	OpReplaceRelationship
	// OpAddToRelationship adds to-many members (POST /games/{id}/relationships/{relationship})
	OpAddToRelationship
	// OpRemoveFromRelationship removes to-many members (DELETE /games/{id}/relationships/{relationship})
	OpRemoveFromRelationship
)

// String returns the string representation of Operation
func (o Operation) String() string {
	switch o {
	case OpList:
		return "list"
	case OpCreate:
		return "create"
	case OpShow:
		return "show"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpRelated:
		return "related"
	case OpRelationship:
		return "relationship"
	case OpReplaceRelationship:
		return "replace_relationship"
	case OpAddToRelationship:
		return "add_to_relationship"
	case OpRemoveFromRelationship:
		return "remove_from_relationship"
	default:
		return "unknown"
	}
}

// NewRouter creates a new Router. Every route is registered below prefix, which is
// either empty or starts with a slash. Unmatched requests render JSON:API error
// documents.
func NewRouter(prefix string) *Router {
	r := &Router{
		mux:              chi.NewRouter(),
		prefix:           strings.TrimSuffix(prefix, "/"),
		registeredRoutes: make([]*RouteInfo, 0),
	}
	r.mux.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.RenderNotFound(w, req.URL.Path)
	})
	r.mux.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		response.RenderMethodNotAllowed(w, req.Method, r.AllowedMethods(req.URL.Path))
	})
	return r
}

// ServeHTTP implements http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Use adds middleware in front of every route. Middleware must be added before any
// route is registered.
func (r *Router) Use(middlewares ...middleware.Middleware) {
	for _, m := range middlewares {
		r.mux.Use(m)
	}
}

// Prefix returns the path prefix of every route
func (r *Router) Prefix() string {
	return r.prefix
}

// Get registers a GET route
func (r *Router) Get(pattern string, handler http.HandlerFunc) *Route {
	return r.addRoute(http.MethodGet, pattern, handler)
}

// Post registers a POST route
func (r *Router) Post(pattern string, handler http.HandlerFunc) *Route {
	return r.addRoute(http.MethodPost, pattern, handler)
}

// Patch registers a PATCH route
func (r *Router) Patch(pattern string, handler http.HandlerFunc) *Route {
	return r.addRoute(http.MethodPatch, pattern, handler)
}

// Delete registers a DELETE route
func (r *Router) Delete(pattern string, handler http.HandlerFunc) *Route {
	return r.addRoute(http.MethodDelete, pattern, handler)
}

// addRoute registers a route with the given method, pattern, and handler
func (r *Router) addRoute(method, pattern string, handler http.HandlerFunc) *Route {
	pattern = r.prefix + pattern
	route := &Route{
		Pattern: pattern,
		Method:  method,
		Handler: handler,
		info: &RouteInfo{
			Pattern:    pattern,
			Method:     method,
			Parameters: extractParameters(pattern, "string"),
		},
	}

	r.mux.Method(method, pattern, handler)
	r.registeredRoutes = append(r.registeredRoutes, route.info)

	return route
}

// Named sets a name for the route (for URL generation)
func (route *Route) Named(name string) *Route {
	route.Name = name
	route.info.Name = name
	return route
}

// WithResource sets resource metadata for the route
func (route *Route) WithResource(resourceName string, operation Operation) *Route {
	route.ResourceName = resourceName
	route.Operation = operation
	route.info.ResourceName = resourceName
	route.info.Operation = operation.String()
	return route
}

// GetRoutes returns all registered routes for introspection
func (r *Router) GetRoutes() []*RouteInfo {
	return r.registeredRoutes
}

// AllowedMethods returns the methods some route serves for path
func (r *Router) AllowedMethods(path string) []string {
	var allowed []string
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete} {
		if r.mux.Match(chi.NewRouteContext(), method, path) {
			allowed = append(allowed, method)
		}
	}
	return allowed
}

// extractParameters extracts parameter definitions from a route pattern. idType is
// the type reported for the id parameter.
func extractParameters(pattern, idType string) []RouteParameter {
	params := make([]RouteParameter, 0)
	parts := strings.Split(pattern, "/")

	for _, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			paramName := strings.Trim(part, "{}")
			paramType := "string"
			if paramName == "id" {
				paramType = idType
			}
			params = append(params, RouteParameter{
				Name:     paramName,
				Type:     paramType,
				Required: true,
				Source:   PathParam,
			})
		}
	}

	return params
}
