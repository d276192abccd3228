package router

import (
	"fmt"
	"net/http"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// ResourceDefinition represents a resource type that can be registered with the router
type ResourceDefinition struct {
	Name        string      // Resource type name (e.g., "games")
	BasePath    string      // Base path below the router prefix (e.g., "/games")
	IDParamName string      // ID parameter name (default: "id")
	IDType      string      // ID type (integer, uuid, string)
	Operations  []Operation // Enabled operations
}

// AllOperations lists every operation of a JSON:API resource
var AllOperations = []Operation{
	OpList, OpCreate, OpShow, OpUpdate, OpDelete,
	OpRelated, OpRelationship, OpReplaceRelationship, OpAddToRelationship, OpRemoveFromRelationship,
}

// NewResourceDefinition creates a resource definition for a registered type with
// every operation enabled
func NewResourceDefinition(rt *schema.ResourceType) *ResourceDefinition {
	return &ResourceDefinition{
		Name:        rt.Name(),
		BasePath:    "/" + rt.Name(),
		IDParamName: "id",
		IDType:      rt.IDType().String(),
		Operations:  AllOperations,
	}
}

// ResourceHandlers contains handlers for resource operations
type ResourceHandlers struct {
	List                   http.HandlerFunc
	Create                 http.HandlerFunc
	Show                   http.HandlerFunc
	Update                 http.HandlerFunc
	Delete                 http.HandlerFunc
	Related                http.HandlerFunc
	Relationship           http.HandlerFunc
	ReplaceRelationship    http.HandlerFunc
	AddToRelationship      http.HandlerFunc
	RemoveFromRelationship http.HandlerFunc
}

// Validate checks that all required handlers are present
func (h *ResourceHandlers) Validate(operations []Operation) error {
	for _, op := range operations {
		handler := h.GetHandler(op)
		if handler == nil {
			return fmt.Errorf("missing handler for operation: %s", op)
		}
	}
	return nil
}

// GetHandler returns the handler for the given operation
func (h *ResourceHandlers) GetHandler(op Operation) http.HandlerFunc {
	switch op {
	case OpList:
		return h.List
	case OpCreate:
		return h.Create
	case OpShow:
		return h.Show
	case OpUpdate:
		return h.Update
	case OpDelete:
		return h.Delete
	case OpRelated:
		return h.Related
	case OpRelationship:
		return h.Relationship
	case OpReplaceRelationship:
		return h.ReplaceRelationship
	case OpAddToRelationship:
		return h.AddToRelationship
	case OpRemoveFromRelationship:
		return h.RemoveFromRelationship
	default:
		return nil
	}
}

// RegisterResource registers the JSON:API routes for a resource type
func (r *Router) RegisterResource(def *ResourceDefinition, handlers ResourceHandlers) error {
	if err := handlers.Validate(def.Operations); err != nil {
		return fmt.Errorf("invalid handlers: %w", err)
	}

	for _, op := range def.Operations {
		if err := r.registerResourceOperation(def, op, handlers); err != nil {
			return fmt.Errorf("failed to register operation %s: %w", op, err)
		}
	}

	return nil
}

// registerResourceOperation registers a single resource operation
func (r *Router) registerResourceOperation(def *ResourceDefinition, op Operation, handlers ResourceHandlers) error {
	handler := handlers.GetHandler(op)
	if handler == nil {
		return fmt.Errorf("missing handler for operation: %s", op)
	}

	member := fmt.Sprintf("%s/{%s}", def.BasePath, def.IDParamName)
	related := member + "/{relationship}"
	linkage := member + "/relationships/{relationship}"

	var route *Route
	switch op {
	case OpList:
		route = r.Get(def.BasePath, handler)
	case OpCreate:
		route = r.Post(def.BasePath, handler)
	case OpShow:
		route = r.Get(member, handler)
	case OpUpdate:
		route = r.Patch(member, handler)
	case OpDelete:
		route = r.Delete(member, handler)
	case OpRelated:
		route = r.Get(related, handler)
	case OpRelationship:
		route = r.Get(linkage, handler)
	case OpReplaceRelationship:
		route = r.Patch(linkage, handler)
	case OpAddToRelationship:
		route = r.Post(linkage, handler)
	case OpRemoveFromRelationship:
		route = r.Delete(linkage, handler)
	default:
		return fmt.Errorf("unknown operation: %s", op)
	}

	route.WithResource(def.Name, op)
	route.Named(fmt.Sprintf("%s.%s", def.Name, op.String()))
	route.info.Parameters = extractParameters(route.Pattern, def.IDType)

	return nil
}

// RouteListJSON returns route information as a structured format
func (r *Router) RouteListJSON() []RouteInfo {
	// Create a copy to avoid exposing internal state
	routes := make([]RouteInfo, len(r.registeredRoutes))
	for i, route := range r.registeredRoutes {
		routes[i] = *route
	}
	return routes
}
