package schema

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
)

// ErrFrozen is returned when registering into a frozen registry
var ErrFrozen = errors.New("schema registry is frozen")

// Registry holds every resource type of the application. It is written during startup and
// frozen before serving; a frozen registry is read without locking.
type Registry struct {
	types  map[string]*ResourceType
	order  []string
	frozen atomic.Bool
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*ResourceType),
	}
}

// Register adds a resource type. Relationship targets are not checked here because types
// may be registered in any order; see Validate and Relationship.
func (r *Registry) Register(rt *ResourceType) error {
	if rt == nil {
		return errors.New("cannot register a nil resource type")
	}
	if r.frozen.Load() {
		return ErrFrozen
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Freeze may have won the lock
	if r.frozen.Load() {
		return ErrFrozen
	}
	if _, exists := r.types[rt.name]; exists {
		return apierr.New(apierr.KindConflict, "resource type %q is already registered", rt.name)
	}
	r.types[rt.name] = rt
	r.order = append(r.order, rt.name)
	return nil
}

// MustRegister registers every type and panics on the first error
func (r *Registry) MustRegister(types ...*ResourceType) *Registry {
	for _, rt := range types {
		if err := r.Register(rt); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze ends registration
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether registration has ended
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) get(name string) (*ResourceType, bool) {
	if r.frozen.Load() {
		rt, ok := r.types[name]
		return rt, ok
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[name]
	return rt, ok
}

// Lookup returns the resource type with the given name
func (r *Registry) Lookup(name string) (*ResourceType, error) {
	rt, ok := r.get(name)
	if !ok {
		return nil, apierr.UnknownType(name)
	}
	return rt, nil
}

// Exists checks if a resource type is registered
func (r *Registry) Exists(name string) bool {
	_, ok := r.get(name)
	return ok
}

// Attribute returns an attribute declared on a type
func (r *Registry) Attribute(typeName, name string) (Attribute, error) {
	rt, err := r.Lookup(typeName)
	if err != nil {
		return Attribute{}, err
	}
	attr, ok := rt.Attribute(name)
	if !ok {
		return Attribute{}, apierr.UnknownField(typeName, name)
	}
	return attr, nil
}

// Relationship returns a relationship declared on a type. The target type is resolved
// lazily here: a relationship whose target never got registered is rejected.
func (r *Registry) Relationship(typeName, name string) (Relationship, error) {
	rt, err := r.Lookup(typeName)
	if err != nil {
		return Relationship{}, err
	}
	rel, ok := rt.Relationship(name)
	if !ok {
		return Relationship{}, apierr.UnknownField(typeName, name)
	}
	if !r.Exists(rel.Target) {
		return Relationship{}, apierr.UnknownType(rel.Target)
	}
	return rel, nil
}

// InverseOf returns the relationship on the target that points back, if one is declared
func (r *Registry) InverseOf(rel Relationship) (Relationship, bool) {
	if rel.Inverse == "" {
		return Relationship{}, false
	}
	target, ok := r.get(rel.Target)
	if !ok {
		return Relationship{}, false
	}
	inv, ok := target.Relationship(rel.Inverse)
	if !ok || inv.Target != rel.Owner {
		return Relationship{}, false
	}
	return inv, true
}

// Types returns all resource types in registration order
func (r *Registry) Types() []*ResourceType {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	out := make([]*ResourceType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

// Count returns the number of registered types
func (r *Registry) Count() int {
	if !r.frozen.Load() {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	return len(r.types)
}

// Validate checks every relationship across the registry: targets must exist and declared
// inverses must point back at the owner. Asymmetric definitions without an inverse are fine.
func (r *Registry) Validate() error {
	var errs []error
	for _, rt := range r.Types() {
		for _, rel := range rt.relationships {
			target, ok := r.get(rel.Target)
			if !ok {
				errs = append(errs, fmt.Errorf("%s.%s: target type %q is not registered", rt.name, rel.Name, rel.Target))
				continue
			}
			if rel.Inverse == "" {
				continue
			}
			inv, ok := target.Relationship(rel.Inverse)
			if !ok {
				errs = append(errs, fmt.Errorf("%s.%s: inverse %q is not declared on %s", rt.name, rel.Name, rel.Inverse, rel.Target))
				continue
			}
			if inv.Target != rt.name {
				errs = append(errs, fmt.Errorf("%s.%s: inverse %s.%s points at %s", rt.name, rel.Name, rel.Target, inv.Name, inv.Target))
			}
			if !rel.IsToOne() && !inv.IsToOne() {
				errs = append(errs, fmt.Errorf("%s.%s: to-many relationships need a to-one inverse", rt.name, rel.Name))
			}
		}
	}
	return errors.Join(errs...)
}
