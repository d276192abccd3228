// Package mutation applies JSON:API write requests: it validates request documents
// against the schema registry, persists them inside a single store transaction and
// echoes the stored representation through the resolver.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/validation"
	"github.com/conduit-lang/jsonapi-server/internal/web/query"
	"github.com/conduit-lang/jsonapi-server/internal/web/resolver"
)

// Options configures the mutation handler
type Options struct {
	// AllowClientIDs accepts client-generated ids for integer and uuid types. Types with
	// string ids always require one.
	AllowClientIDs bool
}

// Handler applies create, update, delete and relationship mutations
type Handler struct {
	reg       *schema.Registry
	store     store.Store
	resolver  *resolver.Resolver
	engine    *validation.Engine
	validator *documentValidator
	opts      Options
}

// New creates a mutation handler
func New(reg *schema.Registry, st store.Store, res *resolver.Resolver, opts Options) (*Handler, error) {
	v, err := newDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &Handler{
		reg:       reg,
		store:     st,
		resolver:  res,
		engine:    validation.NewEngine(),
		validator: v,
		opts:      opts,
	}, nil
}

// changes is a validated resource object ready to be persisted
type changes struct {
	id     string
	attrs  map[string]interface{}
	links  map[string]*string
	toMany map[string][]string
}

// Create validates and stores a new resource of d's type and returns it resolved with
// every relationship's linkage
func (h *Handler) Create(ctx context.Context, d *query.Descriptor, body []byte) (*resolver.Result, error) {
	log := logger.FromContext(ctx).With(zap.String("type", d.Type()), zap.String("operation", "create"))

	rt, err := h.reg.Lookup(d.Type())
	if err != nil {
		return nil, err
	}
	doc, err := h.decodeResource(body)
	if err != nil {
		return nil, err
	}
	if doc.Data.Type != rt.Name() {
		return nil, apierr.TypeMismatch("/data/type", rt.Name(), doc.Data.Type)
	}

	var errs apierr.List
	errs.Merge(h.checkClientID(rt, doc.Data.ID))
	ch, err := h.changes(rt, &doc.Data, validation.Create)
	errs.Merge(err)
	if errs.Len() > 0 {
		log.Debug("create rejected", zap.Int("errors", errs.Len()))
		return nil, errs
	}
	if doc.Data.ID != nil {
		ch.id = *doc.Data.ID
	}

	log.Debug("persisting")
	var id string
	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if err := h.verifyTargets(ctx, tx, rt, ch); err != nil {
			return err
		}

		rec := store.NewRecord(rt.Name(), ch.id)
		rec.Attributes = ch.attrs
		rec.Links = ch.links
		created, err := tx.Create(ctx, rt, rec)
		if err != nil {
			return err
		}
		id = created.ID
		return h.replaceToMany(ctx, tx, rt, id, ch.toMany, false)
	})
	if err != nil {
		return nil, persistError(rt, "", err)
	}

	log.Debug("serializing", zap.String("id", id))
	return h.resolver.FetchOne(ctx, d.WithRelationshipData(true), id)
}

// Update applies a partial update to the resource id of d's type. Only members present
// in the document are changed; to-many linkage that is present replaces the old one.
func (h *Handler) Update(ctx context.Context, d *query.Descriptor, id string, body []byte) (*resolver.Result, error) {
	log := logger.FromContext(ctx).With(zap.String("type", d.Type()), zap.String("operation", "update"), zap.String("id", id))

	rt, err := h.reg.Lookup(d.Type())
	if err != nil {
		return nil, err
	}
	doc, err := h.decodeResource(body)
	if err != nil {
		return nil, err
	}
	if doc.Data.Type != rt.Name() {
		return nil, apierr.TypeMismatch("/data/type", rt.Name(), doc.Data.Type)
	}
	if doc.Data.ID == nil {
		return nil, apierr.InvalidDocument("/data/id", "an id is required to update a resource")
	}
	if *doc.Data.ID != id {
		return nil, apierr.IDMismatch(id, *doc.Data.ID)
	}

	ch, err := h.changes(rt, &doc.Data, validation.Update)
	if err != nil {
		log.Debug("update rejected", zap.Error(err))
		return nil, err
	}

	log.Debug("persisting")
	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Get(ctx, rt, id); err != nil {
			return err
		}
		if err := h.verifyTargets(ctx, tx, rt, ch); err != nil {
			return err
		}
		if len(ch.attrs) > 0 || len(ch.links) > 0 {
			if _, err := tx.Update(ctx, rt, id, ch.attrs, ch.links); err != nil {
				return err
			}
		}
		return h.replaceToMany(ctx, tx, rt, id, ch.toMany, true)
	})
	if err != nil {
		return nil, persistError(rt, id, err)
	}

	log.Debug("serializing")
	return h.resolver.FetchOne(ctx, d.WithRelationshipData(true), id)
}

// Delete removes a resource. Optional links pointing at it are cleared; required links
// pointing at it reject the delete.
func (h *Handler) Delete(ctx context.Context, typeName, id string) error {
	rt, err := h.reg.Lookup(typeName)
	if err != nil {
		return err
	}
	logger.FromContext(ctx).Debug("deleting", zap.String("type", rt.Name()), zap.String("id", id))

	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Get(ctx, rt, id); err != nil {
			return err
		}
		if err := h.checkRequiredReferences(ctx, tx, rt, id); err != nil {
			return err
		}
		return tx.Delete(ctx, rt, id)
	})
	if err != nil {
		return persistError(rt, id, err)
	}
	return nil
}

// checkRequiredReferences reports every required to-one relationship that still links
// records to rt/id
func (h *Handler) checkRequiredReferences(ctx context.Context, tx store.Store, rt *schema.ResourceType, id string) error {
	var errs apierr.List
	for _, ref := range store.Referencing(h.reg, rt.Name()) {
		if !ref.Relationship.Required {
			continue
		}
		n, err := tx.Count(ctx, ref.Type, []store.Condition{
			{Field: ref.Relationship.Name, Op: store.OpEqual, Values: []interface{}{id}},
		})
		if err != nil {
			return err
		}
		if n > 0 {
			errs.Add(apierr.New(apierr.KindConflict,
				"%s %s is the required %s of %d %s resource(s)", rt.Name(), id, ref.Relationship.Name, n, ref.Type.Name()).
				AtPointer(apierr.Pointer("data", "relationships", ref.Relationship.Name)))
		}
	}
	return errs.Err()
}

// checkClientID enforces the client-generated id policy of a create request
func (h *Handler) checkClientID(rt *schema.ResourceType, id *string) error {
	if id == nil {
		if rt.IDType() == schema.IDString {
			return apierr.InvalidDocument("/data/id", "an id is required to create %s", rt.Name())
		}
		return nil
	}
	if rt.IDType() != schema.IDString && !h.opts.AllowClientIDs {
		return apierr.ClientGeneratedIDNotSupported(rt.Name())
	}
	if rt.IDType() == schema.IDInteger {
		if _, err := strconv.ParseInt(*id, 10, 64); err != nil {
			return apierr.InvalidDocument("/data/id", "id %q must be an integer", *id)
		}
	}
	return nil
}

// changes checks every member of a resource object against rt and coerces attribute
// values. All independent problems are collected.
func (h *Handler) changes(rt *schema.ResourceType, obj *resourceObject, op validation.Operation) (*changes, error) {
	var errs apierr.List
	ch := &changes{
		links:  make(map[string]*string),
		toMany: make(map[string][]string),
	}

	attrs := make(map[string]interface{}, len(obj.Attributes))
	for _, name := range sortedKeys(obj.Attributes) {
		if _, ok := rt.Attribute(name); !ok {
			errs.Add(apierr.UnknownField(rt.Name(), name).AtPointer(apierr.Pointer("data", "attributes", name)))
			continue
		}
		attrs[name] = obj.Attributes[name]
	}

	for _, name := range sortedKeys(obj.Relationships) {
		pointer := apierr.Pointer("data", "relationships", name)
		rel, ok := rt.Relationship(name)
		if !ok {
			errs.Add(apierr.UnknownField(rt.Name(), name).AtPointer(pointer))
			continue
		}
		l, err := decodeLinkage(obj.Relationships[name].Data)
		if err != nil {
			errs.Add(apierr.InvalidDocument(pointer+"/data", "malformed resource linkage"))
			continue
		}
		ids, err := h.checkLinkage(rel, l, pointer+"/data")
		if err != nil {
			errs.Merge(err)
			continue
		}
		if rel.IsToOne() {
			ch.links[name] = nil
			if len(ids) == 1 {
				ch.links[name] = &ids[0]
			}
		} else {
			ch.toMany[name] = ids
		}
	}

	normalized, err := h.engine.Validate(rt, attrs, ch.links, op)
	if err != nil {
		errs.Merge(validationError(rt, err))
	}
	ch.attrs = normalized

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return ch, nil
}

// checkLinkage verifies the shape and target type of relationship data and returns the
// linked ids. pointer locates the data member.
func (h *Handler) checkLinkage(rel schema.Relationship, l linkage, pointer string) ([]string, error) {
	if rel.IsToOne() && l.many {
		return nil, apierr.InvalidDocument(pointer, "%s is a to-one relationship and expects a resource identifier or null", rel.Name)
	}
	if !rel.IsToOne() && !l.many {
		return nil, apierr.InvalidDocument(pointer, "%s is a to-many relationship and expects an array of resource identifiers", rel.Name)
	}
	if !rel.IsToOne() {
		if _, ok := h.reg.InverseOf(rel); !ok {
			return nil, apierr.ValidationFailed(pointer, fmt.Sprintf("%s cannot be changed", rel.Name))
		}
	}

	var errs apierr.List
	ids := make([]string, 0, len(l.ids))
	for i, ident := range l.ids {
		p := pointer
		if l.many {
			p = fmt.Sprintf("%s/%d", pointer, i)
		}
		if ident.Type != rel.Target {
			errs.Add(apierr.TypeMismatch(p+"/type", rel.Target, ident.Type))
			continue
		}
		ids = append(ids, ident.ID)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return store.UniqueIDs(ids), nil
}

// verifyTargets checks that every linked record exists
func (h *Handler) verifyTargets(ctx context.Context, tx store.Store, rt *schema.ResourceType, ch *changes) error {
	var errs apierr.List
	for _, rel := range rt.Relationships() {
		var ids []string
		if rel.IsToOne() {
			if id := ch.links[rel.Name]; id != nil {
				ids = []string{*id}
			}
		} else {
			ids = ch.toMany[rel.Name]
		}
		if len(ids) == 0 {
			continue
		}
		missing, err := h.missing(ctx, tx, rel.Target, ids)
		if err != nil {
			return err
		}
		for _, id := range missing {
			errs.Add(apierr.ValidationFailed(apierr.Pointer("data", "relationships", rel.Name),
				fmt.Sprintf("%s %q does not exist", rel.Target, id)))
		}
	}
	return errs.Err()
}

// missing returns the ids among ids that have no record of typeName
func (h *Handler) missing(ctx context.Context, tx store.Store, typeName string, ids []string) ([]string, error) {
	target, err := h.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	found, err := tx.FindByIDs(ctx, target, ids)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(found))
	for _, rec := range found {
		exists[rec.ID] = true
	}
	var missing []string
	for _, id := range ids {
		if !exists[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// replaceToMany points the inverse to-one of every listed to-many relationship at id.
// With replace, records that were linked before and are not listed are unlinked.
func (h *Handler) replaceToMany(ctx context.Context, tx store.Store, rt *schema.ResourceType, id string, toMany map[string][]string, replace bool) error {
	for _, name := range sortedKeys(toMany) {
		rel, _ := rt.Relationship(name)
		target, inverse, err := h.inverse(rel)
		if err != nil {
			return err
		}
		ids := toMany[name]

		if replace {
			current, err := tx.FindByForeignKey(ctx, target, inverse, []string{id})
			if err != nil {
				return err
			}
			keep := make(map[string]bool, len(ids))
			for _, linked := range ids {
				keep[linked] = true
			}
			var dropped []string
			for _, rec := range current {
				if !keep[rec.ID] {
					dropped = append(dropped, rec.ID)
				}
			}
			if err := h.unlink(ctx, tx, target, inverse, rel, dropped); err != nil {
				return err
			}
		}

		if len(ids) > 0 {
			if err := tx.SetLinks(ctx, target, inverse, ids, &id); err != nil {
				return err
			}
		}
	}
	return nil
}

// unlink clears the inverse to-one of ids. A required inverse cannot be cleared.
func (h *Handler) unlink(ctx context.Context, tx store.Store, target *schema.ResourceType, inverse, rel schema.Relationship, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if inverse.Required {
		return apierr.ValidationFailed(apierr.Pointer("data", "relationships", rel.Name),
			fmt.Sprintf("%s cannot be removed from %s because %s.%s is required", target.Name(), rel.Name, target.Name(), inverse.Name))
	}
	return tx.SetLinks(ctx, target, inverse, ids, nil)
}

func (h *Handler) inverse(rel schema.Relationship) (*schema.ResourceType, schema.Relationship, error) {
	inverse, ok := h.reg.InverseOf(rel)
	if !ok {
		return nil, schema.Relationship{}, apierr.ValidationFailed(apierr.Pointer("data", "relationships", rel.Name),
			fmt.Sprintf("%s cannot be changed", rel.Name))
	}
	target, err := h.reg.Lookup(rel.Target)
	if err != nil {
		return nil, schema.Relationship{}, err
	}
	return target, inverse, nil
}

// validationError converts field failures into errors pointing at the offending member
func validationError(rt *schema.ResourceType, err error) error {
	var verrs *validation.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var errs apierr.List
	verrs.Each(func(field, message string) {
		member := "attributes"
		if _, ok := rt.Relationship(field); ok {
			member = "relationships"
		}
		errs.Add(apierr.ValidationFailed(apierr.Pointer("data", member, field), fmt.Sprintf("%s %s", field, message)))
	})
	return errs.Err()
}

// persistError maps store failures to the error taxonomy. Raw store messages never
// reach the client.
func persistError(rt *schema.ResourceType, id string, err error) error {
	var apiErr *apierr.Error
	var list apierr.List
	var verrs *validation.ValidationErrors
	switch {
	case errors.As(err, &list), errors.As(err, &apiErr):
		return err
	case errors.As(err, &verrs):
		return validationError(rt, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound) && id != "":
		return apierr.NotFound(rt.Name(), id)
	case errors.Is(err, store.ErrUniqueViolation):
		return apierr.New(apierr.KindConflict, "a %s resource with the same identity already exists", rt.Name()).AtPointer("/data")
	case errors.Is(err, store.ErrReferenced):
		return apierr.New(apierr.KindConflict, "%s %s is still linked from other resources", rt.Name(), id)
	case errors.Is(err, store.ErrConstraintViolation):
		return apierr.ValidationFailed("/data", "the resource violates a storage constraint")
	case errors.Is(err, store.ErrMissingID):
		return apierr.InvalidDocument("/data/id", "an id is required to create %s", rt.Name())
	}
	return apierr.Internal(err)
}
