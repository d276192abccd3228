// Package resolver turns a parsed request into records: the primary data, the records
// reached through include paths, and the resource linkage of resolved relationships.
package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/web/query"
)

// Resolver loads records through a store. It holds no per-request state.
type Resolver struct {
	reg   *schema.Registry
	store store.Store
}

// New creates a resolver
func New(reg *schema.Registry, st store.Store) *Resolver {
	return &Resolver{reg: reg, store: st}
}

// FetchCollection loads a window of records of the descriptor's type, the total number
// of matching records and everything the include paths reach
func (r *Resolver) FetchCollection(ctx context.Context, d *query.Descriptor) (*Result, error) {
	rt, err := r.reg.Lookup(d.Type())
	if err != nil {
		return nil, err
	}
	page := d.Page()
	logger.FromContext(ctx).Debug("fetching collection",
		zap.String("type", rt.Name()),
		zap.Strings("include", d.Includes()),
		zap.Bool("paginated", d.Paginated()),
		zap.Int("offset", page.Offset),
		zap.Int("limit", page.Limit))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := r.store.Find(ctx, rt, d.Query())
	if err != nil {
		return nil, storeError(rt, "", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total, err := r.store.Count(ctx, rt, d.Conditions())
	if err != nil {
		return nil, storeError(rt, "", err)
	}

	res := newResult(rt.Name(), records, false)
	res.Total = total
	if err := r.complete(ctx, rt, d, res); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchOne loads a single record and everything the include paths reach
func (r *Resolver) FetchOne(ctx context.Context, d *query.Descriptor, id string) (*Result, error) {
	rt, err := r.reg.Lookup(d.Type())
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("fetching resource",
		zap.String("type", rt.Name()), zap.String("id", id), zap.Strings("include", d.Includes()))

	rec, err := r.get(ctx, rt, id)
	if err != nil {
		return nil, err
	}

	res := newResult(rt.Name(), []*store.Record{rec}, true)
	if err := r.complete(ctx, rt, d, res); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchRelated loads the records a relationship of a parent record points at. d is
// parsed against the relationship's target type; for to-many relationships its filters,
// sort and page apply to the related collection. A to-one relationship whose key is
// unset or dangling yields null primary data.
func (r *Resolver) FetchRelated(ctx context.Context, d *query.Descriptor, parentType, parentID, relName string) (*Result, error) {
	parentRT, rel, err := r.relationship(parentType, relName)
	if err != nil {
		return nil, err
	}
	target, err := r.reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	parent, err := r.get(ctx, parentRT, parentID)
	if err != nil {
		return nil, err
	}

	var res *Result
	if rel.IsToOne() {
		var records []*store.Record
		if id, ok := parent.Link(rel.Name); ok {
			found, err := r.findByIDs(ctx, target, []string{id})
			if err != nil {
				return nil, err
			}
			records = found
		}
		res = newResult(target.Name(), records, true)
	} else {
		inverse, ok := r.reg.InverseOf(rel)
		if !ok {
			res = newResult(target.Name(), []*store.Record{}, false)
		} else {
			q := d.Query()
			q.Conditions = append(q.Conditions, store.Condition{Field: inverse.Name, Op: store.OpEqual, Values: []interface{}{parent.ID}})

			if err := ctx.Err(); err != nil {
				return nil, err
			}
			records, err := r.store.Find(ctx, target, q)
			if err != nil {
				return nil, storeError(target, "", err)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			total, err := r.store.Count(ctx, target, q.Conditions)
			if err != nil {
				return nil, storeError(target, "", err)
			}
			res = newResult(target.Name(), records, false)
			res.Total = total
		}
	}

	if err := r.complete(ctx, target, d, res); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchRelationship loads the resource linkage of one relationship of a parent record.
// The related records are returned as primary data; only their identifiers are meant to
// be rendered.
func (r *Resolver) FetchRelationship(ctx context.Context, parentType, parentID, relName string) (*Result, error) {
	parentRT, rel, err := r.relationship(parentType, relName)
	if err != nil {
		return nil, err
	}
	parent, err := r.get(ctx, parentRT, parentID)
	if err != nil {
		return nil, err
	}

	scratch := newResult(parentRT.Name(), []*store.Record{parent}, true)
	related, err := r.resolveLinkage(ctx, parentRT, []*store.Record{parent}, rel, scratch)
	if err != nil {
		return nil, err
	}

	res := newResult(rel.Target, related, rel.IsToOne())
	res.Parent = &store.Record{Type: parent.Type, ID: parent.ID}
	res.Relationship = rel.Name
	return res, nil
}

// complete resolves include paths and, when requested, the linkage of every relationship
// of the primary records
func (r *Resolver) complete(ctx context.Context, rt *schema.ResourceType, d *query.Descriptor, res *Result) error {
	if len(res.Primary) == 0 {
		return nil
	}
	if err := r.include(ctx, rt, res.Primary, d.IncludeTree(), res); err != nil {
		return err
	}
	if !d.RelationshipData() {
		return nil
	}

	for _, rel := range rt.Relationships() {
		if !d.Wants(rt.Name(), rel.Name) || res.resolvedFor(res.Primary, rel.Name) {
			continue
		}
		if _, err := r.resolveLinkage(ctx, rt, res.Primary, rel, res); err != nil {
			return err
		}
	}
	return nil
}

// include walks the include tree one level at a time, loading each relationship of all
// owners with a single batched query
func (r *Resolver) include(ctx context.Context, rt *schema.ResourceType, owners []*store.Record, tree []query.Include, res *Result) error {
	for _, node := range tree {
		rel, err := r.reg.Relationship(rt.Name(), node.Relationship)
		if err != nil {
			return err
		}
		related, err := r.resolveLinkage(ctx, rt, owners, rel, res)
		if err != nil {
			return err
		}
		res.addIncluded(related)

		if len(node.Children) == 0 || len(related) == 0 {
			continue
		}
		target, err := r.reg.Lookup(rel.Target)
		if err != nil {
			return err
		}
		if err := r.include(ctx, target, related, node.Children, res); err != nil {
			return err
		}
	}
	return nil
}

// resolveLinkage records, for every owner, the ids rel points at and returns the distinct
// related records. Keys that point at missing records are dropped from the linkage.
func (r *Resolver) resolveLinkage(ctx context.Context, rt *schema.ResourceType, owners []*store.Record, rel schema.Relationship, res *Result) ([]*store.Record, error) {
	target, err := r.reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}

	if rel.IsToOne() {
		ids := make([]string, 0, len(owners))
		for _, owner := range owners {
			if id, ok := owner.Link(rel.Name); ok {
				ids = append(ids, id)
			}
		}
		var related []*store.Record
		if len(ids) > 0 {
			if related, err = r.findByIDs(ctx, target, ids); err != nil {
				return nil, err
			}
		}
		exists := make(map[string]bool, len(related))
		for _, rec := range related {
			exists[rec.ID] = true
		}
		for _, owner := range owners {
			linked := []string{}
			if id, ok := owner.Link(rel.Name); ok && exists[id] {
				linked = append(linked, id)
			}
			res.setLinkage(owner, rel.Name, linked)
		}
		return related, nil
	}

	inverse, ok := r.reg.InverseOf(rel)
	if !ok {
		for _, owner := range owners {
			res.setLinkage(owner, rel.Name, []string{})
		}
		return nil, nil
	}

	ownerIDs := make([]string, len(owners))
	for i, owner := range owners {
		ownerIDs[i] = owner.ID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	related, err := r.store.FindByForeignKey(ctx, target, inverse, store.UniqueIDs(ownerIDs))
	if err != nil {
		return nil, storeError(target, "", err)
	}

	grouped := make(map[string][]string, len(owners))
	for _, rec := range related {
		if ownerID, ok := rec.Link(inverse.Name); ok {
			grouped[ownerID] = append(grouped[ownerID], rec.ID)
		}
	}
	for _, owner := range owners {
		linked := grouped[owner.ID]
		if linked == nil {
			linked = []string{}
		}
		res.setLinkage(owner, rel.Name, linked)
	}
	return related, nil
}

func (r *Resolver) relationship(typeName, relName string) (*schema.ResourceType, schema.Relationship, error) {
	rt, err := r.reg.Lookup(typeName)
	if err != nil {
		return nil, schema.Relationship{}, err
	}
	rel, err := r.reg.Relationship(typeName, relName)
	if err != nil {
		return nil, schema.Relationship{}, err
	}
	return rt, rel, nil
}

func (r *Resolver) get(ctx context.Context, rt *schema.ResourceType, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := r.store.Get(ctx, rt, id)
	if err != nil {
		return nil, storeError(rt, id, err)
	}
	return rec, nil
}

func (r *Resolver) findByIDs(ctx context.Context, rt *schema.ResourceType, ids []string) ([]*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := r.store.FindByIDs(ctx, rt, ids)
	if err != nil {
		return nil, storeError(rt, "", err)
	}
	return records, nil
}

// storeError maps store failures to the error taxonomy. Cancellation is passed through
// so callers can tell an abandoned request from a failure.
func storeError(rt *schema.ResourceType, id string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound) && id != "":
		return apierr.NotFound(rt.Name(), id)
	}
	return apierr.Internal(err)
}
