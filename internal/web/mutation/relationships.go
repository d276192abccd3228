package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/jsonapi-server/internal/apierr"
	"github.com/conduit-lang/jsonapi-server/internal/logger"
	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/web/resolver"
)

// ReplaceRelationship replaces the linkage of a relationship of one resource and
// returns the new linkage
func (h *Handler) ReplaceRelationship(ctx context.Context, typeName, id, relName string, body []byte) (*resolver.Result, error) {
	rt, rel, err := h.relationship(typeName, relName)
	if err != nil {
		return nil, err
	}
	l, err := h.decodeRelationship(body)
	if err != nil {
		return nil, err
	}
	ids, err := h.checkLinkage(rel, l, "/data")
	if err != nil {
		return nil, err
	}
	if rel.IsToOne() && rel.Required && len(ids) == 0 {
		return nil, apierr.ValidationFailed("/data", rel.Name+" cannot be cleared")
	}

	logger.FromContext(ctx).Debug("replacing relationship",
		zap.String("type", rt.Name()), zap.String("id", id), zap.String("relationship", rel.Name))

	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Get(ctx, rt, id); err != nil {
			return err
		}
		if err := h.verifyLinked(ctx, tx, rel, ids); err != nil {
			return err
		}
		if rel.IsToOne() {
			var target *string
			if len(ids) == 1 {
				target = &ids[0]
			}
			_, err := tx.Update(ctx, rt, id, nil, map[string]*string{rel.Name: target})
			return err
		}
		return h.replaceToMany(ctx, tx, rt, id, map[string][]string{rel.Name: ids}, true)
	})
	if err != nil {
		return nil, relationshipError(rt, id, err)
	}
	return h.resolver.FetchRelationship(ctx, rt.Name(), id, rel.Name)
}

// AddToMany adds members to a to-many relationship. Members that are already linked
// stay linked.
func (h *Handler) AddToMany(ctx context.Context, typeName, id, relName string, body []byte) (*resolver.Result, error) {
	rt, rel, ids, err := h.toManyRequest(typeName, relName, body)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("adding to relationship",
		zap.String("type", rt.Name()), zap.String("id", id), zap.String("relationship", rel.Name), zap.Strings("ids", ids))

	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Get(ctx, rt, id); err != nil {
			return err
		}
		if err := h.verifyLinked(ctx, tx, rel, ids); err != nil {
			return err
		}
		target, inverse, err := h.inverse(rel)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.SetLinks(ctx, target, inverse, ids, &id)
	})
	if err != nil {
		return nil, relationshipError(rt, id, err)
	}
	return h.resolver.FetchRelationship(ctx, rt.Name(), id, rel.Name)
}

// RemoveFromMany removes members from a to-many relationship. Members that are not
// linked are ignored.
func (h *Handler) RemoveFromMany(ctx context.Context, typeName, id, relName string, body []byte) (*resolver.Result, error) {
	rt, rel, ids, err := h.toManyRequest(typeName, relName, body)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("removing from relationship",
		zap.String("type", rt.Name()), zap.String("id", id), zap.String("relationship", rel.Name), zap.Strings("ids", ids))

	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Get(ctx, rt, id); err != nil {
			return err
		}
		target, inverse, err := h.inverse(rel)
		if err != nil {
			return err
		}
		current, err := tx.FindByForeignKey(ctx, target, inverse, []string{id})
		if err != nil {
			return err
		}
		remove := make(map[string]bool, len(ids))
		for _, linked := range ids {
			remove[linked] = true
		}
		var dropped []string
		for _, rec := range current {
			if remove[rec.ID] {
				dropped = append(dropped, rec.ID)
			}
		}
		return h.unlink(ctx, tx, target, inverse, rel, dropped)
	})
	if err != nil {
		return nil, relationshipError(rt, id, err)
	}
	return h.resolver.FetchRelationship(ctx, rt.Name(), id, rel.Name)
}

// toManyRequest decodes a relationship document for a to-many membership change
func (h *Handler) toManyRequest(typeName, relName string, body []byte) (*schema.ResourceType, schema.Relationship, []string, error) {
	rt, rel, err := h.relationship(typeName, relName)
	if err != nil {
		return nil, schema.Relationship{}, nil, err
	}
	if rel.IsToOne() {
		return nil, schema.Relationship{}, nil, apierr.New(apierr.KindMethodNotAllowed,
			"members can only be added to or removed from to-many relationships, %s is to-one", rel.Name)
	}
	l, err := h.decodeRelationship(body)
	if err != nil {
		return nil, schema.Relationship{}, nil, err
	}
	ids, err := h.checkLinkage(rel, l, "/data")
	if err != nil {
		return nil, schema.Relationship{}, nil, err
	}
	return rt, rel, ids, nil
}

func (h *Handler) relationship(typeName, relName string) (*schema.ResourceType, schema.Relationship, error) {
	rt, err := h.reg.Lookup(typeName)
	if err != nil {
		return nil, schema.Relationship{}, err
	}
	rel, err := h.reg.Relationship(rt.Name(), relName)
	if err != nil {
		return nil, schema.Relationship{}, err
	}
	return rt, rel, nil
}

// verifyLinked checks that the records a relationship document links exist
func (h *Handler) verifyLinked(ctx context.Context, tx store.Store, rel schema.Relationship, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := h.missing(ctx, tx, rel.Target, ids)
	if err != nil {
		return err
	}
	var errs apierr.List
	for _, id := range missing {
		errs.Add(apierr.ValidationFailed("/data", fmt.Sprintf("%s %q does not exist", rel.Target, id)))
	}
	return errs.Err()
}

// relationshipError maps store failures of a relationship endpoint. Pointers into a
// resource document are rewritten to the relationship document.
func relationshipError(rt *schema.ResourceType, id string, err error) error {
	err = persistError(rt, id, err)

	var list apierr.List
	var single *apierr.Error
	switch {
	case errors.As(err, &list):
	case errors.As(err, &single):
		list = apierr.List{single}
	default:
		return err
	}
	for _, e := range list {
		if strings.HasPrefix(e.Pointer, "/data/relationships/") {
			e.Pointer = "/data"
		}
	}
	return list
}
