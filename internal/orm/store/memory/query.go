package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

func find(ctx context.Context, d *dataset, rt *schema.ResourceType, q store.Query) ([]*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched, err := filter(d, rt, q.Conditions)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(matched, func(i, j int) bool {
		for _, o := range q.Order {
			c := compareField(rt, matched[i], matched[j], o.Field)
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return store.CompareIDs(matched[i].ID, matched[j].ID) < 0
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []*store.Record{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(matched) {
		matched = matched[:q.Limit]
	}
	return cloneAll(matched), nil
}

func count(ctx context.Context, d *dataset, rt *schema.ResourceType, conds []store.Condition) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	matched, err := filter(d, rt, conds)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func get(ctx context.Context, d *dataset, rt *schema.ResourceType, id string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := d.table(rt.Name()).rows[canonicalID(rt.IDType(), id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func findByIDs(ctx context.Context, d *dataset, rt *schema.ResourceType, ids []string) ([]*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows := d.table(rt.Name()).rows
	out := make([]*store.Record, 0, len(ids))
	for _, id := range store.UniqueIDs(ids) {
		if rec, ok := rows[canonicalID(rt.IDType(), id)]; ok {
			out = append(out, rec.Clone())
		}
	}
	store.SortByID(out)
	return out, nil
}

func findByForeignKey(ctx context.Context, d *dataset, rt *schema.ResourceType, rel schema.Relationship, ids []string) ([]*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []*store.Record
	for _, rec := range d.table(rt.Name()).rows {
		if linked, ok := rec.Link(rel.Name); ok && want[linked] {
			out = append(out, rec.Clone())
		}
	}
	store.SortByID(out)
	return out, nil
}

func filter(d *dataset, rt *schema.ResourceType, conds []store.Condition) ([]*store.Record, error) {
	var out []*store.Record
	for _, rec := range d.table(rt.Name()).rows {
		ok, err := matchAll(rt, rec, conds)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	store.SortByID(out)
	return out, nil
}

func matchAll(rt *schema.ResourceType, rec *store.Record, conds []store.Condition) (bool, error) {
	for _, c := range conds {
		ok, err := match(rt, rec, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(rt *schema.ResourceType, rec *store.Record, c store.Condition) (bool, error) {
	if len(c.Values) == 0 {
		return false, fmt.Errorf("condition on %s has no value", c.Field)
	}

	value, isID, err := fieldValue(rt, rec, c.Field)
	if err != nil {
		return false, err
	}

	cmp := func(want interface{}) (int, bool) {
		if isID {
			got, ok := value.(string)
			w, wok := want.(string)
			if !ok || !wok {
				return 0, false
			}
			return store.CompareIDs(got, w), true
		}
		return compareValues(value, want)
	}

	switch c.Op {
	case store.OpEqual, "":
		n, ok := cmp(c.Values[0])
		return ok && n == 0, nil
	case store.OpNotEqual:
		n, ok := cmp(c.Values[0])
		return !ok || n != 0, nil
	case store.OpLessThan:
		n, ok := cmp(c.Values[0])
		return ok && n < 0, nil
	case store.OpLessEqual:
		n, ok := cmp(c.Values[0])
		return ok && n <= 0, nil
	case store.OpGreaterThan:
		n, ok := cmp(c.Values[0])
		return ok && n > 0, nil
	case store.OpGreaterEqual:
		n, ok := cmp(c.Values[0])
		return ok && n >= 0, nil
	case store.OpContains:
		s, ok := value.(string)
		sub, subOK := c.Values[0].(string)
		return ok && subOK && strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
	case store.OpIn:
		for _, want := range c.Values {
			if n, ok := cmp(want); ok && n == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported operator %q", c.Op)
}

// fieldValue returns the value of a filterable field and whether it is compared as an id
func fieldValue(rt *schema.ResourceType, rec *store.Record, field string) (interface{}, bool, error) {
	if field == "id" {
		return rec.ID, true, nil
	}
	if _, ok := rt.Attribute(field); ok {
		return rec.Attributes[field], false, nil
	}
	if rel, ok := rt.Relationship(field); ok && rel.IsToOne() {
		if id, linked := rec.Link(field); linked {
			return id, true, nil
		}
		return nil, true, nil
	}
	return nil, false, fmt.Errorf("%s is not a filterable field of %s", field, rt.Name())
}

func compareField(rt *schema.ResourceType, a, b *store.Record, field string) int {
	if field == "id" {
		return store.CompareIDs(a.ID, b.ID)
	}
	av, bv := a.Attributes[field], b.Attributes[field]
	switch {
	case av == nil && bv == nil:
		return 0
	case av == nil:
		return -1
	case bv == nil:
		return 1
	}
	n, _ := compareValues(av, bv)
	return n
}

// compareValues compares two attribute values of the same type. Numbers of different
// widths compare as float64. ok is false when the values are not comparable.
func compareValues(a, b interface{}) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1, true
			case av > bv:
				return 1, true
			}
			return 0, true
		}
		return compareFloats(float64(av), b)
	case float64:
		return compareFloats(av, b)
	}
	return 0, false
}

func compareFloats(a float64, b interface{}) (int, bool) {
	var bf float64
	switch bv := b.(type) {
	case float64:
		bf = bv
	case int64:
		bf = float64(bv)
	default:
		return 0, false
	}
	switch {
	case a < bf:
		return -1, true
	case a > bf:
		return 1, true
	}
	return 0, true
}

func cloneAll(records []*store.Record) []*store.Record {
	out := make([]*store.Record, len(records))
	for i, rec := range records {
		out[i] = rec.Clone()
	}
	return out
}
