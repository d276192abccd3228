package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/validation"
)

// selectList returns the quoted columns of rt in scan order: id, attributes, foreign keys
func (s *Store) selectList(rt *schema.ResourceType) string {
	columns := []string{s.col("id")}
	for _, attr := range rt.Attributes() {
		columns = append(columns, s.col(attr.Name))
	}
	for _, rel := range rt.Relationships() {
		if rel.IsToOne() {
			columns = append(columns, s.col(rel.ForeignKey))
		}
	}
	return strings.Join(columns, ", ")
}

func (s *Store) whereClause(rt *schema.ResourceType, conds []store.Condition, args *argList) (string, error) {
	if len(conds) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(conds))
	for _, c := range conds {
		clause, err := s.condition(rt, c, args)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return " WHERE " + strings.Join(clauses, " AND "), nil
}

// condition renders one filter. Values of id and relationship fields are converted to the
// id type of the referenced table.
func (s *Store) condition(rt *schema.ResourceType, c store.Condition, args *argList) (string, error) {
	if len(c.Values) == 0 {
		return "", fmt.Errorf("condition on %s has no value", c.Field)
	}

	column, idType, isID, err := s.filterColumn(rt, c.Field)
	if err != nil {
		return "", err
	}

	values := c.Values
	if isID {
		values = make([]interface{}, 0, len(c.Values))
		for _, v := range c.Values {
			id, err := toID(idType, fmt.Sprint(v))
			if err != nil {
				return "", fmt.Errorf("invalid id %v for %s: %w", v, c.Field, err)
			}
			values = append(values, id)
		}
	}

	switch c.Op {
	case store.OpEqual, "":
		return fmt.Sprintf("%s = %s", column, args.add(values[0])), nil
	case store.OpNotEqual:
		return fmt.Sprintf("(%s <> %s OR %s IS NULL)", column, args.add(values[0]), column), nil
	case store.OpLessThan:
		return fmt.Sprintf("%s < %s", column, args.add(values[0])), nil
	case store.OpLessEqual:
		return fmt.Sprintf("%s <= %s", column, args.add(values[0])), nil
	case store.OpGreaterThan:
		return fmt.Sprintf("%s > %s", column, args.add(values[0])), nil
	case store.OpGreaterEqual:
		return fmt.Sprintf("%s >= %s", column, args.add(values[0])), nil
	case store.OpContains:
		pattern := "%" + escapeLike(fmt.Sprint(values[0])) + "%"
		return fmt.Sprintf("%s %s %s ESCAPE '\\'", column, s.dialect.ContainsOperator(), args.add(pattern)), nil
	case store.OpIn:
		return s.dialect.InList(column, args, values), nil
	}
	return "", fmt.Errorf("unsupported operator %q", c.Op)
}

func (s *Store) filterColumn(rt *schema.ResourceType, field string) (column string, idType schema.IDType, isID bool, err error) {
	if field == "id" {
		return s.col("id"), rt.IDType(), true, nil
	}
	if _, ok := rt.Attribute(field); ok {
		return s.col(field), 0, false, nil
	}
	if rel, ok := rt.Relationship(field); ok && rel.IsToOne() {
		target, err := s.reg.Lookup(rel.Target)
		if err != nil {
			return "", 0, false, err
		}
		return s.col(rel.ForeignKey), target.IDType(), true, nil
	}
	return "", 0, false, fmt.Errorf("%s is not a filterable field of %s", field, rt.Name())
}

func (s *Store) orderColumn(rt *schema.ResourceType, field string) (string, error) {
	if field == "id" {
		return s.col("id"), nil
	}
	if _, ok := rt.Attribute(field); ok {
		return s.col(field), nil
	}
	return "", fmt.Errorf("%s is not a sortable field of %s", field, rt.Name())
}

func (s *Store) queryRecords(ctx context.Context, rt *schema.ResourceType, query string, args ...interface{}) ([]*store.Record, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ConvertDBError(rt, err)
	}
	defer rows.Close()

	attrs := rt.Attributes()
	var toOne []schema.Relationship
	for _, rel := range rt.Relationships() {
		if rel.IsToOne() {
			toOne = append(toOne, rel)
		}
	}

	records := []*store.Record{}
	for rows.Next() {
		values := make([]interface{}, 1+len(attrs)+len(toOne))
		valuePtrs := make([]interface{}, len(values))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, ConvertDBError(rt, err)
		}

		rec, err := scanRecord(rt, attrs, toOne, values)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, ConvertDBError(rt, err)
	}
	return records, nil
}

func scanRecord(rt *schema.ResourceType, attrs []schema.Attribute, toOne []schema.Relationship, values []interface{}) (*store.Record, error) {
	id, ok := formatID(values[0])
	if !ok {
		return nil, fmt.Errorf("unexpected id %v in %s", values[0], rt.Name())
	}
	rec := store.NewRecord(rt.Name(), id)

	for i, attr := range attrs {
		v, err := validation.FromStorage(attr.Type, values[1+i])
		if err != nil {
			return nil, fmt.Errorf("reading %s.%s: %w", rt.Name(), attr.Name, err)
		}
		rec.Attributes[attr.Name] = v
	}
	for i, rel := range toOne {
		if linked, ok := formatID(values[1+len(attrs)+i]); ok {
			rec.Links[rel.Name] = &linked
		} else {
			rec.Links[rel.Name] = nil
		}
	}
	return rec, nil
}

// toID converts a resource id to the bind value for an id column of type t
func toID(t schema.IDType, id string) (interface{}, error) {
	if t != schema.IDInteger {
		return id, nil
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("id %q is not an integer", id)
	}
	return n, nil
}

// idValues converts ids to bind values, dropping duplicates and ids that cannot exist
func idValues(t schema.IDType, ids []string) []interface{} {
	unique := store.UniqueIDs(ids)
	values := make([]interface{}, 0, len(unique))
	for _, id := range unique {
		if v, err := toID(t, id); err == nil {
			values = append(values, v)
		}
	}
	return values
}

// formatID converts a scanned id column to a resource id. ok is false for NULL.
func formatID(v interface{}) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case int64:
		return strconv.FormatInt(id, 10), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int:
		return strconv.Itoa(id), true
	case []byte:
		return string(id), true
	case string:
		return id, true
	}
	return fmt.Sprint(v), true
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
