// Package sqlstore implements store.Store on database/sql for PostgreSQL (pgx) and
// SQLite. Every resource type maps to a table named after the type with an "id" primary
// key, one column per attribute and one foreign key column per to-one relationship.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/transaction"
)

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is a store.Store backed by a SQL database
type Store struct {
	db      *sql.DB
	tm      *transaction.Manager
	dialect Dialect
	reg     *schema.Registry

	q    querier
	inTx bool
}

var _ store.Store = (*Store)(nil)

// New creates a store over an open connection pool
func New(db *sql.DB, dialect Dialect, reg *schema.Registry) *Store {
	return &Store{
		db:      db,
		tm:      transaction.NewManager(db),
		dialect: dialect,
		reg:     reg,
		q:       db,
	}
}

// WithTransactionManager replaces the transaction manager, e.g. to change retries
func (s *Store) WithTransactionManager(tm *transaction.Manager) *Store {
	s.tm = tm
	return s
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) table(rt *schema.ResourceType) string {
	return s.dialect.Quote(rt.Name())
}

func (s *Store) col(name string) string {
	return s.dialect.Quote(name)
}

// Find implements store.Store
func (s *Store) Find(ctx context.Context, rt *schema.ResourceType, q store.Query) ([]*store.Record, error) {
	args := newArgList(s.dialect)
	where, err := s.whereClause(rt, q.Conditions, args)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", s.selectList(rt), s.table(rt))
	sb.WriteString(where)
	sb.WriteString(" ORDER BY ")
	for _, o := range q.Order {
		column, err := s.orderColumn(rt, o.Field)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			fmt.Fprintf(&sb, "%s DESC NULLS LAST, ", column)
		} else {
			fmt.Fprintf(&sb, "%s ASC NULLS FIRST, ", column)
		}
	}
	sb.WriteString(s.col("id") + " ASC")
	if window := s.dialect.LimitOffset(q.Limit, q.Offset); window != "" {
		sb.WriteString(" " + window)
	}

	return s.queryRecords(ctx, rt, sb.String(), args.values...)
}

// Count implements store.Store
func (s *Store) Count(ctx context.Context, rt *schema.ResourceType, conds []store.Condition) (int, error) {
	args := newArgList(s.dialect)
	where, err := s.whereClause(rt, conds, args)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table(rt), where)
	var n int
	if err := s.q.QueryRowContext(ctx, query, args.values...).Scan(&n); err != nil {
		return 0, ConvertDBError(rt, err)
	}
	return n, nil
}

// Get implements store.Store
func (s *Store) Get(ctx context.Context, rt *schema.ResourceType, id string) (*store.Record, error) {
	idArg, err := toID(rt.IDType(), id)
	if err != nil {
		return nil, store.ErrNotFound
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.selectList(rt), s.table(rt), s.col("id"), s.dialect.Placeholder(1))
	records, err := s.queryRecords(ctx, rt, query, idArg)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}
	return records[0], nil
}

// FindByIDs implements store.Store
func (s *Store) FindByIDs(ctx context.Context, rt *schema.ResourceType, ids []string) ([]*store.Record, error) {
	values := idValues(rt.IDType(), ids)
	if len(values) == 0 {
		return []*store.Record{}, nil
	}

	args := newArgList(s.dialect)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s ASC",
		s.selectList(rt), s.table(rt), s.dialect.InList(s.col("id"), args, values), s.col("id"))
	return s.queryRecords(ctx, rt, query, args.values...)
}

// FindByForeignKey implements store.Store
func (s *Store) FindByForeignKey(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string) ([]*store.Record, error) {
	target, err := s.reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	values := idValues(target.IDType(), ids)
	if len(values) == 0 {
		return []*store.Record{}, nil
	}

	args := newArgList(s.dialect)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s ASC",
		s.selectList(rt), s.table(rt), s.dialect.InList(s.col(rel.ForeignKey), args, values), s.col("id"))
	return s.queryRecords(ctx, rt, query, args.values...)
}

// Create implements store.Store
func (s *Store) Create(ctx context.Context, rt *schema.ResourceType, rec *store.Record) (*store.Record, error) {
	var created *store.Record
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		created, err = tx.(*Store).create(ctx, rt, rec)
		return err
	})
	return created, err
}

func (s *Store) create(ctx context.Context, rt *schema.ResourceType, rec *store.Record) (*store.Record, error) {
	args := newArgList(s.dialect)
	var columns, placeholders []string

	id := rec.ID
	if id == "" {
		switch rt.IDType() {
		case schema.IDUUID:
			id = uuid.NewString()
		case schema.IDString:
			return nil, store.ErrMissingID
		}
	}
	if id != "" {
		idArg, err := toID(rt.IDType(), id)
		if err != nil {
			return nil, err
		}
		columns = append(columns, s.col("id"))
		placeholders = append(placeholders, args.add(idArg))
	}

	for _, attr := range rt.Attributes() {
		v, ok := rec.Attributes[attr.Name]
		if !ok {
			continue
		}
		columns = append(columns, s.col(attr.Name))
		placeholders = append(placeholders, args.add(v))
	}
	linkCols, linkArgs, err := s.linkColumns(rt, rec.Links)
	if err != nil {
		return nil, err
	}
	for i, c := range linkCols {
		columns = append(columns, c)
		placeholders = append(placeholders, args.add(linkArgs[i]))
	}

	var query string
	if len(columns) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", s.table(rt), s.col("id"))
	} else {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			s.table(rt), strings.Join(columns, ", "), strings.Join(placeholders, ", "), s.col("id"))
	}

	var rawID interface{}
	if err := s.q.QueryRowContext(ctx, query, args.values...).Scan(&rawID); err != nil {
		return nil, ConvertDBError(rt, err)
	}
	newID, ok := formatID(rawID)
	if !ok {
		return nil, fmt.Errorf("unexpected id %v returned for %s", rawID, rt.Name())
	}
	return s.Get(ctx, rt, newID)
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, rt *schema.ResourceType, id string, attrs map[string]interface{}, links map[string]*string) (*store.Record, error) {
	var updated *store.Record
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		updated, err = tx.(*Store).update(ctx, rt, id, attrs, links)
		return err
	})
	return updated, err
}

func (s *Store) update(ctx context.Context, rt *schema.ResourceType, id string, attrs map[string]interface{}, links map[string]*string) (*store.Record, error) {
	idArg, err := toID(rt.IDType(), id)
	if err != nil {
		return nil, store.ErrNotFound
	}

	args := newArgList(s.dialect)
	var sets []string
	for _, attr := range rt.Attributes() {
		v, ok := attrs[attr.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", s.col(attr.Name), args.add(v)))
	}
	linkCols, linkArgs, err := s.linkColumns(rt, links)
	if err != nil {
		return nil, err
	}
	for i, c := range linkCols {
		sets = append(sets, fmt.Sprintf("%s = %s", c, args.add(linkArgs[i])))
	}

	if len(sets) == 0 {
		return s.Get(ctx, rt, id)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.table(rt), strings.Join(sets, ", "), s.col("id"), args.add(idArg))
	result, err := s.q.ExecContext(ctx, query, args.values...)
	if err != nil {
		return nil, ConvertDBError(rt, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return nil, store.ErrNotFound
	}
	return s.Get(ctx, rt, id)
}

// SetLinks implements store.Store
func (s *Store) SetLinks(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string, target *string) error {
	values := idValues(rt.IDType(), ids)
	if len(values) == 0 {
		return nil
	}
	targetType, err := s.reg.Lookup(rel.Target)
	if err != nil {
		return err
	}

	args := newArgList(s.dialect)
	var value interface{}
	if target != nil {
		if value, err = toID(targetType.IDType(), *target); err != nil {
			return err
		}
	}
	set := args.add(value)
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s",
		s.table(rt), s.col(rel.ForeignKey), set, s.dialect.InList(s.col("id"), args, values))
	if _, err := s.q.ExecContext(ctx, query, args.values...); err != nil {
		return ConvertDBError(rt, err)
	}
	return nil
}

// Delete implements store.Store
func (s *Store) Delete(ctx context.Context, rt *schema.ResourceType, id string) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.(*Store).delete(ctx, rt, id)
	})
}

func (s *Store) delete(ctx context.Context, rt *schema.ResourceType, id string) error {
	idArg, err := toID(rt.IDType(), id)
	if err != nil {
		return store.ErrNotFound
	}

	refs := store.Referencing(s.reg, rt.Name())
	for _, ref := range refs {
		if !ref.Relationship.Required {
			continue
		}
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
			s.table(ref.Type), s.col(ref.Relationship.ForeignKey), s.dialect.Placeholder(1))
		var n int
		if err := s.q.QueryRowContext(ctx, query, idArg).Scan(&n); err != nil {
			return ConvertDBError(ref.Type, err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %d %s link to it through %s", store.ErrReferenced, n, ref.Type.Name(), ref.Relationship.Name)
		}
	}

	for _, ref := range refs {
		if ref.Relationship.Required {
			continue
		}
		query := fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = %s",
			s.table(ref.Type), s.col(ref.Relationship.ForeignKey), s.col(ref.Relationship.ForeignKey), s.dialect.Placeholder(1))
		if _, err := s.q.ExecContext(ctx, query, idArg); err != nil {
			return ConvertDBError(ref.Type, err)
		}
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", s.table(rt), s.col("id"), s.dialect.Placeholder(1))
	result, err := s.q.ExecContext(ctx, query, idArg)
	if err != nil {
		return ConvertDBError(rt, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// WithTransaction implements store.Store. Calls made on a transactional store join the
// enclosing transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.tm.WithTransaction(ctx, func(tx *sql.Tx) error {
		bound := *s
		bound.q = tx
		bound.inTx = true
		return fn(ctx, &bound)
	})
}

// linkColumns returns the foreign key columns and bind values for the given to-one links
func (s *Store) linkColumns(rt *schema.ResourceType, links map[string]*string) ([]string, []interface{}, error) {
	var columns []string
	var values []interface{}
	for _, rel := range rt.Relationships() {
		if !rel.IsToOne() {
			continue
		}
		target, ok := links[rel.Name]
		if !ok {
			continue
		}
		var value interface{}
		if target != nil {
			targetType, err := s.reg.Lookup(rel.Target)
			if err != nil {
				return nil, nil, err
			}
			if value, err = toID(targetType.IDType(), *target); err != nil {
				return nil, nil, err
			}
		}
		columns = append(columns, s.col(rel.ForeignKey))
		values = append(values, value)
	}
	return columns, values, nil
}
