// Package memory implements store.Store in process memory. It backs the development
// server and the tests of every package above the persistence layer.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
)

// Store keeps records in maps guarded by a read/write lock. Transactions work on a copy
// of the data that replaces the live data on commit; writers are serialized.
type Store struct {
	reg  *schema.Registry
	mu   sync.RWMutex
	txMu sync.Mutex
	data *dataset
}

var _ store.Store = (*Store)(nil)

// New creates an empty store for the types of reg
func New(reg *schema.Registry) *Store {
	return &Store{
		reg:  reg,
		data: newDataset(),
	}
}

type table struct {
	rows map[string]*store.Record
	seq  int64
}

type dataset struct {
	tables map[string]*table
}

func newDataset() *dataset {
	return &dataset{tables: make(map[string]*table)}
}

func (d *dataset) table(name string) *table {
	t, ok := d.tables[name]
	if !ok {
		t = &table{rows: make(map[string]*store.Record)}
		d.tables[name] = t
	}
	return t
}

func (d *dataset) clone() *dataset {
	cp := newDataset()
	for name, t := range d.tables {
		ct := &table{rows: make(map[string]*store.Record, len(t.rows)), seq: t.seq}
		for id, rec := range t.rows {
			ct.rows[id] = rec.Clone()
		}
		cp.tables[name] = ct
	}
	return cp
}

// Find implements store.Store
func (s *Store) Find(ctx context.Context, rt *schema.ResourceType, q store.Query) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return find(ctx, s.data, rt, q)
}

// Count implements store.Store
func (s *Store) Count(ctx context.Context, rt *schema.ResourceType, conds []store.Condition) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return count(ctx, s.data, rt, conds)
}

// Get implements store.Store
func (s *Store) Get(ctx context.Context, rt *schema.ResourceType, id string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get(ctx, s.data, rt, id)
}

// FindByIDs implements store.Store
func (s *Store) FindByIDs(ctx context.Context, rt *schema.ResourceType, ids []string) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByIDs(ctx, s.data, rt, ids)
}

// FindByForeignKey implements store.Store
func (s *Store) FindByForeignKey(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findByForeignKey(ctx, s.data, rt, rel, ids)
}

// Create implements store.Store
func (s *Store) Create(ctx context.Context, rt *schema.ResourceType, rec *store.Record) (*store.Record, error) {
	var created *store.Record
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		created, err = tx.Create(ctx, rt, rec)
		return err
	})
	return created, err
}

// Update implements store.Store
func (s *Store) Update(ctx context.Context, rt *schema.ResourceType, id string, attrs map[string]interface{}, links map[string]*string) (*store.Record, error) {
	var updated *store.Record
	err := s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		updated, err = tx.Update(ctx, rt, id, attrs, links)
		return err
	})
	return updated, err
}

// SetLinks implements store.Store
func (s *Store) SetLinks(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string, target *string) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.SetLinks(ctx, rt, rel, ids, target)
	})
}

// Delete implements store.Store
func (s *Store) Delete(ctx context.Context, rt *schema.ResourceType, id string) error {
	return s.WithTransaction(ctx, func(ctx context.Context, tx store.Store) error {
		return tx.Delete(ctx, rt, id)
	})
}

// WithTransaction implements store.Store
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	tx := &txStore{reg: s.reg, data: working}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

// txStore operates on a private copy of the data without locking
type txStore struct {
	reg  *schema.Registry
	data *dataset
}

func (t *txStore) Find(ctx context.Context, rt *schema.ResourceType, q store.Query) ([]*store.Record, error) {
	return find(ctx, t.data, rt, q)
}

func (t *txStore) Count(ctx context.Context, rt *schema.ResourceType, conds []store.Condition) (int, error) {
	return count(ctx, t.data, rt, conds)
}

func (t *txStore) Get(ctx context.Context, rt *schema.ResourceType, id string) (*store.Record, error) {
	return get(ctx, t.data, rt, id)
}

func (t *txStore) FindByIDs(ctx context.Context, rt *schema.ResourceType, ids []string) ([]*store.Record, error) {
	return findByIDs(ctx, t.data, rt, ids)
}

func (t *txStore) FindByForeignKey(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string) ([]*store.Record, error) {
	return findByForeignKey(ctx, t.data, rt, rel, ids)
}

func (t *txStore) Create(ctx context.Context, rt *schema.ResourceType, rec *store.Record) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl := t.data.table(rt.Name())

	id := canonicalID(rt.IDType(), rec.ID)
	switch {
	case id != "":
		if _, exists := tbl.rows[id]; exists {
			return nil, fmt.Errorf("%w: %s with id %s already exists", store.ErrUniqueViolation, rt.Name(), id)
		}
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && rt.IDType() == schema.IDInteger && n > tbl.seq {
			tbl.seq = n
		}
	case rt.IDType() == schema.IDInteger:
		tbl.seq++
		id = strconv.FormatInt(tbl.seq, 10)
	case rt.IDType() == schema.IDUUID:
		id = uuid.NewString()
	default:
		return nil, store.ErrMissingID
	}

	stored := store.NewRecord(rt.Name(), id)
	for _, attr := range rt.Attributes() {
		stored.Attributes[attr.Name] = rec.Attributes[attr.Name]
	}
	for _, rel := range rt.Relationships() {
		if !rel.IsToOne() {
			continue
		}
		stored.Links[rel.Name] = t.canonicalLink(rel, rec.Links[rel.Name])
	}

	tbl.rows[id] = stored
	return stored.Clone(), nil
}

func (t *txStore) Update(ctx context.Context, rt *schema.ResourceType, id string, attrs map[string]interface{}, links map[string]*string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, ok := t.data.table(rt.Name()).rows[canonicalID(rt.IDType(), id)]
	if !ok {
		return nil, store.ErrNotFound
	}
	for name, v := range attrs {
		if _, ok := rt.Attribute(name); ok {
			rec.Attributes[name] = v
		}
	}
	for name, target := range links {
		if rel, ok := rt.Relationship(name); ok && rel.IsToOne() {
			rec.Links[name] = t.canonicalLink(rel, target)
		}
	}
	return rec.Clone(), nil
}

func (t *txStore) SetLinks(ctx context.Context, rt *schema.ResourceType, rel schema.Relationship, ids []string, target *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tbl := t.data.table(rt.Name())
	for _, id := range ids {
		if rec, ok := tbl.rows[canonicalID(rt.IDType(), id)]; ok {
			rec.Links[rel.Name] = t.canonicalLink(rel, target)
		}
	}
	return nil
}

func (t *txStore) Delete(ctx context.Context, rt *schema.ResourceType, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id = canonicalID(rt.IDType(), id)
	tbl := t.data.table(rt.Name())
	if _, ok := tbl.rows[id]; !ok {
		return store.ErrNotFound
	}
	refs := store.Referencing(t.reg, rt.Name())
	for _, ref := range refs {
		if !ref.Relationship.Required {
			continue
		}
		for _, rec := range t.data.table(ref.Type.Name()).rows {
			if linked, ok := rec.Link(ref.Relationship.Name); ok && linked == id {
				return fmt.Errorf("%w: %s %s links to it through %s", store.ErrReferenced, ref.Type.Name(), rec.ID, ref.Relationship.Name)
			}
		}
	}
	delete(tbl.rows, id)

	for _, ref := range refs {
		for _, rec := range t.data.table(ref.Type.Name()).rows {
			if linked, ok := rec.Link(ref.Relationship.Name); ok && linked == id {
				rec.Links[ref.Relationship.Name] = nil
			}
		}
	}
	return nil
}

// Nested transactions join the enclosing one
func (t *txStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, t)
}

// canonicalLink copies a link target, normalized to the id form of the related type
func (t *txStore) canonicalLink(rel schema.Relationship, id *string) *string {
	if id == nil {
		return nil
	}
	target, err := t.reg.Lookup(rel.Target)
	if err != nil {
		return copyID(id)
	}
	canonical := canonicalID(target.IDType(), *id)
	return &canonical
}

// canonicalID normalizes integer ids so "01" and "1" name the same record
func canonicalID(idType schema.IDType, id string) string {
	if idType != schema.IDInteger {
		return id
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return id
	}
	return strconv.FormatInt(n, 10)
}

func copyID(id *string) *string {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
