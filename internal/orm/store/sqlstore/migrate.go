package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// Statements returns the DDL that creates the tables and foreign key indexes of every
// registered type. Tables are ordered so that referenced tables come first. Optional
// foreign keys clear themselves when the referenced record is deleted; required ones block
// the delete.
func Statements(d Dialect, reg *schema.Registry) ([]string, error) {
	order, err := reg.DependencyOrder()
	if err != nil {
		return nil, fmt.Errorf("cannot order tables: %w", err)
	}

	var stmts []string
	for _, name := range order {
		rt, err := reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		create, err := createTable(d, reg, rt)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, create)

		for _, rel := range rt.Relationships() {
			if !rel.IsToOne() {
				continue
			}
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				d.Quote("idx_"+rt.Name()+"_"+rel.ForeignKey), d.Quote(rt.Name()), d.Quote(rel.ForeignKey)))
		}
	}
	return stmts, nil
}

func createTable(d Dialect, reg *schema.Registry, rt *schema.ResourceType) (string, error) {
	columns := []string{d.IDColumn(rt.IDType())}

	for _, attr := range rt.Attributes() {
		def := fmt.Sprintf("%s %s", d.Quote(attr.Name), d.ColumnType(attr))
		if attr.Required {
			def += " NOT NULL"
		}
		columns = append(columns, def)
	}

	for _, rel := range rt.Relationships() {
		if !rel.IsToOne() {
			continue
		}
		target, err := reg.Lookup(rel.Target)
		if err != nil {
			return "", err
		}
		def := fmt.Sprintf("%s %s", d.Quote(rel.ForeignKey), d.ReferenceType(target.IDType()))
		onDelete := "SET NULL"
		if rel.Required {
			def += " NOT NULL"
			onDelete = "RESTRICT"
		}
		columns = append(columns, fmt.Sprintf("%s REFERENCES %s (%s) ON DELETE %s",
			def, d.Quote(target.Name()), d.Quote("id"), onDelete))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.Quote(rt.Name()), strings.Join(columns, ",\n  ")), nil
}

// Migrate creates the tables of every registered type that does not exist yet. It runs
// in a single transaction and returns the executed statements.
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	stmts, err := Statements(s.dialect, s.reg)
	if err != nil {
		return nil, err
	}

	err = s.tm.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stmts, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
