package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// Dialect covers the SQL differences between the supported databases
type Dialect interface {
	// Name is the configuration name of the dialect ("postgres", "sqlite")
	Name() string
	// DriverName is the database/sql driver to open
	DriverName() string
	// Placeholder returns the n-th (1-based) bind parameter
	Placeholder(n int) string
	// Quote quotes an identifier
	Quote(ident string) string
	// InList renders "column matches one of values", binding the values through args
	InList(column string, args *argList, values []interface{}) string
	// ContainsOperator is the case-insensitive pattern operator
	ContainsOperator() string
	// LimitOffset renders the window clause; limit 0 means unlimited
	LimitOffset(limit, offset int) string
	// IDColumn renders the primary key column definition
	IDColumn(t schema.IDType) string
	// ReferenceType is the column type of a foreign key to an id of type t
	ReferenceType(t schema.IDType) string
	// ColumnType is the column type of an attribute
	ColumnType(attr schema.Attribute) string
}

// DialectFor returns the dialect with the given configuration name
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", name)
	}
}

// argList accumulates bind parameters while a statement is built
type argList struct {
	dialect Dialect
	values  []interface{}
}

func newArgList(d Dialect) *argList {
	return &argList{dialect: d}
}

// add binds a value and returns its placeholder
func (a *argList) add(v interface{}) string {
	a.values = append(a.values, v)
	return a.dialect.Placeholder(len(a.values))
}

// Postgres targets PostgreSQL through the pgx stdlib driver
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (Postgres) Quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

// InList binds the values as one array parameter
func (Postgres) InList(column string, args *argList, values []interface{}) string {
	return fmt.Sprintf("%s = ANY(%s)", column, args.add(typedArray(values)))
}

func (Postgres) ContainsOperator() string { return "ILIKE" }

func (Postgres) LimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, "LIMIT "+strconv.Itoa(limit))
	}
	if offset > 0 {
		parts = append(parts, "OFFSET "+strconv.Itoa(offset))
	}
	return strings.Join(parts, " ")
}

func (Postgres) IDColumn(t schema.IDType) string {
	if t == schema.IDInteger {
		return `"id" BIGSERIAL PRIMARY KEY`
	}
	return `"id" TEXT PRIMARY KEY`
}

func (Postgres) ReferenceType(t schema.IDType) string {
	if t == schema.IDInteger {
		return "BIGINT"
	}
	return "TEXT"
}

func (Postgres) ColumnType(attr schema.Attribute) string {
	switch attr.Type {
	case schema.String:
		if attr.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", attr.MaxLength)
		}
		return "VARCHAR(255)"
	case schema.Text:
		return "TEXT"
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.DateTime:
		return "TIMESTAMPTZ"
	case schema.Date:
		return "DATE"
	default:
		return "TEXT"
	}
}

// typedArray converts bind values to a pq array of a single element type
func typedArray(values []interface{}) interface{} {
	if len(values) == 0 {
		return pq.Array([]string{})
	}
	switch values[0].(type) {
	case int64:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			if n, ok := v.(int64); ok {
				out = append(out, n)
			}
		}
		return pq.Array(out)
	case float64:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			if f, ok := v.(float64); ok {
				out = append(out, f)
			}
		}
		return pq.Array(out)
	case bool:
		out := make([]bool, 0, len(values))
		for _, v := range values {
			if b, ok := v.(bool); ok {
				out = append(out, b)
			}
		}
		return pq.Array(out)
	default:
		out := make([]string, 0, len(values))
		for _, v := range values {
			switch tv := v.(type) {
			case time.Time:
				out = append(out, tv.Format(time.RFC3339Nano))
			default:
				out = append(out, fmt.Sprint(tv))
			}
		}
		return pq.Array(out)
	}
}

// SQLite targets SQLite through mattn/go-sqlite3
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite3" }

func (SQLite) Placeholder(int) string {
	return "?"
}

func (SQLite) Quote(ident string) string {
	return pq.QuoteIdentifier(ident)
}

// InList binds one parameter per value
func (SQLite) InList(column string, args *argList, values []interface{}) string {
	if len(values) == 0 {
		return "1 = 0"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = args.add(v)
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

// ContainsOperator relies on LIKE being case-insensitive for ASCII in SQLite
func (SQLite) ContainsOperator() string { return "LIKE" }

func (SQLite) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	}
	return ""
}

func (SQLite) IDColumn(t schema.IDType) string {
	if t == schema.IDInteger {
		return `"id" INTEGER PRIMARY KEY AUTOINCREMENT`
	}
	return `"id" TEXT PRIMARY KEY`
}

func (SQLite) ReferenceType(t schema.IDType) string {
	if t == schema.IDInteger {
		return "INTEGER"
	}
	return "TEXT"
}

func (SQLite) ColumnType(attr schema.Attribute) string {
	switch attr.Type {
	case schema.Integer:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.DateTime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}
