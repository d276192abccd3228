package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
	"github.com/conduit-lang/jsonapi-server/internal/orm/store"
	"github.com/conduit-lang/jsonapi-server/internal/orm/validation"
)

// ConvertDBError converts driver errors into store errors. Constraint failures on a known
// column become *validation.ValidationErrors keyed by the attribute or relationship name,
// so they can be reported against the offending field.
func ConvertDBError(rt *schema.ResourceType, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, pgErr.Detail)
		case "23503": // foreign_key_violation
			return fieldError(rt, columnFromDetail(pgErr.Detail), "refers to a record that does not exist", err)
		case "23514": // check_violation
			return fieldError(rt, pgErr.ColumnName, "is invalid", err)
		case "23502": // not_null_violation
			return fieldError(rt, pgErr.ColumnName, "is required", err)
		case "22001": // string_data_right_truncation
			return fieldError(rt, pgErr.ColumnName, "is too long", err)
		}
		return err
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %s", store.ErrUniqueViolation, liteErr.Error())
		case sqlite3.ErrConstraintNotNull:
			return fieldError(rt, columnFromMessage(liteErr.Error()), "is required", err)
		case sqlite3.ErrConstraintForeignKey:
			return fieldError(rt, "", "refers to a record that does not exist", err)
		case sqlite3.ErrConstraintCheck:
			return fieldError(rt, "", "is invalid", err)
		}
	}

	return err
}

// fieldError reports a constraint failure against the field stored in column. Failures
// that cannot be attributed to a field are reported as store.ErrConstraintViolation.
func fieldError(rt *schema.ResourceType, column, message string, cause error) error {
	field := fieldForColumn(rt, column)
	if field == "" {
		return fmt.Errorf("%w: %s: %v", store.ErrConstraintViolation, message, cause)
	}
	ve := validation.NewValidationErrors()
	ve.Add(field, message)
	return ve
}

func fieldForColumn(rt *schema.ResourceType, column string) string {
	if rt == nil || column == "" {
		return ""
	}
	if _, ok := rt.Attribute(column); ok {
		return column
	}
	if rel, ok := rt.ToOneByForeignKey(column); ok {
		return rel.Name
	}
	return ""
}

// columnFromMessage extracts the column of an SQLite constraint message such as
// "NOT NULL constraint failed: games.title"
func columnFromMessage(msg string) string {
	i := strings.LastIndex(msg, ": ")
	if i < 0 {
		return ""
	}
	qualified := strings.TrimSpace(msg[i+2:])
	if dot := strings.LastIndex(qualified, "."); dot >= 0 {
		return qualified[dot+1:]
	}
	return qualified
}

// columnFromDetail extracts the column of a PostgreSQL key detail such as
// `Key (system_id)=(9) is not present in table "systems".`
func columnFromDetail(detail string) string {
	start := strings.Index(detail, "(")
	end := strings.Index(detail, ")")
	if start < 0 || end <= start {
		return ""
	}
	return detail[start+1 : end]
}
