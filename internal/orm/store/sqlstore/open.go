package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Registers the "pgx" database/sql driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/conduit-lang/jsonapi-server/internal/orm/schema"
)

// Open connects to the database named by driver ("postgres" or "sqlite") and url, and
// verifies the connection
func Open(ctx context.Context, driver, url string, reg *schema.Registry) (*Store, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	dsn := url
	if dialect.Name() == "sqlite" {
		dsn = sqliteDSN(url)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.Name(), err)
	}

	if dialect.Name() == "sqlite" {
		// SQLite allows a single writer, and every connection to :memory: is a new database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name(), err)
	}

	return New(db, dialect, reg), nil
}

// sqliteDSN enables foreign key enforcement, which SQLite leaves off by default
func sqliteDSN(url string) string {
	if url == "" {
		url = ":memory:"
	}
	if strings.Contains(url, "_foreign_keys") || strings.Contains(url, "_fk=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "_foreign_keys=on"
}
