package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// setupTestDB creates a test database with a test table
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE test_records (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`)
	if err != nil {
		t.Fatalf("failed to create test table: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM test_records").Scan(&n); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	return n
}

func TestManager_WithTransaction_Commit(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	err := mgr.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO test_records (name) VALUES (?)", "sonic")
		return err
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}

	if n := countRecords(t, db); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestManager_WithTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)
	boom := errors.New("boom")

	err := mgr.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO test_records (name) VALUES (?)", "sonic"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if n := countRecords(t, db); n != 0 {
		t.Errorf("expected rollback to discard the insert, got %d records", n)
	}
}

func TestManager_WithTransaction_Panic(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic to propagate")
		}
		if n := countRecords(t, db); n != 0 {
			t.Errorf("expected rollback after panic, got %d records", n)
		}
	}()

	_ = mgr.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO test_records (name) VALUES (?)", "sonic"); err != nil {
			return err
		}
		panic("kaboom")
	})
}

func TestManager_WithTransaction_Retry(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db).WithRetryConfig(&RetryConfig{MaxRetries: 3, BaseBackoff: time.Millisecond})

	attempts := 0
	err := mgr.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "40P01"}
		}
		_, err := tx.Exec("INSERT INTO test_records (name) VALUES (?)", "sonic")
		return err
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	err = mgr.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	if !errors.Is(err, ErrDeadlock) {
		t.Errorf("expected ErrDeadlock after exhausting retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestManager_WithTransaction_Cancelled(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := mgr.WithTransaction(ctx, func(tx *sql.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("expected fn not to run on a cancelled context")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("nope"), false},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"serialization", &pgconn.PgError{Code: "40001"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsolationLevel_String(t *testing.T) {
	if Serializable.String() != "SERIALIZABLE" {
		t.Errorf("unexpected %s", Serializable)
	}
	if ReadCommitted.ToSQLOptions() != nil {
		t.Error("expected driver default options for ReadCommitted")
	}
}
