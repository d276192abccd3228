// Package transaction runs units of work against a database/sql connection pool with
// commit on success, rollback on error or panic, and retry of transient failures.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrDeadlock is returned when a transaction keeps failing with a transient conflict
	ErrDeadlock = errors.New("deadlock detected")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted IsolationLevel = iota
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions. SQLite only knows serializable
// transactions, so the default level maps to the driver default.
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// Manager manages database transactions
type Manager struct {
	db    *sql.DB
	level IsolationLevel
	retry *RetryConfig
}

// NewManager creates a new transaction manager using ReadCommitted and the default
// retry configuration
func NewManager(db *sql.DB) *Manager {
	return &Manager{
		db:    db,
		level: ReadCommitted,
		retry: DefaultRetryConfig(),
	}
}

// WithIsolation returns a copy of the manager that begins transactions at level
func (m *Manager) WithIsolation(level IsolationLevel) *Manager {
	cp := *m
	cp.level = level
	return &cp
}

// WithRetryConfig returns a copy of the manager that uses config for retries
func (m *Manager) WithRetryConfig(config *RetryConfig) *Manager {
	cp := *m
	cp.retry = config
	return &cp
}

// DB returns the underlying connection pool
func (m *Manager) DB() *sql.DB {
	return m.db
}

// WithTransaction executes fn within a single transaction, retrying the whole unit of
// work when the database reports a transient conflict. The transaction commits when fn
// returns nil and rolls back otherwise.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return m.withRetry(ctx, func() error {
		return m.run(ctx, fn)
	})
}

func (m *Manager) run(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := m.db.BeginTx(ctx, m.level.ToSQLOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
