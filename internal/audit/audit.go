// Package audit persists recovery and reconciliation decisions to Postgres
// for operational traceability (spec.md §4.8, §4.9). It is a no-op sink
// when POSTGRES_DSN is unconfigured (spec.md §6: ambient integrations are
// optional).
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RecoveryRow is one Recovery Utility decision (spec.md §3, "Added" types).
type RecoveryRow struct {
	TaskID     string
	WorkerID   string
	System     string
	Action     string
	Reason     string
	ObservedAt int64
}

// ReconciliationRow is one Reconciliation Tracker decision.
type ReconciliationRow struct {
	TaskID     string
	WorkerID   string
	System     string
	Action     string
	Reason     string
	ObservedAt int64
}

// Sink is the audit-log contract both Recovery and Reconciliation write
// through. A no-op Sink is used when Postgres is not configured.
type Sink interface {
	RecordRecovery(ctx context.Context, row RecoveryRow) error
	RecordReconciliation(ctx context.Context, row ReconciliationRow) error
	Close() error
}

// Store is a Postgres-backed Sink.
type Store struct {
	db *sqlx.DB
}

var _ Sink = (*Store)(nil)

// Open connects to Postgres and runs pending migrations from
// internal/audit/migrations.
func Open(dsn, migrationsPath string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: connect: %w", err)
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migration source: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		db.Close()
		return nil, fmt.Errorf("audit: run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) RecordRecovery(ctx context.Context, row RecoveryRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recovery_audit (task_id, worker_id, system, action, reason, observed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		row.TaskID, row.WorkerID, row.System, row.Action, row.Reason, row.ObservedAt)
	if err != nil {
		return fmt.Errorf("audit: insert recovery row: %w", err)
	}
	return nil
}

func (s *Store) RecordReconciliation(ctx context.Context, row ReconciliationRow) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reconciliation_audit (task_id, worker_id, system, action, reason, observed_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		row.TaskID, row.WorkerID, row.System, row.Action, row.Reason, row.ObservedAt)
	if err != nil {
		return fmt.Errorf("audit: insert reconciliation row: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// NoopSink discards every record; used when POSTGRES_DSN is unset.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) RecordRecovery(ctx context.Context, row RecoveryRow) error           { return nil }
func (NoopSink) RecordReconciliation(ctx context.Context, row ReconciliationRow) error { return nil }
func (NoopSink) Close() error                                                        { return nil }

// Now returns the current time as milliseconds since epoch, the unit
// RecoveryRow/ReconciliationRow.ObservedAt carries.
func Now() int64 { return time.Now().UnixMilli() }
