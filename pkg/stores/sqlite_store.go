package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/kilnproject/kiln/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists resource state and lifecycle events in SQLite.
// It implements engine.StateStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveResourceState inserts or updates the persisted state of a resource.
func (s *SQLiteStore) SaveResourceState(ctx context.Context, record *engine.ResourceRecord) error {
	query := `
		INSERT INTO resource_state (name, resource_type, identity, action, status, reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			resource_type = excluded.resource_type,
			identity = excluded.identity,
			action = excluded.action,
			status = excluded.status,
			reason = excluded.reason,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.Name,
		record.Type,
		record.Identity,
		string(record.Action),
		string(record.Status),
		record.Reason,
		record.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	)

	if err != nil {
		return fmt.Errorf("failed to save resource state: %w", err)
	}

	return nil
}

// GetResourceState retrieves the persisted state of a resource by name.
func (s *SQLiteStore) GetResourceState(ctx context.Context, name string) (*engine.ResourceRecord, error) {
	query := `
		SELECT name, resource_type, identity, action, status, reason, updated_at
		FROM resource_state
		WHERE name = ?
	`

	record := &engine.ResourceRecord{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&record.Name,
		&record.Type,
		&record.Identity,
		&record.Action,
		&record.Status,
		&record.Reason,
		&record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource state not found: %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource state: %w", err)
	}

	return record, nil
}

// ListResourceStates lists persisted resource states with pagination.
func (s *SQLiteStore) ListResourceStates(ctx context.Context, limit, offset int) ([]*engine.ResourceRecord, error) {
	query := `
		SELECT name, resource_type, identity, action, status, reason, updated_at
		FROM resource_state
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource states: %w", err)
	}
	defer rows.Close()

	records := []*engine.ResourceRecord{}
	for rows.Next() {
		record := &engine.ResourceRecord{}
		err := rows.Scan(
			&record.Name,
			&record.Type,
			&record.Identity,
			&record.Action,
			&record.Status,
			&record.Reason,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource state: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resource states: %w", err)
	}

	return records, nil
}

// DeleteResourceState removes the persisted state of a resource.
func (s *SQLiteStore) DeleteResourceState(ctx context.Context, name string) error {
	query := `DELETE FROM resource_state WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete resource state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("resource state not found: %s", name)
	}

	return nil
}

// AppendEvent appends a lifecycle event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.LifecycleEvent) error {
	query := `
		INSERT INTO events (id, resource, task_id, action, status, message, level, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Resource,
		event.TaskID,
		string(event.Action),
		string(event.Status),
		event.Message,
		event.Level,
		event.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
	)

	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents retrieves lifecycle events matching the filter, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*engine.LifecycleEvent, error) {
	query := `
		SELECT id, resource, task_id, action, status, message, level, timestamp
		FROM events
		WHERE (? IS NULL OR resource = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, query,
		filter.Resource, filter.Resource,
		filter.Level, filter.Level,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*engine.LifecycleEvent{}
	for rows.Next() {
		event := &engine.LifecycleEvent{}
		err := rows.Scan(
			&event.ID,
			&event.Resource,
			&event.TaskID,
			&event.Action,
			&event.Status,
			&event.Message,
			&event.Level,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// CountEvents returns the number of stored events for a resource, or all
// events when resource is empty.
func (s *SQLiteStore) CountEvents(ctx context.Context, resource string) (int64, error) {
	query := `SELECT COUNT(*) FROM events WHERE (? = '' OR resource = ?)`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, resource, resource).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// PurgeEvents trims the event log so each resource keeps at most
// maxPerResource events, deleting the oldest first in batches of
// batchSize. It returns the number of deleted events.
func (s *SQLiteStore) PurgeEvents(ctx context.Context, maxPerResource, batchSize int) (int64, error) {
	if maxPerResource <= 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}

	query := `
		DELETE FROM events WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY resource
					ORDER BY timestamp DESC, id DESC
				) AS rank
				FROM events
			)
			WHERE rank > ?
			LIMIT ?
		)
	`

	var total int64
	for {
		result, err := s.db.ExecContext(ctx, query, maxPerResource, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to purge events: %w", err)
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
