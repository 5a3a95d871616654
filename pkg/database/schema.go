package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RequiredTables lists the tables the stores read and write.
var RequiredTables = []string{"users", "guardian_links", "session_requests", "schema_migrations"}

// RequiredIndexes lists indexes the stores depend on. The active-child index
// enforces one pending or in_progress request per child.
var RequiredIndexes = []string{
	"idx_session_requests_active_child",
	"idx_session_requests_child_requested",
	"idx_session_requests_status",
	"idx_guardian_links_child",
}

// SchemaValidator checks a migrated database.
type SchemaValidator struct {
	db     *sql.DB
	driver string
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB, driver string) *SchemaValidator {
	return &SchemaValidator{db: db, driver: driver}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist(ctx context.Context) error {
	for _, table := range RequiredTables {
		exists, err := v.tableExists(ctx, table)
		if err != nil {
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}
	return nil
}

// ValidateIndexes verifies that all required indexes exist
func (v *SchemaValidator) ValidateIndexes(ctx context.Context) error {
	for _, index := range RequiredIndexes {
		exists, err := v.indexExists(ctx, index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

// ValidateConstraints proves the active-request uniqueness rule is enforced by
// the database. It inserts two active rows for a probe child inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints(ctx context.Context) error {
	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insert := Rebind(v.driver, `
		INSERT INTO session_requests (id, child_id, status, description, requested_at)
		VALUES (?, ?, ?, '', ?)
	`)
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, insert, "constraint-probe-1", "constraint-probe", "pending", now); err != nil {
		return fmt.Errorf("failed to insert probe request: %w", err)
	}
	_, err = tx.ExecContext(ctx, insert, "constraint-probe-2", "constraint-probe", "in_progress", now)
	if err == nil {
		return errors.New("unique constraint not enforced: one active request per child")
	}
	if !IsUniqueViolation(err) {
		return fmt.Errorf("unexpected error probing active request constraint: %w", err)
	}
	return nil
}

func (v *SchemaValidator) tableExists(ctx context.Context, tableName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?"
	}
	return v.count(ctx, query, tableName)
}

func (v *SchemaValidator) indexExists(ctx context.Context, indexName string) (bool, error) {
	query := "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?"
	if v.driver == DriverPostgres {
		query = "SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname = ?"
	}
	return v.count(ctx, query, indexName)
}

func (v *SchemaValidator) count(ctx context.Context, query, arg string) (bool, error) {
	var count int
	if err := v.db.QueryRowContext(ctx, Rebind(v.driver, query), arg).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
