package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open(cfg.DriverName(), cfg.DataSourceName())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, ApplyOptimizations(db, cfg.Driver))
	return db
}

// Functional Validation Tests - Config

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.DatabasePath = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Driver = DriverPostgres }, true},
		{"postgres with dsn", func(c *Config) { c.Driver = DriverPostgres; c.DSN = "postgres://localhost/db" }, false},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, true},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DriverName(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "sqlite3", cfg.DriverName())
	assert.Contains(t, cfg.DataSourceName(), "_journal_mode=WAL")

	cfg.Driver = DriverPostgres
	cfg.DSN = "postgres://u@localhost/therapyline"
	assert.Equal(t, "pgx", cfg.DriverName())
	assert.Equal(t, cfg.DSN, cfg.DataSourceName())
}

// Functional Validation Tests - Dialect

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ? WHERE id = ? AND status IN (?, ?)"
	assert.Equal(t, query, Rebind(DriverSQLite, query))
	assert.Equal(t, "UPDATE t SET a = $1 WHERE id = $2 AND status IN ($3, $4)", Rebind(DriverPostgres, query))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
}

// Functional Validation Tests - Migrations

func TestMigrationManager_ApplyEmbedded(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	mm := NewEmbeddedMigrationManager(db, DriverSQLite)

	require.NoError(t, mm.ApplyMigrations(ctx))
	require.NoError(t, mm.ValidateSchema(ctx))

	versions, err := mm.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	// Second run is a no-op.
	require.NoError(t, mm.ApplyMigrations(ctx))
	versions, err = mm.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestMigrationManager_CustomFS(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte("CREATE TABLE second (id TEXT);")},
		"m/001_first.sql":  {Data: []byte("CREATE TABLE first (id TEXT);")},
		"m/README.md":      {Data: []byte("ignored")},
	}
	mm := NewMigrationManager(db, DriverSQLite, fsys, "m")

	migrations, err := mm.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Description)

	require.NoError(t, mm.ApplyMigrations(ctx))
	assert.Error(t, mm.ValidateSchema(ctx), "custom schema lacks the request tables")
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte("CREATE TABLE ok (id TEXT); CREATE TABLE nope (")},
	}
	mm := NewMigrationManager(db, DriverSQLite, fsys, "m")

	require.Error(t, mm.ApplyMigrations(ctx))
	versions, err := mm.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

// Technical Validation Tests - Schema

func TestSchemaValidator_ValidateConstraints(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, NewEmbeddedMigrationManager(db, DriverSQLite).ApplyMigrations(ctx))

	validator := NewSchemaValidator(db, DriverSQLite)
	require.NoError(t, validator.ValidateConstraints(ctx))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM session_requests").Scan(&count))
	assert.Zero(t, count, "probe rows must be rolled back")
}

func TestSchemaValidator_ActiveIndexIsPartial(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, NewEmbeddedMigrationManager(db, DriverSQLite).ApplyMigrations(ctx))

	insert := "INSERT INTO session_requests (id, child_id, status, requested_at) VALUES (?, ?, ?, ?)"
	now := time.Now().UTC()
	_, err := db.Exec(insert, "r1", "c1", "completed", now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "r2", "c1", "declined", now)
	require.NoError(t, err)
	_, err = db.Exec(insert, "r3", "c1", "pending", now)
	require.NoError(t, err)

	_, err = db.Exec(insert, "r4", "c1", "in_progress", now)
	assert.True(t, IsUniqueViolation(err))
}
