package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "therapyline/pkg/database"
	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

// busyRetryDelay is the pause before the single retry of a write that hit a
// sqlite lock.
const busyRetryDelay = 100 * time.Millisecond

const writeQueueSize = 64

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
)

// Manager implements the request store and the directory over database/sql.
// ARCHITECTURAL DISCOVERY: all writes go through one goroutine so sqlite never
// sees concurrent writers; reads use the pool directly.
type Manager struct {
	db      *sql.DB
	config  *dbconfig.Config
	driver  string
	log     *logger.Logger
	jobs    chan writeJob
	stopped chan struct{}
	wg      sync.WaitGroup
	closed  bool
	mu      sync.RWMutex
}

type writeJob struct {
	ctx  context.Context
	fn   func(*sql.DB) error
	done chan error
}

// NewManager opens the configured database and starts the writer goroutine.
// Call Migrate before serving traffic.
func NewManager(config *dbconfig.Config, log *logger.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open(config.DriverName(), config.DataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db, config.Driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database optimizations: %w", err)
	}

	manager := &Manager{
		db:      db,
		config:  config,
		driver:  config.Driver,
		log:     log.Named("database"),
		jobs:    make(chan writeJob, writeQueueSize),
		stopped: make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writer()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema.
func (m *Manager) Migrate(ctx context.Context) error {
	var mm *dbconfig.MigrationManager
	if m.config.MigrationsPath != "" {
		mm = dbconfig.NewMigrationManager(m.db, m.driver, os.DirFS(m.config.MigrationsPath), ".")
	} else {
		mm = dbconfig.NewEmbeddedMigrationManager(m.db, m.driver)
	}

	if err := mm.ApplyMigrations(ctx); err != nil {
		return err
	}
	if err := mm.ValidateSchema(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	versions, err := mm.AppliedVersions(ctx)
	if err != nil {
		return err
	}
	m.log.Info("Database schema ready",
		logger.String("driver", m.driver),
		logger.Int("migrations", len(versions)))
	return nil
}

// writer drains queued jobs one at a time. A job whose caller already gave
// up is skipped.
func (m *Manager) writer() {
	defer m.wg.Done()

	for {
		select {
		case job := <-m.jobs:
			if err := job.ctx.Err(); err != nil {
				job.done <- err
				continue
			}
			err := job.fn(m.db)
			if err != nil && dbconfig.IsBusy(err) {
				m.log.Warn("sqlite busy, retrying write once", logger.Error(err))
				time.Sleep(busyRetryDelay)
				err = job.fn(m.db)
			}
			job.done <- err

		case <-m.stopped:
			m.log.Debug("Writer stopped")
			return
		}
	}
}

// write hands fn to the writer goroutine and blocks until it has run.
func (m *Manager) write(ctx context.Context, fn func(*sql.DB) error) error {
	if m.isClosed() {
		return ErrManagerClosed
	}

	job := writeJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	enqueue := time.NewTimer(m.config.WriteTimeout)
	defer enqueue.Stop()

	select {
	case m.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-enqueue.C:
		return ErrWriteTimeout
	case <-m.stopped:
		return ErrManagerClosed
	}

	select {
	case err := <-job.done:
		return err
	case <-m.stopped:
		return ErrManagerClosed
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// HealthCheck pings the pool and reads the request table.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var pending int
	query := m.rebind("SELECT COUNT(*) FROM session_requests WHERE status = ?")
	if err := m.db.QueryRowContext(ctx, query, string(types.StatusPending)).Scan(&pending); err != nil {
		return fmt.Errorf("request table unreadable: %w", err)
	}
	return nil
}

// Driver returns the configured backend name.
func (m *Manager) Driver() string {
	return m.driver
}

// DB exposes the pool for tests and schema tooling.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopped)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// rebind adapts a '?' query to the configured driver.
func (m *Manager) rebind(query string) string {
	return dbconfig.Rebind(m.driver, query)
}
