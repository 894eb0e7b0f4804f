// Package database opens the PostgreSQL store, applies pool settings, and
// manages the embedded schema migrations.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"

	// PostgreSQL driver registration.
	_ "github.com/lib/pq"

	"github.com/developer-mesh/agent-hub/migrations"
	"github.com/developer-mesh/agent-hub/pkg/config"
	"github.com/developer-mesh/agent-hub/pkg/observability"
)

// Database owns the connection pool and the schema lifecycle.
type Database struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger observability.Logger
}

// New connects to PostgreSQL and configures the pool. When cfg.AutoMigrate is
// set, pending migrations run before the handle is returned.
func New(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*Database, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	logger.Info("Connecting to database", map[string]interface{}{
		"dsn": SanitizeDSN(cfg.URL),
	})

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	d := &Database{db: db, cfg: cfg, logger: logger}

	if cfg.AutoMigrate {
		if err := d.Migrate(ctx); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				logger.Warn("Failed to close database after migration error", map[string]interface{}{
					"error": closeErr.Error(),
				})
			}
			return nil, fmt.Errorf("database migration failed: %w", err)
		}
	}

	return d, nil
}

// NewWithDB wraps an existing pool; used by tests.
func NewWithDB(db *sqlx.DB, logger observability.Logger) *Database {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Database{db: db, logger: logger}
}

// DB exposes the underlying pool for repository construction.
func (d *Database) DB() *sqlx.DB {
	return d.db
}

// Ping verifies connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close releases the pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate applies all pending embedded migrations. A database already at the
// latest version is not an error.
func (d *Database) Migrate(ctx context.Context) error {
	src, err := migrations.Source()
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(d.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		err := migrator.Up()
		if err == migrate.ErrNoChange {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("migration error: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("migration interrupted: %w", ctx.Err())
	}

	version, dirty, err := migrator.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in a dirty state at version %d", version)
	}

	d.logger.Info("Database migrations applied", map[string]interface{}{
		"version": version,
	})
	return nil
}

// MigrateDown rolls back all migrations. Destructive; used by integration
// test teardown.
func (d *Database) MigrateDown(ctx context.Context) error {
	src, err := migrations.Source()
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(d.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.Down(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("rollback error: %w", err)
	}
	return nil
}

// SanitizeDSN masks credentials in a DSN so it can be logged safely. Both
// keyword (password=...) and URL (user:pass@host) forms are handled.
func SanitizeDSN(dsn string) string {
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, " ")
		sanitized := make([]string, 0, len(parts))
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				sanitized = append(sanitized, "password=***")
			} else {
				sanitized = append(sanitized, part)
			}
		}
		return strings.Join(sanitized, " ")
	}
	if idx := strings.Index(dsn, "://"); idx != -1 {
		if atIdx := strings.Index(dsn[idx:], "@"); atIdx != -1 {
			return dsn[:idx+3] + "***:***" + dsn[idx+atIdx:]
		}
	}
	return dsn
}

// WaitReady polls until the database answers pings or the deadline passes.
// Container orchestration can start the server before PostgreSQL accepts
// connections.
func (d *Database) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	interval := 250 * time.Millisecond
	for {
		if err := d.db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("database not ready after %s: %w", timeout, ctx.Err())
		case <-time.After(interval):
			if interval < 2*time.Second {
				interval *= 2
			}
		}
	}
}
