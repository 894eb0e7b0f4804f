// Package postgres implements the repository contracts on PostgreSQL with
// caching, retries, circuit breaking, and uniform error translation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/resilience"
)

// BaseRepositoryConfig tunes the shared repository behavior.
type BaseRepositoryConfig struct {
	QueryTimeout   time.Duration
	MaxRetries     int
	CacheTimeout   time.Duration
	CircuitBreaker *resilience.CircuitBreaker
}

// BaseRepository carries the shared machinery every concrete repository
// embeds: split read/write handles, cache, observability, prepared
// statement cache, and resilience wrappers.
type BaseRepository struct {
	writeDB *sqlx.DB
	readDB  *sqlx.DB
	cache   cache.Cache
	logger  observability.Logger
	tracer  observability.StartSpanFunc
	metrics observability.MetricsClient

	queryTimeout time.Duration
	maxRetries   int
	cacheTimeout time.Duration
	cb           *resilience.CircuitBreaker

	stmtCache map[string]*sqlx.NamedStmt
	stmtMutex sync.RWMutex
}

// NewBaseRepository wires the shared repository plumbing. readDB may equal
// writeDB when no replica is configured.
func NewBaseRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
	config BaseRepositoryConfig,
) *BaseRepository {
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.CacheTimeout == 0 {
		config.CacheTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if tracer == nil {
		tracer = observability.NoopStartSpan
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	if c == nil {
		c = cache.NewNoOpCache()
	}

	return &BaseRepository{
		writeDB:      writeDB,
		readDB:       readDB,
		cache:        c,
		logger:       logger,
		tracer:       tracer,
		metrics:      metrics,
		queryTimeout: config.QueryTimeout,
		maxRetries:   config.MaxRetries,
		cacheTimeout: config.CacheTimeout,
		cb:           config.CircuitBreaker,
		stmtCache:    make(map[string]*sqlx.NamedStmt),
	}
}

// WithTransaction runs fn inside a transaction on the write handle,
// committing on nil and rolling back on error.
func (r *BaseRepository) WithTransaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.writeDB.BeginTxx(ctx, nil)
	if err != nil {
		r.metrics.IncrementCounter("repository_transaction_errors", 1)
		return errors.Wrap(err, "failed to begin transaction")
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Transaction rollback failed", map[string]interface{}{
				"error":          rbErr.Error(),
				"original_error": err.Error(),
			})
		}
		r.metrics.IncrementCounter("repository_transaction_rollbacks", 1)
		return err
	}

	if err := tx.Commit(); err != nil {
		r.metrics.IncrementCounter("repository_transaction_errors", 1)
		return errors.Wrap(err, "failed to commit transaction")
	}

	r.metrics.IncrementCounter("repository_transaction_commits", 1)
	return nil
}

// WithTransactionOptions is WithTransaction with isolation, read-only, and
// statement timeout control.
func (r *BaseRepository) WithTransactionOptions(ctx context.Context, opts *repository.TxOptions, fn func(tx *sqlx.Tx) error) error {
	txOpts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	if opts != nil {
		switch opts.Isolation {
		case repository.IsolationSerializable:
			txOpts.Isolation = sql.LevelSerializable
		case repository.IsolationRepeatableRead:
			txOpts.Isolation = sql.LevelRepeatableRead
		case repository.IsolationReadCommitted:
			txOpts.Isolation = sql.LevelReadCommitted
		case repository.IsolationReadUncommitted:
			txOpts.Isolation = sql.LevelReadUncommitted
		}
		txOpts.ReadOnly = opts.ReadOnly
	}

	tx, err := r.writeDB.BeginTxx(ctx, txOpts)
	if err != nil {
		r.metrics.IncrementCounter("repository_transaction_errors", 1)
		return errors.Wrap(err, "failed to begin transaction")
	}

	if opts != nil && opts.Timeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.Timeout.Milliseconds())); err != nil {
			_ = tx.Rollback()
			r.metrics.IncrementCounter("repository_transaction_errors", 1)
			return errors.Wrap(err, "failed to set transaction timeout")
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Transaction rollback failed", map[string]interface{}{
				"error": rbErr.Error(),
			})
		}
		r.metrics.IncrementCounter("repository_transaction_rollbacks", 1)
		return err
	}

	if err := tx.Commit(); err != nil {
		r.metrics.IncrementCounter("repository_transaction_errors", 1)
		return errors.Wrap(err, "failed to commit transaction")
	}

	r.metrics.IncrementCounter("repository_transaction_commits", 1)
	return nil
}

// CacheGet reads a cached value into dest.
func (r *BaseRepository) CacheGet(ctx context.Context, key string, dest interface{}) error {
	r.metrics.IncrementCounter("repository_cache_operations", 1)
	return r.cache.Get(ctx, key, dest)
}

// CacheSet stores a value with the given TTL; zero means the repository
// default.
func (r *BaseRepository) CacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.metrics.IncrementCounter("repository_cache_operations", 1)
	if ttl == 0 {
		ttl = r.cacheTimeout
	}
	return r.cache.Set(ctx, key, value, ttl)
}

// CacheDelete removes a cached value.
func (r *BaseRepository) CacheDelete(ctx context.Context, key string) error {
	r.metrics.IncrementCounter("repository_cache_operations", 1)
	return r.cache.Delete(ctx, key)
}

// patternDeleter is implemented by cache backends that support wildcard
// invalidation.
type patternDeleter interface {
	DeletePattern(ctx context.Context, pattern string) error
}

// InvalidateCachePattern removes every cached key matching the pattern on
// backends that support it; on others it is a recorded no-op.
func (r *BaseRepository) InvalidateCachePattern(ctx context.Context, pattern string) error {
	r.metrics.IncrementCounter("repository_cache_invalidations", 1)
	if pd, ok := r.cache.(patternDeleter); ok {
		return pd.DeletePattern(ctx, pattern)
	}
	r.logger.Debug("Cache backend does not support pattern invalidation", map[string]interface{}{
		"pattern": pattern,
	})
	return nil
}

// TranslateError converts driver-level failures into the repository
// sentinel errors. entity names the aggregate for unknown-error context.
func (r *BaseRepository) TranslateError(err error, entity string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	// Already-translated sentinels pass through unchanged so conditional
	// updates can return them from inside query closures.
	for _, sentinel := range []error{
		repository.ErrNotFound, repository.ErrDuplicate, repository.ErrValidation,
		repository.ErrOptimisticLock, repository.ErrCycle, repository.ErrCapacity,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return repository.ErrDuplicate
		case "23503": // foreign_key_violation
			return errors.Wrap(repository.ErrValidation, "foreign key constraint violation")
		case "23502": // not_null_violation
			return errors.Wrap(repository.ErrValidation, "required field missing")
		case "23514": // check_violation
			if pqErr.Constraint == "agents_workload_bound" {
				return repository.ErrCapacity
			}
			return errors.Wrap(repository.ErrValidation, "check constraint violation: "+pqErr.Constraint)
		case "40001": // serialization_failure
			return repository.ErrOptimisticLock
		case "P0001": // raise_exception from triggers
			if strings.Contains(pqErr.Message, "dependency cycle detected") {
				return repository.ErrCycle
			}
			return errors.Wrap(repository.ErrValidation, pqErr.Message)
		}
	}

	return errors.Wrap(err, fmt.Sprintf("database error for %s", entity))
}

// ExecuteWithCircuitBreaker guards fn with the configured breaker; without
// one, fn runs directly.
func (r *BaseRepository) ExecuteWithCircuitBreaker(ctx context.Context, operation string, fn func() (interface{}, error)) (interface{}, error) {
	if r.cb == nil {
		return fn()
	}

	result, err := r.cb.Execute(ctx, fn)
	if err != nil {
		r.metrics.IncrementCounter("repository_circuit_breaker_errors", 1)
		r.logger.Warn("Circuit breaker operation failed", map[string]interface{}{
			"operation": operation,
			"error":     err.Error(),
		})
		return nil, err
	}
	return result, nil
}

// ExecuteQuery runs fn under the repository query timeout and records the
// outcome.
func (r *BaseRepository) ExecuteQuery(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	if err != nil {
		r.metrics.IncrementCounter("repository_query_errors", 1)
		r.metrics.IncrementCounterWithLabels("repository_query_errors_by_class", 1,
			map[string]string{"class": classifyDBError(err)})
		r.logger.Debug("Query failed", map[string]interface{}{
			"query":       name,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return err
	}

	r.metrics.IncrementCounter("repository_query_success", 1)
	r.metrics.RecordDatabaseOperation(name, true, duration.Seconds())
	return nil
}

// ExecuteQueryWithRetry retries transient failures up to maxRetries
// attempts with a short backoff. Sentinel errors are never retried.
func (r *BaseRepository) ExecuteQueryWithRetry(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		lastErr = r.ExecuteQuery(ctx, name, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		backoff := time.Duration(attempt+1) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrap(lastErr, fmt.Sprintf("query failed after %d attempts", r.maxRetries))
}

// isRetryableError reports whether the failure class may clear on retry.
func isRetryableError(err error) bool {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, repository.ErrValidation),
		errors.Is(err, repository.ErrCycle),
		errors.Is(err, repository.ErrCapacity),
		// Version conflicts surface to the caller; the client decides
		// whether to refetch and retry.
		errors.Is(err, repository.ErrOptimisticLock),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "57P03":
			return true
		default:
			return false
		}
	}

	return true
}

// GetPreparedStatement returns a cached named statement, preparing it on
// first use.
func (r *BaseRepository) GetPreparedStatement(name, query string, db *sqlx.DB) (*sqlx.NamedStmt, error) {
	r.stmtMutex.RLock()
	if stmt, ok := r.stmtCache[name]; ok {
		r.stmtMutex.RUnlock()
		return stmt, nil
	}
	r.stmtMutex.RUnlock()

	r.stmtMutex.Lock()
	defer r.stmtMutex.Unlock()

	if stmt, ok := r.stmtCache[name]; ok {
		return stmt, nil
	}

	stmt, err := db.PrepareNamed(query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to prepare statement %s", name)
	}
	r.stmtCache[name] = stmt
	return stmt, nil
}

// Close releases every prepared statement.
func (r *BaseRepository) Close() error {
	r.stmtMutex.Lock()
	defer r.stmtMutex.Unlock()

	var firstErr error
	for name, stmt := range r.stmtCache {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close statement %s", name)
		}
		delete(r.stmtCache, name)
	}
	return firstErr
}

// GetMetrics exposes internal counters for health reporting.
func (r *BaseRepository) GetMetrics() map[string]interface{} {
	r.stmtMutex.RLock()
	defer r.stmtMutex.RUnlock()
	m := map[string]interface{}{
		"prepared_statements": len(r.stmtCache),
	}
	if r.cb != nil {
		m["circuit_breaker_state"] = r.cb.State()
	}
	return m
}

// classifyDBError labels an error for metrics cardinality-safe reporting.
func classifyDBError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, repository.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, repository.ErrValidation):
		return "validation"
	case errors.Is(err, repository.ErrOptimisticLock):
		return "optimistic_lock"
	case errors.Is(err, repository.ErrCycle):
		return "cycle"
	case errors.Is(err, repository.ErrCapacity):
		return "capacity"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return "unknown"
}
