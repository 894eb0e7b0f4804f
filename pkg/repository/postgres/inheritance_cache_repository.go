package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type inheritanceCacheRepository struct {
	*BaseRepository
}

// NewInheritanceCacheRepository creates the PostgreSQL resolved-context
// cache repository.
func NewInheritanceCacheRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.InheritanceCacheRepository {
	return &inheritanceCacheRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("inheritance_cache_repository", logger, metrics)),
	}
}

func (r *inheritanceCacheRepository) Get(ctx context.Context, contextID string, level models.ContextLevel) (*models.InheritanceCacheEntry, error) {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.Get")
	defer span.End()

	var entry models.InheritanceCacheEntry
	err := r.ExecuteQuery(ctx, "inheritance_cache_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &entry, `
			SELECT * FROM context_inheritance_cache
			WHERE context_id = $1 AND level = $2`, contextID, level)
	})
	if err != nil {
		return nil, r.TranslateError(err, "cache entry")
	}
	return &entry, nil
}

// Put stores the resolved view, replacing any previous entry for the key.
// A replaced entry restarts its hit counter and sheds any invalidation
// mark.
func (r *inheritanceCacheRepository) Put(ctx context.Context, entry *models.InheritanceCacheEntry) error {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.Put")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO context_inheritance_cache (context_id, level, resolved_context,
		                                       dependencies_hash, resolution_path,
		                                       created_at, expires_at, hit_count,
		                                       size_bytes, invalidated, invalidation_reason)
		VALUES (:context_id, :level, :resolved_context,
		        :dependencies_hash, :resolution_path,
		        :created_at, :expires_at, 0,
		        :size_bytes, FALSE, '')
		ON CONFLICT (context_id, level) DO UPDATE
		SET resolved_context = EXCLUDED.resolved_context,
		    dependencies_hash = EXCLUDED.dependencies_hash,
		    resolution_path = EXCLUDED.resolution_path,
		    created_at = EXCLUDED.created_at,
		    expires_at = EXCLUDED.expires_at,
		    hit_count = 0, last_hit = NULL,
		    size_bytes = EXCLUDED.size_bytes,
		    invalidated = FALSE, invalidation_reason = ''`

	err := r.ExecuteQuery(ctx, "inheritance_cache_put", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, entry)
		return err
	})
	return r.TranslateError(err, "cache entry")
}

// Invalidate marks live entries for the given context ids. Already
// invalidated entries keep their original reason.
func (r *inheritanceCacheRepository) Invalidate(ctx context.Context, contextIDs []string, reason string) (int, error) {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.Invalidate")
	defer span.End()

	if len(contextIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.ExecuteQuery(ctx, "inheritance_cache_invalidate", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE context_inheritance_cache
			SET invalidated = TRUE, invalidation_reason = $2
			WHERE NOT invalidated AND context_id = ANY($1)`,
			pq.Array(contextIDs), reason)
		if err != nil {
			return err
		}
		count, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.TranslateError(err, "cache entry")
	}
	return int(count), nil
}

// InvalidateScope marks every live entry at or below the tier. The scope
// fans out over the entity tables rather than context-record parent
// pointers, so entries cached for tiers that never wrote a record are
// still reached. Returns the affected context ids.
func (r *inheritanceCacheRepository) InvalidateScope(ctx context.Context, level models.ContextLevel, id, reason string) ([]string, error) {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.InvalidateScope")
	defer span.End()

	var query string
	args := []interface{}{reason}

	switch level {
	case models.LevelGlobal:
		query = `
			UPDATE context_inheritance_cache
			SET invalidated = TRUE, invalidation_reason = $1
			WHERE NOT invalidated
			RETURNING context_id`
	case models.LevelProject:
		args = append(args, id)
		query = `
			UPDATE context_inheritance_cache
			SET invalidated = TRUE, invalidation_reason = $1
			WHERE NOT invalidated AND context_id IN (
				SELECT $2::text
				UNION
				SELECT id::text FROM branches WHERE project_id = $2::uuid
				UNION
				SELECT t.id::text FROM tasks t
				JOIN branches b ON b.id = t.branch_id
				WHERE b.project_id = $2::uuid
			)
			RETURNING context_id`
	case models.LevelBranch:
		args = append(args, id)
		query = `
			UPDATE context_inheritance_cache
			SET invalidated = TRUE, invalidation_reason = $1
			WHERE NOT invalidated AND context_id IN (
				SELECT $2::text
				UNION
				SELECT id::text FROM tasks WHERE branch_id = $2::uuid
			)
			RETURNING context_id`
	case models.LevelTask:
		args = append(args, id)
		query = `
			UPDATE context_inheritance_cache
			SET invalidated = TRUE, invalidation_reason = $1
			WHERE NOT invalidated AND context_id = $2
			RETURNING context_id`
	default:
		return nil, repository.ErrValidation
	}

	var affected []string
	err := r.ExecuteQuery(ctx, "inheritance_cache_invalidate_scope", func(ctx context.Context) error {
		return r.writeDB.SelectContext(ctx, &affected, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "cache entry")
	}
	return affected, nil
}

// TouchHit bumps the entry's hit counter best-effort.
func (r *inheritanceCacheRepository) TouchHit(ctx context.Context, contextID string, level models.ContextLevel) error {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.TouchHit")
	defer span.End()

	err := r.ExecuteQuery(ctx, "inheritance_cache_touch_hit", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx, `
			UPDATE context_inheritance_cache
			SET hit_count = hit_count + 1, last_hit = now()
			WHERE context_id = $1 AND level = $2`, contextID, level)
		return err
	})
	if err != nil {
		r.logger.Warn("Failed to touch cache hit counter", map[string]interface{}{
			"context_id": contextID,
			"level":      string(level),
			"error":      err.Error(),
		})
	}
	return nil
}

func (r *inheritanceCacheRepository) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.PruneExpired")
	defer span.End()

	var count int64
	err := r.ExecuteQuery(ctx, "inheritance_cache_prune", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			DELETE FROM context_inheritance_cache
			WHERE expires_at < $1 OR invalidated`, before)
		if err != nil {
			return err
		}
		count, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.TranslateError(err, "cache entry")
	}
	return int(count), nil
}

func (r *inheritanceCacheRepository) Statistics(ctx context.Context) (*repository.CacheStatistics, error) {
	ctx, span := r.tracer(ctx, "InheritanceCacheRepository.Statistics")
	defer span.End()

	var stats repository.CacheStatistics
	err := r.ExecuteQuery(ctx, "inheritance_cache_statistics", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &stats, `SELECT * FROM cache_performance`)
	})
	if err != nil {
		return nil, r.TranslateError(err, "cache entry")
	}
	return &stats, nil
}
