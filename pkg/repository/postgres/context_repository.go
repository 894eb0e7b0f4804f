package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type contextRepository struct {
	*BaseRepository
}

// NewContextRepository creates the PostgreSQL context record repository.
func NewContextRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.ContextRepository {
	return &contextRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("context_repository", logger, metrics)),
	}
}

func contextCacheKey(level models.ContextLevel, id string) string {
	return fmt.Sprintf("context:%s:%s", level, id)
}

// Upsert inserts the tier record or overwrites its payload columns,
// bumping version. The service layer is responsible for merging payloads
// before calling; this write is last-writer-wins at the row level.
func (r *contextRepository) Upsert(ctx context.Context, record *models.ContextRecord) error {
	ctx, span := r.tracer(ctx, "ContextRepository.Upsert")
	defer span.End()

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Version == 0 {
		record.Version = 1
	}

	query := `
		INSERT INTO context_records (level, id, parent_id, project_id, data, overrides,
		                             delegation_rules, implementation_notes, delegation_triggers,
		                             inheritance_disabled, force_local_only,
		                             created_at, updated_at, version)
		VALUES (:level, :id, :parent_id, :project_id, :data, :overrides,
		        :delegation_rules, :implementation_notes, :delegation_triggers,
		        :inheritance_disabled, :force_local_only,
		        :created_at, :updated_at, :version)
		ON CONFLICT (level, id) DO UPDATE
		SET parent_id = EXCLUDED.parent_id, project_id = EXCLUDED.project_id,
		    data = EXCLUDED.data, overrides = EXCLUDED.overrides,
		    delegation_rules = EXCLUDED.delegation_rules,
		    implementation_notes = EXCLUDED.implementation_notes,
		    delegation_triggers = EXCLUDED.delegation_triggers,
		    inheritance_disabled = EXCLUDED.inheritance_disabled,
		    force_local_only = EXCLUDED.force_local_only,
		    version = context_records.version + 1`

	err := r.ExecuteQuery(ctx, "context_upsert", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, record)
		return err
	})
	if err != nil {
		return r.TranslateError(err, "context")
	}
	return r.CacheDelete(ctx, contextCacheKey(record.Level, record.ID))
}

func (r *contextRepository) Get(ctx context.Context, level models.ContextLevel, id string) (*models.ContextRecord, error) {
	ctx, span := r.tracer(ctx, "ContextRepository.Get")
	defer span.End()

	var record models.ContextRecord
	err := r.ExecuteQuery(ctx, "context_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &record,
			`SELECT * FROM context_records WHERE level = $1 AND id = $2`, level, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "context")
	}
	return &record, nil
}

// GetMany fetches the records for the given (level, id) keys in a single
// round trip. Absent tiers produce no row.
func (r *contextRepository) GetMany(ctx context.Context, keys []repository.ContextKey) ([]*models.ContextRecord, error) {
	ctx, span := r.tracer(ctx, "ContextRepository.GetMany")
	defer span.End()

	if len(keys) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)*2)
	for i, key := range keys {
		placeholders[i] = fmt.Sprintf("($%d::text, $%d)", i*2+1, i*2+2)
		args = append(args, string(key.Level), key.ID)
	}
	query := fmt.Sprintf(
		`SELECT * FROM context_records WHERE (level, id) IN (%s)`,
		strings.Join(placeholders, ", "))

	var records []*models.ContextRecord
	err := r.ExecuteQuery(ctx, "context_get_many", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &records, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "context")
	}
	return records, nil
}

// Update writes the record's payload columns with an optimistic version
// check.
func (r *contextRepository) Update(ctx context.Context, record *models.ContextRecord) error {
	ctx, span := r.tracer(ctx, "ContextRepository.Update")
	defer span.End()

	query := `
		UPDATE context_records
		SET data = :data, overrides = :overrides, delegation_rules = :delegation_rules,
		    implementation_notes = :implementation_notes, delegation_triggers = :delegation_triggers,
		    inheritance_disabled = :inheritance_disabled, force_local_only = :force_local_only,
		    version = version + 1
		WHERE level = :level AND id = :id AND version = :version`

	err := r.ExecuteQuery(ctx, "context_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, record)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var exists bool
			if err := r.readDB.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM context_records WHERE level = $1 AND id = $2)`,
				record.Level, record.ID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return repository.ErrOptimisticLock
			}
			return repository.ErrNotFound
		}
		record.Version++
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "context")
	}
	return r.CacheDelete(ctx, contextCacheKey(record.Level, record.ID))
}

func (r *contextRepository) Delete(ctx context.Context, level models.ContextLevel, id string) error {
	ctx, span := r.tracer(ctx, "ContextRepository.Delete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "context_delete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM context_records WHERE level = $1 AND id = $2`, level, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "context")
	}
	return r.CacheDelete(ctx, contextCacheKey(level, id))
}
