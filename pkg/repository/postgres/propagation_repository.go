package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type propagationRepository struct {
	*BaseRepository
}

// NewPropagationRepository creates the PostgreSQL propagation audit
// repository.
func NewPropagationRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.PropagationRepository {
	return &propagationRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("propagation_repository", logger, metrics)),
	}
}

func (r *propagationRepository) Record(ctx context.Context, rec *models.PropagationRecord) error {
	ctx, span := r.tracer(ctx, "PropagationRepository.Record")
	defer span.End()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = time.Now().UTC()
	if rec.Status == "" {
		rec.Status = models.PropagationPending
	}

	query := `
		INSERT INTO propagation_records (id, source_level, source_id, change_type,
		                                 affected_contexts, affected_count, status,
		                                 duration_ms, error, created_at)
		VALUES (:id, :source_level, :source_id, :change_type,
		        :affected_contexts, :affected_count, :status,
		        :duration_ms, :error, :created_at)`

	err := r.ExecuteQuery(ctx, "propagation_record", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, rec)
		return err
	})
	return r.TranslateError(err, "propagation record")
}

func (r *propagationRepository) Complete(ctx context.Context, id string, status models.PropagationStatus, affected []string, durationMS int64, errMsg string) error {
	ctx, span := r.tracer(ctx, "PropagationRepository.Complete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "propagation_complete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE propagation_records
			SET status = $2, affected_contexts = $3, affected_count = $4,
			    duration_ms = $5, error = $6, completed_at = now()
			WHERE id = $1`, id, status, models.StringList(affected), len(affected), durationMS, errMsg)
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
	return r.TranslateError(err, "propagation record")
}

func (r *propagationRepository) ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.PropagationRecord, error) {
	ctx, span := r.tracer(ctx, "PropagationRepository.ListForSource")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.PropagationRecord
	err := r.ExecuteQuery(ctx, "propagation_list_for_source", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, `
			SELECT * FROM propagation_records
			WHERE source_level = $1 AND source_id = $2
			ORDER BY created_at DESC
			LIMIT $3`, sourceLevel, sourceID, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "propagation record")
	}
	return out, nil
}
