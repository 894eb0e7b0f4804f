package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type delegationRepository struct {
	*BaseRepository
}

// NewDelegationRepository creates the PostgreSQL delegation queue repository.
func NewDelegationRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.DelegationRepository {
	return &delegationRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("delegation_repository", logger, metrics)),
	}
}

func (r *delegationRepository) Enqueue(ctx context.Context, d *models.ContextDelegation) error {
	ctx, span := r.tracer(ctx, "DelegationRepository.Enqueue")
	defer span.End()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.Processed = false
	if d.ImplementationStatus == "" {
		d.ImplementationStatus = models.ImplementationPending
	}

	query := `
		INSERT INTO context_delegations (id, source_level, source_id, target_level, target_id,
		                                 delegated_data, reason, trigger_type, confidence,
		                                 auto_delegated, processed, implementation_status,
		                                 created_at, updated_at, created_by)
		VALUES (:id, :source_level, :source_id, :target_level, :target_id,
		        :delegated_data, :reason, :trigger_type, :confidence,
		        :auto_delegated, :processed, :implementation_status,
		        :created_at, :updated_at, :created_by)
		RETURNING seq`

	err := r.ExecuteQuery(ctx, "delegation_enqueue", func(ctx context.Context) error {
		rows, err := r.writeDB.NamedQueryContext(ctx, query, d)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()
		if rows.Next() {
			if err := rows.Scan(&d.Seq); err != nil {
				return err
			}
		}
		return rows.Err()
	})
	return r.TranslateError(err, "delegation")
}

func (r *delegationRepository) Get(ctx context.Context, id uuid.UUID) (*models.ContextDelegation, error) {
	ctx, span := r.tracer(ctx, "DelegationRepository.Get")
	defer span.End()

	var d models.ContextDelegation
	err := r.ExecuteQuery(ctx, "delegation_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &d,
			`SELECT * FROM context_delegations WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "delegation")
	}
	return &d, nil
}

// PendingTargets returns "level:id" keys of targets with unprocessed
// delegations, ordered by their oldest pending entry. The key format
// matches models.ContextDelegation.TargetKey.
func (r *delegationRepository) PendingTargets(ctx context.Context, limit int) ([]string, error) {
	ctx, span := r.tracer(ctx, "DelegationRepository.PendingTargets")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	var targets []string
	err := r.ExecuteQuery(ctx, "delegation_pending_targets", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &targets, `
			SELECT target_level || ':' || target_id
			FROM context_delegations
			WHERE NOT processed
			GROUP BY target_level, target_id
			ORDER BY MIN(seq)
			LIMIT $1`, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "delegation")
	}
	return targets, nil
}

func (r *delegationRepository) PendingForTarget(ctx context.Context, targetLevel models.ContextLevel, targetID string, limit int) ([]*models.ContextDelegation, error) {
	ctx, span := r.tracer(ctx, "DelegationRepository.PendingForTarget")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.ContextDelegation
	err := r.ExecuteQuery(ctx, "delegation_pending_for_target", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, `
			SELECT * FROM context_delegations
			WHERE NOT processed AND target_level = $1 AND target_id = $2
			ORDER BY seq
			LIMIT $3`, targetLevel, targetID, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "delegation")
	}
	return out, nil
}

// MarkProcessed finalizes a pending delegation exactly once. A second
// call for the same id fails with a conflict rather than overwriting the
// recorded outcome.
func (r *delegationRepository) MarkProcessed(ctx context.Context, id uuid.UUID, approved bool, status models.ImplementationStatus, rejectedReason string, processedBy string) error {
	ctx, span := r.tracer(ctx, "DelegationRepository.MarkProcessed")
	defer span.End()

	err := r.ExecuteQuery(ctx, "delegation_mark_processed", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE context_delegations
			SET processed = TRUE, approved = $2, implementation_status = $3,
			    rejected_reason = $4, processed_by = $5, processed_at = now()
			WHERE id = $1 AND NOT processed`,
			id, approved, status, rejectedReason, processedBy)
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
				`SELECT EXISTS (SELECT 1 FROM context_delegations WHERE id = $1)`,
				id).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return errors.Wrap(repository.ErrDuplicate, "delegation already processed")
			}
			return repository.ErrNotFound
		}
		return nil
	})
	return r.TranslateError(err, "delegation")
}

func (r *delegationRepository) ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.ContextDelegation, error) {
	ctx, span := r.tracer(ctx, "DelegationRepository.ListForSource")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.ContextDelegation
	err := r.ExecuteQuery(ctx, "delegation_list_for_source", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, `
			SELECT * FROM context_delegations
			WHERE source_level = $1 AND source_id = $2
			ORDER BY seq DESC
			LIMIT $3`, sourceLevel, sourceID, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "delegation")
	}
	return out, nil
}
