package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type coordinationRepository struct {
	*BaseRepository
}

// NewCoordinationRepository creates the PostgreSQL repository for
// handoffs, conflicts, and agent messages.
func NewCoordinationRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.CoordinationRepository {
	return &coordinationRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("coordination_repository", logger, metrics)),
	}
}

func (r *coordinationRepository) CreateHandoff(ctx context.Context, h *models.WorkHandoff) error {
	ctx, span := r.tracer(ctx, "CoordinationRepository.CreateHandoff")
	defer span.End()

	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.CreatedAt = time.Now().UTC()
	if h.Status == "" {
		h.Status = models.HandoffPending
	}

	query := `
		INSERT INTO work_handoffs (id, task_id, from_agent_id, to_agent_id, reason,
		                           data, status, created_at)
		VALUES (:id, :task_id, :from_agent_id, :to_agent_id, :reason,
		        :data, :status, :created_at)`

	err := r.ExecuteQuery(ctx, "handoff_create", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, h)
		return err
	})
	return r.TranslateError(err, "handoff")
}

func (r *coordinationRepository) GetHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error) {
	ctx, span := r.tracer(ctx, "CoordinationRepository.GetHandoff")
	defer span.End()

	var h models.WorkHandoff
	err := r.ExecuteQuery(ctx, "handoff_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &h,
			`SELECT * FROM work_handoffs WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "handoff")
	}
	return &h, nil
}

// TransitionHandoff moves a handoff between lifecycle states with a
// compare-and-set on the current status. Accepting stamps accepted_at,
// completing stamps completed_at.
func (r *coordinationRepository) TransitionHandoff(ctx context.Context, id uuid.UUID, from, to models.HandoffStatus) error {
	ctx, span := r.tracer(ctx, "CoordinationRepository.TransitionHandoff")
	defer span.End()

	err := r.ExecuteQuery(ctx, "handoff_transition", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE work_handoffs
			SET status = $3,
			    accepted_at = CASE WHEN $3 = 'accepted' THEN now() ELSE accepted_at END,
			    completed_at = CASE WHEN $3 = 'completed' THEN now() ELSE completed_at END
			WHERE id = $1 AND status = $2`, id, from, to)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "work_handoffs", id.String())
		}
		return nil
	})
	return r.TranslateError(err, "handoff")
}

func (r *coordinationRepository) ListHandoffs(ctx context.Context, agentID string, status models.HandoffStatus, limit int) ([]*models.WorkHandoff, error) {
	ctx, span := r.tracer(ctx, "CoordinationRepository.ListHandoffs")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT * FROM work_handoffs WHERE TRUE`
	args := []interface{}{}

	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(" AND (from_agent_id = $%d OR to_agent_id = $%d)", len(args), len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var out []*models.WorkHandoff
	err := r.ExecuteQuery(ctx, "handoff_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "handoff")
	}
	return out, nil
}

func (r *coordinationRepository) CreateConflict(ctx context.Context, c *models.ConflictRecord) error {
	ctx, span := r.tracer(ctx, "CoordinationRepository.CreateConflict")
	defer span.End()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO conflict_records (id, task_id, type, agents, details, is_resolved, created_at)
		VALUES (:id, :task_id, :type, :agents, :details, :is_resolved, :created_at)`

	err := r.ExecuteQuery(ctx, "conflict_create", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, c)
		return err
	})
	return r.TranslateError(err, "conflict")
}

func (r *coordinationRepository) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictRecord, error) {
	ctx, span := r.tracer(ctx, "CoordinationRepository.GetConflict")
	defer span.End()

	var c models.ConflictRecord
	err := r.ExecuteQuery(ctx, "conflict_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &c,
			`SELECT * FROM conflict_records WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "conflict")
	}
	return &c, nil
}

// ResolveConflict closes an open conflict exactly once.
func (r *coordinationRepository) ResolveConflict(ctx context.Context, id uuid.UUID, strategy string, details models.JSONMap) error {
	ctx, span := r.tracer(ctx, "CoordinationRepository.ResolveConflict")
	defer span.End()

	err := r.ExecuteQuery(ctx, "conflict_resolve", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE conflict_records
			SET is_resolved = TRUE, resolution_strategy = $2, resolution_details = $3,
			    resolved_at = now()
			WHERE id = $1 AND NOT is_resolved`, id, strategy, details)
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
				`SELECT EXISTS (SELECT 1 FROM conflict_records WHERE id = $1)`,
				id).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return errors.Wrap(repository.ErrDuplicate, "conflict already resolved")
			}
			return repository.ErrNotFound
		}
		return nil
	})
	return r.TranslateError(err, "conflict")
}

func (r *coordinationRepository) ListConflicts(ctx context.Context, onlyOpen bool, limit int) ([]*models.ConflictRecord, error) {
	ctx, span := r.tracer(ctx, "CoordinationRepository.ListConflicts")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT * FROM conflict_records WHERE TRUE`
	if onlyOpen {
		query += " AND NOT is_resolved"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	var out []*models.ConflictRecord
	err := r.ExecuteQuery(ctx, "conflict_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, query, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "conflict")
	}
	return out, nil
}

func (r *coordinationRepository) SaveMessage(ctx context.Context, m *models.AgentCommunication) error {
	ctx, span := r.tracer(ctx, "CoordinationRepository.SaveMessage")
	defer span.End()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = time.Now().UTC()
	if m.Priority == "" {
		m.Priority = models.PriorityMedium
	}

	query := `
		INSERT INTO agent_communications (id, from_agent_id, to_agent_ids, task_id,
		                                  type, content, priority, created_at)
		VALUES (:id, :from_agent_id, :to_agent_ids, :task_id,
		        :type, :content, :priority, :created_at)`

	err := r.ExecuteQuery(ctx, "message_save", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, m)
		return err
	})
	return r.TranslateError(err, "message")
}

// ListMessages returns messages the agent sent or received, newest first.
func (r *coordinationRepository) ListMessages(ctx context.Context, agentID string, taskID *uuid.UUID, limit int) ([]*models.AgentCommunication, error) {
	ctx, span := r.tracer(ctx, "CoordinationRepository.ListMessages")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT * FROM agent_communications WHERE TRUE`
	args := []interface{}{}

	if agentID != "" {
		args = append(args, agentID)
		query += fmt.Sprintf(
			" AND (from_agent_id = $%d OR to_agent_ids @> to_jsonb(ARRAY[$%d]::text[]))",
			len(args), len(args))
	}
	if taskID != nil {
		args = append(args, *taskID)
		query += fmt.Sprintf(" AND task_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var out []*models.AgentCommunication
	err := r.ExecuteQuery(ctx, "message_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &out, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "message")
	}
	return out, nil
}
