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

type subtaskRepository struct {
	*BaseRepository
}

// NewSubtaskRepository creates the PostgreSQL subtask repository.
func NewSubtaskRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.SubtaskRepository {
	return &subtaskRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("subtask_repository", logger, metrics)),
	}
}

func (r *subtaskRepository) Create(ctx context.Context, subtask *models.Subtask) error {
	ctx, span := r.tracer(ctx, "SubtaskRepository.Create")
	defer span.End()

	if subtask.ID == uuid.Nil {
		subtask.ID = uuid.New()
	}
	now := time.Now().UTC()
	subtask.CreatedAt = now
	subtask.UpdatedAt = now
	subtask.Version = 1
	if subtask.Status == "" {
		subtask.Status = models.TaskStatusTodo
	}
	if subtask.Priority == "" {
		subtask.Priority = models.PriorityMedium
	}

	query := `
		INSERT INTO subtasks (id, task_id, title, description, status, priority, assignees,
		                      estimated_effort, progress_percentage, progress_notes, blockers,
		                      completion_summary, impact_on_parent, insights_found,
		                      created_at, updated_at, version)
		VALUES (:id, :task_id, :title, :description, :status, :priority, :assignees,
		        :estimated_effort, :progress_percentage, :progress_notes, :blockers,
		        :completion_summary, :impact_on_parent, :insights_found,
		        :created_at, :updated_at, :version)`

	err := r.ExecuteQuery(ctx, "subtask_create", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, subtask)
		return err
	})
	return r.TranslateError(err, "subtask")
}

func (r *subtaskRepository) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	ctx, span := r.tracer(ctx, "SubtaskRepository.Get")
	defer span.End()

	var subtask models.Subtask
	err := r.ExecuteQuery(ctx, "subtask_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &subtask, `SELECT * FROM subtasks WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "subtask")
	}
	return &subtask, nil
}

func (r *subtaskRepository) ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Subtask, error) {
	ctx, span := r.tracer(ctx, "SubtaskRepository.ListForTask")
	defer span.End()

	var subtasks []*models.Subtask
	err := r.ExecuteQuery(ctx, "subtask_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &subtasks,
			`SELECT * FROM subtasks WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "subtask")
	}
	return subtasks, nil
}

func (r *subtaskRepository) Update(ctx context.Context, subtask *models.Subtask) error {
	ctx, span := r.tracer(ctx, "SubtaskRepository.Update")
	defer span.End()

	query := `
		UPDATE subtasks
		SET title = :title, description = :description, status = :status,
		    priority = :priority, assignees = :assignees, estimated_effort = :estimated_effort,
		    progress_percentage = :progress_percentage, progress_notes = :progress_notes,
		    blockers = :blockers, completion_summary = :completion_summary,
		    impact_on_parent = :impact_on_parent, insights_found = :insights_found,
		    completed_at = :completed_at, version = version + 1
		WHERE id = :id AND version = :version`

	err := r.ExecuteQuery(ctx, "subtask_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, subtask)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "subtasks", subtask.ID.String())
		}
		subtask.Version++
		return nil
	})
	return r.TranslateError(err, "subtask")
}

func (r *subtaskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer(ctx, "SubtaskRepository.Delete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "subtask_delete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `DELETE FROM subtasks WHERE id = $1`, id)
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
	return r.TranslateError(err, "subtask")
}

func (r *subtaskRepository) Progress(ctx context.Context, taskID uuid.UUID) (*models.SubtaskProgress, error) {
	ctx, span := r.tracer(ctx, "SubtaskRepository.Progress")
	defer span.End()

	var progress models.SubtaskProgress
	err := r.ExecuteQuery(ctx, "subtask_progress", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &progress,
			`SELECT * FROM task_subtask_progress WHERE task_id = $1`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "subtask progress")
	}
	return &progress, nil
}
