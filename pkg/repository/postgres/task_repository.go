package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// sqlTxReadOnly pins next-task reads to one consistent snapshot.
var sqlTxReadOnly = sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}

type taskRepository struct {
	*BaseRepository
}

// NewTaskRepository creates the PostgreSQL task repository.
func NewTaskRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.TaskRepository {
	return &taskRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("task_repository", logger, metrics)),
	}
}

func taskCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("task:%s", id)
}

// readySortClause is the composite scheduling key: priority desc, due date
// asc with nulls last, age, then id for a stable tie-break.
const readySortClause = `
	ORDER BY CASE priority
	           WHEN 'critical' THEN 4
	           WHEN 'urgent'   THEN 3
	           WHEN 'high'     THEN 2
	           WHEN 'medium'   THEN 1
	           ELSE 0
	         END DESC,
	         due_date ASC NULLS LAST,
	         created_at ASC,
	         id ASC`

// Create inserts the task row and its label and dependency edges in one
// transaction. Labels must already be canonical slugs.
func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Create")
	defer span.End()

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Version = 1
	if task.Status == "" {
		task.Status = models.TaskStatusTodo
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	const insertTask = `
		INSERT INTO tasks (id, branch_id, title, description, status, priority, details,
		                   estimated_effort, due_date, context_id, assignees,
		                   completion_summary, testing_notes, created_at, updated_at, version)
		VALUES (:id, :branch_id, :title, :description, :status, :priority, :details,
		        :estimated_effort, :due_date, :context_id, :assignees,
		        :completion_summary, :testing_notes, :created_at, :updated_at, :version)`

	err := r.ExecuteQuery(ctx, "task_create", func(ctx context.Context) error {
		return r.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.NamedExecContext(ctx, insertTask, task); err != nil {
				return err
			}
			if err := attachLabelsTx(ctx, tx, task.ID, task.Labels); err != nil {
				return err
			}
			for _, depID := range task.Dependencies {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO task_dependencies (task_id, depends_on_task_id, dependency_type)
					 VALUES ($1, $2, 'blocks')`, task.ID, depID); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return r.TranslateError(err, "task")
}

// attachLabelsTx upserts every slug and links it to the task.
func attachLabelsTx(ctx context.Context, tx *sqlx.Tx, taskID uuid.UUID, slugs []string) error {
	for _, slug := range slugs {
		var labelID int64
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO labels (slug) VALUES ($1)
			 ON CONFLICT (slug) DO UPDATE SET slug = EXCLUDED.slug
			 RETURNING id`, slug).Scan(&labelID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_labels (task_id, label_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`, taskID, labelID); err != nil {
			return err
		}
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.Get")
	defer span.End()

	var task models.Task
	if err := r.CacheGet(ctx, taskCacheKey(id), &task); err == nil {
		return &task, nil
	}

	err := r.ExecuteQuery(ctx, "task_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "task")
	}

	if err := r.hydrate(ctx, []*models.Task{&task}); err != nil {
		return nil, r.TranslateError(err, "task")
	}

	if err := r.CacheSet(ctx, taskCacheKey(id), &task, 0); err != nil {
		r.logger.Debug("Failed to cache task", map[string]interface{}{"error": err.Error()})
	}
	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.List")
	defer span.End()

	query := `SELECT t.* FROM tasks t WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.BranchID != nil {
		query += fmt.Sprintf(" AND t.branch_id = $%d", idx)
		args = append(args, *filter.BranchID)
		idx++
	}
	if filter.ProjectID != nil {
		query += fmt.Sprintf(" AND t.branch_id IN (SELECT id FROM branches WHERE project_id = $%d)", idx)
		args = append(args, *filter.ProjectID)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND t.status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Priority != "" {
		query += fmt.Sprintf(" AND t.priority = $%d", idx)
		args = append(args, filter.Priority)
		idx++
	}
	if filter.Assignee != "" {
		query += fmt.Sprintf(" AND t.assignees @> to_jsonb(ARRAY[$%d]::text[])", idx)
		args = append(args, filter.Assignee)
		idx++
	}
	if filter.Label != "" {
		query += fmt.Sprintf(` AND EXISTS (
			SELECT 1 FROM task_labels tl JOIN labels l ON l.id = tl.label_id
			WHERE tl.task_id = t.id AND l.slug = $%d)`, idx)
		args = append(args, filter.Label)
		idx++
	}
	if filter.Overdue {
		query += ` AND t.due_date IS NOT NULL AND t.due_date < now()
		           AND t.status NOT IN ('done', 'cancelled', 'archived')`
	}
	if filter.Query != "" {
		query += fmt.Sprintf(" AND (t.title ILIKE $%d OR t.description ILIKE $%d)", idx, idx)
		args = append(args, "%"+filter.Query+"%")
		idx++
	}
	if filter.DueBefore != nil {
		query += fmt.Sprintf(" AND t.due_date <= $%d", idx)
		args = append(args, *filter.DueBefore)
		idx++
	}
	if filter.DueAfter != nil {
		query += fmt.Sprintf(" AND t.due_date >= $%d", idx)
		args = append(args, *filter.DueAfter)
		idx++
	}

	query += " ORDER BY t.created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	var tasks []*models.Task
	err := r.ExecuteQuery(ctx, "task_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &tasks, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "task")
	}

	if err := r.hydrate(ctx, tasks); err != nil {
		return nil, r.TranslateError(err, "task")
	}
	return tasks, nil
}

// hydrate loads labels and dependency ids for the given tasks in two
// batched queries.
func (r *taskRepository) hydrate(ctx context.Context, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]string, len(tasks))
	byID := make(map[uuid.UUID]*models.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID.String()
		byID[t.ID] = t
		t.Labels = nil
		t.Dependencies = nil
	}

	labelRows := []struct {
		TaskID uuid.UUID `db:"task_id"`
		Slug   string    `db:"slug"`
	}{}
	err := r.readDB.SelectContext(ctx, &labelRows, `
		SELECT tl.task_id, l.slug
		FROM task_labels tl
		JOIN labels l ON l.id = tl.label_id
		WHERE tl.task_id = ANY($1)
		ORDER BY l.slug`, pq.Array(ids))
	if err != nil {
		return err
	}
	for _, row := range labelRows {
		if t, ok := byID[row.TaskID]; ok {
			t.Labels = append(t.Labels, row.Slug)
		}
	}

	depRows := []struct {
		TaskID    uuid.UUID `db:"task_id"`
		DependsOn uuid.UUID `db:"depends_on_task_id"`
	}{}
	err = r.readDB.SelectContext(ctx, &depRows, `
		SELECT task_id, depends_on_task_id
		FROM task_dependencies
		WHERE task_id = ANY($1)
		ORDER BY created_at ASC`, pq.Array(ids))
	if err != nil {
		return err
	}
	for _, row := range depRows {
		if t, ok := byID[row.TaskID]; ok {
			t.Dependencies = append(t.Dependencies, row.DependsOn)
		}
	}
	return nil
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Update")
	defer span.End()

	// Status changes go through Transition/Complete/Reopen; branch_id is
	// immutable.
	query := `
		UPDATE tasks
		SET title = :title, description = :description, priority = :priority,
		    details = :details, estimated_effort = :estimated_effort,
		    due_date = :due_date, context_id = :context_id, assignees = :assignees,
		    testing_notes = :testing_notes, version = version + 1
		WHERE id = :id AND version = :version`

	err := r.ExecuteQuery(ctx, "task_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, task)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "tasks", task.ID.String())
		}
		task.Version++
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(task.ID))
}

func (r *taskRepository) Transition(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Transition")
	defer span.End()

	err := r.ExecuteQuery(ctx, "task_transition", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`UPDATE tasks SET status = $3, version = version + 1 WHERE id = $1 AND status = $2`,
			id, from, to)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "tasks", id.String())
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(id))
}

func (r *taskRepository) Complete(ctx context.Context, id uuid.UUID, from models.TaskStatus, summary, testingNotes string) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Complete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "task_complete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'done', completion_summary = $3,
			    testing_notes = CASE WHEN $4 <> '' THEN $4 ELSE testing_notes END,
			    completed_at = now(), version = version + 1
			WHERE id = $1 AND status = $2`,
			id, from, summary, testingNotes)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "tasks", id.String())
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(id))
}

func (r *taskRepository) Reopen(ctx context.Context, id uuid.UUID, from models.TaskStatus) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Reopen")
	defer span.End()

	err := r.ExecuteQuery(ctx, "task_reopen", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE tasks
			SET status = 'todo', completion_summary = '', completed_at = NULL,
			    version = version + 1
			WHERE id = $1 AND status = $2`,
			id, from)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "tasks", id.String())
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(id))
}

func (r *taskRepository) SetAssignees(ctx context.Context, id uuid.UUID, assignees models.StringList) error {
	ctx, span := r.tracer(ctx, "TaskRepository.SetAssignees")
	defer span.End()

	err := r.ExecuteQuery(ctx, "task_set_assignees", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`UPDATE tasks SET assignees = $2, version = version + 1 WHERE id = $1`, id, assignees)
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
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(id))
}

func (r *taskRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer(ctx, "TaskRepository.Delete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "task_delete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
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
		return r.TranslateError(err, "task")
	}
	return r.CacheDelete(ctx, taskCacheKey(id))
}

// ReadyTasks returns open tasks whose blocking prerequisites, intra- and
// cross-branch, are all done, in scheduling order. The whole read runs in
// one read-only transaction so selection sees a consistent snapshot.
func (r *taskRepository) ReadyTasks(ctx context.Context, branchID uuid.UUID, limit int) ([]*models.Task, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.ReadyTasks")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT t.* FROM tasks t
		WHERE t.branch_id = $1
		  AND t.status IN ('todo', 'in_progress')
		  AND NOT EXISTS (
		      SELECT 1 FROM task_dependencies d
		      JOIN tasks dep ON dep.id = d.depends_on_task_id
		      WHERE d.task_id = t.id
		        AND d.dependency_type = 'blocks'
		        AND dep.status <> 'done')
		  AND NOT EXISTS (
		      SELECT 1 FROM cross_branch_dependencies cbd
		      JOIN tasks pre ON pre.id = cbd.prerequisite_task_id
		      WHERE cbd.dependent_task_id = t.id
		        AND pre.status <> 'done')` +
		readySortClause + `
		LIMIT $2`

	var tasks []*models.Task
	err := r.ExecuteQuery(ctx, "task_ready", func(ctx context.Context) error {
		tx, err := r.readDB.BeginTxx(ctx, &sqlTxReadOnly)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.SelectContext(ctx, &tasks, query, branchID, limit); err != nil {
			return err
		}
		return r.hydrateTx(ctx, tx, tasks)
	})
	if err != nil {
		return nil, r.TranslateError(err, "task")
	}
	return tasks, nil
}

// hydrateTx is hydrate against an open transaction, keeping the readiness
// snapshot consistent.
func (r *taskRepository) hydrateTx(ctx context.Context, tx *sqlx.Tx, tasks []*models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	ids := make([]string, len(tasks))
	byID := make(map[uuid.UUID]*models.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID.String()
		byID[t.ID] = t
	}

	labelRows := []struct {
		TaskID uuid.UUID `db:"task_id"`
		Slug   string    `db:"slug"`
	}{}
	if err := tx.SelectContext(ctx, &labelRows, `
		SELECT tl.task_id, l.slug FROM task_labels tl
		JOIN labels l ON l.id = tl.label_id
		WHERE tl.task_id = ANY($1) ORDER BY l.slug`, pq.Array(ids)); err != nil {
		return err
	}
	for _, row := range labelRows {
		if t, ok := byID[row.TaskID]; ok {
			t.Labels = append(t.Labels, row.Slug)
		}
	}

	depRows := []struct {
		TaskID    uuid.UUID `db:"task_id"`
		DependsOn uuid.UUID `db:"depends_on_task_id"`
	}{}
	if err := tx.SelectContext(ctx, &depRows, `
		SELECT task_id, depends_on_task_id FROM task_dependencies
		WHERE task_id = ANY($1) ORDER BY created_at ASC`, pq.Array(ids)); err != nil {
		return err
	}
	for _, row := range depRows {
		if t, ok := byID[row.TaskID]; ok {
			t.Dependencies = append(t.Dependencies, row.DependsOn)
		}
	}
	return nil
}

// BlockedSummary maps each open task in the branch to the prerequisite
// task ids still holding it back, for next-task diagnostics.
func (r *taskRepository) BlockedSummary(ctx context.Context, branchID uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	ctx, span := r.tracer(ctx, "TaskRepository.BlockedSummary")
	defer span.End()

	rows := []struct {
		TaskID  uuid.UUID `db:"task_id"`
		Blocker uuid.UUID `db:"blocker_id"`
	}{}

	query := `
		SELECT d.task_id, d.depends_on_task_id AS blocker_id
		FROM task_dependencies d
		JOIN tasks t   ON t.id = d.task_id
		JOIN tasks dep ON dep.id = d.depends_on_task_id
		WHERE t.branch_id = $1
		  AND t.status IN ('todo', 'in_progress', 'blocked')
		  AND d.dependency_type = 'blocks'
		  AND dep.status <> 'done'
		UNION ALL
		SELECT cbd.dependent_task_id AS task_id, cbd.prerequisite_task_id AS blocker_id
		FROM cross_branch_dependencies cbd
		JOIN tasks t   ON t.id = cbd.dependent_task_id
		JOIN tasks pre ON pre.id = cbd.prerequisite_task_id
		WHERE t.branch_id = $1
		  AND t.status IN ('todo', 'in_progress', 'blocked')
		  AND pre.status <> 'done'`

	err := r.ExecuteQuery(ctx, "task_blocked_summary", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &rows, query, branchID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "task")
	}

	out := make(map[uuid.UUID][]uuid.UUID)
	for _, row := range rows {
		out[row.TaskID] = append(out[row.TaskID], row.Blocker)
	}
	return out, nil
}
