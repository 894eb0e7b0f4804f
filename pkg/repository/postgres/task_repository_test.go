package postgres_test

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/repository/postgres"
)

var taskColumns = []string{
	"id", "branch_id", "title", "description", "status", "priority",
	"details", "estimated_effort", "due_date", "context_id", "assignees",
	"completion_summary", "testing_notes", "created_at", "updated_at",
	"completed_at", "version",
}

func taskRow(id, branchID uuid.UUID, title, status, priority string) []driver.Value {
	now := time.Now()
	return []driver.Value{
		id.String(), branchID.String(), title, "", status, priority,
		"", "", nil, nil, []byte(`["agent-1"]`),
		"", "", now, now, nil, 1,
	}
}

func newTaskRepo(t *testing.T, c cache.Cache) (repository.TaskRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "postgres")
	repo := postgres.NewTaskRepository(
		sqlxDB,
		sqlxDB,
		c,
		observability.NewNoopLogger(),
		observability.NoopStartSpan,
		observability.NewNoOpMetricsClient(),
	)
	return repo, mock, func() { _ = db.Close() }
}

func TestTaskRepository_Create_WithLabelsAndDependencies(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	branchID := uuid.New()
	depID := uuid.New()
	task := &models.Task{
		BranchID:     branchID,
		Title:        "Implement login",
		Labels:       []string{"auth"},
		Dependencies: []uuid.UUID{depID},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO labels").
		WithArgs("auth").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec("INSERT INTO task_labels").
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_dependencies").
		WithArgs(sqlmock.AnyArg(), depID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Create(context.Background(), task)
	assert.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, 1, task.Version)
	assert.Equal(t, models.TaskStatusTodo, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Create_RollsBackOnDependencyFailure(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	task := &models.Task{
		BranchID:     uuid.New(),
		Title:        "Implement login",
		Dependencies: []uuid.UUID{uuid.New()},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO tasks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO task_dependencies").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), task)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Get_CacheMiss(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{getErr: cache.ErrNotFound})
	defer cleanup()

	taskID := uuid.New()
	branchID := uuid.New()

	mock.ExpectQuery("SELECT \\* FROM tasks WHERE id").
		WithArgs(taskID).
		WillReturnRows(sqlmock.NewRows(taskColumns).
			AddRow(taskRow(taskID, branchID, "Implement login", "todo", "high")...))
	mock.ExpectQuery("SELECT tl.task_id, l.slug").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "slug"}).
			AddRow(taskID.String(), "auth").
			AddRow(taskID.String(), "backend"))
	mock.ExpectQuery("SELECT task_id, depends_on_task_id").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "depends_on_task_id"}))

	task, err := repo.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, "Implement login", task.Title)
	assert.Equal(t, []string{"auth", "backend"}, task.Labels)
	assert.Empty(t, task.Dependencies)
	assert.Equal(t, models.StringList{"agent-1"}, task.Assignees)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Transition(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	taskID := uuid.New()

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(taskID, models.TaskStatusTodo, models.TaskStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), taskID, models.TaskStatusTodo, models.TaskStatusInProgress)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Transition_StatusMoved(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	taskID := uuid.New()

	mock.ExpectExec("UPDATE tasks SET status").
		WithArgs(taskID, models.TaskStatusTodo, models.TaskStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(taskID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.Transition(context.Background(), taskID, models.TaskStatusTodo, models.TaskStatusInProgress)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Transition_Missing(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	taskID := uuid.New()

	mock.ExpectExec("UPDATE tasks SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.Transition(context.Background(), taskID, models.TaskStatusTodo, models.TaskStatusInProgress)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Complete(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	taskID := uuid.New()

	mock.ExpectExec("UPDATE tasks").
		WithArgs(taskID, models.TaskStatusInProgress, "implemented JWT flow", "unit tests added").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Complete(context.Background(), taskID, models.TaskStatusInProgress,
		"implemented JWT flow", "unit tests added")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_Reopen_ClearsCompletionRecord(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	taskID := uuid.New()

	mock.ExpectExec("SET status = 'todo', completion_summary = '', completed_at = NULL").
		WithArgs(taskID, models.TaskStatusDone).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Reopen(context.Background(), taskID, models.TaskStatusDone)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_ReadyTasks_ConsistentSnapshot(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	branchID := uuid.New()
	first := uuid.New()
	second := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT t\\.\\* FROM tasks t").
		WithArgs(branchID, 10).
		WillReturnRows(sqlmock.NewRows(taskColumns).
			AddRow(taskRow(first, branchID, "Critical fix", "todo", "critical")...).
			AddRow(taskRow(second, branchID, "Cleanup", "todo", "low")...))
	mock.ExpectQuery("SELECT tl.task_id, l.slug").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "slug"}).
			AddRow(first.String(), "hotfix"))
	mock.ExpectQuery("SELECT task_id, depends_on_task_id").
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "depends_on_task_id"}))
	mock.ExpectRollback()

	tasks, err := repo.ReadyTasks(context.Background(), branchID, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Critical fix", tasks[0].Title)
	assert.Equal(t, []string{"hotfix"}, tasks[0].Labels)
	assert.Empty(t, tasks[1].Labels)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepository_BlockedSummary(t *testing.T) {
	repo, mock, cleanup := newTaskRepo(t, &mockCache{})
	defer cleanup()

	branchID := uuid.New()
	blocked := uuid.New()
	blockerA := uuid.New()
	blockerB := uuid.New()

	mock.ExpectQuery("SELECT d.task_id, d.depends_on_task_id").
		WithArgs(branchID).
		WillReturnRows(sqlmock.NewRows([]string{"task_id", "blocker_id"}).
			AddRow(blocked.String(), blockerA.String()).
			AddRow(blocked.String(), blockerB.String()))

	summary, err := repo.BlockedSummary(context.Background(), branchID)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.ElementsMatch(t, []uuid.UUID{blockerA, blockerB}, summary[blocked])

	assert.NoError(t, mock.ExpectationsWereMet())
}
