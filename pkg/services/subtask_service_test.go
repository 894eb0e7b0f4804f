package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// subtaskEnv bundles the mocks behind one subtask service instance.
type subtaskEnv struct {
	subtasks *mockSubtaskRepo
	tasks    *mockTaskRepo
	branches *mockBranchRepo
	contexts *mockContextService
	svc      SubtaskService
}

func newSubtaskEnv() *subtaskEnv {
	env := &subtaskEnv{
		subtasks: new(mockSubtaskRepo),
		tasks:    new(mockTaskRepo),
		branches: new(mockBranchRepo),
		contexts: new(mockContextService),
	}
	env.svc = NewSubtaskService(testConfig(), env.subtasks, env.tasks, env.branches, env.contexts)
	return env
}

func TestSubtaskService_Create(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()

	t.Run("creates with defaults", func(t *testing.T) {
		env := newSubtaskEnv()
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusInProgress}, nil)
		env.subtasks.On("Create", ctx, mock.MatchedBy(func(st *models.Subtask) bool {
			return st.TaskID == taskID && st.Status == models.TaskStatusTodo && st.Priority == models.PriorityMedium
		})).Return(nil)

		subtask, err := env.svc.Create(ctx, CreateSubtaskInput{TaskID: taskID, Title: "  write the parser  "})

		require.NoError(t, err)
		assert.Equal(t, "write the parser", subtask.Title)
		env.subtasks.AssertExpectations(t)
	})

	t.Run("rejects empty title", func(t *testing.T) {
		env := newSubtaskEnv()

		_, err := env.svc.Create(ctx, CreateSubtaskInput{TaskID: taskID, Title: "   "})

		assert.True(t, repository.IsValidation(err))
		env.subtasks.AssertNotCalled(t, "Create")
	})

	t.Run("terminal parents take no new subtasks", func(t *testing.T) {
		env := newSubtaskEnv()
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusDone}, nil)

		_, err := env.svc.Create(ctx, CreateSubtaskInput{TaskID: taskID, Title: "too late"})

		assert.True(t, repository.IsValidation(err))
		env.subtasks.AssertNotCalled(t, "Create")
	})
}

func TestSubtaskService_Update(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	subtaskID := uuid.New()

	t.Run("first in_progress subtask pulls a todo parent along", func(t *testing.T) {
		env := newSubtaskEnv()
		branchID := uuid.New()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusTodo}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)
		env.subtasks.On("Update", ctx, mock.AnythingOfType("*models.Subtask")).Return(nil)
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, BranchID: branchID, Status: models.TaskStatusTodo}, nil)
		env.subtasks.On("ListForTask", ctx, taskID).Return([]*models.Subtask{
			{ID: subtaskID, TaskID: taskID, Status: models.TaskStatusInProgress},
		}, nil)
		env.tasks.On("Transition", ctx, taskID, models.TaskStatusTodo, models.TaskStatusInProgress).Return(nil)
		env.branches.On("StatisticsFor", ctx, branchID).Return(&repository.BranchStatistics{BranchID: branchID, TaskCount: 1, InProgressCount: 1}, nil)

		status := models.TaskStatusInProgress
		subtask, err := env.svc.Update(ctx, subtaskID, UpdateSubtaskInput{Status: &status})

		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusInProgress, subtask.Status)
		env.tasks.AssertCalled(t, "Transition", ctx, taskID, models.TaskStatusTodo, models.TaskStatusInProgress)
	})

	t.Run("parent already moving is left alone", func(t *testing.T) {
		env := newSubtaskEnv()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusInProgress}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)
		env.subtasks.On("Update", ctx, mock.AnythingOfType("*models.Subtask")).Return(nil)
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusReview}, nil)

		notes := "halfway through"
		_, err := env.svc.Update(ctx, subtaskID, UpdateSubtaskInput{ProgressNotes: &notes})

		require.NoError(t, err)
		env.tasks.AssertNotCalled(t, "Transition")
	})

	t.Run("progress is clamped", func(t *testing.T) {
		env := newSubtaskEnv()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusInProgress}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)
		env.subtasks.On("Update", ctx, mock.MatchedBy(func(st *models.Subtask) bool {
			return st.ProgressPercentage == 100
		})).Return(nil)
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusInProgress}, nil)

		progress := 250
		_, err := env.svc.Update(ctx, subtaskID, UpdateSubtaskInput{ProgressPercentage: &progress})

		require.NoError(t, err)
		env.subtasks.AssertExpectations(t)
	})

	t.Run("done patch is rejected", func(t *testing.T) {
		env := newSubtaskEnv()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusInProgress}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)

		status := models.TaskStatusDone
		_, err := env.svc.Update(ctx, subtaskID, UpdateSubtaskInput{Status: &status})

		assert.True(t, repository.IsValidation(err))
		assert.Contains(t, err.Error(), "complete operation")
		env.subtasks.AssertNotCalled(t, "Update")
	})
}

func TestSubtaskService_Complete(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	subtaskID := uuid.New()

	t.Run("completes and feeds insights to the parent task", func(t *testing.T) {
		env := newSubtaskEnv()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusInProgress, ProgressPercentage: 60}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)
		env.subtasks.On("Update", ctx, mock.MatchedBy(func(st *models.Subtask) bool {
			return st.Status == models.TaskStatusDone && st.ProgressPercentage == 100 && st.CompletedAt != nil
		})).Return(nil)
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusInProgress}, nil)
		env.contexts.On("AddInsight", ctx, mock.MatchedBy(func(input AddInsightInput) bool {
			return input.Level == models.LevelTask &&
				input.ContextID == taskID.String() &&
				input.Category == "subtask_completion" &&
				input.Content == "the retry path needs its own test"
		})).Return(&models.ContextInsight{}, nil)

		subtask, err := env.svc.Complete(ctx, subtaskID, CompleteSubtaskInput{
			Summary:        "parser written and wired",
			ImpactOnParent: "unblocks integration",
			InsightsFound:  []string{"the retry path needs its own test"},
		})

		require.NoError(t, err)
		assert.Equal(t, "parser written and wired", subtask.CompletionSummary)
		env.contexts.AssertExpectations(t)
	})

	t.Run("requires a summary", func(t *testing.T) {
		env := newSubtaskEnv()

		_, err := env.svc.Complete(ctx, subtaskID, CompleteSubtaskInput{Summary: " "})

		assert.True(t, repository.IsValidation(err))
		env.subtasks.AssertNotCalled(t, "Update")
	})

	t.Run("already done is a conflict", func(t *testing.T) {
		env := newSubtaskEnv()
		env.subtasks.On("Get", ctx, subtaskID).Return(&models.Subtask{ID: subtaskID, TaskID: taskID, Status: models.TaskStatusDone}, nil)

		_, err := env.svc.Complete(ctx, subtaskID, CompleteSubtaskInput{Summary: "again"})

		assert.True(t, IsConflict(err))
	})

	t.Run("insight write failure does not fail the completion", func(t *testing.T) {
		env := newSubtaskEnv()
		current := &models.Subtask{ID: subtaskID, TaskID: taskID, Title: "x", Status: models.TaskStatusInProgress}

		env.subtasks.On("Get", ctx, subtaskID).Return(current, nil)
		env.subtasks.On("Update", ctx, mock.AnythingOfType("*models.Subtask")).Return(nil)
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, Status: models.TaskStatusInProgress}, nil)
		env.contexts.On("AddInsight", ctx, mock.AnythingOfType("AddInsightInput")).Return(nil, assert.AnError)

		_, err := env.svc.Complete(ctx, subtaskID, CompleteSubtaskInput{
			Summary:       "done",
			InsightsFound: []string{"flaky fixture"},
		})

		assert.NoError(t, err)
	})
}

func TestSubtaskService_Progress(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()

	t.Run("aggregates through the statistics view", func(t *testing.T) {
		env := newSubtaskEnv()
		env.subtasks.On("Progress", ctx, taskID).Return(&models.SubtaskProgress{
			TaskID:          taskID,
			SubtaskCount:    4,
			CompletedCount:  3,
			AverageProgress: 75,
		}, nil)

		progress, err := env.svc.Progress(ctx, taskID)

		require.NoError(t, err)
		assert.Equal(t, 4, progress.SubtaskCount)
		assert.Equal(t, 3, progress.CompletedCount)
		assert.InDelta(t, 75.0, progress.AverageProgress, 0.001)
	})

	t.Run("task without subtasks reports zero progress", func(t *testing.T) {
		env := newSubtaskEnv()
		env.subtasks.On("Progress", ctx, taskID).Return(nil, repository.ErrNotFound)

		progress, err := env.svc.Progress(ctx, taskID)

		require.NoError(t, err)
		assert.Equal(t, taskID, progress.TaskID)
		assert.Zero(t, progress.SubtaskCount)
	})
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0, clampProgress(-10))
	assert.Equal(t, 42, clampProgress(42))
	assert.Equal(t, 100, clampProgress(180))
}
