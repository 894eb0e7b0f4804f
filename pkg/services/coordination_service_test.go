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

type coordinationEnv struct {
	coordination *mockCoordinationRepo
	tasks        *mockTaskRepo
	contexts     *mockContextService
	svc          CoordinationService
}

func newCoordinationEnv() *coordinationEnv {
	env := &coordinationEnv{
		coordination: new(mockCoordinationRepo),
		tasks:        new(mockTaskRepo),
		contexts:     new(mockContextService),
	}
	env.svc = NewCoordinationService(testConfig(), env.coordination, env.tasks, env.contexts)
	return env
}

func TestCoordinationService_OpenHandoff(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()

	t.Run("opens a pending handoff", func(t *testing.T) {
		env := newCoordinationEnv()
		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID}, nil)
		env.coordination.On("CreateHandoff", ctx, mock.MatchedBy(func(h *models.WorkHandoff) bool {
			return h.TaskID == taskID &&
				h.FromAgentID == "alice" &&
				h.ToAgentID == "bob" &&
				h.Status == models.HandoffPending
		})).Return(nil)

		handoff, err := env.svc.OpenHandoff(ctx, OpenHandoffInput{
			TaskID:      taskID,
			FromAgentID: "alice",
			ToAgentID:   "bob",
			Reason:      "shift change",
		})

		require.NoError(t, err)
		assert.Equal(t, models.HandoffPending, handoff.Status)
		assert.NotEqual(t, uuid.Nil, handoff.ID)
	})

	t.Run("both agents are required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.OpenHandoff(ctx, OpenHandoffInput{TaskID: taskID, FromAgentID: "alice"})

		assert.True(t, repository.IsValidation(err))
		env.coordination.AssertNotCalled(t, "CreateHandoff")
	})

	t.Run("a handoff to oneself is pointless", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.OpenHandoff(ctx, OpenHandoffInput{TaskID: taskID, FromAgentID: "alice", ToAgentID: "alice"})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("the task must exist", func(t *testing.T) {
		env := newCoordinationEnv()
		env.tasks.On("Get", ctx, taskID).Return(nil, repository.ErrNotFound)

		_, err := env.svc.OpenHandoff(ctx, OpenHandoffInput{TaskID: taskID, FromAgentID: "alice", ToAgentID: "bob"})

		assert.True(t, repository.IsNotFound(err))
	})
}

func TestCoordinationService_AcceptHandoff(t *testing.T) {
	ctx := context.Background()
	handoffID := uuid.New()

	t.Run("moves pending to accepted", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, Status: models.HandoffPending}, nil).Once()
		env.coordination.On("TransitionHandoff", ctx, handoffID, models.HandoffPending, models.HandoffAccepted).Return(nil)
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, Status: models.HandoffAccepted}, nil).Once()

		handoff, err := env.svc.AcceptHandoff(ctx, handoffID)

		require.NoError(t, err)
		assert.Equal(t, models.HandoffAccepted, handoff.Status)
		env.coordination.AssertExpectations(t)
	})

	t.Run("only pending handoffs can be accepted", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, Status: models.HandoffCompleted}, nil)

		_, err := env.svc.AcceptHandoff(ctx, handoffID)

		assert.True(t, IsConflict(err))
		assert.Contains(t, err.Error(), "expected pending")
		env.coordination.AssertNotCalled(t, "TransitionHandoff")
	})

	t.Run("a concurrent transition surfaces as a conflict", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, Status: models.HandoffPending}, nil)
		env.coordination.On("TransitionHandoff", ctx, handoffID, models.HandoffPending, models.HandoffAccepted).
			Return(repository.ErrOptimisticLock)

		_, err := env.svc.AcceptHandoff(ctx, handoffID)

		assert.True(t, IsConflict(err))
	})
}

func TestCoordinationService_CompleteHandoff(t *testing.T) {
	ctx := context.Background()
	handoffID := uuid.New()
	taskID := uuid.New()

	completed := func() *models.WorkHandoff {
		return &models.WorkHandoff{
			ID:          handoffID,
			TaskID:      taskID,
			FromAgentID: "alice",
			ToAgentID:   "bob",
			Reason:      "shift change",
			Status:      models.HandoffCompleted,
		}
	}

	t.Run("completion leaves an insight on the task", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, TaskID: taskID, Status: models.HandoffAccepted}, nil).Once()
		env.coordination.On("TransitionHandoff", ctx, handoffID, models.HandoffAccepted, models.HandoffCompleted).Return(nil)
		env.coordination.On("GetHandoff", ctx, handoffID).Return(completed(), nil).Once()
		env.contexts.On("AddInsight", ctx, mock.MatchedBy(func(in AddInsightInput) bool {
			return in.Level == models.LevelTask &&
				in.ContextID == taskID.String() &&
				in.Category == "handoff" &&
				in.SourceAgent == "bob" &&
				in.Content == "Work handed off from alice to bob: shift change (tests are green)"
		})).Return(&models.ContextInsight{}, nil)

		handoff, err := env.svc.CompleteHandoff(ctx, handoffID, "  tests are green ")

		require.NoError(t, err)
		assert.Equal(t, models.HandoffCompleted, handoff.Status)
		env.contexts.AssertExpectations(t)
	})

	t.Run("an insight write failure does not undo the handoff", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, TaskID: taskID, Status: models.HandoffAccepted}, nil).Once()
		env.coordination.On("TransitionHandoff", ctx, handoffID, models.HandoffAccepted, models.HandoffCompleted).Return(nil)
		env.coordination.On("GetHandoff", ctx, handoffID).Return(completed(), nil).Once()
		env.contexts.On("AddInsight", ctx, mock.AnythingOfType("AddInsightInput")).Return(nil, assert.AnError)

		handoff, err := env.svc.CompleteHandoff(ctx, handoffID, "")

		require.NoError(t, err)
		assert.Equal(t, models.HandoffCompleted, handoff.Status)
	})

	t.Run("pending handoffs complete only after acceptance", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, Status: models.HandoffPending}, nil)

		_, err := env.svc.CompleteHandoff(ctx, handoffID, "")

		assert.True(t, IsConflict(err))
		env.contexts.AssertNotCalled(t, "AddInsight")
	})

	t.Run("runs without a context service", func(t *testing.T) {
		coordination := new(mockCoordinationRepo)
		tasks := new(mockTaskRepo)
		svc := NewCoordinationService(testConfig(), coordination, tasks, nil)
		coordination.On("GetHandoff", ctx, handoffID).
			Return(&models.WorkHandoff{ID: handoffID, TaskID: taskID, Status: models.HandoffAccepted}, nil).Once()
		coordination.On("TransitionHandoff", ctx, handoffID, models.HandoffAccepted, models.HandoffCompleted).Return(nil)
		coordination.On("GetHandoff", ctx, handoffID).Return(completed(), nil).Once()

		_, err := svc.CompleteHandoff(ctx, handoffID, "")

		assert.NoError(t, err)
	})
}

func TestCoordinationService_RecordConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("records a conflict with deduplicated agents", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("CreateConflict", ctx, mock.MatchedBy(func(c *models.ConflictRecord) bool {
			return c.Type == "merge" && len(c.Agents) == 2
		})).Return(nil)

		conflict, err := env.svc.RecordConflict(ctx, RecordConflictInput{
			Type:   "merge",
			Agents: []string{"alice", "bob", "alice"},
		})

		require.NoError(t, err)
		assert.False(t, conflict.IsResolved)
	})

	t.Run("a type is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.RecordConflict(ctx, RecordConflictInput{Agents: []string{"alice"}})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("at least one agent is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.RecordConflict(ctx, RecordConflictInput{Type: "merge", Agents: []string{""}})

		assert.True(t, repository.IsValidation(err))
		env.coordination.AssertNotCalled(t, "CreateConflict")
	})

	t.Run("task-scoped conflicts validate the task", func(t *testing.T) {
		env := newCoordinationEnv()
		taskID := uuid.New()
		env.tasks.On("Get", ctx, taskID).Return(nil, repository.ErrNotFound)

		_, err := env.svc.RecordConflict(ctx, RecordConflictInput{
			Type:   "merge",
			Agents: []string{"alice"},
			TaskID: &taskID,
		})

		assert.True(t, repository.IsNotFound(err))
	})
}

func TestCoordinationService_ResolveConflict(t *testing.T) {
	ctx := context.Background()
	conflictID := uuid.New()

	t.Run("resolves with a strategy", func(t *testing.T) {
		env := newCoordinationEnv()
		details := models.JSONMap{"winner": "alice"}
		env.coordination.On("GetConflict", ctx, conflictID).
			Return(&models.ConflictRecord{ID: conflictID}, nil).Once()
		env.coordination.On("ResolveConflict", ctx, conflictID, "human_decision", details).Return(nil)
		env.coordination.On("GetConflict", ctx, conflictID).
			Return(&models.ConflictRecord{ID: conflictID, IsResolved: true, ResolutionStrategy: "human_decision"}, nil).Once()

		resolved, err := env.svc.ResolveConflict(ctx, conflictID, "human_decision", details)

		require.NoError(t, err)
		assert.True(t, resolved.IsResolved)
		env.coordination.AssertExpectations(t)
	})

	t.Run("a strategy is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.ResolveConflict(ctx, conflictID, "   ", nil)

		assert.True(t, repository.IsValidation(err))
		env.coordination.AssertNotCalled(t, "GetConflict")
	})

	t.Run("resolving twice is a conflict", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("GetConflict", ctx, conflictID).
			Return(&models.ConflictRecord{ID: conflictID, IsResolved: true}, nil)

		_, err := env.svc.ResolveConflict(ctx, conflictID, "human_decision", nil)

		assert.True(t, IsConflict(err))
		env.coordination.AssertNotCalled(t, "ResolveConflict")
	})
}

func TestCoordinationService_SendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("sends to deduplicated recipients with a default priority", func(t *testing.T) {
		env := newCoordinationEnv()
		env.coordination.On("SaveMessage", ctx, mock.MatchedBy(func(m *models.AgentCommunication) bool {
			return m.FromAgentID == "alice" &&
				len(m.ToAgentIDs) == 2 &&
				m.Priority == models.PriorityMedium
		})).Return(nil)

		message, err := env.svc.SendMessage(ctx, SendMessageInput{
			FromAgentID: "alice",
			ToAgentIDs:  []string{"bob", "carol", "bob"},
			Content:     "ready for review",
		})

		require.NoError(t, err)
		assert.Equal(t, models.PriorityMedium, message.Priority)
	})

	t.Run("content is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.SendMessage(ctx, SendMessageInput{
			FromAgentID: "alice",
			ToAgentIDs:  []string{"bob"},
			Content:     "   ",
		})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("a sender is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.SendMessage(ctx, SendMessageInput{ToAgentIDs: []string{"bob"}, Content: "hi"})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("at least one recipient is required", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.SendMessage(ctx, SendMessageInput{FromAgentID: "alice", Content: "hi"})

		assert.True(t, repository.IsValidation(err))
		env.coordination.AssertNotCalled(t, "SaveMessage")
	})

	t.Run("unknown priorities are rejected", func(t *testing.T) {
		env := newCoordinationEnv()

		_, err := env.svc.SendMessage(ctx, SendMessageInput{
			FromAgentID: "alice",
			ToAgentIDs:  []string{"bob"},
			Content:     "hi",
			Priority:    models.Priority("whenever"),
		})

		assert.True(t, repository.IsValidation(err))
	})
}
