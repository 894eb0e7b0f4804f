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

// agentEnv bundles the mocks behind one agent service instance.
type agentEnv struct {
	agents   *mockAgentRepo
	branches *mockBranchRepo
	projects *mockProjectRepo
	tasks    *mockTaskRepo
	svc      AgentService
}

func newAgentEnv() *agentEnv {
	env := &agentEnv{
		agents:   new(mockAgentRepo),
		branches: new(mockBranchRepo),
		projects: new(mockProjectRepo),
		tasks:    new(mockTaskRepo),
	}
	env.svc = NewAgentService(testConfig(), env.agents, env.branches, env.projects, env.tasks)
	return env
}

func TestAgentService_Register(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	project := &models.Project{ID: projectID, Name: "checkout"}

	t.Run("registers with defaults", func(t *testing.T) {
		env := newAgentEnv()
		stored := &models.Agent{ID: "coder", ProjectID: projectID, Name: "coder", CallAgent: "@coder", Status: models.AgentStatusAvailable, MaxConcurrentTasks: 5}

		env.projects.On("Get", ctx, projectID).Return(project, nil)
		env.agents.On("Register", ctx, mock.MatchedBy(func(a *models.Agent) bool {
			return a.ID == "coder" &&
				a.Name == "coder" &&
				a.CallAgent == "@coder" &&
				a.MaxConcurrentTasks == 5 &&
				a.Status == models.AgentStatusAvailable
		})).Return(nil)
		env.agents.On("Get", ctx, projectID, "coder").Return(stored, nil)

		agent, err := env.svc.Register(ctx, RegisterAgentInput{ProjectID: projectID, AgentID: " coder "})

		require.NoError(t, err)
		assert.Equal(t, "@coder", agent.CallAgent)
		env.agents.AssertExpectations(t)
	})

	t.Run("requires an agent id", func(t *testing.T) {
		env := newAgentEnv()

		_, err := env.svc.Register(ctx, RegisterAgentInput{ProjectID: projectID, AgentID: "  "})

		assert.True(t, repository.IsValidation(err))
		env.agents.AssertNotCalled(t, "Register")
	})

	t.Run("requires a live project", func(t *testing.T) {
		env := newAgentEnv()

		env.projects.On("Get", ctx, projectID).Return(nil, repository.ErrNotFound)

		_, err := env.svc.Register(ctx, RegisterAgentInput{ProjectID: projectID, AgentID: "coder"})

		assert.True(t, repository.IsNotFound(err))
		env.agents.AssertNotCalled(t, "Register")
	})

	t.Run("deduplicates capabilities", func(t *testing.T) {
		env := newAgentEnv()

		env.projects.On("Get", ctx, projectID).Return(project, nil)
		env.agents.On("Register", ctx, mock.MatchedBy(func(a *models.Agent) bool {
			return len(a.Capabilities) == 2 && a.Capabilities.Contains("backend") && a.Capabilities.Contains("testing")
		})).Return(nil)
		env.agents.On("Get", ctx, projectID, "coder").Return(&models.Agent{ID: "coder"}, nil)

		_, err := env.svc.Register(ctx, RegisterAgentInput{
			ProjectID:    projectID,
			AgentID:      "coder",
			Capabilities: []string{"backend", "testing", "backend", ""},
		})

		require.NoError(t, err)
		env.agents.AssertExpectations(t)
	})
}

func TestAgentService_Update(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	t.Run("capacity cannot drop below the live workload", func(t *testing.T) {
		env := newAgentEnv()
		env.agents.On("Get", ctx, projectID, "coder").Return(&models.Agent{
			ID: "coder", ProjectID: projectID, CurrentWorkload: 4, MaxConcurrentTasks: 5,
		}, nil)

		lower := 2
		_, err := env.svc.Update(ctx, projectID, "coder", UpdateAgentInput{MaxConcurrentTasks: &lower})

		assert.True(t, repository.IsCapacity(err))
		env.agents.AssertNotCalled(t, "Update")
	})

	t.Run("unknown status is rejected before any read", func(t *testing.T) {
		env := newAgentEnv()
		status := models.AgentStatus("sleeping")

		_, err := env.svc.Update(ctx, projectID, "coder", UpdateAgentInput{Status: &status})

		assert.True(t, repository.IsValidation(err))
		env.agents.AssertNotCalled(t, "Get")
	})

	t.Run("patches status and capabilities", func(t *testing.T) {
		env := newAgentEnv()
		env.agents.On("Get", ctx, projectID, "coder").Return(&models.Agent{ID: "coder", ProjectID: projectID, Status: models.AgentStatusAvailable}, nil)
		env.agents.On("Update", ctx, mock.MatchedBy(func(a *models.Agent) bool {
			return a.Status == models.AgentStatusBusy && a.Capabilities.Contains("devops")
		})).Return(nil)

		status := models.AgentStatusBusy
		agent, err := env.svc.Update(ctx, projectID, "coder", UpdateAgentInput{
			Status:       &status,
			Capabilities: []string{"devops"},
		})

		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusBusy, agent.Status)
	})
}

func TestAgentService_Unregister(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	t.Run("busy agents cannot leave", func(t *testing.T) {
		env := newAgentEnv()
		env.agents.On("Get", ctx, projectID, "coder").Return(&models.Agent{ID: "coder", CurrentWorkload: 2}, nil)

		err := env.svc.Unregister(ctx, projectID, "coder")

		assert.True(t, IsConflict(err))
		env.agents.AssertNotCalled(t, "Unregister")
	})

	t.Run("owned branches are released", func(t *testing.T) {
		env := newAgentEnv()
		ownedID := uuid.New()
		coOwnedID := uuid.New()
		agentID := "coder"
		otherID := "other"

		env.agents.On("Get", ctx, projectID, agentID).Return(&models.Agent{ID: agentID}, nil)
		env.agents.On("BranchesFor", ctx, projectID, agentID).Return([]uuid.UUID{ownedID, coOwnedID}, nil)
		env.branches.On("Get", ctx, ownedID).Return(&models.Branch{ID: ownedID, ProjectID: projectID, AssignedAgentID: &agentID}, nil)
		env.branches.On("Get", ctx, coOwnedID).Return(&models.Branch{ID: coOwnedID, ProjectID: projectID, AssignedAgentID: &otherID}, nil)
		env.branches.On("SetAssignedAgent", ctx, ownedID, (*string)(nil)).Return(nil)
		env.agents.On("Unregister", ctx, projectID, agentID).Return(nil)

		err := env.svc.Unregister(ctx, projectID, agentID)

		require.NoError(t, err)
		env.branches.AssertNumberOfCalls(t, "SetAssignedAgent", 1)
		env.agents.AssertExpectations(t)
	})
}

func TestAgentService_AssignToBranch(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	branchID := uuid.New()
	agentID := "coder"

	t.Run("first assignment takes ownership", func(t *testing.T) {
		env := newAgentEnv()
		env.agents.On("Get", ctx, projectID, agentID).Return(&models.Agent{ID: agentID}, nil)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.agents.On("AssignBranch", ctx, mock.AnythingOfType("*models.AgentBranchAssignment")).Return(nil)
		env.branches.On("SetAssignedAgent", ctx, branchID, &agentID).Return(nil)

		err := env.svc.AssignToBranch(ctx, projectID, agentID, branchID)

		require.NoError(t, err)
		env.branches.AssertExpectations(t)
	})

	t.Run("owned branches keep their owner", func(t *testing.T) {
		env := newAgentEnv()
		owner := "incumbent"
		env.agents.On("Get", ctx, projectID, agentID).Return(&models.Agent{ID: agentID}, nil)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID, AssignedAgentID: &owner}, nil)
		env.agents.On("AssignBranch", ctx, mock.AnythingOfType("*models.AgentBranchAssignment")).Return(nil)

		err := env.svc.AssignToBranch(ctx, projectID, agentID, branchID)

		require.NoError(t, err)
		env.branches.AssertNotCalled(t, "SetAssignedAgent")
	})

	t.Run("re-assignment is idempotent", func(t *testing.T) {
		env := newAgentEnv()
		owner := agentID
		env.agents.On("Get", ctx, projectID, agentID).Return(&models.Agent{ID: agentID}, nil)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID, AssignedAgentID: &owner}, nil)
		env.agents.On("AssignBranch", ctx, mock.AnythingOfType("*models.AgentBranchAssignment")).Return(repository.ErrDuplicate)

		err := env.svc.AssignToBranch(ctx, projectID, agentID, branchID)

		assert.NoError(t, err)
	})

	t.Run("cross-project branches are rejected", func(t *testing.T) {
		env := newAgentEnv()
		env.agents.On("Get", ctx, projectID, agentID).Return(&models.Agent{ID: agentID}, nil)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: uuid.New()}, nil)

		err := env.svc.AssignToBranch(ctx, projectID, agentID, branchID)

		assert.True(t, repository.IsValidation(err))
		env.agents.AssertNotCalled(t, "AssignBranch")
	})
}

func TestAgentService_Rebalance(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	t.Run("moves a saturated owner's branch to the least loaded capable agent", func(t *testing.T) {
		env := newAgentEnv()
		branchID := uuid.New()
		saturated := "overworked"
		agents := []*models.Agent{
			{ID: saturated, Status: models.AgentStatusAvailable, CurrentWorkload: 5, MaxConcurrentTasks: 5, Capabilities: models.StringList{"backend"}},
			{ID: "relief-b", Status: models.AgentStatusAvailable, CurrentWorkload: 1, MaxConcurrentTasks: 5, Capabilities: models.StringList{"backend"}},
			{ID: "relief-a", Status: models.AgentStatusAvailable, CurrentWorkload: 1, MaxConcurrentTasks: 5, Capabilities: models.StringList{"backend"}},
		}

		env.agents.On("List", ctx, repository.AgentFilter{ProjectID: projectID}).Return(agents, nil)
		env.branches.On("List", ctx, repository.BranchFilter{ProjectID: projectID}).Return([]*models.Branch{
			{ID: branchID, ProjectID: projectID, AssignedAgentID: &saturated},
		}, nil)
		env.tasks.On("List", ctx, repository.TaskFilter{BranchID: &branchID}).Return([]*models.Task{
			{ID: uuid.New(), BranchID: branchID, Status: models.TaskStatusTodo, Labels: []string{"backend"}},
		}, nil)
		env.branches.On("SetAssignedAgent", ctx, branchID, mock.MatchedBy(func(id *string) bool {
			return id != nil && *id == "relief-a"
		})).Return(nil)
		env.agents.On("AssignBranch", ctx, mock.MatchedBy(func(a *models.AgentBranchAssignment) bool {
			return a.AgentID == "relief-a" && a.BranchID == branchID
		})).Return(nil)

		result, err := env.svc.Rebalance(ctx, projectID)

		require.NoError(t, err)
		require.Len(t, result.Moves, 1)
		assert.Equal(t, saturated, result.Moves[0].FromAgent)
		assert.Equal(t, "relief-a", result.Moves[0].ToAgent)
		assert.Equal(t, 1, result.Examined)
	})

	t.Run("owners under capacity are left alone", func(t *testing.T) {
		env := newAgentEnv()
		branchID := uuid.New()
		owner := "steady"

		env.agents.On("List", ctx, repository.AgentFilter{ProjectID: projectID}).Return([]*models.Agent{
			{ID: owner, Status: models.AgentStatusAvailable, CurrentWorkload: 1, MaxConcurrentTasks: 5},
		}, nil)
		env.branches.On("List", ctx, repository.BranchFilter{ProjectID: projectID}).Return([]*models.Branch{
			{ID: branchID, ProjectID: projectID, AssignedAgentID: &owner},
		}, nil)

		result, err := env.svc.Rebalance(ctx, projectID)

		require.NoError(t, err)
		assert.Empty(t, result.Moves)
		assert.Zero(t, result.Examined)
		env.branches.AssertNotCalled(t, "SetAssignedAgent")
	})

	t.Run("branches without labeled open work give no routing signal", func(t *testing.T) {
		env := newAgentEnv()
		branchID := uuid.New()
		saturated := "overworked"

		env.agents.On("List", ctx, repository.AgentFilter{ProjectID: projectID}).Return([]*models.Agent{
			{ID: saturated, Status: models.AgentStatusAvailable, CurrentWorkload: 5, MaxConcurrentTasks: 5},
			{ID: "relief", Status: models.AgentStatusAvailable, CurrentWorkload: 0, MaxConcurrentTasks: 5, Capabilities: models.StringList{"backend"}},
		}, nil)
		env.branches.On("List", ctx, repository.BranchFilter{ProjectID: projectID}).Return([]*models.Branch{
			{ID: branchID, ProjectID: projectID, AssignedAgentID: &saturated},
		}, nil)
		env.tasks.On("List", ctx, repository.TaskFilter{BranchID: &branchID}).Return([]*models.Task{
			{ID: uuid.New(), BranchID: branchID, Status: models.TaskStatusDone, Labels: []string{"backend"}},
		}, nil)

		result, err := env.svc.Rebalance(ctx, projectID)

		require.NoError(t, err)
		assert.Empty(t, result.Moves)
		assert.Equal(t, 1, result.Examined)
		env.branches.AssertNotCalled(t, "SetAssignedAgent")
	})

	t.Run("unowned branches are skipped", func(t *testing.T) {
		env := newAgentEnv()

		env.agents.On("List", ctx, repository.AgentFilter{ProjectID: projectID}).Return([]*models.Agent{}, nil)
		env.branches.On("List", ctx, repository.BranchFilter{ProjectID: projectID}).Return([]*models.Branch{
			{ID: uuid.New(), ProjectID: projectID},
		}, nil)

		result, err := env.svc.Rebalance(ctx, projectID)

		require.NoError(t, err)
		assert.Zero(t, result.Examined)
	})
}

func TestPickLeastLoaded(t *testing.T) {
	available := func(id string, load, max int, caps ...string) *models.Agent {
		return &models.Agent{ID: id, Status: models.AgentStatusAvailable, CurrentWorkload: load, MaxConcurrentTasks: max, Capabilities: caps}
	}

	t.Run("never picks the current owner", func(t *testing.T) {
		agents := []*models.Agent{available("owner", 0, 5, "backend")}
		assert.Nil(t, pickLeastLoaded(agents, []string{"backend"}, "owner"))
	})

	t.Run("prefers the lower load factor", func(t *testing.T) {
		agents := []*models.Agent{
			available("half", 2, 4, "backend"),
			available("quarter", 1, 4, "backend"),
		}
		assert.Equal(t, "quarter", pickLeastLoaded(agents, []string{"backend"}, "owner").ID)
	})

	t.Run("ties break on id for a stable outcome", func(t *testing.T) {
		agents := []*models.Agent{
			available("bravo", 1, 4, "backend"),
			available("alpha", 1, 4, "backend"),
		}
		assert.Equal(t, "alpha", pickLeastLoaded(agents, []string{"backend"}, "owner").ID)
	})

	t.Run("saturated candidates are out", func(t *testing.T) {
		agents := []*models.Agent{available("full", 4, 4, "backend")}
		assert.Nil(t, pickLeastLoaded(agents, []string{"backend"}, "owner"))
	})
}
