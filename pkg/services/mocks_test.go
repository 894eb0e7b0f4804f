package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// testConfig returns a ServiceConfig with noop observability, suitable
// for exercising service logic in isolation.
func testConfig() ServiceConfig {
	return ServiceConfig{}.withDefaults()
}

// Mock repositories

type mockProjectRepo struct {
	mock.Mock
}

func (m *mockProjectRepo) Create(ctx context.Context, project *models.Project) error {
	return m.Called(ctx, project).Error(0)
}

func (m *mockProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *mockProjectRepo) GetByName(ctx context.Context, userID, name string) (*models.Project, error) {
	args := m.Called(ctx, userID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *mockProjectRepo) List(ctx context.Context, filter repository.ProjectFilter) ([]*models.Project, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Project), args.Error(1)
}

func (m *mockProjectRepo) Update(ctx context.Context, project *models.Project) error {
	return m.Called(ctx, project).Error(0)
}

func (m *mockProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type mockBranchRepo struct {
	mock.Mock
}

func (m *mockBranchRepo) Create(ctx context.Context, branch *models.Branch) error {
	return m.Called(ctx, branch).Error(0)
}

func (m *mockBranchRepo) Get(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Branch), args.Error(1)
}

func (m *mockBranchRepo) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error) {
	args := m.Called(ctx, projectID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Branch), args.Error(1)
}

func (m *mockBranchRepo) List(ctx context.Context, filter repository.BranchFilter) ([]*models.Branch, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Branch), args.Error(1)
}

func (m *mockBranchRepo) Update(ctx context.Context, branch *models.Branch) error {
	return m.Called(ctx, branch).Error(0)
}

func (m *mockBranchRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BranchStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockBranchRepo) SetAssignedAgent(ctx context.Context, id uuid.UUID, agentID *string) error {
	return m.Called(ctx, id, agentID).Error(0)
}

func (m *mockBranchRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBranchRepo) Statistics(ctx context.Context, projectID uuid.UUID) ([]*repository.BranchStatistics, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.BranchStatistics), args.Error(1)
}

func (m *mockBranchRepo) StatisticsFor(ctx context.Context, branchID uuid.UUID) (*repository.BranchStatistics, error) {
	args := m.Called(ctx, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.BranchStatistics), args.Error(1)
}

type mockTaskRepo struct {
	mock.Mock
}

func (m *mockTaskRepo) Create(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTaskRepo) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *mockTaskRepo) List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Task), args.Error(1)
}

func (m *mockTaskRepo) Update(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockTaskRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *mockTaskRepo) Complete(ctx context.Context, id uuid.UUID, from models.TaskStatus, summary, testingNotes string) error {
	return m.Called(ctx, id, from, summary, testingNotes).Error(0)
}

func (m *mockTaskRepo) Reopen(ctx context.Context, id uuid.UUID, from models.TaskStatus) error {
	return m.Called(ctx, id, from).Error(0)
}

func (m *mockTaskRepo) SetAssignees(ctx context.Context, id uuid.UUID, assignees models.StringList) error {
	return m.Called(ctx, id, assignees).Error(0)
}

func (m *mockTaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockTaskRepo) ReadyTasks(ctx context.Context, branchID uuid.UUID, limit int) ([]*models.Task, error) {
	args := m.Called(ctx, branchID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Task), args.Error(1)
}

func (m *mockTaskRepo) BlockedSummary(ctx context.Context, branchID uuid.UUID) (map[uuid.UUID][]uuid.UUID, error) {
	args := m.Called(ctx, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID][]uuid.UUID), args.Error(1)
}

type mockSubtaskRepo struct {
	mock.Mock
}

func (m *mockSubtaskRepo) Create(ctx context.Context, subtask *models.Subtask) error {
	return m.Called(ctx, subtask).Error(0)
}

func (m *mockSubtaskRepo) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subtask), args.Error(1)
}

func (m *mockSubtaskRepo) ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Subtask, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Subtask), args.Error(1)
}

func (m *mockSubtaskRepo) Update(ctx context.Context, subtask *models.Subtask) error {
	return m.Called(ctx, subtask).Error(0)
}

func (m *mockSubtaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSubtaskRepo) Progress(ctx context.Context, taskID uuid.UUID) (*models.SubtaskProgress, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubtaskProgress), args.Error(1)
}

type mockGraphRepo struct {
	mock.Mock
}

func (m *mockGraphRepo) AddDependency(ctx context.Context, dep *models.TaskDependency) error {
	return m.Called(ctx, dep).Error(0)
}

func (m *mockGraphRepo) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID) error {
	return m.Called(ctx, taskID, dependsOnTaskID).Error(0)
}

func (m *mockGraphRepo) DependenciesOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TaskDependency), args.Error(1)
}

func (m *mockGraphRepo) DependentsOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TaskDependency), args.Error(1)
}

func (m *mockGraphRepo) IncompleteBlockers(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockGraphRepo) ProjectEdges(ctx context.Context, projectID uuid.UUID) ([][2]uuid.UUID, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][2]uuid.UUID), args.Error(1)
}

func (m *mockGraphRepo) AddCrossBranchDependency(ctx context.Context, dep *models.CrossBranchDependency) error {
	return m.Called(ctx, dep).Error(0)
}

func (m *mockGraphRepo) CrossBranchDependenciesOf(ctx context.Context, projectID uuid.UUID) ([]*models.CrossBranchDependency, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.CrossBranchDependency), args.Error(1)
}

func (m *mockGraphRepo) EnsureLabel(ctx context.Context, slug, category string) (*models.Label, error) {
	args := m.Called(ctx, slug, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Label), args.Error(1)
}

func (m *mockGraphRepo) AttachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error {
	return m.Called(ctx, taskID, labelID).Error(0)
}

func (m *mockGraphRepo) DetachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error {
	return m.Called(ctx, taskID, labelID).Error(0)
}

func (m *mockGraphRepo) LabelsForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Label, error) {
	args := m.Called(ctx, taskID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Label), args.Error(1)
}

func (m *mockGraphRepo) GetLabel(ctx context.Context, slug string) (*models.Label, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Label), args.Error(1)
}

func (m *mockGraphRepo) ListLabels(ctx context.Context, limit int) ([]*models.Label, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Label), args.Error(1)
}

type mockAgentRepo struct {
	mock.Mock
}

func (m *mockAgentRepo) Register(ctx context.Context, agent *models.Agent) error {
	return m.Called(ctx, agent).Error(0)
}

func (m *mockAgentRepo) Get(ctx context.Context, projectID uuid.UUID, agentID string) (*models.Agent, error) {
	args := m.Called(ctx, projectID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Agent), args.Error(1)
}

func (m *mockAgentRepo) List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Agent), args.Error(1)
}

func (m *mockAgentRepo) Update(ctx context.Context, agent *models.Agent) error {
	return m.Called(ctx, agent).Error(0)
}

func (m *mockAgentRepo) SetStatus(ctx context.Context, projectID uuid.UUID, agentID string, status models.AgentStatus) error {
	return m.Called(ctx, projectID, agentID, status).Error(0)
}

func (m *mockAgentRepo) Unregister(ctx context.Context, projectID uuid.UUID, agentID string) error {
	return m.Called(ctx, projectID, agentID).Error(0)
}

func (m *mockAgentRepo) AcquireSlot(ctx context.Context, projectID uuid.UUID, agentID string) error {
	return m.Called(ctx, projectID, agentID).Error(0)
}

func (m *mockAgentRepo) ReleaseSlot(ctx context.Context, projectID uuid.UUID, agentID string, markCompleted bool) error {
	return m.Called(ctx, projectID, agentID, markCompleted).Error(0)
}

func (m *mockAgentRepo) AssignBranch(ctx context.Context, assignment *models.AgentBranchAssignment) error {
	return m.Called(ctx, assignment).Error(0)
}

func (m *mockAgentRepo) UnassignBranch(ctx context.Context, agentID string, branchID uuid.UUID) error {
	return m.Called(ctx, agentID, branchID).Error(0)
}

func (m *mockAgentRepo) BranchesFor(ctx context.Context, projectID uuid.UUID, agentID string) ([]uuid.UUID, error) {
	args := m.Called(ctx, projectID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockAgentRepo) AgentsForBranch(ctx context.Context, branchID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, branchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockAgentRepo) Workloads(ctx context.Context, projectID uuid.UUID) ([]*models.AgentWorkload, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AgentWorkload), args.Error(1)
}

type mockContextRepo struct {
	mock.Mock
}

func (m *mockContextRepo) Upsert(ctx context.Context, record *models.ContextRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockContextRepo) Get(ctx context.Context, level models.ContextLevel, id string) (*models.ContextRecord, error) {
	args := m.Called(ctx, level, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextRecord), args.Error(1)
}

func (m *mockContextRepo) GetMany(ctx context.Context, keys []repository.ContextKey) ([]*models.ContextRecord, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextRecord), args.Error(1)
}

func (m *mockContextRepo) Update(ctx context.Context, record *models.ContextRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockContextRepo) Delete(ctx context.Context, level models.ContextLevel, id string) error {
	return m.Called(ctx, level, id).Error(0)
}

type mockDelegationRepo struct {
	mock.Mock
}

func (m *mockDelegationRepo) Enqueue(ctx context.Context, d *models.ContextDelegation) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDelegationRepo) Get(ctx context.Context, id uuid.UUID) (*models.ContextDelegation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextDelegation), args.Error(1)
}

func (m *mockDelegationRepo) PendingTargets(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockDelegationRepo) PendingForTarget(ctx context.Context, targetLevel models.ContextLevel, targetID string, limit int) ([]*models.ContextDelegation, error) {
	args := m.Called(ctx, targetLevel, targetID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextDelegation), args.Error(1)
}

func (m *mockDelegationRepo) MarkProcessed(ctx context.Context, id uuid.UUID, approved bool, status models.ImplementationStatus, rejectedReason string, processedBy string) error {
	return m.Called(ctx, id, approved, status, rejectedReason, processedBy).Error(0)
}

func (m *mockDelegationRepo) ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.ContextDelegation, error) {
	args := m.Called(ctx, sourceLevel, sourceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextDelegation), args.Error(1)
}

type mockInsightRepo struct {
	mock.Mock
}

func (m *mockInsightRepo) Add(ctx context.Context, insight *models.ContextInsight) error {
	return m.Called(ctx, insight).Error(0)
}

func (m *mockInsightRepo) ListForContext(ctx context.Context, level models.ContextLevel, contextID string, filter repository.InsightFilter) ([]*models.ContextInsight, error) {
	args := m.Called(ctx, level, contextID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextInsight), args.Error(1)
}

func (m *mockInsightRepo) TouchAccess(ctx context.Context, ids []uuid.UUID) error {
	return m.Called(ctx, ids).Error(0)
}

type mockInheritanceCacheRepo struct {
	mock.Mock
}

func (m *mockInheritanceCacheRepo) Get(ctx context.Context, contextID string, level models.ContextLevel) (*models.InheritanceCacheEntry, error) {
	args := m.Called(ctx, contextID, level)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InheritanceCacheEntry), args.Error(1)
}

func (m *mockInheritanceCacheRepo) Put(ctx context.Context, entry *models.InheritanceCacheEntry) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *mockInheritanceCacheRepo) Invalidate(ctx context.Context, contextIDs []string, reason string) (int, error) {
	args := m.Called(ctx, contextIDs, reason)
	return args.Int(0), args.Error(1)
}

func (m *mockInheritanceCacheRepo) InvalidateScope(ctx context.Context, level models.ContextLevel, id, reason string) ([]string, error) {
	args := m.Called(ctx, level, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockInheritanceCacheRepo) TouchHit(ctx context.Context, contextID string, level models.ContextLevel) error {
	return m.Called(ctx, contextID, level).Error(0)
}

func (m *mockInheritanceCacheRepo) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	args := m.Called(ctx, before)
	return args.Int(0), args.Error(1)
}

func (m *mockInheritanceCacheRepo) Statistics(ctx context.Context) (*repository.CacheStatistics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CacheStatistics), args.Error(1)
}

type mockPropagationRepo struct {
	mock.Mock
}

func (m *mockPropagationRepo) Record(ctx context.Context, rec *models.PropagationRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *mockPropagationRepo) Complete(ctx context.Context, id string, status models.PropagationStatus, affected []string, durationMS int64, errMsg string) error {
	return m.Called(ctx, id, status, affected, durationMS, errMsg).Error(0)
}

func (m *mockPropagationRepo) ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.PropagationRecord, error) {
	args := m.Called(ctx, sourceLevel, sourceID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PropagationRecord), args.Error(1)
}

type mockCoordinationRepo struct {
	mock.Mock
}

func (m *mockCoordinationRepo) CreateHandoff(ctx context.Context, h *models.WorkHandoff) error {
	return m.Called(ctx, h).Error(0)
}

func (m *mockCoordinationRepo) GetHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkHandoff), args.Error(1)
}

func (m *mockCoordinationRepo) TransitionHandoff(ctx context.Context, id uuid.UUID, from, to models.HandoffStatus) error {
	return m.Called(ctx, id, from, to).Error(0)
}

func (m *mockCoordinationRepo) ListHandoffs(ctx context.Context, agentID string, status models.HandoffStatus, limit int) ([]*models.WorkHandoff, error) {
	args := m.Called(ctx, agentID, status, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkHandoff), args.Error(1)
}

func (m *mockCoordinationRepo) CreateConflict(ctx context.Context, c *models.ConflictRecord) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockCoordinationRepo) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConflictRecord), args.Error(1)
}

func (m *mockCoordinationRepo) ResolveConflict(ctx context.Context, id uuid.UUID, strategy string, details models.JSONMap) error {
	return m.Called(ctx, id, strategy, details).Error(0)
}

func (m *mockCoordinationRepo) ListConflicts(ctx context.Context, onlyOpen bool, limit int) ([]*models.ConflictRecord, error) {
	args := m.Called(ctx, onlyOpen, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ConflictRecord), args.Error(1)
}

func (m *mockCoordinationRepo) SaveMessage(ctx context.Context, msg *models.AgentCommunication) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockCoordinationRepo) ListMessages(ctx context.Context, agentID string, taskID *uuid.UUID, limit int) ([]*models.AgentCommunication, error) {
	args := m.Called(ctx, agentID, taskID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AgentCommunication), args.Error(1)
}

// mockContextService stands in for the context engine when testing the
// services that write into it.
type mockContextService struct {
	mock.Mock
}

func (m *mockContextService) Resolve(ctx context.Context, input ResolveContextInput) (*models.ResolvedContext, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ResolvedContext), args.Error(1)
}

func (m *mockContextService) Update(ctx context.Context, input UpdateContextInput) (*models.ContextRecord, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextRecord), args.Error(1)
}

func (m *mockContextService) Delegate(ctx context.Context, input DelegateContextInput) (*models.ContextDelegation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextDelegation), args.Error(1)
}

func (m *mockContextService) AddInsight(ctx context.Context, input AddInsightInput) (*models.ContextInsight, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextInsight), args.Error(1)
}

func (m *mockContextService) ListInsights(ctx context.Context, level models.ContextLevel, contextID string, filter repository.InsightFilter) ([]*models.ContextInsight, error) {
	args := m.Called(ctx, level, contextID, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextInsight), args.Error(1)
}

func (m *mockContextService) ListDelegations(ctx context.Context, level models.ContextLevel, contextID string, limit int) ([]*models.ContextDelegation, error) {
	args := m.Called(ctx, level, contextID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ContextDelegation), args.Error(1)
}

func (m *mockContextService) ApproveDelegation(ctx context.Context, id uuid.UUID, approve bool, reason, processedBy string) (*models.ContextDelegation, error) {
	args := m.Called(ctx, id, approve, reason, processedBy)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ContextDelegation), args.Error(1)
}

func (m *mockContextService) Invalidate(ctx context.Context, level models.ContextLevel, id, reason string) ([]string, error) {
	args := m.Called(ctx, level, id, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockContextService) CacheStatistics(ctx context.Context) (*repository.CacheStatistics, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CacheStatistics), args.Error(1)
}
