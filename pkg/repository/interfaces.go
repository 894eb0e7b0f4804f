package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/models"
)

// ProjectRepository persists projects.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetByName(ctx context.Context, userID, name string) (*models.Project, error)
	List(ctx context.Context, filter ProjectFilter) ([]*models.Project, error)
	// Update applies field changes with an optimistic version check.
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// BranchRepository persists branches. Counter columns are maintained by
// database triggers and must never be written directly.
type BranchRepository interface {
	Create(ctx context.Context, branch *models.Branch) error
	Get(ctx context.Context, id uuid.UUID) (*models.Branch, error)
	GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error)
	List(ctx context.Context, filter BranchFilter) ([]*models.Branch, error)
	Update(ctx context.Context, branch *models.Branch) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.BranchStatus) error
	SetAssignedAgent(ctx context.Context, id uuid.UUID, agentID *string) error
	Delete(ctx context.Context, id uuid.UUID) error

	Statistics(ctx context.Context, projectID uuid.UUID) ([]*BranchStatistics, error)
	StatisticsFor(ctx context.Context, branchID uuid.UUID) (*BranchStatistics, error)
}

// TaskRepository persists tasks. Get and List hydrate labels and
// dependencies from their join tables.
type TaskRepository interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	Update(ctx context.Context, task *models.Task) error

	// Transition performs a compare-and-set status change. It returns
	// ErrOptimisticLock when the row exists but is no longer in from.
	Transition(ctx context.Context, id uuid.UUID, from, to models.TaskStatus) error

	// Complete marks the task done, recording the summary and stamping
	// completed_at, conditioned on the current status.
	Complete(ctx context.Context, id uuid.UUID, from models.TaskStatus, summary, testingNotes string) error

	// Reopen returns a done or cancelled task to todo and clears the
	// completion record.
	Reopen(ctx context.Context, id uuid.UUID, from models.TaskStatus) error

	SetAssignees(ctx context.Context, id uuid.UUID, assignees models.StringList) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ReadyTasks returns tasks in the branch eligible for next-task
	// selection, already ordered by the composite scheduling key.
	ReadyTasks(ctx context.Context, branchID uuid.UUID, limit int) ([]*models.Task, error)

	// BlockedSummary explains why no task was ready: per-task incomplete
	// blocker counts for the branch's open tasks.
	BlockedSummary(ctx context.Context, branchID uuid.UUID) (map[uuid.UUID][]uuid.UUID, error)
}

// SubtaskRepository persists subtasks of a task.
type SubtaskRepository interface {
	Create(ctx context.Context, subtask *models.Subtask) error
	Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error)
	ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Subtask, error)
	Update(ctx context.Context, subtask *models.Subtask) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Progress aggregates the task's subtasks through the
	// task_subtask_progress view.
	Progress(ctx context.Context, taskID uuid.UUID) (*models.SubtaskProgress, error)
}

// GraphRepository maintains dependency edges and labels.
type GraphRepository interface {
	// AddDependency inserts an edge task -> dependsOn. The database
	// trigger backstops cycle detection; callers should run the Go-side
	// check first for a cheaper rejection.
	AddDependency(ctx context.Context, dep *models.TaskDependency) error
	RemoveDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID) error
	DependenciesOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error)
	DependentsOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error)

	// IncompleteBlockers lists blocks-type prerequisites of the task not
	// yet done.
	IncompleteBlockers(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error)

	// ProjectEdges returns every dependency edge whose endpoints belong
	// to the project, for whole-graph cycle checks.
	ProjectEdges(ctx context.Context, projectID uuid.UUID) ([][2]uuid.UUID, error)

	AddCrossBranchDependency(ctx context.Context, dep *models.CrossBranchDependency) error
	CrossBranchDependenciesOf(ctx context.Context, projectID uuid.UUID) ([]*models.CrossBranchDependency, error)

	// EnsureLabel upserts the canonical slug and returns its row.
	EnsureLabel(ctx context.Context, slug, category string) (*models.Label, error)
	AttachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error
	DetachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error
	LabelsForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Label, error)
	GetLabel(ctx context.Context, slug string) (*models.Label, error)
	ListLabels(ctx context.Context, limit int) ([]*models.Label, error)
}

// AgentRepository persists agents, their branch assignments, and the
// guarded workload counters.
type AgentRepository interface {
	// Register upserts by (id, project_id).
	Register(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, projectID uuid.UUID, agentID string) (*models.Agent, error)
	List(ctx context.Context, filter AgentFilter) ([]*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	SetStatus(ctx context.Context, projectID uuid.UUID, agentID string, status models.AgentStatus) error
	Unregister(ctx context.Context, projectID uuid.UUID, agentID string) error

	// AcquireSlot increments current_workload iff headroom exists,
	// returning ErrCapacity otherwise.
	AcquireSlot(ctx context.Context, projectID uuid.UUID, agentID string) error
	// ReleaseSlot decrements current_workload, never below zero. The
	// markCompleted flag additionally bumps completed_tasks.
	ReleaseSlot(ctx context.Context, projectID uuid.UUID, agentID string, markCompleted bool) error

	AssignBranch(ctx context.Context, assignment *models.AgentBranchAssignment) error
	UnassignBranch(ctx context.Context, agentID string, branchID uuid.UUID) error
	BranchesFor(ctx context.Context, projectID uuid.UUID, agentID string) ([]uuid.UUID, error)
	AgentsForBranch(ctx context.Context, branchID uuid.UUID) ([]string, error)

	// Workloads reads the agent_workload_summary view for the project.
	Workloads(ctx context.Context, projectID uuid.UUID) ([]*models.AgentWorkload, error)
}

// ContextRepository persists per-tier context records. The tier chain
// itself derives from entity relations, so multi-tier reads go through
// GetMany with keys the hierarchy resolver computed.
type ContextRepository interface {
	// Upsert inserts the record or, when it already exists, applies the
	// given payload with version+1. Concurrent writers are serialized by
	// the version check.
	Upsert(ctx context.Context, record *models.ContextRecord) error
	Get(ctx context.Context, level models.ContextLevel, id string) (*models.ContextRecord, error)
	// GetMany fetches the records for the given keys in one query.
	// Missing tiers are simply absent from the result.
	GetMany(ctx context.Context, keys []ContextKey) ([]*models.ContextRecord, error)
	Update(ctx context.Context, record *models.ContextRecord) error
	Delete(ctx context.Context, level models.ContextLevel, id string) error
}

// DelegationRepository persists the upward delegation queue. Pending
// delegations for one target are consumed strictly in insertion order.
type DelegationRepository interface {
	Enqueue(ctx context.Context, d *models.ContextDelegation) error
	Get(ctx context.Context, id uuid.UUID) (*models.ContextDelegation, error)
	// PendingTargets lists distinct targets that have unprocessed
	// delegations, oldest first.
	PendingTargets(ctx context.Context, limit int) ([]string, error)
	// PendingForTarget returns unprocessed delegations for one target in
	// insertion order.
	PendingForTarget(ctx context.Context, targetLevel models.ContextLevel, targetID string, limit int) ([]*models.ContextDelegation, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, approved bool, status models.ImplementationStatus, rejectedReason string, processedBy string) error
	ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.ContextDelegation, error)
}

// InsightRepository persists the append-only insight streams.
type InsightRepository interface {
	Add(ctx context.Context, insight *models.ContextInsight) error
	ListForContext(ctx context.Context, level models.ContextLevel, contextID string, filter InsightFilter) ([]*models.ContextInsight, error)
	// TouchAccess bumps access counters best-effort; failures are logged,
	// not returned.
	TouchAccess(ctx context.Context, ids []uuid.UUID) error
}

// InheritanceCacheRepository persists resolved-context cache entries.
type InheritanceCacheRepository interface {
	Get(ctx context.Context, contextID string, level models.ContextLevel) (*models.InheritanceCacheEntry, error)
	Put(ctx context.Context, entry *models.InheritanceCacheEntry) error

	// Invalidate marks entries for the given context ids, returning the
	// number of rows touched.
	Invalidate(ctx context.Context, contextIDs []string, reason string) (int, error)

	// InvalidateScope marks every live entry at or below (level, id),
	// fanning out over the entity tables: a project update reaches the
	// cache entries of its branches and tasks even where those tiers
	// never wrote a context record. Returns the affected context ids so
	// callers can evict in-process copies and audit the cascade.
	InvalidateScope(ctx context.Context, level models.ContextLevel, id, reason string) ([]string, error)

	TouchHit(ctx context.Context, contextID string, level models.ContextLevel) error
	PruneExpired(ctx context.Context, before time.Time) (int, error)
	Statistics(ctx context.Context) (*CacheStatistics, error)
}

// PropagationRepository records invalidation cascades for audit.
type PropagationRepository interface {
	Record(ctx context.Context, rec *models.PropagationRecord) error
	// Complete closes a pending record with the contexts the cascade
	// actually reached.
	Complete(ctx context.Context, id string, status models.PropagationStatus, affected []string, durationMS int64, errMsg string) error
	ListForSource(ctx context.Context, sourceLevel models.ContextLevel, sourceID string, limit int) ([]*models.PropagationRecord, error)
}

// CoordinationRepository persists handoffs, conflicts, and messages.
type CoordinationRepository interface {
	CreateHandoff(ctx context.Context, h *models.WorkHandoff) error
	GetHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error)
	// TransitionHandoff performs a compare-and-set status change.
	TransitionHandoff(ctx context.Context, id uuid.UUID, from, to models.HandoffStatus) error
	ListHandoffs(ctx context.Context, agentID string, status models.HandoffStatus, limit int) ([]*models.WorkHandoff, error)

	CreateConflict(ctx context.Context, c *models.ConflictRecord) error
	GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictRecord, error)
	ResolveConflict(ctx context.Context, id uuid.UUID, strategy string, details models.JSONMap) error
	ListConflicts(ctx context.Context, onlyOpen bool, limit int) ([]*models.ConflictRecord, error)

	SaveMessage(ctx context.Context, m *models.AgentCommunication) error
	ListMessages(ctx context.Context, agentID string, taskID *uuid.UUID, limit int) ([]*models.AgentCommunication, error)
}

// IdempotencyRepository persists replay records for exact-repeat
// detection at the tool boundary.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (models.JSONMap, bool, error)
	Put(ctx context.Context, key, operation string, response models.JSONMap, expiresAt time.Time) error
	PruneExpired(ctx context.Context) (int, error)
}
