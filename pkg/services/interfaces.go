package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// ProjectService manages project lifecycle. Creating a project also
// creates its protected main branch and an empty project context record.
type ProjectService interface {
	Create(ctx context.Context, input CreateProjectInput) (*models.Project, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	List(ctx context.Context, filter repository.ProjectFilter) ([]*models.Project, error)
	Update(ctx context.Context, id uuid.UUID, patch UpdateProjectInput) (*models.Project, error)
	Archive(ctx context.Context, id uuid.UUID) (*models.Project, error)
	Delete(ctx context.Context, id uuid.UUID, cascade bool) error
}

// BranchService manages branches (task trees) inside a project.
type BranchService interface {
	Create(ctx context.Context, input CreateBranchInput) (*models.Branch, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Branch, error)
	List(ctx context.Context, filter repository.BranchFilter) ([]*models.Branch, error)
	Update(ctx context.Context, id uuid.UUID, patch UpdateBranchInput) (*models.Branch, error)

	// Delete removes the branch and its tasks, returning the number of
	// tasks deleted. The main branch is protected.
	Delete(ctx context.Context, projectID, branchID uuid.UUID) (int, error)

	Statistics(ctx context.Context, projectID uuid.UUID) ([]*repository.BranchStatistics, error)
}

// TaskService manages the task lifecycle, including the dependency and
// label graph around each task and the workload accounting tied to
// assignee changes.
type TaskService interface {
	Create(ctx context.Context, input CreateTaskInput) (*models.Task, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error)
	Update(ctx context.Context, id uuid.UUID, patch UpdateTaskInput) (*models.Task, error)

	// Complete enforces the completion gate: a non-empty summary, every
	// blocking dependency done, and every subtask done unless forced.
	Complete(ctx context.Context, id uuid.UUID, input CompleteTaskInput) (*models.Task, error)

	// Reopen returns a done or cancelled task to todo within the
	// configured grace window, clearing its completion record.
	Reopen(ctx context.Context, id uuid.UUID) (*models.Task, error)

	Delete(ctx context.Context, id uuid.UUID) error

	AddDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID, depType models.DependencyType) error
	RemoveDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID) error
}

// SubtaskService manages subtasks and rolls their progress up into the
// parent task.
type SubtaskService interface {
	Create(ctx context.Context, input CreateSubtaskInput) (*models.Subtask, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error)
	ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Subtask, error)
	Update(ctx context.Context, id uuid.UUID, patch UpdateSubtaskInput) (*models.Subtask, error)
	Complete(ctx context.Context, id uuid.UUID, input CompleteSubtaskInput) (*models.Subtask, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Progress returns the equal-weight aggregate of the task's subtasks.
	Progress(ctx context.Context, taskID uuid.UUID) (*models.SubtaskProgress, error)
}

// SchedulerService selects the next workable task for a branch.
type SchedulerService interface {
	// NextTask picks the highest-ranked ready task, or explains why none
	// is ready. The read runs under a single snapshot transaction.
	NextTask(ctx context.Context, input NextTaskInput) (*NextTaskResult, error)
}

// AgentService manages agent registration, branch assignment, and
// workload rebalancing.
type AgentService interface {
	Register(ctx context.Context, input RegisterAgentInput) (*models.Agent, error)
	Get(ctx context.Context, projectID uuid.UUID, agentID string) (*models.Agent, error)
	List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error)
	Update(ctx context.Context, projectID uuid.UUID, agentID string, patch UpdateAgentInput) (*models.Agent, error)
	Unregister(ctx context.Context, projectID uuid.UUID, agentID string) error

	// AssignToBranch appends to the assignment join table and claims
	// primary ownership only when the branch has no owner yet.
	AssignToBranch(ctx context.Context, projectID uuid.UUID, agentID string, branchID uuid.UUID) error

	// Rebalance moves overloaded branches to the least-loaded capable
	// agent. The result lists the moves applied, deterministic for a
	// given workload snapshot.
	Rebalance(ctx context.Context, projectID uuid.UUID) (*RebalanceResult, error)

	Workloads(ctx context.Context, projectID uuid.UUID) ([]*models.AgentWorkload, error)
}

// CoordinationService manages handoffs, conflicts, and messages between
// agents.
type CoordinationService interface {
	OpenHandoff(ctx context.Context, input OpenHandoffInput) (*models.WorkHandoff, error)
	AcceptHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error)

	// CompleteHandoff closes the handoff and records a task-level insight
	// with category "handoff" so the transfer survives in context.
	CompleteHandoff(ctx context.Context, id uuid.UUID, notes string) (*models.WorkHandoff, error)
	RejectHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error)
	ListHandoffs(ctx context.Context, agentID string, status models.HandoffStatus, limit int) ([]*models.WorkHandoff, error)

	RecordConflict(ctx context.Context, input RecordConflictInput) (*models.ConflictRecord, error)
	ResolveConflict(ctx context.Context, id uuid.UUID, strategy string, details models.JSONMap) (*models.ConflictRecord, error)
	ListConflicts(ctx context.Context, onlyOpen bool, limit int) ([]*models.ConflictRecord, error)

	SendMessage(ctx context.Context, input SendMessageInput) (*models.AgentCommunication, error)
	ListMessages(ctx context.Context, agentID string, taskID *uuid.UUID, limit int) ([]*models.AgentCommunication, error)
}

// ContextService is the context engine: hierarchical resolve, versioned
// updates with propagation, upward delegation, and insight streams.
type ContextService interface {
	Resolve(ctx context.Context, input ResolveContextInput) (*models.ResolvedContext, error)
	Update(ctx context.Context, input UpdateContextInput) (*models.ContextRecord, error)
	Delegate(ctx context.Context, input DelegateContextInput) (*models.ContextDelegation, error)

	AddInsight(ctx context.Context, input AddInsightInput) (*models.ContextInsight, error)
	ListInsights(ctx context.Context, level models.ContextLevel, contextID string, filter repository.InsightFilter) ([]*models.ContextInsight, error)

	ListDelegations(ctx context.Context, level models.ContextLevel, contextID string, limit int) ([]*models.ContextDelegation, error)

	// ApproveDelegation resolves a pending delegation by hand: approved
	// merges the payload into the target with propagation, rejected only
	// records the reason.
	ApproveDelegation(ctx context.Context, id uuid.UUID, approve bool, reason, processedBy string) (*models.ContextDelegation, error)

	// Invalidate marks cache entries at or below (level, id). Returns the
	// affected context ids.
	Invalidate(ctx context.Context, level models.ContextLevel, id, reason string) ([]string, error)

	CacheStatistics(ctx context.Context) (*repository.CacheStatistics, error)
}

// ComplianceService evaluates live data against the system's standing
// invariants and exposes audit trails.
type ComplianceService interface {
	Validate(ctx context.Context, projectID uuid.UUID) (*ComplianceReport, error)
	AuditTrail(ctx context.Context, level models.ContextLevel, id string, limit int) (*AuditTrail, error)
}

// --- Inputs ---

// CreateProjectInput carries the fields for project creation.
type CreateProjectInput struct {
	Name        string
	Description string
	UserID      string
	Metadata    models.JSONMap
}

// UpdateProjectInput patches a project. Nil fields stay unchanged.
type UpdateProjectInput struct {
	Name        *string
	Description *string
	Metadata    models.JSONMap
}

// CreateBranchInput carries the fields for branch creation.
type CreateBranchInput struct {
	ProjectID   uuid.UUID
	Name        string
	Description string
	Priority    models.Priority
}

// UpdateBranchInput patches a branch. Nil fields stay unchanged.
type UpdateBranchInput struct {
	Description *string
	Priority    *models.Priority
	Status      *models.BranchStatus
}

// CreateTaskInput carries the fields for task creation. Labels are
// canonicalized to slugs; dependencies must stay inside the project and
// must not close a cycle.
type CreateTaskInput struct {
	BranchID        uuid.UUID
	Title           string
	Description     string
	Details         string
	Priority        models.Priority
	EstimatedEffort string
	DueDate         *time.Time
	Assignees       []string
	Labels          []string
	Dependencies    []uuid.UUID
}

// UpdateTaskInput patches a task. Nil pointer fields stay unchanged; nil
// slices stay unchanged while empty non-nil slices clear the set.
type UpdateTaskInput struct {
	Title           *string
	Description     *string
	Details         *string
	Status          *models.TaskStatus
	Priority        *models.Priority
	EstimatedEffort *string
	DueDate         *time.Time
	ClearDueDate    bool
	Assignees       []string
	Labels          []string
	Dependencies    []uuid.UUID
}

// CompleteTaskInput finishes a task. Summary is required; Force skips
// the all-subtasks-done precondition but never the dependency gate.
type CompleteTaskInput struct {
	Summary      string
	TestingNotes string
	Force        bool
	CompletedBy  string
}

// CreateSubtaskInput carries the fields for subtask creation.
type CreateSubtaskInput struct {
	TaskID          uuid.UUID
	Title           string
	Description     string
	Priority        models.Priority
	Assignees       []string
	EstimatedEffort string
}

// UpdateSubtaskInput patches a subtask. Progress is clamped to [0,100].
type UpdateSubtaskInput struct {
	Title              *string
	Description        *string
	Status             *models.TaskStatus
	Priority           *models.Priority
	ProgressPercentage *int
	ProgressNotes      *string
	Blockers           []string
	Assignees          []string
}

// CompleteSubtaskInput finishes a subtask and feeds the parent rollup.
type CompleteSubtaskInput struct {
	Summary        string
	ImpactOnParent string
	InsightsFound  []string
}

// NextTaskInput parameterizes next-task selection.
type NextTaskInput struct {
	BranchID        uuid.UUID
	RequestingAgent string
	IncludeContext  bool
}

// RegisterAgentInput carries the fields for agent registration. Register
// upserts on (id, project_id).
type RegisterAgentInput struct {
	ProjectID          uuid.UUID
	AgentID            string
	Name               string
	Description        string
	CallAgent          string
	Capabilities       []string
	Specializations    []string
	MaxConcurrentTasks int
}

// UpdateAgentInput patches an agent. Nil fields stay unchanged.
type UpdateAgentInput struct {
	Name               *string
	Description        *string
	Status             *models.AgentStatus
	Capabilities       []string
	Specializations    []string
	MaxConcurrentTasks *int
}

// OpenHandoffInput starts a work handoff between two agents.
type OpenHandoffInput struct {
	TaskID      uuid.UUID
	FromAgentID string
	ToAgentID   string
	Reason      string
	Data        models.JSONMap
}

// RecordConflictInput files a conflict between agents.
type RecordConflictInput struct {
	TaskID  *uuid.UUID
	Type    string
	Agents  []string
	Details models.JSONMap
}

// SendMessageInput carries an agent-to-agents message.
type SendMessageInput struct {
	FromAgentID string
	ToAgentIDs  []string
	TaskID      *uuid.UUID
	Type        string
	Content     string
	Priority    models.Priority
}

// ResolveContextInput parameterizes a hierarchy resolve.
type ResolveContextInput struct {
	Level        models.ContextLevel
	ContextID    string
	ForceRefresh bool
}

// UpdateContextInput writes a patch into one tier's record. Non-global
// tiers are created on first write; the global singleton must be
// created explicitly with CreateIfMissing.
type UpdateContextInput struct {
	Level     models.ContextLevel
	ContextID string

	// Patch merges into the record's Data. Keys listed in Overrides
	// replace inherited values wholesale during resolution.
	Patch     models.JSONMap
	Overrides models.JSONMap

	DelegationRules     models.JSONMap
	ImplementationNotes models.JSONMap
	DelegationTriggers  models.JSONMap

	InheritanceDisabled *bool
	ForceLocalOnly      *bool

	Propagate        bool
	CreateIfMissing  bool
	PropagationCause string
}

// DelegateContextInput queues knowledge for a strictly higher tier.
type DelegateContextInput struct {
	SourceLevel models.ContextLevel
	SourceID    string
	TargetLevel models.ContextLevel
	TargetID    string

	Data        models.JSONMap
	Reason      string
	TriggerType models.DelegationTrigger
	Confidence  *float64
	CreatedBy   string
}

// AddInsightInput appends to a tier's insight stream.
type AddInsightInput struct {
	Level         models.ContextLevel
	ContextID     string
	Content       string
	Category      string
	Importance    models.InsightImportance
	Confidence    float64
	SourceAgent   string
	SourceType    string
	RelatedTaskID *uuid.UUID
	Actionable    bool
	ExpiresAt     *time.Time
}

// --- Results ---

// SchedulingDiagnostics explains an empty next-task result.
type SchedulingDiagnostics struct {
	OpenTasks     int                 `json:"open_tasks"`
	BlockedTasks  int                 `json:"blocked_tasks"`
	AgentFiltered int                 `json:"agent_filtered"`
	Blockers      map[string][]string `json:"blockers,omitempty"`
	Reason        string              `json:"reason"`
}

// WorkflowGuidance is advisory routing produced as a pure function of
// the selected task.
type WorkflowGuidance struct {
	RecommendedAgent string      `json:"recommended_agent,omitempty"`
	Checklist        []string    `json:"checklist,omitempty"`
	Unblocks         []uuid.UUID `json:"unblocks,omitempty"`
}

// NextTaskResult is the scheduler's answer: a task (possibly nil) plus
// context and guidance when requested.
type NextTaskResult struct {
	Task        *models.Task            `json:"task,omitempty"`
	Context     *models.ResolvedContext `json:"context,omitempty"`
	Guidance    *WorkflowGuidance       `json:"guidance,omitempty"`
	Diagnostics *SchedulingDiagnostics  `json:"diagnostics,omitempty"`
}

// RebalanceMove records one branch ownership change.
type RebalanceMove struct {
	BranchID  uuid.UUID `json:"branch_id"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
}

// RebalanceResult summarizes a rebalance pass.
type RebalanceResult struct {
	Examined int             `json:"examined"`
	Moves    []RebalanceMove `json:"moves"`
}

// ComplianceViolation is one failed invariant check.
type ComplianceViolation struct {
	Rule    string `json:"rule"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// ComplianceReport is the result of validating a project's live data
// against the standing invariants.
type ComplianceReport struct {
	ProjectID  uuid.UUID             `json:"project_id"`
	CheckedAt  time.Time             `json:"checked_at"`
	Checks     int                   `json:"checks"`
	Violations []ComplianceViolation `json:"violations"`
}

// Compliant reports whether every check passed.
func (r *ComplianceReport) Compliant() bool { return len(r.Violations) == 0 }

// AuditTrail bundles the propagation and delegation history of one
// context tier.
type AuditTrail struct {
	Level        models.ContextLevel         `json:"level"`
	ContextID    string                      `json:"context_id"`
	Propagations []*models.PropagationRecord `json:"propagations"`
	Delegations  []*models.ContextDelegation `json:"delegations"`
}
