package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task or subtask.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusReview     TaskStatus = "review"
	TaskStatusTesting    TaskStatus = "testing"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusArchived   TaskStatus = "archived"
)

// taskTransitions is the closed transition table. done and cancelled are
// terminal except for the explicit reopen path handled by the service.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusTodo:       {TaskStatusInProgress, TaskStatusBlocked, TaskStatusCancelled, TaskStatusArchived},
	TaskStatusInProgress: {TaskStatusReview, TaskStatusTesting, TaskStatusDone, TaskStatusBlocked, TaskStatusCancelled, TaskStatusArchived},
	TaskStatusReview:     {TaskStatusTesting, TaskStatusInProgress, TaskStatusDone, TaskStatusBlocked},
	TaskStatusTesting:    {TaskStatusDone, TaskStatusReview, TaskStatusInProgress, TaskStatusBlocked},
	TaskStatusBlocked:    {TaskStatusTodo, TaskStatusInProgress, TaskStatusCancelled, TaskStatusArchived},
	TaskStatusDone:       {},
	TaskStatusCancelled:  {},
	TaskStatusArchived:   {},
}

// Valid reports whether s is a member of the closed status set.
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// CanTransitionTo reports whether the transition s -> to is allowed.
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusCancelled, TaskStatusArchived:
		return true
	default:
		return false
	}
}

// Task is a unit of work owned by exactly one branch. branch_id is
// immutable after creation. Labels and dependencies live in join tables
// and are loaded alongside the row.
type Task struct {
	ID       uuid.UUID  `json:"id" db:"id"`
	BranchID uuid.UUID  `json:"branch_id" db:"branch_id"`
	Title    string     `json:"title" db:"title"`
	Status   TaskStatus `json:"status" db:"status"`
	Priority Priority   `json:"priority" db:"priority"`

	Description     string     `json:"description,omitempty" db:"description"`
	Details         string     `json:"details,omitempty" db:"details"`
	EstimatedEffort string     `json:"estimated_effort,omitempty" db:"estimated_effort"`
	DueDate         *time.Time `json:"due_date,omitempty" db:"due_date"`
	ContextID       *string    `json:"context_id,omitempty" db:"context_id"`

	Assignees StringList `json:"assignees,omitempty" db:"assignees"`

	// CompletionSummary is required by Complete and cleared by Reopen.
	CompletionSummary string `json:"completion_summary,omitempty" db:"completion_summary"`
	TestingNotes      string `json:"testing_notes,omitempty" db:"testing_notes"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`

	// Computed fields (not stored on the tasks row)
	Labels       []string    `json:"labels,omitempty" db:"-"`
	Dependencies []uuid.UUID `json:"dependencies,omitempty" db:"-"`
	Subtasks     []*Subtask  `json:"subtasks,omitempty" db:"-"`
}

// GetID returns the task ID (implements AggregateRoot)
func (t *Task) GetID() uuid.UUID { return t.ID }

// GetType returns the aggregate type (implements AggregateRoot)
func (t *Task) GetType() string { return "Task" }

// GetVersion returns the version (implements AggregateRoot)
func (t *Task) GetVersion() int { return t.Version }

// IsTerminal reports whether the task is in a terminal state.
func (t *Task) IsTerminal() bool { return t.Status.IsTerminal() }

// IsOverdue reports whether the task has an elapsed due date and is not
// yet terminal.
func (t *Task) IsOverdue() bool {
	if t.DueDate == nil || t.IsTerminal() {
		return false
	}
	return time.Now().After(*t.DueDate)
}

// HasAssignee reports whether agentID appears in the assignee set.
func (t *Task) HasAssignee(agentID string) bool {
	return t.Assignees.Contains(agentID)
}

// DependencyType classifies a task dependency edge.
type DependencyType string

const (
	DependencyBlocks  DependencyType = "blocks"
	DependencyRelated DependencyType = "related"
)

// TaskDependency is an intra-project dependency edge: task waits on
// depends_on. Self-edges are forbidden and the edge set must stay acyclic.
type TaskDependency struct {
	TaskID          uuid.UUID      `json:"task_id" db:"task_id"`
	DependsOnTaskID uuid.UUID      `json:"depends_on_task_id" db:"depends_on_task_id"`
	Type            DependencyType `json:"type" db:"dependency_type"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// CrossBranchDependency is a dependency recorded at project level between
// tasks in different branches. (dependent, prerequisite) is unique.
type CrossBranchDependency struct {
	ProjectID          uuid.UUID `json:"project_id" db:"project_id"`
	DependentTaskID    uuid.UUID `json:"dependent_task_id" db:"dependent_task_id"`
	PrerequisiteTaskID uuid.UUID `json:"prerequisite_task_id" db:"prerequisite_task_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// Label is a canonical slug with trigger-maintained usage count.
type Label struct {
	ID         int64  `json:"id" db:"id"`
	Slug       string `json:"slug" db:"slug"`
	Category   string `json:"category,omitempty" db:"category"`
	UsageCount int    `json:"usage_count" db:"usage_count"`
}
