package models

import (
	"time"

	"github.com/google/uuid"
)

// BranchStatus represents the aggregate state of a branch (task tree).
type BranchStatus string

const (
	BranchStatusTodo     BranchStatus = "todo"
	BranchStatusActive   BranchStatus = "active"
	BranchStatusBlocked  BranchStatus = "blocked"
	BranchStatusDone     BranchStatus = "done"
	BranchStatusArchived BranchStatus = "archived"
)

// MainBranchName is the protected default branch created with a project.
const MainBranchName = "main"

// Branch is a named task tree inside a project: the unit of agent
// ownership and the scope of next-task selection. Name is unique within
// the project. task_count and completed_task_count are maintained by
// database triggers on task writes.
type Branch struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	ProjectID       uuid.UUID    `json:"project_id" db:"project_id"`
	Name            string       `json:"name" db:"name"`
	Description     string       `json:"description,omitempty" db:"description"`
	AssignedAgentID *string      `json:"assigned_agent_id,omitempty" db:"assigned_agent_id"`
	Priority        Priority     `json:"priority" db:"priority"`
	Status          BranchStatus `json:"status" db:"status"`

	TaskCount          int `json:"task_count" db:"task_count"`
	CompletedTaskCount int `json:"completed_task_count" db:"completed_task_count"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`
}

// GetID returns the branch ID (implements AggregateRoot)
func (b *Branch) GetID() uuid.UUID { return b.ID }

// GetType returns the aggregate type (implements AggregateRoot)
func (b *Branch) GetType() string { return "Branch" }

// GetVersion returns the version (implements AggregateRoot)
func (b *Branch) GetVersion() int { return b.Version }

// IsMain reports whether this is the protected main branch.
func (b *Branch) IsMain() bool { return b.Name == MainBranchName }

// Progress returns completion as a percentage in [0,100].
func (b *Branch) Progress() float64 {
	if b.TaskCount == 0 {
		return 0
	}
	return float64(b.CompletedTaskCount) / float64(b.TaskCount) * 100
}
