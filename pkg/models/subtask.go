package models

import (
	"time"

	"github.com/google/uuid"
)

// Subtask is a child work item of a task. Subtask progress rolls up into
// the parent task as an equal-weight average; parent completion is never
// automatic.
type Subtask struct {
	ID       uuid.UUID  `json:"id" db:"id"`
	TaskID   uuid.UUID  `json:"task_id" db:"task_id"`
	Title    string     `json:"title" db:"title"`
	Status   TaskStatus `json:"status" db:"status"`
	Priority Priority   `json:"priority" db:"priority"`

	Description     string     `json:"description,omitempty" db:"description"`
	Assignees       StringList `json:"assignees,omitempty" db:"assignees"`
	EstimatedEffort string     `json:"estimated_effort,omitempty" db:"estimated_effort"`

	// ProgressPercentage is clamped to [0,100] by the service.
	ProgressPercentage int        `json:"progress_percentage" db:"progress_percentage"`
	ProgressNotes      string     `json:"progress_notes,omitempty" db:"progress_notes"`
	Blockers           StringList `json:"blockers,omitempty" db:"blockers"`

	CompletionSummary string     `json:"completion_summary,omitempty" db:"completion_summary"`
	ImpactOnParent    string     `json:"impact_on_parent,omitempty" db:"impact_on_parent"`
	InsightsFound     StringList `json:"insights_found,omitempty" db:"insights_found"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`
}

// GetID returns the subtask ID (implements AggregateRoot)
func (s *Subtask) GetID() uuid.UUID { return s.ID }

// GetType returns the aggregate type (implements AggregateRoot)
func (s *Subtask) GetType() string { return "Subtask" }

// GetVersion returns the version (implements AggregateRoot)
func (s *Subtask) GetVersion() int { return s.Version }

// IsDone reports whether the subtask has been completed.
func (s *Subtask) IsDone() bool { return s.Status == TaskStatusDone }

// SubtaskProgress is the aggregated view of a task's subtasks, built by
// the scheduler for parent progress reporting.
type SubtaskProgress struct {
	TaskID          uuid.UUID `json:"task_id" db:"task_id"`
	SubtaskCount    int       `json:"subtask_count" db:"subtask_count"`
	CompletedCount  int       `json:"completed_count" db:"completed_count"`
	AverageProgress float64   `json:"average_progress" db:"average_progress"`
}
