package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/models"
)

// TxOptions configures transaction behavior.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// IsolationLevel represents transaction isolation levels.
type IsolationLevel int

const (
	IsolationDefault IsolationLevel = iota
	IsolationReadUncommitted
	IsolationReadCommitted
	IsolationRepeatableRead
	IsolationSerializable
)

// ContextKey identifies one tier record.
type ContextKey struct {
	Level models.ContextLevel
	ID    string
}

// TaskFilter narrows task listings. Zero values mean "any".
type TaskFilter struct {
	BranchID  *uuid.UUID
	ProjectID *uuid.UUID
	Status    models.TaskStatus
	Priority  models.Priority
	Assignee  string
	Label     string
	Overdue   bool

	// Query matches title and description case-insensitively.
	Query string

	DueBefore *time.Time
	DueAfter  *time.Time

	Limit  int
	Offset int
}

// BranchFilter narrows branch listings.
type BranchFilter struct {
	ProjectID uuid.UUID
	Status    models.BranchStatus
	AgentID   string
}

// ProjectFilter narrows project listings.
type ProjectFilter struct {
	UserID string
	Status models.ProjectStatus
	Limit  int
	Offset int
}

// AgentFilter narrows agent listings.
type AgentFilter struct {
	ProjectID  uuid.UUID
	Status     models.AgentStatus
	Capability string
}

// InsightFilter narrows insight listings for a context.
type InsightFilter struct {
	Category       string
	MinImportance  models.InsightImportance
	IncludeExpired bool
	Limit          int
}

// BranchStatistics is one row of the branch_task_statistics view.
type BranchStatistics struct {
	BranchID           uuid.UUID `json:"branch_id" db:"branch_id"`
	ProjectID          uuid.UUID `json:"project_id" db:"project_id"`
	Name               string    `json:"name" db:"name"`
	TaskCount          int       `json:"task_count" db:"task_count"`
	CompletedTaskCount int       `json:"completed_task_count" db:"completed_task_count"`
	TodoCount          int       `json:"todo_count" db:"todo_count"`
	InProgressCount    int       `json:"in_progress_count" db:"in_progress_count"`
	ReviewCount        int       `json:"review_count" db:"review_count"`
	TestingCount       int       `json:"testing_count" db:"testing_count"`
	BlockedCount       int       `json:"blocked_count" db:"blocked_count"`
	DoneCount          int       `json:"done_count" db:"done_count"`
	CancelledCount     int       `json:"cancelled_count" db:"cancelled_count"`
	ProgressPercentage float64   `json:"progress_percentage" db:"progress_percentage"`
}

// CacheStatistics is the cache_performance view row.
type CacheStatistics struct {
	TotalEntries       int   `json:"total_entries" db:"total_entries"`
	InvalidatedEntries int   `json:"invalidated_entries" db:"invalidated_entries"`
	ExpiredEntries     int   `json:"expired_entries" db:"expired_entries"`
	TotalHits          int64 `json:"total_hits" db:"total_hits"`
	AvgSizeBytes       int64 `json:"avg_size_bytes" db:"avg_size_bytes"`
	TotalSizeBytes     int64 `json:"total_size_bytes" db:"total_size_bytes"`
}
