package models

import (
	"time"

	"github.com/google/uuid"
)

// HandoffStatus tracks the accept/complete lifecycle of a work handoff.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffAccepted  HandoffStatus = "accepted"
	HandoffRejected  HandoffStatus = "rejected"
	HandoffCompleted HandoffStatus = "completed"
)

// WorkHandoff is a structured transfer of responsibility for a task from
// one agent to another. Completing a handoff records a task-level insight
// with category "handoff".
type WorkHandoff struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	TaskID      uuid.UUID     `json:"task_id" db:"task_id"`
	FromAgentID string        `json:"from_agent_id" db:"from_agent_id"`
	ToAgentID   string        `json:"to_agent_id" db:"to_agent_id"`
	Reason      string        `json:"reason,omitempty" db:"reason"`
	Data        JSONMap       `json:"data,omitempty" db:"data"`
	Status      HandoffStatus `json:"status" db:"status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ConflictRecord captures a disagreement between agents over a task or a
// shared resource.
type ConflictRecord struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	TaskID     *uuid.UUID `json:"task_id,omitempty" db:"task_id"`
	Type       string     `json:"type" db:"type"`
	Agents     StringList `json:"agents" db:"agents"`
	Details    JSONMap    `json:"details,omitempty" db:"details"`
	IsResolved bool       `json:"is_resolved" db:"is_resolved"`

	ResolutionStrategy string  `json:"resolution_strategy,omitempty" db:"resolution_strategy"`
	ResolutionDetails  JSONMap `json:"resolution_details,omitempty" db:"resolution_details"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AgentCommunication is a structured coordination message between agents.
type AgentCommunication struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	FromAgentID string     `json:"from_agent_id" db:"from_agent_id"`
	ToAgentIDs  StringList `json:"to_agent_ids" db:"to_agent_ids"`
	TaskID      *uuid.UUID `json:"task_id,omitempty" db:"task_id"`
	Type        string     `json:"type" db:"type"`
	Content     string     `json:"content" db:"content"`
	Priority    Priority   `json:"priority" db:"priority"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}
