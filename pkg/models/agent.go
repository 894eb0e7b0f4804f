package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentStatus represents the availability of a registered agent.
type AgentStatus string

const (
	AgentStatusAvailable AgentStatus = "available"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusOffline   AgentStatus = "offline"
)

// Agent is a named capability registered within a project. Agents never
// execute inside the core; they are routed to. (id, project_id) is unique.
type Agent struct {
	ID          string    `json:"id" db:"id"`
	ProjectID   uuid.UUID `json:"project_id" db:"project_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`

	// CallAgent is the invocation handle clients use, e.g. "@coding_agent".
	CallAgent string `json:"call_agent,omitempty" db:"call_agent"`

	Capabilities    StringList  `json:"capabilities,omitempty" db:"capabilities"`
	Specializations StringList  `json:"specializations,omitempty" db:"specializations"`
	Status          AgentStatus `json:"status" db:"status"`

	// Workload accounting. current_workload may never exceed
	// max_concurrent_tasks; violating assignments are rejected.
	MaxConcurrentTasks int `json:"max_concurrent_tasks" db:"max_concurrent_tasks"`
	CurrentWorkload    int `json:"current_workload" db:"current_workload"`

	CompletedTasks int     `json:"completed_tasks" db:"completed_tasks"`
	SuccessRate    float64 `json:"success_rate" db:"success_rate"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`
}

// AtCapacity reports whether the agent cannot accept more work.
func (a *Agent) AtCapacity() bool {
	return a.MaxConcurrentTasks > 0 && a.CurrentWorkload >= a.MaxConcurrentTasks
}

// LoadFactor returns workload utilization in [0,1]; 1 when saturated or
// when no capacity is configured.
func (a *Agent) LoadFactor() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	f := float64(a.CurrentWorkload) / float64(a.MaxConcurrentTasks)
	if f > 1 {
		return 1
	}
	return f
}

// HasCapability reports whether the agent advertises the capability.
func (a *Agent) HasCapability(capability string) bool {
	return a.Capabilities.Contains(capability)
}

// AgentBranchAssignment links an agent to a branch it may work on. The
// primary owner of a branch is branch.assigned_agent_id when set.
type AgentBranchAssignment struct {
	ProjectID  uuid.UUID `json:"project_id" db:"project_id"`
	AgentID    string    `json:"agent_id" db:"agent_id"`
	BranchID   uuid.UUID `json:"branch_id" db:"branch_id"`
	AssignedAt time.Time `json:"assigned_at" db:"assigned_at"`
}

// AgentWorkload is the per-agent view used by rebalancing and compliance.
type AgentWorkload struct {
	AgentID            string  `json:"agent_id" db:"agent_id"`
	CurrentWorkload    int     `json:"current_workload" db:"current_workload"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks" db:"max_concurrent_tasks"`
	ActiveBranches     int     `json:"active_branches" db:"active_branches"`
	LoadFactor         float64 `json:"load_factor" db:"load_factor"`
}
