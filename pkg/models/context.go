package models

import (
	"time"
)

// ContextLevel identifies a tier of the context hierarchy. Levels are
// strictly ordered task < branch < project < global.
type ContextLevel string

const (
	LevelTask    ContextLevel = "task"
	LevelBranch  ContextLevel = "branch"
	LevelProject ContextLevel = "project"
	LevelGlobal  ContextLevel = "global"
)

// GlobalContextID is the singleton key of the organization-wide tier.
const GlobalContextID = "global_singleton"

var levelRank = map[ContextLevel]int{
	LevelTask:    0,
	LevelBranch:  1,
	LevelProject: 2,
	LevelGlobal:  3,
}

// Rank returns the position of the level in the hierarchy, task lowest.
// Unknown levels rank as -1.
func (l ContextLevel) Rank() int {
	if r, ok := levelRank[l]; ok {
		return r
	}
	return -1
}

// Valid reports whether l is one of the four tiers.
func (l ContextLevel) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Above reports whether l is strictly higher than other in the hierarchy.
func (l ContextLevel) Above(other ContextLevel) bool {
	return l.Rank() > other.Rank()
}

// Parent returns the next tier up, or false from global.
func (l ContextLevel) Parent() (ContextLevel, bool) {
	switch l {
	case LevelTask:
		return LevelBranch, true
	case LevelBranch:
		return LevelProject, true
	case LevelProject:
		return LevelGlobal, true
	default:
		return "", false
	}
}

// Well-known payload sections. Unknown keys are preserved verbatim for
// forward compatibility; these constants name the validated write paths.
const (
	SectionAutonomousRules   = "autonomous_rules"
	SectionSecurityPolicies  = "security_policies"
	SectionCodingStandards   = "coding_standards"
	SectionWorkflowTemplates = "workflow_templates"
	SectionTeamPreferences   = "team_preferences"
	SectionTechnologyStack   = "technology_stack"
	SectionProjectWorkflow   = "project_workflow"
	SectionLocalStandards    = "local_standards"
	SectionTaskData          = "task_data"
	SectionPatterns          = "patterns"
)

// ContextRecord is the uniform persisted shape of one tier's context.
// Level-specific columns that do not apply to a tier stay zero-valued:
// ForceLocalOnly is meaningful only at task level, Overrides only below
// global.
type ContextRecord struct {
	Level ContextLevel `json:"level" db:"level"`
	ID    string       `json:"id" db:"id"`

	// ParentID names the enclosing tier record: branch->project id,
	// task->branch id, project->global singleton.
	ParentID string `json:"parent_id,omitempty" db:"parent_id"`

	// ProjectID is carried redundantly on branch and task tiers so
	// project-scoped propagation can find them without walking.
	ProjectID string `json:"project_id,omitempty" db:"project_id"`

	Data JSONMap `json:"data" db:"data"`

	// Overrides lists keys of Data that replace rather than merge with
	// inherited values (global_overrides / local_overrides in the wire
	// shape, depending on tier).
	Overrides JSONMap `json:"overrides,omitempty" db:"overrides"`

	DelegationRules     JSONMap `json:"delegation_rules,omitempty" db:"delegation_rules"`
	ImplementationNotes JSONMap `json:"implementation_notes,omitempty" db:"implementation_notes"`
	DelegationTriggers  JSONMap `json:"delegation_triggers,omitempty" db:"delegation_triggers"`

	InheritanceDisabled bool `json:"inheritance_disabled" db:"inheritance_disabled"`
	ForceLocalOnly      bool `json:"force_local_only" db:"force_local_only"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`
}

// ResolvedContext is the merged view of every enabled tier above and
// including the target, plus the provenance needed for cache validation.
type ResolvedContext struct {
	ContextID string       `json:"context_id"`
	Level     ContextLevel `json:"level"`

	Context JSONMap `json:"context"`

	// ResolutionPath is the ordered "level:id" list actually merged,
	// highest tier first.
	ResolutionPath []string `json:"resolution_path"`

	// DependenciesHash fingerprints every tier consulted; a mismatch
	// invalidates any cached copy.
	DependenciesHash string    `json:"dependencies_hash"`
	ResolvedAt       time.Time `json:"resolved_at"`
}

// InheritanceCacheEntry is the durable record of a resolved view, keyed
// by (context_id, level).
type InheritanceCacheEntry struct {
	ContextID string       `json:"context_id" db:"context_id"`
	Level     ContextLevel `json:"level" db:"level"`

	ResolvedContext  JSONMap    `json:"resolved_context" db:"resolved_context"`
	DependenciesHash string     `json:"dependencies_hash" db:"dependencies_hash"`
	ResolutionPath   StringList `json:"resolution_path" db:"resolution_path"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	HitCount  int        `json:"hit_count" db:"hit_count"`
	LastHit   *time.Time `json:"last_hit,omitempty" db:"last_hit"`
	SizeBytes int        `json:"size_bytes" db:"size_bytes"`

	Invalidated        bool   `json:"invalidated" db:"invalidated"`
	InvalidationReason string `json:"invalidation_reason,omitempty" db:"invalidation_reason"`
}

// Expired reports whether the entry has outlived its TTL at time now.
func (e *InheritanceCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Usable reports whether the entry may serve a resolve for the given
// dependencies hash.
func (e *InheritanceCacheEntry) Usable(hash string, now time.Time) bool {
	return !e.Invalidated && !e.Expired(now) && e.DependenciesHash == hash
}

// PropagationStatus tracks a downstream invalidation cascade.
type PropagationStatus string

const (
	PropagationPending   PropagationStatus = "pending"
	PropagationCompleted PropagationStatus = "completed"
	PropagationFailed    PropagationStatus = "failed"
)

// PropagationRecord audits one cascading change: which tier changed, what
// kind of change, and the cache entries it invalidated.
type PropagationRecord struct {
	ID          string            `json:"id" db:"id"`
	SourceLevel ContextLevel      `json:"source_level" db:"source_level"`
	SourceID    string            `json:"source_id" db:"source_id"`
	ChangeType  string            `json:"change_type" db:"change_type"`
	Affected    StringList        `json:"affected_contexts,omitempty" db:"affected_contexts"`
	Count       int               `json:"affected_count" db:"affected_count"`
	Status      PropagationStatus `json:"status" db:"status"`
	DurationMS  int64             `json:"duration_ms" db:"duration_ms"`
	Error       string            `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
}
