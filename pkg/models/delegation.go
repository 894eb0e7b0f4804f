package models

import (
	"time"

	"github.com/google/uuid"
)

// DelegationTrigger classifies what initiated a delegation.
type DelegationTrigger string

const (
	TriggerManual        DelegationTrigger = "manual"
	TriggerAutoThreshold DelegationTrigger = "auto_threshold"
	TriggerAutoPattern   DelegationTrigger = "auto_pattern"
	TriggerAIInitiated   DelegationTrigger = "ai_initiated"
)

// AutoMergeable reports whether the trigger class is eligible for
// worker-side auto-merge (still subject to the target's delegation rules).
func (t DelegationTrigger) AutoMergeable() bool {
	return t == TriggerAutoThreshold || t == TriggerAutoPattern
}

// ImplementationStatus tracks what happened to a delegation's payload.
type ImplementationStatus string

const (
	ImplementationPending     ImplementationStatus = "pending"
	ImplementationImplemented ImplementationStatus = "implemented"
	ImplementationRejected    ImplementationStatus = "rejected"
	ImplementationExpired     ImplementationStatus = "expired"
)

// ContextDelegation moves knowledge from a lower tier to a strictly
// higher one. Delegations targeting the same (target_level, target_id)
// are processed in insertion order; a failed merge is never retried.
type ContextDelegation struct {
	ID uuid.UUID `json:"id" db:"id"`

	// Seq is assigned by the database on insert and orders processing
	// within one (target_level, target_id) queue.
	Seq int64 `json:"-" db:"seq"`

	SourceLevel ContextLevel `json:"source_level" db:"source_level"`
	SourceID    string       `json:"source_id" db:"source_id"`
	TargetLevel ContextLevel `json:"target_level" db:"target_level"`
	TargetID    string       `json:"target_id" db:"target_id"`

	DelegatedData JSONMap           `json:"delegated_data" db:"delegated_data"`
	Reason        string            `json:"reason,omitempty" db:"reason"`
	TriggerType   DelegationTrigger `json:"trigger_type" db:"trigger_type"`
	Confidence    *float64          `json:"confidence,omitempty" db:"confidence"`
	AutoDelegated bool              `json:"auto_delegated" db:"auto_delegated"`

	Processed            bool                 `json:"processed" db:"processed"`
	Approved             *bool                `json:"approved,omitempty" db:"approved"`
	RejectedReason       string               `json:"rejected_reason,omitempty" db:"rejected_reason"`
	ImpactAssessment     string               `json:"impact_assessment,omitempty" db:"impact_assessment"`
	ImplementationStatus ImplementationStatus `json:"implementation_status" db:"implementation_status"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`

	CreatedBy   string  `json:"created_by" db:"created_by"`
	ProcessedBy *string `json:"processed_by,omitempty" db:"processed_by"`
}

// ValidDirection reports whether the delegation moves strictly upward.
func (d *ContextDelegation) ValidDirection() bool {
	return d.SourceLevel.Valid() && d.TargetLevel.Valid() &&
		d.TargetLevel.Above(d.SourceLevel)
}

// TargetKey returns the ordering key for worker FIFO processing.
func (d *ContextDelegation) TargetKey() string {
	return string(d.TargetLevel) + ":" + d.TargetID
}

// InsightImportance grades a context insight.
type InsightImportance string

const (
	ImportanceLow      InsightImportance = "low"
	ImportanceMedium   InsightImportance = "medium"
	ImportanceHigh     InsightImportance = "high"
	ImportanceCritical InsightImportance = "critical"
)

// ContextInsight is an observation appended to a tier's insight stream.
// Expired insights are filterable but never deleted; access counters are
// advisory and updated best-effort.
type ContextInsight struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	ContextID    string            `json:"context_id" db:"context_id"`
	ContextLevel ContextLevel      `json:"context_level" db:"context_level"`
	Content      string            `json:"content" db:"content"`
	Category     string            `json:"category" db:"category"`
	Importance   InsightImportance `json:"importance" db:"importance"`

	// Confidence is in [0,1].
	Confidence float64 `json:"confidence" db:"confidence"`

	SourceAgent   string     `json:"source_agent,omitempty" db:"source_agent"`
	SourceType    string     `json:"source_type,omitempty" db:"source_type"`
	RelatedTaskID *uuid.UUID `json:"related_task_id,omitempty" db:"related_task_id"`

	Actionable  bool `json:"actionable" db:"actionable"`
	ActionTaken bool `json:"action_taken" db:"action_taken"`

	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	AccessedCount int        `json:"accessed_count" db:"accessed_count"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty" db:"last_accessed"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Expired reports whether the insight's expiry has passed at time now.
func (i *ContextInsight) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
