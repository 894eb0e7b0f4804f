package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// ContextTools is the manage_context manager, the wire surface of the
// hierarchical context engine.
type ContextTools struct {
	contexts services.ContextService
}

// NewContextTools wires the context manager to the engine.
func NewContextTools(contexts services.ContextService) *ContextTools {
	return &ContextTools{contexts: contexts}
}

// Manager implements Provider.
func (t *ContextTools) Manager() Manager {
	levels := []string{"task", "branch", "project", "global"}
	return Manager{
		Name:        "manage_context",
		Description: "Hierarchical context: resolve, update, delegate, insights, cache",
		Actions: []Action{
			{
				Name:        "resolve",
				Description: "Resolve the inherited view for one tier",
				Required:    []string{"level", "context_id"},
				Params: map[string]interface{}{
					"level":         pEnum("tier to resolve", levels...),
					"context_id":    pString("entity id; global_singleton for global"),
					"force_refresh": pBool("bypass caches and recompute"),
				},
				Handler: t.resolve,
			},
			{
				Name:        "update",
				Description: "Merge a patch into one tier's record",
				Mutating:    true,
				Required:    []string{"level", "context_id"},
				Params: map[string]interface{}{
					"level":                pEnum("tier to write", levels...),
					"context_id":           pString("entity id; global_singleton for global"),
					"patch":                pObject("keys to merge into the tier data"),
					"overrides":            pObject("keys that replace inherited values wholesale"),
					"delegation_rules":     pObject("rules consulted by auto-delegation"),
					"implementation_notes": pObject("notes attached to the tier"),
					"delegation_triggers":  pObject("trigger configuration"),
					"inheritance_disabled": pBool("stop inheriting from higher tiers"),
					"force_local_only":     pBool("resolve to this tier alone"),
					"propagate":            pBool("invalidate descendant caches after the write"),
					"create_if_missing":    pBool("create the record if absent; required for global"),
					"propagation_cause":    pString("audit note for the propagation record"),
				},
				Handler: t.update,
			},
			{
				Name:        "delegate",
				Description: "Queue knowledge for a strictly higher tier",
				Mutating:    true,
				Required:    []string{"source_level", "source_id", "target_level", "target_id", "data"},
				Params: map[string]interface{}{
					"source_level": pEnum("originating tier", levels...),
					"source_id":    pString("originating entity id"),
					"target_level": pEnum("receiving tier, must rank above the source", levels...),
					"target_id":    pString("receiving entity id"),
					"data":         pObject("payload to merge on approval"),
					"reason":       pString("why this should move up"),
					"trigger_type": pEnum("what initiated the delegation", "manual", "auto_threshold", "auto_pattern", "ai_initiated"),
					"confidence":   pNumber("0-1 confidence for auto triggers"),
					"created_by":   pString("originating agent"),
				},
				Handler: t.delegate,
			},
			{
				Name:        "add_insight",
				Description: "Append to a tier's insight stream",
				Mutating:    true,
				Required:    []string{"level", "context_id", "content"},
				Params: map[string]interface{}{
					"level":           pEnum("tier to annotate", levels...),
					"context_id":      pString("entity id"),
					"content":         pString("the insight text"),
					"category":        pString("free-form category, e.g. pattern, handoff"),
					"importance":      pEnum("importance", "low", "medium", "high", "critical"),
					"confidence":      pNumber("0-1 confidence"),
					"source_agent":    pString("agent that found it"),
					"source_type":     pString("how it was found"),
					"related_task_id": pUUID("task this insight came from"),
					"actionable":      pBool("whether the insight suggests an action"),
					"expires_at":      pTime("drop from listings after this time"),
				},
				Handler: t.addInsight,
			},
			{
				Name:        "list_delegations",
				Description: "List delegations originating at a tier",
				Required:    []string{"level", "context_id"},
				Params: map[string]interface{}{
					"level":      pEnum("source tier", levels...),
					"context_id": pString("source entity id"),
					"limit":      pInt("page size"),
				},
				Handler: t.listDelegations,
			},
			{
				Name:        "approve_delegation",
				Description: "Approve or reject a pending delegation by hand",
				Mutating:    true,
				Required:    []string{"delegation_id", "approve"},
				Params: map[string]interface{}{
					"delegation_id": pUUID("pending delegation"),
					"approve":       pBool("true merges the payload, false only records the reason"),
					"reason":        pString("reviewer note"),
					"processed_by":  pString("reviewer id"),
				},
				Handler: t.approveDelegation,
			},
			{
				Name:        "invalidate_cache",
				Description: "Invalidate cached views at or below a tier",
				Mutating:    true,
				Required:    []string{"level", "context_id"},
				Params: map[string]interface{}{
					"level":      pEnum("tier whose scope to invalidate", levels...),
					"context_id": pString("entity id"),
					"reason":     pString("audit note"),
				},
				Handler: t.invalidateCache,
			},
		},
	}
}

func (t *ContextTools) resolve(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level        string `json:"level"`
		ContextID    string `json:"context_id"`
		ForceRefresh bool   `json:"force_refresh"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	resolved, err := t.contexts.Resolve(ctx, services.ResolveContextInput{
		Level:        level,
		ContextID:    in.ContextID,
		ForceRefresh: in.ForceRefresh,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: resolved}, nil
}

func (t *ContextTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level               string         `json:"level"`
		ContextID           string         `json:"context_id"`
		Patch               models.JSONMap `json:"patch"`
		Overrides           models.JSONMap `json:"overrides"`
		DelegationRules     models.JSONMap `json:"delegation_rules"`
		ImplementationNotes models.JSONMap `json:"implementation_notes"`
		DelegationTriggers  models.JSONMap `json:"delegation_triggers"`
		InheritanceDisabled *bool          `json:"inheritance_disabled"`
		ForceLocalOnly      *bool          `json:"force_local_only"`
		Propagate           bool           `json:"propagate"`
		CreateIfMissing     bool           `json:"create_if_missing"`
		PropagationCause    string         `json:"propagation_cause"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	record, err := t.contexts.Update(ctx, services.UpdateContextInput{
		Level:               level,
		ContextID:           in.ContextID,
		Patch:               in.Patch,
		Overrides:           in.Overrides,
		DelegationRules:     in.DelegationRules,
		ImplementationNotes: in.ImplementationNotes,
		DelegationTriggers:  in.DelegationTriggers,
		InheritanceDisabled: in.InheritanceDisabled,
		ForceLocalOnly:      in.ForceLocalOnly,
		Propagate:           in.Propagate,
		CreateIfMissing:     in.CreateIfMissing,
		PropagationCause:    in.PropagationCause,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: record}, nil
}

func (t *ContextTools) delegate(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		SourceLevel string         `json:"source_level"`
		SourceID    string         `json:"source_id"`
		TargetLevel string         `json:"target_level"`
		TargetID    string         `json:"target_id"`
		Data        models.JSONMap `json:"data"`
		Reason      string         `json:"reason"`
		TriggerType string         `json:"trigger_type"`
		Confidence  *float64       `json:"confidence"`
		CreatedBy   string         `json:"created_by"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	sourceLevel, err := parseLevel("source_level", in.SourceLevel)
	if err != nil {
		return nil, err
	}
	targetLevel, err := parseLevel("target_level", in.TargetLevel)
	if err != nil {
		return nil, err
	}
	trigger := models.DelegationTrigger(in.TriggerType)
	if trigger == "" {
		trigger = models.TriggerManual
	}
	delegation, err := t.contexts.Delegate(ctx, services.DelegateContextInput{
		SourceLevel: sourceLevel,
		SourceID:    in.SourceID,
		TargetLevel: targetLevel,
		TargetID:    in.TargetID,
		Data:        in.Data,
		Reason:      in.Reason,
		TriggerType: trigger,
		Confidence:  in.Confidence,
		CreatedBy:   in.CreatedBy,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: delegation}, nil
}

func (t *ContextTools) addInsight(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level         string  `json:"level"`
		ContextID     string  `json:"context_id"`
		Content       string  `json:"content"`
		Category      string  `json:"category"`
		Importance    string  `json:"importance"`
		Confidence    float64 `json:"confidence"`
		SourceAgent   string  `json:"source_agent"`
		SourceType    string  `json:"source_type"`
		RelatedTaskID string  `json:"related_task_id"`
		Actionable    bool    `json:"actionable"`
		ExpiresAt     string  `json:"expires_at"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	relatedTask, err := parseOptionalUUID("related_task_id", in.RelatedTaskID)
	if err != nil {
		return nil, err
	}
	expiresAt, err := parseOptionalTime("expires_at", in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	insight, err := t.contexts.AddInsight(ctx, services.AddInsightInput{
		Level:         level,
		ContextID:     in.ContextID,
		Content:       in.Content,
		Category:      in.Category,
		Importance:    models.InsightImportance(in.Importance),
		Confidence:    in.Confidence,
		SourceAgent:   in.SourceAgent,
		SourceType:    in.SourceType,
		RelatedTaskID: relatedTask,
		Actionable:    in.Actionable,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: insight}, nil
}

func (t *ContextTools) listDelegations(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level     string `json:"level"`
		ContextID string `json:"context_id"`
		Limit     int    `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	delegations, err := t.contexts.ListDelegations(ctx, level, in.ContextID, in.Limit)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"delegations": delegations, "count": len(delegations)}}, nil
}

func (t *ContextTools) approveDelegation(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		DelegationID string `json:"delegation_id"`
		Approve      bool   `json:"approve"`
		Reason       string `json:"reason"`
		ProcessedBy  string `json:"processed_by"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("delegation_id", in.DelegationID)
	if err != nil {
		return nil, err
	}
	delegation, err := t.contexts.ApproveDelegation(ctx, id, in.Approve, in.Reason, in.ProcessedBy)
	if err != nil {
		return nil, err
	}
	return &Result{Data: delegation}, nil
}

func (t *ContextTools) invalidateCache(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Level     string `json:"level"`
		ContextID string `json:"context_id"`
		Reason    string `json:"reason"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	level, err := parseLevel("level", in.Level)
	if err != nil {
		return nil, err
	}
	affected, err := t.contexts.Invalidate(ctx, level, in.ContextID, in.Reason)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"invalidated": affected,
		"count":       len(affected),
	}}, nil
}
