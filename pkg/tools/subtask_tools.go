package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// SubtaskTools is the manage_subtask manager.
type SubtaskTools struct {
	subtasks services.SubtaskService
}

// NewSubtaskTools wires the subtask manager to its service.
func NewSubtaskTools(subtasks services.SubtaskService) *SubtaskTools {
	return &SubtaskTools{subtasks: subtasks}
}

// Manager implements Provider.
func (t *SubtaskTools) Manager() Manager {
	return Manager{
		Name:        "manage_subtask",
		Description: "Subtasks of a task, with progress rollup into the parent",
		Actions: []Action{
			{
				Name:        "create",
				Description: "Create a subtask under a task",
				Mutating:    true,
				Required:    []string{"task_id", "title"},
				Params: map[string]interface{}{
					"task_id":          pUUID("parent task"),
					"title":            pString("subtask title"),
					"description":      pString("free-form description"),
					"priority":         pEnum("subtask priority", "low", "medium", "high", "urgent", "critical"),
					"assignees":        pStringArray("agent ids to assign"),
					"estimated_effort": pString("free-form effort estimate"),
				},
				Handler: t.create,
			},
			{
				Name:        "list",
				Description: "List a task's subtasks with the aggregated progress",
				Required:    []string{"task_id"},
				Params: map[string]interface{}{
					"task_id": pUUID("parent task"),
				},
				Handler: t.list,
			},
			{
				Name:        "get",
				Description: "Fetch one subtask by id",
				Required:    []string{"subtask_id"},
				Params: map[string]interface{}{
					"subtask_id": pUUID("subtask id"),
				},
				Handler: t.get,
			},
			{
				Name:        "update",
				Description: "Patch subtask fields or progress",
				Mutating:    true,
				Required:    []string{"subtask_id"},
				Params: map[string]interface{}{
					"subtask_id":          pUUID("subtask id"),
					"title":               pString("new title"),
					"description":         pString("new description"),
					"status":              pEnum("new status", "todo", "in_progress", "review", "testing", "done", "blocked", "cancelled"),
					"priority":            pEnum("new priority", "low", "medium", "high", "urgent", "critical"),
					"progress_percentage": pInt("progress 0-100"),
					"progress_notes":      pString("what moved the progress"),
					"blockers":            pStringArray("replacement blocker list"),
					"assignees":           pStringArray("replacement assignee set"),
				},
				Handler: t.update,
			},
			{
				Name:        "complete",
				Description: "Complete a subtask and feed the parent rollup",
				Mutating:    true,
				Required:    []string{"subtask_id", "completion_summary"},
				Params: map[string]interface{}{
					"subtask_id":         pUUID("subtask id"),
					"completion_summary": pString("what was done"),
					"impact_on_parent":   pString("how this affects the parent task"),
					"insights_found":     pStringArray("insights worth recording"),
				},
				Handler: t.complete,
			},
		},
	}
}

func (t *SubtaskTools) create(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID          string   `json:"task_id"`
		Title           string   `json:"title"`
		Description     string   `json:"description"`
		Priority        string   `json:"priority"`
		Assignees       []string `json:"assignees"`
		EstimatedEffort string   `json:"estimated_effort"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	taskID, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	subtask, err := t.subtasks.Create(ctx, services.CreateSubtaskInput{
		TaskID:          taskID,
		Title:           in.Title,
		Description:     in.Description,
		Priority:        models.Priority(in.Priority),
		Assignees:       in.Assignees,
		EstimatedEffort: in.EstimatedEffort,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: subtask}, nil
}

func (t *SubtaskTools) list(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		TaskID string `json:"task_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	taskID, err := parseUUID("task_id", in.TaskID)
	if err != nil {
		return nil, err
	}
	subtasks, err := t.subtasks.ListForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	progress, err := t.subtasks.Progress(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"subtasks": subtasks,
		"count":    len(subtasks),
		"progress": progress,
	}}, nil
}

func (t *SubtaskTools) get(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		SubtaskID string `json:"subtask_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("subtask_id", in.SubtaskID)
	if err != nil {
		return nil, err
	}
	subtask, err := t.subtasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Data: subtask}, nil
}

func (t *SubtaskTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		SubtaskID          string   `json:"subtask_id"`
		Title              *string  `json:"title"`
		Description        *string  `json:"description"`
		Status             *string  `json:"status"`
		Priority           *string  `json:"priority"`
		ProgressPercentage *int     `json:"progress_percentage"`
		ProgressNotes      *string  `json:"progress_notes"`
		Blockers           []string `json:"blockers"`
		Assignees          []string `json:"assignees"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("subtask_id", in.SubtaskID)
	if err != nil {
		return nil, err
	}
	patch := services.UpdateSubtaskInput{
		Title:              in.Title,
		Description:        in.Description,
		ProgressPercentage: in.ProgressPercentage,
		ProgressNotes:      in.ProgressNotes,
		Blockers:           in.Blockers,
		Assignees:          in.Assignees,
	}
	if in.Status != nil {
		s := models.TaskStatus(*in.Status)
		patch.Status = &s
	}
	if in.Priority != nil {
		p := models.Priority(*in.Priority)
		patch.Priority = &p
	}
	subtask, err := t.subtasks.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return &Result{Data: subtask}, nil
}

func (t *SubtaskTools) complete(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		SubtaskID         string   `json:"subtask_id"`
		CompletionSummary string   `json:"completion_summary"`
		ImpactOnParent    string   `json:"impact_on_parent"`
		InsightsFound     []string `json:"insights_found"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("subtask_id", in.SubtaskID)
	if err != nil {
		return nil, err
	}
	subtask, err := t.subtasks.Complete(ctx, id, services.CompleteSubtaskInput{
		Summary:        in.CompletionSummary,
		ImpactOnParent: in.ImpactOnParent,
		InsightsFound:  in.InsightsFound,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: subtask}, nil
}
