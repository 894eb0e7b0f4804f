package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// BranchTools is the manage_git_branch manager. Agent assignment routes
// through the agent service so workload accounting stays in one place.
type BranchTools struct {
	branches services.BranchService
	agents   services.AgentService
}

// NewBranchTools wires the branch manager to its services.
func NewBranchTools(branches services.BranchService, agents services.AgentService) *BranchTools {
	return &BranchTools{branches: branches, agents: agents}
}

// Manager implements Provider.
func (t *BranchTools) Manager() Manager {
	return Manager{
		Name:        "manage_git_branch",
		Description: "Branch (task tree) lifecycle and agent assignment",
		Actions: []Action{
			{
				Name:        "create",
				Description: "Create a branch in a project",
				Mutating:    true,
				Required:    []string{"project_id", "name"},
				Params: map[string]interface{}{
					"project_id":  pUUID("owning project"),
					"name":        pString("unique branch name within the project"),
					"description": pString("free-form description"),
					"priority":    pEnum("branch priority", "low", "medium", "high", "urgent", "critical"),
				},
				Handler: t.create,
			},
			{
				Name:        "list",
				Description: "List a project's branches",
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"status":     pEnum("filter by status", "todo", "active", "blocked", "done", "archived"),
					"agent_id":   pString("filter by assigned agent"),
				},
				Handler: t.list,
			},
			{
				Name:        "get",
				Description: "Fetch one branch by id",
				Required:    []string{"branch_id"},
				Params: map[string]interface{}{
					"branch_id": pUUID("branch id"),
				},
				Handler: t.get,
			},
			{
				Name:        "update",
				Description: "Patch a branch's description, priority, or status",
				Mutating:    true,
				Required:    []string{"branch_id"},
				Params: map[string]interface{}{
					"branch_id":   pUUID("branch id"),
					"description": pString("new description"),
					"priority":    pEnum("new priority", "low", "medium", "high", "urgent", "critical"),
					"status":      pEnum("new status", "todo", "active", "blocked", "done", "archived"),
				},
				Handler: t.update,
			},
			{
				Name:        "delete",
				Description: "Delete a branch and its tasks; main is protected",
				Mutating:    true,
				Required:    []string{"project_id", "branch_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"branch_id":  pUUID("branch id"),
				},
				Handler: t.remove,
			},
			{
				Name:        "assign_agent",
				Description: "Assign an agent to work the branch",
				Mutating:    true,
				Required:    []string{"project_id", "branch_id", "agent_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"branch_id":  pUUID("branch id"),
					"agent_id":   pString("agent to assign"),
				},
				Handler: t.assignAgent,
			},
		},
	}
}

func (t *BranchTools) create(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID   string `json:"project_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Priority    string `json:"priority"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	branch, err := t.branches.Create(ctx, services.CreateBranchInput{
		ProjectID:   projectID,
		Name:        in.Name,
		Description: in.Description,
		Priority:    models.Priority(in.Priority),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: branch}, nil
}

func (t *BranchTools) list(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		Status    string `json:"status"`
		AgentID   string `json:"agent_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	branches, err := t.branches.List(ctx, repository.BranchFilter{
		ProjectID: projectID,
		Status:    models.BranchStatus(in.Status),
		AgentID:   in.AgentID,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"branches": branches, "count": len(branches)}}, nil
}

func (t *BranchTools) get(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		BranchID string `json:"branch_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	branch, err := t.branches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Data: branch}, nil
}

func (t *BranchTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		BranchID    string  `json:"branch_id"`
		Description *string `json:"description"`
		Priority    *string `json:"priority"`
		Status      *string `json:"status"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	patch := services.UpdateBranchInput{Description: in.Description}
	if in.Priority != nil {
		p := models.Priority(*in.Priority)
		patch.Priority = &p
	}
	if in.Status != nil {
		s := models.BranchStatus(*in.Status)
		patch.Status = &s
	}
	branch, err := t.branches.Update(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	return &Result{Data: branch}, nil
}

func (t *BranchTools) remove(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		BranchID  string `json:"branch_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	branchID, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	deleted, err := t.branches.Delete(ctx, projectID, branchID)
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"deleted":       true,
		"branch_id":     branchID,
		"deleted_tasks": deleted,
	}}, nil
}

func (t *BranchTools) assignAgent(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		BranchID  string `json:"branch_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	branchID, err := parseUUID("branch_id", in.BranchID)
	if err != nil {
		return nil, err
	}
	if err := t.agents.AssignToBranch(ctx, projectID, in.AgentID, branchID); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"assigned":  true,
		"branch_id": branchID,
		"agent_id":  in.AgentID,
	}}, nil
}
