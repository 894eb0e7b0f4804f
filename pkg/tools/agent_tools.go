package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// AgentTools is the manage_agent manager.
type AgentTools struct {
	agents services.AgentService
}

// NewAgentTools wires the agent manager to its service.
func NewAgentTools(agents services.AgentService) *AgentTools {
	return &AgentTools{agents: agents}
}

// Manager implements Provider.
func (t *AgentTools) Manager() Manager {
	return Manager{
		Name:        "manage_agent",
		Description: "Agent registration, branch assignment, and rebalancing",
		Actions: []Action{
			{
				Name:        "register",
				Description: "Register an agent in a project; upserts on repeat",
				Mutating:    true,
				Required:    []string{"project_id", "agent_id", "name"},
				Params: map[string]interface{}{
					"project_id":           pUUID("owning project"),
					"agent_id":             pString("stable agent identifier"),
					"name":                 pString("display name"),
					"description":          pString("what this agent does"),
					"call_agent":           pString("invocation handle for the runtime"),
					"capabilities":         pStringArray("capability tags, e.g. coding, debugging"),
					"specializations":      pStringArray("finer-grained skills"),
					"max_concurrent_tasks": pInt("workload ceiling"),
				},
				Handler: t.register,
			},
			{
				Name:        "list",
				Description: "List a project's agents",
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"status":     pEnum("filter by status", "available", "busy", "offline"),
					"capability": pString("filter by capability tag"),
				},
				Handler: t.list,
			},
			{
				Name:        "get",
				Description: "Fetch one agent by id",
				Required:    []string{"project_id", "agent_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"agent_id":   pString("agent id"),
				},
				Handler: t.get,
			},
			{
				Name:        "update",
				Description: "Patch an agent's profile or status",
				Mutating:    true,
				Required:    []string{"project_id", "agent_id"},
				Params: map[string]interface{}{
					"project_id":           pUUID("owning project"),
					"agent_id":             pString("agent id"),
					"name":                 pString("new display name"),
					"description":          pString("new description"),
					"status":               pEnum("new status", "available", "busy", "offline"),
					"capabilities":         pStringArray("replacement capability set"),
					"specializations":      pStringArray("replacement specialization set"),
					"max_concurrent_tasks": pInt("new workload ceiling"),
				},
				Handler: t.update,
			},
			{
				Name:        "assign",
				Description: "Assign an agent to a branch",
				Mutating:    true,
				Required:    []string{"project_id", "agent_id", "branch_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"agent_id":   pString("agent id"),
					"branch_id":  pUUID("branch to work"),
				},
				Handler: t.assign,
			},
			{
				Name:        "rebalance",
				Description: "Move overloaded branches to the least-loaded capable agents",
				Mutating:    true,
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("project to rebalance"),
				},
				Handler: t.rebalance,
			},
			{
				Name:        "unregister",
				Description: "Remove an agent from a project",
				Mutating:    true,
				Required:    []string{"project_id", "agent_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("owning project"),
					"agent_id":   pString("agent id"),
				},
				Handler: t.unregister,
			},
		},
	}
}

func (t *AgentTools) register(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID          string   `json:"project_id"`
		AgentID            string   `json:"agent_id"`
		Name               string   `json:"name"`
		Description        string   `json:"description"`
		CallAgent          string   `json:"call_agent"`
		Capabilities       []string `json:"capabilities"`
		Specializations    []string `json:"specializations"`
		MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	agent, err := t.agents.Register(ctx, services.RegisterAgentInput{
		ProjectID:          projectID,
		AgentID:            in.AgentID,
		Name:               in.Name,
		Description:        in.Description,
		CallAgent:          in.CallAgent,
		Capabilities:       in.Capabilities,
		Specializations:    in.Specializations,
		MaxConcurrentTasks: in.MaxConcurrentTasks,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: agent}, nil
}

func (t *AgentTools) list(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID  string `json:"project_id"`
		Status     string `json:"status"`
		Capability string `json:"capability"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	agents, err := t.agents.List(ctx, repository.AgentFilter{
		ProjectID:  projectID,
		Status:     models.AgentStatus(in.Status),
		Capability: in.Capability,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"agents": agents, "count": len(agents)}}, nil
}

func (t *AgentTools) get(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	agent, err := t.agents.Get(ctx, projectID, in.AgentID)
	if err != nil {
		return nil, err
	}
	return &Result{Data: agent}, nil
}

func (t *AgentTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID          string   `json:"project_id"`
		AgentID            string   `json:"agent_id"`
		Name               *string  `json:"name"`
		Description        *string  `json:"description"`
		Status             *string  `json:"status"`
		Capabilities       []string `json:"capabilities"`
		Specializations    []string `json:"specializations"`
		MaxConcurrentTasks *int     `json:"max_concurrent_tasks"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	patch := services.UpdateAgentInput{
		Name:               in.Name,
		Description:        in.Description,
		Capabilities:       in.Capabilities,
		Specializations:    in.Specializations,
		MaxConcurrentTasks: in.MaxConcurrentTasks,
	}
	if in.Status != nil {
		s := models.AgentStatus(*in.Status)
		patch.Status = &s
	}
	agent, err := t.agents.Update(ctx, projectID, in.AgentID, patch)
	if err != nil {
		return nil, err
	}
	return &Result{Data: agent}, nil
}

func (t *AgentTools) assign(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		AgentID   string `json:"agent_id"`
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
	if err := t.agents.AssignToBranch(ctx, projectID, in.AgentID, branchID); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{
		"assigned":  true,
		"agent_id":  in.AgentID,
		"branch_id": branchID,
	}}, nil
}

func (t *AgentTools) rebalance(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	result, err := t.agents.Rebalance(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Result{Data: result}, nil
}

func (t *AgentTools) unregister(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		AgentID   string `json:"agent_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projectID, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := t.agents.Unregister(ctx, projectID, in.AgentID); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"unregistered": true, "agent_id": in.AgentID}}, nil
}
