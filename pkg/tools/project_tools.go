package tools

import (
	"context"
	"encoding/json"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// ProjectTools is the manage_project manager.
type ProjectTools struct {
	projects services.ProjectService
}

// NewProjectTools wires the project manager to its service.
func NewProjectTools(projects services.ProjectService) *ProjectTools {
	return &ProjectTools{projects: projects}
}

// Manager implements Provider.
func (t *ProjectTools) Manager() Manager {
	return Manager{
		Name:        "manage_project",
		Description: "Project lifecycle: create, list, get, update, archive, delete",
		Actions: []Action{
			{
				Name:        "create",
				Description: "Create a project with its protected main branch",
				Mutating:    true,
				Required:    []string{"name", "user_id"},
				Params: map[string]interface{}{
					"name":        pString("unique project name per user"),
					"user_id":     pString("owning user"),
					"description": pString("free-form description"),
					"metadata":    pObject("arbitrary project metadata"),
				},
				Handler: t.create,
			},
			{
				Name:        "list",
				Description: "List projects, optionally filtered by owner and status",
				Params: map[string]interface{}{
					"user_id": pString("filter by owning user"),
					"status":  pEnum("filter by status", "active", "archived"),
					"limit":   pInt("page size"),
					"offset":  pInt("page offset"),
				},
				Handler: t.list,
			},
			{
				Name:        "get",
				Description: "Fetch one project by id",
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("project id"),
				},
				Handler: t.get,
			},
			{
				Name:        "update",
				Description: "Patch a project's name, description, or metadata",
				Mutating:    true,
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id":  pUUID("project id"),
					"name":        pString("new name"),
					"description": pString("new description"),
					"metadata":    pObject("metadata to merge"),
				},
				Handler: t.update,
			},
			{
				Name:        "archive",
				Description: "Archive a project, hiding it from default listings",
				Mutating:    true,
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("project id"),
				},
				Handler: t.archive,
			},
			{
				Name:        "delete",
				Description: "Delete a project; cascade removes branches and tasks",
				Mutating:    true,
				Required:    []string{"project_id"},
				Params: map[string]interface{}{
					"project_id": pUUID("project id"),
					"cascade":    pBool("also delete branches and tasks"),
				},
				Handler: t.remove,
			},
		},
	}
}

func (t *ProjectTools) create(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		Name        string         `json:"name"`
		UserID      string         `json:"user_id"`
		Description string         `json:"description"`
		Metadata    models.JSONMap `json:"metadata"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	project, err := t.projects.Create(ctx, services.CreateProjectInput{
		Name:        in.Name,
		Description: in.Description,
		UserID:      in.UserID,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: project}, nil
}

func (t *ProjectTools) list(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		UserID string `json:"user_id"`
		Status string `json:"status"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	projects, err := t.projects.List(ctx, repository.ProjectFilter{
		UserID: in.UserID,
		Status: models.ProjectStatus(in.Status),
		Limit:  in.Limit,
		Offset: in.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"projects": projects, "count": len(projects)}}, nil
}

func (t *ProjectTools) get(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	project, err := t.projects.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Data: project}, nil
}

func (t *ProjectTools) update(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID   string         `json:"project_id"`
		Name        *string        `json:"name"`
		Description *string        `json:"description"`
		Metadata    models.JSONMap `json:"metadata"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	project, err := t.projects.Update(ctx, id, services.UpdateProjectInput{
		Name:        in.Name,
		Description: in.Description,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: project}, nil
}

func (t *ProjectTools) archive(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	project, err := t.projects.Archive(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Result{Data: project}, nil
}

func (t *ProjectTools) remove(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in struct {
		ProjectID string `json:"project_id"`
		Cascade   bool   `json:"cascade"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	id, err := parseUUID("project_id", in.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := t.projects.Delete(ctx, id, in.Cascade); err != nil {
		return nil, err
	}
	return &Result{Data: map[string]interface{}{"deleted": true, "project_id": id}}, nil
}
