package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// projectService implements ProjectService.
type projectService struct {
	config   ServiceConfig
	projects repository.ProjectRepository
	branches repository.BranchRepository
	contexts repository.ContextRepository
}

// NewProjectService creates the project lifecycle service.
func NewProjectService(config ServiceConfig, projects repository.ProjectRepository, branches repository.BranchRepository, contexts repository.ContextRepository) ProjectService {
	return &projectService{
		config:   config.withDefaults(),
		projects: projects,
		branches: branches,
		contexts: contexts,
	}
}

func (s *projectService) Create(ctx context.Context, input CreateProjectInput) (*models.Project, error) {
	ctx, span := s.config.Tracer(ctx, "ProjectService.Create")
	defer span.End()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.Wrap(repository.ErrValidation, "project name is required")
	}
	if input.UserID == "" {
		return nil, errors.Wrap(repository.ErrValidation, "user_id is required")
	}

	project := &models.Project{
		ID:          uuid.New(),
		Name:        name,
		Description: input.Description,
		Status:      models.ProjectStatusActive,
		UserID:      input.UserID,
		Metadata:    input.Metadata,
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}

	// Every project starts with its protected main branch.
	main := &models.Branch{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Name:      models.MainBranchName,
		Priority:  models.PriorityMedium,
		Status:    models.BranchStatusTodo,
	}
	if err := s.branches.Create(ctx, main); err != nil {
		return nil, errors.Wrap(err, "create main branch")
	}

	// Seed an empty project context record so resolves and fingerprints
	// see the tier from the start.
	seed := &models.ContextRecord{
		Level:     models.LevelProject,
		ID:        project.ID.String(),
		ParentID:  models.GlobalContextID,
		ProjectID: project.ID.String(),
		Data:      models.JSONMap{},
	}
	if err := s.contexts.Upsert(ctx, seed); err != nil {
		return nil, errors.Wrap(err, "seed project context")
	}

	s.config.Logger.Info("Project created", map[string]interface{}{
		"project_id": project.ID.String(),
		"user_id":    project.UserID,
	})
	s.config.Metrics.IncrementCounter("projects_created", 1)
	return project, nil
}

func (s *projectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	ctx, span := s.config.Tracer(ctx, "ProjectService.Get")
	defer span.End()

	return s.projects.Get(ctx, id)
}

func (s *projectService) List(ctx context.Context, filter repository.ProjectFilter) ([]*models.Project, error) {
	ctx, span := s.config.Tracer(ctx, "ProjectService.List")
	defer span.End()

	return s.projects.List(ctx, filter)
}

func (s *projectService) Update(ctx context.Context, id uuid.UUID, patch UpdateProjectInput) (*models.Project, error) {
	ctx, span := s.config.Tracer(ctx, "ProjectService.Update")
	defer span.End()

	var project *models.Project
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.projects.Get(ctx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return errors.Wrap(repository.ErrValidation, "project name is required")
			}
			current.Name = name
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Metadata != nil {
			current.Metadata = patch.Metadata
		}
		if err := s.projects.Update(ctx, current); err != nil {
			return err
		}
		project = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *projectService) Archive(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	ctx, span := s.config.Tracer(ctx, "ProjectService.Archive")
	defer span.End()

	var project *models.Project
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.projects.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.IsArchived() {
			project = current
			return nil
		}
		current.Status = models.ProjectStatusArchived
		if err := s.projects.Update(ctx, current); err != nil {
			return err
		}
		project = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.config.Logger.Info("Project archived", map[string]interface{}{"project_id": id.String()})
	return project, nil
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID, cascade bool) error {
	ctx, span := s.config.Tracer(ctx, "ProjectService.Delete")
	defer span.End()

	if _, err := s.projects.Get(ctx, id); err != nil {
		return err
	}

	if !cascade {
		branches, err := s.branches.List(ctx, repository.BranchFilter{ProjectID: id})
		if err != nil {
			return err
		}
		// The main branch always exists, so any extra branch blocks a
		// plain delete.
		for _, b := range branches {
			if !b.IsMain() {
				return errors.Wrapf(ErrConflict, "project has branch %q; delete requires cascade", b.Name)
			}
		}
	}

	if err := s.projects.Delete(ctx, id); err != nil {
		return err
	}

	s.config.Logger.Info("Project deleted", map[string]interface{}{
		"project_id": id.String(),
		"cascade":    cascade,
	})
	return nil
}
