package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// branchService implements BranchService.
type branchService struct {
	config   ServiceConfig
	branches repository.BranchRepository
	projects repository.ProjectRepository
}

// NewBranchService creates the branch lifecycle service.
func NewBranchService(config ServiceConfig, branches repository.BranchRepository, projects repository.ProjectRepository) BranchService {
	return &branchService{
		config:   config.withDefaults(),
		branches: branches,
		projects: projects,
	}
}

func (s *branchService) Create(ctx context.Context, input CreateBranchInput) (*models.Branch, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.Create")
	defer span.End()

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.Wrap(repository.ErrValidation, "branch name is required")
	}
	if _, err := s.projects.Get(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", priority)
	}

	branch := &models.Branch{
		ID:          uuid.New(),
		ProjectID:   input.ProjectID,
		Name:        name,
		Description: input.Description,
		Priority:    priority,
		Status:      models.BranchStatusTodo,
	}
	if err := s.branches.Create(ctx, branch); err != nil {
		return nil, err
	}

	s.config.Logger.Info("Branch created", map[string]interface{}{
		"branch_id":  branch.ID.String(),
		"project_id": branch.ProjectID.String(),
		"name":       branch.Name,
	})
	return branch, nil
}

func (s *branchService) Get(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.Get")
	defer span.End()

	return s.branches.Get(ctx, id)
}

func (s *branchService) List(ctx context.Context, filter repository.BranchFilter) ([]*models.Branch, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.List")
	defer span.End()

	return s.branches.List(ctx, filter)
}

func (s *branchService) Update(ctx context.Context, id uuid.UUID, patch UpdateBranchInput) (*models.Branch, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.Update")
	defer span.End()

	var branch *models.Branch
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.branches.Get(ctx, id)
		if err != nil {
			return err
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Priority != nil {
			if !patch.Priority.Valid() {
				return errors.Wrapf(repository.ErrValidation, "unknown priority %q", *patch.Priority)
			}
			current.Priority = *patch.Priority
		}
		if patch.Status != nil {
			switch *patch.Status {
			case models.BranchStatusTodo, models.BranchStatusActive, models.BranchStatusBlocked,
				models.BranchStatusDone, models.BranchStatusArchived:
				current.Status = *patch.Status
			default:
				return errors.Wrapf(repository.ErrValidation, "unknown branch status %q", *patch.Status)
			}
		}
		if err := s.branches.Update(ctx, current); err != nil {
			return err
		}
		branch = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return branch, nil
}

func (s *branchService) Delete(ctx context.Context, projectID, branchID uuid.UUID) (int, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.Delete")
	defer span.End()

	branch, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return 0, err
	}
	if branch.ProjectID != projectID {
		return 0, errors.Wrapf(repository.ErrNotFound, "branch %s in project %s", branchID, projectID)
	}
	if branch.IsMain() {
		return 0, errors.Wrap(ErrForbidden, "the main branch cannot be deleted")
	}

	stats, err := s.branches.StatisticsFor(ctx, branchID)
	if err != nil {
		return 0, err
	}

	// Task rows go with the branch via the cascade rule.
	if err := s.branches.Delete(ctx, branchID); err != nil {
		return 0, err
	}

	s.config.Logger.Info("Branch deleted", map[string]interface{}{
		"branch_id":     branchID.String(),
		"project_id":    projectID.String(),
		"tasks_deleted": stats.TaskCount,
	})
	return stats.TaskCount, nil
}

func (s *branchService) Statistics(ctx context.Context, projectID uuid.UUID) ([]*repository.BranchStatistics, error) {
	ctx, span := s.config.Tracer(ctx, "BranchService.Statistics")
	defer span.End()

	return s.branches.Statistics(ctx, projectID)
}

// computeBranchStatus derives the aggregate branch status from its task
// statistics: done only when every task is done, blocked when blocked
// tasks exist and nothing is moving, todo only while empty.
func computeBranchStatus(stats *repository.BranchStatistics) models.BranchStatus {
	switch {
	case stats.TaskCount == 0:
		return models.BranchStatusTodo
	case stats.CompletedTaskCount == stats.TaskCount:
		return models.BranchStatusDone
	case stats.BlockedCount > 0 && stats.InProgressCount == 0:
		return models.BranchStatusBlocked
	default:
		return models.BranchStatusActive
	}
}

// refreshBranchStatus recomputes the branch's aggregate status after a
// task write. Archived branches are left alone.
func refreshBranchStatus(ctx context.Context, branches repository.BranchRepository, branchID uuid.UUID) error {
	branch, err := branches.Get(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.Status == models.BranchStatusArchived {
		return nil
	}
	stats, err := branches.StatisticsFor(ctx, branchID)
	if err != nil {
		return err
	}
	if next := computeBranchStatus(stats); next != branch.Status {
		return branches.UpdateStatus(ctx, branchID, next)
	}
	return nil
}
