package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// subtaskService implements SubtaskService. Subtask writes roll up into
// the parent task: progress aggregates through the statistics view and a
// first in_progress subtask moves a todo parent to in_progress. Parent
// completion is never automatic.
type subtaskService struct {
	config   ServiceConfig
	subtasks repository.SubtaskRepository
	tasks    repository.TaskRepository
	branches repository.BranchRepository

	// contexts receives rolled-up insights; nil disables the write.
	contexts ContextService
}

// NewSubtaskService creates the subtask lifecycle service.
func NewSubtaskService(config ServiceConfig, subtasks repository.SubtaskRepository, tasks repository.TaskRepository, branches repository.BranchRepository, contexts ContextService) SubtaskService {
	return &subtaskService{
		config:   config.withDefaults(),
		subtasks: subtasks,
		tasks:    tasks,
		branches: branches,
		contexts: contexts,
	}
}

func (s *subtaskService) Create(ctx context.Context, input CreateSubtaskInput) (*models.Subtask, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Create")
	defer span.End()

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.Wrap(repository.ErrValidation, "subtask title is required")
	}
	parent, err := s.tasks.Get(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	if parent.IsTerminal() {
		return nil, errors.Wrapf(repository.ErrValidation, "cannot add subtasks to a %s task", parent.Status)
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", priority)
	}

	subtask := &models.Subtask{
		ID:              uuid.New(),
		TaskID:          parent.ID,
		Title:           title,
		Status:          models.TaskStatusTodo,
		Priority:        priority,
		Description:     input.Description,
		Assignees:       models.StringList(dedupStrings(input.Assignees)),
		EstimatedEffort: input.EstimatedEffort,
	}
	if err := s.subtasks.Create(ctx, subtask); err != nil {
		return nil, err
	}
	return subtask, nil
}

func (s *subtaskService) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Get")
	defer span.End()

	return s.subtasks.Get(ctx, id)
}

func (s *subtaskService) ListForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Subtask, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.ListForTask")
	defer span.End()

	return s.subtasks.ListForTask(ctx, taskID)
}

func (s *subtaskService) Update(ctx context.Context, id uuid.UUID, patch UpdateSubtaskInput) (*models.Subtask, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Update")
	defer span.End()

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, errors.Wrap(repository.ErrValidation, "subtask title cannot be empty")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", *patch.Priority)
	}

	var subtask *models.Subtask
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.subtasks.Get(ctx, id)
		if err != nil {
			return err
		}

		if patch.Status != nil && *patch.Status != current.Status {
			to := *patch.Status
			if !to.Valid() {
				return errors.Wrapf(repository.ErrValidation, "unknown status %q", to)
			}
			if to == models.TaskStatusDone {
				return errors.Wrap(repository.ErrValidation, "completion goes through the complete operation")
			}
			if !current.Status.CanTransitionTo(to) {
				return errors.Wrapf(repository.ErrValidation, "cannot transition %s to %s", current.Status, to)
			}
			current.Status = to
		}
		if patch.Title != nil {
			current.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Priority != nil {
			current.Priority = *patch.Priority
		}
		if patch.ProgressPercentage != nil {
			current.ProgressPercentage = clampProgress(*patch.ProgressPercentage)
		}
		if patch.ProgressNotes != nil {
			current.ProgressNotes = *patch.ProgressNotes
		}
		if patch.Blockers != nil {
			current.Blockers = models.StringList(dedupStrings(patch.Blockers))
		}
		if patch.Assignees != nil {
			current.Assignees = models.StringList(dedupStrings(patch.Assignees))
		}

		if err := s.subtasks.Update(ctx, current); err != nil {
			return err
		}
		subtask = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rollupParent(ctx, subtask.TaskID)
	return subtask, nil
}

func (s *subtaskService) Complete(ctx context.Context, id uuid.UUID, input CompleteSubtaskInput) (*models.Subtask, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Complete")
	defer span.End()

	summary := strings.TrimSpace(input.Summary)
	if summary == "" {
		return nil, errors.Wrap(repository.ErrValidation, "completion_summary is required")
	}

	var subtask *models.Subtask
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.subtasks.Get(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == models.TaskStatusDone {
			return errors.Wrap(ErrConflict, "subtask is already done")
		}
		if !current.Status.CanTransitionTo(models.TaskStatusDone) {
			return errors.Wrapf(repository.ErrValidation, "cannot complete a %s subtask", current.Status)
		}

		now := nowFunc().UTC()
		current.Status = models.TaskStatusDone
		current.ProgressPercentage = 100
		current.CompletionSummary = summary
		current.ImpactOnParent = input.ImpactOnParent
		current.InsightsFound = models.StringList(dedupStrings(input.InsightsFound))
		current.CompletedAt = &now

		if err := s.subtasks.Update(ctx, current); err != nil {
			return err
		}
		subtask = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rollupParent(ctx, subtask.TaskID)

	// Insights found during the subtask flow into the parent task's
	// insight stream, best-effort.
	if s.contexts != nil {
		for _, found := range subtask.InsightsFound {
			_, err := s.contexts.AddInsight(ctx, AddInsightInput{
				Level:         models.LevelTask,
				ContextID:     subtask.TaskID.String(),
				Content:       found,
				Category:      "subtask_completion",
				Importance:    models.ImportanceMedium,
				Confidence:    0.8,
				SourceType:    "subtask",
				RelatedTaskID: &subtask.TaskID,
			})
			if err != nil {
				s.config.Logger.Warn("Subtask insight write failed", map[string]interface{}{
					"subtask_id": subtask.ID.String(),
					"error":      err.Error(),
				})
			}
		}
	}

	s.config.Metrics.IncrementCounter("subtasks_completed", 1)
	return subtask, nil
}

func (s *subtaskService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Delete")
	defer span.End()

	subtask, err := s.subtasks.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.subtasks.Delete(ctx, id); err != nil {
		return err
	}
	s.rollupParent(ctx, subtask.TaskID)
	return nil
}

func (s *subtaskService) Progress(ctx context.Context, taskID uuid.UUID) (*models.SubtaskProgress, error) {
	ctx, span := s.config.Tracer(ctx, "SubtaskService.Progress")
	defer span.End()

	progress, err := s.subtasks.Progress(ctx, taskID)
	if repository.IsNotFound(err) {
		return &models.SubtaskProgress{TaskID: taskID}, nil
	}
	return progress, err
}

// rollupParent applies the one automatic parent transition: a todo
// parent moves to in_progress once any subtask is in_progress. Nothing
// here ever completes the parent.
func (s *subtaskService) rollupParent(ctx context.Context, taskID uuid.UUID) {
	parent, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		s.config.Logger.Warn("Parent rollup read failed", map[string]interface{}{
			"task_id": taskID.String(),
			"error":   err.Error(),
		})
		return
	}
	if parent.Status != models.TaskStatusTodo {
		return
	}

	subtasks, err := s.subtasks.ListForTask(ctx, taskID)
	if err != nil {
		s.config.Logger.Warn("Parent rollup list failed", map[string]interface{}{
			"task_id": taskID.String(),
			"error":   err.Error(),
		})
		return
	}
	active := false
	for _, st := range subtasks {
		if st.Status == models.TaskStatusInProgress {
			active = true
			break
		}
	}
	if !active {
		return
	}

	if err := s.tasks.Transition(ctx, taskID, models.TaskStatusTodo, models.TaskStatusInProgress); err != nil {
		// A concurrent writer moved the parent first; that is fine.
		if !repository.IsOptimisticLock(err) {
			s.config.Logger.Warn("Parent rollup transition failed", map[string]interface{}{
				"task_id": taskID.String(),
				"error":   err.Error(),
			})
		}
		return
	}
	if err := refreshBranchStatus(ctx, s.branches, parent.BranchID); err != nil {
		s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
			"branch_id": parent.BranchID.String(),
			"error":     err.Error(),
		})
	}
}

// clampProgress bounds a progress percentage to [0,100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
