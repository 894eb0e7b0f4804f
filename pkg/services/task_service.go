package services

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/graph"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// taskService implements TaskService. It owns the dependency and label
// writes around each task and the workload accounting that follows
// assignee changes.
type taskService struct {
	config   ServiceConfig
	tasks    repository.TaskRepository
	branches repository.BranchRepository
	subtasks repository.SubtaskRepository
	graphs   repository.GraphRepository
	agents   repository.AgentRepository

	// contexts receives the completion record; nil disables the write.
	contexts ContextService
}

// NewTaskService creates the task lifecycle service.
func NewTaskService(config ServiceConfig, tasks repository.TaskRepository, branches repository.BranchRepository, subtasks repository.SubtaskRepository, graphs repository.GraphRepository, agents repository.AgentRepository, contexts ContextService) TaskService {
	return &taskService{
		config:   config.withDefaults(),
		tasks:    tasks,
		branches: branches,
		subtasks: subtasks,
		graphs:   graphs,
		agents:   agents,
		contexts: contexts,
	}
}

func (s *taskService) Create(ctx context.Context, input CreateTaskInput) (*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.Create")
	defer span.End()

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, errors.Wrap(repository.ErrValidation, "task title is required")
	}
	branch, err := s.branches.Get(ctx, input.BranchID)
	if err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", priority)
	}

	task := &models.Task{
		ID:              uuid.New(),
		BranchID:        branch.ID,
		Title:           title,
		Status:          models.TaskStatusTodo,
		Priority:        priority,
		Description:     input.Description,
		Details:         input.Details,
		EstimatedEffort: input.EstimatedEffort,
		DueDate:         input.DueDate,
		Assignees:       models.StringList(dedupStrings(input.Assignees)),
	}

	// Prerequisites are vetted before anything is written: each must
	// exist inside the same project and adding its edge must keep the
	// graph acyclic.
	deps := dedupUUIDs(input.Dependencies)
	depTasks, err := s.checkDependencies(ctx, branch.ProjectID, task.ID, deps)
	if err != nil {
		return nil, err
	}

	acquired, err := s.acquireAssignees(ctx, branch.ProjectID, task.Assignees)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		s.releaseAssignees(ctx, branch.ProjectID, acquired, false)
		return nil, err
	}

	for _, slug := range graph.SlugSet(input.Labels) {
		label, err := s.graphs.EnsureLabel(ctx, slug, graph.Category(slug))
		if err != nil {
			return nil, err
		}
		if err := s.graphs.AttachLabel(ctx, task.ID, label.ID); err != nil {
			return nil, err
		}
	}
	for _, depID := range deps {
		edge := &models.TaskDependency{TaskID: task.ID, DependsOnTaskID: depID, Type: models.DependencyBlocks}
		if err := s.graphs.AddDependency(ctx, edge); err != nil {
			return nil, err
		}
		if dep := depTasks[depID]; dep != nil && dep.BranchID != task.BranchID {
			s.mirrorCrossBranch(ctx, branch.ProjectID, task.ID, depID)
		}
	}

	if err := refreshBranchStatus(ctx, s.branches, branch.ID); err != nil {
		s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
			"branch_id": branch.ID.String(),
			"error":     err.Error(),
		})
	}

	s.config.Metrics.IncrementCounter("tasks_created", 1)
	return s.tasks.Get(ctx, task.ID)
}

func (s *taskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.Get")
	defer span.End()

	return s.tasks.Get(ctx, id)
}

func (s *taskService) List(ctx context.Context, filter repository.TaskFilter) ([]*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.List")
	defer span.End()

	tasks, err := s.tasks.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *taskService) Update(ctx context.Context, id uuid.UUID, patch UpdateTaskInput) (*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.Update")
	defer span.End()

	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, errors.Wrap(repository.ErrValidation, "task title cannot be empty")
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", *patch.Priority)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown status %q", *patch.Status)
	}

	seed, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	branch, err := s.branches.Get(ctx, seed.BranchID)
	if err != nil {
		return nil, err
	}
	projectID := branch.ProjectID

	// Dependency changes are vetted up front so a cycle rejects the call
	// before any scalar write. The database trigger still backstops the
	// insert against races.
	var depsAdd, depsRemove []uuid.UUID
	var depTasks map[uuid.UUID]*models.Task
	if patch.Dependencies != nil {
		depsAdd, depsRemove = diffUUIDs(seed.Dependencies, dedupUUIDs(patch.Dependencies))
		depTasks, err = s.checkDependencies(ctx, projectID, id, depsAdd)
		if err != nil {
			return nil, err
		}
	}

	statusChanged := false
	err = retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.tasks.Get(ctx, id)
		if err != nil {
			return err
		}

		var pendingFrom, pendingTo models.TaskStatus
		if patch.Status != nil && *patch.Status != current.Status {
			to := *patch.Status
			switch {
			case current.Status.IsTerminal():
				// A status patch back to todo on a done or cancelled
				// task is the reopen path.
				if to != models.TaskStatusTodo {
					return errors.Wrapf(repository.ErrValidation, "cannot transition a %s task to %s", current.Status, to)
				}
				if err := s.reopen(ctx, current); err != nil {
					return err
				}
				statusChanged = true
				current, err = s.tasks.Get(ctx, id)
				if err != nil {
					return err
				}
			case to == models.TaskStatusDone:
				return errors.Wrap(repository.ErrValidation, "completion goes through the complete operation")
			case current.Status.CanTransitionTo(to):
				pendingFrom, pendingTo = current.Status, to
			default:
				return errors.Wrapf(repository.ErrValidation, "cannot transition %s to %s", current.Status, to)
			}
		}

		if patch.Title != nil {
			current.Title = strings.TrimSpace(*patch.Title)
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Details != nil {
			current.Details = *patch.Details
		}
		if patch.Priority != nil {
			current.Priority = *patch.Priority
		}
		if patch.EstimatedEffort != nil {
			current.EstimatedEffort = *patch.EstimatedEffort
		}
		if patch.ClearDueDate {
			current.DueDate = nil
		} else if patch.DueDate != nil {
			current.DueDate = patch.DueDate
		}

		// New assignees take their slots before the row is written so a
		// capacity failure rejects the whole patch.
		var acquiredNow, removedNow []string
		if patch.Assignees != nil {
			next := dedupStrings(patch.Assignees)
			var added []string
			added, removedNow = diffStrings(current.Assignees, next)
			acquiredNow, err = s.acquireAssignees(ctx, projectID, added)
			if err != nil {
				return err
			}
			current.Assignees = models.StringList(next)
		}

		if err := s.tasks.Update(ctx, current); err != nil {
			s.releaseAssignees(ctx, projectID, acquiredNow, false)
			return err
		}
		s.releaseAssignees(ctx, projectID, removedNow, false)

		if pendingTo != "" {
			if err := s.tasks.Transition(ctx, id, pendingFrom, pendingTo); err != nil {
				return err
			}
			statusChanged = true
			if pendingTo == models.TaskStatusCancelled || pendingTo == models.TaskStatusArchived {
				// Terminal without completion credit: the work ended.
				s.releaseAssignees(ctx, projectID, current.Assignees, false)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if patch.Labels != nil {
		if err := s.applyLabelPatch(ctx, id, seed.Labels, graph.SlugSet(patch.Labels)); err != nil {
			return nil, err
		}
	}
	for _, depID := range depsAdd {
		edge := &models.TaskDependency{TaskID: id, DependsOnTaskID: depID, Type: models.DependencyBlocks}
		if err := s.graphs.AddDependency(ctx, edge); err != nil {
			return nil, err
		}
		if dep := depTasks[depID]; dep != nil && dep.BranchID != seed.BranchID {
			s.mirrorCrossBranch(ctx, projectID, id, depID)
		}
	}
	for _, depID := range depsRemove {
		if err := s.graphs.RemoveDependency(ctx, id, depID); err != nil && !repository.IsNotFound(err) {
			return nil, err
		}
	}

	if statusChanged {
		if err := refreshBranchStatus(ctx, s.branches, seed.BranchID); err != nil {
			s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
				"branch_id": seed.BranchID.String(),
				"error":     err.Error(),
			})
		}
	}
	return s.tasks.Get(ctx, id)
}

func (s *taskService) Complete(ctx context.Context, id uuid.UUID, input CompleteTaskInput) (*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.Complete")
	defer span.End()

	summary := strings.TrimSpace(input.Summary)
	if summary == "" {
		return nil, errors.Wrap(repository.ErrValidation, "completion_summary is required")
	}

	var branchID uuid.UUID
	var assignees models.StringList
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		branchID = current.BranchID
		assignees = current.Assignees

		if current.Status == models.TaskStatusDone {
			return errors.Wrap(ErrConflict, "task is already done")
		}
		if !current.Status.CanTransitionTo(models.TaskStatusDone) {
			return errors.Wrapf(repository.ErrValidation, "cannot complete a %s task", current.Status)
		}

		blockers, err := s.graphs.IncompleteBlockers(ctx, id)
		if err != nil {
			return err
		}
		if len(blockers) > 0 {
			return errors.Wrapf(repository.ErrValidation, "%d dependencies are not done", len(blockers))
		}

		// Force overrides only the subtask gate, never dependencies.
		if !input.Force {
			progress, err := s.subtasks.Progress(ctx, id)
			if err != nil && !repository.IsNotFound(err) {
				return err
			}
			if progress != nil && progress.CompletedCount < progress.SubtaskCount {
				return errors.Wrapf(repository.ErrValidation, "%d of %d subtasks are not done",
					progress.SubtaskCount-progress.CompletedCount, progress.SubtaskCount)
			}
		}

		return s.tasks.Complete(ctx, id, current.Status, summary, input.TestingNotes)
	})
	if err != nil {
		return nil, err
	}

	branch, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return nil, err
	}
	s.releaseAssignees(ctx, branch.ProjectID, assignees, true)

	// The summary also lands in the task's context record where resolves
	// and delegation triggers can see it. The task row stays canonical,
	// so a failure here only logs.
	if s.contexts != nil {
		_, err := s.contexts.Update(ctx, UpdateContextInput{
			Level:     models.LevelTask,
			ContextID: id.String(),
			Patch: models.JSONMap{
				models.SectionTaskData: map[string]interface{}{
					"completion_summary": summary,
					"testing_notes":      input.TestingNotes,
					"completed_by":       input.CompletedBy,
				},
			},
		})
		if err != nil {
			s.config.Logger.Warn("Completion context write failed", map[string]interface{}{
				"task_id": id.String(),
				"error":   err.Error(),
			})
		}
	}

	if err := refreshBranchStatus(ctx, s.branches, branchID); err != nil {
		s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
			"branch_id": branchID.String(),
			"error":     err.Error(),
		})
	}

	s.config.Metrics.IncrementCounter("tasks_completed", 1)
	return s.tasks.Get(ctx, id)
}

func (s *taskService) Reopen(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	ctx, span := s.config.Tracer(ctx, "TaskService.Reopen")
	defer span.End()

	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.tasks.Get(ctx, id)
		if err != nil {
			return err
		}
		return s.reopen(ctx, current)
	})
	if err != nil {
		return nil, err
	}

	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := refreshBranchStatus(ctx, s.branches, task.BranchID); err != nil {
		s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
			"branch_id": task.BranchID.String(),
			"error":     err.Error(),
		})
	}
	return task, nil
}

// reopen applies the reopen rules to a freshly read task: only done or
// cancelled tasks, only within the grace window. Slots are re-acquired
// first so a capacity failure rejects the reopen outright.
func (s *taskService) reopen(ctx context.Context, task *models.Task) error {
	switch task.Status {
	case models.TaskStatusDone, models.TaskStatusCancelled:
	default:
		return errors.Wrapf(repository.ErrValidation, "cannot reopen a %s task", task.Status)
	}

	ref := task.UpdatedAt
	if task.CompletedAt != nil {
		ref = *task.CompletedAt
	}
	if nowFunc().Sub(ref) > s.config.ReopenGrace {
		return errors.Wrapf(repository.ErrValidation, "reopen window of %s has elapsed", s.config.ReopenGrace)
	}

	branch, err := s.branches.Get(ctx, task.BranchID)
	if err != nil {
		return err
	}
	acquired, err := s.acquireAssignees(ctx, branch.ProjectID, task.Assignees)
	if err != nil {
		return err
	}
	if err := s.tasks.Reopen(ctx, task.ID, task.Status); err != nil {
		s.releaseAssignees(ctx, branch.ProjectID, acquired, false)
		return err
	}

	s.config.Logger.Info("Task reopened", map[string]interface{}{
		"task_id": task.ID.String(),
		"from":    string(task.Status),
	})
	return nil
}

func (s *taskService) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.config.Tracer(ctx, "TaskService.Delete")
	defer span.End()

	current, err := s.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	branch, err := s.branches.Get(ctx, current.BranchID)
	if err != nil {
		return err
	}

	// Deleting open work is an unassignment for slot accounting.
	if !current.IsTerminal() {
		s.releaseAssignees(ctx, branch.ProjectID, current.Assignees, false)
	}

	if err := s.tasks.Delete(ctx, id); err != nil {
		return err
	}

	if err := refreshBranchStatus(ctx, s.branches, current.BranchID); err != nil {
		s.config.Logger.Warn("Branch status refresh failed", map[string]interface{}{
			"branch_id": current.BranchID.String(),
			"error":     err.Error(),
		})
	}
	return nil
}

func (s *taskService) AddDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID, depType models.DependencyType) error {
	ctx, span := s.config.Tracer(ctx, "TaskService.AddDependency")
	defer span.End()

	if depType == "" {
		depType = models.DependencyBlocks
	}
	if depType != models.DependencyBlocks && depType != models.DependencyRelated {
		return errors.Wrapf(repository.ErrValidation, "unknown dependency type %q", depType)
	}

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	branch, err := s.branches.Get(ctx, task.BranchID)
	if err != nil {
		return err
	}
	depTasks, err := s.checkDependencies(ctx, branch.ProjectID, taskID, []uuid.UUID{dependsOnTaskID})
	if err != nil {
		return err
	}

	edge := &models.TaskDependency{TaskID: taskID, DependsOnTaskID: dependsOnTaskID, Type: depType}
	if err := s.graphs.AddDependency(ctx, edge); err != nil {
		return err
	}
	if dep := depTasks[dependsOnTaskID]; dep != nil && dep.BranchID != task.BranchID {
		s.mirrorCrossBranch(ctx, branch.ProjectID, taskID, dependsOnTaskID)
	}
	return nil
}

func (s *taskService) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID) error {
	ctx, span := s.config.Tracer(ctx, "TaskService.RemoveDependency")
	defer span.End()

	return s.graphs.RemoveDependency(ctx, taskID, dependsOnTaskID)
}

// checkDependencies verifies each prerequisite exists inside projectID
// and that adding its edge keeps the project graph acyclic. Edges are
// added to the working graph as they pass, so a batch that only cycles
// through its own new edges is caught too.
func (s *taskService) checkDependencies(ctx context.Context, projectID, taskID uuid.UUID, deps []uuid.UUID) (map[uuid.UUID]*models.Task, error) {
	if len(deps) == 0 {
		return nil, nil
	}

	edges, err := s.graphs.ProjectEdges(ctx, projectID)
	if err != nil {
		return nil, err
	}
	g := graph.New(edges)

	out := make(map[uuid.UUID]*models.Task, len(deps))
	branchProjects := map[uuid.UUID]uuid.UUID{}
	for _, depID := range deps {
		dep, err := s.tasks.Get(ctx, depID)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %s", depID)
		}
		depProject, ok := branchProjects[dep.BranchID]
		if !ok {
			b, err := s.branches.Get(ctx, dep.BranchID)
			if err != nil {
				return nil, err
			}
			depProject = b.ProjectID
			branchProjects[dep.BranchID] = depProject
		}
		if depProject != projectID {
			return nil, errors.Wrapf(repository.ErrValidation, "dependency %s belongs to another project", depID)
		}
		if g.WouldCreateCycle(taskID, depID) {
			return nil, errors.Wrapf(repository.ErrCycle, "task %s depending on %s", taskID, depID)
		}
		g.Add(taskID, depID)
		out[depID] = dep
	}
	return out, nil
}

// applyLabelPatch reconciles the task's label set against nextSlugs.
func (s *taskService) applyLabelPatch(ctx context.Context, taskID uuid.UUID, currentSlugs, nextSlugs []string) error {
	added, removed := diffStrings(currentSlugs, nextSlugs)
	for _, slug := range added {
		label, err := s.graphs.EnsureLabel(ctx, slug, graph.Category(slug))
		if err != nil {
			return err
		}
		if err := s.graphs.AttachLabel(ctx, taskID, label.ID); err != nil {
			return err
		}
	}
	for _, slug := range removed {
		label, err := s.graphs.GetLabel(ctx, slug)
		if err != nil {
			if repository.IsNotFound(err) {
				continue
			}
			return err
		}
		if err := s.graphs.DetachLabel(ctx, taskID, label.ID); err != nil && !repository.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// mirrorCrossBranch records the project-level row for an edge spanning
// branches. The mirror is an audit surface; readiness reads the task
// dependency itself, so a failure here only logs.
func (s *taskService) mirrorCrossBranch(ctx context.Context, projectID, taskID, dependsOnTaskID uuid.UUID) {
	mirror := &models.CrossBranchDependency{
		ProjectID:          projectID,
		DependentTaskID:    taskID,
		PrerequisiteTaskID: dependsOnTaskID,
	}
	if err := s.graphs.AddCrossBranchDependency(ctx, mirror); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		s.config.Logger.Warn("Cross-branch dependency mirror failed", map[string]interface{}{
			"task_id":    taskID.String(),
			"depends_on": dependsOnTaskID.String(),
			"error":      err.Error(),
		})
	}
}

// acquireAssignees takes a workload slot for each registered assignee.
// Names that never registered as agents are skipped: assignment is not
// restricted to agents. On a capacity failure the slots already taken
// are returned before the error surfaces.
func (s *taskService) acquireAssignees(ctx context.Context, projectID uuid.UUID, assignees []string) ([]string, error) {
	acquired := make([]string, 0, len(assignees))
	for _, agentID := range assignees {
		err := s.agents.AcquireSlot(ctx, projectID, agentID)
		switch {
		case err == nil:
			acquired = append(acquired, agentID)
		case repository.IsNotFound(err):
			continue
		default:
			s.releaseAssignees(ctx, projectID, acquired, false)
			return nil, errors.Wrapf(err, "assign %s", agentID)
		}
	}
	return acquired, nil
}

// releaseAssignees frees workload slots best-effort.
func (s *taskService) releaseAssignees(ctx context.Context, projectID uuid.UUID, assignees []string, markCompleted bool) {
	for _, agentID := range assignees {
		err := s.agents.ReleaseSlot(ctx, projectID, agentID, markCompleted)
		if err != nil && !repository.IsNotFound(err) {
			s.config.Logger.Warn("Workload release failed", map[string]interface{}{
				"agent_id": agentID,
				"error":    err.Error(),
			})
		}
	}
}

// sortTasks orders by priority desc, due date asc with nulls last, then
// age, then id for a stable total order.
func sortTasks(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return taskLess(tasks[i], tasks[j])
	})
}

func taskLess(a, b *models.Task) bool {
	if ar, br := a.Priority.Rank(), b.Priority.Rank(); ar != br {
		return ar > br
	}
	switch {
	case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
		return a.DueDate.Before(*b.DueDate)
	case a.DueDate != nil && b.DueDate == nil:
		return true
	case a.DueDate == nil && b.DueDate != nil:
		return false
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}
