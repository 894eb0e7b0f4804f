package services

import (
	"context"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// readyTaskWindow bounds how many ready tasks one selection considers.
// The repository orders them by the composite key, so the head of the
// window is the head of the whole set.
const readyTaskWindow = 50

// schedulerService implements SchedulerService.
type schedulerService struct {
	config   ServiceConfig
	tasks    repository.TaskRepository
	branches repository.BranchRepository
	graphs   repository.GraphRepository
	agents   repository.AgentRepository
	contexts ContextService
}

// NewSchedulerService creates the next-task selection service.
func NewSchedulerService(config ServiceConfig, tasks repository.TaskRepository, branches repository.BranchRepository, graphs repository.GraphRepository, agents repository.AgentRepository, contexts ContextService) SchedulerService {
	return &schedulerService{
		config:   config.withDefaults(),
		tasks:    tasks,
		branches: branches,
		graphs:   graphs,
		agents:   agents,
		contexts: contexts,
	}
}

func (s *schedulerService) NextTask(ctx context.Context, input NextTaskInput) (*NextTaskResult, error) {
	ctx, span := s.config.Tracer(ctx, "SchedulerService.NextTask")
	defer span.End()
	defer s.config.Metrics.StartTimer("next_task_seconds", nil)()

	branch, err := s.branches.Get(ctx, input.BranchID)
	if err != nil {
		return nil, err
	}

	ready, err := s.tasks.ReadyTasks(ctx, branch.ID, readyTaskWindow)
	if err != nil {
		return nil, err
	}

	eligible := ready
	agentFiltered := 0
	if input.RequestingAgent != "" {
		eligible = make([]*models.Task, 0, len(ready))
		for _, t := range ready {
			if agentEligible(branch, t, input.RequestingAgent) {
				eligible = append(eligible, t)
			}
		}
		agentFiltered = len(ready) - len(eligible)
	}

	if len(eligible) == 0 {
		diag, err := s.diagnose(ctx, branch, len(ready), agentFiltered)
		if err != nil {
			return nil, err
		}
		s.config.Metrics.IncrementCounterWithLabels("next_task_results", 1, map[string]string{"outcome": "empty"})
		return &NextTaskResult{Diagnostics: diag}, nil
	}

	task := eligible[0]
	result := &NextTaskResult{Task: task}

	if input.IncludeContext {
		resolved, err := s.contexts.Resolve(ctx, ResolveContextInput{
			Level:     models.LevelTask,
			ContextID: task.ID.String(),
		})
		switch {
		case err == nil:
			result.Context = resolved
		case repository.IsNotFound(err):
			// The task never wrote a context record; selection stands.
		default:
			return nil, err
		}
	}

	guidance, err := s.buildGuidance(ctx, branch, task)
	if err != nil {
		s.config.Logger.Warn("Workflow guidance failed", map[string]interface{}{
			"task_id": task.ID.String(),
			"error":   err.Error(),
		})
	} else {
		result.Guidance = guidance
	}

	s.config.Metrics.IncrementCounterWithLabels("next_task_results", 1, map[string]string{"outcome": "selected"})
	return result, nil
}

// agentEligible applies the requesting-agent filter: unassigned tasks
// are open to anyone, otherwise the agent must be an assignee or the
// branch owner.
func agentEligible(branch *models.Branch, task *models.Task, agent string) bool {
	if len(task.Assignees) == 0 {
		return true
	}
	if task.HasAssignee(agent) {
		return true
	}
	return branch.AssignedAgentID != nil && *branch.AssignedAgentID == agent
}

// diagnose explains an empty selection.
func (s *schedulerService) diagnose(ctx context.Context, branch *models.Branch, readyCount, agentFiltered int) (*SchedulingDiagnostics, error) {
	stats, err := s.branches.StatisticsFor(ctx, branch.ID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.tasks.BlockedSummary(ctx, branch.ID)
	if err != nil {
		return nil, err
	}

	diag := &SchedulingDiagnostics{
		OpenTasks: stats.TodoCount + stats.InProgressCount + stats.ReviewCount +
			stats.TestingCount + stats.BlockedCount,
		BlockedTasks:  stats.BlockedCount,
		AgentFiltered: agentFiltered,
	}
	if len(blocked) > 0 {
		diag.Blockers = make(map[string][]string, len(blocked))
		for taskID, blockers := range blocked {
			ids := make([]string, len(blockers))
			for i, b := range blockers {
				ids[i] = b.String()
			}
			diag.Blockers[taskID.String()] = ids
		}
	}

	switch {
	case readyCount > 0 && agentFiltered > 0:
		diag.Reason = "ready tasks exist but none are open to the requesting agent"
	case diag.OpenTasks == 0:
		diag.Reason = "no open tasks in the branch"
	case len(blocked) > 0:
		diag.Reason = "every candidate is waiting on incomplete dependencies"
	case stats.BlockedCount > 0:
		diag.Reason = "all remaining tasks are blocked"
	default:
		diag.Reason = "open tasks are in review or testing"
	}
	return diag, nil
}

// buildGuidance derives advisory routing for the chosen task: a
// recommended agent, the milestone checklist, and the dependents its
// completion would unblock.
func (s *schedulerService) buildGuidance(ctx context.Context, branch *models.Branch, task *models.Task) (*WorkflowGuidance, error) {
	registered, err := s.agents.List(ctx, repository.AgentFilter{ProjectID: branch.ProjectID})
	if err != nil {
		return nil, err
	}
	dependents, err := s.graphs.DependentsOf(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	guidance := &WorkflowGuidance{
		RecommendedAgent: recommendAgent(task, registered),
		Checklist:        buildChecklist(task),
	}
	for _, d := range dependents {
		if d.Type == models.DependencyBlocks {
			guidance.Unblocks = append(guidance.Unblocks, d.TaskID)
		}
	}
	return guidance, nil
}
