package services

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// defaultMaxConcurrentTasks applies when registration does not set a
// capacity.
const defaultMaxConcurrentTasks = 5

// agentService implements AgentService.
type agentService struct {
	config   ServiceConfig
	agents   repository.AgentRepository
	branches repository.BranchRepository
	projects repository.ProjectRepository
	tasks    repository.TaskRepository
}

// NewAgentService creates the agent registry and rebalancing service.
func NewAgentService(config ServiceConfig, agents repository.AgentRepository, branches repository.BranchRepository, projects repository.ProjectRepository, tasks repository.TaskRepository) AgentService {
	return &agentService{
		config:   config.withDefaults(),
		agents:   agents,
		branches: branches,
		projects: projects,
		tasks:    tasks,
	}
}

func (s *agentService) Register(ctx context.Context, input RegisterAgentInput) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.Register")
	defer span.End()

	agentID := strings.TrimSpace(input.AgentID)
	if agentID == "" {
		return nil, errors.Wrap(repository.ErrValidation, "agent id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = agentID
	}
	if _, err := s.projects.Get(ctx, input.ProjectID); err != nil {
		return nil, err
	}

	maxTasks := input.MaxConcurrentTasks
	if maxTasks <= 0 {
		maxTasks = defaultMaxConcurrentTasks
	}
	callAgent := input.CallAgent
	if callAgent == "" {
		callAgent = "@" + agentID
	}

	agent := &models.Agent{
		ID:                 agentID,
		ProjectID:          input.ProjectID,
		Name:               name,
		Description:        input.Description,
		CallAgent:          callAgent,
		Capabilities:       models.StringList(dedupStrings(input.Capabilities)),
		Specializations:    models.StringList(dedupStrings(input.Specializations)),
		Status:             models.AgentStatusAvailable,
		MaxConcurrentTasks: maxTasks,
	}
	if err := s.agents.Register(ctx, agent); err != nil {
		return nil, err
	}

	s.config.Logger.Info("Agent registered", map[string]interface{}{
		"agent_id":   agent.ID,
		"project_id": agent.ProjectID.String(),
	})
	s.config.Metrics.IncrementCounter("agents_registered", 1)
	return s.agents.Get(ctx, input.ProjectID, agentID)
}

func (s *agentService) Get(ctx context.Context, projectID uuid.UUID, agentID string) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.Get")
	defer span.End()

	return s.agents.Get(ctx, projectID, agentID)
}

func (s *agentService) List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.List")
	defer span.End()

	return s.agents.List(ctx, filter)
}

func (s *agentService) Update(ctx context.Context, projectID uuid.UUID, agentID string, patch UpdateAgentInput) (*models.Agent, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.Update")
	defer span.End()

	if patch.Status != nil {
		switch *patch.Status {
		case models.AgentStatusAvailable, models.AgentStatusBusy, models.AgentStatusOffline:
		default:
			return nil, errors.Wrapf(repository.ErrValidation, "unknown agent status %q", *patch.Status)
		}
	}

	var agent *models.Agent
	err := retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.agents.Get(ctx, projectID, agentID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return errors.Wrap(repository.ErrValidation, "agent name cannot be empty")
			}
			current.Name = name
		}
		if patch.Description != nil {
			current.Description = *patch.Description
		}
		if patch.Status != nil {
			current.Status = *patch.Status
		}
		if patch.Capabilities != nil {
			current.Capabilities = models.StringList(dedupStrings(patch.Capabilities))
		}
		if patch.Specializations != nil {
			current.Specializations = models.StringList(dedupStrings(patch.Specializations))
		}
		if patch.MaxConcurrentTasks != nil {
			if *patch.MaxConcurrentTasks < current.CurrentWorkload {
				return errors.Wrapf(repository.ErrCapacity,
					"max_concurrent_tasks %d below current workload %d", *patch.MaxConcurrentTasks, current.CurrentWorkload)
			}
			current.MaxConcurrentTasks = *patch.MaxConcurrentTasks
		}
		if err := s.agents.Update(ctx, current); err != nil {
			return err
		}
		agent = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return agent, nil
}

func (s *agentService) Unregister(ctx context.Context, projectID uuid.UUID, agentID string) error {
	ctx, span := s.config.Tracer(ctx, "AgentService.Unregister")
	defer span.End()

	agent, err := s.agents.Get(ctx, projectID, agentID)
	if err != nil {
		return err
	}
	if agent.CurrentWorkload > 0 {
		return errors.Wrapf(ErrConflict, "agent %s still has %d active tasks", agentID, agent.CurrentWorkload)
	}

	// Branch ownership moves back to unowned; assignment rows go with
	// the agent.
	owned, err := s.agents.BranchesFor(ctx, projectID, agentID)
	if err != nil {
		return err
	}
	for _, branchID := range owned {
		branch, err := s.branches.Get(ctx, branchID)
		if err != nil {
			if repository.IsNotFound(err) {
				continue
			}
			return err
		}
		if branch.AssignedAgentID != nil && *branch.AssignedAgentID == agentID {
			if err := s.branches.SetAssignedAgent(ctx, branchID, nil); err != nil {
				return err
			}
		}
	}

	if err := s.agents.Unregister(ctx, projectID, agentID); err != nil {
		return err
	}
	s.config.Logger.Info("Agent unregistered", map[string]interface{}{
		"agent_id":   agentID,
		"project_id": projectID.String(),
	})
	return nil
}

func (s *agentService) AssignToBranch(ctx context.Context, projectID uuid.UUID, agentID string, branchID uuid.UUID) error {
	ctx, span := s.config.Tracer(ctx, "AgentService.AssignToBranch")
	defer span.End()

	if _, err := s.agents.Get(ctx, projectID, agentID); err != nil {
		return err
	}
	branch, err := s.branches.Get(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.ProjectID != projectID {
		return errors.Wrapf(repository.ErrValidation, "branch %s belongs to another project", branchID)
	}

	assignment := &models.AgentBranchAssignment{
		ProjectID: projectID,
		AgentID:   agentID,
		BranchID:  branchID,
	}
	if err := s.agents.AssignBranch(ctx, assignment); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return err
	}

	// Primary ownership is first-come: only an unowned branch gets one.
	if branch.AssignedAgentID == nil {
		if err := s.branches.SetAssignedAgent(ctx, branchID, &agentID); err != nil {
			return err
		}
	}
	return nil
}

func (s *agentService) Rebalance(ctx context.Context, projectID uuid.UUID) (*RebalanceResult, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.Rebalance")
	defer span.End()

	registered, err := s.agents.List(ctx, repository.AgentFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Agent, len(registered))
	for _, a := range registered {
		byID[a.ID] = a
	}

	branches, err := s.branches.List(ctx, repository.BranchFilter{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	// Branch order fixes the outcome for a given snapshot.
	sort.Slice(branches, func(i, j int) bool {
		return branches[i].ID.String() < branches[j].ID.String()
	})

	result := &RebalanceResult{}
	for _, branch := range branches {
		if branch.AssignedAgentID == nil {
			continue
		}
		owner := byID[*branch.AssignedAgentID]
		if owner != nil && owner.LoadFactor() < 1 {
			continue
		}
		result.Examined++

		required, err := s.branchCapabilities(ctx, branch.ID)
		if err != nil {
			return nil, err
		}
		if len(required) == 0 {
			// No labeled open tasks means no signal to route on.
			continue
		}

		candidate := pickLeastLoaded(registered, required, *branch.AssignedAgentID)
		if candidate == nil {
			continue
		}

		if err := s.branches.SetAssignedAgent(ctx, branch.ID, &candidate.ID); err != nil {
			return nil, err
		}
		assignment := &models.AgentBranchAssignment{
			ProjectID: projectID,
			AgentID:   candidate.ID,
			BranchID:  branch.ID,
		}
		if err := s.agents.AssignBranch(ctx, assignment); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}

		result.Moves = append(result.Moves, RebalanceMove{
			BranchID:  branch.ID,
			FromAgent: *branch.AssignedAgentID,
			ToAgent:   candidate.ID,
		})
		s.config.Logger.Info("Branch rebalanced", map[string]interface{}{
			"branch_id": branch.ID.String(),
			"from":      *branch.AssignedAgentID,
			"to":        candidate.ID,
		})
	}

	s.config.Metrics.IncrementCounterWithLabels("rebalance_moves", float64(len(result.Moves)),
		map[string]string{"project": projectID.String()})
	return result, nil
}

func (s *agentService) Workloads(ctx context.Context, projectID uuid.UUID) ([]*models.AgentWorkload, error) {
	ctx, span := s.config.Tracer(ctx, "AgentService.Workloads")
	defer span.End()

	return s.agents.Workloads(ctx, projectID)
}

// branchCapabilities derives the capability set the branch's open tasks
// ask for through their labels.
func (s *agentService) branchCapabilities(ctx context.Context, branchID uuid.UUID) ([]string, error) {
	tasks, err := s.tasks.List(ctx, repository.TaskFilter{BranchID: &branchID})
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, t := range tasks {
		if t.IsTerminal() {
			continue
		}
		labels = append(labels, t.Labels...)
	}
	return requiredCapabilities(labels), nil
}

// pickLeastLoaded returns the available agent with the lowest load
// factor sharing at least one required capability, ties broken by agent
// id. The current owner is never picked.
func pickLeastLoaded(agents []*models.Agent, required []string, currentOwner string) *models.Agent {
	var best *models.Agent
	for _, a := range agents {
		if a.ID == currentOwner || a.Status != models.AgentStatusAvailable || a.LoadFactor() >= 1 {
			continue
		}
		match := false
		for _, cap := range required {
			if a.HasCapability(cap) {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if best == nil || a.LoadFactor() < best.LoadFactor() ||
			(a.LoadFactor() == best.LoadFactor() && a.ID < best.ID) {
			best = a
		}
	}
	return best
}
