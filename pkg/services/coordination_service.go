package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// coordinationService implements CoordinationService.
type coordinationService struct {
	config       ServiceConfig
	coordination repository.CoordinationRepository
	tasks        repository.TaskRepository

	// contexts receives the handoff insight; nil disables the write.
	contexts ContextService
}

// NewCoordinationService creates the handoff, conflict, and messaging
// service.
func NewCoordinationService(config ServiceConfig, coordination repository.CoordinationRepository, tasks repository.TaskRepository, contexts ContextService) CoordinationService {
	return &coordinationService{
		config:       config.withDefaults(),
		coordination: coordination,
		tasks:        tasks,
		contexts:     contexts,
	}
}

func (s *coordinationService) OpenHandoff(ctx context.Context, input OpenHandoffInput) (*models.WorkHandoff, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.OpenHandoff")
	defer span.End()

	if input.FromAgentID == "" || input.ToAgentID == "" {
		return nil, errors.Wrap(repository.ErrValidation, "from_agent_id and to_agent_id are required")
	}
	if input.FromAgentID == input.ToAgentID {
		return nil, errors.Wrap(repository.ErrValidation, "cannot hand a task off to the same agent")
	}
	if _, err := s.tasks.Get(ctx, input.TaskID); err != nil {
		return nil, err
	}

	handoff := &models.WorkHandoff{
		ID:          uuid.New(),
		TaskID:      input.TaskID,
		FromAgentID: input.FromAgentID,
		ToAgentID:   input.ToAgentID,
		Reason:      input.Reason,
		Data:        input.Data,
		Status:      models.HandoffPending,
	}
	if err := s.coordination.CreateHandoff(ctx, handoff); err != nil {
		return nil, err
	}

	s.config.Logger.Info("Handoff opened", map[string]interface{}{
		"handoff_id": handoff.ID.String(),
		"task_id":    handoff.TaskID.String(),
		"from":       handoff.FromAgentID,
		"to":         handoff.ToAgentID,
	})
	return handoff, nil
}

func (s *coordinationService) AcceptHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.AcceptHandoff")
	defer span.End()

	return s.transitionHandoff(ctx, id, models.HandoffPending, models.HandoffAccepted)
}

func (s *coordinationService) RejectHandoff(ctx context.Context, id uuid.UUID) (*models.WorkHandoff, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.RejectHandoff")
	defer span.End()

	return s.transitionHandoff(ctx, id, models.HandoffPending, models.HandoffRejected)
}

func (s *coordinationService) CompleteHandoff(ctx context.Context, id uuid.UUID, notes string) (*models.WorkHandoff, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.CompleteHandoff")
	defer span.End()

	handoff, err := s.transitionHandoff(ctx, id, models.HandoffAccepted, models.HandoffCompleted)
	if err != nil {
		return nil, err
	}

	// The transfer survives in the task's context stream.
	if s.contexts != nil {
		content := fmt.Sprintf("Work handed off from %s to %s", handoff.FromAgentID, handoff.ToAgentID)
		if handoff.Reason != "" {
			content += ": " + handoff.Reason
		}
		if notes = strings.TrimSpace(notes); notes != "" {
			content += " (" + notes + ")"
		}
		_, err := s.contexts.AddInsight(ctx, AddInsightInput{
			Level:         models.LevelTask,
			ContextID:     handoff.TaskID.String(),
			Content:       content,
			Category:      "handoff",
			Importance:    models.ImportanceMedium,
			Confidence:    1,
			SourceAgent:   handoff.ToAgentID,
			SourceType:    "handoff",
			RelatedTaskID: &handoff.TaskID,
		})
		if err != nil {
			s.config.Logger.Warn("Handoff insight write failed", map[string]interface{}{
				"handoff_id": handoff.ID.String(),
				"error":      err.Error(),
			})
		}
	}

	s.config.Metrics.IncrementCounter("handoffs_completed", 1)
	return handoff, nil
}

// transitionHandoff applies a compare-and-set status change with a
// readable rejection when the handoff is not in the expected state.
func (s *coordinationService) transitionHandoff(ctx context.Context, id uuid.UUID, from, to models.HandoffStatus) (*models.WorkHandoff, error) {
	current, err := s.coordination.GetHandoff(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, errors.Wrapf(ErrConflict, "handoff is %s, expected %s", current.Status, from)
	}
	if err := s.coordination.TransitionHandoff(ctx, id, from, to); err != nil {
		if repository.IsOptimisticLock(err) {
			return nil, errors.Wrapf(ErrConflict, "handoff moved out of %s concurrently", from)
		}
		return nil, err
	}
	return s.coordination.GetHandoff(ctx, id)
}

func (s *coordinationService) ListHandoffs(ctx context.Context, agentID string, status models.HandoffStatus, limit int) ([]*models.WorkHandoff, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.ListHandoffs")
	defer span.End()

	return s.coordination.ListHandoffs(ctx, agentID, status, limit)
}

func (s *coordinationService) RecordConflict(ctx context.Context, input RecordConflictInput) (*models.ConflictRecord, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.RecordConflict")
	defer span.End()

	if input.Type == "" {
		return nil, errors.Wrap(repository.ErrValidation, "conflict type is required")
	}
	agents := dedupStrings(input.Agents)
	if len(agents) == 0 {
		return nil, errors.Wrap(repository.ErrValidation, "at least one agent is required")
	}
	if input.TaskID != nil {
		if _, err := s.tasks.Get(ctx, *input.TaskID); err != nil {
			return nil, err
		}
	}

	conflict := &models.ConflictRecord{
		ID:      uuid.New(),
		TaskID:  input.TaskID,
		Type:    input.Type,
		Agents:  models.StringList(agents),
		Details: input.Details,
	}
	if err := s.coordination.CreateConflict(ctx, conflict); err != nil {
		return nil, err
	}

	s.config.Metrics.IncrementCounterWithLabels("conflicts_recorded", 1, map[string]string{"type": input.Type})
	return conflict, nil
}

func (s *coordinationService) ResolveConflict(ctx context.Context, id uuid.UUID, strategy string, details models.JSONMap) (*models.ConflictRecord, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.ResolveConflict")
	defer span.End()

	if strings.TrimSpace(strategy) == "" {
		return nil, errors.Wrap(repository.ErrValidation, "resolution strategy is required")
	}
	current, err := s.coordination.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.IsResolved {
		return nil, errors.Wrap(ErrConflict, "conflict is already resolved")
	}

	if err := s.coordination.ResolveConflict(ctx, id, strategy, details); err != nil {
		return nil, err
	}
	return s.coordination.GetConflict(ctx, id)
}

func (s *coordinationService) ListConflicts(ctx context.Context, onlyOpen bool, limit int) ([]*models.ConflictRecord, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.ListConflicts")
	defer span.End()

	return s.coordination.ListConflicts(ctx, onlyOpen, limit)
}

func (s *coordinationService) SendMessage(ctx context.Context, input SendMessageInput) (*models.AgentCommunication, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.SendMessage")
	defer span.End()

	if input.FromAgentID == "" {
		return nil, errors.Wrap(repository.ErrValidation, "from_agent_id is required")
	}
	recipients := dedupStrings(input.ToAgentIDs)
	if len(recipients) == 0 {
		return nil, errors.Wrap(repository.ErrValidation, "at least one recipient is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.Wrap(repository.ErrValidation, "message content is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, errors.Wrapf(repository.ErrValidation, "unknown priority %q", priority)
	}
	if input.TaskID != nil {
		if _, err := s.tasks.Get(ctx, *input.TaskID); err != nil {
			return nil, err
		}
	}

	message := &models.AgentCommunication{
		ID:          uuid.New(),
		FromAgentID: input.FromAgentID,
		ToAgentIDs:  models.StringList(recipients),
		TaskID:      input.TaskID,
		Type:        input.Type,
		Content:     input.Content,
		Priority:    priority,
	}
	if err := s.coordination.SaveMessage(ctx, message); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *coordinationService) ListMessages(ctx context.Context, agentID string, taskID *uuid.UUID, limit int) ([]*models.AgentCommunication, error) {
	ctx, span := s.config.Tracer(ctx, "CoordinationService.ListMessages")
	defer span.End()

	return s.coordination.ListMessages(ctx, agentID, taskID, limit)
}
