package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/graph"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// complianceService implements ComplianceService. It re-derives the
// standing invariants from live rows, so a passing report means the
// triggers and services have kept the data honest.
type complianceService struct {
	config       ServiceConfig
	projects     repository.ProjectRepository
	branches     repository.BranchRepository
	graphs       repository.GraphRepository
	agents       repository.AgentRepository
	delegations  repository.DelegationRepository
	propagations repository.PropagationRepository
}

// NewComplianceService creates the invariant checker.
func NewComplianceService(
	config ServiceConfig,
	projects repository.ProjectRepository,
	branches repository.BranchRepository,
	graphs repository.GraphRepository,
	agents repository.AgentRepository,
	delegations repository.DelegationRepository,
	propagations repository.PropagationRepository,
) ComplianceService {
	return &complianceService{
		config:       config.withDefaults(),
		projects:     projects,
		branches:     branches,
		graphs:       graphs,
		agents:       agents,
		delegations:  delegations,
		propagations: propagations,
	}
}

func (s *complianceService) Validate(ctx context.Context, projectID uuid.UUID) (*ComplianceReport, error) {
	ctx, span := s.config.Tracer(ctx, "ComplianceService.Validate")
	defer span.End()

	if _, err := s.projects.Get(ctx, projectID); err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		ProjectID: projectID,
		CheckedAt: nowFunc().UTC(),
	}
	for _, check := range []func(context.Context, uuid.UUID, *ComplianceReport) error{
		s.checkBranchCounters,
		s.checkDependencyGraph,
		s.checkWorkloadBounds,
		s.checkDelegationDirections,
	} {
		if err := check(ctx, projectID, report); err != nil {
			return nil, err
		}
	}

	s.config.Metrics.RecordGauge("compliance_violations", float64(len(report.Violations)), map[string]string{
		"project_id": projectID.String(),
	})
	return report, nil
}

// checkBranchCounters compares the trigger-maintained counter columns on
// each branch row against the live statistics view.
func (s *complianceService) checkBranchCounters(ctx context.Context, projectID uuid.UUID, report *ComplianceReport) error {
	stats, err := s.branches.Statistics(ctx, projectID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]*repository.BranchStatistics, len(stats))
	for _, st := range stats {
		byID[st.BranchID] = st
	}

	branchList, err := s.branches.List(ctx, repository.BranchFilter{ProjectID: projectID})
	if err != nil {
		return err
	}
	for _, branch := range branchList {
		report.Checks++
		st := byID[branch.ID]
		if st == nil {
			if branch.TaskCount != 0 || branch.CompletedTaskCount != 0 {
				report.Violations = append(report.Violations, ComplianceViolation{
					Rule:    "counter_consistency",
					Subject: branch.ID.String(),
					Detail:  fmt.Sprintf("branch %q counts tasks without statistics rows", branch.Name),
				})
			}
			continue
		}
		if branch.TaskCount != st.TaskCount || branch.CompletedTaskCount != st.CompletedTaskCount {
			report.Violations = append(report.Violations, ComplianceViolation{
				Rule:    "counter_consistency",
				Subject: branch.ID.String(),
				Detail: fmt.Sprintf("branch %q counters (%d/%d) disagree with live counts (%d/%d)",
					branch.Name, branch.CompletedTaskCount, branch.TaskCount,
					st.CompletedTaskCount, st.TaskCount),
			})
		}
	}
	return nil
}

// checkDependencyGraph verifies the project's dependency edges still
// form a DAG.
func (s *complianceService) checkDependencyGraph(ctx context.Context, projectID uuid.UUID, report *ComplianceReport) error {
	edges, err := s.graphs.ProjectEdges(ctx, projectID)
	if err != nil {
		return err
	}
	report.Checks++
	if graph.New(edges).HasCycle() {
		report.Violations = append(report.Violations, ComplianceViolation{
			Rule:    "acyclic_dependencies",
			Subject: projectID.String(),
			Detail:  fmt.Sprintf("dependency graph with %d edges contains a cycle", len(edges)),
		})
	}
	return nil
}

// checkWorkloadBounds verifies no agent sits above its configured
// concurrency ceiling.
func (s *complianceService) checkWorkloadBounds(ctx context.Context, projectID uuid.UUID, report *ComplianceReport) error {
	workloads, err := s.agents.Workloads(ctx, projectID)
	if err != nil {
		return err
	}
	for _, w := range workloads {
		report.Checks++
		if w.MaxConcurrentTasks > 0 && w.CurrentWorkload > w.MaxConcurrentTasks {
			report.Violations = append(report.Violations, ComplianceViolation{
				Rule:    "workload_bound",
				Subject: w.AgentID,
				Detail: fmt.Sprintf("agent carries %d tasks over a ceiling of %d",
					w.CurrentWorkload, w.MaxConcurrentTasks),
			})
		}
	}
	return nil
}

// checkDelegationDirections verifies every pending delegation still
// points strictly upward.
func (s *complianceService) checkDelegationDirections(ctx context.Context, projectID uuid.UUID, report *ComplianceReport) error {
	targets, err := s.delegations.PendingTargets(ctx, 0)
	if err != nil {
		return err
	}
	for _, target := range targets {
		level, id, ok := splitTargetKey(target)
		if !ok {
			report.Checks++
			report.Violations = append(report.Violations, ComplianceViolation{
				Rule:    "hierarchy_direction",
				Subject: target,
				Detail:  "delegation queue target key is malformed",
			})
			continue
		}
		pending, err := s.delegations.PendingForTarget(ctx, level, id, 0)
		if err != nil {
			return err
		}
		for _, d := range pending {
			report.Checks++
			if !d.ValidDirection() {
				report.Violations = append(report.Violations, ComplianceViolation{
					Rule:    "hierarchy_direction",
					Subject: d.ID.String(),
					Detail: fmt.Sprintf("delegation moves %s -> %s, which is not strictly upward",
						d.SourceLevel, d.TargetLevel),
				})
			}
		}
	}
	return nil
}

func (s *complianceService) AuditTrail(ctx context.Context, level models.ContextLevel, id string, limit int) (*AuditTrail, error) {
	ctx, span := s.config.Tracer(ctx, "ComplianceService.AuditTrail")
	defer span.End()

	contextID, err := normalizeTier(level, id)
	if err != nil {
		return nil, err
	}
	propagations, err := s.propagations.ListForSource(ctx, level, contextID, limit)
	if err != nil {
		return nil, err
	}
	delegations, err := s.delegations.ListForSource(ctx, level, contextID, limit)
	if err != nil {
		return nil, err
	}
	return &AuditTrail{
		Level:        level,
		ContextID:    contextID,
		Propagations: propagations,
		Delegations:  delegations,
	}, nil
}
