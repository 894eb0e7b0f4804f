package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type agentRepository struct {
	*BaseRepository
}

// NewAgentRepository creates the PostgreSQL agent repository.
func NewAgentRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.AgentRepository {
	return &agentRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("agent_repository", logger, metrics)),
	}
}

func agentCacheKey(projectID uuid.UUID, agentID string) string {
	return fmt.Sprintf("agent:%s:%s", projectID, agentID)
}

// Register upserts the agent by (id, project_id), preserving workload
// counters on re-registration.
func (r *agentRepository) Register(ctx context.Context, agent *models.Agent) error {
	ctx, span := r.tracer(ctx, "AgentRepository.Register")
	defer span.End()

	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	if agent.Version == 0 {
		agent.Version = 1
	}
	if agent.Status == "" {
		agent.Status = models.AgentStatusAvailable
	}
	if agent.MaxConcurrentTasks <= 0 {
		agent.MaxConcurrentTasks = 1
	}

	query := `
		INSERT INTO agents (id, project_id, name, description, call_agent, capabilities,
		                    specializations, status, max_concurrent_tasks,
		                    created_at, updated_at, version)
		VALUES (:id, :project_id, :name, :description, :call_agent, :capabilities,
		        :specializations, :status, :max_concurrent_tasks,
		        :created_at, :updated_at, :version)
		ON CONFLICT (id, project_id) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description,
		    call_agent = EXCLUDED.call_agent, capabilities = EXCLUDED.capabilities,
		    specializations = EXCLUDED.specializations, status = EXCLUDED.status,
		    max_concurrent_tasks = EXCLUDED.max_concurrent_tasks,
		    version = agents.version + 1`

	err := r.ExecuteQuery(ctx, "agent_register", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, agent)
		return err
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(agent.ProjectID, agent.ID))
}

func (r *agentRepository) Get(ctx context.Context, projectID uuid.UUID, agentID string) (*models.Agent, error) {
	ctx, span := r.tracer(ctx, "AgentRepository.Get")
	defer span.End()

	var agent models.Agent
	err := r.ExecuteQuery(ctx, "agent_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &agent,
			`SELECT * FROM agents WHERE id = $1 AND project_id = $2`, agentID, projectID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "agent")
	}
	return &agent, nil
}

func (r *agentRepository) List(ctx context.Context, filter repository.AgentFilter) ([]*models.Agent, error) {
	ctx, span := r.tracer(ctx, "AgentRepository.List")
	defer span.End()

	query := `SELECT * FROM agents WHERE project_id = $1`
	args := []interface{}{filter.ProjectID}
	idx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.Capability != "" {
		query += fmt.Sprintf(" AND capabilities @> to_jsonb(ARRAY[$%d]::text[])", idx)
		args = append(args, filter.Capability)
	}
	query += " ORDER BY id ASC"

	var agents []*models.Agent
	err := r.ExecuteQuery(ctx, "agent_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &agents, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "agent")
	}
	return agents, nil
}

func (r *agentRepository) Update(ctx context.Context, agent *models.Agent) error {
	ctx, span := r.tracer(ctx, "AgentRepository.Update")
	defer span.End()

	query := `
		UPDATE agents
		SET name = :name, description = :description, call_agent = :call_agent,
		    capabilities = :capabilities, specializations = :specializations,
		    status = :status, max_concurrent_tasks = :max_concurrent_tasks,
		    success_rate = :success_rate, version = version + 1
		WHERE id = :id AND project_id = :project_id AND version = :version`

	err := r.ExecuteQuery(ctx, "agent_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, agent)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.agentStaleOrMissing(ctx, agent.ProjectID, agent.ID)
		}
		agent.Version++
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(agent.ProjectID, agent.ID))
}

func (r *agentRepository) agentStaleOrMissing(ctx context.Context, projectID uuid.UUID, agentID string) error {
	var exists bool
	err := r.readDB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1 AND project_id = $2)`,
		agentID, projectID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return repository.ErrOptimisticLock
	}
	return repository.ErrNotFound
}

func (r *agentRepository) SetStatus(ctx context.Context, projectID uuid.UUID, agentID string, status models.AgentStatus) error {
	ctx, span := r.tracer(ctx, "AgentRepository.SetStatus")
	defer span.End()

	err := r.ExecuteQuery(ctx, "agent_set_status", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`UPDATE agents SET status = $3, version = version + 1 WHERE id = $1 AND project_id = $2`,
			agentID, projectID, status)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(projectID, agentID))
}

func (r *agentRepository) Unregister(ctx context.Context, projectID uuid.UUID, agentID string) error {
	ctx, span := r.tracer(ctx, "AgentRepository.Unregister")
	defer span.End()

	err := r.ExecuteQuery(ctx, "agent_unregister", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM agents WHERE id = $1 AND project_id = $2`, agentID, projectID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(projectID, agentID))
}

// AcquireSlot claims one unit of workload with a guarded update. The WHERE
// clause is the capacity gate; zero rows means either no headroom or no
// such agent.
func (r *agentRepository) AcquireSlot(ctx context.Context, projectID uuid.UUID, agentID string) error {
	ctx, span := r.tracer(ctx, "AgentRepository.AcquireSlot")
	defer span.End()

	err := r.ExecuteQuery(ctx, "agent_acquire_slot", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE agents
			SET current_workload = current_workload + 1, version = version + 1
			WHERE id = $1 AND project_id = $2
			  AND current_workload < max_concurrent_tasks`,
			agentID, projectID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var exists bool
			if err := r.readDB.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1 AND project_id = $2)`,
				agentID, projectID).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return repository.ErrCapacity
			}
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(projectID, agentID))
}

// ReleaseSlot returns one unit of workload, clamped at zero.
func (r *agentRepository) ReleaseSlot(ctx context.Context, projectID uuid.UUID, agentID string, markCompleted bool) error {
	ctx, span := r.tracer(ctx, "AgentRepository.ReleaseSlot")
	defer span.End()

	err := r.ExecuteQuery(ctx, "agent_release_slot", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `
			UPDATE agents
			SET current_workload = GREATEST(current_workload - 1, 0),
			    completed_tasks = completed_tasks + CASE WHEN $3 THEN 1 ELSE 0 END,
			    version = version + 1
			WHERE id = $1 AND project_id = $2`,
			agentID, projectID, markCompleted)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "agent")
	}
	return r.CacheDelete(ctx, agentCacheKey(projectID, agentID))
}

func (r *agentRepository) AssignBranch(ctx context.Context, assignment *models.AgentBranchAssignment) error {
	ctx, span := r.tracer(ctx, "AgentRepository.AssignBranch")
	defer span.End()

	assignment.AssignedAt = time.Now().UTC()
	err := r.ExecuteQuery(ctx, "agent_assign_branch", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx, `
			INSERT INTO agent_branch_assignments (project_id, agent_id, branch_id, assigned_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (agent_id, branch_id) DO NOTHING`,
			assignment.ProjectID, assignment.AgentID, assignment.BranchID, assignment.AssignedAt)
		return err
	})
	return r.TranslateError(err, "agent assignment")
}

func (r *agentRepository) UnassignBranch(ctx context.Context, agentID string, branchID uuid.UUID) error {
	ctx, span := r.tracer(ctx, "AgentRepository.UnassignBranch")
	defer span.End()

	err := r.ExecuteQuery(ctx, "agent_unassign_branch", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM agent_branch_assignments WHERE agent_id = $1 AND branch_id = $2`,
			agentID, branchID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
	return r.TranslateError(err, "agent assignment")
}

func (r *agentRepository) BranchesFor(ctx context.Context, projectID uuid.UUID, agentID string) ([]uuid.UUID, error) {
	ctx, span := r.tracer(ctx, "AgentRepository.BranchesFor")
	defer span.End()

	var ids []uuid.UUID
	err := r.ExecuteQuery(ctx, "agent_branches_for", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &ids, `
			SELECT branch_id FROM agent_branch_assignments
			WHERE project_id = $1 AND agent_id = $2
			ORDER BY assigned_at ASC`, projectID, agentID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "agent assignment")
	}
	return ids, nil
}

func (r *agentRepository) AgentsForBranch(ctx context.Context, branchID uuid.UUID) ([]string, error) {
	ctx, span := r.tracer(ctx, "AgentRepository.AgentsForBranch")
	defer span.End()

	var ids []string
	err := r.ExecuteQuery(ctx, "agents_for_branch", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &ids, `
			SELECT agent_id FROM agent_branch_assignments
			WHERE branch_id = $1 ORDER BY assigned_at ASC`, branchID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "agent assignment")
	}
	return ids, nil
}

func (r *agentRepository) Workloads(ctx context.Context, projectID uuid.UUID) ([]*models.AgentWorkload, error) {
	ctx, span := r.tracer(ctx, "AgentRepository.Workloads")
	defer span.End()

	var workloads []*models.AgentWorkload
	err := r.ExecuteQuery(ctx, "agent_workloads", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &workloads, `
			SELECT agent_id, current_workload, max_concurrent_tasks, active_branches, load_factor
			FROM agent_workload_summary
			WHERE project_id = $1
			ORDER BY agent_id ASC`, projectID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "agent workload")
	}
	return workloads, nil
}
