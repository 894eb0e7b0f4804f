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

type branchRepository struct {
	*BaseRepository
}

// NewBranchRepository creates the PostgreSQL branch repository.
func NewBranchRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.BranchRepository {
	return &branchRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("branch_repository", logger, metrics)),
	}
}

func branchCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("branch:%s", id)
}

func (r *branchRepository) Create(ctx context.Context, branch *models.Branch) error {
	ctx, span := r.tracer(ctx, "BranchRepository.Create")
	defer span.End()

	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	now := time.Now().UTC()
	branch.CreatedAt = now
	branch.UpdatedAt = now
	branch.Version = 1
	if branch.Status == "" {
		branch.Status = models.BranchStatusTodo
	}
	if branch.Priority == "" {
		branch.Priority = models.PriorityMedium
	}

	query := `
		INSERT INTO branches (id, project_id, name, description, assigned_agent_id,
		                      priority, status, created_at, updated_at, version)
		VALUES (:id, :project_id, :name, :description, :assigned_agent_id,
		        :priority, :status, :created_at, :updated_at, :version)`

	err := r.ExecuteQuery(ctx, "branch_create", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, branch)
		return err
	})
	return r.TranslateError(err, "branch")
}

func (r *branchRepository) Get(ctx context.Context, id uuid.UUID) (*models.Branch, error) {
	ctx, span := r.tracer(ctx, "BranchRepository.Get")
	defer span.End()

	var branch models.Branch
	err := r.ExecuteQuery(ctx, "branch_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &branch, `SELECT * FROM branches WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "branch")
	}
	return &branch, nil
}

func (r *branchRepository) GetByName(ctx context.Context, projectID uuid.UUID, name string) (*models.Branch, error) {
	ctx, span := r.tracer(ctx, "BranchRepository.GetByName")
	defer span.End()

	var branch models.Branch
	err := r.ExecuteQuery(ctx, "branch_get_by_name", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &branch,
			`SELECT * FROM branches WHERE project_id = $1 AND name = $2`, projectID, name)
	})
	if err != nil {
		return nil, r.TranslateError(err, "branch")
	}
	return &branch, nil
}

func (r *branchRepository) List(ctx context.Context, filter repository.BranchFilter) ([]*models.Branch, error) {
	ctx, span := r.tracer(ctx, "BranchRepository.List")
	defer span.End()

	query := `SELECT * FROM branches WHERE project_id = $1`
	args := []interface{}{filter.ProjectID}
	idx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.AgentID != "" {
		query += fmt.Sprintf(" AND assigned_agent_id = $%d", idx)
		args = append(args, filter.AgentID)
	}
	query += " ORDER BY created_at ASC"

	var branches []*models.Branch
	err := r.ExecuteQuery(ctx, "branch_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &branches, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "branch")
	}
	return branches, nil
}

func (r *branchRepository) Update(ctx context.Context, branch *models.Branch) error {
	ctx, span := r.tracer(ctx, "BranchRepository.Update")
	defer span.End()

	// Counter columns are trigger-owned and deliberately excluded.
	query := `
		UPDATE branches
		SET name = :name, description = :description, assigned_agent_id = :assigned_agent_id,
		    priority = :priority, status = :status, version = version + 1
		WHERE id = :id AND version = :version`

	err := r.ExecuteQuery(ctx, "branch_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, branch)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "branches", branch.ID.String())
		}
		branch.Version++
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "branch")
	}

	return r.CacheDelete(ctx, branchCacheKey(branch.ID))
}

func (r *branchRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.BranchStatus) error {
	ctx, span := r.tracer(ctx, "BranchRepository.UpdateStatus")
	defer span.End()

	err := r.ExecuteQuery(ctx, "branch_update_status", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`UPDATE branches SET status = $2, version = version + 1 WHERE id = $1`, id, status)
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
		return r.TranslateError(err, "branch")
	}
	return r.CacheDelete(ctx, branchCacheKey(id))
}

func (r *branchRepository) SetAssignedAgent(ctx context.Context, id uuid.UUID, agentID *string) error {
	ctx, span := r.tracer(ctx, "BranchRepository.SetAssignedAgent")
	defer span.End()

	err := r.ExecuteQuery(ctx, "branch_set_agent", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`UPDATE branches SET assigned_agent_id = $2, version = version + 1 WHERE id = $1`, id, agentID)
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
		return r.TranslateError(err, "branch")
	}
	return r.CacheDelete(ctx, branchCacheKey(id))
}

func (r *branchRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer(ctx, "BranchRepository.Delete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "branch_delete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, id)
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
		return r.TranslateError(err, "branch")
	}
	return r.CacheDelete(ctx, branchCacheKey(id))
}

func (r *branchRepository) Statistics(ctx context.Context, projectID uuid.UUID) ([]*repository.BranchStatistics, error) {
	ctx, span := r.tracer(ctx, "BranchRepository.Statistics")
	defer span.End()

	var stats []*repository.BranchStatistics
	err := r.ExecuteQuery(ctx, "branch_statistics", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &stats,
			`SELECT * FROM branch_task_statistics WHERE project_id = $1 ORDER BY name`, projectID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "branch statistics")
	}
	return stats, nil
}

func (r *branchRepository) StatisticsFor(ctx context.Context, branchID uuid.UUID) (*repository.BranchStatistics, error) {
	ctx, span := r.tracer(ctx, "BranchRepository.StatisticsFor")
	defer span.End()

	var stats repository.BranchStatistics
	err := r.ExecuteQuery(ctx, "branch_statistics_for", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &stats,
			`SELECT * FROM branch_task_statistics WHERE branch_id = $1`, branchID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "branch statistics")
	}
	return &stats, nil
}
