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
	"github.com/developer-mesh/agent-hub/pkg/resilience"
)

// defaultConfig builds the per-repository base configuration with a named
// circuit breaker.
func defaultConfig(name string, logger observability.Logger, metrics observability.MetricsClient) BaseRepositoryConfig {
	return BaseRepositoryConfig{
		QueryTimeout: 30 * time.Second,
		MaxRetries:   3,
		CacheTimeout: 5 * time.Minute,
		CircuitBreaker: resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		}, logger, metrics),
	}
}

type projectRepository struct {
	*BaseRepository
}

// NewProjectRepository creates the PostgreSQL project repository.
func NewProjectRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.ProjectRepository {
	return &projectRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("project_repository", logger, metrics)),
	}
}

func projectCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("project:%s", id)
}

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	ctx, span := r.tracer(ctx, "ProjectRepository.Create")
	defer span.End()

	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now().UTC()
	project.CreatedAt = now
	project.UpdatedAt = now
	project.Version = 1
	if project.Status == "" {
		project.Status = models.ProjectStatusActive
	}

	query := `
		INSERT INTO projects (id, name, description, status, user_id, metadata, created_at, updated_at, version)
		VALUES (:id, :name, :description, :status, :user_id, :metadata, :created_at, :updated_at, :version)`

	err := r.ExecuteQuery(ctx, "project_create", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, project)
		return err
	})
	return r.TranslateError(err, "project")
}

func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	ctx, span := r.tracer(ctx, "ProjectRepository.Get")
	defer span.End()

	var project models.Project
	if err := r.CacheGet(ctx, projectCacheKey(id), &project); err == nil {
		return &project, nil
	}

	err := r.ExecuteQuery(ctx, "project_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &project, `SELECT * FROM projects WHERE id = $1`, id)
	})
	if err != nil {
		return nil, r.TranslateError(err, "project")
	}

	if err := r.CacheSet(ctx, projectCacheKey(id), &project, 0); err != nil {
		r.logger.Debug("Failed to cache project", map[string]interface{}{"error": err.Error()})
	}
	return &project, nil
}

func (r *projectRepository) GetByName(ctx context.Context, userID, name string) (*models.Project, error) {
	ctx, span := r.tracer(ctx, "ProjectRepository.GetByName")
	defer span.End()

	var project models.Project
	err := r.ExecuteQuery(ctx, "project_get_by_name", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &project,
			`SELECT * FROM projects WHERE user_id = $1 AND name = $2`, userID, name)
	})
	if err != nil {
		return nil, r.TranslateError(err, "project")
	}
	return &project, nil
}

func (r *projectRepository) List(ctx context.Context, filter repository.ProjectFilter) ([]*models.Project, error) {
	ctx, span := r.tracer(ctx, "ProjectRepository.List")
	defer span.End()

	query := `SELECT * FROM projects WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, filter.UserID)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
		idx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, filter.Offset)
	}

	var projects []*models.Project
	err := r.ExecuteQuery(ctx, "project_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &projects, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "project")
	}
	return projects, nil
}

func (r *projectRepository) Update(ctx context.Context, project *models.Project) error {
	ctx, span := r.tracer(ctx, "ProjectRepository.Update")
	defer span.End()

	query := `
		UPDATE projects
		SET name = :name, description = :description, status = :status,
		    metadata = :metadata, version = version + 1
		WHERE id = :id AND version = :version`

	err := r.ExecuteQuery(ctx, "project_update", func(ctx context.Context) error {
		result, err := r.writeDB.NamedExecContext(ctx, query, project)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return r.staleOrMissing(ctx, "projects", project.ID.String())
		}
		project.Version++
		return nil
	})
	if err != nil {
		return r.TranslateError(err, "project")
	}

	return r.CacheDelete(ctx, projectCacheKey(project.ID))
}

func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer(ctx, "ProjectRepository.Delete")
	defer span.End()

	err := r.ExecuteQuery(ctx, "project_delete", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
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
		return r.TranslateError(err, "project")
	}

	return r.CacheDelete(ctx, projectCacheKey(id))
}

// staleOrMissing disambiguates a zero-row conditional update: the row is
// either gone (not found) or its version moved (optimistic lock).
func (r *BaseRepository) staleOrMissing(ctx context.Context, table, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := r.readDB.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return repository.ErrOptimisticLock
	}
	return repository.ErrNotFound
}
