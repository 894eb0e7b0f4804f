package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type graphRepository struct {
	*BaseRepository
}

// NewGraphRepository creates the PostgreSQL dependency and label
// repository.
func NewGraphRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.GraphRepository {
	return &graphRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("graph_repository", logger, metrics)),
	}
}

func (r *graphRepository) AddDependency(ctx context.Context, dep *models.TaskDependency) error {
	ctx, span := r.tracer(ctx, "GraphRepository.AddDependency")
	defer span.End()

	if dep.Type == "" {
		dep.Type = models.DependencyBlocks
	}
	dep.CreatedAt = time.Now().UTC()

	err := r.ExecuteQuery(ctx, "dependency_add", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx,
			`INSERT INTO task_dependencies (task_id, depends_on_task_id, dependency_type, created_at)
			 VALUES ($1, $2, $3, $4)`,
			dep.TaskID, dep.DependsOnTaskID, dep.Type, dep.CreatedAt)
		return err
	})
	return r.TranslateError(err, "dependency")
}

func (r *graphRepository) RemoveDependency(ctx context.Context, taskID, dependsOnTaskID uuid.UUID) error {
	ctx, span := r.tracer(ctx, "GraphRepository.RemoveDependency")
	defer span.End()

	err := r.ExecuteQuery(ctx, "dependency_remove", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_task_id = $2`,
			taskID, dependsOnTaskID)
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
	return r.TranslateError(err, "dependency")
}

func (r *graphRepository) DependenciesOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.DependenciesOf")
	defer span.End()

	var deps []*models.TaskDependency
	err := r.ExecuteQuery(ctx, "dependency_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &deps,
			`SELECT * FROM task_dependencies WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "dependency")
	}
	return deps, nil
}

func (r *graphRepository) DependentsOf(ctx context.Context, taskID uuid.UUID) ([]*models.TaskDependency, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.DependentsOf")
	defer span.End()

	var deps []*models.TaskDependency
	err := r.ExecuteQuery(ctx, "dependency_dependents", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &deps,
			`SELECT * FROM task_dependencies WHERE depends_on_task_id = $1 ORDER BY created_at ASC`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "dependency")
	}
	return deps, nil
}

func (r *graphRepository) IncompleteBlockers(ctx context.Context, taskID uuid.UUID) ([]uuid.UUID, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.IncompleteBlockers")
	defer span.End()

	var ids []uuid.UUID
	err := r.ExecuteQuery(ctx, "dependency_incomplete", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &ids, `
			SELECT d.depends_on_task_id
			FROM task_dependencies d
			JOIN tasks dep ON dep.id = d.depends_on_task_id
			WHERE d.task_id = $1
			  AND d.dependency_type = 'blocks'
			  AND dep.status <> 'done'
			ORDER BY d.created_at ASC`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "dependency")
	}
	return ids, nil
}

func (r *graphRepository) ProjectEdges(ctx context.Context, projectID uuid.UUID) ([][2]uuid.UUID, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.ProjectEdges")
	defer span.End()

	rows := []struct {
		TaskID    uuid.UUID `db:"task_id"`
		DependsOn uuid.UUID `db:"depends_on_task_id"`
	}{}

	// Both edge tables participate in the acyclicity requirement.
	query := `
		SELECT d.task_id, d.depends_on_task_id
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.task_id
		JOIN branches b ON b.id = t.branch_id
		WHERE b.project_id = $1
		UNION ALL
		SELECT cbd.dependent_task_id AS task_id, cbd.prerequisite_task_id AS depends_on_task_id
		FROM cross_branch_dependencies cbd
		WHERE cbd.project_id = $1`

	err := r.ExecuteQuery(ctx, "dependency_project_edges", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &rows, query, projectID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "dependency")
	}

	edges := make([][2]uuid.UUID, len(rows))
	for i, row := range rows {
		edges[i] = [2]uuid.UUID{row.TaskID, row.DependsOn}
	}
	return edges, nil
}

func (r *graphRepository) AddCrossBranchDependency(ctx context.Context, dep *models.CrossBranchDependency) error {
	ctx, span := r.tracer(ctx, "GraphRepository.AddCrossBranchDependency")
	defer span.End()

	dep.CreatedAt = time.Now().UTC()
	err := r.ExecuteQuery(ctx, "cross_branch_dependency_add", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx,
			`INSERT INTO cross_branch_dependencies (project_id, dependent_task_id, prerequisite_task_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			dep.ProjectID, dep.DependentTaskID, dep.PrerequisiteTaskID, dep.CreatedAt)
		return err
	})
	return r.TranslateError(err, "cross-branch dependency")
}

func (r *graphRepository) CrossBranchDependenciesOf(ctx context.Context, projectID uuid.UUID) ([]*models.CrossBranchDependency, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.CrossBranchDependenciesOf")
	defer span.End()

	var deps []*models.CrossBranchDependency
	err := r.ExecuteQuery(ctx, "cross_branch_dependency_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &deps,
			`SELECT * FROM cross_branch_dependencies WHERE project_id = $1 ORDER BY created_at ASC`,
			projectID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "cross-branch dependency")
	}
	return deps, nil
}

func (r *graphRepository) EnsureLabel(ctx context.Context, slug, category string) (*models.Label, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.EnsureLabel")
	defer span.End()

	var label models.Label
	err := r.ExecuteQuery(ctx, "label_ensure", func(ctx context.Context) error {
		return r.writeDB.GetContext(ctx, &label, `
			INSERT INTO labels (slug, category) VALUES ($1, $2)
			ON CONFLICT (slug) DO UPDATE
			SET category = CASE WHEN $2 <> '' THEN $2 ELSE labels.category END
			RETURNING *`, slug, category)
	})
	if err != nil {
		return nil, r.TranslateError(err, "label")
	}
	return &label, nil
}

func (r *graphRepository) AttachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error {
	ctx, span := r.tracer(ctx, "GraphRepository.AttachLabel")
	defer span.End()

	err := r.ExecuteQuery(ctx, "label_attach", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx,
			`INSERT INTO task_labels (task_id, label_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			taskID, labelID)
		return err
	})
	return r.TranslateError(err, "label")
}

func (r *graphRepository) DetachLabel(ctx context.Context, taskID uuid.UUID, labelID int64) error {
	ctx, span := r.tracer(ctx, "GraphRepository.DetachLabel")
	defer span.End()

	err := r.ExecuteQuery(ctx, "label_detach", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM task_labels WHERE task_id = $1 AND label_id = $2`, taskID, labelID)
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
	return r.TranslateError(err, "label")
}

func (r *graphRepository) LabelsForTask(ctx context.Context, taskID uuid.UUID) ([]*models.Label, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.LabelsForTask")
	defer span.End()

	var labels []*models.Label
	err := r.ExecuteQuery(ctx, "label_for_task", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &labels, `
			SELECT l.* FROM labels l
			JOIN task_labels tl ON tl.label_id = l.id
			WHERE tl.task_id = $1
			ORDER BY l.slug ASC`, taskID)
	})
	if err != nil {
		return nil, r.TranslateError(err, "label")
	}
	return labels, nil
}

func (r *graphRepository) GetLabel(ctx context.Context, slug string) (*models.Label, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.GetLabel")
	defer span.End()

	var label models.Label
	err := r.ExecuteQuery(ctx, "label_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &label, `SELECT * FROM labels WHERE slug = $1`, slug)
	})
	if err != nil {
		return nil, r.TranslateError(err, "label")
	}
	return &label, nil
}

func (r *graphRepository) ListLabels(ctx context.Context, limit int) ([]*models.Label, error) {
	ctx, span := r.tracer(ctx, "GraphRepository.ListLabels")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	var labels []*models.Label
	err := r.ExecuteQuery(ctx, "label_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &labels,
			`SELECT * FROM labels ORDER BY usage_count DESC, slug ASC LIMIT $1`, limit)
	})
	if err != nil {
		return nil, r.TranslateError(err, "label")
	}
	return labels, nil
}
