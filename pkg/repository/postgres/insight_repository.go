package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

var importanceRank = map[models.InsightImportance]int{
	models.ImportanceLow:      0,
	models.ImportanceMedium:   1,
	models.ImportanceHigh:     2,
	models.ImportanceCritical: 3,
}

type insightRepository struct {
	*BaseRepository
}

// NewInsightRepository creates the PostgreSQL insight stream repository.
func NewInsightRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.InsightRepository {
	return &insightRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("insight_repository", logger, metrics)),
	}
}

func (r *insightRepository) Add(ctx context.Context, insight *models.ContextInsight) error {
	ctx, span := r.tracer(ctx, "InsightRepository.Add")
	defer span.End()

	if insight.ID == uuid.Nil {
		insight.ID = uuid.New()
	}
	insight.CreatedAt = time.Now().UTC()
	if insight.Importance == "" {
		insight.Importance = models.ImportanceMedium
	}

	query := `
		INSERT INTO context_insights (id, context_id, context_level, content, category,
		                              importance, confidence, source_agent, source_type,
		                              related_task_id, actionable, action_taken,
		                              expires_at, created_at)
		VALUES (:id, :context_id, :context_level, :content, :category,
		        :importance, :confidence, :source_agent, :source_type,
		        :related_task_id, :actionable, :action_taken,
		        :expires_at, :created_at)`

	err := r.ExecuteQuery(ctx, "insight_add", func(ctx context.Context) error {
		_, err := r.writeDB.NamedExecContext(ctx, query, insight)
		return err
	})
	return r.TranslateError(err, "insight")
}

func (r *insightRepository) ListForContext(ctx context.Context, level models.ContextLevel, contextID string, filter repository.InsightFilter) ([]*models.ContextInsight, error) {
	ctx, span := r.tracer(ctx, "InsightRepository.ListForContext")
	defer span.End()

	query := `SELECT * FROM context_insights WHERE context_level = $1 AND context_id = $2`
	args := []interface{}{level, contextID}

	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if rank, ok := importanceRank[filter.MinImportance]; ok && rank > 0 {
		slugs := make([]string, 0, 4)
		for imp, ir := range importanceRank {
			if ir >= rank {
				slugs = append(slugs, string(imp))
			}
		}
		args = append(args, pq.Array(slugs))
		query += fmt.Sprintf(" AND importance = ANY($%d)", len(args))
	}
	if !filter.IncludeExpired {
		query += " AND (expires_at IS NULL OR expires_at > now())"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var insights []*models.ContextInsight
	err := r.ExecuteQuery(ctx, "insight_list", func(ctx context.Context) error {
		return r.readDB.SelectContext(ctx, &insights, query, args...)
	})
	if err != nil {
		return nil, r.TranslateError(err, "insight")
	}
	return insights, nil
}

// TouchAccess bumps access counters for the given insights. Failures are
// logged and swallowed; counters are advisory.
func (r *insightRepository) TouchAccess(ctx context.Context, ids []uuid.UUID) error {
	ctx, span := r.tracer(ctx, "InsightRepository.TouchAccess")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	err := r.ExecuteQuery(ctx, "insight_touch_access", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx, `
			UPDATE context_insights
			SET accessed_count = accessed_count + 1, last_accessed = now()
			WHERE id = ANY($1)`, pq.Array(raw))
		return err
	})
	if err != nil {
		r.logger.Warn("Failed to touch insight access counters", map[string]interface{}{
			"count": len(ids),
			"error": err.Error(),
		})
	}
	return nil
}
