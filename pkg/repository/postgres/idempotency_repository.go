package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

type idempotencyRepository struct {
	*BaseRepository
}

// NewIdempotencyRepository creates the PostgreSQL replay record
// repository.
func NewIdempotencyRepository(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) repository.IdempotencyRepository {
	return &idempotencyRepository{
		BaseRepository: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("idempotency_repository", logger, metrics)),
	}
}

// Get returns the stored response for the key when a live record exists.
func (r *idempotencyRepository) Get(ctx context.Context, key string) (models.JSONMap, bool, error) {
	ctx, span := r.tracer(ctx, "IdempotencyRepository.Get")
	defer span.End()

	var response models.JSONMap
	err := r.ExecuteQuery(ctx, "idempotency_get", func(ctx context.Context) error {
		return r.readDB.GetContext(ctx, &response, `
			SELECT response FROM idempotency_keys
			WHERE key = $1 AND expires_at > now()`, key)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, r.TranslateError(err, "idempotency key")
	}
	return response, true, nil
}

// Put stores the response for replay. The first writer wins; a concurrent
// duplicate keeps the original response.
func (r *idempotencyRepository) Put(ctx context.Context, key, operation string, response models.JSONMap, expiresAt time.Time) error {
	ctx, span := r.tracer(ctx, "IdempotencyRepository.Put")
	defer span.End()

	err := r.ExecuteQuery(ctx, "idempotency_put", func(ctx context.Context) error {
		_, err := r.writeDB.ExecContext(ctx, `
			INSERT INTO idempotency_keys (key, operation, response, created_at, expires_at)
			VALUES ($1, $2, $3, now(), $4)
			ON CONFLICT (key) DO NOTHING`,
			key, operation, response, expiresAt)
		return err
	})
	return r.TranslateError(err, "idempotency key")
}

func (r *idempotencyRepository) PruneExpired(ctx context.Context) (int, error) {
	ctx, span := r.tracer(ctx, "IdempotencyRepository.PruneExpired")
	defer span.End()

	var count int64
	err := r.ExecuteQuery(ctx, "idempotency_prune", func(ctx context.Context) error {
		result, err := r.writeDB.ExecContext(ctx,
			`DELETE FROM idempotency_keys WHERE expires_at <= now()`)
		if err != nil {
			return err
		}
		count, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, r.TranslateError(err, "idempotency key")
	}
	return int(count), nil
}
