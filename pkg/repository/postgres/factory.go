package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// Repositories bundles every PostgreSQL repository over one connection
// pair. Services receive the bundle and pick the interfaces they need.
type Repositories struct {
	Projects         repository.ProjectRepository
	Branches         repository.BranchRepository
	Tasks            repository.TaskRepository
	Subtasks         repository.SubtaskRepository
	Graph            repository.GraphRepository
	Agents           repository.AgentRepository
	Contexts         repository.ContextRepository
	Delegations      repository.DelegationRepository
	Insights         repository.InsightRepository
	InheritanceCache repository.InheritanceCacheRepository
	Propagations     repository.PropagationRepository
	Coordination     repository.CoordinationRepository
	Idempotency      repository.IdempotencyRepository

	// Base exposes shared helpers (transactions, error translation) for
	// services that coordinate writes across repositories.
	Base *BaseRepository
}

// NewRepositories wires the full repository set. writeDB and readDB may
// be the same pool; a nil readDB falls back to writeDB.
func NewRepositories(
	writeDB, readDB *sqlx.DB,
	c cache.Cache,
	logger observability.Logger,
	tracer observability.StartSpanFunc,
	metrics observability.MetricsClient,
) *Repositories {
	if readDB == nil {
		readDB = writeDB
	}
	return &Repositories{
		Projects:         NewProjectRepository(writeDB, readDB, c, logger, tracer, metrics),
		Branches:         NewBranchRepository(writeDB, readDB, c, logger, tracer, metrics),
		Tasks:            NewTaskRepository(writeDB, readDB, c, logger, tracer, metrics),
		Subtasks:         NewSubtaskRepository(writeDB, readDB, c, logger, tracer, metrics),
		Graph:            NewGraphRepository(writeDB, readDB, c, logger, tracer, metrics),
		Agents:           NewAgentRepository(writeDB, readDB, c, logger, tracer, metrics),
		Contexts:         NewContextRepository(writeDB, readDB, c, logger, tracer, metrics),
		Delegations:      NewDelegationRepository(writeDB, readDB, c, logger, tracer, metrics),
		Insights:         NewInsightRepository(writeDB, readDB, c, logger, tracer, metrics),
		InheritanceCache: NewInheritanceCacheRepository(writeDB, readDB, c, logger, tracer, metrics),
		Propagations:     NewPropagationRepository(writeDB, readDB, c, logger, tracer, metrics),
		Coordination:     NewCoordinationRepository(writeDB, readDB, c, logger, tracer, metrics),
		Idempotency:      NewIdempotencyRepository(writeDB, readDB, c, logger, tracer, metrics),

		Base: NewBaseRepository(writeDB, readDB, c, logger, tracer, metrics,
			defaultConfig("repositories", logger, metrics)),
	}
}
