// Package services implements the orchestration logic between the tool
// dispatch surface and the repositories: entity lifecycles, the context
// engine, next-task scheduling, and agent coordination.
package services

import (
	"context"
	"time"

	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/resilience"
)

// ServiceConfig carries the ambient dependencies every service shares.
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.StartSpanFunc

	// VersionRetries bounds the automatic retries of a whole operation
	// when an optimistic lock or counter-trigger conflict aborts it.
	VersionRetries int

	// ReopenGrace is the window after completion during which a done or
	// cancelled task may be reopened.
	ReopenGrace time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Logger == nil {
		c.Logger = observability.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewNoOpMetricsClient()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopStartSpan
	}
	if c.VersionRetries <= 0 {
		c.VersionRetries = 3
	}
	if c.ReopenGrace <= 0 {
		c.ReopenGrace = 24 * time.Hour
	}
	return c
}

// retryOnVersionConflict re-runs op on optimistic-lock failure. The
// repositories surface conflicts immediately; the service retries the
// whole read-modify-write so each attempt sees fresh rows.
func retryOnVersionConflict(ctx context.Context, cfg ServiceConfig, op func() error) error {
	policy := resilience.DefaultRetryConfig(cfg.VersionRetries)
	policy.RetryIf = func(err error) bool {
		return repository.IsOptimisticLock(err)
	}
	return resilience.Retry(ctx, policy, op)
}

// nowFunc is swapped in tests that pin time.
var nowFunc = time.Now
