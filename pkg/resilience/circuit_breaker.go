// Package resilience wraps the failure-handling primitives shared by the
// repositories and services: a circuit breaker around database I/O and an
// exponential-backoff retry helper.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/developer-mesh/agent-hub/pkg/observability"
)

// CircuitBreakerConfig holds the trip behavior of a breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before
	// the breaker opens.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration

	// MaxRequestsHalfOpen limits probe traffic while half-open.
	MaxRequestsHalfOpen int
}

// CircuitBreaker guards an external dependency. State changes are logged
// and exported as metrics.
type CircuitBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a named breaker with the given config.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	maxRequests := uint32(1)
	if config.MaxRequestsHalfOpen > 0 {
		maxRequests = uint32(config.MaxRequestsHalfOpen)
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: maxRequests,
		Timeout:     config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			metrics.IncrementCounterWithLabels("circuit_breaker_state_changes", 1, map[string]string{
				"breaker": name,
				"to":      to.String(),
			})
		},
	}

	return &CircuitBreaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: metrics,
	}
}

// Execute runs fn through the breaker, honoring context cancellation
// before admission.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.breaker.Execute(fn)
}

// State returns the breaker's current state name.
func (c *CircuitBreaker) State() string {
	return c.breaker.State().String()
}

// Open reports whether the breaker is rejecting requests.
func (c *CircuitBreaker) Open() bool {
	return c.breaker.State() == gobreaker.StateOpen
}
