package services

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// workerProcessor is stamped into processed_by for worker decisions.
const workerProcessor = "delegation_worker"

// DelegationWorkerConfig tunes the delegation queue processor.
type DelegationWorkerConfig struct {
	// Parallelism bounds how many target queues are drained at once. One
	// target's queue is always drained serially, in insertion order.
	Parallelism int

	// SweepInterval is the poll period when no enqueue nudges arrive.
	SweepInterval time.Duration

	// BatchSize bounds targets per sweep and entries per target drain.
	BatchSize int
}

func (c DelegationWorkerConfig) withDefaults() DelegationWorkerConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	return c
}

// DelegationWorker consumes the upward delegation queue. Auto-threshold
// and auto-pattern delegations merge into their target tier when the
// target's delegation rules permit; everything else stays queued for
// explicit approval. A failed merge is finalized as rejected and never
// retried.
type DelegationWorker struct {
	config   ServiceConfig
	worker   DelegationWorkerConfig
	queue    repository.DelegationRepository
	records  repository.ContextRepository
	contexts ContextService

	nudge  <-chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// NewDelegationWorker creates the queue processor. The nudge channel may
// be nil; the worker then relies on its periodic sweep alone.
func NewDelegationWorker(
	config ServiceConfig,
	worker DelegationWorkerConfig,
	queue repository.DelegationRepository,
	records repository.ContextRepository,
	contexts ContextService,
	nudge <-chan struct{},
) *DelegationWorker {
	return &DelegationWorker{
		config:   config.withDefaults(),
		worker:   worker.withDefaults(),
		queue:    queue,
		records:  records,
		contexts: contexts,
		nudge:    nudge,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the processing loop.
func (w *DelegationWorker) Start() {
	go w.run()
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (w *DelegationWorker) Stop() {
	close(w.stopCh)
	<-w.done
}

// Healthy reports whether the processing loop is still running.
func (w *DelegationWorker) Healthy() error {
	select {
	case <-w.done:
		return errors.New("delegation worker stopped")
	default:
		return nil
	}
}

func (w *DelegationWorker) run() {
	defer close(w.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopCh
		cancel()
	}()

	ticker := time.NewTicker(w.worker.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.nudge:
			w.Sweep(ctx)
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep drains every pending target queue once and returns the number of
// delegations it finalized. Exposed so tests and operational tooling can
// force a pass without waiting for the ticker.
func (w *DelegationWorker) Sweep(ctx context.Context) int {
	targets, err := w.queue.PendingTargets(ctx, w.worker.BatchSize)
	if err != nil {
		w.config.Logger.Error("Delegation sweep query failed", map[string]interface{}{
			"error": err.Error(),
		})
		return 0
	}
	w.config.Metrics.RecordGauge("delegation_pending_targets", float64(len(targets)), nil)
	if len(targets) == 0 {
		return 0
	}

	var processed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.worker.Parallelism)
	for _, target := range targets {
		level, id, ok := splitTargetKey(target)
		if !ok {
			w.config.Logger.Warn("Skipping malformed delegation target", map[string]interface{}{
				"target": target,
			})
			continue
		}
		g.Go(func() error {
			atomic.AddInt64(&processed, int64(w.drainTarget(gctx, level, id)))
			return nil
		})
	}
	_ = g.Wait()
	return int(atomic.LoadInt64(&processed))
}

func splitTargetKey(key string) (models.ContextLevel, string, bool) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	level := models.ContextLevel(parts[0])
	if !level.Valid() {
		return "", "", false
	}
	return level, parts[1], true
}

// drainTarget processes one target's queue in insertion order. Entries
// awaiting manual approval are left in place; a merge failure finalizes
// its entry as rejected and the drain moves on.
func (w *DelegationWorker) drainTarget(ctx context.Context, level models.ContextLevel, id string) int {
	pending, err := w.queue.PendingForTarget(ctx, level, id, w.worker.BatchSize)
	if err != nil {
		w.config.Logger.Error("Delegation queue read failed", map[string]interface{}{
			"target": string(level) + ":" + id,
			"error":  err.Error(),
		})
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	rules := w.targetRules(ctx, level, id)

	processed := 0
	for _, delegation := range pending {
		if ctx.Err() != nil {
			return processed
		}
		if !delegation.TriggerType.AutoMergeable() {
			continue
		}
		if !autoMergeAllowed(rules, delegation.DelegatedData) {
			// The target's rules route this payload to manual review.
			continue
		}

		_, err := w.contexts.Update(ctx, UpdateContextInput{
			Level:            level,
			ContextID:        id,
			Patch:            delegation.DelegatedData,
			Propagate:        true,
			CreateIfMissing:  true,
			PropagationCause: "delegation_merged",
		})
		if err != nil {
			w.finalize(ctx, delegation, false, models.ImplementationRejected, err.Error())
			processed++
			continue
		}
		w.finalize(ctx, delegation, true, models.ImplementationImplemented, "")
		processed++
	}
	return processed
}

// targetRules reads the target tier's delegation rules. An absent record
// leaves the default policy in force.
func (w *DelegationWorker) targetRules(ctx context.Context, level models.ContextLevel, id string) models.JSONMap {
	record, err := w.records.Get(ctx, level, id)
	if err != nil {
		if !repository.IsNotFound(err) {
			w.config.Logger.Warn("Delegation rules read failed", map[string]interface{}{
				"target": string(level) + ":" + id,
				"error":  err.Error(),
			})
		}
		return nil
	}
	return record.DelegationRules
}

func (w *DelegationWorker) finalize(ctx context.Context, d *models.ContextDelegation, approved bool, status models.ImplementationStatus, reason string) {
	if err := w.queue.MarkProcessed(ctx, d.ID, approved, status, reason, workerProcessor); err != nil {
		// A duplicate means another worker finalized it first.
		if !repository.IsDuplicate(err) {
			w.config.Logger.Error("Delegation not finalized", map[string]interface{}{
				"delegation_id": d.ID.String(),
				"error":         err.Error(),
			})
		}
		return
	}
	w.config.Metrics.IncrementCounterWithLabels("delegations_processed", 1, map[string]string{
		"outcome": string(status),
		"mode":    "auto",
	})
}

// autoMergeAllowed evaluates the target's delegation rules against the
// payload's top-level sections. Absent rules permit auto-merge; an
// explicit auto_merge=false blocks it entirely; a non-empty
// allowed_categories list restricts which sections may arrive this way.
func autoMergeAllowed(rules, payload models.JSONMap) bool {
	if len(rules) == 0 {
		return true
	}
	if enabled, ok := rules["auto_merge"].(bool); ok && !enabled {
		return false
	}
	allowed := stringSet(rules["allowed_categories"])
	if len(allowed) == 0 {
		return true
	}
	for section := range payload {
		if !allowed[section] {
			return false
		}
	}
	return true
}

// stringSet coerces a JSONB array into a lookup set. Both decoded
// ([]interface{}) and hand-built ([]string) shapes appear in rules.
func stringSet(v interface{}) map[string]bool {
	switch items := v.(type) {
	case []interface{}:
		out := make(map[string]bool, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				out[s] = true
			}
		}
		return out
	case []string:
		out := make(map[string]bool, len(items))
		for _, s := range items {
			out[s] = true
		}
		return out
	}
	return nil
}
