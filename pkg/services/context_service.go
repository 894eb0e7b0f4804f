package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/hierarchy"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// ContextDeps bundles the repositories the context engine reads and
// writes. Entity repositories supply the lineage that turns a context id
// into its resolution chain.
type ContextDeps struct {
	Contexts     repository.ContextRepository
	Cache        repository.InheritanceCacheRepository
	Delegations  repository.DelegationRepository
	Insights     repository.InsightRepository
	Propagations repository.PropagationRepository

	Tasks    repository.TaskRepository
	Branches repository.BranchRepository
	Projects repository.ProjectRepository
}

// ContextOptions tunes the resolver's caching behavior.
type ContextOptions struct {
	// Local fronts the durable cache inside this process. Nil disables
	// the in-process layer.
	Local cache.Cache

	// TTL bounds the lifetime of resolved views in both cache layers.
	TTL time.Duration

	// Nudge wakes the delegation worker after an enqueue. Nil leaves the
	// worker to its periodic sweep.
	Nudge chan<- struct{}
}

const defaultResolvedTTL = 10 * time.Minute

type contextService struct {
	config ServiceConfig
	deps   ContextDeps

	local cache.Cache
	ttl   time.Duration
	nudge chan<- struct{}

	// flights collapses concurrent resolves of the same tier into one
	// computation.
	flights singleflight.Group
}

// NewContextService creates the context engine service.
func NewContextService(config ServiceConfig, deps ContextDeps, opts ContextOptions) ContextService {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultResolvedTTL
	}
	return &contextService{
		config: config.withDefaults(),
		deps:   deps,
		local:  opts.Local,
		ttl:    ttl,
		nudge:  opts.Nudge,
	}
}

func resolvedKey(level models.ContextLevel, id string) string {
	return "resolved:" + string(level) + ":" + id
}

// normalizeTier validates the level and canonicalizes the id. The global
// tier is a singleton, so an empty global id means the singleton and any
// other id is rejected.
func normalizeTier(level models.ContextLevel, id string) (string, error) {
	if !level.Valid() {
		return "", errors.Wrapf(repository.ErrValidation, "unknown context level %q", level)
	}
	if level == models.LevelGlobal {
		if id == "" || id == models.GlobalContextID {
			return models.GlobalContextID, nil
		}
		return "", errors.Wrapf(repository.ErrValidation, "the global tier is a singleton, got id %q", id)
	}
	if id == "" {
		return "", errors.Wrap(repository.ErrValidation, "context id is required")
	}
	return id, nil
}

func (s *contextService) Resolve(ctx context.Context, input ResolveContextInput) (*models.ResolvedContext, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.Resolve")
	defer span.End()

	id, err := normalizeTier(input.Level, input.ContextID)
	if err != nil {
		return nil, err
	}

	if input.ForceRefresh {
		return s.resolve(ctx, input.Level, id, true)
	}

	// Concurrent resolves of one tier share a single computation; the
	// losers get the winner's view instead of recomputing.
	view, err, _ := s.flights.Do(resolvedKey(input.Level, id), func() (interface{}, error) {
		return s.resolve(ctx, input.Level, id, false)
	})
	if err != nil {
		return nil, err
	}
	return view.(*models.ResolvedContext), nil
}

// resolve computes the merged view for (level, id). The dependency
// fingerprint is always recomputed from the authoritative records, so a
// cached view is only served while every consulted tier is unchanged.
func (s *contextService) resolve(ctx context.Context, level models.ContextLevel, id string, force bool) (*models.ResolvedContext, error) {
	start := nowFunc()

	lin, err := s.lineage(ctx, level, id)
	if err != nil {
		return nil, err
	}
	chain, err := hierarchy.Chain(level, id, lin)
	if err != nil {
		return nil, err
	}
	fetched, err := s.deps.Contexts.GetMany(ctx, chain)
	if err != nil {
		return nil, err
	}
	records := make(map[repository.ContextKey]*models.ContextRecord, len(fetched))
	for _, rec := range fetched {
		records[repository.ContextKey{Level: rec.Level, ID: rec.ID}] = rec
	}

	now := nowFunc().UTC()
	walked := hierarchy.Walk(chain, records)
	hash := hierarchy.Fingerprint(walked, records)

	if !force {
		if view := s.localHit(ctx, level, id, hash); view != nil {
			s.config.Metrics.RecordCacheOperation("context_resolve", true, nowFunc().Sub(start).Seconds())
			return view, nil
		}
		if view := s.durableHit(ctx, level, id, hash, now); view != nil {
			s.config.Metrics.RecordCacheOperation("context_resolve", true, nowFunc().Sub(start).Seconds())
			return view, nil
		}
	}

	view, err := hierarchy.Resolve(chain, records, now)
	if err != nil {
		return nil, err
	}
	s.persistView(ctx, view, now)

	s.config.Metrics.RecordCacheOperation("context_resolve", false, nowFunc().Sub(start).Seconds())
	return view, nil
}

// lineage fetches the entity ancestors a chain needs. Branch and task
// ids must name live entities; higher tiers carry their own ids.
func (s *contextService) lineage(ctx context.Context, level models.ContextLevel, id string) (hierarchy.Lineage, error) {
	var lin hierarchy.Lineage
	switch level {
	case models.LevelTask:
		taskID, err := uuid.Parse(id)
		if err != nil {
			return lin, errors.Wrapf(repository.ErrValidation, "task context id %q is not a uuid", id)
		}
		task, err := s.deps.Tasks.Get(ctx, taskID)
		if err != nil {
			return lin, err
		}
		branch, err := s.deps.Branches.Get(ctx, task.BranchID)
		if err != nil {
			return lin, err
		}
		lin.BranchID = task.BranchID.String()
		lin.ProjectID = branch.ProjectID.String()
	case models.LevelBranch:
		branchID, err := uuid.Parse(id)
		if err != nil {
			return lin, errors.Wrapf(repository.ErrValidation, "branch context id %q is not a uuid", id)
		}
		branch, err := s.deps.Branches.Get(ctx, branchID)
		if err != nil {
			return lin, err
		}
		lin.ProjectID = branch.ProjectID.String()
	}
	return lin, nil
}

func (s *contextService) localHit(ctx context.Context, level models.ContextLevel, id, hash string) *models.ResolvedContext {
	if s.local == nil {
		return nil
	}
	var view models.ResolvedContext
	if err := s.local.Get(ctx, resolvedKey(level, id), &view); err != nil {
		return nil
	}
	if view.DependenciesHash != hash {
		return nil
	}
	return &view
}

func (s *contextService) durableHit(ctx context.Context, level models.ContextLevel, id, hash string, now time.Time) *models.ResolvedContext {
	entry, err := s.deps.Cache.Get(ctx, id, level)
	if err != nil {
		if !repository.IsNotFound(err) {
			s.config.Logger.Warn("Inheritance cache read failed", map[string]interface{}{
				"context_id": id,
				"level":      string(level),
				"error":      err.Error(),
			})
		}
		return nil
	}
	if !entry.Usable(hash, now) {
		return nil
	}
	if err := s.deps.Cache.TouchHit(ctx, id, level); err != nil {
		s.config.Logger.Debug("Cache hit counter not bumped", map[string]interface{}{
			"context_id": id,
			"error":      err.Error(),
		})
	}
	view := &models.ResolvedContext{
		ContextID:        id,
		Level:            level,
		Context:          entry.ResolvedContext,
		ResolutionPath:   []string(entry.ResolutionPath),
		DependenciesHash: entry.DependenciesHash,
		ResolvedAt:       entry.CreatedAt,
	}
	s.localSet(ctx, view)
	return view
}

// persistView stores a freshly computed view in both cache layers.
// Failures are logged; a resolve never fails because caching did.
func (s *contextService) persistView(ctx context.Context, view *models.ResolvedContext, now time.Time) {
	size := 0
	if raw, err := json.Marshal(view.Context); err == nil {
		size = len(raw)
	}
	entry := &models.InheritanceCacheEntry{
		ContextID:        view.ContextID,
		Level:            view.Level,
		ResolvedContext:  view.Context,
		DependenciesHash: view.DependenciesHash,
		ResolutionPath:   models.StringList(view.ResolutionPath),
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
		SizeBytes:        size,
	}
	if err := s.deps.Cache.Put(ctx, entry); err != nil {
		s.config.Logger.Warn("Resolved view not cached", map[string]interface{}{
			"context_id": view.ContextID,
			"level":      string(view.Level),
			"error":      err.Error(),
		})
	}
	s.localSet(ctx, view)
}

func (s *contextService) localSet(ctx context.Context, view *models.ResolvedContext) {
	if s.local == nil {
		return
	}
	_ = s.local.Set(ctx, resolvedKey(view.Level, view.ContextID), view, s.ttl)
}

func (s *contextService) localEvict(ctx context.Context, level models.ContextLevel, id string) {
	if s.local == nil {
		return
	}
	_ = s.local.Delete(ctx, resolvedKey(level, id))
}

// localEvictAll drops the id at every level. Scope invalidation reports
// context ids without their levels; the extra deletes are harmless
// misses.
func (s *contextService) localEvictAll(ctx context.Context, id string) {
	for _, level := range []models.ContextLevel{models.LevelTask, models.LevelBranch, models.LevelProject, models.LevelGlobal} {
		s.localEvict(ctx, level, id)
	}
}

func (s *contextService) Update(ctx context.Context, input UpdateContextInput) (*models.ContextRecord, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.Update")
	defer span.End()

	id, err := normalizeTier(input.Level, input.ContextID)
	if err != nil {
		return nil, err
	}
	if input.ForceLocalOnly != nil && input.Level != models.LevelTask {
		return nil, errors.Wrap(repository.ErrValidation, "force_local_only applies to task contexts only")
	}

	var record *models.ContextRecord
	err = retryOnVersionConflict(ctx, s.config, func() error {
		current, err := s.deps.Contexts.Get(ctx, input.Level, id)
		if err != nil {
			if !repository.IsNotFound(err) {
				return err
			}
			// Lower tiers are created on first write. The global
			// singleton is too easy to fat-finger, so it takes an
			// explicit create.
			if input.Level == models.LevelGlobal && !input.CreateIfMissing {
				return errors.Wrap(repository.ErrNotFound, "global context does not exist; pass create_if_missing")
			}
			created, err := s.createRecord(ctx, input.Level, id, input)
			if err != nil {
				return err
			}
			record = created
			return nil
		}

		current.Data = hierarchy.MergePatch(current.Data, input.Patch)
		current.Overrides = hierarchy.MergePatch(current.Overrides, input.Overrides)
		if len(input.DelegationRules) > 0 {
			current.DelegationRules = hierarchy.MergePatch(current.DelegationRules, input.DelegationRules)
		}
		if len(input.ImplementationNotes) > 0 {
			current.ImplementationNotes = hierarchy.MergePatch(current.ImplementationNotes, input.ImplementationNotes)
		}
		if len(input.DelegationTriggers) > 0 {
			current.DelegationTriggers = hierarchy.MergePatch(current.DelegationTriggers, input.DelegationTriggers)
		}
		if input.InheritanceDisabled != nil {
			current.InheritanceDisabled = *input.InheritanceDisabled
		}
		if input.ForceLocalOnly != nil {
			current.ForceLocalOnly = *input.ForceLocalOnly
		}

		if err := s.deps.Contexts.Update(ctx, current); err != nil {
			return err
		}
		record = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The database trigger invalidates the tier's own durable entry;
	// descendants self-invalidate through the dependency fingerprint.
	s.localEvict(ctx, input.Level, id)

	if input.Propagate {
		cause := input.PropagationCause
		if cause == "" {
			cause = "context_update"
		}
		s.propagate(ctx, input.Level, id, cause)
	}
	return record, nil
}

// createRecord materializes a tier record on first write, wiring the
// lineage columns from the owning entities.
func (s *contextService) createRecord(ctx context.Context, level models.ContextLevel, id string, input UpdateContextInput) (*models.ContextRecord, error) {
	record := &models.ContextRecord{
		Level:               level,
		ID:                  id,
		Data:                hierarchy.MergePatch(nil, input.Patch),
		Overrides:           input.Overrides,
		DelegationRules:     input.DelegationRules,
		ImplementationNotes: input.ImplementationNotes,
		DelegationTriggers:  input.DelegationTriggers,
	}
	if input.InheritanceDisabled != nil {
		record.InheritanceDisabled = *input.InheritanceDisabled
	}
	if input.ForceLocalOnly != nil {
		record.ForceLocalOnly = *input.ForceLocalOnly
	}

	switch level {
	case models.LevelGlobal:
		// No parent above the singleton.
	case models.LevelProject:
		projectID, err := uuid.Parse(id)
		if err != nil {
			return nil, errors.Wrapf(repository.ErrValidation, "project context id %q is not a uuid", id)
		}
		if _, err := s.deps.Projects.Get(ctx, projectID); err != nil {
			return nil, err
		}
		record.ParentID = models.GlobalContextID
		record.ProjectID = id
	case models.LevelBranch:
		lin, err := s.lineage(ctx, level, id)
		if err != nil {
			return nil, err
		}
		record.ParentID = lin.ProjectID
		record.ProjectID = lin.ProjectID
	case models.LevelTask:
		lin, err := s.lineage(ctx, level, id)
		if err != nil {
			return nil, err
		}
		record.ParentID = lin.BranchID
		record.ProjectID = lin.ProjectID
	}

	if err := s.deps.Contexts.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// propagate fans an invalidation out over the scope below (level, id)
// and audits the cascade. The source write has already committed, so
// failures here are logged and recorded, never surfaced.
func (s *contextService) propagate(ctx context.Context, level models.ContextLevel, id, cause string) {
	start := nowFunc()

	rec := &models.PropagationRecord{
		ID:          uuid.New().String(),
		SourceLevel: level,
		SourceID:    id,
		ChangeType:  cause,
		Status:      models.PropagationPending,
	}
	recorded := true
	if err := s.deps.Propagations.Record(ctx, rec); err != nil {
		recorded = false
		s.config.Logger.Warn("Propagation not recorded", map[string]interface{}{
			"source": string(level) + ":" + id,
			"error":  err.Error(),
		})
	}

	affected, err := s.deps.Cache.InvalidateScope(ctx, level, id, cause)
	duration := nowFunc().Sub(start).Milliseconds()
	if err != nil {
		s.config.Logger.Error("Scope invalidation failed", map[string]interface{}{
			"source": string(level) + ":" + id,
			"cause":  cause,
			"error":  err.Error(),
		})
		if recorded {
			if cerr := s.deps.Propagations.Complete(ctx, rec.ID, models.PropagationFailed, nil, duration, err.Error()); cerr != nil {
				s.config.Logger.Warn("Propagation not closed", map[string]interface{}{"id": rec.ID, "error": cerr.Error()})
			}
		}
		return
	}

	for _, contextID := range affected {
		s.localEvictAll(ctx, contextID)
	}
	if recorded {
		if err := s.deps.Propagations.Complete(ctx, rec.ID, models.PropagationCompleted, affected, duration, ""); err != nil {
			s.config.Logger.Warn("Propagation not closed", map[string]interface{}{"id": rec.ID, "error": err.Error()})
		}
	}
	s.config.Metrics.RecordHistogram("context_propagation_affected", float64(len(affected)), map[string]string{
		"level": string(level),
	})
}

func (s *contextService) Delegate(ctx context.Context, input DelegateContextInput) (*models.ContextDelegation, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.Delegate")
	defer span.End()

	sourceID, err := normalizeTier(input.SourceLevel, input.SourceID)
	if err != nil {
		return nil, err
	}
	targetID, err := normalizeTier(input.TargetLevel, input.TargetID)
	if err != nil {
		return nil, err
	}
	if len(input.Data) == 0 {
		return nil, errors.Wrap(repository.ErrValidation, "delegated data is required")
	}
	trigger := input.TriggerType
	if trigger == "" {
		trigger = models.TriggerManual
	}
	switch trigger {
	case models.TriggerManual, models.TriggerAutoThreshold, models.TriggerAutoPattern, models.TriggerAIInitiated:
	default:
		return nil, errors.Wrapf(repository.ErrValidation, "unknown trigger type %q", trigger)
	}
	if input.Confidence != nil && (*input.Confidence < 0 || *input.Confidence > 1) {
		return nil, errors.Wrap(repository.ErrValidation, "confidence must be within [0, 1]")
	}

	delegation := &models.ContextDelegation{
		ID:                   uuid.New(),
		SourceLevel:          input.SourceLevel,
		SourceID:             sourceID,
		TargetLevel:          input.TargetLevel,
		TargetID:             targetID,
		DelegatedData:        input.Data,
		Reason:               input.Reason,
		TriggerType:          trigger,
		Confidence:           input.Confidence,
		AutoDelegated:        trigger != models.TriggerManual,
		ImplementationStatus: models.ImplementationPending,
		CreatedBy:            input.CreatedBy,
	}
	if !delegation.ValidDirection() {
		return nil, errors.Wrapf(repository.ErrValidation,
			"delegation must target a strictly higher tier, got %s -> %s", input.SourceLevel, input.TargetLevel)
	}

	if err := s.deps.Delegations.Enqueue(ctx, delegation); err != nil {
		return nil, err
	}
	s.nudgeWorker()

	s.config.Metrics.IncrementCounterWithLabels("delegations_enqueued", 1, map[string]string{
		"trigger": string(trigger),
	})
	return delegation, nil
}

func (s *contextService) nudgeWorker() {
	if s.nudge == nil {
		return
	}
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

func (s *contextService) AddInsight(ctx context.Context, input AddInsightInput) (*models.ContextInsight, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.AddInsight")
	defer span.End()

	id, err := normalizeTier(input.Level, input.ContextID)
	if err != nil {
		return nil, err
	}
	if input.Content == "" {
		return nil, errors.Wrap(repository.ErrValidation, "insight content is required")
	}
	importance := input.Importance
	if importance == "" {
		importance = models.ImportanceMedium
	}
	switch importance {
	case models.ImportanceLow, models.ImportanceMedium, models.ImportanceHigh, models.ImportanceCritical:
	default:
		return nil, errors.Wrapf(repository.ErrValidation, "unknown importance %q", importance)
	}
	if input.Confidence < 0 || input.Confidence > 1 {
		return nil, errors.Wrap(repository.ErrValidation, "confidence must be within [0, 1]")
	}
	category := input.Category
	if category == "" {
		category = "general"
	}

	insight := &models.ContextInsight{
		ID:            uuid.New(),
		ContextID:     id,
		ContextLevel:  input.Level,
		Content:       input.Content,
		Category:      category,
		Importance:    importance,
		Confidence:    input.Confidence,
		SourceAgent:   input.SourceAgent,
		SourceType:    input.SourceType,
		RelatedTaskID: input.RelatedTaskID,
		Actionable:    input.Actionable,
		ExpiresAt:     input.ExpiresAt,
	}
	if err := s.deps.Insights.Add(ctx, insight); err != nil {
		return nil, err
	}
	return insight, nil
}

func (s *contextService) ListInsights(ctx context.Context, level models.ContextLevel, contextID string, filter repository.InsightFilter) ([]*models.ContextInsight, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.ListInsights")
	defer span.End()

	id, err := normalizeTier(level, contextID)
	if err != nil {
		return nil, err
	}
	insights, err := s.deps.Insights.ListForContext(ctx, level, id, filter)
	if err != nil {
		return nil, err
	}
	if len(insights) > 0 {
		ids := make([]uuid.UUID, len(insights))
		for i, insight := range insights {
			ids[i] = insight.ID
		}
		// Advisory counters; the repository swallows failures.
		_ = s.deps.Insights.TouchAccess(ctx, ids)
	}
	return insights, nil
}

func (s *contextService) ListDelegations(ctx context.Context, level models.ContextLevel, contextID string, limit int) ([]*models.ContextDelegation, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.ListDelegations")
	defer span.End()

	id, err := normalizeTier(level, contextID)
	if err != nil {
		return nil, err
	}
	return s.deps.Delegations.ListForSource(ctx, level, id, limit)
}

func (s *contextService) ApproveDelegation(ctx context.Context, id uuid.UUID, approve bool, reason, processedBy string) (*models.ContextDelegation, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.ApproveDelegation")
	defer span.End()

	delegation, err := s.deps.Delegations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if delegation.Processed {
		return nil, errors.Wrapf(ErrConflict, "delegation %s is already processed", id)
	}

	if !approve {
		if reason == "" {
			reason = "rejected by reviewer"
		}
		if err := s.deps.Delegations.MarkProcessed(ctx, id, false, models.ImplementationRejected, reason, processedBy); err != nil {
			return nil, err
		}
		return s.deps.Delegations.Get(ctx, id)
	}

	// Approval merges the payload into the target tier and fans the
	// invalidation out to everything below it.
	_, err = s.Update(ctx, UpdateContextInput{
		Level:            delegation.TargetLevel,
		ContextID:        delegation.TargetID,
		Patch:            delegation.DelegatedData,
		Propagate:        true,
		CreateIfMissing:  true,
		PropagationCause: "delegation_merged",
	})
	if err != nil {
		return nil, err
	}
	if err := s.deps.Delegations.MarkProcessed(ctx, id, true, models.ImplementationImplemented, "", processedBy); err != nil {
		return nil, err
	}
	s.config.Metrics.IncrementCounterWithLabels("delegations_processed", 1, map[string]string{
		"outcome": "approved",
		"mode":    "manual",
	})
	return s.deps.Delegations.Get(ctx, id)
}

func (s *contextService) Invalidate(ctx context.Context, level models.ContextLevel, contextID, reason string) ([]string, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.Invalidate")
	defer span.End()

	id, err := normalizeTier(level, contextID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "manual_invalidation"
	}
	affected, err := s.deps.Cache.InvalidateScope(ctx, level, id, reason)
	if err != nil {
		return nil, err
	}
	for _, contextID := range affected {
		s.localEvictAll(ctx, contextID)
	}
	s.config.Metrics.IncrementCounterWithLabels("cache_invalidations", 1, map[string]string{
		"level": string(level),
	})
	return affected, nil
}

func (s *contextService) CacheStatistics(ctx context.Context) (*repository.CacheStatistics, error) {
	ctx, span := s.config.Tracer(ctx, "ContextService.CacheStatistics")
	defer span.End()

	return s.deps.Cache.Statistics(ctx)
}
