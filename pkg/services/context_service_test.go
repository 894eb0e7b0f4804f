package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/hierarchy"
	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// contextEnv bundles the mocks behind one context engine instance.
type contextEnv struct {
	contexts     *mockContextRepo
	cache        *mockInheritanceCacheRepo
	delegations  *mockDelegationRepo
	insights     *mockInsightRepo
	propagations *mockPropagationRepo
	tasks        *mockTaskRepo
	branches     *mockBranchRepo
	projects     *mockProjectRepo
	nudge        chan struct{}
	svc          ContextService
}

func newContextEnv(local cache.Cache) *contextEnv {
	env := &contextEnv{
		contexts:     new(mockContextRepo),
		cache:        new(mockInheritanceCacheRepo),
		delegations:  new(mockDelegationRepo),
		insights:     new(mockInsightRepo),
		propagations: new(mockPropagationRepo),
		tasks:        new(mockTaskRepo),
		branches:     new(mockBranchRepo),
		projects:     new(mockProjectRepo),
		nudge:        make(chan struct{}, 1),
	}
	env.svc = NewContextService(testConfig(), ContextDeps{
		Contexts:     env.contexts,
		Cache:        env.cache,
		Delegations:  env.delegations,
		Insights:     env.insights,
		Propagations: env.propagations,
		Tasks:        env.tasks,
		Branches:     env.branches,
		Projects:     env.projects,
	}, ContextOptions{Local: local, TTL: time.Minute, Nudge: env.nudge})
	return env
}

// tierRecords builds a fixed global/project/branch record set with
// deterministic timestamps so fingerprints are reproducible.
func tierRecords(projectID, branchID string) []*models.ContextRecord {
	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return []*models.ContextRecord{
		{
			Level:     models.LevelGlobal,
			ID:        models.GlobalContextID,
			Data:      models.JSONMap{"standards": map[string]interface{}{"review": "required"}, "timeout": 30},
			UpdatedAt: stamp,
		},
		{
			Level:     models.LevelProject,
			ID:        projectID,
			ParentID:  models.GlobalContextID,
			Data:      models.JSONMap{"standards": map[string]interface{}{"lint": "strict"}},
			UpdatedAt: stamp.Add(time.Minute),
		},
		{
			Level:     models.LevelBranch,
			ID:        branchID,
			ParentID:  projectID,
			ProjectID: projectID,
			Data:      models.JSONMap{"timeout": 60},
			UpdatedAt: stamp.Add(2 * time.Minute),
		},
	}
}

func recordsByKey(records []*models.ContextRecord) map[repository.ContextKey]*models.ContextRecord {
	out := make(map[repository.ContextKey]*models.ContextRecord, len(records))
	for _, rec := range records {
		out[repository.ContextKey{Level: rec.Level, ID: rec.ID}] = rec
	}
	return out
}

func TestContextService_Resolve(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	branchID := uuid.New()
	taskID := uuid.New()

	branchChain := []repository.ContextKey{
		{Level: models.LevelGlobal, ID: models.GlobalContextID},
		{Level: models.LevelProject, ID: projectID.String()},
		{Level: models.LevelBranch, ID: branchID.String()},
	}

	t.Run("merges the tiers top down", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())
		taskRecord := &models.ContextRecord{
			Level:     models.LevelTask,
			ID:        taskID.String(),
			ParentID:  branchID.String(),
			ProjectID: projectID.String(),
			Data:      models.JSONMap{"objective": "ship the resolver"},
			UpdatedAt: time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		}
		chain := append(append([]repository.ContextKey{}, branchChain...), repository.ContextKey{Level: models.LevelTask, ID: taskID.String()})

		env.tasks.On("Get", ctx, taskID).Return(&models.Task{ID: taskID, BranchID: branchID}, nil)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, chain).Return(append(records, taskRecord), nil)
		env.cache.On("Get", ctx, taskID.String(), models.LevelTask).Return(nil, repository.ErrNotFound)
		env.cache.On("Put", ctx, mock.MatchedBy(func(entry *models.InheritanceCacheEntry) bool {
			return entry.ContextID == taskID.String() && entry.Level == models.LevelTask && entry.DependenciesHash != ""
		})).Return(nil)

		view, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelTask, ContextID: taskID.String()})

		require.NoError(t, err)
		assert.Equal(t, []string{
			"global:" + models.GlobalContextID,
			"project:" + projectID.String(),
			"branch:" + branchID.String(),
			"task:" + taskID.String(),
		}, view.ResolutionPath)

		// Lower tiers win scalar conflicts; sibling map keys accumulate.
		assert.Equal(t, 60, view.Context["timeout"])
		standards := view.Context["standards"].(map[string]interface{})
		assert.Equal(t, "required", standards["review"])
		assert.Equal(t, "strict", standards["lint"])
		assert.Equal(t, "ship the resolver", view.Context["objective"])
		env.cache.AssertExpectations(t)
	})

	t.Run("serves the durable cache while the fingerprint holds", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())
		byKey := recordsByKey(records)
		hash := hierarchy.Fingerprint(hierarchy.Walk(branchChain, byKey), byKey)

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Get", ctx, branchID.String(), models.LevelBranch).Return(&models.InheritanceCacheEntry{
			ContextID:        branchID.String(),
			Level:            models.LevelBranch,
			ResolvedContext:  models.JSONMap{"timeout": 60},
			DependenciesHash: hash,
			ResolutionPath:   models.StringList{"global:" + models.GlobalContextID},
			CreatedAt:        time.Now().Add(-time.Second),
			ExpiresAt:        time.Now().Add(time.Hour),
		}, nil)
		env.cache.On("TouchHit", ctx, branchID.String(), models.LevelBranch).Return(nil)

		view, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})

		require.NoError(t, err)
		assert.Equal(t, hash, view.DependenciesHash)
		assert.Equal(t, 60, view.Context["timeout"])
		env.cache.AssertNotCalled(t, "Put")
	})

	t.Run("stale durable entries are recomputed", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Get", ctx, branchID.String(), models.LevelBranch).Return(&models.InheritanceCacheEntry{
			ContextID:        branchID.String(),
			Level:            models.LevelBranch,
			ResolvedContext:  models.JSONMap{"timeout": 5},
			DependenciesHash: "hash-of-an-older-world",
			ExpiresAt:        time.Now().Add(time.Hour),
		}, nil)
		env.cache.On("Put", ctx, mock.AnythingOfType("*models.InheritanceCacheEntry")).Return(nil)

		view, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})

		require.NoError(t, err)
		assert.Equal(t, 60, view.Context["timeout"])
		env.cache.AssertCalled(t, "Put", ctx, mock.AnythingOfType("*models.InheritanceCacheEntry"))
		env.cache.AssertNotCalled(t, "TouchHit", ctx, branchID.String(), models.LevelBranch)
	})

	t.Run("force refresh bypasses cache reads", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Put", ctx, mock.AnythingOfType("*models.InheritanceCacheEntry")).Return(nil)

		_, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String(), ForceRefresh: true})

		require.NoError(t, err)
		env.cache.AssertNotCalled(t, "Get", ctx, branchID.String(), models.LevelBranch)
	})

	t.Run("local layer serves repeat resolves", func(t *testing.T) {
		env := newContextEnv(cache.NewMemoryCache(64, time.Minute))
		records := tierRecords(projectID.String(), branchID.String())

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Get", ctx, branchID.String(), models.LevelBranch).Return(nil, repository.ErrNotFound).Once()
		env.cache.On("Put", ctx, mock.AnythingOfType("*models.InheritanceCacheEntry")).Return(nil).Once()

		first, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})
		require.NoError(t, err)
		second, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})
		require.NoError(t, err)

		assert.Equal(t, first.DependenciesHash, second.DependenciesHash)
		env.cache.AssertNumberOfCalls(t, "Get", 1)
		env.cache.AssertNumberOfCalls(t, "Put", 1)
	})

	t.Run("inheritance_disabled cuts the walk", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())
		records[2].InheritanceDisabled = true

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Get", ctx, branchID.String(), models.LevelBranch).Return(nil, repository.ErrNotFound)
		env.cache.On("Put", ctx, mock.AnythingOfType("*models.InheritanceCacheEntry")).Return(nil)

		view, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})

		require.NoError(t, err)
		assert.Equal(t, []string{"branch:" + branchID.String()}, view.ResolutionPath)
		assert.Equal(t, 60, view.Context["timeout"])
		assert.NotContains(t, view.Context, "standards")
	})

	t.Run("missing leaf record is not found", func(t *testing.T) {
		env := newContextEnv(nil)
		records := tierRecords(projectID.String(), branchID.String())[:2]

		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("GetMany", ctx, branchChain).Return(records, nil)
		env.cache.On("Get", ctx, branchID.String(), models.LevelBranch).Return(nil, repository.ErrNotFound)

		_, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelBranch, ContextID: branchID.String()})

		assert.True(t, repository.IsNotFound(err))
	})

	t.Run("the global tier rejects foreign ids", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelGlobal, ContextID: "not-the-singleton"})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("task context ids must be uuids", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.Resolve(ctx, ResolveContextInput{Level: models.LevelTask, ContextID: "task-7"})

		assert.True(t, repository.IsValidation(err))
	})
}

func TestContextService_Update(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()
	branchID := uuid.New()

	t.Run("creates a branch record on first write", func(t *testing.T) {
		env := newContextEnv(nil)

		env.contexts.On("Get", ctx, models.LevelBranch, branchID.String()).Return(nil, repository.ErrNotFound)
		env.branches.On("Get", ctx, branchID).Return(&models.Branch{ID: branchID, ProjectID: projectID}, nil)
		env.contexts.On("Upsert", ctx, mock.MatchedBy(func(rec *models.ContextRecord) bool {
			return rec.Level == models.LevelBranch &&
				rec.ID == branchID.String() &&
				rec.ParentID == projectID.String() &&
				rec.ProjectID == projectID.String()
		})).Return(nil)

		record, err := env.svc.Update(ctx, UpdateContextInput{
			Level:     models.LevelBranch,
			ContextID: branchID.String(),
			Patch:     models.JSONMap{"focus": "payment flow"},
		})

		require.NoError(t, err)
		assert.Equal(t, "payment flow", record.Data["focus"])
		env.contexts.AssertExpectations(t)
	})

	t.Run("the global singleton is never created implicitly", func(t *testing.T) {
		env := newContextEnv(nil)

		env.contexts.On("Get", ctx, models.LevelGlobal, models.GlobalContextID).Return(nil, repository.ErrNotFound)

		_, err := env.svc.Update(ctx, UpdateContextInput{
			Level: models.LevelGlobal,
			Patch: models.JSONMap{"standards": "high"},
		})

		assert.True(t, repository.IsNotFound(err))
		assert.Contains(t, err.Error(), "create_if_missing")
		env.contexts.AssertNotCalled(t, "Upsert")
	})

	t.Run("patches deep-merge into existing data", func(t *testing.T) {
		env := newContextEnv(nil)
		existing := &models.ContextRecord{
			Level: models.LevelProject,
			ID:    projectID.String(),
			Data: models.JSONMap{
				"stack":     map[string]interface{}{"language": "go"},
				"retention": 30,
			},
			Version: 3,
		}

		env.contexts.On("Get", ctx, models.LevelProject, projectID.String()).Return(existing, nil)
		env.contexts.On("Update", ctx, mock.MatchedBy(func(rec *models.ContextRecord) bool {
			stack, ok := rec.Data["stack"].(map[string]interface{})
			return ok && stack["language"] == "go" && stack["queue"] == "redis" && rec.Data["retention"] == 30
		})).Return(nil)

		_, err := env.svc.Update(ctx, UpdateContextInput{
			Level:     models.LevelProject,
			ContextID: projectID.String(),
			Patch:     models.JSONMap{"stack": map[string]interface{}{"queue": "redis"}},
		})

		require.NoError(t, err)
		env.contexts.AssertExpectations(t)
	})

	t.Run("retries through a version conflict", func(t *testing.T) {
		env := newContextEnv(nil)
		existing := &models.ContextRecord{Level: models.LevelProject, ID: projectID.String(), Data: models.JSONMap{}}

		env.contexts.On("Get", ctx, models.LevelProject, projectID.String()).Return(existing, nil).Twice()
		env.contexts.On("Update", ctx, mock.AnythingOfType("*models.ContextRecord")).Return(repository.ErrOptimisticLock).Once()
		env.contexts.On("Update", ctx, mock.AnythingOfType("*models.ContextRecord")).Return(nil).Once()

		_, err := env.svc.Update(ctx, UpdateContextInput{
			Level:     models.LevelProject,
			ContextID: projectID.String(),
			Patch:     models.JSONMap{"k": "v"},
		})

		require.NoError(t, err)
		env.contexts.AssertNumberOfCalls(t, "Update", 2)
	})

	t.Run("propagation fans out and is audited", func(t *testing.T) {
		env := newContextEnv(nil)
		existing := &models.ContextRecord{Level: models.LevelProject, ID: projectID.String(), Data: models.JSONMap{}}
		affected := []string{branchID.String(), uuid.New().String()}

		env.contexts.On("Get", ctx, models.LevelProject, projectID.String()).Return(existing, nil)
		env.contexts.On("Update", ctx, mock.AnythingOfType("*models.ContextRecord")).Return(nil)
		env.propagations.On("Record", ctx, mock.MatchedBy(func(rec *models.PropagationRecord) bool {
			return rec.SourceLevel == models.LevelProject &&
				rec.SourceID == projectID.String() &&
				rec.ChangeType == "context_update" &&
				rec.Status == models.PropagationPending
		})).Return(nil)
		env.cache.On("InvalidateScope", ctx, models.LevelProject, projectID.String(), "context_update").Return(affected, nil)
		env.propagations.On("Complete", ctx, mock.AnythingOfType("string"), models.PropagationCompleted, affected, mock.AnythingOfType("int64"), "").Return(nil)

		_, err := env.svc.Update(ctx, UpdateContextInput{
			Level:     models.LevelProject,
			ContextID: projectID.String(),
			Patch:     models.JSONMap{"k": "v"},
			Propagate: true,
		})

		require.NoError(t, err)
		env.propagations.AssertExpectations(t)
		env.cache.AssertExpectations(t)
	})

	t.Run("force_local_only is a task-tier switch", func(t *testing.T) {
		env := newContextEnv(nil)
		force := true

		_, err := env.svc.Update(ctx, UpdateContextInput{
			Level:          models.LevelBranch,
			ContextID:      branchID.String(),
			ForceLocalOnly: &force,
		})

		assert.True(t, repository.IsValidation(err))
		env.contexts.AssertNotCalled(t, "Get")
	})
}

func TestContextService_Delegate(t *testing.T) {
	ctx := context.Background()
	taskID := uuid.New()
	branchID := uuid.New()

	t.Run("queues an upward delegation and nudges the worker", func(t *testing.T) {
		env := newContextEnv(nil)

		env.delegations.On("Enqueue", ctx, mock.MatchedBy(func(d *models.ContextDelegation) bool {
			return d.SourceLevel == models.LevelTask &&
				d.TargetLevel == models.LevelBranch &&
				d.TriggerType == models.TriggerManual &&
				!d.AutoDelegated &&
				d.ImplementationStatus == models.ImplementationPending
		})).Return(nil)

		delegation, err := env.svc.Delegate(ctx, DelegateContextInput{
			SourceLevel: models.LevelTask,
			SourceID:    taskID.String(),
			TargetLevel: models.LevelBranch,
			TargetID:    branchID.String(),
			Data:        models.JSONMap{"pattern": "exponential backoff on 429"},
			Reason:      "applies to every task in the branch",
			CreatedBy:   "agent-1",
		})

		require.NoError(t, err)
		assert.False(t, delegation.Processed)
		select {
		case <-env.nudge:
		default:
			t.Fatal("expected a worker nudge")
		}
	})

	t.Run("downward delegation is rejected", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.Delegate(ctx, DelegateContextInput{
			SourceLevel: models.LevelBranch,
			SourceID:    branchID.String(),
			TargetLevel: models.LevelTask,
			TargetID:    taskID.String(),
			Data:        models.JSONMap{"k": "v"},
		})

		assert.True(t, repository.IsValidation(err))
		assert.Contains(t, err.Error(), "strictly higher")
		env.delegations.AssertNotCalled(t, "Enqueue")
	})

	t.Run("same-tier delegation is rejected", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.Delegate(ctx, DelegateContextInput{
			SourceLevel: models.LevelBranch,
			SourceID:    branchID.String(),
			TargetLevel: models.LevelBranch,
			TargetID:    uuid.New().String(),
			Data:        models.JSONMap{"k": "v"},
		})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("empty payloads are rejected", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.Delegate(ctx, DelegateContextInput{
			SourceLevel: models.LevelTask,
			SourceID:    taskID.String(),
			TargetLevel: models.LevelBranch,
			TargetID:    branchID.String(),
		})

		assert.True(t, repository.IsValidation(err))
	})

	t.Run("confidence is bounded", func(t *testing.T) {
		env := newContextEnv(nil)
		confidence := 1.7

		_, err := env.svc.Delegate(ctx, DelegateContextInput{
			SourceLevel: models.LevelTask,
			SourceID:    taskID.String(),
			TargetLevel: models.LevelBranch,
			TargetID:    branchID.String(),
			Data:        models.JSONMap{"k": "v"},
			Confidence:  &confidence,
		})

		assert.True(t, repository.IsValidation(err))
	})
}

func TestContextService_ApproveDelegation(t *testing.T) {
	ctx := context.Background()
	delegationID := uuid.New()
	taskID := uuid.New()
	branchID := uuid.New()

	pending := func() *models.ContextDelegation {
		return &models.ContextDelegation{
			ID:            delegationID,
			SourceLevel:   models.LevelTask,
			SourceID:      taskID.String(),
			TargetLevel:   models.LevelBranch,
			TargetID:      branchID.String(),
			DelegatedData: models.JSONMap{"pattern": "retry with jitter"},
			TriggerType:   models.TriggerManual,
		}
	}

	t.Run("approval merges into the target and propagates", func(t *testing.T) {
		env := newContextEnv(nil)
		processed := pending()
		processed.Processed = true
		processed.ImplementationStatus = models.ImplementationImplemented

		env.delegations.On("Get", ctx, delegationID).Return(pending(), nil).Once()
		env.contexts.On("Get", ctx, models.LevelBranch, branchID.String()).Return(&models.ContextRecord{
			Level: models.LevelBranch,
			ID:    branchID.String(),
			Data:  models.JSONMap{"focus": "payments"},
		}, nil)
		env.contexts.On("Update", ctx, mock.MatchedBy(func(rec *models.ContextRecord) bool {
			return rec.Data["pattern"] == "retry with jitter" && rec.Data["focus"] == "payments"
		})).Return(nil)
		env.propagations.On("Record", ctx, mock.MatchedBy(func(rec *models.PropagationRecord) bool {
			return rec.ChangeType == "delegation_merged"
		})).Return(nil)
		env.cache.On("InvalidateScope", ctx, models.LevelBranch, branchID.String(), "delegation_merged").Return([]string{taskID.String()}, nil)
		env.propagations.On("Complete", ctx, mock.AnythingOfType("string"), models.PropagationCompleted, []string{taskID.String()}, mock.AnythingOfType("int64"), "").Return(nil)
		env.delegations.On("MarkProcessed", ctx, delegationID, true, models.ImplementationImplemented, "", "reviewer").Return(nil)
		env.delegations.On("Get", ctx, delegationID).Return(processed, nil).Once()

		result, err := env.svc.ApproveDelegation(ctx, delegationID, true, "", "reviewer")

		require.NoError(t, err)
		assert.True(t, result.Processed)
		env.delegations.AssertExpectations(t)
		env.contexts.AssertExpectations(t)
	})

	t.Run("rejection records the reason and skips the merge", func(t *testing.T) {
		env := newContextEnv(nil)
		rejected := pending()
		rejected.Processed = true
		rejected.ImplementationStatus = models.ImplementationRejected

		env.delegations.On("Get", ctx, delegationID).Return(pending(), nil).Once()
		env.delegations.On("MarkProcessed", ctx, delegationID, false, models.ImplementationRejected, "too narrow", "reviewer").Return(nil)
		env.delegations.On("Get", ctx, delegationID).Return(rejected, nil).Once()

		result, err := env.svc.ApproveDelegation(ctx, delegationID, false, "too narrow", "reviewer")

		require.NoError(t, err)
		assert.Equal(t, models.ImplementationRejected, result.ImplementationStatus)
		env.contexts.AssertNotCalled(t, "Update")
	})

	t.Run("rejection without a reason gets the default", func(t *testing.T) {
		env := newContextEnv(nil)

		env.delegations.On("Get", ctx, delegationID).Return(pending(), nil).Once()
		env.delegations.On("MarkProcessed", ctx, delegationID, false, models.ImplementationRejected, "rejected by reviewer", "reviewer").Return(nil)
		env.delegations.On("Get", ctx, delegationID).Return(pending(), nil).Once()

		_, err := env.svc.ApproveDelegation(ctx, delegationID, false, "", "reviewer")

		require.NoError(t, err)
		env.delegations.AssertExpectations(t)
	})

	t.Run("processed delegations conflict", func(t *testing.T) {
		env := newContextEnv(nil)
		done := pending()
		done.Processed = true

		env.delegations.On("Get", ctx, delegationID).Return(done, nil)

		_, err := env.svc.ApproveDelegation(ctx, delegationID, true, "", "reviewer")

		assert.True(t, IsConflict(err))
		env.delegations.AssertNotCalled(t, "MarkProcessed")
	})
}

func TestContextService_AddInsight(t *testing.T) {
	ctx := context.Background()
	branchID := uuid.New()

	t.Run("applies category and importance defaults", func(t *testing.T) {
		env := newContextEnv(nil)

		env.insights.On("Add", ctx, mock.MatchedBy(func(insight *models.ContextInsight) bool {
			return insight.Category == "general" && insight.Importance == models.ImportanceMedium
		})).Return(nil)

		insight, err := env.svc.AddInsight(ctx, AddInsightInput{
			Level:     models.LevelBranch,
			ContextID: branchID.String(),
			Content:   "the sandbox cluster throttles at 50 rps",
		})

		require.NoError(t, err)
		assert.Equal(t, models.LevelBranch, insight.ContextLevel)
		env.insights.AssertExpectations(t)
	})

	t.Run("requires content", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.AddInsight(ctx, AddInsightInput{Level: models.LevelBranch, ContextID: branchID.String()})

		assert.True(t, repository.IsValidation(err))
		env.insights.AssertNotCalled(t, "Add")
	})

	t.Run("bounds confidence", func(t *testing.T) {
		env := newContextEnv(nil)

		_, err := env.svc.AddInsight(ctx, AddInsightInput{
			Level:      models.LevelBranch,
			ContextID:  branchID.String(),
			Content:    "x",
			Confidence: -0.2,
		})

		assert.True(t, repository.IsValidation(err))
	})
}

func TestContextService_Invalidate(t *testing.T) {
	ctx := context.Background()
	projectID := uuid.New()

	t.Run("invalidates the scope with a default reason", func(t *testing.T) {
		env := newContextEnv(nil)
		affected := []string{uuid.New().String()}

		env.cache.On("InvalidateScope", ctx, models.LevelProject, projectID.String(), "manual_invalidation").Return(affected, nil)

		got, err := env.svc.Invalidate(ctx, models.LevelProject, projectID.String(), "")

		require.NoError(t, err)
		assert.Equal(t, affected, got)
	})
}

func TestNormalizeTier(t *testing.T) {
	t.Run("empty global id means the singleton", func(t *testing.T) {
		id, err := normalizeTier(models.LevelGlobal, "")
		require.NoError(t, err)
		assert.Equal(t, models.GlobalContextID, id)
	})

	t.Run("non-global tiers require an id", func(t *testing.T) {
		_, err := normalizeTier(models.LevelBranch, "")
		assert.True(t, repository.IsValidation(err))
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := normalizeTier(models.ContextLevel("galaxy"), "x")
		assert.True(t, repository.IsValidation(err))
	})
}
