package hierarchy

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRecord(level models.ContextLevel, id string, data models.JSONMap) *models.ContextRecord {
	return &models.ContextRecord{
		Level:     level,
		ID:        id,
		Data:      data,
		UpdatedAt: testNow.Add(-time.Hour),
		Version:   1,
	}
}

func taskChain(t *testing.T) []repository.ContextKey {
	t.Helper()
	chain, err := Chain(models.LevelTask, "T1", Lineage{BranchID: "B1", ProjectID: "P1"})
	require.NoError(t, err)
	return chain
}

func TestChain(t *testing.T) {
	chain := taskChain(t)
	require.Len(t, chain, 4)
	assert.Equal(t, repository.ContextKey{Level: models.LevelGlobal, ID: models.GlobalContextID}, chain[0])
	assert.Equal(t, repository.ContextKey{Level: models.LevelProject, ID: "P1"}, chain[1])
	assert.Equal(t, repository.ContextKey{Level: models.LevelBranch, ID: "B1"}, chain[2])
	assert.Equal(t, repository.ContextKey{Level: models.LevelTask, ID: "T1"}, chain[3])

	global, err := Chain(models.LevelGlobal, "ignored", Lineage{})
	require.NoError(t, err)
	assert.Equal(t, []repository.ContextKey{{Level: models.LevelGlobal, ID: models.GlobalContextID}}, global)

	_, err = Chain(models.LevelBranch, "B1", Lineage{})
	assert.ErrorIs(t, err, repository.ErrValidation)

	_, err = Chain(models.LevelTask, "T1", Lineage{ProjectID: "P1"})
	assert.ErrorIs(t, err, repository.ErrValidation)

	_, err = Chain(models.ContextLevel("galaxy"), "X", Lineage{})
	assert.ErrorIs(t, err, repository.ErrValidation)
}

func TestResolveMergesLowerTierFirst(t *testing.T) {
	chain := taskChain(t)
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{
			"timeout": 30,
			"security_policies": map[string]interface{}{
				"scan": true, "audit": "yearly",
			},
			"reviewers": []interface{}{"alpha", "beta"},
		}),
		chain[1]: testRecord(models.LevelProject, "P1", models.JSONMap{
			"timeout": 60,
			"security_policies": map[string]interface{}{
				"audit": "quarterly",
			},
		}),
		chain[3]: testRecord(models.LevelTask, "T1", models.JSONMap{
			"reviewers": []interface{}{"gamma"},
		}),
	}

	resolved, err := Resolve(chain, records, testNow)
	require.NoError(t, err)

	assert.Equal(t, "T1", resolved.ContextID)
	assert.Equal(t, models.LevelTask, resolved.Level)
	assert.Equal(t, testNow, resolved.ResolvedAt)

	// Scalars take the lowest tier, nested maps merge, arrays replace.
	assert.Equal(t, 60, resolved.Context["timeout"])
	assert.Equal(t, map[string]interface{}{"scan": true, "audit": "quarterly"}, resolved.Context["security_policies"])
	assert.Equal(t, []interface{}{"gamma"}, resolved.Context["reviewers"])

	// The absent branch tier is skipped in the path but still walked.
	assert.Equal(t, []string{"global:global_singleton", "project:P1", "task:T1"}, resolved.ResolutionPath)
}

func TestResolveOverrideReplacesWholesale(t *testing.T) {
	chain := taskChain(t)
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{
			"coding_standards": map[string]interface{}{"lint": "strict", "fmt": "gofmt"},
		}),
		chain[3]: func() *models.ContextRecord {
			r := testRecord(models.LevelTask, "T1", models.JSONMap{
				"coding_standards": map[string]interface{}{"lint": "relaxed"},
			})
			r.Overrides = models.JSONMap{"coding_standards": true}
			return r
		}(),
	}

	resolved, err := Resolve(chain, records, testNow)
	require.NoError(t, err)

	// Without the override this would merge and keep fmt from global.
	assert.Equal(t, map[string]interface{}{"lint": "relaxed"}, resolved.Context["coding_standards"])
}

func TestResolveInheritanceDisabledCutsTheWalk(t *testing.T) {
	chain := taskChain(t)
	branch := testRecord(models.LevelBranch, "B1", models.JSONMap{"local_standards": "branch"})
	branch.InheritanceDisabled = true
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{"from_global": true}),
		chain[1]: testRecord(models.LevelProject, "P1", models.JSONMap{"from_project": true}),
		chain[2]: branch,
		chain[3]: testRecord(models.LevelTask, "T1", models.JSONMap{"task_data": "t"}),
	}

	resolved, err := Resolve(chain, records, testNow)
	require.NoError(t, err)

	assert.NotContains(t, resolved.Context, "from_global")
	assert.NotContains(t, resolved.Context, "from_project")
	assert.Equal(t, "branch", resolved.Context["local_standards"])
	assert.Equal(t, []string{"branch:B1", "task:T1"}, resolved.ResolutionPath)
}

func TestResolveForceLocalOnly(t *testing.T) {
	chain := taskChain(t)
	leaf := testRecord(models.LevelTask, "T1", models.JSONMap{"task_data": "mine"})
	leaf.ForceLocalOnly = true
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{"from_global": true}),
		chain[3]: leaf,
	}

	resolved, err := Resolve(chain, records, testNow)
	require.NoError(t, err)

	assert.Equal(t, models.JSONMap{"task_data": "mine"}, resolved.Context)
	assert.Equal(t, []string{"task:T1"}, resolved.ResolutionPath)
}

func TestResolveMissingLeaf(t *testing.T) {
	chain := taskChain(t)
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{"x": 1}),
	}

	_, err := Resolve(chain, records, testNow)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestResolveViewDoesNotAliasRecords(t *testing.T) {
	chain := taskChain(t)
	global := testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{
		"security_policies": map[string]interface{}{"scan": true},
	})
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: global,
		chain[3]: testRecord(models.LevelTask, "T1", models.JSONMap{}),
	}

	resolved, err := Resolve(chain, records, testNow)
	require.NoError(t, err)

	resolved.Context["security_policies"].(map[string]interface{})["scan"] = false
	assert.Equal(t, true, global.Data["security_policies"].(map[string]interface{})["scan"])
}

func TestFingerprint(t *testing.T) {
	chain := taskChain(t)
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[0]: testRecord(models.LevelGlobal, models.GlobalContextID, models.JSONMap{"x": 1}),
		chain[3]: testRecord(models.LevelTask, "T1", models.JSONMap{}),
	}

	base := Fingerprint(chain, records)
	assert.Equal(t, base, Fingerprint(chain, records), "fingerprint is deterministic")

	// Touching a consulted record changes the hash.
	records[chain[0]].UpdatedAt = records[chain[0]].UpdatedAt.Add(time.Second)
	touched := Fingerprint(chain, records)
	assert.NotEqual(t, base, touched)

	// Creating a previously absent tier changes the hash too.
	records[chain[2]] = testRecord(models.LevelBranch, "B1", models.JSONMap{})
	assert.NotEqual(t, touched, Fingerprint(chain, records))
}

func TestWalkLowestDisabledTierWins(t *testing.T) {
	chain := taskChain(t)
	project := testRecord(models.LevelProject, "P1", models.JSONMap{})
	project.InheritanceDisabled = true
	branch := testRecord(models.LevelBranch, "B1", models.JSONMap{})
	branch.InheritanceDisabled = true
	records := map[repository.ContextKey]*models.ContextRecord{
		chain[1]: project,
		chain[2]: branch,
		chain[3]: testRecord(models.LevelTask, "T1", models.JSONMap{}),
	}

	assert.Equal(t, chain[2:], Walk(chain, records))
}

func TestResolveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	buildRecords := func(chain []repository.ContextKey, vals [4]int, present [4]bool) map[repository.ContextKey]*models.ContextRecord {
		records := make(map[repository.ContextKey]*models.ContextRecord)
		for i, key := range chain {
			if !present[i] {
				continue
			}
			records[key] = testRecord(key.Level, key.ID, models.JSONMap{"k": vals[i]})
		}
		// The leaf must exist for a resolve, but it may carry no data.
		if records[chain[3]] == nil {
			records[chain[3]] = testRecord(models.LevelTask, "T1", models.JSONMap{})
		}
		return records
	}

	properties.Property("the lowest tier carrying a key wins", prop.ForAll(
		func(g, p, b, tv int, hasG, hasP, hasB, hasT bool) bool {
			chain, err := Chain(models.LevelTask, "T1", Lineage{BranchID: "B1", ProjectID: "P1"})
			if err != nil {
				return false
			}
			vals := [4]int{g, p, b, tv}
			present := [4]bool{hasG, hasP, hasB, hasT}
			records := buildRecords(chain, vals, present)

			resolved, err := Resolve(chain, records, testNow)
			if err != nil {
				return false
			}

			for i := 3; i >= 0; i-- {
				if present[i] {
					return resolved.Context["k"] == vals[i]
				}
			}
			_, found := resolved.Context["k"]
			return !found
		},
		gen.Int(), gen.Int(), gen.Int(), gen.Int(),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("resolving twice yields the same view and hash", prop.ForAll(
		func(g, p, b, tv int, hasG, hasP, hasB, hasT bool) bool {
			chain, err := Chain(models.LevelTask, "T1", Lineage{BranchID: "B1", ProjectID: "P1"})
			if err != nil {
				return false
			}
			records := buildRecords(chain, [4]int{g, p, b, tv}, [4]bool{hasG, hasP, hasB, hasT})

			first, err1 := Resolve(chain, records, testNow)
			second, err2 := Resolve(chain, records, testNow)
			if err1 != nil || err2 != nil {
				return false
			}
			return first.DependenciesHash == second.DependenciesHash &&
				assert.ObjectsAreEqual(first.Context, second.Context) &&
				assert.ObjectsAreEqual(first.ResolutionPath, second.ResolutionPath)
		},
		gen.Int(), gen.Int(), gen.Int(), gen.Int(),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}
