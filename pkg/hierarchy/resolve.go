package hierarchy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// Resolve merges the chain's records into the view for the leaf key.
// chain is ordered highest tier first; records maps each chain key to
// its record, with absent tiers simply omitted. The leaf record must
// exist.
//
// Merge rules, applied top down:
//   - plain maps deep-merge with the lower tier winning conflicts
//   - arrays and scalars replace
//   - keys named in a tier's override map replace wholesale
//   - the lowest tier with inheritance_disabled becomes the top of the
//     walk; nothing above it is merged
//   - force_local_only on the leaf reduces the view to the leaf alone
func Resolve(chain []repository.ContextKey, records map[repository.ContextKey]*models.ContextRecord, now time.Time) (*models.ResolvedContext, error) {
	if len(chain) == 0 {
		return nil, errors.Wrap(repository.ErrValidation, "empty resolution chain")
	}
	leafKey := chain[len(chain)-1]
	leaf := records[leafKey]
	if leaf == nil {
		return nil, errors.Wrapf(repository.ErrNotFound, "context record %s:%s", leafKey.Level, leafKey.ID)
	}

	walked := Walk(chain, records)

	view := make(map[string]interface{})
	path := make([]string, 0, len(walked))
	for _, key := range walked {
		rec := records[key]
		if rec == nil {
			// Absent tiers contribute nothing to the view but stay in
			// the fingerprint below.
			continue
		}
		view = mergeTier(view, rec.Data, rec.Overrides)
		path = append(path, string(key.Level)+":"+key.ID)
	}

	return &models.ResolvedContext{
		ContextID:        leafKey.ID,
		Level:            leafKey.Level,
		Context:          models.JSONMap(view),
		ResolutionPath:   path,
		DependenciesHash: Fingerprint(walked, records),
		ResolvedAt:       now,
	}, nil
}

// Walk applies the inheritance cuts to the chain and returns the tiers
// a resolve actually consults, highest tier first.
func Walk(chain []repository.ContextKey, records map[repository.ContextKey]*models.ContextRecord) []repository.ContextKey {
	if len(chain) == 0 {
		return nil
	}
	leaf := records[chain[len(chain)-1]]
	if leaf != nil && leaf.ForceLocalOnly {
		return chain[len(chain)-1:]
	}
	for i := len(chain) - 1; i >= 0; i-- {
		if rec := records[chain[i]]; rec != nil && rec.InheritanceDisabled {
			return chain[i:]
		}
	}
	return chain
}

// Fingerprint hashes the consulted tiers. Present tiers contribute
// (level, id, updated_at, inheritance_disabled); absent tiers contribute
// a marker so that creating the record later changes the hash. Order
// follows the walk.
func Fingerprint(walked []repository.ContextKey, records map[repository.ContextKey]*models.ContextRecord) string {
	h := sha256.New()
	for _, key := range walked {
		if rec := records[key]; rec != nil {
			fmt.Fprintf(h, "%s:%s:%d:%t\n", key.Level, key.ID, rec.UpdatedAt.UTC().UnixNano(), rec.InheritanceDisabled)
		} else {
			fmt.Fprintf(h, "%s:%s:absent\n", key.Level, key.ID)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
