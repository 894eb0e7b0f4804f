// Package hierarchy computes merged context views over the four-tier
// chain task < branch < project < global. It is pure: callers fetch the
// tier records and hand them in, so the same logic serves the resolver,
// the cache validator, and tests without a database.
package hierarchy

import (
	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/models"
	"github.com/developer-mesh/agent-hub/pkg/repository"
)

// Lineage carries the entity ancestors of a context id. Only the fields
// the target level needs must be set: a task resolve needs BranchID and
// ProjectID, a branch resolve needs ProjectID, higher levels need none.
type Lineage struct {
	BranchID  string
	ProjectID string
}

// Chain returns the tier keys consulted when resolving (level, id),
// ordered highest tier first. The global tier is a singleton, so a
// global chain ignores the passed id.
func Chain(level models.ContextLevel, id string, lin Lineage) ([]repository.ContextKey, error) {
	global := repository.ContextKey{Level: models.LevelGlobal, ID: models.GlobalContextID}
	switch level {
	case models.LevelGlobal:
		return []repository.ContextKey{global}, nil
	case models.LevelProject:
		if id == "" {
			return nil, errors.Wrap(repository.ErrValidation, "project context id required")
		}
		return []repository.ContextKey{
			global,
			{Level: models.LevelProject, ID: id},
		}, nil
	case models.LevelBranch:
		if id == "" {
			return nil, errors.Wrap(repository.ErrValidation, "branch context id required")
		}
		if lin.ProjectID == "" {
			return nil, errors.Wrap(repository.ErrValidation, "branch resolve requires project lineage")
		}
		return []repository.ContextKey{
			global,
			{Level: models.LevelProject, ID: lin.ProjectID},
			{Level: models.LevelBranch, ID: id},
		}, nil
	case models.LevelTask:
		if id == "" {
			return nil, errors.Wrap(repository.ErrValidation, "task context id required")
		}
		if lin.ProjectID == "" || lin.BranchID == "" {
			return nil, errors.Wrap(repository.ErrValidation, "task resolve requires branch and project lineage")
		}
		return []repository.ContextKey{
			global,
			{Level: models.LevelProject, ID: lin.ProjectID},
			{Level: models.LevelBranch, ID: lin.BranchID},
			{Level: models.LevelTask, ID: id},
		}, nil
	default:
		return nil, errors.Wrapf(repository.ErrValidation, "unknown context level %q", level)
	}
}
