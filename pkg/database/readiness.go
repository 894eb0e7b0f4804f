package database

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// requiredTables are the tables every operation path depends on. Readiness
// fails until migrations have created all of them.
var requiredTables = []string{
	"projects",
	"branches",
	"tasks",
	"subtasks",
	"task_dependencies",
	"labels",
	"task_labels",
	"agents",
	"agent_branch_assignments",
	"context_records",
	"context_delegations",
	"context_inheritance_cache",
	"work_handoffs",
	"idempotency_keys",
}

// TablesReady reports whether the full schema is present.
func (d *Database) TablesReady(ctx context.Context) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_name = ANY($1)`

	var count int
	if err := d.db.QueryRowContext(ctx, query, pq.Array(requiredTables)).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check tables: %w", err)
	}
	return count == len(requiredTables), nil
}

// WaitForTables blocks until the schema is complete or the context expires.
func (d *Database) WaitForTables(ctx context.Context) error {
	interval := 500 * time.Millisecond
	for {
		ready, err := d.TablesReady(ctx)
		if err == nil && ready {
			return nil
		}
		if err != nil {
			d.logger.Debug("Table readiness check failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("schema not ready: %w", ctx.Err())
		case <-time.After(interval):
			if interval < 5*time.Second {
				interval *= 2
			}
		}
	}
}
