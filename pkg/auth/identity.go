// Package auth carries request identity. Callers self-identify with
// user and agent ids; nothing here issues or verifies tokens.
package auth

import "context"

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	agentIDKey contextKey = "agent_id"
)

// WithUserID returns a context carrying the acting user's id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the acting user's id, or "" when none was declared.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID returns a context carrying the calling agent's id.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentID returns the calling agent's id, or "" when none was declared.
func AgentID(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}
