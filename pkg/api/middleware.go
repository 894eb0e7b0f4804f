package api

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/developer-mesh/agent-hub/pkg/auth"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/tools"
)

// RequestID threads an id through the request context and echoes it
// back. An X-Request-ID supplied by the caller wins so multi-hop traces
// line up.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := observability.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Identity lifts the caller's self-declared ids off the headers into the
// request context. The platform trusts its transport; there is no token
// verification here.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			ctx = auth.WithUserID(ctx, userID)
		}
		if agentID := c.GetHeader("X-Agent-ID"); agentID != "" {
			ctx = auth.WithAgentID(ctx, agentID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		ctx := c.Request.Context()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": observability.GetRequestID(ctx),
		}
		if agentID := auth.AgentID(ctx); agentID != "" {
			fields["agent_id"] = agentID
		}
		if userID := auth.UserID(ctx); userID != "" {
			fields["user_id"] = userID
		}
		logger.Info("http request", fields)
	}
}

// Recovery converts a handler panic into an opaque INTERNAL envelope.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				requestID := observability.GetRequestID(c.Request.Context())
				logger.Error("handler panic", map[string]interface{}{
					"panic":      fmt.Sprintf("%v", r),
					"stack":      string(debug.Stack()),
					"request_id": requestID,
				})
				c.AbortWithStatusJSON(http.StatusInternalServerError, &tools.Envelope{
					Success: false,
					Error:   &tools.Error{Kind: tools.KindInternal, Message: "internal error"},
					Meta: tools.Meta{
						RequestID: requestID,
						Timestamp: time.Now().UTC(),
					},
				})
			}
		}()
		c.Next()
	}
}
