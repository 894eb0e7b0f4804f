// Package tools is the dispatch facade: eight manage_* tools, each a
// group of actions validated against a JSON schema, executed against the
// service layer, and answered with a uniform envelope.
package tools

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/developer-mesh/agent-hub/pkg/repository"
	"github.com/developer-mesh/agent-hub/pkg/services"
)

// ErrorKind is the closed set of failure categories a tool call can
// surface. Everything the service and repository layers can produce maps
// onto exactly one kind.
type ErrorKind string

const (
	KindInvalid         ErrorKind = "INVALID"
	KindNotFound        ErrorKind = "NOT_FOUND"
	KindConflict        ErrorKind = "CONFLICT"
	KindCycle           ErrorKind = "CYCLE"
	KindVersionConflict ErrorKind = "VERSION_CONFLICT"
	KindCapacity        ErrorKind = "CAPACITY"
	KindForbidden       ErrorKind = "FORBIDDEN"
	KindCancelled       ErrorKind = "CANCELLED"
	KindInternal        ErrorKind = "INTERNAL"
)

// Envelope is the uniform response shape of every tool call.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Meta    Meta        `json:"meta"`
}

// Error describes a failed call.
type Error struct {
	Kind    ErrorKind              `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Meta travels with every envelope, success or failure.
type Meta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`

	// WorkflowGuidance is advisory text derived purely from the
	// operation result. Absence is not an error.
	WorkflowGuidance string `json:"workflow_guidance,omitempty"`
}

// KindOf classifies an error into the closed kind set. Unrecognized
// errors are INTERNAL; the dispatcher logs those with the request id and
// surfaces them opaquely.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case repository.IsValidation(err):
		return KindInvalid
	case repository.IsNotFound(err):
		return KindNotFound
	case repository.IsCycle(err):
		return KindCycle
	case repository.IsOptimisticLock(err):
		return KindVersionConflict
	case repository.IsCapacity(err):
		return KindCapacity
	case services.IsForbidden(err):
		return KindForbidden
	case repository.IsDuplicate(err), services.IsConflict(err):
		return KindConflict
	default:
		return KindInternal
	}
}

// messageOf renders the surfaced message for an error of the given kind.
// INTERNAL failures stay opaque to the caller.
func messageOf(kind ErrorKind, err error) string {
	if kind == KindInternal {
		return "internal error"
	}
	return err.Error()
}
