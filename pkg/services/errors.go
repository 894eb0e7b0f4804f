package services

import "github.com/pkg/errors"

// Service-level errors. Repository sentinels cover persistence
// failures; these name rules enforced above the store.
var (
	// ErrForbidden guards protected operations, e.g. deleting the main
	// branch or unregistering an agent that still owns work.
	ErrForbidden = errors.New("operation forbidden")

	// ErrConflict rejects writes that would violate a standing
	// invariant without being a uniqueness failure, e.g. deleting a
	// project that still has branches without cascade.
	ErrConflict = errors.New("conflicting state")
)

// IsForbidden reports whether err is a protected-operation rejection.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict reports whether err is an invariant-violation rejection.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
