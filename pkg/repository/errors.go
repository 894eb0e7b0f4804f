// Package repository defines the persistence contracts of the hub. The
// postgres subpackage provides the production implementation.
package repository

import "errors"

// Common repository errors. The tool facade maps these onto the closed
// error-kind set, so everything below the facade reports through them.
var (
	ErrNotFound       = errors.New("entity not found")
	ErrDuplicate      = errors.New("entity already exists")
	ErrValidation     = errors.New("validation failed")
	ErrOptimisticLock = errors.New("optimistic lock failed")

	// ErrCycle is returned when a dependency edge would close a cycle,
	// whether caught in Go or by the database trigger backstop.
	ErrCycle = errors.New("dependency cycle detected")

	// ErrCapacity is returned when an agent's guarded workload update
	// finds no headroom.
	ErrCapacity = errors.New("agent at capacity")
)

// IsOptimisticLock reports whether err is a version-check failure that
// a fresh read-modify-write attempt could clear.
func IsOptimisticLock(err error) bool {
	return errors.Is(err, ErrOptimisticLock)
}

// IsNotFound reports whether err means the referenced entity is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err is a uniqueness violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsValidation reports whether err is an input the caller must fix.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsCycle reports whether err is a rejected dependency cycle.
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsCapacity reports whether err is a workload headroom failure.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}
