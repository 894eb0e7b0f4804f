package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Project is the top-level grouping of branches, tasks, and agents.
// (name, user_id) is unique.
type Project struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	Status      ProjectStatus `json:"status" db:"status"`
	UserID      string        `json:"user_id" db:"user_id"`
	Metadata    JSONMap       `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Optimistic locking
	Version int `json:"version" db:"version"`

	// Computed fields (not stored)
	Branches []*Branch `json:"branches,omitempty" db:"-"`
}

// GetID returns the project ID (implements AggregateRoot)
func (p *Project) GetID() uuid.UUID { return p.ID }

// GetType returns the aggregate type (implements AggregateRoot)
func (p *Project) GetType() string { return "Project" }

// GetVersion returns the version (implements AggregateRoot)
func (p *Project) GetVersion() int { return p.Version }

// IsArchived reports whether the project has been archived.
func (p *Project) IsArchived() bool { return p.Status == ProjectStatusArchived }
