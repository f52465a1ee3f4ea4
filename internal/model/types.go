package model

import "time"

// Role controls access to admin-only routes.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

// ProjectStatus tracks the lifecycle of a project; membership is
// independent of status.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectPaused    ProjectStatus = "paused"
)

// User is an account in the workspace. MemoryBlockID references the
// external memory block holding the user's personal context; it is set
// lazily the first time the user's agent needs it.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	Role          Role      `json:"role"`
	Description   *string   `json:"description,omitempty"`
	MemoryBlockID *string   `json:"memoryBlockId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Agent is a user's assistant. LettaAgentID is nil until the external
// agent has been created successfully; rows with a nil id are incomplete
// and must be re-provisioned by the caller.
type Agent struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Name         string    `json:"name"`
	Personality  string    `json:"personality"`
	LettaAgentID *string   `json:"lettaAgentId,omitempty"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AgentUpdate enumerates the fields a caller may change on an agent.
// Nil fields are left untouched. Unknown request fields cannot reach the
// persistence layer because there is nowhere to put them.
type AgentUpdate struct {
	Name        *string `json:"name,omitempty"`
	Personality *string `json:"personality,omitempty"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// IsZero reports whether the update would change nothing.
func (u AgentUpdate) IsZero() bool {
	return u.Name == nil && u.Personality == nil && u.IsActive == nil
}

// Project carries shared context. MemoryBlockID is nil when external
// block creation failed at project-creation time; such projects
// contribute nothing to reconciliation until repaired.
type Project struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	Status        ProjectStatus `json:"status"`
	MemoryBlockID *string       `json:"memoryBlockId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// ProjectMembership assigns a user to a project. Keyed by user, not by
// agent.
type ProjectMembership struct {
	UserID     string    `json:"userId"`
	ProjectID  string    `json:"projectId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// AdminStats summarizes the workspace for the admin console.
type AdminStats struct {
	TotalUsers     int `json:"totalUsers"`
	TotalAgents    int `json:"totalAgents"`
	ActiveProjects int `json:"activeProjects"`
	TotalProjects  int `json:"totalProjects"`
}

// OutboxIntent is a pending attach/detach call against the external
// agent service, written before the call is attempted so the sweep
// worker can replay it after a partial failure.
type OutboxIntent struct {
	ID            string    `json:"id"`
	Op            string    `json:"op"`
	LettaAgentID  string    `json:"lettaAgentId"`
	BlockID       string    `json:"blockId"`
	UserID        string    `json:"userId"`
	AttemptCount  int       `json:"attemptCount"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	CreatedAt     time.Time `json:"createdAt"`
}
