package store

import (
	"context"
	"time"

	"github.com/hivehq/hive/internal/model"
)

// Store exposes persistence operations required by services.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
// Writes commit statement-by-statement: there is no cross-entity
// transaction spanning external-service calls, so callers must tolerate
// partial state (see the outbox intents for the repair path).
type Store interface {
	Users() Users
	Agents() Agents
	Projects() Projects
	Memberships() Memberships
	Outbox() Outbox
}

type Users interface {
	Create(ctx context.Context, u *model.User) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]*model.User, error)
	UpdateDescription(ctx context.Context, userID, description string) error
	SetMemoryBlockID(ctx context.Context, userID, blockID string) error
	Count(ctx context.Context) (int, error)
}

type Agents interface {
	Create(ctx context.Context, a *model.Agent) (*model.Agent, error)
	// Get returns the row regardless of IsActive; visibility filtering is
	// the lifecycle manager's concern.
	Get(ctx context.Context, agentID string) (*model.Agent, error)
	GetActiveByUser(ctx context.Context, userID string) ([]*model.Agent, error)
	ListActive(ctx context.Context) ([]*model.Agent, error)
	Update(ctx context.Context, agentID string, upd model.AgentUpdate) (*model.Agent, error)
	SetLettaAgentID(ctx context.Context, agentID, lettaAgentID string) error
	Count(ctx context.Context) (int, error)
}

type Projects interface {
	Create(ctx context.Context, p *model.Project) (*model.Project, error)
	Get(ctx context.Context, projectID string) (*model.Project, error)
	List(ctx context.Context) ([]*model.Project, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Project, error)
	Count(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
}

type Memberships interface {
	// Add is an idempotent upsert; assigning an already-assigned user is
	// a no-op.
	Add(ctx context.Context, userID, projectID string) error
	Remove(ctx context.Context, userID, projectID string) error
	ListProjectIDsByUser(ctx context.Context, userID string) ([]string, error)
	ListUserIDsByProject(ctx context.Context, projectID string) ([]string, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, intent *model.OutboxIntent) error
	// LeaseBatch returns up to limit pending intents whose next attempt
	// is due, oldest first. Multi-process implementations claim the
	// returned rows so concurrent sweepers never replay the same intent.
	LeaseBatch(ctx context.Context, limit int) ([]*model.OutboxIntent, error)
	MarkDone(ctx context.Context, intentID string) error
	MarkFailed(ctx context.Context, intentID string, nextAttemptAt time.Time) error
	// CancelPending drops queued intents that a fresh plan for the agent
	// has superseded. An empty blockID cancels every queued intent for
	// the agent; otherwise only those targeting that block.
	CancelPending(ctx context.Context, lettaAgentID, blockID string) error
}
