// Package agents maintains the mapping from local agent records to
// external agent identities, materializing the external side lazily.
package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

// CreateAgentParams carries the onboarding input for a new agent.
// Description is the user's questionnaire answer and seeds the persona;
// ProjectID optionally attaches one project's context at creation time.
type CreateAgentParams struct {
	Name        string
	Personality string
	Description string
	ProjectID   *string
}

// Manager owns agent lifecycle: local rows, external identities and the
// in-process cache of active agents.
type Manager struct {
	store store.Store
	letta letta.Service
	cache *cache
	log   zerolog.Logger
}

func NewManager(s store.Store, l letta.Service, log zerolog.Logger) *Manager {
	return &Manager{store: s, letta: l, cache: newCache(), log: log}
}

// GetOrCreateUserMemoryBlock returns the user's external memory block,
// creating and persisting it on first use. Two concurrent callers for a
// user with no block will each create one and race on the persisted id;
// the loser's block is orphaned on the external side.
func (m *Manager) GetOrCreateUserMemoryBlock(ctx context.Context, user *model.User) (string, error) {
	if user.MemoryBlockID != nil && *user.MemoryBlockID != "" {
		return *user.MemoryBlockID, nil
	}

	content := fmt.Sprintf("Name: %s\nEmail: %s", user.Name, user.Email)
	if user.Description != nil && *user.Description != "" {
		content += "\nAbout: " + *user.Description
	}
	blockID, err := m.letta.CreateMemoryBlock(ctx, fmt.Sprintf("User: %s", user.Name), content)
	if err != nil {
		return "", fmt.Errorf("create user memory block: %w", err)
	}
	if err := m.store.Users().SetMemoryBlockID(ctx, user.ID, blockID); err != nil {
		return "", err
	}
	return blockID, nil
}

// CreateAgent persists the local row first, then creates the external
// agent and attaches the user's block (plus one project block when
// requested). A failure after the local insert leaves a row with a nil
// LettaAgentID; the row is not retried automatically and the caller sees
// the error.
func (m *Manager) CreateAgent(ctx context.Context, userID string, p CreateAgentParams) (*model.Agent, error) {
	user, err := m.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	userBlock, err := m.GetOrCreateUserMemoryBlock(ctx, user)
	if err != nil {
		return nil, err
	}

	var projectBlock *string
	if p.ProjectID != nil {
		project, err := m.store.Projects().Get(ctx, *p.ProjectID)
		if err != nil {
			return nil, err
		}
		projectBlock = project.MemoryBlockID
	}

	agent, err := m.store.Agents().Create(ctx, &model.Agent{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        p.Name,
		Personality: p.Personality,
		IsActive:    true,
	})
	if err != nil {
		return nil, err
	}

	persona := p.Personality
	if p.Description != "" {
		persona += "\nThe user you assist describes themselves as: " + p.Description
	}
	lettaID, err := m.letta.CreateAgent(ctx, letta.CreateAgentRequest{
		Name:    p.Name,
		Persona: persona,
	})
	if err != nil {
		m.log.Error().Err(err).Str("agent_id", agent.ID).Msg("external agent creation failed; local row left unprovisioned")
		return nil, fmt.Errorf("create external agent: %w", err)
	}
	if err := m.store.Agents().SetLettaAgentID(ctx, agent.ID, lettaID); err != nil {
		return nil, err
	}
	agent.LettaAgentID = &lettaID

	if err := m.letta.AttachBlock(ctx, lettaID, userBlock); err != nil {
		return nil, fmt.Errorf("attach user block: %w", err)
	}
	if projectBlock != nil && *projectBlock != "" {
		if err := m.letta.AttachBlock(ctx, lettaID, *projectBlock); err != nil {
			return nil, fmt.Errorf("attach project block: %w", err)
		}
	}

	m.cache.put(agent)
	return agent, nil
}

// GetAgent returns the active agent with the given id, filling the
// cache on miss. Inactive and unknown agents both report ErrNotFound.
func (m *Manager) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	if a, ok := m.cache.get(agentID); ok {
		return a, nil
	}
	a, err := m.store.Agents().Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, model.ErrNotFound
	}
	m.cache.put(a)
	return a, nil
}

// GetAgentsByUser returns the user's active agents.
func (m *Manager) GetAgentsByUser(ctx context.Context, userID string) ([]*model.Agent, error) {
	agents, err := m.store.Agents().GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		m.cache.put(a)
	}
	return agents, nil
}

// GetAllAgents returns every active agent.
func (m *Manager) GetAllAgents(ctx context.Context) ([]*model.Agent, error) {
	agents, err := m.store.Agents().ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		m.cache.put(a)
	}
	return agents, nil
}

// UpdateAgent applies a partial update. Deactivation evicts the cache
// entry but does not delete the external agent; the external identity
// is orphaned (see DeleteAgent).
func (m *Manager) UpdateAgent(ctx context.Context, agentID string, upd model.AgentUpdate) (*model.Agent, error) {
	if upd.IsZero() {
		return m.GetAgent(ctx, agentID)
	}
	a, err := m.store.Agents().Update(ctx, agentID, upd)
	if err != nil {
		return nil, err
	}
	if upd.IsActive != nil && !*upd.IsActive {
		m.cache.evict(agentID)
		return a, nil
	}
	m.cache.put(a)
	return a, nil
}

// DeleteAgent soft-deletes by deactivating the row. The external agent
// and its blocks are deliberately left in place.
func (m *Manager) DeleteAgent(ctx context.Context, agentID string) error {
	inactive := false
	_, err := m.UpdateAgent(ctx, agentID, model.AgentUpdate{IsActive: &inactive})
	return err
}

// Query sends the user's message to the agent's external identity and
// returns the reply. An unprovisioned agent or a failed external call
// degrades to a canned reply rather than surfacing the cause.
func (m *Manager) Query(ctx context.Context, agentID, text string) (string, error) {
	a, err := m.GetAgent(ctx, agentID)
	if err != nil {
		return "", err
	}

	if a.LettaAgentID == nil || *a.LettaAgentID == "" {
		m.log.Warn().Str("agent_id", agentID).Msg("query against unprovisioned agent")
		return fmt.Sprintf("I'm %s, a %s agent. You asked: %q. I'm not fully set up yet, but I'm here to help!",
			a.Name, a.Personality, text), nil
	}

	reply, err := m.letta.SendMessage(ctx, *a.LettaAgentID, text)
	if err != nil {
		m.log.Error().Err(err).Str("agent_id", agentID).Msg("external query failed")
		return fmt.Sprintf("I'm %s, a %s agent. You asked: %q. I encountered an error, but I'm still here to help!",
			a.Name, a.Personality, text), nil
	}
	return reply, nil
}
