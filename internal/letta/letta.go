// Package letta wraps the external agent service API: persistent agent
// identities with attachable memory blocks and a message endpoint. The
// service is the sole source of truth for which blocks are attached to
// an agent; this package performs no retries and caches nothing.
package letta

import "context"

// CreateAgentRequest carries the configuration for a new external agent.
// Persona is materialized as the agent's initial core-memory block;
// BlockIDs are existing blocks to attach at creation time.
type CreateAgentRequest struct {
	Name     string
	Persona  string
	BlockIDs []string
}

// Service is the contract consumed by the lifecycle manager and the
// reconciliation engine. Every call may fail independently (network,
// auth, rate limit); retry policy is the caller's responsibility.
// Attach and detach are idempotent on the server side: attaching an
// already-attached block or detaching an absent one is a no-op.
type Service interface {
	CreateMemoryBlock(ctx context.Context, label, content string) (string, error)
	CreateAgent(ctx context.Context, req CreateAgentRequest) (string, error)
	AttachBlock(ctx context.Context, agentID, blockID string) error
	DetachBlock(ctx context.Context, agentID, blockID string) error
	ListAttachedBlocks(ctx context.Context, agentID string) ([]string, error)
	SendMessage(ctx context.Context, agentID, text string) (string, error)
}
