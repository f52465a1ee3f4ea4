// Package reconcile converges the set of memory blocks attached to a
// user's external agent onto the set implied by the user's project
// memberships and selection. Desired state at all times:
//
//	{the user's own block} ∪ {block of every selected project}
//
// The external service is the only source of truth for what is
// currently attached; every run re-reads it fresh.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

// Outbox intent operations replayed by the sweep worker.
const (
	OpAttachBlock = "attach_block"
	OpDetachBlock = "detach_block"
)

// Engine computes and applies minimal attach/detach deltas. Runs for
// the same agent are serialized by a per-agent mutex; runs for
// different agents proceed concurrently.
type Engine struct {
	store store.Store
	letta letta.Service
	locks *keyedMutex
	log   zerolog.Logger
}

func NewEngine(s store.Store, l letta.Service, log zerolog.Logger) *Engine {
	return &Engine{store: s, letta: l, locks: newKeyedMutex(), log: log}
}

// agentTarget is the resolved external identity a run operates on.
type agentTarget struct {
	lettaAgentID string
	userBlock    string
}

// resolveTarget finds the user's provisioned agent and memory block.
// Users without an active provisioned agent cannot be reconciled.
func (e *Engine) resolveTarget(ctx context.Context, userID string) (*agentTarget, error) {
	user, err := e.store.Users().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MemoryBlockID == nil || *user.MemoryBlockID == "" {
		return nil, fmt.Errorf("user %s: %w", userID, model.ErrAgentNotProvisioned)
	}

	agents, err := e.store.Agents().GetActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range agents {
		if a.LettaAgentID != nil && *a.LettaAgentID != "" {
			return &agentTarget{lettaAgentID: *a.LettaAgentID, userBlock: *user.MemoryBlockID}, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", userID, model.ErrAgentNotProvisioned)
}

// observe reads the currently attached block set. A failed listing is
// treated as empty rather than aborting the run: forward progress wins
// over precision, and redundant attaches are idempotent on the external
// side.
func (e *Engine) observe(ctx context.Context, lettaAgentID string) []string {
	observed, err := e.letta.ListAttachedBlocks(ctx, lettaAgentID)
	if err != nil {
		e.log.Warn().Err(err).Str("letta_agent_id", lettaAgentID).
			Msg("listing attached blocks failed; assuming none attached")
		return nil
	}
	return observed
}

// desiredBlocks resolves the block set for the given project selection.
// Projects without an external block contribute nothing.
func (e *Engine) desiredBlocks(ctx context.Context, userBlock string, projectIDs []string) ([]string, error) {
	desired := []string{userBlock}
	for _, pid := range projectIDs {
		project, err := e.store.Projects().Get(ctx, pid)
		if err != nil {
			return nil, err
		}
		if project.MemoryBlockID != nil && *project.MemoryBlockID != "" {
			desired = append(desired, *project.MemoryBlockID)
		}
	}
	return desired, nil
}

// Reconcile runs a full convergence for the user against their complete
// membership set.
func (e *Engine) Reconcile(ctx context.Context, userID string) error {
	return e.converge(ctx, userID, func(memberOf []string) ([]string, error) {
		return memberOf, nil
	})
}

// SetSelection converges the user's agent onto an explicit project
// selection from the UI. Selected projects the user is not a member of
// are rejected.
func (e *Engine) SetSelection(ctx context.Context, userID string, projectIDs []string) error {
	return e.converge(ctx, userID, func(memberOf []string) ([]string, error) {
		member := toSet(memberOf)
		for _, pid := range projectIDs {
			if !member[pid] {
				return nil, fmt.Errorf("project %s: not assigned to user: %w", pid, model.ErrForbidden)
			}
		}
		return projectIDs, nil
	})
}

// converge serializes on the agent, then reads memberships, chooses the
// project set, and applies the resulting plan. Both reads happen inside
// the critical section: a membership list read before a concurrent
// removal completes must never be applied after it. The fresh plan also
// supersedes anything still queued for this agent.
func (e *Engine) converge(ctx context.Context, userID string, choose func(memberOf []string) ([]string, error)) error {
	target, err := e.resolveTarget(ctx, userID)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(target.lettaAgentID)
	defer unlock()

	memberOf, err := e.store.Memberships().ListProjectIDsByUser(ctx, userID)
	if err != nil {
		return err
	}
	projectIDs, err := choose(memberOf)
	if err != nil {
		return err
	}

	desired, err := e.desiredBlocks(ctx, target.userBlock, projectIDs)
	if err != nil {
		return err
	}
	observed := e.observe(ctx, target.lettaAgentID)

	if err := e.store.Outbox().CancelPending(ctx, target.lettaAgentID, ""); err != nil {
		return err
	}

	plan := ComputePlan(target.userBlock, desired, observed)
	e.apply(ctx, userID, target.lettaAgentID, plan)
	return nil
}

// AssignProject records the membership and attaches that project's
// block. This is the single-pair fast path: no detach pass runs, and an
// already-attached block results in zero calls.
func (e *Engine) AssignProject(ctx context.Context, userID, projectID string) error {
	project, err := e.store.Projects().Get(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.store.Memberships().Add(ctx, userID, projectID); err != nil {
		return err
	}

	if project.MemoryBlockID == nil || *project.MemoryBlockID == "" {
		e.log.Warn().Str("project_id", projectID).Msg("project has no memory block; nothing to attach")
		return nil
	}

	target, err := e.resolveTarget(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrAgentNotProvisioned) {
			// Membership is recorded; the block attaches when the user's
			// agent is eventually reconciled.
			e.log.Info().Str("user_id", userID).Msg("assignment recorded for unprovisioned user")
			return nil
		}
		return err
	}

	unlock := e.locks.Lock(target.lettaAgentID)
	defer unlock()

	// A queued detach for this block predates the assignment.
	if err := e.store.Outbox().CancelPending(ctx, target.lettaAgentID, *project.MemoryBlockID); err != nil {
		return err
	}

	observed := e.observe(ctx, target.lettaAgentID)
	plan := ComputePlan(target.userBlock, []string{target.userBlock, *project.MemoryBlockID}, observed)
	plan.ToDetach = nil
	e.apply(ctx, userID, target.lettaAgentID, plan)
	return nil
}

// RemoveProject removes the membership and detaches exactly that
// project's block. The user's own block is never a detach candidate.
func (e *Engine) RemoveProject(ctx context.Context, userID, projectID string) error {
	project, err := e.store.Projects().Get(ctx, projectID)
	if err != nil {
		return err
	}
	if err := e.store.Memberships().Remove(ctx, userID, projectID); err != nil {
		return err
	}

	if project.MemoryBlockID == nil || *project.MemoryBlockID == "" {
		return nil
	}

	target, err := e.resolveTarget(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrAgentNotProvisioned) {
			return nil
		}
		return err
	}
	if *project.MemoryBlockID == target.userBlock {
		return nil
	}

	unlock := e.locks.Lock(target.lettaAgentID)
	defer unlock()

	// A queued attach for this block predates the removal; replaying it
	// would re-attach a block the user no longer carries.
	if err := e.store.Outbox().CancelPending(ctx, target.lettaAgentID, *project.MemoryBlockID); err != nil {
		return err
	}

	e.apply(ctx, userID, target.lettaAgentID, Plan{ToDetach: []string{*project.MemoryBlockID}})
	return nil
}

// apply issues the plan's calls sequentially. Failed calls are not
// rolled back and do not abort the rest of the plan; each failure is
// written as an outbox intent so the sweep retries it. Desired state is
// eventually consistent: the next run re-reads the external truth and
// recomputes the delta.
func (e *Engine) apply(ctx context.Context, userID, lettaAgentID string, plan Plan) {
	for _, blockID := range plan.ToAttach {
		if err := e.letta.AttachBlock(ctx, lettaAgentID, blockID); err != nil {
			e.log.Error().Err(err).Str("block_id", blockID).Msg("attach failed; queueing intent")
			e.enqueue(ctx, OpAttachBlock, userID, lettaAgentID, blockID)
		}
	}
	for _, blockID := range plan.ToDetach {
		if err := e.letta.DetachBlock(ctx, lettaAgentID, blockID); err != nil {
			e.log.Error().Err(err).Str("block_id", blockID).Msg("detach failed; queueing intent")
			e.enqueue(ctx, OpDetachBlock, userID, lettaAgentID, blockID)
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, op, userID, lettaAgentID, blockID string) {
	err := e.store.Outbox().Enqueue(ctx, &model.OutboxIntent{
		ID:           ulid.Make().String(),
		Op:           op,
		LettaAgentID: lettaAgentID,
		BlockID:      blockID,
		UserID:       userID,
	})
	if err != nil {
		e.log.Error().Err(err).Str("op", op).Str("block_id", blockID).Msg("outbox enqueue failed")
	}
}

// ReplayIntent re-applies one queued attach or detach under the same
// per-agent lock live runs take. An attach is checked against the
// recomputed desired set and dropped if the world has moved past it, so
// a stale replay can never resurrect a block the user no longer
// carries. Detaches replay as queued; plans that supersede a detach
// cancel it at enqueue-side instead.
func (e *Engine) ReplayIntent(ctx context.Context, in *model.OutboxIntent) error {
	switch in.Op {
	case OpAttachBlock, OpDetachBlock:
	default:
		return fmt.Errorf("unknown op: %s", in.Op)
	}

	unlock := e.locks.Lock(in.LettaAgentID)
	defer unlock()

	target, err := e.resolveTarget(ctx, in.UserID)
	if errors.Is(err, model.ErrAgentNotProvisioned) {
		// No live agent to converge; the intent is moot.
		return nil
	}
	if err != nil {
		return err
	}
	if target.lettaAgentID != in.LettaAgentID {
		// Queued against an agent the user no longer runs.
		return nil
	}

	if in.Op == OpDetachBlock {
		// A detach still queued has not been superseded by any later
		// plan. The user's own block is never a detach candidate.
		if in.BlockID == target.userBlock {
			return nil
		}
		return e.letta.DetachBlock(ctx, in.LettaAgentID, in.BlockID)
	}

	// Attaches are held to the membership-derived desired set: replaying
	// one the user has since lost would resurrect foreign context.
	memberOf, err := e.store.Memberships().ListProjectIDsByUser(ctx, in.UserID)
	if err != nil {
		return err
	}
	desired, err := e.desiredBlocks(ctx, target.userBlock, memberOf)
	if err != nil {
		return err
	}
	if !toSet(desired)[in.BlockID] {
		return nil
	}
	return e.letta.AttachBlock(ctx, in.LettaAgentID, in.BlockID)
}

// AttachedBlocks reports what the external service says is attached to
// the user's agent right now.
func (e *Engine) AttachedBlocks(ctx context.Context, userID string) ([]string, error) {
	target, err := e.resolveTarget(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.letta.ListAttachedBlocks(ctx, target.lettaAgentID)
}
