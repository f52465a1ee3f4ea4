package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
	"github.com/hivehq/hive/internal/store/sqlite"
)

// fakeLetta records calls and serves a mutable attached-block set.
type fakeLetta struct {
	mu       sync.Mutex
	attached map[string][]string // lettaAgentID -> blockIDs

	attachCalls []string // "agentID/blockID"
	detachCalls []string

	listErr   error
	attachErr error
	detachErr error
}

func newFakeLetta() *fakeLetta {
	return &fakeLetta{attached: make(map[string][]string)}
}

func (f *fakeLetta) CreateMemoryBlock(ctx context.Context, label, content string) (string, error) {
	return "blk-" + label, nil
}

func (f *fakeLetta) CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (string, error) {
	return "letta-" + req.Name, nil
}

func (f *fakeLetta) AttachBlock(ctx context.Context, agentID, blockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls = append(f.attachCalls, agentID+"/"+blockID)
	if f.attachErr != nil {
		return f.attachErr
	}
	for _, b := range f.attached[agentID] {
		if b == blockID {
			return nil
		}
	}
	f.attached[agentID] = append(f.attached[agentID], blockID)
	return nil
}

func (f *fakeLetta) DetachBlock(ctx context.Context, agentID, blockID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detachCalls = append(f.detachCalls, agentID+"/"+blockID)
	if f.detachErr != nil {
		return f.detachErr
	}
	var kept []string
	for _, b := range f.attached[agentID] {
		if b != blockID {
			kept = append(kept, b)
		}
	}
	f.attached[agentID] = kept
	return nil
}

func (f *fakeLetta) ListAttachedBlocks(ctx context.Context, agentID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.attached[agentID]...), nil
}

func (f *fakeLetta) SendMessage(ctx context.Context, agentID, text string) (string, error) {
	return "ok", nil
}

func (f *fakeLetta) calls() (attach, detach []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attachCalls...), append([]string(nil), f.detachCalls...)
}

// --- fixtures ---

type fixture struct {
	store store.Store
	letta *fakeLetta
	eng   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	fl := newFakeLetta()
	return &fixture{store: st, letta: fl, eng: NewEngine(st, fl, zerolog.Nop())}
}

// seedUser creates a provisioned user with an active agent and returns
// (userID, lettaAgentID).
func (fx *fixture) seedUser(t *testing.T, n int) (string, string) {
	t.Helper()
	ctx := context.Background()
	userID := fmt.Sprintf("user-%d", n)
	blockID := fmt.Sprintf("blk-user-%d", n)
	lettaID := fmt.Sprintf("letta-%d", n)

	_, err := fx.store.Users().Create(ctx, &model.User{
		ID: userID, Email: fmt.Sprintf("u%d@example.com", n), Name: "U", Role: model.RoleEmployee,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.Users().SetMemoryBlockID(ctx, userID, blockID))

	agentID := fmt.Sprintf("agent-%d", n)
	_, err = fx.store.Agents().Create(ctx, &model.Agent{
		ID: agentID, UserID: userID, Name: "A", Personality: "helpful", IsActive: true,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.Agents().SetLettaAgentID(ctx, agentID, lettaID))

	// external side starts with the user block attached
	require.NoError(t, fx.letta.AttachBlock(ctx, lettaID, blockID))
	fx.letta.attachCalls = nil
	return userID, lettaID
}

func (fx *fixture) seedProject(t *testing.T, n int) (string, string) {
	t.Helper()
	projectID := fmt.Sprintf("proj-%d", n)
	blockID := fmt.Sprintf("blk-proj-%d", n)
	_, err := fx.store.Projects().Create(context.Background(), &model.Project{
		ID: projectID, Name: fmt.Sprintf("P%d", n), Status: model.ProjectActive, MemoryBlockID: &blockID,
	})
	require.NoError(t, err)
	return projectID, blockID
}

// --- tests ---

func TestAssignProject_AttachesBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	projectID, blockID := fx.seedProject(t, 1)

	require.NoError(t, fx.eng.AssignProject(ctx, userID, projectID))

	attach, detach := fx.letta.calls()
	assert.Equal(t, []string{lettaID + "/" + blockID}, attach)
	assert.Empty(t, detach)

	got, err := fx.eng.AttachedBlocks(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, got, blockID)
}

func TestAssignProject_SecondAssignmentIssuesNoCalls(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	projectID, _ := fx.seedProject(t, 1)

	require.NoError(t, fx.eng.AssignProject(ctx, userID, projectID))
	attachBefore, _ := fx.letta.calls()

	require.NoError(t, fx.eng.AssignProject(ctx, userID, projectID))
	attachAfter, detachAfter := fx.letta.calls()

	assert.Equal(t, attachBefore, attachAfter, "re-assignment must not re-attach")
	assert.Empty(t, detachAfter)
}

func TestAssignProject_UnprovisionedUserRecordsMembership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.store.Users().Create(ctx, &model.User{
		ID: "user-raw", Email: "raw@example.com", Name: "R", Role: model.RoleEmployee,
	})
	require.NoError(t, err)
	projectID, _ := fx.seedProject(t, 1)

	require.NoError(t, fx.eng.AssignProject(ctx, "user-raw", projectID))

	ids, err := fx.store.Memberships().ListProjectIDsByUser(ctx, "user-raw")
	require.NoError(t, err)
	assert.Equal(t, []string{projectID}, ids)

	attach, _ := fx.letta.calls()
	assert.Empty(t, attach)
}

func TestRemoveProject_DetachesOnlyThatBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	p2, b2 := fx.seedProject(t, 2)

	require.NoError(t, fx.eng.AssignProject(ctx, userID, p1))
	require.NoError(t, fx.eng.AssignProject(ctx, userID, p2))

	require.NoError(t, fx.eng.RemoveProject(ctx, userID, p1))

	_, detach := fx.letta.calls()
	assert.Equal(t, []string{lettaID + "/" + b1}, detach)

	got, err := fx.eng.AttachedBlocks(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, got, b2)
	assert.NotContains(t, got, b1)
}

func TestSetSelection_ConvergesToSelection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	p2, b2 := fx.seedProject(t, 2)
	p3, b3 := fx.seedProject(t, 3)

	for _, p := range []string{p1, p2, p3} {
		require.NoError(t, fx.eng.AssignProject(ctx, userID, p))
	}

	require.NoError(t, fx.eng.SetSelection(ctx, userID, []string{p2}))

	got, err := fx.eng.AttachedBlocks(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, got, b2)
	assert.NotContains(t, got, b1)
	assert.NotContains(t, got, b3)
	assert.Contains(t, got, "blk-user-1", "user block must survive every run")
}

func TestSetSelection_RejectsNonMemberProject(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, _ := fx.seedProject(t, 1)
	p2, _ := fx.seedProject(t, 2)

	require.NoError(t, fx.eng.AssignProject(ctx, userID, p1))

	err := fx.eng.SetSelection(ctx, userID, []string{p2})
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestSetSelection_EmptySelectionKeepsUserBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.eng.AssignProject(ctx, userID, p1))

	require.NoError(t, fx.eng.SetSelection(ctx, userID, nil))

	got, err := fx.eng.AttachedBlocks(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"blk-user-1"}, got)
	assert.NotContains(t, got, b1)
}

func TestReconcile_FailedListingFailsOpen(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	fx.letta.listErr = errors.New("listing down")

	require.NoError(t, fx.eng.Reconcile(ctx, userID))

	// Observed treated as empty: everything desired is re-attached, nothing detached.
	attach, detach := fx.letta.calls()
	assert.Contains(t, attach, lettaID+"/"+b1)
	assert.Contains(t, attach, lettaID+"/blk-user-1")
	assert.Empty(t, detach)
}

func TestReconcile_FailedAttachEnqueuesIntent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	fx.letta.attachErr = errors.New("boom")
	require.NoError(t, fx.eng.Reconcile(ctx, userID))

	pending, err := fx.store.Outbox().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, OpAttachBlock, pending[0].Op)
	assert.Equal(t, b1, pending[0].BlockID)
	assert.Equal(t, lettaID, pending[0].LettaAgentID)
	assert.Equal(t, userID, pending[0].UserID)
}

func TestReconcile_UnprovisionedUser(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.store.Users().Create(ctx, &model.User{
		ID: "user-raw", Email: "raw@example.com", Name: "R", Role: model.RoleEmployee,
	})
	require.NoError(t, err)

	err = fx.eng.Reconcile(ctx, "user-raw")
	assert.ErrorIs(t, err, model.ErrAgentNotProvisioned)
}

func TestRemoveProject_CancelsQueuedAttach(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, _ := fx.seedProject(t, 1)

	fx.letta.attachErr = errors.New("letta down")
	require.NoError(t, fx.eng.AssignProject(ctx, userID, p1))
	fx.letta.attachErr = nil

	pending, err := fx.store.Outbox().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, fx.eng.RemoveProject(ctx, userID, p1))

	pending, err = fx.store.Outbox().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "the removal supersedes the queued attach")
}

func TestSetSelection_SupersedesQueuedIntents(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, _ := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	fx.letta.attachErr = errors.New("letta down")
	require.NoError(t, fx.eng.Reconcile(ctx, userID))
	fx.letta.attachErr = nil

	require.NoError(t, fx.eng.SetSelection(ctx, userID, nil))

	pending, err := fx.store.Outbox().LeaseBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "a fresh full plan replaces everything queued")
}

func TestReplayIntent_AppliesWhenStillDesired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	err := fx.eng.ReplayIntent(ctx, &model.OutboxIntent{
		ID: "i1", Op: OpAttachBlock, LettaAgentID: lettaID, BlockID: b1, UserID: userID,
	})
	require.NoError(t, err)

	attach, _ := fx.letta.calls()
	assert.Equal(t, []string{lettaID + "/" + b1}, attach)
}

func TestReplayIntent_DropsAttachNoLongerDesired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	_, b1 := fx.seedProject(t, 1)

	// no membership: the block is not in the desired set
	err := fx.eng.ReplayIntent(ctx, &model.OutboxIntent{
		ID: "i1", Op: OpAttachBlock, LettaAgentID: lettaID, BlockID: b1, UserID: userID,
	})
	require.NoError(t, err)

	attach, detach := fx.letta.calls()
	assert.Empty(t, attach)
	assert.Empty(t, detach)
}

func TestReplayIntent_ReplaysQueuedDetach(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	// a queued detach survives superseding cancellation only when the
	// deselection that produced it is still current
	err := fx.eng.ReplayIntent(ctx, &model.OutboxIntent{
		ID: "i1", Op: OpDetachBlock, LettaAgentID: lettaID, BlockID: b1, UserID: userID,
	})
	require.NoError(t, err)

	_, detach := fx.letta.calls()
	assert.Equal(t, []string{lettaID + "/" + b1}, detach)
}

func TestReplayIntent_NeverDetachesUserBlock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)

	err := fx.eng.ReplayIntent(ctx, &model.OutboxIntent{
		ID: "i1", Op: OpDetachBlock, LettaAgentID: lettaID, BlockID: "blk-user-1", UserID: userID,
	})
	require.NoError(t, err)

	_, detach := fx.letta.calls()
	assert.Empty(t, detach)
}

func TestReplayIntent_DropsIntentForReplacedAgent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	err := fx.eng.ReplayIntent(ctx, &model.OutboxIntent{
		ID: "i1", Op: OpAttachBlock, LettaAgentID: "letta-retired", BlockID: b1, UserID: userID,
	})
	require.NoError(t, err)

	attach, _ := fx.letta.calls()
	assert.Empty(t, attach)
}

func TestReplayIntent_UnknownOp(t *testing.T) {
	fx := newFixture(t)
	err := fx.eng.ReplayIntent(context.Background(), &model.OutboxIntent{
		ID: "i1", Op: "reticulate_splines", LettaAgentID: "letta-1", BlockID: "b", UserID: "u",
	})
	assert.Error(t, err)
}

func TestReconcile_ReadsMembershipsInsideCriticalSection(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, lettaID := fx.seedUser(t, 1)
	p1, b1 := fx.seedProject(t, 1)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, p1))

	// Hold the agent lock so the run cannot start its reads, then remove
	// the membership before releasing. The run must see the removal.
	unlock := fx.eng.locks.Lock(lettaID)

	done := make(chan error, 1)
	go func() { done <- fx.eng.Reconcile(ctx, userID) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, fx.store.Memberships().Remove(ctx, userID, p1))
	unlock()
	require.NoError(t, <-done)

	attach, _ := fx.letta.calls()
	assert.NotContains(t, attach, lettaID+"/"+b1)
}

func TestReconcile_ProjectWithoutBlockContributesNothing(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	userID, _ := fx.seedUser(t, 1)

	_, err := fx.store.Projects().Create(ctx, &model.Project{
		ID: "proj-nil", Name: "N", Status: model.ProjectActive,
	})
	require.NoError(t, err)
	require.NoError(t, fx.store.Memberships().Add(ctx, userID, "proj-nil"))

	require.NoError(t, fx.eng.Reconcile(ctx, userID))

	attach, detach := fx.letta.calls()
	assert.Empty(t, attach)
	assert.Empty(t, detach)
}
