package services

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/reconcile"
	"github.com/hivehq/hive/internal/store"
	"github.com/hivehq/hive/internal/store/sqlite"
)

type fakeLetta struct {
	blockErr    error
	labels      []string
	lastContent string
}

func (f *fakeLetta) CreateMemoryBlock(ctx context.Context, label, content string) (string, error) {
	if f.blockErr != nil {
		return "", f.blockErr
	}
	f.labels = append(f.labels, label)
	f.lastContent = content
	return "blk-" + label, nil
}
func (f *fakeLetta) CreateAgent(ctx context.Context, req letta.CreateAgentRequest) (string, error) {
	return "", nil
}
func (f *fakeLetta) AttachBlock(ctx context.Context, agentID, blockID string) error  { return nil }
func (f *fakeLetta) DetachBlock(ctx context.Context, agentID, blockID string) error  { return nil }
func (f *fakeLetta) ListAttachedBlocks(ctx context.Context, agentID string) ([]string, error) {
	return nil, nil
}
func (f *fakeLetta) SendMessage(ctx context.Context, agentID, text string) (string, error) {
	return "", nil
}

func setup(t *testing.T) (store.Store, *fakeLetta, *ProjectService) {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fl := &fakeLetta{}
	eng := reconcile.NewEngine(st, fl, zerolog.Nop())
	return st, fl, NewProjectService(st, fl, eng, zerolog.Nop())
}

func TestCreateProject_CreatesBlockWithProjectLabel(t *testing.T) {
	_, fl, svc := setup(t)

	p, err := svc.CreateProject(context.Background(), "Apollo", "migration work", "")
	require.NoError(t, err)
	assert.Equal(t, model.ProjectActive, p.Status, "status defaults to active")
	require.NotNil(t, p.MemoryBlockID)
	assert.Equal(t, []string{"Project: Apollo"}, fl.labels)
	assert.Contains(t, fl.lastContent, "Description: migration work")
}

func TestCreateProject_EmptyDescriptionPlaceholder(t *testing.T) {
	_, fl, svc := setup(t)

	_, err := svc.CreateProject(context.Background(), "Apollo", "", model.ProjectPaused)
	require.NoError(t, err)
	assert.Contains(t, fl.lastContent, "No description provided")
}

func TestCreateProject_BlockFailureStillPersistsProject(t *testing.T) {
	st, fl, svc := setup(t)
	fl.blockErr = errors.New("letta down")

	p, err := svc.CreateProject(context.Background(), "Apollo", "d", "")
	require.NoError(t, err, "block creation is best-effort")
	assert.Nil(t, p.MemoryBlockID)

	row, err := st.Projects().Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, row.MemoryBlockID)
}

func TestAssignUser_UnknownUser(t *testing.T) {
	_, _, svc := setup(t)
	p, err := svc.CreateProject(context.Background(), "Apollo", "d", "")
	require.NoError(t, err)

	err = svc.AssignUser(context.Background(), "missing", p.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStats(t *testing.T) {
	st, _, svc := setup(t)
	ctx := context.Background()

	_, err := st.Users().Create(ctx, &model.User{ID: "u1", Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	_, err = st.Agents().Create(ctx, &model.Agent{ID: "a1", UserID: "u1", Name: "A", Personality: "p", IsActive: true})
	require.NoError(t, err)
	_, err = st.Agents().Create(ctx, &model.Agent{ID: "a2", UserID: "u1", Name: "B", Personality: "p", IsActive: false})
	require.NoError(t, err)
	_, err = svc.CreateProject(ctx, "Apollo", "d", model.ProjectActive)
	require.NoError(t, err)
	_, err = svc.CreateProject(ctx, "Borealis", "d", model.ProjectCompleted)
	require.NoError(t, err)

	users := NewUserService(st)
	stats, err := users.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &model.AdminStats{
		TotalUsers:     1,
		TotalAgents:    1,
		ActiveProjects: 1,
		TotalProjects:  2,
	}, stats)
}
