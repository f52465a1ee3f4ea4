package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hivehq/hive/internal/letta"
	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/reconcile"
	"github.com/hivehq/hive/internal/store"
)

// ProjectService manages projects and delegates membership changes to
// the reconciliation engine.
type ProjectService struct {
	store  store.Store
	letta  letta.Service
	engine *reconcile.Engine
	log    zerolog.Logger
}

func NewProjectService(s store.Store, l letta.Service, e *reconcile.Engine, log zerolog.Logger) *ProjectService {
	return &ProjectService{store: s, letta: l, engine: e, log: log}
}

// CreateProject creates the shared external memory block first, then
// the local row. Block creation is best-effort: on failure the project
// is persisted with no block and flagged in the logs as needing repair,
// rather than failing the whole operation.
func (s *ProjectService) CreateProject(ctx context.Context, name, description string, status model.ProjectStatus) (*model.Project, error) {
	if status == "" {
		status = model.ProjectActive
	}

	var blockID *string
	id, err := s.letta.CreateMemoryBlock(ctx,
		fmt.Sprintf("Project: %s", name),
		fmt.Sprintf("Project: %s\nDescription: %s", name, orDefault(description, "No description provided")))
	if err != nil {
		s.log.Error().Err(err).Str("project", name).
			Msg("external memory block creation failed; project needs repair")
	} else {
		blockID = &id
	}

	return s.store.Projects().Create(ctx, &model.Project{
		ID:            uuid.New().String(),
		Name:          name,
		Description:   description,
		Status:        status,
		MemoryBlockID: blockID,
	})
}

func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return s.store.Projects().Get(ctx, projectID)
}

func (s *ProjectService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return s.store.Projects().List(ctx)
}

func (s *ProjectService) ListProjectsByUser(ctx context.Context, userID string) ([]*model.Project, error) {
	return s.store.Projects().ListByUser(ctx, userID)
}

// AssignUser adds the membership and converges the user's agent.
func (s *ProjectService) AssignUser(ctx context.Context, userID, projectID string) error {
	if _, err := s.store.Users().Get(ctx, userID); err != nil {
		return err
	}
	return s.engine.AssignProject(ctx, userID, projectID)
}

// RemoveUser removes the membership and converges the user's agent.
func (s *ProjectService) RemoveUser(ctx context.Context, userID, projectID string) error {
	return s.engine.RemoveProject(ctx, userID, projectID)
}

// SetSelection converges the user's agent onto the given project
// selection from the chat sidebar.
func (s *ProjectService) SetSelection(ctx context.Context, userID string, projectIDs []string) error {
	return s.engine.SetSelection(ctx, userID, projectIDs)
}

// AttachedBlocks reports the agent's currently attached block ids as
// seen by the external service.
func (s *ProjectService) AttachedBlocks(ctx context.Context, userID string) ([]string, error) {
	return s.engine.AttachedBlocks(ctx, userID)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
