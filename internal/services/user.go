package services

import (
	"context"
	"fmt"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store"
)

// UserService handles profile and questionnaire operations.
type UserService struct {
	store store.Store
}

func NewUserService(s store.Store) *UserService { return &UserService{store: s} }

func (s *UserService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	return s.store.Users().Get(ctx, userID)
}

// SubmitQuestionnaire stores the user's self-description. The
// description seeds the persona of the agent created right after
// onboarding; it is set once and overwritten on resubmission.
func (s *UserService) SubmitQuestionnaire(ctx context.Context, userID, description string) error {
	return s.store.Users().UpdateDescription(ctx, userID, description)
}

func (s *UserService) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.store.Users().List(ctx)
}

// Stats aggregates workspace counts for the admin dashboard.
func (s *UserService) Stats(ctx context.Context) (*model.AdminStats, error) {
	users, err := s.store.Users().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	agents, err := s.store.Agents().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count agents: %w", err)
	}
	projects, err := s.store.Projects().Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	active, err := s.store.Projects().CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count active projects: %w", err)
	}
	return &model.AdminStats{
		TotalUsers:     users,
		TotalAgents:    agents,
		ActiveProjects: active,
		TotalProjects:  projects,
	}, nil
}
