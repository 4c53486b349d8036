package service

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// UniverseRepo persists product universes and per-user access grants.
// Adapted from the teacher's FolderRepository: a universe plays the
// partition role a folder played, generalised from per-user ownership to a
// shared, named label with an access list (§3, §4.5).
type UniverseRepo interface {
	Create(ctx context.Context, universe *model.ProductUniverse) error
	List(ctx context.Context) ([]model.ProductUniverse, error)
	GrantAccess(ctx context.Context, userID, universeID string, isDefault bool) error
	AccessibleTo(ctx context.Context, userID string) ([]model.ProductUniverse, error)
	DefaultFor(ctx context.Context, userID string) (*model.ProductUniverse, error)
}

// UniverseService exposes universe CRUD and access-grant operations to the
// HTTP handler layer.
type UniverseService struct {
	repo UniverseRepo
}

// NewUniverseService creates a UniverseService.
func NewUniverseService(repo UniverseRepo) *UniverseService {
	return &UniverseService{repo: repo}
}

// Create registers a new product universe.
func (s *UniverseService) Create(ctx context.Context, universe *model.ProductUniverse) error {
	if universe.Name == "" {
		return fmt.Errorf("service.Create: universe name is required")
	}
	if err := s.repo.Create(ctx, universe); err != nil {
		return fmt.Errorf("service.Create: %w", err)
	}
	return nil
}

// List returns every product universe.
func (s *UniverseService) List(ctx context.Context) ([]model.ProductUniverse, error) {
	universes, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service.List: %w", err)
	}
	return universes, nil
}

// GrantAccess gives userID visibility into universeID, optionally as their
// default (enforced unique by a partial index on user_universe_access).
func (s *UniverseService) GrantAccess(ctx context.Context, userID, universeID string, isDefault bool) error {
	if err := s.repo.GrantAccess(ctx, userID, universeID, isDefault); err != nil {
		return fmt.Errorf("service.GrantAccess: %w", err)
	}
	return nil
}

// AccessibleTo lists the universes a user may query, for scoping retrieval
// and the conversation-creation universe picker.
func (s *UniverseService) AccessibleTo(ctx context.Context, userID string) ([]model.ProductUniverse, error) {
	universes, err := s.repo.AccessibleTo(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.AccessibleTo: %w", err)
	}
	return universes, nil
}

// DefaultFor returns a user's default universe, or nil if none is set.
func (s *UniverseService) DefaultFor(ctx context.Context, userID string) (*model.ProductUniverse, error) {
	universe, err := s.repo.DefaultFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service.DefaultFor: %w", err)
	}
	return universe, nil
}
