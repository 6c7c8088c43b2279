package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/logging"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/repositories"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
)

// ProjectService manages projects.
type ProjectService interface {
	List(ctx context.Context) ([]models.Project, error)
	Get(ctx context.Context, projectID string) (*models.Project, error)

	// Create adds a project under the given group's partition.
	Create(ctx context.Context, groupID, title string) (*models.Project, error)

	Update(ctx context.Context, projectID, title string) (*models.Project, error)
	Delete(ctx context.Context, projectID string) error
}

type projectService struct {
	projects repositories.ProjectRepository
	groups   repositories.GroupRepository
	parts    repositories.ParticipationRepository
	store    routing.Store
	resolver *routing.Resolver
	alloc    Allocator
	logger   *zap.Logger
}

// NewProjectService creates the project service.
func NewProjectService(
	projects repositories.ProjectRepository,
	groups repositories.GroupRepository,
	parts repositories.ParticipationRepository,
	store routing.Store,
	resolver *routing.Resolver,
	alloc Allocator,
	logger *zap.Logger,
) ProjectService {
	return &projectService{
		projects: projects,
		groups:   groups,
		parts:    parts,
		store:    store,
		resolver: resolver,
		alloc:    alloc,
		logger:   logger,
	}
}

func (s *projectService) List(ctx context.Context) ([]models.Project, error) {
	return s.projects.ListAcrossSites(ctx)
}

func (s *projectService) Get(ctx context.Context, projectID string) (*models.Project, error) {
	site, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		if errors.Is(err, apperrors.ErrConnectivity) || errors.Is(err, apperrors.ErrNoAvailableSite) {
			s.logger.Warn("registry unreachable, searching all sites",
				zap.String("project_id", projectID),
				zap.String("error", logging.SanitizeError(err)),
			)
			return s.projects.FindAnywhere(ctx, projectID)
		}
		return nil, err
	}
	return s.projects.Get(ctx, site, projectID)
}

func (s *projectService) Create(ctx context.Context, groupID, title string) (*models.Project, error) {
	roomCode, err := routing.RoomCode(groupID)
	if err != nil {
		return nil, err
	}
	site, err := s.store.Lookup(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	if _, err := s.groups.Get(ctx, site, groupID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: group %q", apperrors.ErrForeignReference, groupID)
		}
		return nil, err
	}

	id, err := s.alloc.Allocate(ctx, site, roomCode, routing.TagProject)
	if err != nil {
		return nil, err
	}
	project := &models.Project{ID: id, Title: title}
	if err := s.projects.Insert(ctx, site, project); err != nil {
		return nil, err
	}

	s.logger.Info("project created",
		zap.String("project_id", id),
		zap.String("group_id", groupID),
		zap.String("site", string(site)),
	)
	return project, nil
}

func (s *projectService) Update(ctx context.Context, projectID, title string) (*models.Project, error) {
	site, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return nil, err
	}
	project := &models.Project{ID: projectID, Title: title}
	if err := s.projects.Update(ctx, site, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete removes the project and its participation rows. Those rows are
// colocated with the project, so one site covers them.
func (s *projectService) Delete(ctx context.Context, projectID string) error {
	site, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return err
	}
	if _, err := s.parts.DeleteByProject(ctx, site, projectID); err != nil {
		return err
	}
	return s.projects.Delete(ctx, site, projectID)
}
