package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/repositories"
	"github.com/labmesh-io/labmesh-engine/pkg/routing"
)

// ParticipationService manages member-project links. Rows are always stored
// with the project's partition: a project's roster is then one single-site
// query, while a member's project list fans out.
type ParticipationService interface {
	Add(ctx context.Context, memberID, projectID string) (*models.Participation, error)
	Get(ctx context.Context, memberID, projectID string) (*models.Participation, error)
	Delete(ctx context.Context, memberID, projectID string) error
	ListByMember(ctx context.Context, memberID string) ([]models.Participation, error)
	ListByProject(ctx context.Context, projectID string) ([]models.Participation, error)
}

type participationService struct {
	parts    repositories.ParticipationRepository
	members  repositories.MemberRepository
	projects repositories.ProjectRepository
	resolver *routing.Resolver
	logger   *zap.Logger
}

// NewParticipationService creates the participation service.
func NewParticipationService(
	parts repositories.ParticipationRepository,
	members repositories.MemberRepository,
	projects repositories.ProjectRepository,
	resolver *routing.Resolver,
	logger *zap.Logger,
) ParticipationService {
	return &participationService{
		parts:    parts,
		members:  members,
		projects: projects,
		resolver: resolver,
		logger:   logger,
	}
}

func (s *participationService) Add(ctx context.Context, memberID, projectID string) (*models.Participation, error) {
	projectSite, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.projects.Get(ctx, projectSite, projectID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: project %q", apperrors.ErrForeignReference, projectID)
		}
		return nil, err
	}

	memberSite, err := s.resolver.ResolveSite(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := s.members.Get(ctx, memberSite, memberID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: member %q", apperrors.ErrForeignReference, memberID)
		}
		return nil, err
	}

	p := &models.Participation{MemberID: memberID, ProjectID: projectID}
	if err := s.parts.Insert(ctx, projectSite, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *participationService) Get(ctx context.Context, memberID, projectID string) (*models.Participation, error) {
	projectSite, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.parts.Get(ctx, projectSite, memberID, projectID)
}

func (s *participationService) Delete(ctx context.Context, memberID, projectID string) error {
	projectSite, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return err
	}
	return s.parts.Delete(ctx, projectSite, memberID, projectID)
}

func (s *participationService) ListByMember(ctx context.Context, memberID string) ([]models.Participation, error) {
	if _, err := routing.RoomCode(memberID); err != nil {
		return nil, err
	}
	return s.parts.ListByMemberAcrossSites(ctx, memberID)
}

func (s *participationService) ListByProject(ctx context.Context, projectID string) ([]models.Participation, error) {
	projectSite, err := s.resolver.ResolveSite(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.parts.ListByProject(ctx, projectSite, projectID)
}
