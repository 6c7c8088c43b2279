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

// MemberService manages members.
type MemberService interface {
	List(ctx context.Context) ([]models.Member, error)
	Get(ctx context.Context, memberID string) (*models.Member, error)

	// Create adds a member under the given group's partition.
	Create(ctx context.Context, groupID, fullName string) (*models.Member, error)

	Update(ctx context.Context, memberID, fullName string) (*models.Member, error)
	Delete(ctx context.Context, memberID string) error
}

type memberService struct {
	members  repositories.MemberRepository
	groups   repositories.GroupRepository
	parts    repositories.ParticipationRepository
	store    routing.Store
	resolver *routing.Resolver
	alloc    Allocator
	logger   *zap.Logger
}

// NewMemberService creates the member service.
func NewMemberService(
	members repositories.MemberRepository,
	groups repositories.GroupRepository,
	parts repositories.ParticipationRepository,
	store routing.Store,
	resolver *routing.Resolver,
	alloc Allocator,
	logger *zap.Logger,
) MemberService {
	return &memberService{
		members:  members,
		groups:   groups,
		parts:    parts,
		store:    store,
		resolver: resolver,
		alloc:    alloc,
		logger:   logger,
	}
}

func (s *memberService) List(ctx context.Context) ([]models.Member, error) {
	return s.members.ListAcrossSites(ctx)
}

// Get resolves the member's site from its identifier prefix. When the
// routing site itself is unreachable the prefix cannot be resolved, so the
// lookup degrades to a search across every available data site rather than
// failing outright.
func (s *memberService) Get(ctx context.Context, memberID string) (*models.Member, error) {
	site, err := s.resolver.ResolveSite(ctx, memberID)
	if err != nil {
		if errors.Is(err, apperrors.ErrConnectivity) || errors.Is(err, apperrors.ErrNoAvailableSite) {
			s.logger.Warn("registry unreachable, searching all sites",
				zap.String("member_id", memberID),
				zap.String("error", logging.SanitizeError(err)),
			)
			return s.members.FindAnywhere(ctx, memberID)
		}
		return nil, err
	}
	return s.members.Get(ctx, site, memberID)
}

func (s *memberService) Create(ctx context.Context, groupID, fullName string) (*models.Member, error) {
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

	id, err := s.alloc.Allocate(ctx, site, roomCode, routing.TagMember)
	if err != nil {
		return nil, err
	}
	member := &models.Member{ID: id, FullName: fullName}
	if err := s.members.Insert(ctx, site, member); err != nil {
		return nil, err
	}

	s.logger.Info("member created",
		zap.String("member_id", id),
		zap.String("group_id", groupID),
		zap.String("site", string(site)),
	)
	return member, nil
}

func (s *memberService) Update(ctx context.Context, memberID, fullName string) (*models.Member, error) {
	site, err := s.resolver.ResolveSite(ctx, memberID)
	if err != nil {
		return nil, err
	}
	member := &models.Member{ID: memberID, FullName: fullName}
	if err := s.members.Update(ctx, site, member); err != nil {
		return nil, err
	}
	return member, nil
}

// Delete removes the member and every participation row referencing them.
// Participation rows live with their project's partition, so the sweep
// covers every site the registry knows about.
func (s *memberService) Delete(ctx context.Context, memberID string) error {
	site, err := s.resolver.ResolveSite(ctx, memberID)
	if err != nil {
		return err
	}

	registrySites, err := s.store.DistinctSites(ctx)
	if err != nil {
		return err
	}
	for _, rs := range registrySites {
		if _, err := s.parts.DeleteByMember(ctx, rs, memberID); err != nil {
			return fmt.Errorf("remove participations at %s: %w", rs, err)
		}
	}

	return s.members.Delete(ctx, site, memberID)
}
