// Package services implements the operations the HTTP layer exposes. Each
// service resolves routing up front, then drives the repositories against
// explicit sites; handlers never see sites or dialects.
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
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// Mover is the slice of the migration engine the group service needs.
type Mover interface {
	Move(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error)
}

// Allocator is the slice of the identifier allocator the services need.
type Allocator interface {
	Allocate(ctx context.Context, site sites.SiteID, roomCode, tag string) (string, error)
}

// GroupService manages research groups and their partition assignments.
type GroupService interface {
	List(ctx context.Context) ([]models.Group, error)
	Get(ctx context.Context, groupID string) (*models.Group, error)
	Create(ctx context.Context, roomCode, name string) (*models.Group, error)

	// Update renames a group, or moves its whole partition when newRoom
	// differs from the group's current room.
	Update(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error)

	Delete(ctx context.Context, groupID string) error

	// Rooms lists the partition registry.
	Rooms(ctx context.Context) ([]models.RouteEntry, error)

	// AssignRoom registers or re-points a partition key in the registry.
	AssignRoom(ctx context.Context, roomCode string, site sites.SiteID) error

	// ReleaseRoom removes an empty partition key from the registry.
	ReleaseRoom(ctx context.Context, roomCode string) error
}

type groupService struct {
	groups   repositories.GroupRepository
	members  repositories.MemberRepository
	projects repositories.ProjectRepository
	store    routing.Store
	resolver *routing.Resolver
	alloc    Allocator
	mover    Mover
	logger   *zap.Logger
}

// NewGroupService creates the group service.
func NewGroupService(
	groups repositories.GroupRepository,
	members repositories.MemberRepository,
	projects repositories.ProjectRepository,
	store routing.Store,
	resolver *routing.Resolver,
	alloc Allocator,
	mover Mover,
	logger *zap.Logger,
) GroupService {
	return &groupService{
		groups:   groups,
		members:  members,
		projects: projects,
		store:    store,
		resolver: resolver,
		alloc:    alloc,
		mover:    mover,
		logger:   logger,
	}
}

func (s *groupService) List(ctx context.Context) ([]models.Group, error) {
	return s.groups.ListAcrossSites(ctx)
}

func (s *groupService) Get(ctx context.Context, groupID string) (*models.Group, error) {
	site, err := s.resolver.ResolveSite(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.groups.Get(ctx, site, groupID)
}

func (s *groupService) Create(ctx context.Context, roomCode, name string) (*models.Group, error) {
	if err := routing.ValidateRoomCode(roomCode); err != nil {
		return nil, err
	}
	site, err := s.store.Lookup(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	if _, err := s.groups.GetByRoom(ctx, site, roomCode); err == nil {
		return nil, fmt.Errorf("%w: room %q already has a group", apperrors.ErrDuplicateKey, roomCode)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	id, err := s.alloc.Allocate(ctx, site, roomCode, routing.TagGroup)
	if err != nil {
		return nil, err
	}
	group := &models.Group{ID: id, RoomCode: roomCode, Name: name}
	if err := s.groups.Insert(ctx, site, group); err != nil {
		return nil, err
	}

	s.logger.Info("group created",
		zap.String("group_id", id),
		zap.String("room_code", roomCode),
		zap.String("site", string(site)),
	)
	return group, nil
}

func (s *groupService) Update(ctx context.Context, groupID, newRoom, newName string) (*models.Group, error) {
	currentRoom, err := routing.RoomCode(groupID)
	if err != nil {
		return nil, err
	}

	if newRoom == "" || newRoom == currentRoom {
		// Display change only; the partition stays where it is.
		site, err := s.store.Lookup(ctx, currentRoom)
		if err != nil {
			return nil, err
		}
		group := &models.Group{ID: groupID, RoomCode: currentRoom, Name: newName}
		if err := s.groups.Update(ctx, site, group); err != nil {
			return nil, err
		}
		return group, nil
	}

	if err := routing.ValidateRoomCode(newRoom); err != nil {
		return nil, err
	}
	return s.mover.Move(ctx, groupID, newRoom, newName)
}

func (s *groupService) Delete(ctx context.Context, groupID string) error {
	roomCode, err := routing.RoomCode(groupID)
	if err != nil {
		return err
	}
	site, err := s.store.Lookup(ctx, roomCode)
	if err != nil {
		return err
	}

	// A group with members or projects still under its partition cannot be
	// deleted; those rows would become unroutable orphans.
	members, err := s.members.ListByPrefix(ctx, site, roomCode+routing.TagMember)
	if err != nil {
		return err
	}
	projects, err := s.projects.ListByPrefix(ctx, site, roomCode+routing.TagProject)
	if err != nil {
		return err
	}
	if len(members) > 0 || len(projects) > 0 {
		return fmt.Errorf("%w: group %q still owns %d members and %d projects",
			apperrors.ErrForeignReference, groupID, len(members), len(projects))
	}

	return s.groups.Delete(ctx, site, groupID)
}

func (s *groupService) Rooms(ctx context.Context) ([]models.RouteEntry, error) {
	return s.store.List(ctx)
}

func (s *groupService) AssignRoom(ctx context.Context, roomCode string, site sites.SiteID) error {
	if err := routing.ValidateRoomCode(roomCode); err != nil {
		return err
	}
	if site == sites.SiteGlobal {
		return fmt.Errorf("%w: partitions cannot live on the routing site", apperrors.ErrInvalidSite)
	}
	return s.store.Upsert(ctx, roomCode, site)
}

func (s *groupService) ReleaseRoom(ctx context.Context, roomCode string) error {
	site, err := s.store.Lookup(ctx, roomCode)
	if err != nil {
		return err
	}
	if _, err := s.groups.GetByRoom(ctx, site, roomCode); err == nil {
		return fmt.Errorf("%w: room %q still has a group", apperrors.ErrForeignReference, roomCode)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return s.store.Remove(ctx, roomCode)
}
