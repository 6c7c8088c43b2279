package repositories

import (
	"context"
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// GroupRepository defines data access for research groups.
type GroupRepository interface {
	// Get reads a group at preferred, failing over to another available
	// site when preferred is down.
	Get(ctx context.Context, preferred sites.SiteID, groupID string) (*models.Group, error)

	// GetByRoom reads the group owning a partition key at exactly site.
	GetByRoom(ctx context.Context, site sites.SiteID, roomCode string) (*models.Group, error)

	// ListAt reads every group stored at exactly site.
	ListAt(ctx context.Context, site sites.SiteID) ([]models.Group, error)

	// ListAcrossSites fans out over the available data sites and merges
	// partial results. Down sites are skipped.
	ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Group, error)

	Insert(ctx context.Context, site sites.SiteID, group *models.Group) error
	Update(ctx context.Context, site sites.SiteID, group *models.Group) error
	Delete(ctx context.Context, site sites.SiteID, groupID string) error
}

type groupRepository struct {
	runner sites.QueryRunner
}

// NewGroupRepository creates a group repository over the routing plane.
func NewGroupRepository(runner sites.QueryRunner) GroupRepository {
	return &groupRepository{runner: runner}
}

func (r *groupRepository) Get(ctx context.Context, preferred sites.SiteID, groupID string) (*models.Group, error) {
	res, err := r.runner.Query(ctx, preferred,
		"SELECT group_id, room_code, group_name FROM research_groups WHERE group_id = ?", groupID)
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	return scanGroup(res.Rows[0]), nil
}

func (r *groupRepository) GetByRoom(ctx context.Context, site sites.SiteID, roomCode string) (*models.Group, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT group_id, room_code, group_name FROM research_groups WHERE room_code = ?", roomCode)
	if err != nil {
		return nil, fmt.Errorf("get group by room: %w", err)
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: room %q", apperrors.ErrNotFound, roomCode)
	}
	return scanGroup(res.Rows[0]), nil
}

func (r *groupRepository) ListAt(ctx context.Context, site sites.SiteID) ([]models.Group, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT group_id, room_code, group_name FROM research_groups ORDER BY group_id")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return scanGroups(res.Rows), nil
}

func (r *groupRepository) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Group, error) {
	results := r.runner.FanOut(ctx,
		"SELECT group_id, room_code, group_name FROM research_groups ORDER BY group_id", nil, exclude...)

	var groups []models.Group
	for _, sr := range results {
		if sr.Err != nil {
			continue
		}
		groups = append(groups, scanGroups(sr.Result.Rows)...)
	}
	return groups, nil
}

func (r *groupRepository) Insert(ctx context.Context, site sites.SiteID, group *models.Group) error {
	_, err := r.runner.Exec(ctx, site,
		"INSERT INTO research_groups (group_id, room_code, group_name) VALUES (?, ?, ?)",
		group.ID, group.RoomCode, group.Name)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

func (r *groupRepository) Update(ctx context.Context, site sites.SiteID, group *models.Group) error {
	res, err := r.runner.Exec(ctx, site,
		"UPDATE research_groups SET room_code = ?, group_name = ? WHERE group_id = ?",
		group.RoomCode, group.Name, group.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: group %q", apperrors.ErrNotFound, group.ID)
	}
	return nil
}

func (r *groupRepository) Delete(ctx context.Context, site sites.SiteID, groupID string) error {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM research_groups WHERE group_id = ?", groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: group %q", apperrors.ErrNotFound, groupID)
	}
	return nil
}

func scanGroup(row map[string]any) *models.Group {
	return &models.Group{
		ID:       sites.StringField(row, "group_id"),
		RoomCode: sites.StringField(row, "room_code"),
		Name:     sites.StringField(row, "group_name"),
	}
}

func scanGroups(rows []map[string]any) []models.Group {
	out := make([]models.Group, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanGroup(row))
	}
	return out
}
