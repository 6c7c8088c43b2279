package repositories

import (
	"context"
	"fmt"

	"github.com/labmesh-io/labmesh-engine/pkg/apperrors"
	"github.com/labmesh-io/labmesh-engine/pkg/models"
	"github.com/labmesh-io/labmesh-engine/pkg/sites"
)

// MemberRepository defines data access for members.
type MemberRepository interface {
	Get(ctx context.Context, preferred sites.SiteID, memberID string) (*models.Member, error)

	// FindAnywhere searches every available data site for a member id.
	// Used when the registry at the global site cannot be reached and the
	// identifier prefix cannot be resolved to a single site.
	FindAnywhere(ctx context.Context, memberID string) (*models.Member, error)

	// ListByPrefix reads every member whose identifier starts with prefix
	// at exactly site.
	ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Member, error)

	ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Member, error)

	Insert(ctx context.Context, site sites.SiteID, member *models.Member) error
	Update(ctx context.Context, site sites.SiteID, member *models.Member) error
	Delete(ctx context.Context, site sites.SiteID, memberID string) error

	// DeleteByPrefix removes every member under a partition prefix at
	// exactly site. Returns the number of rows removed.
	DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error)
}

type memberRepository struct {
	runner sites.QueryRunner
}

// NewMemberRepository creates a member repository over the routing plane.
func NewMemberRepository(runner sites.QueryRunner) MemberRepository {
	return &memberRepository{runner: runner}
}

func (r *memberRepository) Get(ctx context.Context, preferred sites.SiteID, memberID string) (*models.Member, error) {
	res, err := r.runner.Query(ctx, preferred,
		"SELECT member_id, full_name FROM members WHERE member_id = ?", memberID)
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if res.RowCount == 0 {
		return nil, fmt.Errorf("%w: member %q", apperrors.ErrNotFound, memberID)
	}
	return scanMember(res.Rows[0]), nil
}

func (r *memberRepository) FindAnywhere(ctx context.Context, memberID string) (*models.Member, error) {
	results := r.runner.FanOut(ctx,
		"SELECT member_id, full_name FROM members WHERE member_id = ?", []any{memberID})
	for _, sr := range results {
		if sr.Err != nil || sr.Result.RowCount == 0 {
			continue
		}
		return scanMember(sr.Result.Rows[0]), nil
	}
	return nil, fmt.Errorf("%w: member %q", apperrors.ErrNotFound, memberID)
}

func (r *memberRepository) ListByPrefix(ctx context.Context, site sites.SiteID, prefix string) ([]models.Member, error) {
	res, err := r.runner.QueryAt(ctx, site,
		"SELECT member_id, full_name FROM members WHERE member_id LIKE ? ORDER BY member_id", prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list members by prefix: %w", err)
	}
	return scanMembers(res.Rows), nil
}

func (r *memberRepository) ListAcrossSites(ctx context.Context, exclude ...sites.SiteID) ([]models.Member, error) {
	results := r.runner.FanOut(ctx,
		"SELECT member_id, full_name FROM members ORDER BY member_id", nil, exclude...)

	var members []models.Member
	for _, sr := range results {
		if sr.Err != nil {
			continue
		}
		members = append(members, scanMembers(sr.Result.Rows)...)
	}
	return members, nil
}

func (r *memberRepository) Insert(ctx context.Context, site sites.SiteID, member *models.Member) error {
	_, err := r.runner.Exec(ctx, site,
		"INSERT INTO members (member_id, full_name) VALUES (?, ?)",
		member.ID, member.FullName)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (r *memberRepository) Update(ctx context.Context, site sites.SiteID, member *models.Member) error {
	res, err := r.runner.Exec(ctx, site,
		"UPDATE members SET full_name = ? WHERE member_id = ?",
		member.FullName, member.ID)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: member %q", apperrors.ErrNotFound, member.ID)
	}
	return nil
}

func (r *memberRepository) Delete(ctx context.Context, site sites.SiteID, memberID string) error {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM members WHERE member_id = ?", memberID)
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: member %q", apperrors.ErrNotFound, memberID)
	}
	return nil
}

func (r *memberRepository) DeleteByPrefix(ctx context.Context, site sites.SiteID, prefix string) (int64, error) {
	res, err := r.runner.Exec(ctx, site,
		"DELETE FROM members WHERE member_id LIKE ?", prefix+"%")
	if err != nil {
		return 0, fmt.Errorf("delete members by prefix: %w", err)
	}
	return res.RowsAffected, nil
}

func scanMember(row map[string]any) *models.Member {
	return &models.Member{
		ID:       sites.StringField(row, "member_id"),
		FullName: sites.StringField(row, "full_name"),
	}
}

func scanMembers(rows []map[string]any) []models.Member {
	out := make([]models.Member, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanMember(row))
	}
	return out
}
